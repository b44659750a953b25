package config

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/chatstream/pkg/types"
)

// Environment variables read by Load.
const (
	EnvConfig          = "CHATSTREAM_CONFIG"
	EnvConfigContent   = "CHATSTREAM_CONFIG_CONTENT"
	EnvConfigDir       = "CHATSTREAM_CONFIG_DIR"
	EnvEndpoint        = "CHATSTREAM_ENDPOINT"
	EnvMessageStoreURL = "CHATSTREAM_MESSAGE_STORE_URL"
	EnvCacheBackend    = "CHATSTREAM_CACHE_BACKEND"
	EnvMaxRetries      = "CHATSTREAM_MAX_RETRIES"
	EnvBaseDelayMs     = "CHATSTREAM_BASE_DELAY_MS"
	EnvLogLevel        = "CHATSTREAM_LOG_LEVEL"
)

// configNames are the file names tried in each config directory, in order.
var configNames = []string{"chatstream.json", "chatstream.jsonc", "chatstream.yaml", "chatstream.yml"}

// Load loads configuration from multiple sources (priority order):
// 1. Global config (CHATSTREAM_CONFIG_DIR or ~/.config/chatstream/)
// 2. Project config (<directory>/ and <directory>/.chatstream/)
// 3. CHATSTREAM_CONFIG file
// 4. CHATSTREAM_CONFIG_CONTENT inline JSON or YAML
// 5. Environment variables
//
// Missing files are skipped; a file that exists but does not parse is an error.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		err = loadConfigFile(path, config, baseDir)
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("config %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var dirs []string
	dirs = append(dirs, GetConfigDir())
	if directory != "" {
		dirs = append(dirs, directory, filepath.Join(directory, ".chatstream"))
	}
	for _, dir := range dirs {
		for _, name := range configNames {
			if err := loadOnce(filepath.Join(dir, name), dir); err != nil {
				return nil, err
			}
		}
	}

	if configPath := os.Getenv(EnvConfig); configPath != "" {
		if err := loadOnce(configPath, filepath.Dir(configPath)); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv(EnvConfigContent); content != "" {
		var inline types.Config
		if err := decode([]byte(content), "", &inline); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvConfigContent, err)
		}
		mergeConfig(config, &inline)
	}

	// Environment variables (highest priority)
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fileConfig types.Config
	if err := decode(interpolate(data, baseDir), filepath.Ext(path), &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// decode parses YAML for .yaml/.yml files and JSONC otherwise. Content
// without an extension is treated as JSON when it starts with '{'.
func decode(data []byte, ext string, out *types.Config) error {
	switch ext {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, out)
	case "":
		if trimmed := strings.TrimSpace(string(data)); !strings.HasPrefix(trimmed, "{") {
			return yaml.Unmarshal(data, out)
		}
	}
	return json.Unmarshal(jsonc.ToJSON(data), out)
}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)

	// jsonEscaper makes file contents safe inside a quoted string.
	jsonEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\r", `\r`, "\t", `\t`)
)

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return jsonEscaper.Replace(strings.TrimSpace(string(content)))
	})

	return []byte(str)
}

// mergeConfig merges source config into target. Sections merge field by
// field; header maps merge key by key.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Endpoint != "" {
		target.Endpoint = source.Endpoint
	}
	if source.RequestMode != "" {
		target.RequestMode = source.RequestMode
	}
	if source.Headers != nil {
		if target.Headers == nil {
			target.Headers = make(map[string]string)
		}
		maps.Copy(target.Headers, source.Headers)
	}

	if r := source.Retry; r != nil {
		if target.Retry == nil {
			target.Retry = &types.RetryConfig{}
		}
		if r.MaxRetries != nil {
			target.Retry.MaxRetries = r.MaxRetries
		}
		if r.BaseDelayMs != nil {
			target.Retry.BaseDelayMs = r.BaseDelayMs
		}
		if r.RetryableStatus != nil {
			target.Retry.RetryableStatus = r.RetryableStatus
		}
	}

	if c := source.Cache; c != nil {
		if target.Cache == nil {
			target.Cache = &types.CacheConfig{}
		}
		if c.Backend != "" {
			target.Cache.Backend = c.Backend
		}
		if c.Dir != "" {
			target.Cache.Dir = c.Dir
		}
		if c.Key != "" {
			target.Cache.Key = c.Key
		}
	}

	if m := source.MessageStore; m != nil {
		if target.MessageStore == nil {
			target.MessageStore = &types.MessageStoreConfig{}
		}
		if m.URL != "" {
			target.MessageStore.URL = m.URL
		}
		if m.SessionID != "" {
			target.MessageStore.SessionID = m.SessionID
		}
		if m.PollIntervalMs != 0 {
			target.MessageStore.PollIntervalMs = m.PollIntervalMs
		}
	}

	if l := source.Log; l != nil {
		if target.Log == nil {
			target.Log = &types.LogConfig{}
		}
		if l.Level != "" {
			target.Log.Level = l.Level
		}
		if l.ToFile {
			target.Log.ToFile = true
		}
	}

	if s := source.Server; s != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		if s.Port != 0 {
			target.Server.Port = s.Port
		}
		if s.ChunkDelayMs != 0 {
			target.Server.ChunkDelayMs = s.ChunkDelayMs
		}
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) error {
	if v := os.Getenv(EnvEndpoint); v != "" {
		config.Endpoint = v
	}

	if v := os.Getenv(EnvMessageStoreURL); v != "" {
		if config.MessageStore == nil {
			config.MessageStore = &types.MessageStoreConfig{}
		}
		config.MessageStore.URL = v
	}

	if v := os.Getenv(EnvCacheBackend); v != "" {
		if config.Cache == nil {
			config.Cache = &types.CacheConfig{}
		}
		config.Cache.Backend = v
	}

	for _, o := range []struct {
		env string
		set func(*types.RetryConfig, int)
	}{
		{EnvMaxRetries, func(r *types.RetryConfig, n int) { r.MaxRetries = &n }},
		{EnvBaseDelayMs, func(r *types.RetryConfig, n int) { r.BaseDelayMs = &n }},
	} {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", o.env, v)
		}
		if config.Retry == nil {
			config.Retry = &types.RetryConfig{}
		}
		o.set(config.Retry, n)
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		if config.Log == nil {
			config.Log = &types.LogConfig{}
		}
		config.Log.Level = v
	}
	return nil
}

// Save saves the configuration to a file, as YAML when the extension says so.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the global config directory: CHATSTREAM_CONFIG_DIR
// when set, the XDG location otherwise.
func GetConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	return GetPaths().Config
}
