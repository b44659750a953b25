package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/opencode-ai/chatstream/internal/cache"
	"github.com/opencode-ai/chatstream/internal/retry"
	"github.com/opencode-ai/chatstream/pkg/types"
)

const (
	// DefaultEndpoint targets the local mock server.
	DefaultEndpoint = "http://localhost:8787/api/generate"
	// DefaultPollInterval applies when a message store is configured.
	DefaultPollInterval = 2 * time.Second
	// DefaultPort is the mock server port.
	DefaultPort = 8787
	// DefaultChunkDelay paces echoed replies of the mock server.
	DefaultChunkDelay = 40 * time.Millisecond
)

// Settings is a fully defaulted and validated view of a Config.
type Settings struct {
	Endpoint     string
	Headers      map[string]string
	RequestMode  string
	Policy       retry.Policy
	Cache        cache.Config
	MessageStore string
	SessionID    string
	PollInterval time.Duration
	LogLevel     string
	LogToFile    bool
	Port         int
	ChunkDelay   time.Duration
}

// Resolve applies defaults to cfg. Cache paths default under paths.Cache.
func Resolve(cfg *types.Config, paths *Paths) (*Settings, error) {
	if cfg == nil {
		cfg = &types.Config{}
	}
	if paths == nil {
		paths = GetPaths()
	}

	s := &Settings{
		Endpoint:     cfg.Endpoint,
		Headers:      cfg.Headers,
		RequestMode:  cfg.RequestMode,
		Policy:       retry.DefaultPolicy(),
		Cache:        cache.Config{Backend: cache.BackendFile, Dir: paths.Cache, Key: cache.DefaultKey},
		PollInterval: DefaultPollInterval,
		LogLevel:     "info",
		Port:         DefaultPort,
		ChunkDelay:   DefaultChunkDelay,
	}

	if s.Endpoint == "" {
		s.Endpoint = DefaultEndpoint
	}
	if err := checkURL("endpoint", s.Endpoint); err != nil {
		return nil, err
	}

	switch s.RequestMode {
	case "":
		s.RequestMode = "latest"
	case "latest", "full":
	default:
		return nil, fmt.Errorf("requestMode: unknown mode %q", s.RequestMode)
	}

	if r := cfg.Retry; r != nil {
		if r.MaxRetries != nil {
			if *r.MaxRetries < 0 {
				return nil, fmt.Errorf("retry.maxRetries: must not be negative")
			}
			s.Policy.MaxRetries = *r.MaxRetries
		}
		if r.BaseDelayMs != nil {
			if *r.BaseDelayMs <= 0 {
				return nil, fmt.Errorf("retry.baseDelayMs: must be positive")
			}
			s.Policy.BaseDelay = time.Duration(*r.BaseDelayMs) * time.Millisecond
		}
		if r.RetryableStatus != nil {
			s.Policy.RetryableStatus = r.RetryableStatus
		}
	}

	if c := cfg.Cache; c != nil {
		if c.Backend != "" {
			s.Cache.Backend = c.Backend
		}
		if c.Dir != "" {
			s.Cache.Dir = c.Dir
		}
		if c.Key != "" {
			s.Cache.Key = c.Key
		}
	}
	switch s.Cache.Backend {
	case cache.BackendFile, cache.BackendSQLite, cache.BackendMemory, cache.BackendNone:
	default:
		return nil, fmt.Errorf("cache.backend: unknown backend %q", s.Cache.Backend)
	}

	if m := cfg.MessageStore; m != nil && m.URL != "" {
		if err := checkURL("messageStore.url", m.URL); err != nil {
			return nil, err
		}
		s.MessageStore = m.URL
		s.SessionID = m.SessionID
		if m.PollIntervalMs > 0 {
			s.PollInterval = time.Duration(m.PollIntervalMs) * time.Millisecond
		}
	}

	if l := cfg.Log; l != nil {
		if l.Level != "" {
			s.LogLevel = l.Level
		}
		s.LogToFile = l.ToFile
	}

	if srv := cfg.Server; srv != nil {
		if srv.Port != 0 {
			s.Port = srv.Port
		}
		if srv.ChunkDelayMs != 0 {
			s.ChunkDelay = time.Duration(srv.ChunkDelayMs) * time.Millisecond
		}
	}
	return s, nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme in %q", field, raw)
	}
	return nil
}
