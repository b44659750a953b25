// Package config provides configuration loading, merging, and path management
// for chatstream.
//
// # Configuration Loading
//
// Load merges configuration from several sources, later sources overriding
// earlier ones:
//
//  1. Global config (CHATSTREAM_CONFIG_DIR, or ~/.config/chatstream/)
//  2. Project config (<dir>/chatstream.* and <dir>/.chatstream/chatstream.*)
//  3. CHATSTREAM_CONFIG file
//  4. CHATSTREAM_CONFIG_CONTENT inline JSON or YAML
//  5. Environment variables (CHATSTREAM_ENDPOINT, CHATSTREAM_MAX_RETRIES, ...)
//
// # Supported Formats
//
// Each directory is searched for chatstream.json, chatstream.jsonc,
// chatstream.yaml and chatstream.yml. JSONC comments are stripped with
// tidwall/jsonc; YAML is parsed with gopkg.in/yaml.v3.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable value
//   - {file:path} expands to the file contents, escaped for a quoted string
//
// Relative {file:} paths resolve against the directory of the config file;
// ~/ expands to the home directory.
//
// # Resolution
//
// Resolve turns a merged Config into Settings with every default filled in
// and every value validated, ready to construct the chat store, the cache
// slot and the mock server.
//
// # Paths
//
// GetPaths returns XDG base directories under a "chatstream" subdirectory,
// honoring XDG_DATA_HOME, XDG_CONFIG_HOME, XDG_CACHE_HOME and XDG_STATE_HOME.
package config
