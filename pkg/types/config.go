package types

// Config represents the chatstream configuration.
// Files may be JSON, JSONC or YAML; every field is optional.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Endpoint is the URL of the generation endpoint.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Headers are sent with every generation request.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// RequestMode is "latest" or "full".
	RequestMode string `json:"requestMode,omitempty" yaml:"requestMode,omitempty"`

	Retry        *RetryConfig        `json:"retry,omitempty" yaml:"retry,omitempty"`
	Cache        *CacheConfig        `json:"cache,omitempty" yaml:"cache,omitempty"`
	MessageStore *MessageStoreConfig `json:"messageStore,omitempty" yaml:"messageStore,omitempty"`
	Log          *LogConfig          `json:"log,omitempty" yaml:"log,omitempty"`
	Server       *ServerConfig       `json:"server,omitempty" yaml:"server,omitempty"`
}

// RetryConfig configures the backoff policy. Nil fields keep their defaults,
// so a file can set MaxRetries to 0.
type RetryConfig struct {
	MaxRetries      *int  `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty"`
	BaseDelayMs     *int  `json:"baseDelayMs,omitempty" yaml:"baseDelayMs,omitempty"`
	RetryableStatus []int `json:"retryableStatus,omitempty" yaml:"retryableStatus,omitempty"`
}

// CacheConfig selects the local cache slot.
type CacheConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"` // "file"|"sqlite"|"memory"|"none"
	Dir     string `json:"dir,omitempty" yaml:"dir,omitempty"`
	Key     string `json:"key,omitempty" yaml:"key,omitempty"`
}

// MessageStoreConfig enables remote persistence of messages.
type MessageStoreConfig struct {
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
	SessionID      string `json:"sessionID,omitempty" yaml:"sessionID,omitempty"`
	PollIntervalMs int    `json:"pollIntervalMs,omitempty" yaml:"pollIntervalMs,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`
	ToFile bool   `json:"toFile,omitempty" yaml:"toFile,omitempty"`
}

// ServerConfig configures the local mock server.
type ServerConfig struct {
	Port         int `json:"port,omitempty" yaml:"port,omitempty"`
	ChunkDelayMs int `json:"chunkDelayMs,omitempty" yaml:"chunkDelayMs,omitempty"`
}
