// Package cache keeps a best-effort local copy of the conversation history so
// it survives a reload. Every failure is logged and swallowed: the cache can
// never fail an exchange.
package cache

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// ErrEmpty is returned by Slot.Read when nothing has been stored.
var ErrEmpty = errors.New("cache slot empty")

// Slot is a single named blob of bytes in some persistent medium.
type Slot interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Remove(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendNone   = "none"
)

// Config selects and locates a slot.
type Config struct {
	Backend string // file | sqlite | memory | none
	Dir     string // data directory for file and sqlite backends
	Key     string // slot key, one per conversation
}

// DefaultKey is the slot key used when Config.Key is empty.
const DefaultKey = "default"

// Open creates the slot described by cfg.
func Open(cfg Config) (Slot, error) {
	key := cfg.Key
	if key == "" {
		key = DefaultKey
	}

	switch cfg.Backend {
	case "", BackendFile:
		if cfg.Dir == "" {
			return nil, errors.New("file cache requires a data directory")
		}
		return NewFileSlot(cfg.Dir, key), nil
	case BackendSQLite:
		if cfg.Dir == "" {
			return nil, errors.New("sqlite cache requires a data directory")
		}
		return OpenSQLiteSlot(filepath.Join(cfg.Dir, "cache.db"), key)
	case BackendMemory:
		return NewMemorySlot(), nil
	case BackendNone:
		return nopSlot{}, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
