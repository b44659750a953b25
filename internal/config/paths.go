package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const appName = "chatstream"

// Paths are the per-user directories chatstream reads and writes.
type Paths struct {
	Data   string // ~/.local/share/chatstream
	Config string // ~/.config/chatstream
	Cache  string // ~/.cache/chatstream
	State  string // ~/.local/state/chatstream
}

// GetPaths resolves Paths from the XDG base directory variables, falling
// back to the usual locations under $HOME (or %APPDATA% on Windows).
func GetPaths() *Paths {
	home := os.Getenv("HOME")
	fallback := func(parts ...string) string { return filepath.Join(append([]string{home}, parts...)...) }
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		fallback = func(parts ...string) string {
			if parts[len(parts)-1] == ".cache" {
				return filepath.Join(appData, "cache")
			}
			return appData
		}
	}

	xdg := func(env string, parts ...string) string {
		base := os.Getenv(env)
		if base == "" {
			base = fallback(parts...)
		}
		return filepath.Join(base, appName)
	}
	return &Paths{
		Data:   xdg("XDG_DATA_HOME", ".local", "share"),
		Config: xdg("XDG_CONFIG_HOME", ".config"),
		Cache:  xdg("XDG_CACHE_HOME", ".cache"),
		State:  xdg("XDG_STATE_HOME", ".local", "state"),
	}
}

// EnsurePaths creates every directory in p.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// StoragePath is where the local mock server persists sessions.
func (p *Paths) StoragePath() string {
	return filepath.Join(p.Data, "storage")
}

// LogPath is where log files are written.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "log")
}
