// Package logging holds the process-wide zerolog logger.
//
// Until Setup is called every log line is dropped, so library code can log
// freely without writing over the interactive terminal.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Options configures Setup.
type Options struct {
	Level zerolog.Level
	// Console receives log lines. Nil discards them.
	Console io.Writer
	// Pretty renders console lines with zerolog.ConsoleWriter.
	Pretty  bool
	NoColor bool
	// FileDir, when set, also appends JSON lines to a dated file in that
	// directory.
	FileDir string
}

var (
	current atomic.Pointer[zerolog.Logger]

	fileMu sync.Mutex
	file   *os.File
	last   Options
)

func init() {
	nop := zerolog.Nop()
	current.Store(&nop)
}

// Setup replaces the process logger. A file opened by an earlier Setup is
// closed first. The returned error reports a log file that could not be
// opened; console logging is configured regardless.
func Setup(opts Options) error {
	var writers []io.Writer
	if opts.Console != nil {
		w := opts.Console
		if opts.Pretty {
			w = zerolog.ConsoleWriter{Out: opts.Console, TimeFormat: time.TimeOnly, NoColor: opts.NoColor}
		}
		writers = append(writers, w)
	}

	fileMu.Lock()
	closeFileLocked()
	last = opts
	var fileErr error
	if opts.FileDir != "" {
		f, err := openLogFile(opts.FileDir, time.Now())
		if err != nil {
			fileErr = fmt.Errorf("open log file: %w", err)
		} else {
			file = f
			writers = append(writers, f)
		}
	}
	fileMu.Unlock()

	var logger zerolog.Logger
	switch len(writers) {
	case 0:
		logger = zerolog.Nop()
	case 1:
		logger = zerolog.New(writers[0])
	default:
		logger = zerolog.New(zerolog.MultiLevelWriter(writers...))
	}
	logger = logger.Level(opts.Level).With().Timestamp().Logger()
	current.Store(&logger)
	return fileErr
}

func openLogFile(dir string, now time.Time) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	name := "chatstream-" + now.Format("20060102") + ".log"
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
}

func closeFileLocked() {
	if file != nil {
		_ = file.Close()
		file = nil
	}
}

// Close stops logging to the log file, if any, and closes it.
func Close() {
	fileMu.Lock()
	open := file != nil
	opts := last
	fileMu.Unlock()
	if !open {
		return
	}
	opts.FileDir = ""
	_ = Setup(opts)
}

// FilePath returns the active log file, or "".
func FilePath() string {
	fileMu.Lock()
	defer fileMu.Unlock()
	if file == nil {
		return ""
	}
	return file.Name()
}

// ParseLevel maps a level name to a zerolog level. Empty or unknown names
// give InfoLevel.
func ParseLevel(name string) zerolog.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil || name == "" {
		return zerolog.InfoLevel
	}
	return level
}

// L returns the current process logger.
func L() *zerolog.Logger { return current.Load() }

func Debug() *zerolog.Event { return L().Debug() }
func Info() *zerolog.Event  { return L().Info() }
func Warn() *zerolog.Event  { return L().Warn() }
func Error() *zerolog.Event { return L().Error() }

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}
