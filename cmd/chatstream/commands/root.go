// Package commands provides the CLI commands for chatstream.
package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/chatstream/internal/config"
	"github.com/opencode-ai/chatstream/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	configDir string
	workDir   string
	noColor   bool
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "chatstream - streaming chat client",
	Long: `chatstream is a terminal chat client that streams assistant replies
from a generation endpoint, retries transient failures with backoff, and
keeps the conversation in a local cache between runs.

Run 'chatstream chat' to start a conversation, or 'chatstream serve' to
start a local mock endpoint to talk to.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Global config directory")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Project directory (default: current)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print output as JSON lines")

	rootCmd.SetVersionTemplate(fmt.Sprintf("chatstream %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setup loads .env files and points config lookups at --config-dir.
func setup(cmd *cobra.Command, args []string) error {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return err
	}
	// .env values never override the real environment.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	if configDir != "" {
		if err := os.Setenv(config.EnvConfigDir, configDir); err != nil {
			return err
		}
	}
	return nil
}

// initLogging configures the global logger. Logs are discarded unless
// --print-logs is set or the config asks for a log file.
func initLogging(s *config.Settings, paths *config.Paths) {
	level := s.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	opts := logging.Options{Level: logging.ParseLevel(level)}
	if printLogs {
		opts.Console = os.Stderr
		opts.Pretty = true
		opts.NoColor = noColor
	}
	if s.LogToFile {
		opts.FileDir = paths.LogPath()
	}
	if err := logging.Setup(opts); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// loadSettings loads and resolves the configuration for the working
// directory, then initializes logging from it.
func loadSettings() (*config.Settings, *config.Paths, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, nil, err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, nil, err
	}

	appConfig, err := config.Load(dir)
	if err != nil {
		return nil, nil, err
	}
	settings, err := config.Resolve(appConfig, paths)
	if err != nil {
		return nil, nil, err
	}

	initLogging(settings, paths)
	return settings, paths, nil
}
