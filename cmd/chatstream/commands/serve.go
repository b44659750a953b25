package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/logging"
	"github.com/opencode-ai/chatstream/internal/server"
	"github.com/opencode-ai/chatstream/internal/storage"
)

var (
	servePort       int
	serveChunkDelay time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local mock endpoint",
	Long: `Start a local server that implements both collaborators of the chat
client: the streaming generation endpoint, which echoes each prompt back one
word per frame, and the message store.

Point 'chatstream chat' at it with the default endpoint, or set
messageStore.url to its address to persist conversations remotely.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to listen on (default from config, 8787)")
	serveCmd.Flags().DurationVar(&serveChunkDelay, "chunk-delay", 0, "Pause between echoed frames (default from config, 40ms)")
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, paths, err := loadSettings()
	if err != nil {
		return err
	}

	cfg := server.DefaultConfig()
	cfg.Port = settings.Port
	cfg.ChunkDelay = settings.ChunkDelay
	if servePort != 0 {
		cfg.Port = servePort
	}
	if serveChunkDelay != 0 {
		cfg.ChunkDelay = serveChunkDelay
	}

	bus := event.NewBus()
	defer bus.Close()
	srv := server.New(cfg, storage.New(paths.StoragePath()), bus)

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Int("port", cfg.Port).Str("storage", paths.StoragePath()).Msg("starting server")
		errCh <- srv.Start()
	}()
	fmt.Fprintf(cmd.ErrOrStderr(), "chatstream mock server on http://localhost:%d%s\n", cfg.Port, server.GeneratePath)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-quit:
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
