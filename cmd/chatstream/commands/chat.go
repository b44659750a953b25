package commands

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/chatstream/internal/cache"
	"github.com/opencode-ai/chatstream/internal/chat"
	"github.com/opencode-ai/chatstream/internal/config"
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/logging"
	"github.com/opencode-ai/chatstream/internal/msgstore"
	"github.com/opencode-ai/chatstream/internal/poller"
	"github.com/opencode-ai/chatstream/internal/transport"
)

var (
	chatEndpoint string
	chatSession  string
	chatFull     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. The previous conversation is
restored from the local cache.

With a message argument, the message is sent, the reply is printed and the
command exits.

Examples:
  chatstream chat
  chatstream chat "Summarize the last answer"
  chatstream chat --endpoint http://localhost:8787/api/generate`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatEndpoint, "endpoint", "", "Generation endpoint URL")
	chatCmd.Flags().StringVarP(&chatSession, "session", "s", "", "Message store session ID to continue")
	chatCmd.Flags().BoolVar(&chatFull, "full-history", false, "Send prior messages with every request")
}

// conversation bundles a store with the resources it holds.
type conversation struct {
	store  *chat.Store
	bus    *event.Bus
	remote msgstore.Client
	slot   cache.Slot
}

func (c *conversation) Close() {
	c.store.Cancel()
	c.store.Wait()
	c.bus.Close()
	if err := c.slot.Close(); err != nil {
		logging.Warn().Err(err).Msg("closing cache")
	}
}

// openConversation wires transport, cache, message store and bus into a
// store according to s.
func openConversation(ctx context.Context, s *config.Settings) (*conversation, error) {
	slot, err := cache.Open(s.Cache)
	if err != nil {
		return nil, err
	}

	var topts []transport.Option
	for k, v := range s.Headers {
		topts = append(topts, transport.WithHeader(k, v))
	}

	c := &conversation{bus: event.NewBus(), slot: slot}
	opts := []chat.Option{
		chat.WithPolicy(s.Policy),
		chat.WithCache(cache.NewSynchronizer(slot, s.Cache.Key)),
		chat.WithBus(c.bus),
		chat.WithRequestMode(chat.RequestMode(s.RequestMode)),
	}
	if s.MessageStore != "" {
		c.remote = msgstore.NewHTTPClient(s.MessageStore, nil)
		opts = append(opts, chat.WithMessageStore(c.remote, s.SessionID))
	}

	c.store = chat.New(ctx, transport.NewHTTP(s.Endpoint, topts...), opts...)
	return c, nil
}

func runChat(cmd *cobra.Command, args []string) error {
	settings, _, err := loadSettings()
	if err != nil {
		return err
	}
	if chatEndpoint != "" {
		settings.Endpoint = chatEndpoint
	}
	if chatSession != "" {
		settings.SessionID = chatSession
	}
	if chatFull {
		settings.RequestMode = string(chat.ModeFull)
	}

	ctx, stop := context.WithCancel(cmd.Context())
	defer stop()

	conv, err := openConversation(ctx, settings)
	if err != nil {
		return err
	}
	defer conv.Close()

	renderer := NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), noColor, jsonOut)
	conv.bus.SubscribeAll(renderer.Handle)

	if len(args) > 0 {
		return conv.store.Send(ctx, strings.Join(args, " "))
	}

	renderer.Banner(settings.Endpoint, len(conv.store.Snapshot().Messages))

	if conv.remote != nil {
		p := poller.New(conv.remote, conv.store, poller.WithInterval(settings.PollInterval))
		go p.Run(ctx)
	}

	// Ctrl-C cancels a streaming reply and quits when idle.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigs:
				if sig == os.Interrupt && conv.store.Active() {
					conv.store.Cancel()
					renderer.Info("cancelled")
					continue
				}
				// The REPL is blocked reading stdin; leave without it.
				stop()
				conv.Close()
				logging.Close()
				os.Exit(130)
			}
		}
	}()

	return newRepl(conv.store, renderer, cmd.InOrStdin(), cmd.ErrOrStderr()).run(ctx)
}
