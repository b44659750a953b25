package chat_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"

	"github.com/opencode-ai/chatstream/internal/cache"
	"github.com/opencode-ai/chatstream/internal/chat"
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/msgstore"
	"github.com/opencode-ai/chatstream/internal/retry"
	"github.com/opencode-ai/chatstream/internal/server"
	"github.com/opencode-ai/chatstream/internal/storage"
	"github.com/opencode-ai/chatstream/internal/transport"
)

// harness wires a store to the mock server over real HTTP.
type harness struct {
	srv    *server.Server
	ts     *httptest.Server
	slot   *cache.MemorySlot
	sync   *cache.Synchronizer
	bus    *event.Bus
	store  *chat.Store
	deltas *recorder
}

func fastPolicy(maxRetries int) retry.Policy {
	return retry.Policy{MaxRetries: maxRetries, BaseDelay: time.Millisecond}
}

// startServer runs the mock server; open attaches a store to it.
func startServer() *harness {
	cfg := server.DefaultConfig()
	cfg.ChunkDelay = 0

	h := &harness{
		bus:    event.NewBus(),
		slot:   cache.NewMemorySlot(),
		deltas: &recorder{},
	}
	h.srv = server.New(cfg, storage.New(GinkgoT().TempDir()), event.NewBus())
	h.ts = httptest.NewServer(h.srv.Router())
	h.sync = cache.NewSynchronizer(h.slot, "test")

	h.bus.Subscribe(event.MessageUpdated, func(e event.Event) {
		if d := e.Data.(event.MessageUpdatedData).Delta; d != "" {
			h.deltas.add(d)
		}
	})

	DeferCleanup(func() {
		h.ts.Close()
		h.bus.Close()
	})
	return h
}

func (h *harness) open(policy retry.Policy, opts ...chat.Option) *harness {
	base := []chat.Option{
		chat.WithPolicy(policy),
		chat.WithCache(h.sync),
		chat.WithBus(h.bus),
	}
	h.store = chat.New(context.Background(), transport.NewHTTP(h.ts.URL+server.GeneratePath), append(base, opts...)...)

	DeferCleanup(func() {
		h.store.Cancel()
		h.store.Wait()
	})
	return h
}

func newHarness(policy retry.Policy, opts ...chat.Option) *harness {
	return startServer().open(policy, opts...)
}

func (h *harness) script() *server.Script {
	return h.srv.Script()
}

func (h *harness) client() *msgstore.HTTPClient {
	return msgstore.NewHTTPClient(h.ts.URL, nil)
}

// sendAsync runs Send on its own goroutine and delivers its result.
func sendAsync(s *chat.Store, content string) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer GinkgoRecover()
		done <- s.Send(context.Background(), content)
	}()
	return done
}

type recorder struct {
	mu    sync.Mutex
	items []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.items...)
}

// fakeTransport answers each call with the next scripted body or error.
type fakeTransport struct {
	mu      sync.Mutex
	calls   int
	answers []func() (io.ReadCloser, error)
}

func (f *fakeTransport) Stream(ctx context.Context, req *transport.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.answers) == 0 {
		return io.NopCloser(strings.NewReader("")), nil
	}
	next := f.answers[0]
	f.answers = f.answers[1:]
	return next()
}

func (f *fakeTransport) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// brokenBody yields data and then fails with err.
type brokenBody struct {
	r   io.Reader
	err error
}

func (b *brokenBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, b.err
	}
	return n, err
}

func (b *brokenBody) Close() error { return nil }
