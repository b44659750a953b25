package chat_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/chatstream/internal/cache"
	"github.com/opencode-ai/chatstream/internal/chat"
	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/msgstore"
	"github.com/opencode-ai/chatstream/internal/retry"
	"github.com/opencode-ai/chatstream/internal/server"
	"github.com/opencode-ai/chatstream/pkg/types"
)

func lastMessage(s *chat.Store) types.Message {
	msgs := s.Snapshot().Messages
	ExpectWithOffset(1, msgs).NotTo(BeEmpty())
	return msgs[len(msgs)-1]
}

var _ = Describe("Store", func() {
	Describe("Send", func() {
		It("streams fragments split across chunks into the placeholder", func() {
			h := newHarness(fastPolicy(0))
			h.script().Enqueue(server.Reply{Chunks: []string{
				"data: {\"content\":\"Hi\"}\n\nda",
				"ta: {\"content\":\" there\"}\n",
				"\ndata: {\"content\":\"!\"}\n\n",
			}})

			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())

			Expect(h.deltas.all()).To(Equal([]string{"Hi", " there", "!"}))
			state := h.store.Snapshot()
			Expect(state.Messages).To(HaveLen(2))
			Expect(state.Messages[0].Role).To(Equal(types.RoleUser))
			Expect(state.Messages[0].Content).To(Equal("hello"))
			Expect(state.Messages[1].Role).To(Equal(types.RoleAssistant))
			Expect(state.Messages[1].Content).To(Equal("Hi there!"))
			Expect(state.Messages[1].IsStreaming).To(BeFalse())
			Expect(state.IsLoading).To(BeFalse())
			Expect(state.IsStreaming).To(BeFalse())
			Expect(state.Error).To(BeNil())
		})

		It("publishes creation, progress and idle events in order", func() {
			h := newHarness(fastPolicy(0))
			var seen []event.EventType
			h.bus.SubscribeAll(func(e event.Event) { seen = append(seen, e.Type) })

			Expect(h.store.Send(context.Background(), "one two")).To(Succeed())

			Expect(seen[:3]).To(Equal([]event.EventType{event.MessageCreated, event.MessageCreated, event.SessionUpdated}))
			Expect(seen[len(seen)-1]).To(Equal(event.SessionIdle))
			Expect(seen).To(ContainElement(event.MessageUpdated))
			Expect(seen).NotTo(ContainElement(event.SessionError))
		})

		It("rejects blank content without touching state", func() {
			h := newHarness(fastPolicy(0))
			Expect(h.store.Send(context.Background(), "  \n\t")).To(MatchError(chat.ErrEmptyContent))
			Expect(h.store.Snapshot().Messages).To(BeEmpty())
			Expect(h.script().Calls()).To(BeZero())
		})

		It("gives up after the retry budget with an exhausted error", func() {
			h := newHarness(fastPolicy(3))
			for i := 0; i < 4; i++ {
				h.script().Enqueue(server.Reply{Status: 429})
			}

			err := h.store.Send(context.Background(), "hello")

			var serr *types.SessionError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Kind).To(Equal(types.ErrorExhausted))
			Expect(serr.StatusCode).To(Equal(429))
			Expect(serr.Attempts).To(Equal(4))
			Expect(h.script().Calls()).To(Equal(4))

			state := h.store.Snapshot()
			Expect(state.Error).NotTo(BeNil())
			Expect(state.Error.Kind).To(Equal(types.ErrorExhausted))
			Expect(state.IsLoading).To(BeFalse())
			Expect(state.Messages).To(HaveLen(2))
			Expect(state.Messages[1].Content).To(BeEmpty())
			Expect(state.Messages[1].IsStreaming).To(BeFalse())
		})

		It("recovers from a transient failure and resets the retry count", func() {
			h := newHarness(fastPolicy(2))
			h.script().Enqueue(
				server.Reply{Status: 500},
				server.Reply{Chunks: server.Frames("OK")},
			)
			var retries []event.SessionRetryData
			h.bus.Subscribe(event.SessionRetry, func(e event.Event) {
				retries = append(retries, e.Data.(event.SessionRetryData))
			})

			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())

			state := h.store.Snapshot()
			Expect(state.RetryCount).To(BeZero())
			Expect(state.Error).To(BeNil())
			Expect(state.Messages[1].Content).To(Equal("OK"))
			Expect(h.script().Calls()).To(Equal(2))
			Expect(retries).To(HaveLen(1))
			Expect(retries[0].Attempt).To(Equal(1))
			Expect(retries[0].MaxRetries).To(Equal(2))
		})

		It("fails immediately on a permanent status", func() {
			h := newHarness(fastPolicy(3))
			h.script().Enqueue(server.Reply{Status: 401})

			err := h.store.Send(context.Background(), "hello")

			var serr *types.SessionError
			Expect(errors.As(err, &serr)).To(BeTrue())
			Expect(serr.Kind).To(Equal(types.ErrorPermanent))
			Expect(serr.StatusCode).To(Equal(401))
			Expect(serr.Attempts).To(Equal(1))
			Expect(h.script().Calls()).To(Equal(1))
			Expect(h.store.Snapshot().RetryCount).To(BeZero())
		})

		It("starts each retry from empty content", func() {
			ft := &fakeTransport{answers: []func() (io.ReadCloser, error){
				func() (io.ReadCloser, error) {
					return &brokenBody{r: strings.NewReader("data: {\"content\":\"par\"}\n"), err: io.ErrUnexpectedEOF}, nil
				},
				func() (io.ReadCloser, error) {
					return io.NopCloser(strings.NewReader("data: {\"content\":\"done\"}\n\n")), nil
				},
			}}
			store := chat.New(context.Background(), ft, chat.WithPolicy(fastPolicy(2)))

			Expect(store.Send(context.Background(), "hello")).To(Succeed())

			Expect(ft.Calls()).To(Equal(2))
			Expect(lastMessage(store).Content).To(Equal("done"))
		})

		It("keeps partial content when the last attempt fails mid-stream", func() {
			ft := &fakeTransport{answers: []func() (io.ReadCloser, error){
				func() (io.ReadCloser, error) {
					return &brokenBody{r: strings.NewReader("data: {\"content\":\"half\"}\n"), err: io.ErrUnexpectedEOF}, nil
				},
			}}
			store := chat.New(context.Background(), ft, chat.WithPolicy(fastPolicy(0)))

			err := store.Send(context.Background(), "hello")

			Expect(err).To(HaveOccurred())
			Expect(lastMessage(store).Content).To(Equal("half"))
			Expect(store.Snapshot().Error.Kind).To(Equal(types.ErrorExhausted))
		})

		It("sends prior messages in full mode", func() {
			h := newHarness(fastPolicy(0), chat.WithRequestMode(chat.ModeFull))

			Expect(h.store.Send(context.Background(), "one")).To(Succeed())
			Expect(h.store.Send(context.Background(), "two")).To(Succeed())

			reqs := h.script().Requests()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[0].Messages).To(BeEmpty())
			Expect(reqs[1].Content).To(Equal("two"))
			Expect(reqs[1].Messages).To(HaveLen(2))
			Expect(reqs[1].Messages[0].Content).To(Equal("one"))
			Expect(reqs[1].Messages[1].Content).To(Equal("You said: one"))
		})

		It("sends only the new content in latest mode", func() {
			h := newHarness(fastPolicy(0))
			Expect(h.store.Send(context.Background(), "one")).To(Succeed())
			Expect(h.store.Send(context.Background(), "two")).To(Succeed())

			reqs := h.script().Requests()
			Expect(reqs[1].Messages).To(BeEmpty())
			Expect(reqs[1].SessionID).To(HavePrefix("local_"))
		})
	})

	Describe("Cancel", func() {
		It("stops a pending retry without recording an error", func() {
			h := newHarness(retry.Policy{MaxRetries: 3, BaseDelay: time.Hour})
			h.script().Enqueue(server.Reply{Status: 429})

			done := sendAsync(h.store, "hello")
			Eventually(func() int { return h.store.Snapshot().RetryCount }).Should(Equal(1))

			h.store.Cancel()

			Eventually(done).Should(Receive(BeNil()))
			state := h.store.Snapshot()
			Expect(h.script().Calls()).To(Equal(1))
			Expect(state.IsLoading).To(BeFalse())
			Expect(state.IsStreaming).To(BeFalse())
			Expect(state.Error).To(BeNil())
			Expect(h.store.Active()).To(BeFalse())
		})

		It("keeps the content streamed so far", func() {
			h := newHarness(fastPolicy(0))
			h.script().Enqueue(server.Reply{Chunks: server.Frames("partial ", "answer"), Hang: true})

			done := sendAsync(h.store, "hello")
			Eventually(func() string { return lastMessage(h.store).Content }).Should(Equal("partial answer"))

			h.store.Cancel()

			Eventually(done).Should(Receive(BeNil()))
			msg := lastMessage(h.store)
			Expect(msg.Content).To(Equal("partial answer"))
			Expect(msg.IsStreaming).To(BeFalse())
			Expect(h.store.Snapshot().Error).To(BeNil())
		})

		It("is a no-op when idle", func() {
			h := newHarness(fastPolicy(0))
			writes := h.slot.Writes()
			h.store.Cancel()
			h.store.Cancel()
			Expect(h.slot.Writes()).To(Equal(writes))
		})

		It("replaces a running exchange on a new send", func() {
			h := newHarness(fastPolicy(0))
			h.script().Enqueue(server.Reply{Chunks: server.Frames("first"), Hang: true})

			first := sendAsync(h.store, "one")
			Eventually(func() string { return lastMessage(h.store).Content }).Should(Equal("first"))

			Expect(h.store.Send(context.Background(), "two")).To(Succeed())
			Eventually(first).Should(Receive(BeNil()))

			msgs := h.store.Snapshot().Messages
			Expect(msgs).To(HaveLen(4))
			Expect(msgs[1].Content).To(Equal("first"))
			Expect(msgs[1].IsStreaming).To(BeFalse())
			Expect(msgs[2].Content).To(Equal("two"))
			Expect(msgs[3].Content).To(Equal("You said: two"))
			for _, m := range msgs {
				Expect(m.IsStreaming).To(BeFalse())
			}
		})

		It("returns the context error when the caller's context ends", func() {
			h := newHarness(fastPolicy(0))
			h.script().Enqueue(server.Reply{Chunks: server.Frames("x"), Hang: true})

			ctx, cancelCtx := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				done <- h.store.Send(ctx, "hello")
			}()
			Eventually(func() string { return lastMessage(h.store).Content }).Should(Equal("x"))

			cancelCtx()

			Eventually(done).Should(Receive(MatchError(context.Canceled)))
			state := h.store.Snapshot()
			Expect(state.IsLoading).To(BeFalse())
			Expect(state.Error).To(BeNil())
			Expect(lastMessage(h.store).IsStreaming).To(BeFalse())
		})
	})

	Describe("mutations", func() {
		var h *harness

		BeforeEach(func() {
			h = newHarness(fastPolicy(0))
			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())
		})

		It("edits a message and persists it", func() {
			id := h.store.Snapshot().Messages[0].ID
			before := h.slot.Writes()

			Expect(h.store.Edit(context.Background(), id, "changed")).To(Succeed())

			Expect(h.slot.Writes()).To(Equal(before + 1))
			Expect(h.store.Snapshot().Messages[0].Content).To(Equal("changed"))
			reloaded := cache.NewSynchronizer(h.slot, "test").Load(context.Background())
			Expect(reloaded[0].Content).To(Equal("changed"))
		})

		It("rejects blank edits and unknown ids", func() {
			id := h.store.Snapshot().Messages[0].ID
			Expect(h.store.Edit(context.Background(), id, " ")).To(MatchError(chat.ErrEmptyContent))
			Expect(h.store.Edit(context.Background(), "nope", "x")).To(MatchError(chat.ErrMessageNotFound))
			Expect(h.store.Delete(context.Background(), "nope")).To(MatchError(chat.ErrMessageNotFound))
		})

		It("deletes a message and persists it", func() {
			id := h.store.Snapshot().Messages[0].ID
			before := h.slot.Writes()

			Expect(h.store.Delete(context.Background(), id)).To(Succeed())

			Expect(h.slot.Writes()).To(Equal(before + 1))
			msgs := h.store.Snapshot().Messages
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(types.RoleAssistant))
		})

		It("refuses to touch the streaming message", func() {
			h.script().Enqueue(server.Reply{Chunks: server.Frames("x"), Hang: true})
			done := sendAsync(h.store, "again")
			Eventually(func() string { return lastMessage(h.store).Content }).Should(Equal("x"))

			id := lastMessage(h.store).ID
			Expect(h.store.Delete(context.Background(), id)).To(MatchError(chat.ErrMessageStreaming))
			Expect(h.store.Edit(context.Background(), id, "y")).To(MatchError(chat.ErrMessageStreaming))

			h.store.Cancel()
			Eventually(done).Should(Receive(BeNil()))
			Expect(h.store.Delete(context.Background(), id)).To(Succeed())
		})

		It("clears the conversation and the cache", func() {
			h.store.Clear(context.Background())

			state := h.store.Snapshot()
			Expect(state.Messages).To(BeEmpty())
			Expect(state.Messages).NotTo(BeNil())
			_, err := h.slot.Read(context.Background())
			Expect(err).To(MatchError(cache.ErrEmpty))
		})

		It("appends discovered messages once", func() {
			msg := types.Message{ID: "remote-1", Role: types.RoleAssistant, Content: "from elsewhere"}

			added, err := h.store.Append(context.Background(), msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())

			added, err = h.store.Append(context.Background(), msg)
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeFalse())

			Expect(lastMessage(h.store).ID).To(Equal("remote-1"))
			Expect(lastMessage(h.store).CreatedAt).NotTo(BeZero())
		})

		It("appends before a streaming placeholder", func() {
			h.script().Enqueue(server.Reply{Chunks: server.Frames("x"), Hang: true})
			done := sendAsync(h.store, "again")
			Eventually(func() bool { return h.store.Snapshot().IsStreaming }).Should(BeTrue())

			added, err := h.store.Append(context.Background(), types.Message{ID: "remote-2", Role: types.RoleUser, Content: "hi"})
			Expect(err).NotTo(HaveOccurred())
			Expect(added).To(BeTrue())

			msgs := h.store.Snapshot().Messages
			Expect(msgs[len(msgs)-2].ID).To(Equal("remote-2"))
			Expect(msgs[len(msgs)-1].IsStreaming).To(BeTrue())

			h.store.Cancel()
			Eventually(done).Should(Receive(BeNil()))
		})

		It("rejects an invalid role on append", func() {
			_, err := h.store.Append(context.Background(), types.Message{ID: "x", Role: "robot", Content: "?"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("cache", func() {
		It("seeds the conversation from the cache", func() {
			h := startServer()
			h.sync.Save(context.Background(), []types.Message{
				{ID: "a", Role: types.RoleUser, Content: "earlier", CreatedAt: time.Now()},
				{ID: "b", Role: types.RoleAssistant, Content: "cut off", CreatedAt: time.Now(), IsStreaming: true},
			})
			h.open(fastPolicy(0))

			state := h.store.Snapshot()
			Expect(state.Messages).To(HaveLen(2))
			Expect(state.Messages[1].Content).To(Equal("cut off"))
			Expect(state.Messages[1].IsStreaming).To(BeFalse())
			Expect(state.IsStreaming).To(BeFalse())
		})

		It("keeps working when the cache fails", func() {
			h := startServer()
			h.slot.ReadErr = errors.New("disk gone")
			h.slot.WriteErr = errors.New("disk gone")
			h.open(fastPolicy(0))

			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())
			Expect(h.store.Snapshot().Messages).To(HaveLen(2))
			Expect(h.slot.Writes()).To(BeNumerically(">", 0))
		})
	})

	Describe("message store", func() {
		var (
			h      *harness
			client *msgstore.HTTPClient
		)

		BeforeEach(func() {
			h = startServer()
			client = h.client()
			h.open(fastPolicy(0), chat.WithMessageStore(client, ""))
		})

		It("creates a session and adopts server ids", func() {
			Expect(h.store.SessionID()).To(BeEmpty())

			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())

			sid := h.store.SessionID()
			Expect(sid).To(HavePrefix("ses_"))
			msgs := h.store.Snapshot().Messages
			Expect(msgs[0].ID).To(HavePrefix("msg_"))
			Expect(msgs[1].ID).To(HavePrefix("msg_"))

			stored, err := client.ListMessages(context.Background(), sid)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(2))
			Expect(stored[0].Content).To(Equal("hello"))
			Expect(stored[1].Content).To(Equal("You said: hello"))
			Expect(h.script().Requests()[0].SessionID).To(Equal(sid))
		})

		It("forwards edits and deletes", func() {
			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())
			sid := h.store.SessionID()
			msgs := h.store.Snapshot().Messages

			Expect(h.store.Edit(context.Background(), msgs[0].ID, "hello again")).To(Succeed())
			Expect(h.store.Delete(context.Background(), msgs[1].ID)).To(Succeed())

			stored, err := client.ListMessages(context.Background(), sid)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(1))
			Expect(stored[0].Content).To(Equal("hello again"))
		})

		It("caches the server timestamp of an edit", func() {
			past := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)
			h = startServer()
			h.open(fastPolicy(0), chat.WithMessageStore(h.client(), ""), chat.WithClock(func() time.Time { return past }))

			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())
			id := h.store.Snapshot().Messages[0].ID
			Expect(h.store.Edit(context.Background(), id, "hello again")).To(Succeed())

			edited := h.store.Snapshot().Messages[0]
			Expect(edited.CreatedAt).To(BeTemporally(">", past))

			cached := cache.NewSynchronizer(h.slot, "test").Load(context.Background())
			Expect(cached).To(HaveLen(2))
			Expect(cached[0].ID).To(Equal(id))
			Expect(cached[0].Content).To(Equal("hello again"))
			Expect(cached[0].CreatedAt).To(BeTemporally("==", edited.CreatedAt))
		})

		It("ends the remote session on clear", func() {
			Expect(h.store.Send(context.Background(), "hello")).To(Succeed())
			sid := h.store.SessionID()

			h.store.Clear(context.Background())

			Expect(h.store.SessionID()).To(BeEmpty())
			_, err := client.ListMessages(context.Background(), sid)
			Expect(err).To(MatchError(msgstore.ErrNotFound))
		})
	})
})
