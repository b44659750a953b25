package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/internal/storage"
	"github.com/opencode-ai/chatstream/pkg/types"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })
	return New(cfg, storage.New(t.TempDir()), bus)
}

func do(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func createSession(t *testing.T, srv *Server) types.Session {
	t.Helper()
	w := do(t, srv, http.MethodPost, "/api/sessions", CreateSessionRequest{Title: "demo"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var s types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&s))
	return s
}

func TestHealth(t *testing.T) {
	w := do(t, setupTestServer(t), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSessions_CreateGetList(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodGet, "/api/sessions", nil)
	assert.JSONEq(t, "[]", w.Body.String())

	s := createSession(t, srv)
	assert.True(t, strings.HasPrefix(s.ID, "ses_"))
	assert.Equal(t, "demo", s.Title)

	w = do(t, srv, http.MethodGet, "/api/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, "/api/sessions", nil)
	var list []types.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, s.ID, list[0].ID)
}

func TestSessions_NotFound(t *testing.T) {
	srv := setupTestServer(t)

	for _, path := range []string{"/api/sessions/nope", "/api/sessions/nope/messages"} {
		w := do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)

		var er ErrorResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&er))
		assert.Equal(t, ErrCodeNotFound, er.Error.Code)
	}
}

func TestMessages_Lifecycle(t *testing.T) {
	srv := setupTestServer(t)
	s := createSession(t, srv)
	base := "/api/sessions/" + s.ID + "/messages"

	w := do(t, srv, http.MethodPost, base, types.Message{ID: "local-1", Role: types.RoleUser, Content: "hello"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first types.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&first))
	assert.NotEqual(t, "local-1", first.ID, "server assigns ids")
	assert.False(t, first.CreatedAt.IsZero())

	time.Sleep(2 * time.Millisecond)
	w = do(t, srv, http.MethodPost, base, types.Message{Role: types.RoleAssistant, Content: "Hi there!"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodPatch, base+"/"+first.ID, UpdateMessageRequest{Content: "hello again"})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, http.MethodGet, base, nil)
	var msgs []types.Message
	require.NoError(t, json.NewDecoder(w.Body).Decode(&msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello again", msgs[0].Content)
	assert.Equal(t, types.RoleAssistant, msgs[1].Role)

	w = do(t, srv, http.MethodDelete, base+"/"+first.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodDelete, base+"/"+first.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, http.MethodDelete, "/api/sessions/"+s.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(t, srv, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMessages_RejectsBadRole(t *testing.T) {
	srv := setupTestServer(t)
	s := createSession(t, srv)

	w := do(t, srv, http.MethodPost, "/api/sessions/"+s.ID+"/messages", map[string]string{"role": "system", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessages_PublishEvents(t *testing.T) {
	srv := setupTestServer(t)

	got := make(chan event.EventType, 4)
	srv.Bus().SubscribeAll(func(e event.Event) { got <- e.Type })

	s := createSession(t, srv)
	do(t, srv, http.MethodPost, "/api/sessions/"+s.ID+"/messages", types.Message{Role: types.RoleUser, Content: "x"})

	seen := map[event.EventType]bool{}
	for len(seen) < 2 {
		select {
		case et := <-got:
			seen[et] = true
		case <-time.After(time.Second):
			t.Fatalf("events seen: %v", seen)
		}
	}
	assert.True(t, seen[event.SessionCreated])
	assert.True(t, seen[event.MessageCreated])
}

func TestGenerate_Echo(t *testing.T) {
	srv := setupTestServer(t)

	w := do(t, srv, http.MethodPost, GeneratePath, map[string]string{"sessionID": "s", "content": " hi  there "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t,
		frame("You ")+frame("said: ")+frame("hi ")+frame(" ")+frame("there"),
		w.Body.String())
	assert.Equal(t, 1, srv.Script().Calls())
}

func TestGenerate_Scripted(t *testing.T) {
	srv := setupTestServer(t)
	srv.Script().Enqueue(
		Reply{Status: http.StatusTooManyRequests},
		Reply{Chunks: []string{"data: {\"con", "tent\":\"OK\"}\n"}},
	)

	w := do(t, srv, http.MethodPost, GeneratePath, map[string]string{"content": "a"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = do(t, srv, http.MethodPost, GeneratePath, map[string]string{"content": "b"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "data: {\"content\":\"OK\"}\n", w.Body.String())

	assert.Equal(t, 2, srv.Script().Calls())
	assert.Equal(t, 0, srv.Script().Pending())
	reqs := srv.Script().Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "b", reqs[1].Content)
}

func TestGenerate_BadBody(t *testing.T) {
	srv := setupTestServer(t)
	req := httptest.NewRequest(http.MethodPost, GeneratePath, strings.NewReader("{"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEchoWords(t *testing.T) {
	assert.Equal(t, []string{"You ", "said: ", "ping"}, echoWords("ping"))
	assert.Equal(t, "You said: a b", strings.Join(echoWords("a b"), ""))
}
