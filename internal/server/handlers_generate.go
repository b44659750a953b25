package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/opencode-ai/chatstream/internal/transport"
)

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// generate handles POST /api/generate. It serves the next scripted reply,
// or echoes the prompt back one word per frame.
func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req transport.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}

	reply, scripted := s.script.next(req)
	if !scripted {
		reply = Reply{Chunks: Frames(echoWords(req.Content)...), Delay: s.config.ChunkDelay}
	}

	if reply.Status != 0 && (reply.Status < 200 || reply.Status > 299) {
		writeError(w, reply.Status, codeForStatus(reply.Status), http.StatusText(reply.Status))
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	sse.start()

	ctx := r.Context()
	for _, chunk := range reply.Chunks {
		if reply.Delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reply.Delay):
			}
		}
		if err := sse.writeRaw(chunk); err != nil {
			return
		}
	}

	if reply.Hang {
		<-ctx.Done()
	}
}

// echoWords splits "You said: <content>" into word fragments that
// concatenate back to the full sentence.
func echoWords(content string) []string {
	text := "You said: " + strings.TrimSpace(content)
	words := strings.SplitAfter(text, " ")
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}
