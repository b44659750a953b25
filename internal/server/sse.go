package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opencode-ai/chatstream/internal/logging"
)

// SSEHeartbeatInterval is how often an idle event stream gets a comment line.
const SSEHeartbeatInterval = 30 * time.Second

// sseWriter writes text/event-stream replies, flushing after every write so
// clients see frames as they are produced.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSEWriter fails when w cannot flush, before any header is written.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	if _, ok := w.(http.Flusher); !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, rc: http.NewResponseController(w)}, nil
}

func (s *sseWriter) start() {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	_ = s.rc.Flush()
}

func (s *sseWriter) write(chunk string) error {
	if _, err := io.WriteString(s.w, chunk); err != nil {
		return err
	}
	return s.rc.Flush()
}

// writeRaw writes an already framed chunk.
func (s *sseWriter) writeRaw(chunk string) error { return s.write(chunk) }

func (s *sseWriter) writeEvent(name string, data []byte) error {
	return s.write("event: " + name + "\ndata: " + string(data) + "\n\n")
}

func (s *sseWriter) writeHeartbeat() error { return s.write(": heartbeat\n\n") }

// frame renders one generation data frame.
func frame(content string) string {
	data, _ := json.Marshal(struct {
		Content string `json:"content"`
	}{content})
	return "data: " + string(data) + "\n\n"
}

// streamEvents handles GET /api/events: every message-store change as SSE.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	msgs, err := s.bus.Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	sse.start()

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			msg.Ack()
			if err := sse.writeEvent("message", msg.Payload); err != nil {
				logging.Debug().Err(err).Msg("event stream client gone")
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
