package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/opencode-ai/chatstream/internal/event"
	"github.com/opencode-ai/chatstream/pkg/types"
)

// Renderer prints conversation progress, either colored for a terminal or
// as one JSON object per line.
type Renderer struct {
	mu   sync.Mutex
	out  io.Writer
	err  io.Writer
	json bool
	// open is set while an assistant line is being streamed.
	open bool
}

// NewRenderer creates a renderer writing to out and diagnostics to errOut.
func NewRenderer(out, errOut io.Writer, noColor, jsonOut bool) *Renderer {
	if noColor || jsonOut {
		color.NoColor = true
	}
	return &Renderer{out: out, err: errOut, json: jsonOut}
}

var (
	userLabel      = color.New(color.FgCyan, color.Bold)
	assistantLabel = color.New(color.FgGreen, color.Bold)
	dim            = color.New(color.FgHiBlack)
	warn           = color.New(color.FgYellow)
	failure        = color.New(color.FgRed)
)

func (r *Renderer) emit(v map[string]any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(r.out, string(b))
}

// closeLine ends a streamed assistant line. Callers hold mu.
func (r *Renderer) closeLine() {
	if r.open && !r.json {
		fmt.Fprintln(r.out)
	}
	r.open = false
}

// Banner prints the connection summary.
func (r *Renderer) Banner(endpoint string, messages int) {
	if r.json {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.err, dim.Sprintf("Streaming from %s (%d cached messages). /help for commands.", endpoint, messages))
}

// Help prints text as is.
func (r *Renderer) Help(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	fmt.Fprintln(r.out, text)
}

// Info prints a dim status line.
func (r *Renderer) Info(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	if r.json {
		r.emit(map[string]any{"type": "info", "text": fmt.Sprintf(format, args...)})
		return
	}
	fmt.Fprintln(r.err, dim.Sprintf(format, args...))
}

// Error prints err in red.
func (r *Renderer) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	if r.json {
		r.emit(map[string]any{"type": "error", "error": err.Error()})
		return
	}
	fmt.Fprintln(r.err, failure.Sprintf("error: %v", err))
}

// Message prints a complete message.
func (r *Renderer) Message(msg types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	r.message(msg)
}

func (r *Renderer) message(msg types.Message) {
	if r.json {
		r.emit(map[string]any{"type": string(msg.Role), "id": msg.ID, "text": msg.Content})
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", label(msg.Role), msg.Content)
}

// History prints msgs numbered from 1, the numbering /edit and /delete accept.
func (r *Renderer) History(msgs []types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLine()
	if r.json {
		for _, m := range msgs {
			r.emit(map[string]any{
				"type":      "message",
				"id":        m.ID,
				"role":      m.Role,
				"text":      m.Content,
				"createdAt": m.CreatedAt.Format(time.RFC3339),
			})
		}
		return
	}
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, dim.Sprint("(no messages)"))
		return
	}
	for i, m := range msgs {
		fmt.Fprintf(r.out, "%s %s %s\n", dim.Sprintf("%3d", i+1), label(m.Role), m.Content)
	}
}

// Handle renders one store event. It is registered as a bus subscriber and
// runs on the goroutine publishing the event.
func (r *Renderer) Handle(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch d := e.Data.(type) {
	case event.MessageCreatedData:
		if d.Info == nil {
			return
		}
		if d.Info.IsStreaming {
			r.closeLine()
			if !r.json {
				fmt.Fprint(r.out, assistantLabel.Sprint("assistant ›")+" ")
			}
			r.open = true
			return
		}
		r.closeLine()
		r.message(*d.Info)

	case event.MessageUpdatedData:
		if d.Delta == "" || !r.open {
			return
		}
		if r.json {
			r.emit(map[string]any{"type": "delta", "id": d.Info.ID, "text": d.Delta})
			return
		}
		fmt.Fprint(r.out, d.Delta)

	case event.SessionRetryData:
		r.closeLine()
		if r.json {
			r.emit(map[string]any{"type": "retry", "attempt": d.Attempt, "maxRetries": d.MaxRetries, "delayMs": d.Delay.Milliseconds(), "reason": d.Reason})
			r.open = true
			return
		}
		fmt.Fprintln(r.err, warn.Sprintf("retry %d/%d in %s: %s", d.Attempt, d.MaxRetries, d.Delay.Round(time.Millisecond), d.Reason))
		// The next attempt streams from scratch on a fresh line.
		fmt.Fprint(r.out, assistantLabel.Sprint("assistant ›")+" ")
		r.open = true

	case event.SessionIdleData:
		if r.json && r.open {
			r.emit(map[string]any{"type": "done"})
		}
		r.closeLine()
	}
}

func label(role types.Role) string {
	if role == types.RoleUser {
		return userLabel.Sprint("you ›")
	}
	return assistantLabel.Sprint("assistant ›")
}

// preview shortens s to one line of at most n runes.
func preview(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
