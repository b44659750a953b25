package stream

import (
	"bytes"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/opencode-ai/chatstream/internal/logging"
)

const (
	// DefaultPrefix marks a data frame.
	DefaultPrefix = "data:"
	// DoneSentinel is an end-of-stream marker some endpoints send as a data payload.
	DoneSentinel = "[DONE]"
	// contentField is the record field carrying the text increment.
	contentField = "content"
)

// Framer turns arbitrarily split chunks of a response body into content
// fragments. It buffers a partial trailing line until its newline arrives,
// so one frame may span any number of chunks.
//
// A Framer is not safe for concurrent use.
type Framer struct {
	prefix  []byte
	buf     []byte
	dropped int
	log     zerolog.Logger
}

// FramerOption configures a Framer.
type FramerOption func(*Framer)

// WithPrefix sets the data frame prefix. Defaults to "data:".
func WithPrefix(prefix string) FramerOption {
	return func(f *Framer) {
		f.prefix = []byte(prefix)
	}
}

// WithLogger sets the logger used for dropped-frame warnings.
func WithLogger(log zerolog.Logger) FramerOption {
	return func(f *Framer) {
		f.log = log
	}
}

// NewFramer creates a Framer.
func NewFramer(opts ...FramerOption) *Framer {
	f := &Framer{
		prefix: []byte(DefaultPrefix),
		log:    logging.Component("stream"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Write consumes one chunk and returns the fragments of every line it completed.
func (f *Framer) Write(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var fragments []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		if frag, ok := f.parseLine(f.buf[:idx]); ok {
			fragments = append(fragments, frag)
		}
		f.buf = f.buf[idx+1:]
	}

	// Reclaim the consumed prefix once the buffer drains.
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return fragments
}

// Flush processes any residual partial line as if it were terminated.
func (f *Framer) Flush() []string {
	if len(f.buf) == 0 {
		return nil
	}
	line := f.buf
	f.buf = nil
	if frag, ok := f.parseLine(line); ok {
		return []string{frag}
	}
	return nil
}

// Reset discards buffered bytes.
func (f *Framer) Reset() {
	f.buf = nil
}

// Buffered returns the number of bytes held for an incomplete line.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Dropped returns the number of data frames discarded as malformed.
func (f *Framer) Dropped() int {
	return f.dropped
}

// parseLine validates one complete line and extracts its content.
func (f *Framer) parseLine(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if len(bytes.TrimSpace(line)) == 0 {
		return "", false
	}
	if !bytes.HasPrefix(line, f.prefix) {
		return "", false
	}

	payload := bytes.TrimSpace(line[len(f.prefix):])
	if len(payload) == 0 || string(payload) == DoneSentinel {
		return "", false
	}

	if !gjson.ValidBytes(payload) {
		f.dropped++
		f.log.Warn().
			Int("bytes", len(payload)).
			Str("payload", truncate(payload, 120)).
			Msg("dropping malformed frame")
		return "", false
	}

	content := gjson.GetBytes(payload, contentField)
	if content.Type != gjson.String {
		f.log.Debug().
			Str("payload", truncate(payload, 120)).
			Msg("frame has no string content field")
		return "", false
	}
	if content.Str == "" {
		return "", false
	}
	return content.Str, true
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
