package stream

import (
	"errors"
	"io"
	"iter"
)

// DefaultReadSize is the size of each read from the underlying body.
const DefaultReadSize = 4096

// Decoder lazily yields content fragments from a response body.
//
// Iterate with Next/Current and check Err afterwards:
//
//	dec := stream.NewDecoder(resp.Body)
//	defer dec.Close()
//	for dec.Next() {
//		fmt.Print(dec.Current())
//	}
//	if err := dec.Err(); err != nil {
//		// transport failure
//	}
//
// A Decoder is finite and cannot be restarted.
type Decoder struct {
	r       io.Reader
	framer  *Framer
	readBuf []byte
	pending []string
	current string
	err     error
	done    bool
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader, opts ...FramerOption) *Decoder {
	return &Decoder{
		r:       r,
		framer:  NewFramer(opts...),
		readBuf: make([]byte, DefaultReadSize),
	}
}

// Next advances to the next fragment, reading from the body as needed.
// It returns false at end of stream or on a transport error.
func (d *Decoder) Next() bool {
	for len(d.pending) == 0 {
		if d.done {
			return false
		}
		d.fill()
	}
	d.current = d.pending[0]
	d.pending = d.pending[1:]
	return true
}

// fill performs one read and queues the fragments it completes.
func (d *Decoder) fill() {
	n, err := d.r.Read(d.readBuf)
	if n > 0 {
		d.pending = append(d.pending, d.framer.Write(d.readBuf[:n])...)
	}
	if err == nil {
		return
	}

	d.done = true
	if errors.Is(err, io.EOF) {
		d.pending = append(d.pending, d.framer.Flush()...)
		return
	}
	// A failed transport never yields its half-received line.
	d.framer.Reset()
	d.err = err
}

// Current returns the fragment produced by the last successful Next.
func (d *Decoder) Current() string {
	return d.current
}

// Err returns the transport error that ended the stream, if any.
// A clean end of stream returns nil.
func (d *Decoder) Err() error {
	return d.err
}

// Dropped returns the number of malformed frames skipped so far.
func (d *Decoder) Dropped() int {
	return d.framer.Dropped()
}

// All returns an iterator over the remaining fragments.
func (d *Decoder) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for d.Next() {
			if !yield(d.Current()) {
				return
			}
		}
	}
}

// Close closes the underlying body if it is an io.Closer.
func (d *Decoder) Close() error {
	d.done = true
	d.pending = nil
	if c, ok := d.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// DecodeAll reads r to the end and returns every fragment in order.
func DecodeAll(r io.Reader, opts ...FramerOption) ([]string, error) {
	dec := NewDecoder(r, opts...)
	var out []string
	for dec.Next() {
		out = append(out, dec.Current())
	}
	return out, dec.Err()
}
