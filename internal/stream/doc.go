// Package stream decodes chunked generation responses into content fragments.
//
// The wire format is line oriented: each line is one frame, and a frame that
// starts with the "data:" prefix carries a JSON record whose "content" field
// is the next text increment:
//
//	data: {"content":"Hi"}
//	data: {"content":" there"}
//
// Frames may be split across reads at any byte. Malformed frames are logged
// and skipped; only a failure of the underlying reader ends decoding with an
// error.
package stream
