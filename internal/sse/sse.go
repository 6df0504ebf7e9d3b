// Package sse decodes the server-sent-event frame protocol used by the
// docq query endpoint: frames are blocks of "event:"/"data:" lines
// separated by a blank line.
package sse

import (
	"errors"
	"io"
	"strings"
)

// Event kinds emitted by the query endpoint. Frames without an explicit
// event line default to KindMessage. Kinds not listed here (the server
// emits "start", and may add more) are skipped by consumers.
const (
	KindMessage = "message"
	KindContext = "context"
	KindError   = "error"
	KindEnd     = "end"
)

const (
	frameBoundary = "\n\n"
	eventPrefix   = "event:"
	dataPrefix    = "data:"
)

// Event is one classified protocol frame.
type Event struct {
	Kind string
	Data string
}

// Assembler accumulates text fragments and cuts them into complete frames.
// Fragment boundaries carry no meaning: a frame split across any number of
// fragments is reassembled, and several frames arriving in one fragment are
// all returned. The pending buffer is unbounded; whatever remains in it when
// the transport closes is incomplete by definition and is dropped by the
// caller, matching the origin protocol's trailing-data behavior.
type Assembler struct {
	pending string
}

// Feed appends fragment to the pending buffer and returns every frame that
// is now boundary-complete, in order.
func (a *Assembler) Feed(fragment string) []string {
	parts := strings.Split(a.pending+fragment, frameBoundary)
	a.pending = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Pending returns the current incomplete tail. Used by tests and for
// debug logging on stream close.
func (a *Assembler) Pending() string {
	return a.pending
}

// ParseFrame classifies one complete frame. The kind defaults to "message"
// when no event line is present. Every data line contributes the text after
// the "data:" prefix; multiple data lines are joined with a newline. The
// character following the prefix (usually a space) is kept, as in the origin
// client: JSON payloads decode regardless, and raw-text fallback stays
// byte-identical to what the server sent.
func ParseFrame(frame string) Event {
	ev := Event{Kind: KindMessage}
	var dataLines []string

	for _, line := range strings.Split(frame, "\n") {
		switch {
		case strings.HasPrefix(line, eventPrefix):
			ev.Kind = strings.TrimSpace(line[len(eventPrefix):])
		case strings.HasPrefix(line, dataPrefix):
			dataLines = append(dataLines, line[len(dataPrefix):])
		}
	}

	ev.Data = strings.Join(dataLines, "\n")
	return ev
}

// Reader turns a raw byte stream into an ordered sequence of events.
// Read chunking is arbitrary; events come out exactly once, in arrival
// order. No goroutines are spawned: Next reads the underlying stream in
// the calling goroutine.
type Reader struct {
	src   io.Reader
	asm   Assembler
	buf   []byte
	queue []Event
	done  bool
	err   error
}

// NewReader wraps src. The reader does not close src.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		buf: make([]byte, 4096),
	}
}

// Next returns the next event, blocking on the underlying stream as needed.
// It returns false when the stream ends; check Err afterwards to distinguish
// natural close from an interrupted stream. Only EOF counts as a natural
// close: cancelling the context that governs the underlying response ends
// the stream with the cancellation error, so callers never mistake a torn
// down session for a finished one.
func (r *Reader) Next() (Event, bool) {
	for {
		if len(r.queue) > 0 {
			ev := r.queue[0]
			r.queue = r.queue[1:]
			return ev, true
		}
		if r.done {
			return Event{}, false
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			for _, frame := range r.asm.Feed(string(r.buf[:n])) {
				r.queue = append(r.queue, ParseFrame(frame))
			}
		}
		if err != nil {
			r.done = true
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
		}
	}
}

// Err reports the error that ended the stream, if any. It is nil only
// after a natural close (EOF).
func (r *Reader) Err() error {
	return r.err
}
