// Package wirebuf owns the per-connection inbound byte buffer (§4.2): it
// accumulates bytes from the transport, repeatedly drives the wireframe
// codec, and enforces a bound on how large a single partial frame may grow
// before the connection is declared fatal.
//
// A Buffer is single-consumer (the reader loop) and needs no internal
// synchronization.
package wirebuf

import (
	"io"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/wireframe"
)

// DefaultMaxPartialFrame is used when a Buffer is constructed with a
// non-positive limit. It matches one channel's default advertised window
// plus header/trailer overhead (§4.2).
const DefaultMaxPartialFrame = 4096 + 256

// ErrPartialFrameTooLarge is returned from Next/Fill when accumulated,
// still-incomplete frame bytes exceed the configured maximum.
var ErrPartialFrameTooLarge = errors.New("wirebuf: partial frame exceeds maximum size")

// Buffer accumulates bytes read from a transport and tokenizes them into
// frames via wireframe.ParseFrame.
type Buffer struct {
	data       []byte
	maxPartial int
}

// New creates a Buffer bounding partial frames to maxPartial bytes. A
// non-positive maxPartial selects DefaultMaxPartialFrame.
func New(maxPartial int) *Buffer {
	if maxPartial <= 0 {
		maxPartial = DefaultMaxPartialFrame
	}
	return &Buffer{maxPartial: maxPartial}
}

// Feed appends freshly read transport bytes to the buffer.
func (b *Buffer) Feed(p []byte) {
	b.data = append(b.data, p...)
}

// ReadFrom reads once from r, appending whatever is read to the buffer, and
// returns the byte count and any read error (including io.EOF).
func (b *Buffer) ReadFrom(r io.Reader, scratch []byte) (int, error) {
	n, err := r.Read(scratch)
	if n > 0 {
		b.Feed(scratch[:n])
	}
	return n, err
}

// Next attempts to tokenize one complete frame from the front of the
// buffer. ok is false when more bytes are required (the caller should read
// more from the transport and call Next again); err is non-nil only for a
// protocol-fatal malformed header/trailer or an oversized partial frame.
func (b *Buffer) Next() (frame *wireframe.Frame, seq *wireframe.SeqFrame, ok bool, err error) {
	f, s, consumed, perr := wireframe.ParseFrame(b.data)
	if perr == nil {
		b.data = b.data[consumed:]
		return f, s, true, nil
	}

	if _, isNeed := perr.(*wireframe.NeedMore); isNeed {
		if len(b.data) > b.maxPartial {
			return nil, nil, false, errors.Wrapf(ErrPartialFrameTooLarge, "buffered %d bytes, limit %d", len(b.data), b.maxPartial)
		}
		return nil, nil, false, nil
	}

	return nil, nil, false, perr
}

// Pending reports how many unconsumed bytes remain buffered.
func (b *Buffer) Pending() int { return len(b.data) }
