// Package writer implements the single-writer output path (§4.7): it
// serializes SEQ frames (emitted directly in response to window
// thresholds) and data frames (emitted by the seq.Sequencer) onto one
// transport, since BEEP permits only one writer per connection at a time.
package writer

import (
	"io"
	"sync"

	"github.com/beepcore/beep/wireframe"
)

// Writer owns the sole io.Writer for a connection and serializes every
// frame through it, mirroring the teacher's encoder wrapping a single
// underlying Transport (client/transport.go, netconf/codec.go).
type Writer struct {
	mu        sync.Mutex
	transport io.Writer
}

// New creates a Writer over transport.
func New(transport io.Writer) *Writer {
	return &Writer{transport: transport}
}

// WriteFrame serializes and writes a data frame. It is safe to call
// concurrently with WriteSeq and with itself; all callers are serialized
// on the same mutex (§4.7 "at most one writer active at a time").
func (w *Writer) WriteFrame(f *wireframe.Frame) error {
	return w.write(f.Encode())
}

// WriteSeq serializes and writes a SEQ frame.
func (w *Writer) WriteSeq(s *wireframe.SeqFrame) error {
	return w.write(s.Encode())
}

func (w *Writer) write(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for len(buf) > 0 {
		n, err := w.transport.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
