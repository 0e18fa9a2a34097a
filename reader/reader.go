// Package reader implements the single-goroutine inbound loop (§4.6):
// read bytes from the transport, parse complete frames via wirebuf, update
// channel window/sequence state, reassemble fragmented messages, and hand
// off completed messages and SEQ updates to the owning connection.
package reader

import (
	"io"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/chanstate"
	"github.com/beepcore/beep/wireframe"
	"github.com/beepcore/beep/wireframe/wirebuf"
)

// Dispatcher is the subset of connection state the reader loop needs to
// resolve and act on parsed frames, kept narrow so the loop has no direct
// dependency on the session/sequencer/profile packages (mirrors the
// teacher's sesImpl exposing only allocChan/pushRespChan/popRespChan to
// its message-handling goroutine, not its full Session surface).
type Dispatcher interface {
	// ChannelByNumber resolves an active channel, or ok=false if unknown
	// or already closed.
	ChannelByNumber(number uint32) (ch *chanstate.Channel, ok bool)

	// HandleSeq applies a received SEQ frame's window update.
	HandleSeq(ch *chanstate.Channel, seq *wireframe.SeqFrame)

	// HandleMessage delivers one fully-reassembled inbound message.
	HandleMessage(ch *chanstate.Channel, frame *wireframe.Frame, payload []byte)

	// SendWindowUpdate is invoked once a channel's unacknowledged inbound
	// bytes cross the configured threshold, so the writer can emit a SEQ.
	SendWindowUpdate(ch *chanstate.Channel) error

	// HandleFatal is invoked once for an unrecoverable transport or
	// protocol error that ends the loop.
	HandleFatal(err error)
}

// Loop owns the inbound read cycle for one connection.
type Loop struct {
	transport io.Reader
	buf       *wirebuf.Buffer
	disp      Dispatcher
	scratch   []byte

	// windowUpdateFraction controls how much of LocalWindowSize may be
	// consumed, unacknowledged, before a SEQ update is sent; 2 means "at
	// half the window" (§4.6 "periodic SEQ emission").
	windowUpdateFraction uint32
}

// New creates a reader Loop. maxPartialFrame bounds the wirebuf.Buffer's
// tolerance for an incomplete header/trailer before treating the stream
// as corrupt.
func New(transport io.Reader, disp Dispatcher, maxPartialFrame int) *Loop {
	return &Loop{
		transport:            transport,
		buf:                  wirebuf.New(maxPartialFrame),
		disp:                 disp,
		scratch:              make([]byte, 32*1024),
		windowUpdateFraction: 2,
	}
}

// Run drives the loop until the transport returns an error (including
// io.EOF) or a fatal protocol violation occurs. It always returns a
// non-nil error; io.EOF indicates an orderly peer-initiated close.
func (l *Loop) Run() error {
	for {
		frame, seq, ok, err := l.buf.Next()
		if err != nil {
			l.disp.HandleFatal(err)
			return err
		}
		if !ok {
			n, rerr := l.buf.ReadFrom(l.transport, l.scratch)
			if n == 0 && rerr != nil {
				if rerr != io.EOF {
					l.disp.HandleFatal(rerr)
				}
				return rerr
			}
			continue
		}
		if seq != nil {
			if err := l.handleSeq(seq); err != nil {
				l.disp.HandleFatal(err)
				return err
			}
			continue
		}
		if err := l.handleFrame(frame); err != nil {
			l.disp.HandleFatal(err)
			return err
		}
	}
}

// handleSeq applies a received SEQ frame. A SEQ for an unknown or already
// closed channel is discarded silently (§4.6) rather than treated as a
// protocol violation — unlike a data frame, it carries no payload to lose
// and commonly arrives racing a close already in flight.
func (l *Loop) handleSeq(seq *wireframe.SeqFrame) error {
	ch, ok := l.disp.ChannelByNumber(seq.Channel)
	if !ok {
		return nil
	}
	l.disp.HandleSeq(ch, seq)
	return nil
}

func (l *Loop) handleFrame(frame *wireframe.Frame) error {
	ch, ok := l.disp.ChannelByNumber(frame.Channel)
	if !ok {
		return errors.Errorf("reader: frame for unknown channel %d", frame.Channel)
	}

	if err := ch.ObserveIncoming(frame.SeqNo, frame.PayloadSize); err != nil {
		return err
	}

	key := frame.KeyOf()
	if ch.ReassemblyExceeds(key, ch.CompleteFrameLimit()) {
		return errors.Errorf("reader: reassembly limit exceeded on channel %d", frame.Channel)
	}

	complete, done := ch.Reassemble(key, frame.Payload, frame.More)
	if !done {
		return l.maybeSendWindowUpdate(ch)
	}

	l.disp.HandleMessage(ch, frame, complete)
	return l.maybeSendWindowUpdate(ch)
}

func (l *Loop) maybeSendWindowUpdate(ch *chanstate.Channel) error {
	threshold := ch.LocalWindowSize / l.windowUpdateFraction
	if threshold == 0 {
		threshold = 1
	}
	if ch.UnacknowledgedInbound() < threshold {
		return nil
	}
	return l.disp.SendWindowUpdate(ch)
}
