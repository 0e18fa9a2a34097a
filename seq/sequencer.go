// Package seq implements the outbound sequencer (§4.3): per-channel
// fragmentation against the remote window, round-robin fairness across
// channels, MSG/ans framing, and PayloadFeeder integration.
package seq

import (
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/chanstate"
	"github.com/beepcore/beep/config"
	"github.com/beepcore/beep/wireframe"
)

// ErrChannelClosed mirrors chanstate.ErrChannelClosed for sends rejected at
// the sequencer boundary.
var ErrChannelClosed = chanstate.ErrChannelClosed

// ErrOutstandingLimit is returned by Enqueue when the channel's
// pending-outbound limit (§4.3.7) has been reached and the caller's policy
// is fail-fast rather than block.
var ErrOutstandingLimit = errors.New("seq: pending-outbound limit reached")

// FrameSizeHint computes the segmenter_hint given how many bytes remain to
// offer and how many the window currently allows (§4.3.3). The default
// returns min(allowed, 32768).
type FrameSizeHint func(channel uint32, allowed uint32) int

// DefaultFrameSizeHint is used when no FrameSizeHint is supplied. It caps a
// frame at config.DefaultConfig.DefaultFrameSize (§4.3).
func DefaultFrameSizeHint(_ uint32, allowed uint32) int {
	def := config.DefaultConfig.DefaultFrameSize
	if int(allowed) < def {
		return int(allowed)
	}
	return def
}

// Item is one logical outbound unit (a MSG, RPY, single ERR, or a single
// ANS frame / NUL) to be fragmented and transmitted.
type Item struct {
	Channel uint32
	MsgNo   uint32
	Type    wireframe.FrameType
	AnsNo   uint32

	feeder  *Feeder
	started bool

	// Done is closed once the item has been fully transmitted or has
	// failed; Err holds the failure, if any.
	Done chan struct{}
	Err  error
}

// NewItem wraps payload as a single-shot Feeder and builds an Item ready
// for Enqueue.
func NewItem(channel uint32, msgNo uint32, ft wireframe.FrameType, ansNo uint32, payload []byte) *Item {
	return &Item{Channel: channel, MsgNo: msgNo, Type: ft, AnsNo: ansNo, feeder: BytesFeeder(payload), Done: make(chan struct{})}
}

// NewFeederItem builds an Item streaming from an application-supplied
// Feeder.
func NewFeederItem(channel uint32, msgNo uint32, ft wireframe.FrameType, ansNo uint32, feeder *Feeder) *Item {
	return &Item{Channel: channel, MsgNo: msgNo, Type: ft, AnsNo: ansNo, feeder: feeder, Done: make(chan struct{})}
}

type channelQueue struct {
	ch      *chanstate.Channel
	pending []*Item
}

// Sequencer fragments and paces outbound frames across every channel of one
// connection, selecting among channels with ready bytes in round-robin
// order (§4.3.5) and writing completed frames via Output.
type Sequencer struct {
	mu sync.Mutex

	channels map[uint32]*channelQueue
	order    []uint32
	rrPos    int

	maxPending int // per-channel pending-outbound item cap; 0 = unbounded

	hint FrameSizeHint

	// Output writes one frame to the writer path. It must not block
	// indefinitely on application code (§5 "no user callback ... while
	// holding any core-owned mutex" — Output itself is core code, not a
	// user callback, but it is called without the Sequencer's own lock
	// held).
	Output func(*wireframe.Frame) error

	wake chan struct{}
}

// New creates an empty Sequencer. hint may be nil to use
// DefaultFrameSizeHint. maxPending <= 0 means unbounded.
func New(output func(*wireframe.Frame) error, hint FrameSizeHint, maxPending int) *Sequencer {
	if hint == nil {
		hint = DefaultFrameSizeHint
	}
	return &Sequencer{
		channels:   make(map[uint32]*channelQueue),
		hint:       hint,
		maxPending: maxPending,
		Output:     output,
		wake:       make(chan struct{}, 1),
	}
}

// AddChannel registers ch with the sequencer so it participates in
// round-robin scheduling.
func (s *Sequencer) AddChannel(ch *chanstate.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.Number]; ok {
		return
	}
	s.channels[ch.Number] = &channelQueue{ch: ch}
	s.order = append(s.order, ch.Number)
}

// RemoveChannel drops a closed channel from scheduling. Any still-pending
// items are failed with ErrChannelClosed.
func (s *Sequencer) RemoveChannel(number uint32) {
	s.mu.Lock()
	q, ok := s.channels[number]
	if ok {
		delete(s.channels, number)
		for i, n := range s.order {
			if n == number {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if ok {
		for _, it := range q.pending {
			it.Err = ErrChannelClosed
			close(it.Done)
		}
	}
}

// Enqueue submits item for transmission on its channel. It re-enqueues the
// item's feeder for wake-up on resume, so a paused feeder does not starve
// fairness for other channels (§9).
func (s *Sequencer) Enqueue(item *Item) error {
	s.mu.Lock()
	q, ok := s.channels[item.Channel]
	if !ok {
		s.mu.Unlock()
		return errors.Errorf("seq: unknown channel %d", item.Channel)
	}
	if s.maxPending > 0 && len(q.pending) >= s.maxPending {
		s.mu.Unlock()
		return ErrOutstandingLimit
	}
	q.pending = append(q.pending, item)
	s.mu.Unlock()

	item.feeder.SetOnResume(func() { s.Notify() })
	s.Notify()
	return nil
}

// Notify wakes the Run loop; call after any external state change that
// might make a channel ready (window update, feeder resume, new channel).
func (s *Sequencer) Notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending reports the number of items queued for channel number.
func (s *Sequencer) Pending(number uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.channels[number]
	if !ok {
		return 0
	}
	return len(q.pending)
}

// Run drives the sequencer until ctx is done or a fatal transport error
// occurs. It is intended to run on its own goroutine for the life of the
// connection.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		progressed, err := s.stepAll()
		if err != nil {
			return err
		}
		if progressed {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// stepAll attempts one fragment on every ready channel, advancing the
// round-robin pointer by one slot per successfully-emitted frame so no
// channel with ready bytes is starved by a busier peer (§4.3.5). It
// returns progressed=true if at least one frame was emitted.
func (s *Sequencer) stepAll() (progressed bool, err error) {
	s.mu.Lock()
	n := len(s.order)
	s.mu.Unlock()
	if n == 0 {
		return false, nil
	}

	for i := 0; i < n; i++ {
		ok, emitErr := s.stepOne()
		if emitErr != nil {
			return progressed, emitErr
		}
		if ok {
			progressed = true
		}
	}
	return progressed, nil
}

// stepOne advances the round-robin pointer by one channel and, if that
// channel has ready bytes, emits exactly one frame for it.
func (s *Sequencer) stepOne() (emitted bool, err error) {
	s.mu.Lock()
	if len(s.order) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.rrPos = s.rrPos % len(s.order)
	number := s.order[s.rrPos]
	s.rrPos++
	q := s.channels[number]
	if q == nil || len(q.pending) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	item := q.pending[0]
	ch := q.ch
	s.mu.Unlock()

	allowed := ch.Allowed()
	if allowed == 0 {
		return false, nil
	}

	max := s.hint(number, allowed)
	if max <= 0 {
		return false, nil
	}

	chunk, ferr := item.feeder.Next(max)
	switch {
	case ferr == ErrPaused:
		return false, nil
	case ferr != nil && ferr != io.EOF:
		s.failItem(number, item, ferr)
		return false, ferr
	}

	finished := ferr == io.EOF
	if len(chunk) == 0 && !finished {
		// A zero-byte, non-final Next should not happen for a correct
		// Feeder; treat it as "no bytes ready yet" rather than spin.
		return false, nil
	}

	item.started = true

	frame := &wireframe.Frame{
		Type:        item.Type,
		Channel:     item.Channel,
		MsgNo:       item.MsgNo,
		More:        !finished,
		SeqNo:       ch.AdvanceOutgoing(uint32(len(chunk))),
		PayloadSize: uint32(len(chunk)),
		AnsNo:       item.AnsNo,
		Payload:     chunk,
	}

	if werr := s.Output(frame); werr != nil {
		s.failItem(number, item, werr)
		return false, werr
	}

	if finished {
		s.popFront(number)
		close(item.Done)
	}
	return true, nil
}

func (s *Sequencer) popFront(number uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.channels[number]
	if !ok || len(q.pending) == 0 {
		return
	}
	q.pending = q.pending[1:]
}

func (s *Sequencer) failItem(number uint32, item *Item, err error) {
	s.popFront(number)
	item.Err = err
	close(item.Done)
}
