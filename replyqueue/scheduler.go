// Package replyqueue implements the per-channel reply-ordering scheduler
// (§4.4, §4.8, RFC 3081): replies to MSGs must leave the replier in the
// order the MSGs arrived, even when the application produces them out of
// order.
package replyqueue

import "sync"

// Kind identifies what sort of reply unit a PendingReply carries.
type Kind int

const (
	KindRPY Kind = iota
	KindERR
	KindANS // a complete ANS...NUL group is submitted as a single unit
)

// ReplyState is the observable state of a queued reply.
type ReplyState int

const (
	StateQueued ReplyState = iota
	StateReady
	StateStreaming
	StateFinished
)

// PendingReply is one entry in a channel's reply queue (§3). The Scheduler
// does not interpret Frames or Feeder itself — it is opaque payload the
// writer/sequencer consumes once the Scheduler declares the entry Ready.
type PendingReply struct {
	MsgNo        uint32
	Kind         Kind
	ArrivalIndex uint64
	state        ReplyState

	// Payload is supplied by the caller: either a pre-built slice of
	// wire-ready chunks, or left nil if the caller drives sending via
	// some other mechanism and only needs ordering signaling (Ready()).
	Payload interface{}
}

// Scheduler enforces that replies leave in MSG-arrival order for one
// channel. NextArrivalIndex is called once per MSG received (including by
// the reader loop for MSGs this peer must reply to); Submit queues a reply
// keyed by that same index; Ready blocks (via the returned channel) until
// it is that reply's turn.
type Scheduler struct {
	mu sync.Mutex

	nextArrival uint64
	nextToSend  uint64

	queue map[uint64]*PendingReply
	ready map[uint64]chan struct{}
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		queue: make(map[uint64]*PendingReply),
		ready: make(map[uint64]chan struct{}),
	}
}

// NextArrivalIndex allocates the next MSG-arrival index. Call this exactly
// once per received MSG, in receipt order; store the result alongside the
// channel's OutstandingMsg so Submit can be called with it later.
func (s *Scheduler) NextArrivalIndex() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.nextArrival
	s.nextArrival++
	return idx
}

// Submit enqueues pr, keyed by pr.ArrivalIndex. It returns a channel that
// is closed once pr is at the head of the order (i.e. every
// lower-arrival-index reply has already been fully sent). If pr is already
// at the head, the returned channel is already closed.
func (s *Scheduler) Submit(pr *PendingReply) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	pr.state = StateQueued
	s.queue[pr.ArrivalIndex] = pr

	ch := make(chan struct{})
	s.ready[pr.ArrivalIndex] = ch
	if pr.ArrivalIndex == s.nextToSend {
		pr.state = StateReady
		close(ch)
	}
	return ch
}

// Finish marks the reply for arrivalIndex as fully sent and advances the
// schedule, unblocking whichever subsequent reply (if any) is now at the
// head.
func (s *Scheduler) Finish(arrivalIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pr, ok := s.queue[arrivalIndex]; ok {
		pr.state = StateFinished
	}
	delete(s.queue, arrivalIndex)
	delete(s.ready, arrivalIndex)

	if arrivalIndex != s.nextToSend {
		return
	}
	s.nextToSend++

	if next, ok := s.queue[s.nextToSend]; ok {
		next.state = StateReady
		if ch, ok := s.ready[s.nextToSend]; ok {
			select {
			case <-ch:
			default:
				close(ch)
			}
		}
	}
}

// Pending reports how many replies are currently queued (awaiting their
// turn or in flight).
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextToSend reports the arrival index currently at the head of the order.
func (s *Scheduler) NextToSend() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextToSend
}
