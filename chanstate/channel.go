// Package chanstate implements the per-channel finite-state machine (§4.4):
// lifecycle states, MSG-number allocation and reuse detection, outstanding
// tracking, inbound reassembly bookkeeping and the window/sequence fields
// the sequencer consumes.
package chanstate

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/config"
	"github.com/beepcore/beep/wireframe"
)

// State is a channel lifecycle state.
type State int

const (
	Opening State = iota
	Ready
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// ReplyKind describes what kind of reply an outstanding MSG expects, or
// what kind of reply was actually produced.
type ReplyKind int

const (
	ReplyAny ReplyKind = iota
	ReplyRPY
	ReplyANS
	ReplyERR
)

// ErrMsgNoReused is returned when a MSG number is submitted while its
// predecessor with the same number is still unanswered (§4.3 error
// conditions; this is protocol-fatal for the connection, not just the
// call).
var ErrMsgNoReused = errors.New("chanstate: msg number reuse before prior reply")

// ErrChannelClosed is returned for any send attempted on a Closed channel.
var ErrChannelClosed = errors.New("chanstate: channel is closed")

// ErrNoFreeMsgNo is returned when the entire u31 MSG-number space is
// exhausted by outstanding MSGs (practically unreachable, but checked).
var ErrNoFreeMsgNo = errors.New("chanstate: no free MSG number")

// ErrOutstandingLimit is returned by MarkOutstanding when the channel
// already has MaxOutstanding MSGs awaiting reply (§4.3 pending-outbound
// limit, §8 invariant 2).
var ErrOutstandingLimit = errors.New("chanstate: outstanding MSG limit reached")

const maxMsgNo = 1<<31 - 1

// OutstandingMsg records a MSG awaiting reply.
type OutstandingMsg struct {
	MsgNo        uint32
	Expected     ReplyKind
	ArrivalIndex uint64 // assigned when the MSG was (for the replier) received, used for reply ordering
}

// PartialMessage accumulates fragments sharing a wireframe.Key until the
// final (more=false) fragment arrives.
type PartialMessage struct {
	Buf []byte
}

// Channel is the per-connection channel state described in §3/§4.4. The
// Connection exclusively owns a Channel; application code only ever holds
// a *Handle (see handle.go) referencing it.
type Channel struct {
	mu sync.Mutex

	Number     uint32
	ProfileURI string

	state State

	IncomingSeqNo     uint32
	OutgoingSeqNo     uint32
	RemoteWindowStart uint32
	RemoteWindowSize  uint32
	LocalWindowSize   uint32
	lastAckedIncoming uint32

	nextMsgNo  uint32
	outstanding map[uint32]*OutstandingMsg

	inbound map[wireframe.Key]*PartialMessage

	cfg *config.ChannelConfig

	refCount int32

	closeRequestedLocally  bool
	closeRequestedRemotely bool
}

// New creates a Channel in the Opening state with the supplied initial
// local window and channel-level configuration.
func New(number uint32, cfg *config.ChannelConfig) *Channel {
	if cfg == nil {
		cfg = config.DefaultChannelConfig
	}
	return &Channel{
		Number:          number,
		state:           Opening,
		LocalWindowSize: cfg.LocalWindowSize,
		outstanding:     make(map[uint32]*OutstandingMsg),
		inbound:         make(map[wireframe.Key]*PartialMessage),
		cfg:             cfg,
		// A fresh peer channel starts with an empty remote-advertised
		// window; the real value arrives with the profile-start
		// handshake or an initial SEQ. 4096 matches the RFC default so
		// sends are possible immediately after Ready (§6).
		RemoteWindowSize: config.DefaultChannelConfig.LocalWindowSize,
	}
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// MarkReady transitions Opening -> Ready, recording the negotiated profile
// URI (§4.4).
func (c *Channel) MarkReady(profileURI string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Opening {
		return errors.Errorf("chanstate: channel %d: MarkReady from state %s", c.Number, c.state)
	}
	c.ProfileURI = profileURI
	c.state = Ready
	return nil
}

// BeginClosing transitions Ready -> Closing. New MSGs are rejected from
// this point; in-flight replies may still drain (§4.4).
func (c *Channel) BeginClosing() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Ready {
		return errors.Errorf("chanstate: channel %d: BeginClosing from state %s", c.Number, c.state)
	}
	c.state = Closing
	return nil
}

// CanComplete reports whether Closing -> Closed is currently legal: no
// outstanding MSG in either direction.
func (c *Channel) CanComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding) == 0
}

// Complete transitions Closing -> Closed. It is an error to call this while
// MSGs remain outstanding.
func (c *Channel) Complete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Closing && c.state != Opening {
		return errors.Errorf("chanstate: channel %d: Complete from state %s", c.Number, c.state)
	}
	if len(c.outstanding) != 0 {
		return errors.Errorf("chanstate: channel %d: Complete with %d outstanding MSGs", c.Number, len(c.outstanding))
	}
	c.state = Closed
	return nil
}

// RequestCloseLocally records that this peer has asked to close the
// channel, returning true if the remote side had already asked too
// (close-in-transit, §4.4/§9): in that case both requests are satisfied by
// a single <ok/> each side sends the other.
func (c *Channel) RequestCloseLocally() (inTransit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRequestedLocally = true
	return c.closeRequestedRemotely
}

// RequestCloseRemotely is the remote-side counterpart of
// RequestCloseLocally.
func (c *Channel) RequestCloseRemotely() (inTransit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeRequestedRemotely = true
	return c.closeRequestedLocally
}

// AllocMsgNo allocates the smallest free non-negative MSG number modulo
// 2^31 (§4.4 "MSG-number space").
func (c *Channel) AllocMsgNo() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocMsgNoLocked()
}

func (c *Channel) allocMsgNoLocked() (uint32, error) {
	start := c.nextMsgNo
	for {
		candidate := c.nextMsgNo
		if _, busy := c.outstanding[candidate]; !busy {
			c.nextMsgNo = (candidate + 1) & maxMsgNo
			return candidate, nil
		}
		c.nextMsgNo = (c.nextMsgNo + 1) & maxMsgNo
		if c.nextMsgNo == start {
			return 0, ErrNoFreeMsgNo
		}
	}
}

// MarkOutstanding records msgNo as awaiting a reply of the given kind. It
// fails with ErrMsgNoReused if msgNo is already outstanding — the caller
// must treat this as protocol-fatal for the whole connection, per §4.3 —
// and with ErrOutstandingLimit once the channel's configured cap on
// unanswered MSGs is reached (§8 invariant 2), which a caller may instead
// treat as a fail-fast send rejection.
func (c *Channel) MarkOutstanding(msgNo uint32, expected ReplyKind, arrivalIndex uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Closed {
		return ErrChannelClosed
	}
	if _, busy := c.outstanding[msgNo]; busy {
		return ErrMsgNoReused
	}
	if max := c.MaxOutstanding(); max > 0 && len(c.outstanding) >= max {
		return ErrOutstandingLimit
	}
	c.outstanding[msgNo] = &OutstandingMsg{MsgNo: msgNo, Expected: expected, ArrivalIndex: arrivalIndex}
	return nil
}

// ClearOutstanding removes msgNo from the outstanding set once its reply
// has been fully sent or received.
func (c *Channel) ClearOutstanding(msgNo uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outstanding, msgNo)
}

// Outstanding returns the OutstandingMsg for msgNo, if any.
func (c *Channel) Outstanding(msgNo uint32) (*OutstandingMsg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	om, ok := c.outstanding[msgNo]
	return om, ok
}

// OutstandingCount reports how many MSGs on this channel await a reply
// (§8 invariant 2).
func (c *Channel) OutstandingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outstanding)
}

// MaxOutstanding returns the configured cap on outstanding MSGs.
func (c *Channel) MaxOutstanding() int {
	if c.cfg == nil {
		return config.DefaultChannelConfig.MaxOutstanding
	}
	return c.cfg.MaxOutstanding
}

// RemoteWindowEnd computes remote_window_start + remote_window_size using
// 32-bit modular arithmetic (§4.3).
func (c *Channel) RemoteWindowEnd() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.RemoteWindowStart + c.RemoteWindowSize
}

// Allowed computes how many more octets may be sent on this channel right
// now: remote_window_end - outgoing_seq_no, mod 2^32 (§4.3).
func (c *Channel) Allowed() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := c.RemoteWindowStart + c.RemoteWindowSize
	return end - c.OutgoingSeqNo
}

// AdvanceOutgoing records n bytes as sent, rolling outgoing_seq_no over
// naturally at 2^32.
func (c *Channel) AdvanceOutgoing(n uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.OutgoingSeqNo
	c.OutgoingSeqNo += n
	return seq
}

// UpdateRemoteWindow applies a SEQ frame's advertised window to this
// channel's remote-window fields (§4.6).
func (c *Channel) UpdateRemoteWindow(ackNo, window uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RemoteWindowStart = ackNo
	c.RemoteWindowSize = window
}

// ObserveIncoming validates that seqNo matches the channel's running
// incoming octet count and, if so, advances it by n. A mismatch is
// protocol-fatal for the connection (§8 invariant 1).
func (c *Channel) ObserveIncoming(seqNo uint32, n uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seqNo != c.IncomingSeqNo {
		return errors.Errorf("chanstate: channel %d: seq_no %d != expected %d", c.Number, seqNo, c.IncomingSeqNo)
	}
	c.IncomingSeqNo += n
	return nil
}

// UnacknowledgedInbound reports how many inbound octets have been
// received since the local window was last advertised via SEQ, used by
// the reader loop to decide when a fresh SEQ is due (§4.6).
func (c *Channel) UnacknowledgedInbound() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.IncomingSeqNo - c.lastAckedIncoming
}

// MarkWindowAcked records that a SEQ advertising the window up to the
// channel's current IncomingSeqNo has just been sent.
func (c *Channel) MarkWindowAcked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAckedIncoming = c.IncomingSeqNo
}

// Reassemble appends a fragment's payload to the entry keyed by key,
// returning the accumulated buffer and whether the caller should keep
// buffering (more fragments expected).
func (c *Channel) Reassemble(key wireframe.Key, payload []byte, more bool) (complete []byte, done bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pm, ok := c.inbound[key]
	if !ok {
		pm = &PartialMessage{}
		c.inbound[key] = pm
	}
	pm.Buf = append(pm.Buf, payload...)

	if more {
		return nil, false
	}
	delete(c.inbound, key)
	return pm.Buf, true
}

// ReassemblyLimit exceeded check: a caller may use this to enforce
// CompleteFrameLimit as a DoS guard regardless of whether CompleteFrame
// merging is enabled (§9 open question on complete-flag teardown).
func (c *Channel) ReassemblyExceeds(key wireframe.Key, limit int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm, ok := c.inbound[key]
	return ok && limit > 0 && len(pm.Buf) > limit
}

// CompleteFrame reports whether small-frame merging before delivery is
// enabled for this channel.
func (c *Channel) CompleteFrame() bool {
	return c.cfg != nil && c.cfg.CompleteFrame
}

// CompleteFrameLimit returns the configured reassembly bound.
func (c *Channel) CompleteFrameLimit() int {
	if c.cfg == nil {
		return config.DefaultChannelConfig.CompleteFrameLimit
	}
	return c.cfg.CompleteFrameLimit
}

// Serialize reports whether the channel's frame-received handler must be
// invoked strictly one frame at a time.
func (c *Channel) Serialize() bool {
	return c.cfg != nil && c.cfg.Serialize
}

// Retain increments the channel's reference count (§3 Ownership, §9
// "Implicit recursion"): entering a handler for the channel retains it so
// it cannot be freed while the handler runs.
func (c *Channel) Retain() { atomic.AddInt32(&c.refCount, 1) }

// Release decrements the reference count; it is the caller's job to check
// whether release now permits destruction (refCount == 0 and Closed).
func (c *Channel) Release() int32 { return atomic.AddInt32(&c.refCount, -1) }

// RefCount reports the current reference count.
func (c *Channel) RefCount() int32 { return atomic.LoadInt32(&c.refCount) }
