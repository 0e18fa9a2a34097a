// Package peer assembles wireframe, wirebuf, seq, chanstate, session,
// reader, writer, event, dispatch and profile into the public Connection
// API (§4, §6): the BEEP peer library's top-level entry point, grounded on
// the teacher's sesImpl (netconf/client/message.go) for its read-loop and
// request/reply correlation shape.
package peer

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"

	"github.com/beepcore/beep/beeptrace"
	"github.com/beepcore/beep/chanstate"
	"github.com/beepcore/beep/config"
	"github.com/beepcore/beep/dispatch"
	"github.com/beepcore/beep/event"
	"github.com/beepcore/beep/mime"
	"github.com/beepcore/beep/profile"
	"github.com/beepcore/beep/reader"
	"github.com/beepcore/beep/replyqueue"
	"github.com/beepcore/beep/seq"
	"github.com/beepcore/beep/session"
	"github.com/beepcore/beep/wireframe"
	"github.com/beepcore/beep/writer"
)

// Transport is the duplex byte stream a Connection runs BEEP over: a raw
// TCP socket, an SSH channel (see sshtransport), or an in-memory pipe for
// tests (see internal/testtransport).
type Transport interface {
	io.Reader
	io.Writer
	Close() error
}

// ErrNotReady is returned by channel operations attempted before the
// greeting exchange has completed (§4.5).
var ErrNotReady = errors.New("peer: connection greeting not complete")

// ErrClosed is returned by operations attempted after the connection has
// closed.
var ErrClosed = errors.New("peer: connection is closed")

type pendingZero struct {
	reply chan zeroReply
}

// arrivalKey identifies one outstanding inbound MSG for reply-ordering
// purposes (§4.3 reply scheduling).
type arrivalKey struct {
	channel uint32
	msgNo   uint32
}

type zeroReply struct {
	profile *session.ProfileReply
	ok      bool
	err     *session.ErrorReply
}

// Connection is one BEEP session: a transport plus every piece of state
// needed to multiplex channels over it.
type Connection struct {
	transport Transport
	cfg       *config.Config
	chanCfg   *config.ChannelConfig
	trace     *beeptrace.Trace
	registry  *profile.Registry
	events    *event.Sink
	pool      *dispatch.Pool

	role session.Role
	fsm  *session.FSM

	w   *writer.Writer
	seq *seq.Sequencer

	mu           sync.Mutex
	channels     map[uint32]*chanstate.Channel
	replies      map[uint32]*replyqueue.Scheduler
	arrivalIndex map[arrivalKey]uint64

	zeroLock sync.Mutex
	zeroQ    []*pendingZero

	greetingCh  chan error
	closeOnce   sync.Once
	closed      chan struct{}
	closeReason error

	cancelRun context.CancelFunc
}

// Options configures a new Connection beyond its role and transport.
type Options struct {
	ServerName   string
	LocalProfiles []string
	Registry     *profile.Registry
	Config       *config.Config
	ChannelConfig *config.ChannelConfig
	Trace        *beeptrace.Trace
	WorkerPoolMin int
	WorkerPoolMax int
}

func (o *Options) resolved() *Options {
	r := *o
	if r.Config == nil {
		r.Config = &config.Config{}
	}
	resolvedCfg := *r.Config
	_ = mergo.Merge(&resolvedCfg, config.DefaultConfig)
	r.Config = &resolvedCfg

	if r.ChannelConfig == nil {
		r.ChannelConfig = &config.ChannelConfig{}
	}
	resolvedChanCfg := *r.ChannelConfig
	_ = mergo.Merge(&resolvedChanCfg, config.DefaultChannelConfig)
	r.ChannelConfig = &resolvedChanCfg

	if r.Registry == nil {
		r.Registry = profile.NewRegistry()
	}
	if r.Trace == nil {
		r.Trace = beeptrace.NoOpTrace
	}
	if r.WorkerPoolMin <= 0 {
		r.WorkerPoolMin = 2
	}
	if r.WorkerPoolMax < r.WorkerPoolMin {
		r.WorkerPoolMax = r.WorkerPoolMin * 4
	}
	return &r
}

// Dial establishes a Connection as the Initiator over an already-connected
// transport and performs the greeting exchange, blocking until it
// completes or opts.Config.GreetingTimeout elapses.
func Dial(ctx context.Context, t Transport, opts Options) (*Connection, error) {
	return newConnection(ctx, t, session.Initiator, &opts)
}

// Accept establishes a Connection as the Listener over an already-accepted
// transport and performs the greeting exchange.
func Accept(ctx context.Context, t Transport, opts Options) (*Connection, error) {
	return newConnection(ctx, t, session.Listener, &opts)
}

func newConnection(ctx context.Context, t Transport, role session.Role, opts *Options) (*Connection, error) {
	o := opts.resolved()

	c := &Connection{
		transport:  t,
		cfg:        o.Config,
		chanCfg:    o.ChannelConfig,
		trace:      o.Trace,
		registry:   o.Registry,
		events:     event.NewSink(),
		pool:       dispatch.New(o.WorkerPoolMin, o.WorkerPoolMax, 64),
		role:       role,
		fsm:        session.New(role, o.LocalProfiles, nil, !o.Config.DisableAutomaticServerName),
		channels:     make(map[uint32]*chanstate.Channel),
		replies:      make(map[uint32]*replyqueue.Scheduler),
		arrivalIndex: make(map[arrivalKey]uint64),
		greetingCh: make(chan error, 1),
		closed:     make(chan struct{}),
	}

	c.w = writer.New(t)
	c.seq = seq.New(c.w.WriteFrame, nil, o.ChannelConfig.MaxOutstanding)

	zero := chanstate.New(0, c.chanCfg)
	_ = zero.MarkReady("")
	c.channels[0] = zero
	c.replies[0] = replyqueue.New()
	c.seq.AddChannel(zero)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	loop := reader.New(t, c, c.cfg.MaxPartialFrame)
	go func() { _ = c.seq.Run(runCtx) }()
	go c.runReader(loop)

	if err := c.sendGreeting(); err != nil {
		c.Close()
		return nil, err
	}

	timeout := o.Config.GreetingTimeout
	if timeout <= 0 {
		timeout = config.DefaultConfig.GreetingTimeout
	}
	select {
	case err := <-c.greetingCh:
		if err != nil {
			c.Close()
			return nil, err
		}
	case <-time.After(timeout):
		c.Close()
		return nil, errors.New("peer: timed out waiting for peer greeting")
	case <-ctx.Done():
		c.Close()
		return nil, ctx.Err()
	}

	c.trace.ConnectionReady(c.roleString())
	c.events.Deliver(event.Event{Kind: event.ConnectionReady})
	return c, nil
}

func (c *Connection) roleString() string {
	if c.role == session.Initiator {
		return "initiator"
	}
	return "listener"
}

func (c *Connection) runReader(loop *reader.Loop) {
	_ = loop.Run()
}

func (c *Connection) sendGreeting() error {
	g := c.fsm.BuildGreeting(c.fsm.ServerName())
	body, err := session.Marshal(g)
	if err != nil {
		return err
	}
	if err := c.sendZero(wireframe.RPY, 0, mime.Join(mime.Entity{Body: body})); err != nil {
		return err
	}
	c.fsm.MarkGreetingSent()
	return nil
}

// sendZero writes one channel-zero frame through the sequencer and blocks
// until it is fully transmitted.
func (c *Connection) sendZero(ft wireframe.FrameType, msgNo uint32, payload []byte) error {
	item := seq.NewItem(0, msgNo, ft, 0, payload)
	if err := c.seq.Enqueue(item); err != nil {
		return err
	}
	<-item.Done
	return item.Err
}

// ChannelByNumber implements reader.Dispatcher.
// ChannelByNumber implements reader.Dispatcher: it reports ok=false for an
// unknown channel or one that has already been closed, even if a stale
// entry is still in the map (belt-and-braces alongside the delete that
// CloseChannel/handleCloseRequest perform on completion).
func (c *Connection) ChannelByNumber(number uint32) (*chanstate.Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[number]
	if !ok || ch.State() == chanstate.Closed {
		return nil, false
	}
	return ch, true
}

// HandleSeq implements reader.Dispatcher.
func (c *Connection) HandleSeq(ch *chanstate.Channel, s *wireframe.SeqFrame) {
	ch.UpdateRemoteWindow(s.AckNo, s.Window)
	c.seq.Notify()
	c.trace.WindowUpdated(ch.Number, s.AckNo, s.Window)
}

// SendWindowUpdate implements reader.Dispatcher.
func (c *Connection) SendWindowUpdate(ch *chanstate.Channel) error {
	s := &wireframe.SeqFrame{Channel: ch.Number, AckNo: ch.IncomingSeqNo, Window: ch.LocalWindowSize}
	ch.MarkWindowAcked()
	return c.w.WriteSeq(s)
}

// HandleFatal implements reader.Dispatcher.
func (c *Connection) HandleFatal(err error) {
	c.trace.Error("reader loop", err, true)
	c.mu.Lock()
	if c.closeReason == nil {
		c.closeReason = err
	}
	c.mu.Unlock()
	c.Close()
}

// HandleMessage implements reader.Dispatcher, routing a complete inbound
// message either to channel-zero session handling or to the channel's
// profile.
func (c *Connection) HandleMessage(ch *chanstate.Channel, frame *wireframe.Frame, payload []byte) {
	if ch.Number == 0 {
		c.handleZeroMessage(frame, payload)
		return
	}
	c.handleProfileFrame(ch, frame, payload)
}

func (c *Connection) handleProfileFrame(ch *chanstate.Channel, frame *wireframe.Frame, payload []byte) {
	h, ok := c.registry.Lookup(ch.ProfileURI)
	body := mime.Split(payload).Body
	fctx := profile.FrameContext{Channel: ch.Number, Type: frame.Type, MsgNo: frame.MsgNo, AnsNo: frame.AnsNo, Payload: body}

	c.events.Deliver(event.Event{Kind: event.FrameReceived, Channel: ch.Number, Frame: frame})

	if frame.Type == wireframe.MSG {
		c.mu.Lock()
		sched := c.replies[ch.Number]
		c.mu.Unlock()
		arrival := sched.NextArrivalIndex()
		if err := ch.MarkOutstanding(frame.MsgNo, chanstate.ReplyAny, arrival); err != nil {
			c.HandleFatal(err)
			return
		}
		c.mu.Lock()
		c.arrivalIndex[arrivalKey{ch.Number, frame.MsgNo}] = arrival
		c.mu.Unlock()
		ch.Retain()
	} else if terminal(frame.Type) {
		// This answers a MSG we sent (sendChannelPayload marked it
		// outstanding before enqueueing); release that slot now that the
		// reply has arrived.
		ch.ClearOutstanding(frame.MsgNo)
	}
	submit := func() {
		defer func() {
			if frame.Type == wireframe.MSG {
				ch.Release()
			}
		}()
		if ok && h.OnFrame != nil {
			h.OnFrame(fctx, h.UserData)
		}
	}
	if ch.Serialize() {
		submit()
	} else {
		_ = c.pool.Submit(submit)
	}
}

// SendReply implements the surface profile callbacks (e.g. echo.FrameSender)
// need to answer a MSG with an RPY.
func (c *Connection) SendReply(channel uint32, msgNo uint32, payload []byte) error {
	return c.sendChannelPayload(channel, wireframe.RPY, msgNo, 0, payload)
}

// SendError answers a MSG with an ERR.
func (c *Connection) SendError(channel uint32, msgNo uint32, payload []byte) error {
	return c.sendChannelPayload(channel, wireframe.ERR, msgNo, 0, payload)
}

// SendAnswer sends one ANS frame in a (possibly multi-frame) answer set;
// the caller is responsible for eventually calling SendAnswerComplete.
func (c *Connection) SendAnswer(channel uint32, msgNo uint32, ansNo uint32, payload []byte) error {
	return c.sendChannelPayload(channel, wireframe.ANS, msgNo, ansNo, payload)
}

// SendAnswerComplete sends the terminating NUL frame for an ANS set.
func (c *Connection) SendAnswerComplete(channel uint32, msgNo uint32) error {
	return c.sendChannelPayload(channel, wireframe.NUL, msgNo, 0, nil)
}

// SendMessage sends a new MSG on channel, returning once it is fully
// transmitted. msgNo should come from the channel's AllocMsgNo.
func (c *Connection) SendMessage(channel uint32, msgNo uint32, payload []byte) error {
	return c.sendChannelPayload(channel, wireframe.MSG, msgNo, 0, payload)
}

// terminal reports whether ft ends an outstanding MSG's reply (§4.3): RPY
// and ERR always do; NUL ends an ANS stream; a bare ANS frame does not.
func terminal(ft wireframe.FrameType) bool {
	return ft == wireframe.RPY || ft == wireframe.ERR || ft == wireframe.NUL
}

func replyKindOf(ft wireframe.FrameType) replyqueue.Kind {
	switch ft {
	case wireframe.ERR:
		return replyqueue.KindERR
	case wireframe.ANS, wireframe.NUL:
		return replyqueue.KindANS
	default:
		return replyqueue.KindRPY
	}
}

func (c *Connection) sendChannelPayload(channel uint32, ft wireframe.FrameType, msgNo uint32, ansNo uint32, payload []byte) error {
	c.mu.Lock()
	ch, ok := c.channels[channel]
	sched := c.replies[channel]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("peer: unknown channel %d", channel)
	}
	if ch.State() != chanstate.Ready && ch.State() != chanstate.Closing {
		return chanstate.ErrChannelClosed
	}

	isReply := ft != wireframe.MSG
	if isReply {
		c.mu.Lock()
		arrival, known := c.arrivalIndex[arrivalKey{channel, msgNo}]
		c.mu.Unlock()
		if known {
			<-sched.Submit(&replyqueue.PendingReply{MsgNo: msgNo, Kind: replyKindOf(ft), ArrivalIndex: arrival})
		}
	} else {
		// A new MSG we originate: count it against the channel's
		// outstanding-MSG cap (§4.3 pending-outbound limit, §8 invariant 2)
		// until the peer's terminal reply clears it in handleProfileFrame.
		if err := ch.MarkOutstanding(msgNo, chanstate.ReplyAny, 0); err != nil {
			return err
		}
	}

	body := mime.Join(mime.Entity{Body: payload})
	item := seq.NewItem(channel, msgNo, ft, ansNo, body)
	if err := c.seq.Enqueue(item); err != nil {
		if !isReply {
			ch.ClearOutstanding(msgNo)
		}
		return err
	}
	<-item.Done
	err := item.Err

	if isReply && terminal(ft) {
		c.mu.Lock()
		arrival, known := c.arrivalIndex[arrivalKey{channel, msgNo}]
		if known {
			delete(c.arrivalIndex, arrivalKey{channel, msgNo})
		}
		c.mu.Unlock()
		if known {
			sched.Finish(arrival)
		}
		ch.ClearOutstanding(msgNo)
	}
	return err
}

// Close shuts the connection down: stops the sequencer and dispatch pool,
// and closes the transport. It is safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.cancelRun != nil {
			c.cancelRun()
		}
		c.pool.Shutdown(false)
		err = c.transport.Close()

		c.mu.Lock()
		reason := c.closeReason
		c.mu.Unlock()
		c.trace.ConnectionClosed(reason)
		c.events.Deliver(event.Event{Kind: event.ConnectionClosed, Err: reason})
	})
	return err
}

// Closed reports whether the connection has been closed.
func (c *Connection) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Events exposes the connection's event sink for registering push/pull
// listeners (§4.8).
func (c *Connection) Events() *event.Sink { return c.events }
