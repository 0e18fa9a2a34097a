package peer

import (
	"bytes"
	"time"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/chanstate"
	"github.com/beepcore/beep/event"
	"github.com/beepcore/beep/mime"
	"github.com/beepcore/beep/profile"
	"github.com/beepcore/beep/replyqueue"
	"github.com/beepcore/beep/session"
	"github.com/beepcore/beep/wireframe"
)

// ErrChannelOpTimeout is returned by StartChannel/CloseChannel when the
// peer does not reply within config.Config.ChannelOpTimeout (§5).
var ErrChannelOpTimeout = errors.New("peer: channel-zero operation timed out")

// handleZeroMessage processes one complete channel-zero frame: the
// greeting (an unsolicited RPY, sent before any MSG — RFC 3080 §2.3), a
// reply to a start/close request this side issued, or a peer-issued
// start/close request.
func (c *Connection) handleZeroMessage(frame *wireframe.Frame, payload []byte) {
	body := mime.Split(payload).Body

	switch frame.Type {
	case wireframe.RPY:
		c.handleZeroReply(body, isError(false))
	case wireframe.ERR:
		c.handleZeroReply(body, isError(true))
	case wireframe.MSG:
		c.handleZeroRequest(frame.MsgNo, body)
	}
}

type isError bool

func (c *Connection) handleZeroReply(body []byte, errReply isError) {
	if !c.fsm.Ready() && !bool(errReply) {
		var g session.Greeting
		if err := session.Unmarshal(body, &g); err == nil {
			if rerr := c.fsm.ReceiveGreeting(&g); rerr != nil {
				c.greetingCh <- rerr
				return
			}
			c.greetingCh <- nil
			return
		}
	}

	pz := c.popZero()
	if pz == nil {
		return
	}
	if bool(errReply) {
		var e session.ErrorReply
		_ = session.Unmarshal(body, &e)
		pz.reply <- zeroReply{err: &e}
		return
	}
	if bytes.Contains(body, []byte("<ok")) {
		pz.reply <- zeroReply{ok: true}
		return
	}
	var pr session.ProfileReply
	if err := session.Unmarshal(body, &pr); err == nil {
		pz.reply <- zeroReply{profile: &pr}
		return
	}
	pz.reply <- zeroReply{ok: true}
}

func (c *Connection) handleZeroRequest(msgNo uint32, body []byte) {
	switch {
	case bytes.Contains(body, []byte("<start")):
		c.handleStartRequest(msgNo, body)
	case bytes.Contains(body, []byte("<close")):
		c.handleCloseRequest(msgNo, body)
	default:
		_ = c.replyZeroError(msgNo, session.CodeGeneralSyntaxError, "unrecognized channel-zero request")
	}
}

func (c *Connection) handleStartRequest(msgNo uint32, body []byte) {
	var req session.StartRequest
	if err := session.Unmarshal(body, &req); err != nil {
		_ = c.replyZeroError(msgNo, session.CodeGeneralSyntaxError, err.Error())
		return
	}
	if !c.fsm.ExpectedParityOK(req.Number) {
		_ = c.replyZeroError(msgNo, session.CodeParameterInvalid, "channel number parity violation")
		return
	}

	var chosen *session.StartProfile
	for i := range req.Profiles {
		if c.registry.Supports(req.Profiles[i].URI) {
			chosen = &req.Profiles[i]
			break
		}
	}
	if chosen == nil {
		_ = c.replyZeroError(msgNo, session.CodeParameterInvalid, "no offered profile is supported")
		return
	}

	piggyback, err := session.DecodePiggyback(chosen.Content, chosen.Encoding)
	if err != nil {
		_ = c.replyZeroError(msgNo, session.CodeGeneralSyntaxError, err.Error())
		return
	}

	h, _ := c.registry.Lookup(chosen.URI)
	var replyPayload []byte
	if h.OnChannelStart != nil {
		rp, accept, serr := h.OnChannelStart(profile.StartContext{
			Channel:       req.Number,
			ServerName:    req.ServerName,
			PiggybackData: piggyback,
		}, h.UserData)
		if serr != nil || !accept {
			_ = c.replyZeroError(msgNo, session.CodeTransactionFailed, "profile declined channel")
			return
		}
		replyPayload = rp
	}

	ch := chanstate.New(req.Number, c.chanCfg)
	_ = ch.MarkReady(chosen.URI)
	c.mu.Lock()
	c.channels[req.Number] = ch
	c.replies[req.Number] = replyqueue.New()
	c.mu.Unlock()
	c.seq.AddChannel(ch)
	c.fsm.ReserveRemoteChannel(req.Number)
	c.fsm.BindServerName(req.ServerName)

	c.trace.ChannelStarted(req.Number, chosen.URI)
	c.events.Deliver(event.Event{Kind: event.ChannelAdded, Channel: req.Number, ProfileURI: chosen.URI})

	content, encoding := session.EncodePiggyback(replyPayload, false)
	pr := session.ProfileReply{URI: chosen.URI, Content: content, Encoding: encoding}
	xmlBody, _ := session.Marshal(pr)
	_ = c.sendZero(wireframe.RPY, msgNo, mime.Join(mime.Entity{Body: xmlBody}))
}

func (c *Connection) handleCloseRequest(msgNo uint32, body []byte) {
	var req session.CloseRequest
	if err := session.Unmarshal(body, &req); err != nil {
		_ = c.replyZeroError(msgNo, session.CodeGeneralSyntaxError, err.Error())
		return
	}

	c.mu.Lock()
	ch, ok := c.channels[req.Number]
	c.mu.Unlock()
	if !ok {
		_ = c.replyZeroError(msgNo, session.CodeParameterInvalid, "unknown channel")
		return
	}

	if !ch.CanComplete() {
		_ = c.replyZeroError(msgNo, session.CodeStillWorking, "channel has outstanding messages")
		return
	}

	if h, ok := c.registry.Lookup(ch.ProfileURI); ok && h.OnChannelClose != nil {
		if err := h.OnChannelClose(profile.CloseContext{Channel: req.Number}, h.UserData); err != nil {
			_ = c.replyZeroError(msgNo, session.CodeTransactionFailed, err.Error())
			return
		}
	}

	inTransit := ch.RequestCloseRemotely()
	_ = ch.BeginClosing()
	c.completeChannelClose(req.Number, ch)

	xmlBody, _ := session.Marshal(session.OK{})
	_ = c.sendZero(wireframe.RPY, msgNo, mime.Join(mime.Entity{Body: xmlBody}))
	_ = inTransit // close-in-transit converges on both sides replying <ok/> independently; no extra action needed.
}

// completeChannelClose finishes the local bookkeeping for a channel that
// has reached CanComplete: marks it Closed, stops sequencing for it, frees
// its channel number, removes it from the tracked map so ChannelByNumber
// no longer resolves it, and fires the usual trace/event hooks. Shared by
// the listener's own close-request handling and the initiator's
// CloseChannel/forceLocalClose paths.
func (c *Connection) completeChannelClose(channel uint32, ch *chanstate.Channel) {
	_ = ch.Complete()
	c.seq.RemoveChannel(channel)
	c.fsm.ReleaseChannel(channel)
	c.mu.Lock()
	delete(c.channels, channel)
	delete(c.replies, channel)
	c.mu.Unlock()
	c.trace.ChannelClosed(channel)
	c.events.Deliver(event.Event{Kind: event.ChannelRemoved, Channel: channel})
}

func (c *Connection) replyZeroError(msgNo uint32, code int, text string) error {
	e := session.NewError(code, text)
	body, _ := session.Marshal(e)
	return c.sendZero(wireframe.ERR, msgNo, mime.Join(mime.Entity{Body: body}))
}

func (c *Connection) pushZero() *pendingZero {
	pz := &pendingZero{reply: make(chan zeroReply, 1)}
	c.zeroLock.Lock()
	c.zeroQ = append(c.zeroQ, pz)
	c.zeroLock.Unlock()
	return pz
}

func (c *Connection) popZero() *pendingZero {
	c.zeroLock.Lock()
	defer c.zeroLock.Unlock()
	if len(c.zeroQ) == 0 {
		return nil
	}
	pz := c.zeroQ[0]
	c.zeroQ = c.zeroQ[1:]
	return pz
}

// removeZero drops pz from the pending queue without resolving it, used to
// abandon a channel-zero request once its ChannelOpTimeout has expired so a
// late reply arriving afterward finds nothing to match against.
func (c *Connection) removeZero(pz *pendingZero) {
	c.zeroLock.Lock()
	defer c.zeroLock.Unlock()
	for i, q := range c.zeroQ {
		if q == pz {
			c.zeroQ = append(c.zeroQ[:i], c.zeroQ[i+1:]...)
			return
		}
	}
}

// awaitZero blocks for pz's reply, bounded by config.Config.ChannelOpTimeout
// when it is positive (§5's synchronous-start/close timeout).
func (c *Connection) awaitZero(pz *pendingZero) (zeroReply, error) {
	if c.cfg.ChannelOpTimeout <= 0 {
		return <-pz.reply, nil
	}
	select {
	case reply := <-pz.reply:
		return reply, nil
	case <-time.After(c.cfg.ChannelOpTimeout):
		c.removeZero(pz)
		return zeroReply{}, ErrChannelOpTimeout
	}
}

// StartChannel asks the peer to create a new channel running one of the
// given candidate profile URIs, optionally carrying a piggyback payload on
// the first candidate profile offered (§6). It blocks until the peer
// replies.
func (c *Connection) StartChannel(profileURIs []string, piggyback []byte, useBase64 bool) (channel uint32, negotiatedProfile string, err error) {
	if !c.fsm.Ready() {
		return 0, "", ErrNotReady
	}
	number := c.fsm.AllocChannelNumber()

	req := session.StartRequest{Number: number}
	for i, uri := range profileURIs {
		sp := session.StartProfile{URI: uri}
		if i == 0 && len(piggyback) > 0 {
			content, encoding := session.EncodePiggyback(piggyback, useBase64)
			sp.Content, sp.Encoding = content, encoding
		}
		req.Profiles = append(req.Profiles, sp)
	}

	body, merr := session.Marshal(req)
	if merr != nil {
		c.fsm.ReleaseChannel(number)
		return 0, "", merr
	}

	msgNo, aerr := c.channels0MsgNo()
	if aerr != nil {
		c.fsm.ReleaseChannel(number)
		return 0, "", aerr
	}

	pz := c.pushZero()
	if serr := c.sendZero(wireframe.MSG, msgNo, mime.Join(mime.Entity{Body: body})); serr != nil {
		c.removeZero(pz)
		c.fsm.ReleaseChannel(number)
		return 0, "", serr
	}

	reply, terr := c.awaitZero(pz)
	if terr != nil {
		// Cleanup path: the channel was never created on this side, so
		// abandoning the request only needs to free its reserved number.
		c.fsm.ReleaseChannel(number)
		return 0, "", terr
	}
	if reply.err != nil {
		c.fsm.ReleaseChannel(number)
		return 0, "", reply.err
	}

	ch := chanstate.New(number, c.chanCfg)
	_ = ch.MarkReady(reply.profile.URI)
	c.mu.Lock()
	c.channels[number] = ch
	c.replies[number] = replyqueue.New()
	c.mu.Unlock()
	c.seq.AddChannel(ch)

	c.trace.ChannelStarted(number, reply.profile.URI)
	c.events.Deliver(event.Event{Kind: event.ChannelAdded, Channel: number, ProfileURI: reply.profile.URI})
	return number, reply.profile.URI, nil
}

// CloseChannel asks the peer to close channel, blocking until it agrees
// (or rejects, most commonly with RFC code 550 "still working").
func (c *Connection) CloseChannel(channel uint32, code int, text string) error {
	c.mu.Lock()
	ch, ok := c.channels[channel]
	c.mu.Unlock()
	if !ok {
		return errors.Errorf("peer: unknown channel %d", channel)
	}
	if !ch.CanComplete() {
		return errors.New("peer: channel has outstanding messages")
	}

	inTransit := ch.RequestCloseLocally()
	_ = ch.BeginClosing()

	req := session.CloseRequest{Number: channel, Code: code, Text: text}
	body, _ := session.Marshal(req)

	msgNo, err := c.channels0MsgNo()
	if err != nil {
		return err
	}
	pz := c.pushZero()
	if err := c.sendZero(wireframe.MSG, msgNo, mime.Join(mime.Entity{Body: body})); err != nil {
		c.removeZero(pz)
		return err
	}

	reply, terr := c.awaitZero(pz)
	if terr != nil {
		// Cleanup path: the peer never confirmed the close, so force it
		// through locally rather than leave the channel stuck in Closing
		// forever — the request was already committed to the wire.
		c.forceLocalClose(channel, ch)
		return terr
	}
	if reply.err != nil {
		return reply.err
	}

	c.completeChannelClose(channel, ch)
	_ = inTransit
	return nil
}

// forceLocalClose tears a channel down on this side alone, used when a
// close request has been abandoned (ChannelOpTimeout) after already being
// sent: the peer may still reply, but this side stops tracking the channel
// either way.
func (c *Connection) forceLocalClose(channel uint32, ch *chanstate.Channel) {
	c.completeChannelClose(channel, ch)
}

func (c *Connection) channels0MsgNo() (uint32, error) {
	c.mu.Lock()
	zero := c.channels[0]
	c.mu.Unlock()
	return zero.AllocMsgNo()
}
