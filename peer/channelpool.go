package peer

import (
	"sync"

	"github.com/pkg/errors"
)

// ChannelPool manages a set of channels that all run the same profile,
// letting a caller acquire a free channel for one unit of work and give it
// back afterward instead of starting and closing a channel per request.
// Grounded on original_source/vortex_channel_pool.h's VortexChannelPool:
// vortex_channel_pool_new (fixed initial size) maps to NewChannelPool,
// vortex_channel_pool_get_next_ready(auto_inc) maps to NextReady(autoGrow),
// vortex_channel_pool_release_channel maps to Release, and
// vortex_channel_pool_add/remove map to Grow/Remove.
type ChannelPool struct {
	mu sync.Mutex

	conn       *Connection
	profileURI string
	piggyback  []byte
	useBase64  bool
	channels   []uint32
	inUse      map[uint32]bool
	closed     bool
}

// NewChannelPool starts initNum channels running profileURI on conn and
// returns a pool over them. piggyback, if non-empty, is offered on every
// channel the pool starts, including ones added later via Grow or the
// auto-grow path of NextReady.
func NewChannelPool(conn *Connection, profileURI string, initNum int, piggyback []byte, useBase64 bool) (*ChannelPool, error) {
	p := &ChannelPool{
		conn:       conn,
		profileURI: profileURI,
		piggyback:  piggyback,
		useBase64:  useBase64,
		inUse:      make(map[uint32]bool),
	}
	if err := p.Grow(initNum); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// Grow starts n additional channels and adds them to the pool.
func (p *ChannelPool) Grow(n int) error {
	for i := 0; i < n; i++ {
		channel, _, err := p.conn.StartChannel([]string{p.profileURI}, p.piggyback, p.useBase64)
		if err != nil {
			return errors.Wrap(err, "channelpool: start channel")
		}
		p.mu.Lock()
		p.channels = append(p.channels, channel)
		p.mu.Unlock()
	}
	return nil
}

// Attach adds an already-started channel (one the caller started outside
// the pool, e.g. to negotiate a non-default piggyback) to the pool's
// tracked set, mirroring vortex_channel_pool_attach.
func (p *ChannelPool) Attach(channel uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.channels {
		if c == channel {
			return
		}
	}
	p.channels = append(p.channels, channel)
}

// Detach removes channel from the pool's tracked set without closing it,
// mirroring vortex_channel_pool_deattach.
func (p *ChannelPool) Detach(channel uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(channel)
}

func (p *ChannelPool) removeLocked(channel uint32) {
	for i, c := range p.channels {
		if c == channel {
			p.channels = append(p.channels[:i], p.channels[i+1:]...)
			break
		}
	}
	delete(p.inUse, channel)
}

// Remove closes channel and drops it from the pool, mirroring
// vortex_channel_pool_remove.
func (p *ChannelPool) Remove(channel uint32) error {
	p.mu.Lock()
	p.removeLocked(channel)
	p.mu.Unlock()
	return p.conn.CloseChannel(channel, 200, "removed from pool")
}

// Count reports how many channels the pool currently tracks.
func (p *ChannelPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

// AvailableCount reports how many tracked channels are not checked out.
func (p *ChannelPool) AvailableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.channels {
		if !p.inUse[c] {
			n++
		}
	}
	return n
}

// ErrPoolClosed is returned by pool operations attempted after Close.
var ErrPoolClosed = errors.New("channelpool: pool is closed")

// NextReady returns the next free channel in the pool, marking it in use.
// If none are free and autoGrow is true, a new channel is started and
// returned; if autoGrow is false, it returns an error instead, mirroring
// vortex_channel_pool_get_next_ready's auto_inc flag.
func (p *ChannelPool) NextReady(autoGrow bool) (uint32, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPoolClosed
	}
	for _, c := range p.channels {
		if !p.inUse[c] {
			p.inUse[c] = true
			p.mu.Unlock()
			return c, nil
		}
	}
	p.mu.Unlock()

	if !autoGrow {
		return 0, errors.New("channelpool: no channel available")
	}
	if err := p.Grow(1); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	channel := p.channels[len(p.channels)-1]
	p.inUse[channel] = true
	return channel, nil
}

// Release returns channel to the available set, mirroring
// vortex_channel_pool_release_channel.
func (p *ChannelPool) Release(channel uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, channel)
}

// Close closes every channel the pool tracks. It is safe to call once;
// the pool rejects further NextReady calls afterward.
func (p *ChannelPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	channels := append([]uint32(nil), p.channels...)
	p.channels = nil
	p.inUse = make(map[uint32]bool)
	p.mu.Unlock()

	var firstErr error
	for _, c := range channels {
		if err := p.conn.CloseChannel(c, 200, "pool closed"); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
