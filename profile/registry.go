// Package profile implements the profile registry (§4, supplemented from
// original_source/vortex_sasl.c's profile-registration pattern): callbacks
// are resolved once at registration time and stored as typed function
// values, rather than dispatched by string comparison on every frame as
// libvortex does.
package profile

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/beepcore/beep/wireframe"
)

// StartContext carries everything a profile's OnChannelStart needs to
// decide whether to accept a new channel.
type StartContext struct {
	Channel        uint32
	ServerName     string
	PiggybackData  []byte
	RequestedEncoding string
}

// CloseContext carries everything a profile's OnChannelClose needs to
// decide whether a close may proceed.
type CloseContext struct {
	Channel uint32
}

// FrameContext is delivered to OnFrame for each complete inbound message
// or reply on a channel running this profile.
type FrameContext struct {
	Channel uint32
	Type    wireframe.FrameType
	MsgNo   uint32
	AnsNo   uint32
	Payload []byte
	More    bool
}

// Handlers is one profile implementation's callback set, plus a single
// UserData slot threaded through every callback — the BEEP analogue of
// libvortex's paired handler/handler_full callbacks collapsed into one
// closure-friendly slot instead of two parallel function pointers per
// event.
type Handlers struct {
	// OnChannelStart decides whether to accept a new channel offering this
	// profile, optionally returning a piggyback reply payload.
	OnChannelStart func(ctx StartContext, userData interface{}) (replyPayload []byte, accept bool, err error)

	// OnChannelClose decides whether a close of a channel running this
	// profile may proceed.
	OnChannelClose func(ctx CloseContext, userData interface{}) error

	// OnFrame delivers one complete inbound message/reply.
	OnFrame func(ctx FrameContext, userData interface{})

	UserData interface{}
}

// Registry maps profile URIs to their Handlers, resolved once at
// registration (§4 "interned profile registration").
type Registry struct {
	mu sync.RWMutex
	m  map[string]Handlers
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]Handlers)}
}

// Register associates uri with h, replacing any prior registration.
func (r *Registry) Register(uri string, h Handlers) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[uri] = h
}

// Unregister removes uri's registration, if any.
func (r *Registry) Unregister(uri string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, uri)
}

// Lookup returns the Handlers registered for uri.
func (r *Registry) Lookup(uri string) (Handlers, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[uri]
	return h, ok
}

// URIs returns every registered profile URI, in no particular order.
func (r *Registry) URIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.m))
	for uri := range r.m {
		out = append(out, uri)
	}
	return out
}

// Supports reports whether uri has a registered handler.
func (r *Registry) Supports(uri string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.m[uri]
	return ok
}

// ErrNotRegistered is returned when a caller asks the registry to act on
// an unregistered profile URI.
var ErrNotRegistered = errors.New("profile: URI not registered")
