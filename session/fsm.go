package session

import (
	"sync"

	"github.com/pkg/errors"
)

// Role distinguishes which side of the BEEP session a peer is playing,
// which governs channel-number parity (§4.5, §6).
type Role int

const (
	Initiator Role = iota
	Listener
)

// ErrDuplicateGreeting is returned by ReceiveGreeting when a second
// greeting arrives on an already-greeted session — a protocol error that
// mutates no state (§8 "Idempotence of greetings").
var ErrDuplicateGreeting = errors.New("session: duplicate greeting received")

// ProfileMask filters which locally-supported profile URIs are advertised
// to the peer.
type ProfileMask func(uri string) bool

// AllowAllProfiles is the default ProfileMask: every supplied profile is
// advertised.
func AllowAllProfiles(string) bool { return true }

// FSM is the channel-zero greeting/start/close state machine for one
// connection (§4.5). It does not itself perform I/O; callers marshal and
// transmit the XML it produces, and feed back parsed XML it receives.
type FSM struct {
	mu sync.Mutex

	role Role

	localProfiles []string
	mask          ProfileMask

	greetingSent bool
	remote       *Greeting

	autoServerName  bool
	serverName      string
	serverNameBound bool

	nextOwnChannel uint32
	usedChannels   map[uint32]bool
}

// New creates an FSM for role, advertising localProfiles filtered through
// mask (AllowAllProfiles if nil). autoServerName enables the default
// first-successful-start binds serverName behavior (§4.5); set false for
// peers that want to manage serverName manually.
func New(role Role, localProfiles []string, mask ProfileMask, autoServerName bool) *FSM {
	if mask == nil {
		mask = AllowAllProfiles
	}
	start := uint32(2)
	if role == Initiator {
		start = 1
	}
	return &FSM{
		role:           role,
		localProfiles:  localProfiles,
		mask:           mask,
		autoServerName: autoServerName,
		nextOwnChannel: start,
		usedChannels:   map[uint32]bool{0: true},
	}
}

// BuildGreeting renders this side's greeting, applying the profile mask.
func (f *FSM) BuildGreeting(serverName string) *Greeting {
	f.mu.Lock()
	defer f.mu.Unlock()

	g := &Greeting{ServerName: serverName}
	for _, uri := range f.localProfiles {
		if f.mask(uri) {
			g.Profiles = append(g.Profiles, ProfileAd{URI: uri})
		}
	}
	return g
}

// MarkGreetingSent records that the local greeting has been transmitted.
func (f *FSM) MarkGreetingSent() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.greetingSent = true
}

// ReceiveGreeting records the peer's greeting. A second greeting on an
// already-greeted session is rejected without mutating state (§8).
func (f *FSM) ReceiveGreeting(g *Greeting) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote != nil {
		return ErrDuplicateGreeting
	}
	f.remote = g
	return nil
}

// Ready reports whether both greetings (this side sent, peer's received)
// have completed, meaning channel creation is now permitted (§4.5).
func (f *FSM) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.greetingSent && f.remote != nil
}

// RemoteProfiles returns the profile URIs the peer advertised, or nil if
// no greeting has arrived yet.
func (f *FSM) RemoteProfiles() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remote == nil {
		return nil
	}
	uris := make([]string, len(f.remote.Profiles))
	for i, p := range f.remote.Profiles {
		uris[i] = p.URI
	}
	return uris
}

// AllocChannelNumber allocates the smallest free channel number of this
// side's parity (odd for Initiator, even for Listener, per convention;
// §4.5 "Number parity MUST match initiator/listener convention").
func (f *FSM) AllocChannelNumber() uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.usedChannels[f.nextOwnChannel] {
		f.nextOwnChannel += 2
	}
	n := f.nextOwnChannel
	f.usedChannels[n] = true
	f.nextOwnChannel += 2
	return n
}

// ExpectedParityOK reports whether channel number n matches the parity the
// peer (the side that did NOT allocate it locally) is permitted to use: a
// remote-initiated start must use the opposite parity to this FSM's own
// allocations.
func (f *FSM) ExpectedParityOK(n uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n == 0 {
		return false
	}
	ownParity := f.nextOwnChannel % 2
	return n%2 != ownParity
}

// ReserveRemoteChannel marks n as in-use once a remote-initiated start for
// it has been accepted, so a later local allocation cannot collide.
func (f *FSM) ReserveRemoteChannel(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usedChannels[n] = true
}

// ReleaseChannel frees n for future reallocation once the channel is fully
// closed.
func (f *FSM) ReleaseChannel(n uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.usedChannels, n)
}

// BindServerName applies the "first successful non-zero channel start
// binds the session serverName" rule (§4.5): subsequent calls with a
// different name are no-ops once bound, unless autoServerName is disabled,
// in which case the caller is expected to manage serverName itself and
// this call always no-ops.
func (f *FSM) BindServerName(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.autoServerName || f.serverNameBound || name == "" {
		return
	}
	f.serverName = name
	f.serverNameBound = true
}

// ServerName returns the session's bound serverName, if any.
func (f *FSM) ServerName() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.serverName
}

// SelectProfile picks the first offered profile this side's mask/registry
// predicate (accept) approves, implementing the listener's "pick one
// profile from the offered list" step (§4.5).
func SelectProfile(offered []StartProfile, accept func(uri string) bool) (*StartProfile, error) {
	for i := range offered {
		if accept(offered[i].URI) {
			return &offered[i], nil
		}
	}
	return nil, errors.New("session: no offered profile is supported")
}

// NewError builds an ErrorReply for one of the RFC 3080 codes in this
// package.
func NewError(code int, text string) *ErrorReply {
	return &ErrorReply{Code: code, Text: text}
}
