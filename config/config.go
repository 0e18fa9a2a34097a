// Package config defines the tunable defaults for a connection and its
// channels, merged over caller-supplied overrides with mergo exactly as the
// teacher's client.Config is merged over client.DefaultConfig.
package config

import "time"

// Config configures connection-wide behavior.
type Config struct {
	// GreetingTimeout bounds how long a connection waits to receive the
	// peer's greeting before failing.
	GreetingTimeout time.Duration

	// ChannelOpTimeout bounds a synchronous channel start/close exchange.
	ChannelOpTimeout time.Duration

	// MaxPartialFrame bounds how many bytes of an incomplete frame the
	// inbound buffer will accumulate before the connection is declared
	// fatal (§4.2).
	MaxPartialFrame int

	// DefaultFrameSize is the segmenter_hint used when no NextFrameSize
	// callable is supplied (§4.3).
	DefaultFrameSize int

	// DisableAutomaticServerName turns off binding the session's
	// serverName to the first successful non-zero channel start (§4.5).
	DisableAutomaticServerName bool
}

// ChannelConfig configures a single channel's behavior.
type ChannelConfig struct {
	// LocalWindowSize is the initial receive window advertised for the
	// channel (§3, §6). Default 4096 octets.
	LocalWindowSize uint32

	// MaxOutstanding bounds the number of MSGs awaiting reply at once
	// (§4.3 pending-outbound limit, §8 invariant 2).
	MaxOutstanding int

	// CompleteFrame merges small frames before user delivery, up to
	// CompleteFrameLimit bytes, when true.
	CompleteFrame bool

	// CompleteFrameLimit bounds reassembly size when CompleteFrame is
	// set, and always bounds reassembly size as a DoS guard even when it
	// is not (§9 open question: complete-flag teardown).
	CompleteFrameLimit int

	// Serialize forces strictly sequential invocation of the channel's
	// frame-received handler (§4.4).
	Serialize bool
}

// DefaultConfig holds the library's baseline connection configuration.
var DefaultConfig = &Config{
	GreetingTimeout:  10 * time.Second,
	ChannelOpTimeout: 10 * time.Second,
	MaxPartialFrame:  4096 + 256,
	DefaultFrameSize: 32768,
}

// DefaultChannelConfig holds the library's baseline channel configuration.
var DefaultChannelConfig = &ChannelConfig{
	LocalWindowSize:    4096,
	MaxOutstanding:     100,
	CompleteFrame:      false,
	CompleteFrameLimit: 1 << 20,
	Serialize:          false,
}
