// Package beeptrace defines structured trace hooks for a BEEP connection,
// modeled directly on the teacher's client.ClientTrace: a struct of
// function fields attached to a context.Context, with a default no-op set
// and a couple of ready-made logging variants.
package beeptrace

import (
	"context"
	"log"

	"github.com/imdario/mergo"
)

// unique type to prevent key collisions in context values.
type traceContextKey struct{}

// Trace defines the set of events a caller may observe on a Connection.
// Every field is optional; nil fields are simply not invoked.
type Trace struct {
	// ConnectionReady is called once both greetings have been exchanged.
	ConnectionReady func(role string)

	// ConnectionClosed is called exactly once per connection, however it
	// was terminated.
	ConnectionClosed func(reason error)

	// ChannelStarted is called when a channel transitions Opening -> Ready.
	ChannelStarted func(channel uint32, profile string)

	// ChannelClosed is called when a channel transitions to Closed.
	ChannelClosed func(channel uint32)

	// FrameSent is called immediately before a frame is handed to the
	// transport.
	FrameSent func(channel uint32, frameType string, size int)

	// FrameReceived is called after a complete frame has been parsed,
	// before dispatch to the channel handler.
	FrameReceived func(channel uint32, frameType string, size int)

	// WindowUpdated is called when a SEQ frame updates the remote window
	// for a channel.
	WindowUpdated func(channel uint32, ackNo, window uint32)

	// Error is called after an error condition has been detected. fatal
	// indicates whether the connection is being torn down as a result.
	Error func(context string, err error, fatal bool)
}

// ContextTrace returns the Trace associated with ctx, falling back to
// NoOpTrace (with any unset fields additionally merged from NoOpTrace) if
// none or only a partial Trace is present.
func ContextTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(traceContextKey{}).(*Trace)
	if trace == nil {
		return NoOpTrace
	}
	merged := *trace
	_ = mergo.Merge(&merged, NoOpTrace)
	return &merged
}

// WithTrace returns a context derived from ctx carrying trace as the active
// Trace for operations performed with it.
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

// NoOpTrace does nothing for every event; it is the base every other Trace
// merges over so that a caller can supply only the hooks they care about.
var NoOpTrace = &Trace{
	ConnectionReady:  func(role string) {},
	ConnectionClosed: func(reason error) {},
	ChannelStarted:   func(channel uint32, profile string) {},
	ChannelClosed:    func(channel uint32) {},
	FrameSent:        func(channel uint32, frameType string, size int) {},
	FrameReceived:    func(channel uint32, frameType string, size int) {},
	WindowUpdated:    func(channel uint32, ackNo, window uint32) {},
	Error:            func(context string, err error, fatal bool) {},
}

// DefaultLoggingTrace logs only errors, using the standard log package.
var DefaultLoggingTrace = &Trace{
	Error: func(context string, err error, fatal bool) {
		log.Printf("BEEP-Error context:%s fatal:%v err:%v\n", context, fatal, err)
	},
}

// DiagnosticLoggingTrace logs every event; useful when developing a new
// profile or debugging a flaky peer.
var DiagnosticLoggingTrace = &Trace{
	ConnectionReady: func(role string) {
		log.Printf("BEEP-ConnectionReady role:%s\n", role)
	},
	ConnectionClosed: func(reason error) {
		log.Printf("BEEP-ConnectionClosed reason:%v\n", reason)
	},
	ChannelStarted: func(channel uint32, profile string) {
		log.Printf("BEEP-ChannelStarted channel:%d profile:%s\n", channel, profile)
	},
	ChannelClosed: func(channel uint32) {
		log.Printf("BEEP-ChannelClosed channel:%d\n", channel)
	},
	FrameSent: func(channel uint32, frameType string, size int) {
		log.Printf("BEEP-FrameSent channel:%d type:%s size:%d\n", channel, frameType, size)
	},
	FrameReceived: func(channel uint32, frameType string, size int) {
		log.Printf("BEEP-FrameReceived channel:%d type:%s size:%d\n", channel, frameType, size)
	},
	WindowUpdated: func(channel uint32, ackNo, window uint32) {
		log.Printf("BEEP-WindowUpdated channel:%d ack:%d window:%d\n", channel, ackNo, window)
	},
	Error: DefaultLoggingTrace.Error,
}
