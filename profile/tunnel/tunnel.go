// Package tunnel is a reference BEEP profile that pipes the raw bytes of
// every MSG on a channel to an application-supplied io.Writer, and lets
// the application push unsolicited bytes back as RPY frames — a minimal
// analogue of a forwarded-connection profile (an SSH direct-tcpip-style
// tunnel carried inside a BEEP channel instead of its own connection).
package tunnel

import (
	"io"
	"sync"

	"github.com/beepcore/beep/profile"
)

// URI is this profile's identifying URI.
const URI = "http://beepcore.org/profiles/tunnel"

// Sink is the minimal surface the tunnel profile needs from its hosting
// peer to push bytes back to the remote side of a tunnel channel.
type Sink interface {
	SendReply(channel uint32, msgNo uint32, payload []byte) error
}

// Handlers builds the profile.Handlers for the tunnel profile. newTarget
// is invoked once per accepted channel to obtain the io.Writer that
// inbound bytes are copied to.
func Handlers(newTarget func(channel uint32) (io.Writer, error)) profile.Handlers {
	return profile.Handlers{
		OnChannelStart: func(ctx profile.StartContext, userData interface{}) ([]byte, bool, error) {
			sessions, _ := userData.(*sync.Map)
			target, err := newTarget(ctx.Channel)
			if err != nil {
				return nil, false, err
			}
			if sessions != nil {
				sessions.Store(ctx.Channel, target)
			}
			return nil, true, nil
		},
		OnChannelClose: func(ctx profile.CloseContext, userData interface{}) error {
			sessions, _ := userData.(*sync.Map)
			if sessions != nil {
				sessions.Delete(ctx.Channel)
			}
			return nil
		},
		OnFrame: func(ctx profile.FrameContext, userData interface{}) {
			sessions, _ := userData.(*sync.Map)
			if sessions == nil {
				return
			}
			v, ok := sessions.Load(ctx.Channel)
			if !ok {
				return
			}
			target := v.(io.Writer)
			_, _ = target.Write(ctx.Payload)
		},
	}
}
