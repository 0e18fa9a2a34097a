// Package echo is a reference BEEP profile: every MSG received is replied
// to with an identical RPY, grounded on the original implementation's
// minimal "echo" test profile used throughout its example clients.
package echo

import (
	"github.com/beepcore/beep/profile"
)

// URI is this profile's identifying URI.
const URI = "http://beepcore.org/profiles/echo"

// Reply is invoked by the hosting peer for each complete MSG on a channel
// running this profile; it returns the bytes to send back as the RPY.
type Reply func(payload []byte) []byte

// identityReply is the default Reply used when Handlers is built with nil.
func identityReply(payload []byte) []byte {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out
}

// Handlers builds the profile.Handlers for the echo profile. reply may be
// nil to use the identity echo.
func Handlers(reply Reply) profile.Handlers {
	if reply == nil {
		reply = identityReply
	}
	return profile.Handlers{
		OnChannelStart: func(ctx profile.StartContext, userData interface{}) ([]byte, bool, error) {
			return nil, true, nil
		},
		OnChannelClose: func(ctx profile.CloseContext, userData interface{}) error {
			return nil
		},
		OnFrame: func(ctx profile.FrameContext, userData interface{}) {
			sender, ok := userData.(FrameSender)
			if !ok || sender == nil {
				return
			}
			sender.SendReply(ctx.Channel, ctx.MsgNo, reply(ctx.Payload))
		},
	}
}

// FrameSender is the minimal surface the echo profile needs from its
// hosting peer to send the RPY back; a concrete peer.Channel satisfies
// this so tests can swap in a stub.
type FrameSender interface {
	SendReply(channel uint32, msgNo uint32, payload []byte) error
}
