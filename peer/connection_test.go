package peer

import (
	"context"
	"testing"
	"time"

	"github.com/beepcore/beep/internal/testtransport"
	"github.com/beepcore/beep/profile"
	"github.com/beepcore/beep/profile/echo"
)

// echoSender forwards SendReply calls to a Connection set after it is
// constructed, letting the echo profile's Handlers be registered before
// the Connection exists (the profile and the connection are built in the
// opposite order a real caller would use: registry first, then Accept).
type echoSender struct {
	conn *Connection
}

func (e *echoSender) SendReply(channel uint32, msgNo uint32, payload []byte) error {
	return e.conn.SendReply(channel, msgNo, payload)
}

func echoRegistry(sender *echoSender) *profile.Registry {
	r := profile.NewRegistry()
	h := echo.Handlers(nil)
	h.UserData = sender
	r.Register(echo.URI, h)
	return r
}

func dialAndAccept(t *testing.T, clientOpts, serverOpts Options) (client, server *Connection) {
	t.Helper()
	a, b := testtransport.New()

	type result struct {
		conn *Connection
		err  error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		c, err := Dial(ctx, a, clientOpts)
		clientCh <- result{c, err}
	}()
	go func() {
		s, err := Accept(ctx, b, serverOpts)
		serverCh <- result{s, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil {
		t.Fatalf("Dial: %v", cr.err)
	}
	if sr.err != nil {
		t.Fatalf("Accept: %v", sr.err)
	}
	return cr.conn, sr.conn
}

func TestGreetingExchangeBringsBothSidesReady(t *testing.T) {
	client, server := dialAndAccept(t, Options{}, Options{})
	defer client.Close()
	defer server.Close()

	if !client.fsm.Ready() {
		t.Fatalf("client fsm not ready after Dial")
	}
	if !server.fsm.Ready() {
		t.Fatalf("server fsm not ready after Accept")
	}
}

func TestStartChannelNegotiatesRegisteredProfile(t *testing.T) {
	sender := &echoSender{}
	client, server := dialAndAccept(t, Options{}, Options{Registry: echoRegistry(sender)})
	sender.conn = server
	defer client.Close()
	defer server.Close()

	channel, uri, err := client.StartChannel([]string{echo.URI}, nil, false)
	if err != nil {
		t.Fatalf("StartChannel: %v", err)
	}
	if uri != echo.URI {
		t.Fatalf("negotiated profile = %q, want %q", uri, echo.URI)
	}
	if channel == 0 || channel%2 != 1 {
		t.Fatalf("client-allocated channel = %d, want positive odd number", channel)
	}
	if _, ok := server.ChannelByNumber(channel); !ok {
		t.Fatalf("server did not register channel %d", channel)
	}
}

func TestSendMessageRoundTripsThroughEchoProfile(t *testing.T) {
	sender := &echoSender{}
	client, server := dialAndAccept(t, Options{}, Options{Registry: echoRegistry(sender)})
	sender.conn = server
	defer client.Close()
	defer server.Close()

	received := make(chan []byte, 1)
	clientRegistry := profile.NewRegistry()
	clientRegistry.Register(echo.URI, profile.Handlers{
		OnFrame: func(ctx profile.FrameContext, userData interface{}) {
			received <- ctx.Payload
		},
	})
	client.registry = clientRegistry

	channel, _, err := client.StartChannel([]string{echo.URI}, nil, false)
	if err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	ch, ok := client.ChannelByNumber(channel)
	if !ok {
		t.Fatalf("client channel %d missing", channel)
	}
	msgNo, err := ch.AllocMsgNo()
	if err != nil {
		t.Fatalf("AllocMsgNo: %v", err)
	}

	if err := client.SendMessage(channel, msgNo, []byte("hello beep")); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello beep" {
			t.Fatalf("echoed payload = %q, want %q", payload, "hello beep")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for echoed reply")
	}
}

func TestCloseChannelCompletesHandshake(t *testing.T) {
	sender := &echoSender{}
	client, server := dialAndAccept(t, Options{}, Options{Registry: echoRegistry(sender)})
	sender.conn = server
	defer client.Close()
	defer server.Close()

	channel, _, err := client.StartChannel([]string{echo.URI}, nil, false)
	if err != nil {
		t.Fatalf("StartChannel: %v", err)
	}

	if err := client.CloseChannel(channel, 200, "done"); err != nil {
		t.Fatalf("CloseChannel: %v", err)
	}
	if _, ok := client.ChannelByNumber(channel); ok {
		t.Fatalf("channel %d still present after close", channel)
	}
	if _, ok := server.ChannelByNumber(channel); ok {
		t.Fatalf("server channel %d still present after close", channel)
	}
}
