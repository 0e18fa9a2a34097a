package peer

import (
	"testing"

	"github.com/beepcore/beep/profile/echo"
)

func TestChannelPoolGrowAndNextReady(t *testing.T) {
	sender := &echoSender{}
	client, server := dialAndAccept(t, Options{}, Options{Registry: echoRegistry(sender)})
	sender.conn = server
	defer client.Close()
	defer server.Close()

	pool, err := NewChannelPool(client, echo.URI, 2, nil, false)
	if err != nil {
		t.Fatalf("NewChannelPool: %v", err)
	}
	defer pool.Close()

	if pool.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", pool.Count())
	}
	if pool.AvailableCount() != 2 {
		t.Fatalf("AvailableCount() = %d, want 2", pool.AvailableCount())
	}

	c1, err := pool.NextReady(false)
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	c2, err := pool.NextReady(false)
	if err != nil {
		t.Fatalf("NextReady: %v", err)
	}
	if c1 == c2 {
		t.Fatalf("NextReady returned the same channel twice: %d", c1)
	}
	if pool.AvailableCount() != 0 {
		t.Fatalf("AvailableCount() = %d, want 0", pool.AvailableCount())
	}

	if _, err := pool.NextReady(false); err == nil {
		t.Fatalf("expected NextReady to fail with no channels available and autoGrow=false")
	}

	c3, err := pool.NextReady(true)
	if err != nil {
		t.Fatalf("NextReady with autoGrow: %v", err)
	}
	if pool.Count() != 3 {
		t.Fatalf("Count() after auto-grow = %d, want 3", pool.Count())
	}

	pool.Release(c1)
	if pool.AvailableCount() != 1 {
		t.Fatalf("AvailableCount() after Release = %d, want 1", pool.AvailableCount())
	}
	_ = c3
}

func TestChannelPoolCloseClosesAllChannels(t *testing.T) {
	sender := &echoSender{}
	client, server := dialAndAccept(t, Options{}, Options{Registry: echoRegistry(sender)})
	sender.conn = server
	defer client.Close()
	defer server.Close()

	pool, err := NewChannelPool(client, echo.URI, 2, nil, false)
	if err != nil {
		t.Fatalf("NewChannelPool: %v", err)
	}

	channels := make([]uint32, pool.Count())
	copy(channels, pool.channels)

	if err := pool.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, c := range channels {
		if _, ok := client.ChannelByNumber(c); ok {
			t.Fatalf("channel %d still present after pool Close", c)
		}
	}
	if _, err := pool.NextReady(true); err != ErrPoolClosed {
		t.Fatalf("NextReady after Close = %v, want ErrPoolClosed", err)
	}
}
