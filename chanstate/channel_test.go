package chanstate

import (
	"testing"

	"github.com/beepcore/beep/wireframe"
)

func TestLifecycleTransitions(t *testing.T) {
	c := New(1, nil)
	if c.State() != Opening {
		t.Fatalf("initial state = %s, want opening", c.State())
	}
	if err := c.MarkReady("http://example.com/echo"); err != nil {
		t.Fatalf("MarkReady: %v", err)
	}
	if c.State() != Ready {
		t.Fatalf("state = %s, want ready", c.State())
	}
	if err := c.BeginClosing(); err != nil {
		t.Fatalf("BeginClosing: %v", err)
	}
	if !c.CanComplete() {
		t.Fatalf("CanComplete = false with no outstanding MSGs")
	}
	if err := c.Complete(); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.State() != Closed {
		t.Fatalf("state = %s, want closed", c.State())
	}
}

func TestCompleteRefusedWithOutstanding(t *testing.T) {
	c := New(1, nil)
	_ = c.MarkReady("p")
	_ = c.MarkOutstanding(0, ReplyRPY, 1)
	_ = c.BeginClosing()
	if c.CanComplete() {
		t.Fatalf("CanComplete = true with an outstanding MSG")
	}
	if err := c.Complete(); err == nil {
		t.Fatalf("expected error completing with outstanding MSG")
	}
}

func TestMsgNoReuseRejected(t *testing.T) {
	c := New(1, nil)
	if err := c.MarkOutstanding(5, ReplyRPY, 0); err != nil {
		t.Fatalf("first MarkOutstanding: %v", err)
	}
	if err := c.MarkOutstanding(5, ReplyRPY, 1); err != ErrMsgNoReused {
		t.Fatalf("err = %v, want ErrMsgNoReused", err)
	}
	c.ClearOutstanding(5)
	if err := c.MarkOutstanding(5, ReplyRPY, 2); err != nil {
		t.Fatalf("MarkOutstanding after clear: %v", err)
	}
}

func TestAllocMsgNoSmallestFree(t *testing.T) {
	c := New(1, nil)
	n0, _ := c.AllocMsgNo()
	n1, _ := c.AllocMsgNo()
	n2, _ := c.AllocMsgNo()
	if n0 != 0 || n1 != 1 || n2 != 2 {
		t.Fatalf("allocations = %d,%d,%d want 0,1,2", n0, n1, n2)
	}
	_ = c.MarkOutstanding(n0, ReplyRPY, 0)
	_ = c.MarkOutstanding(n1, ReplyRPY, 0)
	_ = c.MarkOutstanding(n2, ReplyRPY, 0)

	c.ClearOutstanding(n1)
	free, err := c.AllocMsgNo()
	if err != nil {
		t.Fatalf("AllocMsgNo: %v", err)
	}
	if free != n1 {
		t.Fatalf("reallocated = %d, want smallest free %d", free, n1)
	}
}

func TestWindowArithmeticAtWrap(t *testing.T) {
	c := New(1, nil)
	c.RemoteWindowStart = ^uint32(0) - 4096 - 2 + 1 // 2^32 - 4096 - 2
	c.RemoteWindowSize = 4096

	allowed := c.Allowed()
	if allowed != 4096 {
		t.Fatalf("allowed = %d, want 4096", allowed)
	}

	prev := c.AdvanceOutgoing(4096)
	_ = prev
	// outgoing_seq_no has now wrapped past 0.
	if c.OutgoingSeqNo != c.RemoteWindowStart+4096 {
		t.Fatalf("outgoing seq_no = %d, want %d", c.OutgoingSeqNo, c.RemoteWindowStart+4096)
	}
}

func TestObserveIncomingMismatchIsFatal(t *testing.T) {
	c := New(1, nil)
	if err := c.ObserveIncoming(0, 10); err != nil {
		t.Fatalf("first ObserveIncoming: %v", err)
	}
	if err := c.ObserveIncoming(10, 5); err != nil {
		t.Fatalf("second ObserveIncoming: %v", err)
	}
	if err := c.ObserveIncoming(100, 5); err == nil {
		t.Fatalf("expected mismatch error")
	}
}

func TestReassembleAcrossFragments(t *testing.T) {
	c := New(1, nil)
	key := wireframe.Key{Channel: 1, MsgNo: 0, Type: wireframe.MSG}

	if _, done := c.Reassemble(key, []byte("hel"), true); done {
		t.Fatalf("expected not done with more=true")
	}
	complete, done := c.Reassemble(key, []byte("lo"), false)
	if !done {
		t.Fatalf("expected done with more=false")
	}
	if string(complete) != "hello" {
		t.Fatalf("complete = %q, want hello", complete)
	}
}

func TestCloseInTransit(t *testing.T) {
	c := New(1, nil)
	if inTransit := c.RequestCloseLocally(); inTransit {
		t.Fatalf("expected not in transit on first local request")
	}
	if inTransit := c.RequestCloseRemotely(); !inTransit {
		t.Fatalf("expected in transit once both sides requested close")
	}
}
