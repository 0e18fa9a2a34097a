package wirebuf

import (
	"bytes"
	"testing"
)

func TestNextAccumulatesAcrossFeeds(t *testing.T) {
	b := New(0)

	b.Feed([]byte("MSG 0 0 . 0 5\r\nhel"))
	if _, _, ok, err := b.Next(); ok || err != nil {
		t.Fatalf("expected incomplete frame, got ok=%v err=%v", ok, err)
	}

	b.Feed([]byte("lo" + "END\r\n"))
	f, seq, ok, err := b.Next()
	if err != nil || !ok {
		t.Fatalf("expected complete frame, got ok=%v err=%v", ok, err)
	}
	if seq != nil {
		t.Fatalf("expected data frame")
	}
	if !bytes.Equal(f.Payload, []byte("hello")) {
		t.Errorf("payload = %q, want %q", f.Payload, "hello")
	}
	if b.Pending() != 0 {
		t.Errorf("pending = %d, want 0", b.Pending())
	}
}

func TestNextMultipleFramesQueued(t *testing.T) {
	b := New(0)
	b.Feed([]byte("MSG 0 0 . 0 1\r\na" + "END\r\n" + "MSG 0 1 . 1 1\r\nb" + "END\r\n"))

	f1, _, ok, err := b.Next()
	if err != nil || !ok || string(f1.Payload) != "a" {
		t.Fatalf("first frame: ok=%v err=%v f=%+v", ok, err, f1)
	}
	f2, _, ok, err := b.Next()
	if err != nil || !ok || string(f2.Payload) != "b" {
		t.Fatalf("second frame: ok=%v err=%v f=%+v", ok, err, f2)
	}
}

func TestNextRejectsOversizedPartialFrame(t *testing.T) {
	b := New(16)
	b.Feed([]byte("MSG 0 0 . 0 1000\r\n" + string(make([]byte, 32))))
	_, _, ok, err := b.Next()
	if ok || err == nil {
		t.Fatalf("expected ErrPartialFrameTooLarge, got ok=%v err=%v", ok, err)
	}
}

func TestNextPropagatesBadHeader(t *testing.T) {
	b := New(0)
	b.Feed([]byte("BOGUS 0 0 . 0 1\r\n"))
	_, _, ok, err := b.Next()
	if ok || err == nil {
		t.Fatalf("expected header error, got ok=%v err=%v", ok, err)
	}
}
