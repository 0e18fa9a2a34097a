package reader

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/beepcore/beep/chanstate"
	"github.com/beepcore/beep/config"
	"github.com/beepcore/beep/wireframe"
)

type fakeDispatcher struct {
	channels       map[uint32]*chanstate.Channel
	messages       []string
	seqUpdates     int
	windowRequests int
	fatal          error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{channels: make(map[uint32]*chanstate.Channel)}
}

func (f *fakeDispatcher) ChannelByNumber(number uint32) (*chanstate.Channel, bool) {
	ch, ok := f.channels[number]
	return ch, ok
}

func (f *fakeDispatcher) HandleSeq(ch *chanstate.Channel, seq *wireframe.SeqFrame) {
	f.seqUpdates++
	ch.UpdateRemoteWindow(seq.AckNo, seq.Window)
}

func (f *fakeDispatcher) HandleMessage(ch *chanstate.Channel, frame *wireframe.Frame, payload []byte) {
	f.messages = append(f.messages, string(payload))
}

func (f *fakeDispatcher) SendWindowUpdate(ch *chanstate.Channel) error {
	f.windowRequests++
	ch.MarkWindowAcked()
	return nil
}

func (f *fakeDispatcher) HandleFatal(err error) {
	f.fatal = err
}

func channelWithSmallWindow(number uint32) *chanstate.Channel {
	cfg := &config.ChannelConfig{LocalWindowSize: 10, MaxOutstanding: 10, CompleteFrameLimit: 1 << 20}
	return chanstate.New(number, cfg)
}

func TestReaderDeliversSingleFrameMessage(t *testing.T) {
	disp := newFakeDispatcher()
	ch := channelWithSmallWindow(1)
	disp.channels[1] = ch

	frame := &wireframe.Frame{Type: wireframe.MSG, Channel: 1, MsgNo: 0, More: false, SeqNo: 0, Payload: []byte("hello")}
	data := frame.Encode()

	loop := New(bytes.NewReader(data), disp, 0)
	err := loop.Run()
	if err != io.EOF {
		t.Fatalf("Run err = %v, want io.EOF", err)
	}
	if len(disp.messages) != 1 || disp.messages[0] != "hello" {
		t.Fatalf("messages = %v, want [hello]", disp.messages)
	}
}

func TestReaderReassemblesFragments(t *testing.T) {
	disp := newFakeDispatcher()
	ch := channelWithSmallWindow(1)
	disp.channels[1] = ch

	f1 := &wireframe.Frame{Type: wireframe.MSG, Channel: 1, MsgNo: 0, More: true, SeqNo: 0, Payload: []byte("ab")}
	f2 := &wireframe.Frame{Type: wireframe.MSG, Channel: 1, MsgNo: 0, More: false, SeqNo: 2, Payload: []byte("cd")}
	data := append(f1.Encode(), f2.Encode()...)

	loop := New(bytes.NewReader(data), disp, 0)
	_ = loop.Run()
	if len(disp.messages) != 1 || disp.messages[0] != "abcd" {
		t.Fatalf("messages = %v, want [abcd]", disp.messages)
	}
}

func TestReaderAppliesSeqWindowUpdate(t *testing.T) {
	disp := newFakeDispatcher()
	ch := channelWithSmallWindow(1)
	disp.channels[1] = ch

	seq := &wireframe.SeqFrame{Channel: 1, AckNo: 100, Window: 50}
	loop := New(bytes.NewReader(seq.Encode()), disp, 0)
	_ = loop.Run()

	if disp.seqUpdates != 1 {
		t.Fatalf("seqUpdates = %d, want 1", disp.seqUpdates)
	}
	if ch.RemoteWindowStart != 100 || ch.RemoteWindowSize != 50 {
		t.Fatalf("window = %d/%d, want 100/50", ch.RemoteWindowStart, ch.RemoteWindowSize)
	}
}

func TestReaderTriggersWindowUpdateAtHalfWindow(t *testing.T) {
	disp := newFakeDispatcher()
	ch := channelWithSmallWindow(1) // LocalWindowSize = 10, threshold = 5
	disp.channels[1] = ch

	frame := &wireframe.Frame{Type: wireframe.MSG, Channel: 1, MsgNo: 0, More: false, SeqNo: 0, Payload: []byte("123456")}
	loop := New(bytes.NewReader(frame.Encode()), disp, 0)
	_ = loop.Run()

	if disp.windowRequests != 1 {
		t.Fatalf("windowRequests = %d, want 1", disp.windowRequests)
	}
}

func TestReaderDiscardsSeqForUnknownChannel(t *testing.T) {
	disp := newFakeDispatcher()
	seq := &wireframe.SeqFrame{Channel: 9, AckNo: 1, Window: 10}
	loop := New(bytes.NewReader(seq.Encode()), disp, 0)
	err := loop.Run()
	if err != io.EOF {
		t.Fatalf("Run err = %v, want io.EOF", err)
	}
	if disp.seqUpdates != 0 {
		t.Fatalf("seqUpdates = %d, want 0", disp.seqUpdates)
	}
	if disp.fatal != nil {
		t.Fatalf("fatal = %v, want nil", disp.fatal)
	}
}

func TestReaderFailsOnUnknownChannel(t *testing.T) {
	disp := newFakeDispatcher()
	frame := &wireframe.Frame{Type: wireframe.MSG, Channel: 7, MsgNo: 0, More: false, SeqNo: 0, Payload: []byte("x")}
	loop := New(bytes.NewReader(frame.Encode()), disp, 0)
	err := loop.Run()
	if err == nil {
		t.Fatalf("expected error for unknown channel")
	}
	if disp.fatal == nil {
		t.Fatalf("expected HandleFatal to be invoked")
	}
}

func TestReaderPropagatesSeqNoMismatchAsFatal(t *testing.T) {
	disp := newFakeDispatcher()
	ch := channelWithSmallWindow(1)
	disp.channels[1] = ch

	frame := &wireframe.Frame{Type: wireframe.MSG, Channel: 1, MsgNo: 0, More: false, SeqNo: 99, Payload: []byte("x")}
	loop := New(bytes.NewReader(frame.Encode()), disp, 0)
	err := loop.Run()
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected a seq_no mismatch error, got %v", err)
	}
}
