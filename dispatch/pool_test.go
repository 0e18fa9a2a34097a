package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsTask(t *testing.T) {
	p := New(1, 2, 4)
	defer p.Shutdown(true)

	done := make(chan struct{})
	if err := p.Submit(func() { close(done) }); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("task never ran")
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	p := New(1, 1, 4)
	p.Shutdown(true)
	if err := p.Submit(func() {}); err != ErrShutdown {
		t.Fatalf("Submit after shutdown = %v, want ErrShutdown", err)
	}
}

func TestScheduleOnceFiresOnce(t *testing.T) {
	p := New(1, 1, 4)
	defer p.Shutdown(true)

	var count int32
	_, err := p.Schedule(10*time.Millisecond, false, func() { atomic.AddInt32(&count, 1) })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestScheduleRepeatAndCancel(t *testing.T) {
	p := New(1, 1, 8)
	defer p.Shutdown(true)

	var count int32
	id, err := p.Schedule(10*time.Millisecond, true, func() { atomic.AddInt32(&count, 1) })
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	time.Sleep(55 * time.Millisecond)
	p.Cancel(id)
	after := atomic.LoadInt32(&count)
	if after < 3 {
		t.Fatalf("count = %d, want at least 3 firings before cancel", after)
	}
	time.Sleep(40 * time.Millisecond)
	if got := atomic.LoadInt32(&count); got != after {
		t.Fatalf("count advanced to %d after Cancel, want frozen at %d", got, after)
	}
}

func TestShutdownWaitsForOutstanding(t *testing.T) {
	p := New(1, 1, 4)
	var wg sync.WaitGroup
	wg.Add(1)
	started := make(chan struct{})
	_ = p.Submit(func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		wg.Done()
	})
	<-started

	doneShutdown := make(chan struct{})
	go func() {
		p.Shutdown(true)
		close(doneShutdown)
	}()

	select {
	case <-doneShutdown:
	case <-time.After(time.Second):
		t.Fatalf("Shutdown(true) did not return")
	}
	// wg should already be done by the time Shutdown(true) returned.
	waited := make(chan struct{})
	go func() { wg.Wait(); close(waited) }()
	select {
	case <-waited:
	default:
		t.Fatalf("Shutdown(true) returned before outstanding task finished")
	}
}
