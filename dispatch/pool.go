// Package dispatch implements the worker pool that runs profile callbacks
// and scheduled events off the reader/writer goroutines (§4.9), so a slow
// or blocking profile handler cannot stall frame I/O.
package dispatch

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrShutdown is returned by Submit and Schedule once the pool has begun
// shutting down.
var ErrShutdown = errors.New("dispatch: pool is shut down")

// Task is a unit of work handed to a worker goroutine.
type Task func()

// Pool is a dynamically-sized worker pool: it starts with a fixed number
// of goroutines and grows, up to a ceiling, when the task queue backs up,
// shrinking back down once idle (§4.9 "Dynamic worker sizing").
type Pool struct {
	mu       sync.Mutex
	tasks    chan Task
	minSize  int
	maxSize  int
	active   int
	idle     int
	shutdown bool
	wg       sync.WaitGroup

	scheduled map[uuid.UUID]*scheduledTask
}

type scheduledTask struct {
	timer    *time.Timer
	interval time.Duration
	repeat   bool
	stopped  bool
}

// New creates a Pool with minSize always-running workers and room to grow
// to maxSize under load. minSize workers start immediately.
func New(minSize, maxSize, queueDepth int) *Pool {
	if minSize < 1 {
		minSize = 1
	}
	if maxSize < minSize {
		maxSize = minSize
	}
	p := &Pool{
		tasks:     make(chan Task, queueDepth),
		minSize:   minSize,
		maxSize:   maxSize,
		scheduled: make(map[uuid.UUID]*scheduledTask),
	}
	for i := 0; i < minSize; i++ {
		p.spawn()
	}
	return p
}

func (p *Pool) spawn() {
	p.active++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	idleTimer := time.NewTimer(workerIdleTimeout)
	defer idleTimer.Stop()
	for {
		select {
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			t()
			idleTimer.Reset(workerIdleTimeout)
		case <-idleTimer.C:
			p.mu.Lock()
			canShrink := p.active > p.minSize
			if canShrink {
				p.active--
			}
			p.mu.Unlock()
			if canShrink {
				return
			}
			idleTimer.Reset(workerIdleTimeout)
		}
	}
}

// workerIdleTimeout is how long an above-minSize worker waits for a task
// before exiting.
const workerIdleTimeout = 5 * time.Second

// Submit enqueues t for execution, growing the pool (up to maxSize) if the
// queue is already backed up. The shutdown check and the send onto tasks
// are done under the same lock Shutdown uses to flip shutdown and close
// tasks, so a concurrent Shutdown can never close the channel out from
// under a Submit already committed to sending on it.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrShutdown
	}
	if len(p.tasks) > 0 && p.active < p.maxSize {
		p.spawn()
	}
	p.tasks <- t
	return nil
}

// Schedule runs t once after d. If repeat is true, t is re-run every d
// until Cancel is called. The returned id, a fresh uuid.UUID, is passed to
// Cancel.
func (p *Pool) Schedule(d time.Duration, repeat bool, t Task) (id uuid.UUID, err error) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return uuid.UUID{}, ErrShutdown
	}
	id = uuid.New()
	st := &scheduledTask{interval: d, repeat: repeat}
	p.scheduled[id] = st
	p.mu.Unlock()

	var fire func()
	fire = func() {
		p.mu.Lock()
		st, ok := p.scheduled[id]
		stopped := !ok || st.stopped
		p.mu.Unlock()
		if stopped {
			return
		}
		_ = p.Submit(t)
		if repeat {
			p.mu.Lock()
			if st, ok := p.scheduled[id]; ok && !st.stopped {
				st.timer = time.AfterFunc(d, fire)
			}
			p.mu.Unlock()
		} else {
			p.mu.Lock()
			delete(p.scheduled, id)
			p.mu.Unlock()
		}
	}
	st.timer = time.AfterFunc(d, fire)
	return id, nil
}

// Cancel stops a scheduled task; it is a no-op if id is unknown or already
// fired (non-repeating).
func (p *Pool) Cancel(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.scheduled[id]
	if !ok {
		return
	}
	st.stopped = true
	if st.timer != nil {
		st.timer.Stop()
	}
	delete(p.scheduled, id)
}

// Shutdown stops accepting new work. If waitOutstanding is true, it blocks
// until every queued and in-flight task has completed; otherwise it
// returns once no further tasks will be accepted, leaving any already
// in-flight task to finish on its own.
func (p *Pool) Shutdown(waitOutstanding bool) {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	for id, st := range p.scheduled {
		st.stopped = true
		if st.timer != nil {
			st.timer.Stop()
		}
		delete(p.scheduled, id)
	}
	p.mu.Unlock()

	close(p.tasks)
	if waitOutstanding {
		p.wg.Wait()
	}
}

// ActiveWorkers reports the current worker goroutine count, for tests and
// diagnostics.
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}
