package seq

import (
	"errors"
	"io"
	"sync"
)

// ErrPaused is returned by Feeder.Next when the feeder is currently paused.
var ErrPaused = errors.New("seq: feeder is paused")

// FeederState is the feeder's observable lifecycle state (§9: "Feeder
// pause/resume"): Idle -> Running -> Paused -> Running -> Finished.
type FeederState int

const (
	FeederIdle FeederState = iota
	FeederRunning
	FeederPaused
	FeederFinished
)

func (s FeederState) String() string {
	switch s {
	case FeederIdle:
		return "idle"
	case FeederRunning:
		return "running"
	case FeederPaused:
		return "paused"
	case FeederFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// SourceFunc produces up to max bytes of payload on demand. It returns
// io.EOF (with any trailing bytes) when the source is exhausted.
type SourceFunc func(max int) (chunk []byte, err error)

// Feeder is a lazy payload producer integrated with the Sequencer for
// streaming large or on-demand data (§3 PayloadFeeder, §9). A Feeder backed
// by a non-seekable source is not restartable once Finished.
type Feeder struct {
	mu sync.Mutex

	source      SourceFunc
	state       FeederState
	totalSize   int64 // -1 if unknown ahead of time
	transferred int64

	onResume   func()
	onFinished func()
}

// NewFeeder creates a Feeder over source. totalSize may be -1 if the total
// length is not known in advance.
func NewFeeder(totalSize int64, source SourceFunc) *Feeder {
	return &Feeder{source: source, state: FeederIdle, totalSize: totalSize}
}

// SetOnResume registers a callback invoked when Resume transitions the
// feeder back to Running. The Sequencer uses this to re-enqueue the
// channel without granting it priority over peers that kept working while
// this feeder was paused (§9).
func (f *Feeder) SetOnResume(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onResume = fn
}

// SetOnFinished registers a callback invoked exactly once, the first time
// the feeder reports exhaustion.
func (f *Feeder) SetOnFinished(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFinished = fn
}

// Next yields up to max bytes. It returns ErrPaused without consuming the
// source while paused. It returns io.EOF (possibly along with a final
// non-empty chunk) once the source is exhausted, after which the feeder is
// Finished and onFinished fires.
func (f *Feeder) Next(max int) ([]byte, error) {
	f.mu.Lock()
	if f.state == FeederPaused {
		f.mu.Unlock()
		return nil, ErrPaused
	}
	if f.state == FeederFinished {
		f.mu.Unlock()
		return nil, io.EOF
	}
	f.state = FeederRunning
	f.mu.Unlock()

	chunk, err := f.source(max)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transferred += int64(len(chunk))
	if err == io.EOF {
		f.state = FeederFinished
		if f.onFinished != nil {
			go f.onFinished()
		}
	}
	return chunk, err
}

// Pause detaches the feeder from the Sequencer's ready set. A paused
// feeder's Next returns ErrPaused immediately without touching the source.
func (f *Feeder) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == FeederRunning || f.state == FeederIdle {
		f.state = FeederPaused
	}
}

// Resume re-arms a paused feeder and invokes the onResume callback, if
// any, so the Sequencer can re-enqueue it.
func (f *Feeder) Resume() {
	f.mu.Lock()
	wasPaused := f.state == FeederPaused
	if wasPaused {
		f.state = FeederRunning
	}
	cb := f.onResume
	f.mu.Unlock()
	if wasPaused && cb != nil {
		cb()
	}
}

// State reports the feeder's current lifecycle state.
func (f *Feeder) State() FeederState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsPaused reports whether the feeder is currently paused.
func (f *Feeder) IsPaused() bool { return f.State() == FeederPaused }

// IsFinished reports whether the feeder has been fully drained.
func (f *Feeder) IsFinished() bool { return f.State() == FeederFinished }

// TotalSize returns the feeder's total byte count, or -1 if unknown.
func (f *Feeder) TotalSize() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.totalSize
}

// BytesTransferred returns the number of bytes yielded so far.
func (f *Feeder) BytesTransferred() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.transferred
}

// BytesFeeder adapts a plain, already-in-memory byte slice into a Feeder,
// for callers sending a single bounded payload rather than streaming one.
func BytesFeeder(payload []byte) *Feeder {
	remaining := payload
	return NewFeeder(int64(len(payload)), func(max int) ([]byte, error) {
		if len(remaining) == 0 {
			return nil, io.EOF
		}
		n := max
		if n > len(remaining) {
			n = len(remaining)
		}
		chunk := remaining[:n]
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return chunk, io.EOF
		}
		return chunk, nil
	})
}
