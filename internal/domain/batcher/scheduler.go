package batcher

import (
	"sync"
	"time"
)

// DefaultFrameInterval approximates one rendering frame at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// Scheduler runs fn at its next opportunity for batched work. The returned
// func cancels the call if it has not started.
type Scheduler interface {
	Schedule(fn func()) (cancel func())
}

// FrameScheduler fires once per frame interval using a timer.
type FrameScheduler struct {
	Interval time.Duration
}

// Schedule implements Scheduler.
func (s FrameScheduler) Schedule(fn func()) func() {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultFrameInterval
	}
	t := time.AfterFunc(interval, fn)
	return func() { t.Stop() }
}

// ManualScheduler queues work until Run is called. Used by tests and by
// callers that drive frames themselves.
type ManualScheduler struct {
	mu      sync.Mutex
	pending []*manualTask
}

type manualTask struct {
	fn       func()
	canceled bool
}

// Schedule implements Scheduler.
func (s *ManualScheduler) Schedule(fn func()) func() {
	task := &manualTask{fn: fn}
	s.mu.Lock()
	s.pending = append(s.pending, task)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		task.canceled = true
		s.mu.Unlock()
	}
}

// Pending returns the number of queued, uncanceled tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.pending {
		if !t.canceled {
			n++
		}
	}
	return n
}

// Run executes every queued task and reports how many ran.
func (s *ManualScheduler) Run() int {
	s.mu.Lock()
	tasks := s.pending
	s.pending = nil
	s.mu.Unlock()

	ran := 0
	for _, t := range tasks {
		s.mu.Lock()
		canceled := t.canceled
		s.mu.Unlock()
		if canceled {
			continue
		}
		t.fn()
		ran++
	}
	return ran
}
