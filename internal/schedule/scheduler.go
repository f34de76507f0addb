// Package schedule provides cancellable delayed callbacks that can all be
// cancelled at shutdown.
package schedule

import (
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when scheduling on a stopped Scheduler.
var ErrStopped = errors.New("scheduler stopped")

// Task is a pending delayed callback.
type Task struct {
	id    uint64
	timer *time.Timer
	s     *Scheduler
}

// Cancel prevents the task from running. It reports whether the task was still pending.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	if !t.timer.Stop() {
		return false
	}
	t.s.remove(t.id)
	return true
}

// Scheduler runs callbacks after a delay on their own goroutine.
type Scheduler struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*Task
	stopped bool
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{pending: make(map[uint64]*Task)}
}

// After runs fn once d has elapsed.
func (s *Scheduler) After(d time.Duration, fn func()) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStopped
	}

	s.nextID++
	t := &Task{id: s.nextID, s: s}
	t.timer = time.AfterFunc(d, func() {
		if !s.remove(t.id) {
			return
		}
		fn()
	})
	s.pending[t.id] = t
	return t, nil
}

// Pending returns the number of tasks that have not yet fired.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending task and rejects new ones.
// It returns the number of tasks cancelled.
func (s *Scheduler) Stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	n := 0
	for id, t := range s.pending {
		if t.timer.Stop() {
			n++
		}
		delete(s.pending, id)
	}
	return n
}

func (s *Scheduler) remove(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[id]; !ok {
		return false
	}
	delete(s.pending, id)
	return true
}
