package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/logging"
)

// Scheduler owns the periodic background tasks of the coordination layer
// (health sweeps, batch flushes, retention trims, load decay, proposal
// expiry). Tasks are explicit and cancelable so the host controls every
// timer-driven behavior and can shut the whole layer down deterministically.
//
// Concurrency: each task runs on its own goroutine driven by a time.Ticker.
// A panicking task is recovered and logged; the tick loop continues.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]chan struct{}
	wg      sync.WaitGroup
	stopped bool
	*loggerAdapter
}

// NewScheduler creates an idle scheduler. A nil logger falls back to NoOpLogger.
func NewScheduler(logger logging.Logger) *Scheduler {
	return &Scheduler{tasks: map[string]chan struct{}{}, loggerAdapter: newLoggerAdapter(logger)}
}

// Every registers and starts a named periodic task. Registering a name twice
// or registering after Stop returns an error; the interval must be positive.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return fmt.Errorf("task %s: interval must be positive", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("task %s: scheduler stopped", name)
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task %s: already registered", name)
	}

	stop := make(chan struct{})
	s.tasks[name] = stop
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.runTask(name, fn)
			}
		}
	}()

	return nil
}

// Cancel stops a single task by name. Canceling an unknown task is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.tasks[name]; ok {
		close(stop)
		delete(s.tasks, name)
	}
}

// Stop cancels every task and waits for their goroutines to exit. The
// scheduler accepts no further registrations afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for name, stop := range s.tasks {
		close(stop)
		delete(s.tasks, name)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler) runTask(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.LogWarn("periodic task %s panicked: %v", name, r)
		}
	}()
	fn()
}
