// Package scheduler runs named periodic tasks that can be started, paused
// and stopped independently.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one tick of periodic work.
type Task func(ctx context.Context)

type entry struct {
	every  time.Duration
	task   Task
	stop   chan struct{}
	done   chan struct{}
	paused bool
}

// Scheduler owns a set of keyed periodic tasks. A task runs once right away
// and then on every interval; ticks of one task never overlap.
//
// Stopping or pausing a task ends its schedule but never cancels a tick
// that is already running. Only the parent context does that.
type Scheduler struct {
	mu      sync.Mutex
	parent  context.Context
	entries map[string]*entry
	logger  *zap.Logger
}

// New returns a scheduler whose tasks stop when parent is cancelled.
func New(parent context.Context, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{parent: parent, entries: map[string]*entry{}, logger: logger}
}

// Start runs task every interval under key. It reports false when key is
// already running. Starting a paused key replaces its task.
func (s *Scheduler) Start(key string, every time.Duration, task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	var prev chan struct{}
	if e, ok := s.entries[key]; ok {
		if !e.paused {
			return false
		}
		prev = e.done
	}
	e := &entry{every: every, task: task, done: prev}
	s.entries[key] = e
	s.launchLocked(key, e)
	return true
}

// launchLocked starts a new run of e. The run waits for the previous run's
// last tick before its first one.
func (s *Scheduler) launchLocked(key string, e *entry) {
	prev := e.done
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.paused = false
	go s.loop(key, e.every, e.task, e.stop, e.done, prev)
}

func (s *Scheduler) loop(key string, every time.Duration, task Task, stop <-chan struct{}, done chan struct{}, prev <-chan struct{}) {
	defer close(done)
	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		case <-s.parent.Done():
			return
		}
	}
	s.logger.Debug("task started", zap.String("task", key), zap.Duration("every", every))
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			s.logger.Debug("task stopped", zap.String("task", key))
			return
		case <-s.parent.Done():
			return
		default:
		}
		task(s.parent)
		select {
		case <-stop:
			s.logger.Debug("task stopped", zap.String("task", key))
			return
		case <-s.parent.Done():
			return
		case <-ticker.C:
		}
	}
}

// haltLocked ends e's schedule and returns the channel closed once its
// running tick, if any, has returned.
func haltLocked(e *entry) <-chan struct{} {
	if !e.paused && e.stop != nil {
		close(e.stop)
	}
	return e.done
}

// Stop forgets key. A tick that is already running finishes on its own.
func (s *Scheduler) Stop(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	haltLocked(e)
	delete(s.entries, key)
	return true
}

// Pause ends key's schedule but remembers it so Resume can restart it.
func (s *Scheduler) Pause(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.paused {
		return false
	}
	haltLocked(e)
	e.paused = true
	return true
}

// Resume restarts a paused key.
func (s *Scheduler) Resume(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !e.paused {
		return false
	}
	s.launchLocked(key, e)
	return true
}

// Running reports whether key is active.
func (s *Scheduler) Running(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && !e.paused
}

// Paused reports whether key is paused.
func (s *Scheduler) Paused(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return ok && e.paused
}

// Keys returns every known key.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for k := range s.entries {
		out = append(out, k)
	}
	return out
}

// StopAll stops every task and waits for running ticks to return.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	waits := make([]<-chan struct{}, 0, len(s.entries))
	for _, e := range s.entries {
		if done := haltLocked(e); done != nil {
			waits = append(waits, done)
		}
	}
	s.entries = map[string]*entry{}
	s.mu.Unlock()
	for _, done := range waits {
		<-done
	}
}
