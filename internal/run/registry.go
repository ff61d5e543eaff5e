// Package run owns the per-run control loops: the registry of live loop
// tasks and the tick cycle that proposes, governs, executes, appends, and
// broadcasts.
package run

import (
	"context"
	"sync"
)

// task is one live loop.
type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks the loop task of every live run. All spawn/stop access
// goes through it; loops hold only their run_id.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

// Spawn starts fn as the run's loop task. Returns false when the run already
// has a live task.
func (r *Registry) Spawn(runID string, fn func(ctx context.Context)) bool {
	r.mu.Lock()
	if _, exists := r.tasks[runID]; exists {
		r.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}
	r.tasks[runID] = t
	r.mu.Unlock()

	go func() {
		defer func() {
			close(t.done)
			r.reap(runID, t)
		}()
		fn(ctx)
	}()
	return true
}

// Stop cancels the run's loop. Returns false when no task is live.
func (r *Registry) Stop(runID string) bool {
	r.mu.Lock()
	t, ok := r.tasks[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	return true
}

// Running reports whether the run has a live loop task.
func (r *Registry) Running(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[runID]
	return ok
}

// Count returns the number of live loops.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Wait blocks until the run's loop exits. No-op when none is live.
func (r *Registry) Wait(runID string) {
	r.mu.Lock()
	t, ok := r.tasks[runID]
	r.mu.Unlock()
	if ok {
		<-t.done
	}
}

// StopAll cancels every live loop and waits for them to exit.
func (r *Registry) StopAll() {
	r.mu.Lock()
	tasks := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		tasks = append(tasks, t)
	}
	r.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// reap removes the entry only if it still points at the finished task, so a
// respawned run is never clobbered.
func (r *Registry) reap(runID string, t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[runID]; ok && cur == t {
		delete(r.tasks, runID)
	}
}
