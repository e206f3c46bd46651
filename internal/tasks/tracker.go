// Package tasks associates cancellable background operations with
// connection ids so a disconnecting client's in-flight work is stopped
// promptly instead of running to completion against a client that is gone.
package tasks

import (
	"context"
	"sync"
)

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Tracker schedules background functions keyed by connection id. Schedule
// and CancelAll are safe to call from any goroutine.
type Tracker struct {
	mu     sync.Mutex
	active map[string]map[*task]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]map[*task]struct{})}
}

// Schedule runs fn on its own goroutine under a context cancelled either by
// CancelAll(connectionID) or by the parent. The task deregisters itself
// when fn returns.
func (t *Tracker) Schedule(parent context.Context, connectionID string, fn func(ctx context.Context)) {
	ctx, cancel := context.WithCancel(parent)
	tk := &task{cancel: cancel, done: make(chan struct{})}

	t.mu.Lock()
	set, ok := t.active[connectionID]
	if !ok {
		set = make(map[*task]struct{})
		t.active[connectionID] = set
	}
	set[tk] = struct{}{}
	t.mu.Unlock()

	go func() {
		defer func() {
			close(tk.done)
			cancel()
			t.mu.Lock()
			if set, ok := t.active[connectionID]; ok {
				delete(set, tk)
				if len(set) == 0 {
					delete(t.active, connectionID)
				}
			}
			t.mu.Unlock()
		}()
		fn(ctx)
	}()
}

// CancelAll cancels every task scheduled for the connection and waits for
// them to finish. Idempotent; unknown ids are a no-op.
func (t *Tracker) CancelAll(connectionID string) {
	t.mu.Lock()
	set := t.active[connectionID]
	tks := make([]*task, 0, len(set))
	for tk := range set {
		tks = append(tks, tk)
	}
	t.mu.Unlock()

	for _, tk := range tks {
		tk.cancel()
	}
	for _, tk := range tks {
		<-tk.done
	}
}

// Count reports the number of still-active tasks for a connection.
func (t *Tracker) Count(connectionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active[connectionID])
}
