package refresh

import (
	"context"
	"sync"
	"time"
)

// Handle controls a periodic refresh task started by Scheduler.Start.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Stop ends the periodic task. It is safe to call more than once. A cycle
// already in flight still completes and publishes, without retries.
func (h *Handle) Stop() {
	h.once.Do(h.cancel)
}

// Done is closed once the task has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Start runs a cycle immediately and then on every interval until the
// returned handle is stopped or ctx is cancelled. Each tick re-checks the
// preconditions inside Refresh, so a tick with no key or no holdings does
// nothing.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(h.done)
		// The first cycle follows a change (start, new key); if another
		// cycle is in flight it runs right after instead of being dropped.
		if !s.Refresh(ctx) {
			s.enqueue(ctx)
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
	return h
}
