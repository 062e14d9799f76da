package tether

import (
	"sync"
	"time"
)

// retryTimer holds a socket's single pending reconnect timer. Scheduling
// replaces any timer already pending, so at most one can ever fire.
type retryTimer struct {
	mu    sync.Mutex
	timer *time.Timer
}

func newRetryTimer() *retryTimer {
	return &retryTimer{}
}

func (t *retryTimer) Schedule(delay time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(delay, fn)
}

func (t *retryTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
