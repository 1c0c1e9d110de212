// Package watchdog tracks client activity on a relay connection and
// signals when the client has gone quiet for too long.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/opencomputer/termproxy/internal/clock"
)

const (
	// DefaultTimeout is how long a connection may go without a parsed
	// message before it is torn down.
	DefaultTimeout = 5 * time.Minute

	// DefaultInterval is how often Watch checks for expiry.
	DefaultInterval = time.Second
)

// Watchdog holds the last-activity instant for one connection.
type Watchdog struct {
	clock   clock.Clock
	timeout time.Duration

	mu   sync.Mutex
	last time.Time
}

// New returns a Watchdog that starts counting from now. A non-positive
// timeout selects DefaultTimeout and a nil clock selects the real one.
func New(timeout time.Duration, c clock.Clock) *Watchdog {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if c == nil {
		c = clock.Real()
	}
	return &Watchdog{clock: c, timeout: timeout, last: c.Now()}
}

// Timeout returns the configured inactivity limit.
func (w *Watchdog) Timeout() time.Duration { return w.timeout }

// Touch records client activity.
func (w *Watchdog) Touch() {
	now := w.clock.Now()
	w.mu.Lock()
	w.last = now
	w.mu.Unlock()
}

// LastActivity returns the instant of the most recent Touch.
func (w *Watchdog) LastActivity() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Remaining returns the time left before expiry, never negative.
func (w *Watchdog) Remaining() time.Duration {
	left := w.timeout - w.clock.Now().Sub(w.LastActivity())
	if left < 0 {
		return 0
	}
	return left
}

// Expired reports whether more than the timeout has passed since the
// last Touch.
func (w *Watchdog) Expired() bool {
	return w.clock.Now().Sub(w.LastActivity()) > w.timeout
}

// Watch polls Expired every interval and closes the returned channel the
// first time it reports true. The channel is never closed if ctx ends
// first.
func (w *Watchdog) Watch(ctx context.Context, interval time.Duration) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultInterval
	}
	fired := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() == nil && w.Expired() {
					close(fired)
					return
				}
			}
		}
	}()
	return fired
}
