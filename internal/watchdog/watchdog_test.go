package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/opencomputer/termproxy/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestWatchdog_Defaults(t *testing.T) {
	w := New(0, nil)
	assert.Equal(t, DefaultTimeout, w.Timeout())
	assert.False(t, w.Expired())
}

func TestWatchdog_ExpiresAfterTimeout(t *testing.T) {
	c := clock.Fake(epoch)
	w := New(DefaultTimeout, c)

	c.Advance(DefaultTimeout)
	assert.False(t, w.Expired(), "exactly the timeout is not yet expired")

	c.Advance(time.Second)
	assert.True(t, w.Expired())
	assert.Zero(t, w.Remaining())
}

func TestWatchdog_TouchResets(t *testing.T) {
	c := clock.Fake(epoch)
	w := New(DefaultTimeout, c)

	c.Advance(4 * time.Minute)
	w.Touch()
	assert.Equal(t, epoch.Add(4*time.Minute), w.LastActivity())

	c.Advance(4 * time.Minute)
	assert.False(t, w.Expired())
	assert.Equal(t, time.Minute, w.Remaining())

	c.Advance(time.Minute + time.Second)
	assert.True(t, w.Expired())
}

func TestWatchdog_WatchFiresOnce(t *testing.T) {
	c := clock.Fake(epoch)
	w := New(DefaultTimeout, c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fired := w.Watch(ctx, 5*time.Millisecond)

	select {
	case <-fired:
		t.Fatal("watchdog fired before expiry")
	case <-time.After(30 * time.Millisecond):
	}

	c.Advance(DefaultTimeout + time.Second)

	select {
	case _, open := <-fired:
		require.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not fire after expiry")
	}
}

func TestWatchdog_WatchStopsWithContext(t *testing.T) {
	c := clock.Fake(epoch)
	w := New(DefaultTimeout, c)

	ctx, cancel := context.WithCancel(context.Background())
	fired := w.Watch(ctx, 5*time.Millisecond)
	cancel()

	c.Advance(DefaultTimeout * 2)
	select {
	case <-fired:
		t.Fatal("watchdog fired after its context was cancelled")
	case <-time.After(50 * time.Millisecond):
	}
}
