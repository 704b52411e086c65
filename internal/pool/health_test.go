package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthTransitions(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	ctx := context.Background()

	h, ok := p.Health("memory")
	require.True(t, ok)
	assert.Equal(t, StatusUnknown, h.Status)

	p.probe.set(errors.New("down"))
	p.CheckHealth(ctx)
	h, _ = p.Health("memory")
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.Equal(t, "down", h.LastError)

	p.CheckHealth(ctx)
	p.CheckHealth(ctx)
	h, _ = p.Health("memory")
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, 3, h.ConsecutiveFailures)

	p.probe.set(nil)
	p.CheckHealth(ctx)
	h, _ = p.Health("memory")
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.Empty(t, h.LastError)
	assert.False(t, h.CheckedAt.IsZero())
}

func TestHealthChangeHook(t *testing.T) {
	var mu sync.Mutex
	var seen []Status

	p := newTestPool(t, 1, defaultRetry())
	p.onChange = func(_ string, h Health) {
		mu.Lock()
		seen = append(seen, h.Status)
		mu.Unlock()
	}

	ctx := context.Background()
	p.CheckHealth(ctx)
	p.CheckHealth(ctx)
	p.probe.set(errors.New("x"))
	p.CheckHealth(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Status{StatusHealthy, StatusDegraded}, seen, "hook fires only on status change")
}

func TestWaitForHealthIdempotent(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	ctx := context.Background()
	p.CheckHealth(ctx)
	probes := p.probe.calls()

	start := time.Now()
	require.NoError(t, p.WaitForHealth(ctx, time.Second))
	require.NoError(t, p.WaitForHealth(ctx, time.Second))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, probes, p.probe.calls(), "wait must not probe")
}

func TestWaitForHealthTimeout(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	err := p.WaitForHealth(context.Background(), 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrHealthTimeout)
}

func TestWaitForHealthWakesOnChange(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.CheckHealth(ctx)
	}()
	assert.NoError(t, p.WaitForHealth(ctx, 2*time.Second))
}

func TestWaitForHealthContextCancel(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.WaitForHealth(ctx, time.Second), context.Canceled)
}

func TestStartHealthLoop(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.StartHealthLoop(ctx)
	require.NoError(t, p.WaitForHealth(ctx, 2*time.Second))
	assert.True(t, p.Healthy())
}

func TestSnapshot(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	r := p.Snapshot()
	assert.Equal(t, StatusDegraded, r.Status, "unknown servers are not healthy")

	p.CheckHealth(context.Background())
	r = p.Snapshot()
	assert.Equal(t, StatusHealthy, r.Status)
	require.Contains(t, r.Services, "memory")
	assert.Equal(t, "http://memory", r.Services["memory"].URL)
	assert.Equal(t, StatusHealthy, r.Services["memory"].Status)

	p.probe.set(errors.New("gone"))
	for range 3 {
		p.CheckHealth(context.Background())
	}
	r = p.Snapshot()
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.Equal(t, "gone", r.Services["memory"].Error)
}
