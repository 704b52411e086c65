package pool

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/orca/internal/config"
)

// callLog records which slot served each call and scripts per-call errors.
type callLog struct {
	mu     sync.Mutex
	slots  []int
	script []error
}

func (l *callLog) Slots() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.slots...)
}

// probeState scripts probe outcomes shared by all slots.
type probeState struct {
	mu    sync.Mutex
	err   error
	count int
}

func (s *probeState) set(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *probeState) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

type fakeTransport struct {
	slot   int
	log    *callLog
	probe  *probeState
	closed atomic.Bool
}

func (f *fakeTransport) Call(_ context.Context, _, _ string, _ any) (json.RawMessage, error) {
	f.log.mu.Lock()
	n := len(f.log.slots)
	f.log.slots = append(f.log.slots, f.slot)
	var err error
	if n < len(f.log.script) {
		err = f.log.script[n]
	}
	f.log.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return json.RawMessage(`{"ok":true}`), nil
}

func (f *fakeTransport) Probe(context.Context) error {
	f.probe.mu.Lock()
	defer f.probe.mu.Unlock()
	f.probe.count++
	return f.probe.err
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

type testPool struct {
	*Pool
	log    *callLog
	probe  *probeState
	delays []time.Duration
}

func newTestPool(t *testing.T, size int, retry config.RetryConfig, script ...error) *testPool {
	t.Helper()
	tp := &testPool{log: &callLog{script: script}, probe: &probeState{}}
	servers := map[string]config.ServerConfig{
		"memory": {Name: "memory", URL: "http://memory", PoolSize: size, Retry: retry},
	}
	p, err := New(servers,
		WithTransportFactory(func(_ string, _ config.ServerConfig, slot int) (Transport, error) {
			return &fakeTransport{slot: slot, log: tp.log, probe: tp.probe}, nil
		}),
		WithHealthConfig(config.HealthConfig{Interval: time.Hour, UnhealthyAfter: 3}),
	)
	require.NoError(t, err)
	p.sleep = func(_ context.Context, d time.Duration) error {
		tp.delays = append(tp.delays, d)
		return nil
	}
	tp.Pool = p
	t.Cleanup(func() { _ = p.Close() })
	return tp
}

func defaultRetry() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, Multiplier: 2}
}

func TestExecuteRoundRobin(t *testing.T) {
	p := newTestPool(t, 3, defaultRetry())
	ctx := context.Background()

	for range 6 {
		_, err := p.Execute(ctx, "memory", "POST", "store", nil)
		require.NoError(t, err)
	}
	slots := p.log.Slots()
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, slots)
	for i := 1; i < len(slots); i++ {
		assert.NotEqual(t, slots[i-1], slots[i], "consecutive calls reused slot %d", slots[i])
	}
}

func TestExecuteConcurrentDistribution(t *testing.T) {
	p := newTestPool(t, 3, defaultRetry())
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 300 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.Execute(ctx, "memory", "POST", "store", nil)
		}()
	}
	wg.Wait()

	counts := map[int]int{}
	for _, s := range p.log.Slots() {
		counts[s]++
	}
	assert.Equal(t, map[int]int{0: 100, 1: 100, 2: 100}, counts)
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	boom := errors.New("connection refused")
	p := newTestPool(t, 2, defaultRetry(), boom, boom)

	res, err := p.Execute(context.Background(), "memory", "POST", "store", map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, p.delays)
	assert.Len(t, p.log.Slots(), 3)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	boom := errors.New("connection refused")
	p := newTestPool(t, 2, defaultRetry(), boom, boom, boom, boom)

	_, err := p.Execute(context.Background(), "memory", "POST", "store", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	assert.ErrorIs(t, err, boom)

	var rce *RemoteCallFailedError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "memory", rce.Server)
	assert.Equal(t, 3, rce.Attempts)
	assert.Len(t, p.log.Slots(), 3, "no attempt beyond max attempts")
	assert.Len(t, p.delays, 2)
}

func TestExecuteUnknownServer(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry())
	_, err := p.Execute(context.Background(), "nope", "GET", "x", nil)
	assert.ErrorIs(t, err, ErrServerNotConfigured)
	assert.NotErrorIs(t, err, ErrRemoteCallFailed)
	assert.Empty(t, p.log.Slots())
}

func TestExecutePermanentErrorStopsRetry(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry(), &StatusError{StatusCode: 400, Body: "bad"})

	_, err := p.Execute(context.Background(), "memory", "POST", "store", nil)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	assert.Len(t, p.log.Slots(), 1)
	assert.Empty(t, p.delays)
	assert.Equal(t, 400, StatusCode(err))
}

func TestExecuteRetriesTooManyRequests(t *testing.T) {
	p := newTestPool(t, 1, defaultRetry(), &StatusError{StatusCode: 429})
	_, err := p.Execute(context.Background(), "memory", "POST", "store", nil)
	require.NoError(t, err)
	assert.Len(t, p.log.Slots(), 2)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	boom := errors.New("down")
	p := newTestPool(t, 1, defaultRetry(), boom, boom, boom)
	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := p.Execute(ctx, "memory", "POST", "store", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrRemoteCallFailed)
	assert.Len(t, p.log.Slots(), 1)
}

func TestBackoff(t *testing.T) {
	policy := config.RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: 500 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, Backoff(policy, 0))
	assert.Equal(t, 200*time.Millisecond, Backoff(policy, 1))
	assert.Equal(t, 400*time.Millisecond, Backoff(policy, 2))
	assert.Equal(t, 500*time.Millisecond, Backoff(policy, 3))
	assert.Equal(t, 500*time.Millisecond, Backoff(policy, 200))
}

func TestBackoffUncappedDoesNotOverflow(t *testing.T) {
	policy := config.RetryConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 800*time.Millisecond, Backoff(policy, 3))

	prev := time.Duration(0)
	for _, n := range []int{30, 40, 64, 100, 2000} {
		d := Backoff(policy, n)
		assert.Positive(t, d, "attempt %d", n)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", n)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), Backoff(policy, 2000))
}

func TestEndpointValidation(t *testing.T) {
	servers := map[string]config.ServerConfig{
		"git": {URL: "http://git", PoolSize: 1, AllowedEndpoints: []string{"status", "diff"}, Retry: defaultRetry()},
	}
	log := &callLog{}
	factory := func(string, config.ServerConfig, int) (Transport, error) {
		return &fakeTransport{log: log, probe: &probeState{}}, nil
	}

	restricted, err := New(servers, WithTransportFactory(factory), WithRestrictEndpoints(true))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = restricted.Execute(ctx, "git", "GET", "status", nil)
	assert.NoError(t, err)
	_, err = restricted.Execute(ctx, "git", "GET", "/diff/HEAD", nil)
	assert.NoError(t, err)
	_, err = restricted.Execute(ctx, "git", "POST", "commit", nil)
	assert.ErrorIs(t, err, ErrEndpointNotAllowed)

	open, err := New(servers, WithTransportFactory(factory))
	require.NoError(t, err)
	_, err = open.Execute(ctx, "git", "POST", "commit", nil)
	assert.NoError(t, err)
	_, err = open.Execute(ctx, "git", "GET", "status/../../etc", nil)
	assert.ErrorIs(t, err, ErrEndpointNotAllowed)
	_, err = open.Execute(ctx, "git", "GET", "http://evil/status", nil)
	assert.ErrorIs(t, err, ErrEndpointNotAllowed)

	assert.Len(t, log.Slots(), 3)
}

func TestCloseClosesSlots(t *testing.T) {
	var transports []*fakeTransport
	log := &callLog{}
	p, err := New(map[string]config.ServerConfig{"a": {PoolSize: 2}, "b": {PoolSize: 1}},
		WithTransportFactory(func(string, config.ServerConfig, int) (Transport, error) {
			ft := &fakeTransport{log: log, probe: &probeState{}}
			transports = append(transports, ft)
			return ft, nil
		}))
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.Len(t, transports, 3)
	for _, ft := range transports {
		assert.True(t, ft.closed.Load())
	}
	assert.Equal(t, []string{"a", "b"}, p.Servers())
}
