// Package pool keeps a set of interchangeable connections per capability
// server, retries failed calls with exponential backoff and tracks server
// health.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mtzanidakis/orca/internal/config"
)

// Slot is one reusable connection owned by a single server pool.
type Slot struct {
	Index     int
	Transport Transport
}

// TransportFactory builds the transport for one slot of a server.
type TransportFactory func(server string, cfg config.ServerConfig, slot int) (Transport, error)

type serverPool struct {
	name    string
	cfg     config.ServerConfig
	slots   []Slot
	cursor  atomic.Uint64
	allowed map[string]bool
}

// next picks the slot after the one used by the previous call.
func (s *serverPool) next() Slot {
	n := s.cursor.Add(1)
	return s.slots[(n-1)%uint64(len(s.slots))]
}

// Pool routes calls to capability servers.
type Pool struct {
	servers  map[string]*serverPool
	names    []string
	restrict bool
	health   config.HealthConfig
	logger   *slog.Logger
	factory  TransportFactory
	version  string
	metrics  *metrics
	onChange func(server string, h Health)
	sleep    func(ctx context.Context, d time.Duration) error

	probes singleflight.Group

	mu      sync.RWMutex
	records map[string]Health
	changed chan struct{}
}

type Option func(*Pool)

func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithTransportFactory replaces the transport chosen from each server's
// configured transport kind.
func WithTransportFactory(f TransportFactory) Option {
	return func(p *Pool) { p.factory = f }
}

// WithRestrictEndpoints enforces each server's allowed endpoint list.
func WithRestrictEndpoints(on bool) Option {
	return func(p *Pool) { p.restrict = on }
}

func WithHealthConfig(h config.HealthConfig) Option {
	return func(p *Pool) { p.health = h }
}

// WithHealthChangeHook is called after a server's health status changes.
func WithHealthChangeHook(fn func(server string, h Health)) Option {
	return func(p *Pool) { p.onChange = fn }
}

// WithVersion sets the client version announced to MCP servers.
func WithVersion(v string) Option {
	return func(p *Pool) { p.version = v }
}

// New builds a pool with PoolSize slots for every server.
func New(servers map[string]config.ServerConfig, opts ...Option) (*Pool, error) {
	p := &Pool{
		servers: make(map[string]*serverPool, len(servers)),
		health: config.HealthConfig{
			Interval:       30 * time.Second,
			Timeout:        5 * time.Second,
			UnhealthyAfter: 3,
		},
		logger:  slog.Default(),
		version: "dev",
		sleep:   sleepCtx,
		records: make(map[string]Health, len(servers)),
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	if p.factory == nil {
		p.factory = p.defaultTransport
	}
	p.metrics = newMetrics()

	for name, cfg := range servers {
		size := max(cfg.PoolSize, 1)
		sp := &serverPool{name: name, cfg: cfg, slots: make([]Slot, 0, size)}
		if len(cfg.AllowedEndpoints) > 0 {
			sp.allowed = make(map[string]bool, len(cfg.AllowedEndpoints))
			for _, e := range cfg.AllowedEndpoints {
				sp.allowed[strings.Trim(e, "/")] = true
			}
		}
		for i := range size {
			t, err := p.factory(name, cfg, i)
			if err != nil {
				_ = p.Close()
				return nil, fmt.Errorf("server %s slot %d: %w", name, i, err)
			}
			sp.slots = append(sp.slots, Slot{Index: i, Transport: t})
		}
		p.servers[name] = sp
		p.names = append(p.names, name)
		p.records[name] = Health{Status: StatusUnknown}
	}
	sort.Strings(p.names)
	return p, nil
}

func (p *Pool) defaultTransport(_ string, cfg config.ServerConfig, _ int) (Transport, error) {
	switch cfg.Transport {
	case "", config.TransportHTTP:
		return NewHTTPTransport(cfg.URL, cfg.HealthEndpoint, cfg.Timeout), nil
	case config.TransportMCP:
		return NewMCPTransport(cfg.URL, p.version), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Servers returns the configured server names in sorted order.
func (p *Pool) Servers() []string {
	return append([]string(nil), p.names...)
}

// Execute calls endpoint on the named server, rotating through its slots and
// retrying transient failures according to the server's retry policy.
func (p *Pool) Execute(ctx context.Context, server, method, endpoint string, payload any) (json.RawMessage, error) {
	sp, ok := p.servers[server]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotConfigured, server)
	}
	if err := p.checkEndpoint(sp, endpoint); err != nil {
		return nil, err
	}

	policy := sp.cfg.Retry
	attempts := max(policy.MaxAttempts, 1)

	var lastErr error
	made := 0
	for attempt := range attempts {
		if attempt > 0 {
			delay := Backoff(policy, attempt-1)
			p.metrics.retry(ctx, server)
			p.logger.Debug("retrying call", "server", server, "endpoint", endpoint, "attempt", attempt+1, "delay", delay)
			if err := p.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}

		slot := sp.next()
		start := time.Now()
		res, err := slot.Transport.Call(ctx, method, endpoint, payload)
		made++
		p.metrics.call(ctx, server, time.Since(start), err)
		if err == nil {
			return res, nil
		}
		lastErr = err
		p.logger.Warn("call failed", "server", server, "endpoint", endpoint, "slot", slot.Index, "attempt", made, "error", err)

		if !Retryable(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, &RemoteCallFailedError{Server: server, Attempts: made, Err: lastErr}
}

// Backoff is the delay before retry n, counted from zero:
// InitialDelay * Multiplier^n, capped at MaxDelay when set.
func Backoff(policy config.RetryConfig, n int) time.Duration {
	mult := policy.Multiplier
	if mult < 1 {
		mult = 1
	}
	f := float64(policy.InitialDelay) * math.Pow(mult, float64(n))
	if policy.MaxDelay > 0 && f > float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	// Converting a float beyond the int64 range is undefined.
	if f >= math.MaxInt64 || math.IsInf(f, 0) || math.IsNaN(f) {
		return time.Duration(math.MaxInt64)
	}
	if f < 0 {
		return 0
	}
	return time.Duration(f)
}

func (p *Pool) checkEndpoint(sp *serverPool, endpoint string) error {
	clean := strings.Trim(endpoint, "/")
	if strings.Contains(endpoint, "://") || strings.HasPrefix(endpoint, "//") {
		return fmt.Errorf("%w: %s: absolute url %q", ErrEndpointNotAllowed, sp.name, endpoint)
	}
	for _, seg := range strings.Split(clean, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: %s: path traversal in %q", ErrEndpointNotAllowed, sp.name, endpoint)
		}
	}
	if !p.restrict || sp.allowed == nil {
		return nil
	}
	first, _, _ := strings.Cut(clean, "/")
	first, _, _ = strings.Cut(first, "?")
	if !sp.allowed[first] {
		return fmt.Errorf("%w: %s: %q", ErrEndpointNotAllowed, sp.name, endpoint)
	}
	return nil
}

// Close releases every slot's transport.
func (p *Pool) Close() error {
	var errs []error
	for _, sp := range p.servers {
		for _, s := range sp.slots {
			if err := s.Transport.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s slot %d: %w", sp.name, s.Index, err))
			}
		}
	}
	return errors.Join(errs...)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
