package pool

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Health is the last known state of one server.
type Health struct {
	Status              Status    `json:"status"`
	CheckedAt           time.Time `json:"checked_at"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Health returns the record for server.
func (p *Pool) Health(server string) (Health, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.records[server]
	return h, ok
}

// Healthy reports whether every server is healthy.
func (p *Pool) Healthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allHealthyLocked()
}

func (p *Pool) allHealthyLocked() bool {
	for _, h := range p.records {
		if h.Status != StatusHealthy {
			return false
		}
	}
	return true
}

// CheckHealth probes every server once. Concurrent callers share a single
// round of probes.
func (p *Pool) CheckHealth(ctx context.Context) map[string]Health {
	v, _, _ := p.probes.Do("all", func() (any, error) {
		g, gctx := errgroup.WithContext(ctx)
		for _, name := range p.names {
			sp := p.servers[name]
			g.Go(func() error {
				p.record(name, p.probe(gctx, sp))
				return nil
			})
		}
		_ = g.Wait()
		return p.snapshotRecords(), nil
	})
	return v.(map[string]Health)
}

func (p *Pool) probe(ctx context.Context, sp *serverPool) error {
	if p.health.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.health.Timeout)
		defer cancel()
	}
	return sp.next().Transport.Probe(ctx)
}

// record applies one probe outcome. Waiters are woken when a status changes.
func (p *Pool) record(server string, err error) {
	p.mu.Lock()
	prev := p.records[server]
	h := prev
	h.CheckedAt = time.Now()
	if err == nil {
		h.Status = StatusHealthy
		h.LastError = ""
		h.ConsecutiveFailures = 0
	} else {
		h.ConsecutiveFailures++
		h.LastError = err.Error()
		h.Status = StatusDegraded
		if h.ConsecutiveFailures >= max(p.health.UnhealthyAfter, 1) {
			h.Status = StatusUnhealthy
		}
	}
	p.records[server] = h
	changed := h.Status != prev.Status
	if changed {
		close(p.changed)
		p.changed = make(chan struct{})
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	p.logger.Info("server health changed", "server", server, "from", prev.Status, "to", h.Status, "error", h.LastError)
	if p.onChange != nil {
		p.onChange(server, h)
	}
}

func (p *Pool) snapshotRecords() map[string]Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Health, len(p.records))
	for k, v := range p.records {
		out[k] = v
	}
	return out
}

// StartHealthLoop probes all servers immediately and then every health
// interval until ctx is done.
func (p *Pool) StartHealthLoop(ctx context.Context) {
	interval := p.health.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		p.CheckHealth(ctx)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.CheckHealth(ctx)
			}
		}
	}()
}

// WaitForHealth blocks until every server reports healthy. It relies on the
// health loop or CheckHealth callers for probing and issues none itself.
func (p *Pool) WaitForHealth(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		p.mu.RLock()
		ok := p.allHealthyLocked()
		ch := p.changed
		p.mu.RUnlock()
		if ok {
			return nil
		}
		select {
		case <-ch:
		case <-timer.C:
			return fmt.Errorf("%w after %s", ErrHealthTimeout, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ServiceReport is one server's entry in a Report.
type ServiceReport struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	URL       string    `json:"url"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Report summarizes pool health.
type Report struct {
	Status    Status                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Services  map[string]ServiceReport `json:"services"`
}

// Snapshot returns the current health of every server. The overall status is
// healthy when all servers are, unhealthy when none are reachable and
// degraded otherwise.
func (p *Pool) Snapshot() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r := Report{
		Timestamp: time.Now().UTC(),
		Services:  make(map[string]ServiceReport, len(p.records)),
	}
	healthy, unhealthy := 0, 0
	for _, name := range p.names {
		h := p.records[name]
		switch h.Status {
		case StatusHealthy:
			healthy++
		case StatusUnhealthy:
			unhealthy++
		}
		r.Services[name] = ServiceReport{
			Name:      p.servers[name].cfg.Name,
			Status:    h.Status,
			URL:       p.servers[name].cfg.URL,
			Error:     h.LastError,
			CheckedAt: h.CheckedAt,
		}
	}
	switch {
	case healthy == len(p.names):
		r.Status = StatusHealthy
	case unhealthy == len(p.names):
		r.Status = StatusUnhealthy
	default:
		r.Status = StatusDegraded
	}
	return r
}
