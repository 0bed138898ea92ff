// Package endpoint manages a prioritized pool of RPC endpoints with
// health-checked failover.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gateway-fm/chainbench/internal/rpc"
)

// ErrNoEndpointAvailable is returned when every configured URL has failed
// its most recent probe. The failure is fatal to the current task only;
// subsequent Acquire calls retry from the top of the list.
var ErrNoEndpointAvailable = errors.New("no endpoint available")

// Stats is a point-in-time snapshot of an endpoint's rolling health stats.
// Counts only ever increase.
type Stats struct {
	Attempts     uint64    `json:"attempts"`
	Failures     uint64    `json:"failures"`
	AvgLatencyMs float64   `json:"avgLatencyMs"`
	LastGood     time.Time `json:"lastGood,omitempty"`
	Healthy      bool      `json:"healthy"`
}

// Endpoint is one configured RPC URL with its health state.
// Endpoints are created at pool construction and never removed,
// only deprioritized.
type Endpoint struct {
	url    string
	client rpc.Client

	mu           sync.Mutex
	attempts     uint64
	failures     uint64
	avgLatencyMs float64
	lastGood     time.Time
	healthy      bool
	needsProbe   bool

	probeLimiter *rate.Limiter
}

// URL returns the endpoint's URL.
func (e *Endpoint) URL() string {
	return e.url
}

// Client returns the RPC client bound to this endpoint.
func (e *Endpoint) Client() rpc.Client {
	return e.client
}

// Stats returns a snapshot of the endpoint's health stats.
func (e *Endpoint) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Attempts:     e.attempts,
		Failures:     e.failures,
		AvgLatencyMs: e.avgLatencyMs,
		LastGood:     e.lastGood,
		Healthy:      e.healthy,
	}
}

// record updates rolling stats under a short-held lock. The moving average
// is exponentially weighted so the window stays bounded.
func (e *Endpoint) record(success bool, latency time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts++
	if success {
		e.healthy = true
		e.lastGood = time.Now()
		ms := float64(latency.Milliseconds())
		if e.avgLatencyMs == 0 {
			e.avgLatencyMs = ms
		} else {
			e.avgLatencyMs = e.avgLatencyMs*0.8 + ms*0.2
		}
	} else {
		e.failures++
		e.healthy = false
		e.needsProbe = true
	}
}

// Config for creating a Pool.
type Config struct {
	// URLs in priority order; the first entry is preferred.
	URLs []string

	// NewClient builds the RPC client for a URL. Defaults to the HTTP client.
	NewClient func(url string) rpc.Client

	// ProbeTimeout bounds one liveness probe. Default 3s.
	ProbeTimeout time.Duration

	// ProbesPerSecond caps probe frequency per endpoint so a dead endpoint
	// is not hammered. Default 2.
	ProbesPerSecond float64

	Logger *slog.Logger
}

// Pool holds the prioritized endpoint list for one logical network.
// All health/priority mutation goes through Acquire and ReportOutcome.
type Pool struct {
	mu    sync.Mutex
	order []*Endpoint // index 0 is the currently preferred endpoint

	probeTimeout time.Duration
	logger       *slog.Logger
}

// New creates a Pool from the configured URLs.
func New(cfg Config) (*Pool, error) {
	if len(cfg.URLs) == 0 {
		return nil, fmt.Errorf("at least one endpoint URL is required")
	}

	newClient := cfg.NewClient
	if newClient == nil {
		newClient = func(url string) rpc.Client {
			return rpc.NewHTTPClient(rpc.DefaultClientConfig(url))
		}
	}

	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}

	probesPerSecond := cfg.ProbesPerSecond
	if probesPerSecond <= 0 {
		probesPerSecond = 2
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		probeTimeout: probeTimeout,
		logger:       logger,
	}
	for _, url := range cfg.URLs {
		p.order = append(p.order, &Endpoint{
			url:          url,
			client:       newClient(url),
			needsProbe:   true, // never reuse a cached handle before the first probe
			probeLimiter: rate.NewLimiter(rate.Limit(probesPerSecond), 1),
		})
	}
	return p, nil
}

// Len returns the number of configured endpoints.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

// Endpoints returns the endpoints in current priority order.
func (p *Pool) Endpoints() []*Endpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Endpoint, len(p.order))
	copy(out, p.order)
	return out
}

// Acquire returns a live endpoint handle. Each candidate that needs a probe
// is probed with a short timeout; every configured endpoint is tried once
// before total failure is declared.
func (p *Pool) Acquire(ctx context.Context) (*Endpoint, error) {
	for _, ep := range p.Endpoints() {
		ep.mu.Lock()
		usable := ep.healthy && !ep.needsProbe
		ep.mu.Unlock()

		if usable {
			return ep, nil
		}

		if err := p.probe(ctx, ep); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.logger.Debug("endpoint probe failed",
				slog.String("url", ep.url),
				slog.String("error", err.Error()),
			)
			continue
		}
		return ep, nil
	}
	return nil, ErrNoEndpointAvailable
}

// probe issues a lightweight liveness call against the endpoint.
func (p *Pool) probe(ctx context.Context, ep *Endpoint) error {
	// Pace probes per endpoint; the wait is bounded by the limiter rate
	// and by the caller's context.
	if err := ep.probeLimiter.Wait(ctx); err != nil {
		return err
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err := ep.client.BlockNumber(probeCtx)
	latency := time.Since(start)

	if err != nil {
		ep.record(false, latency)
		return fmt.Errorf("probe %s: %w", ep.url, err)
	}

	ep.mu.Lock()
	ep.needsProbe = false
	ep.mu.Unlock()
	ep.record(true, latency)
	return nil
}

// ReportOutcome feeds a use result back into the endpoint's rolling stats.
// Success promotes the endpoint to the front of the priority order; failure
// demotes it and forces a re-probe before its next acquisition.
func (p *Pool) ReportOutcome(ep *Endpoint, success bool, latency time.Duration) {
	ep.record(success, latency)
	if success {
		p.promote(ep)
	} else {
		p.demote(ep)
	}
}

func (p *Pool) promote(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.order {
		if e == ep {
			if i == 0 {
				return
			}
			copy(p.order[1:i+1], p.order[:i])
			p.order[0] = ep
			return
		}
	}
}

func (p *Pool) demote(ep *Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.order {
		if e == ep {
			copy(p.order[i:], p.order[i+1:])
			p.order[len(p.order)-1] = ep
			return
		}
	}
}
