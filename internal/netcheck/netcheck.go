// Package netcheck probes backend reachability on a fixed interval.
//
// Any HTTP response counts as reachable, server errors included: the
// signal answers "can we talk to the backend at all", and replay outcomes
// are classified separately. Transitions are reported through a callback
// so the sync trigger can react to connectivity returning.
package netcheck

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultInterval is the probe cadence.
	DefaultInterval = 15 * time.Second

	// DefaultTimeout bounds a single probe request.
	DefaultTimeout = 5 * time.Second
)

// Config holds prober configuration.
type Config struct {
	// URL is the endpoint to probe, typically the API health route.
	URL string

	// Interval between probes. Defaults to DefaultInterval.
	Interval time.Duration

	// Client overrides the HTTP client. Defaults to one with
	// DefaultTimeout.
	Client *http.Client

	// OnChange is invoked with the new state whenever reachability flips,
	// and once with the first result. Optional.
	OnChange func(reachable bool)

	// Clock for the probe ticker. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger for probe transitions. Defaults to a stderr logger.
	Logger *log.Logger
}

// Prober tracks whether the backend is reachable.
type Prober struct {
	url      string
	interval time.Duration
	client   *http.Client
	onChange func(bool)
	clock    clockwork.Clock
	logger   *log.Logger

	mu        sync.Mutex
	reachable bool
	known     bool
}

// New creates a prober. Call Run to start probing.
func New(config Config) *Prober {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Client == nil {
		config.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netcheck] ", log.LstdFlags)
	}

	return &Prober{
		url:      config.URL,
		interval: config.Interval,
		client:   config.Client,
		onChange: config.OnChange,
		clock:    config.Clock,
		logger:   config.Logger,
	}
}

// Reachable reports the last probe result. Before the first probe
// completes it reports false.
func (p *Prober) Reachable() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reachable
}

// CheckNow probes immediately and returns the result.
func (p *Prober) CheckNow(ctx context.Context) bool {
	reachable := p.probe(ctx)
	p.record(reachable)
	return reachable
}

// Run probes on the configured interval until the context is cancelled.
// The first probe fires immediately.
func (p *Prober) Run(ctx context.Context) error {
	p.CheckNow(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			p.CheckNow(ctx)
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	resp.Body.Close()
	return true
}

func (p *Prober) record(reachable bool) {
	p.mu.Lock()
	changed := !p.known || p.reachable != reachable
	p.reachable = reachable
	p.known = true
	p.mu.Unlock()

	if !changed {
		return
	}
	if reachable {
		p.logger.Printf("Backend reachable")
	} else {
		p.logger.Printf("Backend unreachable")
	}
	if p.onChange != nil {
		p.onChange(reachable)
	}
}
