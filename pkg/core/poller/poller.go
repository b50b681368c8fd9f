// Package poller drives status polling for calls whose webhooks cannot be
// delivered. Each watched call gets its own goroutine with a bounded
// attempt budget; observed events are forwarded to the orchestrator through
// the same path webhook deliveries take.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dialscope/dialscope/pkg/core/types"
	"github.com/dialscope/dialscope/pkg/telephony"
)

const (
	// DefaultInterval is the gap between successive status fetches.
	DefaultInterval = 2 * time.Second

	// DefaultMaxAttempts bounds one call's polling loop. Exhausting the
	// budget ends the watch quietly; the call keeps its last known state.
	DefaultMaxAttempts = 60
)

// Handler receives each polled status event.
type Handler func(ctx context.Context, ev types.StatusEvent)

// Poller watches provider call status on behalf of webhook-less calls.
type Poller struct {
	fetch       telephony.StatusFetcher
	handle      Handler
	interval    time.Duration
	maxAttempts int
	logger      *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller. Zero interval and attempts fall back to defaults.
func New(fetch telephony.StatusFetcher, handle Handler, interval time.Duration, maxAttempts int, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		fetch:       fetch,
		handle:      handle,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
		active:      make(map[string]context.CancelFunc),
	}
}

// Watch begins polling a call. A second Watch for the same provider call ID
// is a no-op while the first is still running.
func (p *Poller) Watch(ctx context.Context, providerCallID string) {
	p.mu.Lock()
	if _, ok := p.active[providerCallID]; ok {
		p.mu.Unlock()
		return
	}
	watchCtx, cancel := context.WithCancel(ctx)
	p.active[providerCallID] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go p.run(watchCtx, providerCallID)
}

// Watching reports whether a call is currently being polled.
func (p *Poller) Watching(providerCallID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.active[providerCallID]
	return ok
}

// Stop ends the watch for one call.
func (p *Poller) Stop(providerCallID string) {
	p.mu.Lock()
	cancel, ok := p.active[providerCallID]
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// StopAll cancels every watch and waits for the loops to exit.
func (p *Poller) StopAll() {
	p.mu.Lock()
	for _, cancel := range p.active {
		cancel()
	}
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, providerCallID string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		cancel, ok := p.active[providerCallID]
		delete(p.active, providerCallID)
		p.mu.Unlock()
		// A watch that ends on its own still releases its child context.
		if ok {
			cancel()
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		ev, err := p.fetch.FetchStatus(ctx, providerCallID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient fetch trouble burns the attempt, nothing more.
			p.logger.Warn("status poll failed",
				"provider_call_id", providerCallID, "attempt", attempt, "error", err)
			continue
		}

		p.handle(ctx, ev)

		if ev.Status.Terminal() {
			return
		}
	}

	p.logger.Info("status poll budget exhausted",
		"provider_call_id", providerCallID, "attempts", p.maxAttempts)
}
