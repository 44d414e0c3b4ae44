// Package settlement runs the background sweep that settles expired trades.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/events"
	"bintrade-core/internal/monitor"
	"bintrade-core/internal/trade"
	"bintrade-core/pkg/db"
)

// Settler is the part of the trade manager the sweep drives.
type Settler interface {
	ListActive(ctx context.Context) ([]db.Trade, error)
	Settle(ctx context.Context, tradeID string, trigger trade.Trigger) (*db.Trade, error)
}

// Poller settles expired active trades on a fixed interval.
type Poller struct {
	settler  Settler
	interval time.Duration
	workers  int
	metrics  *monitor.SystemMetrics
	bus      *events.Bus
	now      func() time.Time

	mu       sync.Mutex
	reported map[string]struct{} // malformed trades already alerted on
	done     chan struct{}
}

// SweepReport summarises one pass over the active trades.
type SweepReport struct {
	Timestamp      time.Time     `json:"timestamp"`
	Scanned        int           `json:"scanned"`
	Pending        int           `json:"pending"`
	Malformed      int           `json:"malformed"`
	Settled        int           `json:"settled"`
	AlreadySettled int           `json:"alreadySettled"`
	Deferred       int           `json:"deferred"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration"`
}

// Option customises a Poller.
type Option func(*Poller)

// WithMetrics records sweep and error counters.
func WithMetrics(m *monitor.SystemMetrics) Option { return func(p *Poller) { p.metrics = m } }

// WithBus publishes alerts for malformed records and failed settlements.
func WithBus(b *events.Bus) Option { return func(p *Poller) { p.bus = b } }

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

// NewPoller creates a poller. interval defaults to 5s and workers to 4.
func NewPoller(settler Settler, interval time.Duration, workers int, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	p := &Poller{
		settler:  settler,
		interval: interval,
		workers:  workers,
		now:      time.Now,
		reported: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins periodic sweeps until ctx is cancelled. Done is closed once the loop has
// exited and any sweep in progress has finished.
func (p *Poller) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := p.Sweep(ctx)
				if err != nil {
					log.Printf("❌ [SETTLE] sweep error: %v", err)
					continue
				}
				if report.Settled > 0 || report.Failed > 0 || report.Malformed > 0 {
					log.Printf("🧹 [SETTLE] scanned=%d settled=%d deferred=%d failed=%d malformed=%d (%s)",
						report.Scanned, report.Settled, report.Deferred, report.Failed, report.Malformed, report.Duration)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Done reports when the loop started by Start has stopped.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

// Sweep settles every active trade whose expiry has passed. Per-trade failures are logged
// and counted; they never stop the sweep.
func (p *Poller) Sweep(ctx context.Context) (SweepReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	now := p.now()
	report := SweepReport{Timestamp: now}

	active, err := p.settler.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active trades: %w", err)
	}
	report.Scanned = len(active)
	p.pruneReported(active)

	var settled, already, deferred, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, t := range active {
		expiry, ok := t.Expiry()
		if !ok {
			report.Malformed++
			p.metrics.IncrementMalformed()
			err := apperr.Malformed("trade", t.ID, "unparseable createdAt or non-positive duration")
			if _, seen := p.reported[t.ID]; !seen {
				p.reported[t.ID] = struct{}{}
				log.Printf("⚠️ [SETTLE] skipping: %v", err)
				p.alert(t.ID, err)
			}
			continue
		}
		if now.Before(expiry) {
			report.Pending++
			continue
		}

		tradeID := t.ID
		g.Go(func() error {
			switch err := p.settleOne(gctx, tradeID); {
			case err == nil:
				settled.Add(1)
			case errors.Is(err, apperr.ErrAlreadySettled):
				already.Add(1)
			case errors.Is(err, apperr.ErrUpstreamUnavailable):
				deferred.Add(1)
				log.Printf("⏳ [SETTLE] trade %s deferred: %v", tradeID, err)
			default:
				failed.Add(1)
				log.Printf("❌ [SETTLE] trade %s: %v", tradeID, err)
				p.alert(tradeID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Settled = int(settled.Load())
	report.AlreadySettled = int(already.Load())
	report.Deferred = int(deferred.Load())
	report.Failed = int(failed.Load())
	report.Duration = time.Since(start)
	p.metrics.ObserveSweep(report.Duration)
	return report, nil
}

// pruneReported forgets malformed trades that are no longer active. Caller holds p.mu.
func (p *Poller) pruneReported(active []db.Trade) {
	if len(p.reported) == 0 {
		return
	}
	live := make(map[string]struct{}, len(active))
	for _, t := range active {
		live[t.ID] = struct{}{}
	}
	for id := range p.reported {
		if _, ok := live[id]; !ok {
			delete(p.reported, id)
		}
	}
}

func (p *Poller) settleOne(ctx context.Context, tradeID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic settling trade %s: %v", tradeID, r)
		}
	}()
	_, err = p.settler.Settle(ctx, tradeID, trade.TriggerPoller)
	return err
}

func (p *Poller) alert(tradeID string, err error) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.EventSettlementAlert, events.Alert{
		Source:  "settlement",
		Subject: tradeID,
		Message: err.Error(),
	})
}
