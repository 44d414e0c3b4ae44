// Package market holds the price oracle and the market snapshot feed.
package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/monitor"
	"bintrade-core/pkg/coingecko"
)

// Source is the upstream price feed.
type Source interface {
	Markets(ctx context.Context, vsCurrency string, perPage int) ([]coingecko.Coin, error)
	Coin(ctx context.Context, id, vsCurrency string) (*coingecko.Coin, error)
}

// Config tunes caching and retry behaviour.
type Config struct {
	VsCurrency string
	TopN       int
	TTL        time.Duration
	MaxRetries int
	Backoff    time.Duration
}

func (c Config) withDefaults() Config {
	if c.VsCurrency == "" {
		c.VsCurrency = "usd"
	}
	if c.TopN <= 0 {
		c.TopN = 50
	}
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	return c
}

type cachedCoin struct {
	coin      coingecko.Coin
	fetchedAt time.Time
}

// Oracle caches the market snapshot for TTL and serves stale data when the upstream fails.
type Oracle struct {
	src     Source
	cfg     Config
	metrics *monitor.SystemMetrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	group singleflight.Group

	mu        sync.RWMutex
	snapshot  []coingecko.Coin
	fetchedAt time.Time
	singles   map[string]cachedCoin
}

// Option customises an Oracle.
type Option func(*Oracle)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Oracle) { o.now = now }
}

// WithSleeper overrides how backoff waits are performed.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Oracle) { o.sleep = sleep }
}

// WithMetrics records fetch latency and failures.
func WithMetrics(m *monitor.SystemMetrics) Option {
	return func(o *Oracle) { o.metrics = m }
}

// NewOracle creates an oracle over src.
func NewOracle(src Source, cfg Config, opts ...Option) *Oracle {
	o := &Oracle{
		src:     src,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		sleep:   sleepCtx,
		singles: make(map[string]cachedCoin),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// MarketData returns the cached snapshot, refreshing it when older than TTL.
func (o *Oracle) MarketData(ctx context.Context) ([]coingecko.Coin, error) {
	if snap, ok := o.fresh(); ok {
		return snap, nil
	}

	v, err, _ := o.group.Do("markets", func() (any, error) {
		if snap, ok := o.fresh(); ok {
			return snap, nil
		}
		return o.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]coingecko.Coin), nil
}

func (o *Oracle) fresh() ([]coingecko.Coin, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.snapshot == nil || o.now().Sub(o.fetchedAt) >= o.cfg.TTL {
		return nil, false
	}
	return cloneCoins(o.snapshot), true
}

func (o *Oracle) refresh(ctx context.Context) ([]coingecko.Coin, error) {
	var coins []coingecko.Coin
	err := o.withRetry(ctx, "markets", func() error {
		var err error
		coins, err = o.src.Markets(ctx, o.cfg.VsCurrency, o.cfg.TopN)
		return err
	})
	if err == nil {
		o.mu.Lock()
		o.snapshot = coins
		o.fetchedAt = o.now()
		o.mu.Unlock()
		return cloneCoins(coins), nil
	}

	o.mu.RLock()
	stale := o.snapshot
	age := o.now().Sub(o.fetchedAt)
	o.mu.RUnlock()
	if stale != nil {
		o.metrics.IncrementStaleServes()
		log.Printf("⚠️ [ORACLE] refresh failed, serving snapshot aged %s: %v", age.Truncate(time.Second), err)
		return cloneCoins(stale), nil
	}
	return nil, fmt.Errorf("%w: market data: %v", apperr.ErrUpstreamUnavailable, err)
}

// withRetry retries rate-limited calls with exponential backoff up to MaxRetries extra attempts.
func (o *Oracle) withRetry(ctx context.Context, what string, call func() error) error {
	delay := o.cfg.Backoff
	for attempt := 0; ; attempt++ {
		start := time.Now()
		err := call()
		o.metrics.ObserveOracleFetch(time.Since(start), err)
		if err == nil {
			return nil
		}
		if !errors.Is(err, coingecko.ErrRateLimited) || attempt >= o.cfg.MaxRetries {
			return err
		}
		log.Printf("⏳ [ORACLE] %s rate limited, retry %d/%d in %s", what, attempt+1, o.cfg.MaxRetries, delay)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

// CryptoByID looks the asset up in the snapshot and falls back to a single-asset fetch.
// A nil result with nil error means the asset is unknown.
func (o *Oracle) CryptoByID(ctx context.Context, id string) (*coingecko.Coin, error) {
	snap, snapErr := o.MarketData(ctx)
	for i := range snap {
		if snap[i].ID == id {
			c := snap[i]
			return &c, nil
		}
	}

	o.mu.RLock()
	cached, ok := o.singles[id]
	o.mu.RUnlock()
	if ok && o.now().Sub(cached.fetchedAt) < o.cfg.TTL {
		c := cached.coin
		return &c, nil
	}

	var coin *coingecko.Coin
	err := o.withRetry(ctx, "coin "+id, func() error {
		var err error
		coin, err = o.src.Coin(ctx, id, o.cfg.VsCurrency)
		return err
	})
	switch {
	case err == nil && coin != nil:
		o.mu.Lock()
		o.singles[id] = cachedCoin{coin: *coin, fetchedAt: o.now()}
		o.mu.Unlock()
		return coin, nil
	case err == nil:
		return nil, nil
	case ok:
		o.metrics.IncrementStaleServes()
		log.Printf("⚠️ [ORACLE] coin %s fetch failed, serving stale entry: %v", id, err)
		c := cached.coin
		return &c, nil
	case snapErr != nil:
		return nil, snapErr
	default:
		return nil, fmt.Errorf("%w: coin %s: %v", apperr.ErrUpstreamUnavailable, id, err)
	}
}

// CurrentPrice returns the asset's price as a decimal.
func (o *Oracle) CurrentPrice(ctx context.Context, id string) (decimal.Decimal, error) {
	coin, err := o.CryptoByID(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	if coin == nil {
		return decimal.Zero, fmt.Errorf("crypto %s: %w", id, apperr.ErrNotFound)
	}
	// Upstream reports a null price as 0 for assets it cannot quote.
	if coin.CurrentPrice <= 0 {
		return decimal.Zero, fmt.Errorf("%w: no price for %s", apperr.ErrUpstreamUnavailable, id)
	}
	return decimal.NewFromFloat(coin.CurrentPrice), nil
}

// FetchedAt reports when the snapshot was last refreshed.
func (o *Oracle) FetchedAt() time.Time {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fetchedAt
}

func cloneCoins(in []coingecko.Coin) []coingecko.Coin {
	out := make([]coingecko.Coin, len(in))
	copy(out, in)
	return out
}
