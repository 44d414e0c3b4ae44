package market

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/events"
	"bintrade-core/pkg/coingecko"
)

type fakeSource struct {
	mu          sync.Mutex
	marketErrs  []error
	marketCalls int
	coinCalls   int
	coins       []coingecko.Coin
	single      map[string]*coingecko.Coin
	coinErr     error
}

func (f *fakeSource) Markets(context.Context, string, int) ([]coingecko.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marketCalls++
	if len(f.marketErrs) > 0 {
		err := f.marketErrs[0]
		f.marketErrs = f.marketErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	out := make([]coingecko.Coin, len(f.coins))
	copy(out, f.coins)
	return out, nil
}

func (f *fakeSource) Coin(_ context.Context, id, _ string) (*coingecko.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coinCalls++
	if f.coinErr != nil {
		return nil, f.coinErr
	}
	return f.single[id], nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestOracle(src Source, maxRetries int) (*Oracle, *fakeClock, *[]time.Duration) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var sleeps []time.Duration
	o := NewOracle(src, Config{TTL: time.Minute, MaxRetries: maxRetries, Backoff: time.Second},
		WithClock(clock.Now),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		}),
	)
	return o, clock, &sleeps
}

var btc = coingecko.Coin{ID: "bitcoin", Symbol: "btc", Name: "Bitcoin", CurrentPrice: 51000}

func TestOracleCachesWithinTTL(t *testing.T) {
	src := &fakeSource{coins: []coingecko.Coin{btc}}
	o, clock, _ := newTestOracle(src, 3)
	ctx := context.Background()

	if _, err := o.MarketData(ctx); err != nil {
		t.Fatalf("MarketData: %v", err)
	}
	clock.Advance(59 * time.Second)
	if _, err := o.MarketData(ctx); err != nil {
		t.Fatalf("MarketData: %v", err)
	}
	if src.marketCalls != 1 {
		t.Fatalf("marketCalls=%d, expected cached result", src.marketCalls)
	}

	clock.Advance(time.Second)
	if _, err := o.MarketData(ctx); err != nil {
		t.Fatalf("MarketData: %v", err)
	}
	if src.marketCalls != 2 {
		t.Fatalf("marketCalls=%d, expected refresh after TTL", src.marketCalls)
	}
}

func TestOracleBackoffOnRateLimit(t *testing.T) {
	src := &fakeSource{
		coins:      []coingecko.Coin{btc},
		marketErrs: []error{coingecko.ErrRateLimited, coingecko.ErrRateLimited, nil},
	}
	o, _, sleeps := newTestOracle(src, 3)

	coins, err := o.MarketData(context.Background())
	if err != nil || len(coins) != 1 {
		t.Fatalf("MarketData=%v err=%v", coins, err)
	}
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps=%v, expected %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Fatalf("sleeps=%v, expected %v", *sleeps, want)
		}
	}
}

func TestOracleStaleFallback(t *testing.T) {
	src := &fakeSource{coins: []coingecko.Coin{btc}}
	o, clock, _ := newTestOracle(src, 1)
	ctx := context.Background()

	if _, err := o.MarketData(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}
	clock.Advance(5 * time.Minute)
	src.marketErrs = []error{coingecko.ErrRateLimited, coingecko.ErrRateLimited}

	coins, err := o.MarketData(ctx)
	if err != nil {
		t.Fatalf("expected stale snapshot, got %v", err)
	}
	if len(coins) != 1 || coins[0].ID != "bitcoin" {
		t.Fatalf("unexpected stale data %+v", coins)
	}
	if src.marketCalls != 3 {
		t.Fatalf("marketCalls=%d, expected 1 prime + 2 attempts", src.marketCalls)
	}
}

func TestOracleUnavailableWithoutCache(t *testing.T) {
	src := &fakeSource{marketErrs: []error{errors.New("boom")}, coinErr: errors.New("boom")}
	o, _, sleeps := newTestOracle(src, 3)

	if _, err := o.MarketData(context.Background()); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v, expected upstream unavailable", err)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("non rate-limit errors must not back off, slept %v", *sleeps)
	}

	if _, err := o.CurrentPrice(context.Background(), "bitcoin"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("CurrentPrice err=%v, expected upstream unavailable", err)
	}
}

func TestCryptoByIDFallsBackToSingleFetch(t *testing.T) {
	doge := &coingecko.Coin{ID: "dogecoin", Symbol: "doge", CurrentPrice: 0.25}
	src := &fakeSource{coins: []coingecko.Coin{btc}, single: map[string]*coingecko.Coin{"dogecoin": doge}}
	o, _, _ := newTestOracle(src, 0)
	ctx := context.Background()

	got, err := o.CryptoByID(ctx, "bitcoin")
	if err != nil || got == nil || got.CurrentPrice != 51000 {
		t.Fatalf("bitcoin=%+v err=%v", got, err)
	}
	if src.coinCalls != 0 {
		t.Fatalf("snapshot hit should not fetch single asset")
	}

	price, err := o.CurrentPrice(ctx, "dogecoin")
	if err != nil || !price.Equal(decimal.RequireFromString("0.25")) {
		t.Fatalf("dogecoin price=%s err=%v", price, err)
	}
	if _, err := o.CurrentPrice(ctx, "dogecoin"); err != nil {
		t.Fatalf("cached single: %v", err)
	}
	if src.coinCalls != 1 {
		t.Fatalf("coinCalls=%d, expected single fetch to be cached", src.coinCalls)
	}

	missing, err := o.CryptoByID(ctx, "unknown")
	if err != nil || missing != nil {
		t.Fatalf("unknown=%+v err=%v", missing, err)
	}
	if _, err := o.CurrentPrice(ctx, "unknown"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err=%v, expected not found", err)
	}
}

func TestCurrentPriceRejectsUnpricedAsset(t *testing.T) {
	delisted := coingecko.Coin{ID: "ghostcoin", Symbol: "gst", CurrentPrice: 0}
	src := &fakeSource{coins: []coingecko.Coin{btc, delisted}}
	o, _, _ := newTestOracle(src, 0)

	if _, err := o.CurrentPrice(context.Background(), "ghostcoin"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v, expected upstream unavailable for a zero price", err)
	}
	if price, err := o.CurrentPrice(context.Background(), "bitcoin"); err != nil || !price.Equal(decimal.NewFromInt(51000)) {
		t.Fatalf("bitcoin price=%s err=%v", price, err)
	}
}

func TestFeedPublishesSnapshot(t *testing.T) {
	src := &fakeSource{coins: []coingecko.Coin{btc}}
	o, _, _ := newTestOracle(src, 0)
	bus := events.NewBus()
	ch, unsub := bus.Subscribe(events.EventMarketUpdate, 1)
	defer unsub()

	f := &Feed{Oracle: o, Bus: bus}
	f.publish(context.Background())

	select {
	case msg := <-ch:
		coins, ok := msg.([]coingecko.Coin)
		if !ok || len(coins) != 1 {
			t.Fatalf("unexpected payload %#v", msg)
		}
	default:
		t.Fatalf("expected market update")
	}
}

func TestMockSourceWalks(t *testing.T) {
	m := NewMockSource([]string{"bitcoin"}, 100, 1, 42)
	coins, _ := m.Markets(context.Background(), "usd", 10)
	if len(coins) != 1 || coins[0].CurrentPrice <= 0 {
		t.Fatalf("unexpected mock coins %+v", coins)
	}
	if c, _ := m.Coin(context.Background(), "nope", "usd"); c != nil {
		t.Fatalf("unknown id should be nil")
	}
}
