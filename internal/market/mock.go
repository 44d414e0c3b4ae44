package market

import (
	"context"
	"math/rand"
	"strings"
	"sync"

	"bintrade-core/pkg/coingecko"
)

// MockSource is a random-walk Source for local development without network access.
type MockSource struct {
	Step float64

	mu     sync.Mutex
	prices map[string]float64
	order  []string
	rng    *rand.Rand
}

// NewMockSource seeds a random walk for the given asset ids starting at startPrice.
func NewMockSource(ids []string, startPrice, step float64, seed int64) *MockSource {
	if len(ids) == 0 {
		ids = []string{"bitcoin", "ethereum"}
	}
	if startPrice <= 0 {
		startPrice = 100.0
	}
	if step <= 0 {
		step = 0.5
	}
	m := &MockSource{
		Step:   step,
		prices: make(map[string]float64, len(ids)),
		rng:    rand.New(rand.NewSource(seed)),
	}
	for _, id := range ids {
		m.prices[id] = startPrice
		m.order = append(m.order, id)
	}
	return m
}

func (m *MockSource) Markets(_ context.Context, _ string, perPage int) ([]coingecko.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]coingecko.Coin, 0, len(m.order))
	for _, id := range m.order {
		if perPage > 0 && len(out) >= perPage {
			break
		}
		out = append(out, m.stepLocked(id))
	}
	return out, nil
}

func (m *MockSource) Coin(_ context.Context, id, _ string) (*coingecko.Coin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.prices[id]; !ok {
		return nil, nil
	}
	c := m.stepLocked(id)
	return &c, nil
}

func (m *MockSource) stepLocked(id string) coingecko.Coin {
	prev := m.prices[id]
	price := prev + (m.rng.Float64()*2-1)*m.Step
	if price <= 0 {
		price = m.Step
	}
	m.prices[id] = price
	return coingecko.Coin{
		ID:                       id,
		Symbol:                   strings.ToUpper(id[:min(3, len(id))]),
		Name:                     id,
		CurrentPrice:             price,
		PriceChangePercentage24h: (price - prev) / prev * 100,
		Sparkline:                coingecko.Sparkline{Price: []float64{prev, price}},
	}
}
