package market

import (
	"context"
	"log"
	"time"

	"bintrade-core/internal/events"
)

// Feed periodically pushes the oracle snapshot onto the bus.
type Feed struct {
	Oracle   *Oracle
	Bus      *events.Bus
	Interval time.Duration
}

// Start begins publishing until ctx is cancelled.
func (f *Feed) Start(ctx context.Context) {
	if f.Bus == nil || f.Oracle == nil {
		log.Println("[FEED] market feed not fully configured; skipping start")
		return
	}
	if f.Interval <= 0 {
		f.Interval = 15 * time.Second
	}

	go func() {
		f.publish(ctx)
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.publish(ctx)
			}
		}
	}()
}

func (f *Feed) publish(ctx context.Context) {
	coins, err := f.Oracle.MarketData(ctx)
	if err != nil {
		log.Printf("[FEED] market snapshot error: %v", err)
		return
	}
	f.Bus.Publish(events.EventMarketUpdate, coins)
}
