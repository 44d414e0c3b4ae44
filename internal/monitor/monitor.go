package monitor

import (
	"context"
	"log"

	"bintrade-core/internal/events"
)

// Monitor watches settlement alerts on the bus and forwards them to a sink.
type Monitor struct {
	Bus  *events.Bus
	Sink AlertSink
}

// Start subscribes and returns immediately; delivery stops when ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	if m.Bus == nil {
		log.Println("monitor not fully configured; skipping")
		return
	}
	sink := m.Sink
	if sink == nil {
		sink = LogSink{}
	}
	stream, unsub := m.Bus.Subscribe(events.EventSettlementAlert, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				if err := sink.Send(toAlert(msg)); err != nil {
					log.Printf("⚠️ [MONITOR] deliver alert: %v", err)
				}
			}
		}
	}()
}

func toAlert(msg any) events.Alert {
	switch t := msg.(type) {
	case events.Alert:
		return t
	case string:
		return events.Alert{Source: "unknown", Message: t}
	default:
		return events.Alert{Source: "unknown", Message: "alert triggered"}
	}
}
