package monitor

import (
	"fmt"
	"log"
	"sync"

	"bintrade-core/internal/events"
	"bintrade-core/pkg/i18n"
)

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(alert events.Alert) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(a events.Alert) error {
	log.Printf("🚨 "+i18n.Get("AlertReceived"), a.Source, a.Subject, a.Message)
	return nil
}

// RecentSink keeps the last N alerts in memory for the admin metrics view.
type RecentSink struct {
	mu     sync.Mutex
	limit  int
	alerts []events.Alert
}

func NewRecentSink(limit int) *RecentSink {
	if limit <= 0 {
		limit = 50
	}
	return &RecentSink{limit: limit}
}

func (s *RecentSink) Send(a events.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	if len(s.alerts) > s.limit {
		s.alerts = s.alerts[len(s.alerts)-s.limit:]
	}
	return nil
}

// Recent returns a copy of the retained alerts, oldest first.
func (s *RecentSink) Recent() []events.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// MultiSink delivers to every sink and joins their errors.
type MultiSink []AlertSink

func (m MultiSink) Send(a events.Alert) error {
	var firstErr error
	for _, s := range m {
		if err := s.Send(a); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("alert sink: %w", err)
		}
	}
	return firstErr
}
