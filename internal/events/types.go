package events

// Event enumerates in-process topics.
type Event string

const (
	// EventMarketUpdate carries a fresh oracle snapshot ([]coingecko.Coin).
	EventMarketUpdate Event = "market-update"
	// EventSettlementAlert carries an Alert raised by the settlement sweep.
	EventSettlementAlert Event = "settlement_alert"
)

// Alert describes an operational problem worth surfacing to operators.
type Alert struct {
	Source  string `json:"source"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}
