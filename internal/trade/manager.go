// Package trade owns opening, predetermination and settlement of timed up/down trades.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/monitor"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

// Notification events.
const (
	EventTradeUpdate    = "trade-update"
	EventTradeCompleted = "trade-completed"
)

// Setting keys consulted when opening trades.
const (
	SettingMinTradeAmount          = "min_trade_amount"
	SettingDefaultProfitPercentage = "default_profit_percentage"
)

// Trigger identifies who asked for a settlement.
type Trigger int

const (
	TriggerManual Trigger = iota
	TriggerPoller
)

func (t Trigger) String() string {
	if t == TriggerPoller {
		return "poller"
	}
	return "manual"
}

// Ledger moves stake and payout.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// PriceOracle quotes current prices.
type PriceOracle interface {
	CurrentPrice(ctx context.Context, cryptoID string) (decimal.Decimal, error)
}

// Notifier delivers trade events to clients.
type Notifier interface {
	ToUser(userID, event string, payload any)
	Broadcast(event string, payload any)
}

// SettingsReader resolves decimal settings with a fallback.
type SettingsReader interface {
	Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal
}

// Completed is the global trade-completed payload.
type Completed struct {
	TradeID string `json:"tradeId"`
	UserID  string `json:"userId"`
	Result  string `json:"result"`
	Status  string `json:"status"`
}

// OpenRequest carries user input for a new trade. Numeric fields are decimal strings;
// an empty EntryPrice is filled from the oracle and an empty ProfitPercentage from settings.
type OpenRequest struct {
	UserID           string `json:"-"`
	CryptoID         string `json:"cryptoId"`
	Amount           string `json:"amount"`
	Direction        string `json:"direction"`
	EntryPrice       string `json:"entryPrice"`
	Duration         int    `json:"duration"`
	ProfitPercentage string `json:"profitPercentage"`
}

// Manager coordinates trades, the ledger, the oracle and notifications.
type Manager struct {
	trades   store.Trades
	ledger   Ledger
	oracle   PriceOracle
	notify   Notifier
	settings SettingsReader
	metrics  *monitor.SystemMetrics
	now      func() time.Time
}

// Deps groups Manager collaborators. Notify, Settings and Metrics are optional.
type Deps struct {
	Trades   store.Trades
	Ledger   Ledger
	Oracle   PriceOracle
	Notify   Notifier
	Settings SettingsReader
	Metrics  *monitor.SystemMetrics
	Now      func() time.Time
}

// NewManager creates a trade manager.
func NewManager(d Deps) *Manager {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		trades:   d.Trades,
		ledger:   d.Ledger,
		oracle:   d.Oracle,
		notify:   d.Notify,
		settings: d.Settings,
		metrics:  d.Metrics,
		now:      now,
	}
}

var hundred = decimal.NewFromInt(100)

// Open validates the request, debits the stake and records an active trade.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*db.Trade, error) {
	amount, err := parsePositive("amount", req.Amount)
	if err != nil {
		return nil, err
	}
	if floor := m.setting(ctx, SettingMinTradeAmount, decimal.Zero); amount.LessThan(floor) {
		return nil, apperr.Validation("amount must be at least %s", floor)
	}
	direction := strings.ToLower(strings.TrimSpace(req.Direction))
	if direction != db.DirectionUp && direction != db.DirectionDown {
		return nil, apperr.Validation("direction must be %q or %q", db.DirectionUp, db.DirectionDown)
	}
	if req.Duration <= 0 {
		return nil, apperr.Validation("duration must be a positive number of seconds")
	}
	cryptoID := strings.TrimSpace(req.CryptoID)
	if cryptoID == "" {
		return nil, apperr.Validation("cryptoId is required")
	}

	pct := m.setting(ctx, SettingDefaultProfitPercentage, decimal.NewFromInt(80))
	if req.ProfitPercentage != "" {
		pct, err = decimal.NewFromString(req.ProfitPercentage)
		if err != nil || pct.IsNegative() {
			return nil, apperr.Validation("profitPercentage must be a non-negative number")
		}
	}

	var entry decimal.Decimal
	if req.EntryPrice == "" {
		entry, err = m.quote(ctx, cryptoID)
		if err != nil {
			return nil, fmt.Errorf("entry price for %s: %w", cryptoID, err)
		}
	} else if entry, err = parsePositive("entryPrice", req.EntryPrice); err != nil {
		return nil, err
	}

	if _, err := m.ledger.Debit(ctx, req.UserID, amount); err != nil {
		return nil, err
	}

	t := db.Trade{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		CryptoID:         cryptoID,
		EntryPrice:       entry.String(),
		Amount:           amount.String(),
		Direction:        direction,
		Duration:         req.Duration,
		ProfitPercentage: pct.String(),
		Status:           db.TradeActive,
		CreatedAt:        m.now().UTC(),
	}
	if err := m.trades.CreateTrade(ctx, t); err != nil {
		if _, rbErr := m.ledger.Credit(ctx, req.UserID, amount); rbErr != nil {
			log.Printf("❌ [TRADE] stake refund failed user=%s amount=%s: %v", req.UserID, amount, rbErr)
		}
		return nil, fmt.Errorf("create trade: %w", err)
	}

	m.metrics.IncrementTradesOpened()
	log.Printf("🎯 [TRADE] opened %s user=%s %s %s amount=%s entry=%s duration=%ds",
		t.ID, t.UserID, t.CryptoID, t.Direction, t.Amount, t.EntryPrice, t.Duration)
	m.toUser(t.UserID, EventTradeUpdate, t)
	return &t, nil
}

// SetPredetermined overrides the outcome of an active trade. An empty result clears it.
func (m *Manager) SetPredetermined(ctx context.Context, tradeID, result string) (*db.Trade, error) {
	result = strings.ToLower(strings.TrimSpace(result))
	if result != "" && result != db.ResultWin && result != db.ResultLose {
		return nil, apperr.Validation("result must be %q, %q or empty", db.ResultWin, db.ResultLose)
	}
	t, err := m.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if t.Status != db.TradeActive {
		return t, fmt.Errorf("trade %s: %w", tradeID, apperr.ErrAlreadySettled)
	}
	ok, err := m.trades.SetPredeterminedResult(ctx, tradeID, result)
	if err != nil {
		return nil, fmt.Errorf("set predetermined result: %w", err)
	}
	if !ok {
		stored, getErr := m.Get(ctx, tradeID)
		if getErr != nil {
			return nil, getErr
		}
		return stored, fmt.Errorf("trade %s: %w", tradeID, apperr.ErrAlreadySettled)
	}
	t.PredeterminedResult = result
	log.Printf("🎛️ [TRADE] predetermined %s -> %q", tradeID, result)
	return t, nil
}

// maxSettleAttempts bounds how often Settle re-decides when the override changes underneath it.
const maxSettleAttempts = 3

// Settle decides and applies the outcome of an active trade exactly once.
// Settling a trade that is no longer active returns the stored trade with ErrAlreadySettled.
// Once the completion is committed, the payout runs to the end even if ctx is cancelled.
func (m *Manager) Settle(ctx context.Context, tradeID string, trigger Trigger) (*db.Trade, error) {
	timer := m.metrics.SettleTimer()

	var (
		t      *db.Trade
		result string
		end    time.Time
	)
	for attempt := 1; ; attempt++ {
		var err error
		t, err = m.Get(ctx, tradeID)
		if err != nil {
			return nil, err
		}
		if t.Status != db.TradeActive {
			return t, fmt.Errorf("trade %s: %w", tradeID, apperr.ErrAlreadySettled)
		}

		result, err = m.decide(ctx, t)
		if err != nil {
			m.metrics.IncrementSettleErrors()
			return nil, err
		}

		end = m.now().UTC()
		ok, err := m.trades.CompleteTrade(ctx, tradeID, t.PredeterminedResult, result, end)
		if err != nil {
			m.metrics.IncrementSettleErrors()
			return nil, fmt.Errorf("complete trade %s: %w", tradeID, err)
		}
		if ok {
			break
		}
		if attempt == maxSettleAttempts {
			m.metrics.IncrementSettleErrors()
			return nil, fmt.Errorf("trade %s: override kept changing during settlement", tradeID)
		}
	}

	// The completion is committed; payout and its compensation run even if ctx is cancelled.
	commitCtx := context.WithoutCancel(ctx)
	if result == db.ResultWin {
		payout, err := Payout(t.Amount, t.ProfitPercentage)
		if err == nil {
			_, err = m.ledger.Credit(commitCtx, t.UserID, payout)
		}
		if err != nil {
			if reErr := m.trades.ReopenTrade(commitCtx, tradeID); reErr != nil {
				log.Printf("❌ [TRADE] reopen %s after failed payout: %v", tradeID, reErr)
			}
			m.metrics.IncrementSettleErrors()
			return nil, fmt.Errorf("payout for trade %s: %w", tradeID, err)
		}
	}

	t.Status = db.TradeCompleted
	t.Result = result
	t.EndTime = &end

	elapsed := timer.Stop()
	m.metrics.IncrementTradesSettled()
	log.Printf("🏁 [TRADE] settled %s user=%s result=%s trigger=%s (%s)", t.ID, t.UserID, result, trigger, elapsed)

	m.toUser(t.UserID, EventTradeUpdate, *t)
	if trigger == TriggerPoller && m.notify != nil {
		m.notify.Broadcast(EventTradeCompleted, Completed{
			TradeID: t.ID,
			UserID:  t.UserID,
			Result:  t.Result,
			Status:  t.Status,
		})
	}
	return t, nil
}

// decide applies the predetermined result first, then a strict price comparison; ties lose.
func (m *Manager) decide(ctx context.Context, t *db.Trade) (string, error) {
	switch t.PredeterminedResult {
	case db.ResultWin, db.ResultLose:
		return t.PredeterminedResult, nil
	}

	entry, err := decimal.NewFromString(t.EntryPrice)
	if err != nil {
		return "", apperr.Malformed("trade", t.ID, "entryPrice "+t.EntryPrice)
	}
	current, err := m.quote(ctx, t.CryptoID)
	if err != nil {
		return "", fmt.Errorf("price for trade %s: %w", t.ID, err)
	}
	return Outcome(t.Direction, entry, current), nil
}

// quote asks the oracle for a price and refuses non-positive quotes, which upstream reports
// for assets it has no price for.
func (m *Manager) quote(ctx context.Context, cryptoID string) (decimal.Decimal, error) {
	price, err := m.oracle.CurrentPrice(ctx, cryptoID)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no usable price for %s (got %s)", apperr.ErrUpstreamUnavailable, cryptoID, price)
	}
	return price, nil
}

// Outcome compares prices for a direction.
func Outcome(direction string, entry, current decimal.Decimal) string {
	switch {
	case direction == db.DirectionUp && current.GreaterThan(entry):
		return db.ResultWin
	case direction == db.DirectionDown && current.LessThan(entry):
		return db.ResultWin
	default:
		return db.ResultLose
	}
}

// Payout is the amount credited on a win: stake plus profit.
func Payout(amount, profitPercentage string) (decimal.Decimal, error) {
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, apperr.Validation("invalid trade amount %q", amount)
	}
	pct, err := decimal.NewFromString(profitPercentage)
	if err != nil {
		return decimal.Zero, apperr.Validation("invalid profit percentage %q", profitPercentage)
	}
	return a.Add(a.Mul(pct).Div(hundred)), nil
}

// CheckManualSettle enforces who may trigger a manual settlement: the owner once the trade
// has expired, or anyone holding anyTrade.
func (m *Manager) CheckManualSettle(t *db.Trade, actorID string, anyTrade bool) error {
	if anyTrade {
		return nil
	}
	if t.UserID != actorID {
		return fmt.Errorf("trade %s: %w", t.ID, apperr.ErrNotFound)
	}
	expiry, ok := t.Expiry()
	if !ok {
		return apperr.Malformed("trade", t.ID, "createdAt")
	}
	if m.now().Before(expiry) {
		return apperr.Validation("trade expires at %s", expiry.UTC().Format(time.RFC3339))
	}
	return nil
}

// Get loads one trade.
func (m *Manager) Get(ctx context.Context, tradeID string) (*db.Trade, error) {
	t, err := m.trades.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("trade %s: %w", tradeID, apperr.ErrNotFound)
		}
		return nil, err
	}
	return t, nil
}

// ListByUser returns a user's trades, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID string) ([]db.Trade, error) {
	return m.trades.ListTradesByUser(ctx, userID)
}

// ListAll returns every trade, newest first.
func (m *Manager) ListAll(ctx context.Context) ([]db.Trade, error) {
	return m.trades.ListTrades(ctx)
}

// ListActive returns active trades, oldest first.
func (m *Manager) ListActive(ctx context.Context) ([]db.Trade, error) {
	return m.trades.ListActiveTrades(ctx)
}

func (m *Manager) toUser(userID, event string, payload any) {
	if m.notify != nil {
		m.notify.ToUser(userID, event, payload)
	}
}

func (m *Manager) setting(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	if m.settings == nil {
		return def
	}
	return m.settings.Decimal(ctx, key, def)
}

func parsePositive(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperr.Validation("%s must be a number", field)
	}
	if !d.IsPositive() {
		return decimal.Zero, apperr.Validation("%s must be positive", field)
	}
	return d, nil
}
