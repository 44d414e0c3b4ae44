package trade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/ledger"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

type stubOracle struct {
	mu    sync.Mutex
	price decimal.Decimal
	err   error
	calls int
}

func (s *stubOracle) CurrentPrice(context.Context, string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.price, s.err
}

func (s *stubOracle) set(price string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.price = decimal.RequireFromString(price)
	s.err = err
}

type sent struct {
	userID  string
	event   string
	payload any
}

type recorder struct {
	mu         sync.Mutex
	toUser     []sent
	broadcasts []sent
}

func (r *recorder) ToUser(userID, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toUser = append(r.toUser, sent{userID, event, payload})
}

func (r *recorder) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broadcasts = append(r.broadcasts, sent{"", event, payload})
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.toUser {
		if s.event == event {
			n++
		}
	}
	return n
}

type fixture struct {
	mem    *store.Memory
	ledger *ledger.Manager
	oracle *stubOracle
	notes  *recorder
	mgr    *Manager
	clock  time.Time
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	f := &fixture{
		mem:    store.NewMemory(),
		oracle: &stubOracle{price: decimal.NewFromInt(50000)},
		notes:  &recorder{},
		clock:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := f.mem.CreateUser(context.Background(), db.User{
		ID: "u1", Username: "trader", Email: "trader@example.com", Role: db.RoleUser, Balance: balance,
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	f.ledger = ledger.NewManager(f.mem, f.notes)
	f.mgr = NewManager(Deps{
		Trades: f.mem,
		Ledger: f.ledger,
		Oracle: f.oracle,
		Notify: f.notes,
		Now:    func() time.Time { return f.clock },
	})
	return f
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b
}

func (f *fixture) open(t *testing.T, direction string) *db.Trade {
	t.Helper()
	tr, err := f.mgr.Open(context.Background(), OpenRequest{
		UserID:           "u1",
		CryptoID:         "bitcoin",
		Amount:           "200",
		Direction:        direction,
		EntryPrice:       "50000",
		Duration:         60,
		ProfitPercentage: "30",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

func assertBalance(t *testing.T, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("balance=%s, expected %s", got, want)
	}
}

func TestOpenDebitsStake(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")

	assertBalance(t, f.balance(t), "800")
	if tr.Status != db.TradeActive || tr.Result != "" {
		t.Fatalf("unexpected trade state %+v", tr)
	}
	if f.notes.count(EventTradeUpdate) != 1 {
		t.Fatalf("expected trade-update on open")
	}
}

func TestWinScenario(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")

	f.clock = f.clock.Add(61 * time.Second)
	f.oracle.set("51000", nil)

	settled, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled.Result != db.ResultWin || settled.Status != db.TradeCompleted || settled.EndTime == nil {
		t.Fatalf("unexpected settled trade %+v", settled)
	}
	assertBalance(t, f.balance(t), "1060")

	if len(f.notes.broadcasts) != 1 {
		t.Fatalf("expected one trade-completed broadcast, got %d", len(f.notes.broadcasts))
	}
	c := f.notes.broadcasts[0].payload.(Completed)
	if c.TradeID != tr.ID || c.UserID != "u1" || c.Result != db.ResultWin || c.Status != db.TradeCompleted {
		t.Fatalf("unexpected broadcast payload %+v", c)
	}
}

func TestPredeterminedLoseScenario(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")

	if _, err := f.mgr.SetPredetermined(context.Background(), tr.ID, "lose"); err != nil {
		t.Fatalf("SetPredetermined: %v", err)
	}
	f.oracle.set("99999", nil)

	settled, err := f.mgr.Settle(context.Background(), tr.ID, TriggerManual)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled.Result != db.ResultLose {
		t.Fatalf("result=%s, expected lose", settled.Result)
	}
	assertBalance(t, f.balance(t), "800")
	if f.oracle.calls != 0 {
		t.Fatalf("predetermined result must not consult the oracle")
	}
	if len(f.notes.broadcasts) != 0 {
		t.Fatalf("manual settlement must not broadcast")
	}
}

func TestPredeterminedWinOverridesPrice(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	f.mgr.SetPredetermined(context.Background(), tr.ID, "win")
	f.oracle.set("25000", nil)

	settled, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller)
	if err != nil || settled.Result != db.ResultWin {
		t.Fatalf("settled=%+v err=%v", settled, err)
	}
	assertBalance(t, f.balance(t), "1060")
}

func TestSettleIsIdempotent(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	f.oracle.set("51000", nil)

	first, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller)
	if err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	second, err := f.mgr.Settle(context.Background(), tr.ID, TriggerManual)
	if !errors.Is(err, apperr.ErrAlreadySettled) {
		t.Fatalf("err=%v, expected already settled", err)
	}
	if second.Result != first.Result || second.Status != db.TradeCompleted {
		t.Fatalf("terminal state changed: %+v vs %+v", second, first)
	}
	assertBalance(t, f.balance(t), "1060")
}

func TestConcurrentSettleCreditsOnce(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "down")
	f.oracle.set("49000", nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("%d settlements succeeded, expected exactly 1", wins)
	}
	assertBalance(t, f.balance(t), "1060")
}

func TestOutcomeTable(t *testing.T) {
	tests := []struct {
		direction, entry, current, want string
	}{
		{"up", "100", "101", db.ResultWin},
		{"up", "100", "99", db.ResultLose},
		{"up", "100", "100", db.ResultLose},
		{"down", "100", "99", db.ResultWin},
		{"down", "100", "101", db.ResultLose},
		{"down", "100", "100", db.ResultLose},
	}
	for _, tt := range tests {
		t.Run(tt.direction+"/"+tt.current, func(t *testing.T) {
			got := Outcome(tt.direction, decimal.RequireFromString(tt.entry), decimal.RequireFromString(tt.current))
			if got != tt.want {
				t.Fatalf("Outcome=%s, expected %s", got, tt.want)
			}
		})
	}
}

func TestLoseKeepsBalance(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	f.oracle.set("50000", nil)

	settled, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller)
	if err != nil || settled.Result != db.ResultLose {
		t.Fatalf("settled=%+v err=%v", settled, err)
	}
	assertBalance(t, f.balance(t), "800")
}

func TestUpstreamFailureLeavesTradeActive(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	f.oracle.set("0", apperr.ErrUpstreamUnavailable)

	if _, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v, expected upstream unavailable", err)
	}
	stored, _ := f.mgr.Get(context.Background(), tr.ID)
	if stored.Status != db.TradeActive {
		t.Fatalf("status=%s, expected active", stored.Status)
	}
}

func TestOpenValidation(t *testing.T) {
	base := OpenRequest{UserID: "u1", CryptoID: "bitcoin", Amount: "10", Direction: "up", EntryPrice: "1", Duration: 30, ProfitPercentage: "80"}
	tests := []struct {
		name   string
		mutate func(*OpenRequest)
		want   error
	}{
		{"non numeric amount", func(r *OpenRequest) { r.Amount = "ten" }, apperr.ErrValidation},
		{"zero amount", func(r *OpenRequest) { r.Amount = "0" }, apperr.ErrValidation},
		{"bad direction", func(r *OpenRequest) { r.Direction = "sideways" }, apperr.ErrValidation},
		{"zero duration", func(r *OpenRequest) { r.Duration = 0 }, apperr.ErrValidation},
		{"missing crypto", func(r *OpenRequest) { r.CryptoID = "" }, apperr.ErrValidation},
		{"negative profit", func(r *OpenRequest) { r.ProfitPercentage = "-1" }, apperr.ErrValidation},
		{"insufficient", func(r *OpenRequest) { r.Amount = "5000" }, apperr.ErrInsufficientBalance},
		{"unknown user", func(r *OpenRequest) { r.UserID = "ghost" }, apperr.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "100")
			req := base
			tt.mutate(&req)
			if _, err := f.mgr.Open(context.Background(), req); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, expected %v", err, tt.want)
			}
			assertBalance(t, f.balance(t), "100")
		})
	}
}

func TestOpenUsesOraclePriceWhenEntryOmitted(t *testing.T) {
	f := newFixture(t, "100")
	f.oracle.set("123.45", nil)
	tr, err := f.mgr.Open(context.Background(), OpenRequest{
		UserID: "u1", CryptoID: "bitcoin", Amount: "10", Direction: "down", Duration: 30,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tr.EntryPrice != "123.45" || tr.ProfitPercentage != "80" {
		t.Fatalf("unexpected trade %+v", tr)
	}
}

type failingTrades struct {
	store.Trades
}

func (failingTrades) CreateTrade(context.Context, db.Trade) error {
	return errors.New("disk full")
}

func TestOpenRefundsWhenCreateFails(t *testing.T) {
	f := newFixture(t, "1000")
	mgr := NewManager(Deps{Trades: failingTrades{f.mem}, Ledger: f.ledger, Oracle: f.oracle})

	_, err := mgr.Open(context.Background(), OpenRequest{
		UserID: "u1", CryptoID: "bitcoin", Amount: "200", Direction: "up", EntryPrice: "1", Duration: 60,
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	assertBalance(t, f.balance(t), "1000")
}

type failingCredit struct {
	*ledger.Manager
}

func (failingCredit) Credit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("ledger offline")
}

func TestFailedPayoutReopensTrade(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	f.oracle.set("60000", nil)

	mgr := NewManager(Deps{Trades: f.mem, Ledger: failingCredit{f.ledger}, Oracle: f.oracle})
	if _, err := mgr.Settle(context.Background(), tr.ID, TriggerPoller); err == nil {
		t.Fatalf("expected payout error")
	}
	stored, _ := f.mgr.Get(context.Background(), tr.ID)
	if stored.Status != db.TradeActive || stored.Result != "" {
		t.Fatalf("trade should be active again, got %+v", stored)
	}

	if _, err := f.mgr.Settle(context.Background(), tr.ID, TriggerPoller); err != nil {
		t.Fatalf("retry Settle: %v", err)
	}
	assertBalance(t, f.balance(t), "1060")
}

func TestSetPredeterminedRules(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")
	ctx := context.Background()

	if _, err := f.mgr.SetPredetermined(ctx, tr.ID, "draw"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v, expected validation", err)
	}
	if _, err := f.mgr.SetPredetermined(ctx, "missing", "win"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err=%v, expected not found", err)
	}
	got, err := f.mgr.SetPredetermined(ctx, tr.ID, "WIN")
	if err != nil || got.PredeterminedResult != db.ResultWin {
		t.Fatalf("got=%+v err=%v", got, err)
	}
	got, err = f.mgr.SetPredetermined(ctx, tr.ID, "")
	if err != nil || got.PredeterminedResult != "" {
		t.Fatalf("clear: got=%+v err=%v", got, err)
	}

	f.oracle.set("1", nil)
	f.mgr.Settle(ctx, tr.ID, TriggerManual)
	if _, err := f.mgr.SetPredetermined(ctx, tr.ID, "win"); !errors.Is(err, apperr.ErrAlreadySettled) {
		t.Fatalf("err=%v, expected already settled", err)
	}
}

func TestCheckManualSettle(t *testing.T) {
	f := newFixture(t, "1000")
	tr := f.open(t, "up")

	if err := f.mgr.CheckManualSettle(tr, "u1", false); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("owner before expiry: err=%v", err)
	}
	if err := f.mgr.CheckManualSettle(tr, "u2", false); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("stranger: err=%v", err)
	}
	if err := f.mgr.CheckManualSettle(tr, "admin", true); err != nil {
		t.Fatalf("staff: err=%v", err)
	}
	f.clock = f.clock.Add(time.Minute)
	if err := f.mgr.CheckManualSettle(tr, "u1", false); err != nil {
		t.Fatalf("owner after expiry: err=%v", err)
	}
}

func TestZeroQuoteIsUnusable(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	f.oracle.set("0", nil)

	_, err := f.mgr.Open(ctx, OpenRequest{UserID: "u1", CryptoID: "bitcoin", Amount: "100", Direction: "up", Duration: 60})
	if !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("Open err=%v, expected upstream unavailable", err)
	}
	assertBalance(t, f.balance(t), "1000")

	tr := f.open(t, "down")
	if _, err := f.mgr.Settle(ctx, tr.ID, TriggerPoller); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("Settle err=%v, expected upstream unavailable", err)
	}
	stored, _ := f.mgr.Get(ctx, tr.ID)
	if stored.Status != db.TradeActive {
		t.Fatalf("status=%s, expected active", stored.Status)
	}
	assertBalance(t, f.balance(t), "800")
}

// hookedTrades runs a callback before selected writes so tests can interleave a competing call.
type hookedTrades struct {
	store.Trades
	beforeSetPredetermined func()
	beforeComplete         func()
}

func (h *hookedTrades) SetPredeterminedResult(ctx context.Context, id, result string) (bool, error) {
	if fn := h.beforeSetPredetermined; fn != nil {
		h.beforeSetPredetermined = nil
		fn()
	}
	return h.Trades.SetPredeterminedResult(ctx, id, result)
}

func (h *hookedTrades) CompleteTrade(ctx context.Context, id, predetermined, result string, end time.Time) (bool, error) {
	if fn := h.beforeComplete; fn != nil {
		h.beforeComplete = nil
		fn()
	}
	return h.Trades.CompleteTrade(ctx, id, predetermined, result, end)
}

func TestSetPredeterminedAfterConcurrentSettle(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	tr := f.open(t, "up")

	hooked := &hookedTrades{Trades: f.mem}
	hooked.beforeSetPredetermined = func() {
		if _, err := f.mgr.Settle(ctx, tr.ID, TriggerPoller); err != nil {
			t.Errorf("Settle: %v", err)
		}
	}
	admin := NewManager(Deps{Trades: hooked, Ledger: f.ledger, Oracle: f.oracle, Now: func() time.Time { return f.clock }})

	got, err := admin.SetPredetermined(ctx, tr.ID, db.ResultWin)
	if !errors.Is(err, apperr.ErrAlreadySettled) {
		t.Fatalf("err=%v, expected already settled", err)
	}
	if got == nil || got.Status != db.TradeCompleted || got.Result != db.ResultLose {
		t.Fatalf("returned trade should reflect the settlement, got %+v", got)
	}
	stored, _ := f.mgr.Get(ctx, tr.ID)
	if stored.PredeterminedResult != "" || stored.Result != db.ResultLose {
		t.Fatalf("stored trade %+v", stored)
	}
	assertBalance(t, f.balance(t), "800")
}

func TestSettleRedecidesWhenOverrideChanges(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	tr := f.open(t, "up")

	hooked := &hookedTrades{Trades: f.mem}
	hooked.beforeComplete = func() {
		if ok, err := f.mem.SetPredeterminedResult(ctx, tr.ID, db.ResultWin); err != nil || !ok {
			t.Errorf("SetPredeterminedResult ok=%v err=%v", ok, err)
		}
	}
	mgr := NewManager(Deps{Trades: hooked, Ledger: f.ledger, Oracle: f.oracle, Now: func() time.Time { return f.clock }})

	settled, err := mgr.Settle(ctx, tr.ID, TriggerPoller)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if settled.Result != db.ResultWin {
		t.Fatalf("result=%s, expected the override set mid-settlement to win", settled.Result)
	}
	assertBalance(t, f.balance(t), "1060")
}

// cancelOnComplete cancels the caller's context as soon as the completion is committed.
type cancelOnComplete struct {
	*db.Database
	cancel context.CancelFunc
}

func (c *cancelOnComplete) CompleteTrade(ctx context.Context, id, predetermined, result string, end time.Time) (bool, error) {
	ok, err := c.Database.CompleteTrade(ctx, id, predetermined, result, end)
	if c.cancel != nil {
		c.cancel()
	}
	return ok, err
}

func TestPayoutSurvivesCancellationAfterCommit(t *testing.T) {
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	if err := database.CreateUser(context.Background(), db.User{
		ID: "u1", Username: "trader", Email: "trader@example.com", PasswordHash: "x", Role: db.RoleUser, Balance: "1000",
	}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	oracle := &stubOracle{price: decimal.NewFromInt(50000)}
	ledgerMgr := ledger.NewManager(database, nil)
	trades := &cancelOnComplete{Database: database}
	mgr := NewManager(Deps{Trades: trades, Ledger: ledgerMgr, Oracle: oracle, Now: func() time.Time { return clock }})

	tr, err := mgr.Open(context.Background(), OpenRequest{
		UserID: "u1", CryptoID: "bitcoin", Amount: "200", Direction: "up", EntryPrice: "50000", Duration: 60, ProfitPercentage: "30",
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	oracle.set("60000", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	trades.cancel = cancel

	if _, err := mgr.Settle(ctx, tr.ID, TriggerPoller); err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if ctx.Err() == nil {
		t.Fatalf("context should have been cancelled after commit")
	}

	stored, err := database.GetTrade(context.Background(), tr.ID)
	if err != nil || stored.Status != db.TradeCompleted || stored.Result != db.ResultWin {
		t.Fatalf("stored=%+v err=%v", stored, err)
	}
	balance, err := ledgerMgr.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	assertBalance(t, balance, "1060")
}
