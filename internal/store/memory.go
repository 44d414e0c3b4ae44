package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"bintrade-core/pkg/db"
)

// Memory is an in-process Store. Records are copied on the way in and out.
type Memory struct {
	mu           sync.RWMutex
	users        map[string]db.User
	trades       map[string]db.Trade
	transactions map[string]db.Transaction
	accounts     map[string]db.BankAccount
	settings     map[string]string
	seq          int64
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]db.User),
		trades:       make(map[string]db.Trade),
		transactions: make(map[string]db.Transaction),
		accounts:     make(map[string]db.BankAccount),
		settings:     make(map[string]string),
	}
}

var _ Store = (*Memory)(nil)

// stamp keeps insertion order stable when callers create records within the same instant.
func (m *Memory) stamp(t time.Time) time.Time {
	m.seq++
	if t.IsZero() {
		return time.Now().Add(time.Duration(m.seq))
	}
	return t
}

// ----- users -----

func (m *Memory) CreateUser(_ context.Context, u db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.ID == u.ID || existing.Username == u.Username || existing.Email == u.Email {
			return db.ErrConflict
		}
	}
	u.CreatedAt = m.stamp(u.CreatedAt)
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*db.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &u, nil
}

func (m *Memory) findUser(match func(db.User) bool) (*db.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			u := u
			return &u, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*db.User, error) {
	return m.findUser(func(u db.User) bool { return u.Username == username })
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*db.User, error) {
	return m.findUser(func(u db.User) bool { return u.Email == email })
}

func (m *Memory) ListUsers(_ context.Context) ([]db.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateUserBalance(_ context.Context, id, balance string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return db.ErrNotFound
	}
	u.Balance = balance
	u.UpdatedAt = time.Now()
	m.users[id] = u
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, in db.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[in.ID]
	if !ok {
		return db.ErrNotFound
	}
	for id, other := range m.users {
		if id != in.ID && other.Email == in.Email {
			return db.ErrConflict
		}
	}
	u.Email = in.Email
	u.Role = in.Role
	u.DisplayName = in.DisplayName
	u.Phone = in.Phone
	u.Avatar = in.Avatar
	u.UpdatedAt = time.Now()
	m.users[in.ID] = u
	return nil
}

// ----- trades -----

func (m *Memory) CreateTrade(_ context.Context, t db.Trade) error {
	if t.UserID == "" {
		return db.ErrUserIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trades[t.ID]; ok {
		return db.ErrConflict
	}
	m.trades[t.ID] = t
	return nil
}

func (m *Memory) GetTrade(_ context.Context, id string) (*db.Trade, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trades[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) listTrades(match func(db.Trade) bool, newestFirst bool) []db.Trade {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.Trade
	for _, t := range m.trades {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) ListTradesByUser(_ context.Context, userID string) ([]db.Trade, error) {
	if userID == "" {
		return nil, db.ErrUserIDRequired
	}
	return m.listTrades(func(t db.Trade) bool { return t.UserID == userID }, true), nil
}

func (m *Memory) ListTrades(_ context.Context) ([]db.Trade, error) {
	return m.listTrades(func(db.Trade) bool { return true }, true), nil
}

func (m *Memory) ListActiveTrades(_ context.Context) ([]db.Trade, error) {
	return m.listTrades(func(t db.Trade) bool { return t.Status == db.TradeActive }, false), nil
}

func (m *Memory) CompleteTrade(_ context.Context, id, predetermined, result string, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok || t.Status != db.TradeActive || t.PredeterminedResult != predetermined {
		return false, nil
	}
	t.Status = db.TradeCompleted
	t.Result = result
	t.EndTime = &endTime
	m.trades[id] = t
	return true, nil
}

func (m *Memory) ReopenTrade(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok || t.Status != db.TradeCompleted {
		return db.ErrNotFound
	}
	t.Status = db.TradeActive
	t.Result = ""
	t.EndTime = nil
	m.trades[id] = t
	return nil
}

func (m *Memory) SetPredeterminedResult(_ context.Context, id, result string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trades[id]
	if !ok || t.Status != db.TradeActive {
		return false, nil
	}
	t.PredeterminedResult = result
	m.trades[id] = t
	return true, nil
}

// ----- transactions -----

func (m *Memory) CreateTransaction(_ context.Context, t db.Transaction) error {
	if t.UserID == "" {
		return db.ErrUserIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.transactions[t.ID]; ok {
		return db.ErrConflict
	}
	t.CreatedAt = m.stamp(t.CreatedAt)
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	m.transactions[t.ID] = t
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*db.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transactions[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &t, nil
}

func (m *Memory) listTransactions(match func(db.Transaction) bool) []db.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.Transaction
	for _, t := range m.transactions {
		if match(t) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (m *Memory) ListTransactionsByUser(_ context.Context, userID string) ([]db.Transaction, error) {
	if userID == "" {
		return nil, db.ErrUserIDRequired
	}
	return m.listTransactions(func(t db.Transaction) bool { return t.UserID == userID }), nil
}

func (m *Memory) ListTransactions(_ context.Context, status string) ([]db.Transaction, error) {
	return m.listTransactions(func(t db.Transaction) bool { return status == "" || t.Status == status }), nil
}

func (m *Memory) UpdateTransactionStatus(_ context.Context, id, from, to, note string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.Note = note
	t.UpdatedAt = time.Now()
	m.transactions[id] = t
	return true, nil
}

// ----- bank accounts -----

func (m *Memory) CreateBankAccount(_ context.Context, a db.BankAccount) error {
	if a.UserID == "" {
		return db.ErrUserIDRequired
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[a.ID]; ok {
		return db.ErrConflict
	}
	if a.IsDefault {
		m.clearDefaultsLocked(a.UserID)
	}
	a.CreatedAt = m.stamp(a.CreatedAt)
	m.accounts[a.ID] = a
	return nil
}

func (m *Memory) clearDefaultsLocked(userID string) {
	for id, acc := range m.accounts {
		if acc.UserID == userID && acc.IsDefault {
			acc.IsDefault = false
			m.accounts[id] = acc
		}
	}
}

func (m *Memory) GetBankAccount(_ context.Context, id string) (*db.BankAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &a, nil
}

func (m *Memory) ListBankAccountsByUser(_ context.Context, userID string) ([]db.BankAccount, error) {
	if userID == "" {
		return nil, db.ErrUserIDRequired
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []db.BankAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetDefaultBankAccount(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok || a.UserID != userID {
		return db.ErrNotFound
	}
	m.clearDefaultsLocked(userID)
	a.IsDefault = true
	m.accounts[id] = a
	return nil
}

func (m *Memory) DeleteBankAccount(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

// ----- settings -----

func (m *Memory) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *Memory) SaveSetting(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *Memory) ListSettings(_ context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}
