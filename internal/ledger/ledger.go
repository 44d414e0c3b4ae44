// Package ledger applies balance mutations to user accounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
	"bintrade-core/pkg/keylock"
)

// EventBalanceUpdate is emitted to the owner's room after every mutation.
const EventBalanceUpdate = "balance-update"

// Notifier delivers events to a single user's room.
type Notifier interface {
	ToUser(userID, event string, payload any)
}

// BalanceUpdate is the balance-update payload.
type BalanceUpdate struct {
	Balance string `json:"balance"`
}

// Manager serializes balance read-modify-write per user.
type Manager struct {
	users  store.Users
	locks  *keylock.Striped
	notify Notifier
}

// NewManager creates a ledger manager. notify may be nil.
func NewManager(users store.Users, notify Notifier) *Manager {
	return &Manager{
		users:  users,
		locks:  keylock.New(),
		notify: notify,
	}
}

// Locks exposes the per-user lock set so callers can report contention.
func (m *Manager) Locks() *keylock.Striped {
	return m.locks
}

// GetBalance returns the user's current balance.
func (m *Manager) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, wrapUser(userID, err)
	}
	return parseBalance(u)
}

// Debit subtracts amount and returns the new balance.
func (m *Manager) Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("debit amount must be positive, got %s", amount)
	}
	return m.apply(ctx, userID, func(cur decimal.Decimal) (decimal.Decimal, error) {
		if cur.LessThan(amount) {
			return decimal.Zero, fmt.Errorf("%w: need %s, have %s", apperr.ErrInsufficientBalance, amount, cur)
		}
		return cur.Sub(amount), nil
	})
}

// Credit adds amount and returns the new balance.
func (m *Manager) Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation("credit amount must be positive, got %s", amount)
	}
	return m.apply(ctx, userID, func(cur decimal.Decimal) (decimal.Decimal, error) {
		return cur.Add(amount), nil
	})
}

// Set overwrites the balance. Used by admin edits.
func (m *Manager) Set(ctx context.Context, userID string, balance decimal.Decimal) (decimal.Decimal, error) {
	if balance.IsNegative() {
		return decimal.Zero, apperr.Validation("balance must not be negative, got %s", balance)
	}
	return m.apply(ctx, userID, func(decimal.Decimal) (decimal.Decimal, error) {
		return balance, nil
	})
}

func (m *Manager) apply(ctx context.Context, userID string, next func(decimal.Decimal) (decimal.Decimal, error)) (decimal.Decimal, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	u, err := m.users.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, wrapUser(userID, err)
	}
	cur, err := parseBalance(u)
	if err != nil {
		return decimal.Zero, err
	}
	updated, err := next(cur)
	if err != nil {
		return decimal.Zero, err
	}
	if err := m.users.UpdateUserBalance(ctx, userID, updated.String()); err != nil {
		return decimal.Zero, wrapUser(userID, err)
	}

	log.Printf("💰 [LEDGER] user=%s balance %s -> %s", userID, cur, updated)
	if m.notify != nil {
		m.notify.ToUser(userID, EventBalanceUpdate, BalanceUpdate{Balance: updated.String()})
	}
	return updated, nil
}

func parseBalance(u *db.User) (decimal.Decimal, error) {
	if u.Balance == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(u.Balance)
	if err != nil {
		return decimal.Zero, apperr.Malformed("user", u.ID, "balance "+u.Balance)
	}
	return d, nil
}

func wrapUser(userID string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("user %s: %w", userID, apperr.ErrNotFound)
	}
	return fmt.Errorf("user %s: %w", userID, err)
}
