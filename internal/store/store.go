// Package store defines the persistence contract used by the trading services.
// *db.Database is the durable implementation; Memory keeps everything in process.
package store

import (
	"context"
	"time"

	"bintrade-core/pkg/db"
)

// Users persists accounts and balances.
type Users interface {
	CreateUser(ctx context.Context, u db.User) error
	GetUser(ctx context.Context, id string) (*db.User, error)
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	GetUserByEmail(ctx context.Context, email string) (*db.User, error)
	ListUsers(ctx context.Context) ([]db.User, error)
	UpdateUserBalance(ctx context.Context, id, balance string) error
	UpdateUser(ctx context.Context, u db.User) error
}

// Trades persists trade records and their one-way status transitions.
type Trades interface {
	CreateTrade(ctx context.Context, t db.Trade) error
	GetTrade(ctx context.Context, id string) (*db.Trade, error)
	ListTradesByUser(ctx context.Context, userID string) ([]db.Trade, error)
	ListTrades(ctx context.Context) ([]db.Trade, error)
	ListActiveTrades(ctx context.Context) ([]db.Trade, error)
	// CompleteTrade applies only while the trade is active and its predetermined result still
	// equals predetermined.
	CompleteTrade(ctx context.Context, id, predetermined, result string, endTime time.Time) (bool, error)
	ReopenTrade(ctx context.Context, id string) error
	// SetPredeterminedResult applies only while the trade is active.
	SetPredeterminedResult(ctx context.Context, id, result string) (bool, error)
}

// Transactions persists deposit and withdrawal requests.
type Transactions interface {
	CreateTransaction(ctx context.Context, t db.Transaction) error
	GetTransaction(ctx context.Context, id string) (*db.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID string) ([]db.Transaction, error)
	ListTransactions(ctx context.Context, status string) ([]db.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id, from, to, note string) (bool, error)
}

// BankAccounts persists payout accounts.
type BankAccounts interface {
	CreateBankAccount(ctx context.Context, a db.BankAccount) error
	GetBankAccount(ctx context.Context, id string) (*db.BankAccount, error)
	ListBankAccountsByUser(ctx context.Context, userID string) ([]db.BankAccount, error)
	SetDefaultBankAccount(ctx context.Context, userID, id string) error
	DeleteBankAccount(ctx context.Context, id string) error
}

// Settings persists process-wide key/value pairs.
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SaveSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}

// Store is the full persistence interface.
type Store interface {
	Users
	Trades
	Transactions
	BankAccounts
	Settings
}

var _ Store = (*db.Database)(nil)
