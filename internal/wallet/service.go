// Package wallet handles deposit and withdrawal requests and their admin review.
package wallet

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
	"bintrade-core/internal/settings"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

// Ledger moves funds for wallet operations.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
	Credit(ctx context.Context, userID string, amount decimal.Decimal) (decimal.Decimal, error)
}

// SettingsReader resolves decimal settings with a fallback.
type SettingsReader interface {
	Decimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal
}

// Request is a user's deposit or withdrawal request.
type Request struct {
	UserID        string `json:"-"`
	Amount        string `json:"amount"`
	Method        string `json:"method"`
	BankAccountID string `json:"bankAccountId"`
	PaymentProof  string `json:"paymentProof"`
}

// Service creates and reviews transactions.
type Service struct {
	txs      store.Transactions
	accounts store.BankAccounts
	ledger   Ledger
	settings SettingsReader
	now      func() time.Time
}

// NewService creates a wallet service. settingsReader may be nil.
func NewService(txs store.Transactions, accounts store.BankAccounts, ledger Ledger, settingsReader SettingsReader) *Service {
	return &Service{
		txs:      txs,
		accounts: accounts,
		ledger:   ledger,
		settings: settingsReader,
		now:      time.Now,
	}
}

// RequestDeposit records a pending deposit. The balance changes only on approval.
func (s *Service) RequestDeposit(ctx context.Context, req Request) (*db.Transaction, error) {
	amount, method, err := s.validate(ctx, req, settings.MinDeposit)
	if err != nil {
		return nil, err
	}
	if req.BankAccountID != "" {
		if err := s.checkAccount(ctx, req.UserID, req.BankAccountID); err != nil {
			return nil, err
		}
	}
	tx := s.newTx(req, db.TxDeposit, amount, method)
	if err := s.txs.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	log.Printf("📥 [WALLET] deposit %s user=%s amount=%s method=%s", tx.ID, tx.UserID, tx.Amount, tx.Method)
	return &tx, nil
}

// RequestWithdraw debits the balance immediately and records a pending withdrawal.
// If the record cannot be created the debit is refunded.
func (s *Service) RequestWithdraw(ctx context.Context, req Request) (*db.Transaction, error) {
	amount, method, err := s.validate(ctx, req, settings.MinWithdraw)
	if err != nil {
		return nil, err
	}
	if method == db.MethodBank && req.BankAccountID == "" {
		return nil, apperr.Validation("bank withdrawals require a bank account")
	}
	if req.BankAccountID != "" {
		if err := s.checkAccount(ctx, req.UserID, req.BankAccountID); err != nil {
			return nil, err
		}
	}

	if _, err := s.ledger.Debit(ctx, req.UserID, amount); err != nil {
		return nil, err
	}
	tx := s.newTx(req, db.TxWithdraw, amount, method)
	if err := s.txs.CreateTransaction(ctx, tx); err != nil {
		if _, rbErr := s.ledger.Credit(ctx, req.UserID, amount); rbErr != nil {
			log.Printf("❌ [WALLET] withdraw refund failed user=%s amount=%s: %v", req.UserID, amount, rbErr)
		}
		return nil, fmt.Errorf("create withdrawal: %w", err)
	}
	log.Printf("📤 [WALLET] withdraw %s user=%s amount=%s method=%s", tx.ID, tx.UserID, tx.Amount, tx.Method)
	return &tx, nil
}

// Approve credits deposits; approving a withdrawal leaves the balance alone.
func (s *Service) Approve(ctx context.Context, id, note string) (*db.Transaction, error) {
	return s.review(ctx, id, db.TxApproved, note, func(tx *db.Transaction) bool {
		return tx.Type == db.TxDeposit
	})
}

// Reject refunds withdrawals; rejecting a deposit leaves the balance alone.
func (s *Service) Reject(ctx context.Context, id, note string) (*db.Transaction, error) {
	return s.review(ctx, id, db.TxRejected, note, func(tx *db.Transaction) bool {
		return tx.Type == db.TxWithdraw
	})
}

// Freeze parks the transaction. Withdrawn funds stay debited.
func (s *Service) Freeze(ctx context.Context, id, note string) (*db.Transaction, error) {
	return s.review(ctx, id, db.TxFrozen, note, func(*db.Transaction) bool { return false })
}

// review moves a pending transaction to status and credits its amount when credit reports true.
// A failed credit puts the transaction back to pending.
func (s *Service) review(ctx context.Context, id, status, note string, credit func(*db.Transaction) bool) (*db.Transaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx.Status != db.TxPending {
		return tx, fmt.Errorf("transaction %s is %s: %w", id, tx.Status, apperr.ErrAlreadyProcessed)
	}
	ok, err := s.txs.UpdateTransactionStatus(ctx, id, db.TxPending, status, note)
	if err != nil {
		return nil, fmt.Errorf("update transaction %s: %w", id, err)
	}
	if !ok {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return current, fmt.Errorf("transaction %s is %s: %w", id, current.Status, apperr.ErrAlreadyProcessed)
	}

	if credit(tx) {
		amount, err := decimal.NewFromString(tx.Amount)
		if err == nil {
			_, err = s.ledger.Credit(ctx, tx.UserID, amount)
		}
		if err != nil {
			if _, revErr := s.txs.UpdateTransactionStatus(ctx, id, status, db.TxPending, tx.Note); revErr != nil {
				log.Printf("❌ [WALLET] revert %s to pending: %v", id, revErr)
			}
			return nil, fmt.Errorf("credit transaction %s: %w", id, err)
		}
	}

	tx.Status = status
	tx.Note = note
	tx.UpdatedAt = s.now().UTC()
	log.Printf("🧾 [WALLET] %s %s %s user=%s amount=%s", tx.Type, id, status, tx.UserID, tx.Amount)
	return tx, nil
}

// Get loads one transaction.
func (s *Service) Get(ctx context.Context, id string) (*db.Transaction, error) {
	tx, err := s.txs.GetTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("transaction %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return tx, nil
}

// ListByUser returns a user's transactions, newest first.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]db.Transaction, error) {
	return s.txs.ListTransactionsByUser(ctx, userID)
}

// List returns all transactions, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]db.Transaction, error) {
	switch status {
	case "", db.TxPending, db.TxApproved, db.TxRejected, db.TxFrozen:
	default:
		return nil, apperr.Validation("unknown status %q", status)
	}
	return s.txs.ListTransactions(ctx, status)
}

func (s *Service) validate(ctx context.Context, req Request, minKey string) (decimal.Decimal, string, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return decimal.Zero, "", apperr.Validation("amount must be a number")
	}
	if !amount.IsPositive() {
		return decimal.Zero, "", apperr.Validation("amount must be positive")
	}
	if s.settings != nil {
		if floor := s.settings.Decimal(ctx, minKey, decimal.Zero); amount.LessThan(floor) {
			return decimal.Zero, "", apperr.Validation("amount must be at least %s", floor)
		}
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if method != db.MethodBank && method != db.MethodPromptPay {
		return decimal.Zero, "", apperr.Validation("method must be %q or %q", db.MethodBank, db.MethodPromptPay)
	}
	return amount, method, nil
}

func (s *Service) checkAccount(ctx context.Context, userID, accountID string) error {
	acc, err := s.accounts.GetBankAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("bank account %s: %w", accountID, apperr.ErrNotFound)
		}
		return err
	}
	if acc.UserID != userID {
		return fmt.Errorf("bank account %s: %w", accountID, apperr.ErrNotFound)
	}
	return nil
}

func (s *Service) newTx(req Request, kind string, amount decimal.Decimal, method string) db.Transaction {
	now := s.now().UTC()
	return db.Transaction{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Type:         kind,
		Amount:       amount.String(),
		Method:       method,
		Status:       db.TxPending,
		BankAccount:  req.BankAccountID,
		PaymentProof: req.PaymentProof,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
