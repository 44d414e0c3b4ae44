// Package bank manages user payout accounts.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/crypto"
	"bintrade-core/pkg/db"
	"bintrade-core/pkg/keylock"
)

// MaxAccountsPerUser caps how many accounts one user may register.
const MaxAccountsPerUser = 2

// Cipher seals account numbers at rest.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Input is the user-supplied part of an account.
type Input struct {
	BankName      string `json:"bankName"`
	AccountNumber string `json:"accountNumber"`
	AccountName   string `json:"accountName"`
	IsDefault     bool   `json:"isDefault"`
}

// Service enforces the per-user cap and the single-default rule.
type Service struct {
	accounts store.BankAccounts
	cipher   Cipher
	locks    *keylock.Striped
	now      func() time.Time
}

// NewService creates a bank account service. cipher may be nil to store numbers in clear.
func NewService(accounts store.BankAccounts, cipher Cipher) *Service {
	return &Service{
		accounts: accounts,
		cipher:   cipher,
		locks:    keylock.New(),
		now:      time.Now,
	}
}

// Create registers an account. The first account, or one flagged IsDefault, becomes the default.
func (s *Service) Create(ctx context.Context, userID string, in Input) (*db.BankAccount, error) {
	in.BankName = strings.TrimSpace(in.BankName)
	in.AccountNumber = strings.TrimSpace(in.AccountNumber)
	in.AccountName = strings.TrimSpace(in.AccountName)
	if in.BankName == "" || in.AccountNumber == "" || in.AccountName == "" {
		return nil, apperr.Validation("bankName, accountNumber and accountName are required")
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.accounts.ListBankAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= MaxAccountsPerUser {
		return nil, fmt.Errorf("at most %d bank accounts per user: %w", MaxAccountsPerUser, apperr.ErrLimitReached)
	}

	stored := in.AccountNumber
	if s.cipher != nil {
		if stored, err = s.cipher.Encrypt(in.AccountNumber); err != nil {
			return nil, fmt.Errorf("encrypt account number: %w", err)
		}
	}

	acc := db.BankAccount{
		ID:            uuid.NewString(),
		UserID:        userID,
		BankName:      in.BankName,
		AccountNumber: stored,
		AccountName:   in.AccountName,
		IsDefault:     in.IsDefault || len(existing) == 0,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.accounts.CreateBankAccount(ctx, acc); err != nil {
		return nil, fmt.Errorf("create bank account: %w", err)
	}
	log.Printf("🏦 [BANK] user=%s added %s (default=%v)", userID, acc.ID, acc.IsDefault)

	acc.AccountNumber = Mask(in.AccountNumber)
	return &acc, nil
}

// List returns the user's accounts with masked numbers.
func (s *Service) List(ctx context.Context, userID string) ([]db.BankAccount, error) {
	accounts, err := s.accounts.ListBankAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i].AccountNumber = Mask(s.reveal(accounts[i]))
	}
	return accounts, nil
}

// Reveal returns one of the user's accounts with its full number.
func (s *Service) Reveal(ctx context.Context, userID, id string) (*db.BankAccount, error) {
	acc, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	acc.AccountNumber = s.reveal(*acc)
	return acc, nil
}

// SetDefault makes id the user's only default account.
func (s *Service) SetDefault(ctx context.Context, userID, id string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.owned(ctx, userID, id); err != nil {
		return err
	}
	return s.accounts.SetDefaultBankAccount(ctx, userID, id)
}

// Delete removes an account and promotes the oldest remaining one when the default goes.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	acc, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}
	if err := s.accounts.DeleteBankAccount(ctx, id); err != nil {
		return fmt.Errorf("delete bank account: %w", err)
	}
	if !acc.IsDefault {
		return nil
	}

	remaining, err := s.accounts.ListBankAccountsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}
	if err := s.accounts.SetDefaultBankAccount(ctx, userID, remaining[0].ID); err != nil {
		return fmt.Errorf("promote default account: %w", err)
	}
	log.Printf("🏦 [BANK] user=%s promoted %s to default", userID, remaining[0].ID)
	return nil
}

func (s *Service) owned(ctx context.Context, userID, id string) (*db.BankAccount, error) {
	acc, err := s.accounts.GetBankAccount(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("bank account %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	if acc.UserID != userID {
		return nil, fmt.Errorf("bank account %s: %w", id, apperr.ErrNotFound)
	}
	return acc, nil
}

func (s *Service) reveal(acc db.BankAccount) string {
	if s.cipher == nil || !crypto.IsEncrypted(acc.AccountNumber) {
		return acc.AccountNumber
	}
	plain, err := s.cipher.Decrypt(acc.AccountNumber)
	if err != nil {
		log.Printf("⚠️ [BANK] decrypt account %s: %v", acc.ID, err)
		return ""
	}
	return plain
}

// Mask keeps the last four characters of an account number.
func Mask(number string) string {
	r := []rune(number)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
