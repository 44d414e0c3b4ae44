// Package users handles registration, login lookup and profile edits.
package users

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bintrade-core/internal/access"
	"bintrade-core/internal/apperr"
	"bintrade-core/internal/auth"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

// ErrInvalidCredentials is returned by Authenticate for unknown users and wrong passwords alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// ErrDuplicate is returned when the username or email is taken.
var ErrDuplicate = errors.New("username or email already exists")

const minPasswordLength = 6

// BalanceSetter overwrites a user's balance under the ledger's per-user lock.
type BalanceSetter interface {
	Set(ctx context.Context, userID string, balance decimal.Decimal) (decimal.Decimal, error)
}

// Registration is the input for a new account.
type Registration struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Profile is the self-editable part of a user.
type Profile struct {
	Email       *string `json:"email"`
	DisplayName *string `json:"displayName"`
	Phone       *string `json:"phone"`
	Avatar      *string `json:"avatar"`
}

// AdminEdit extends Profile with fields only staff may change.
type AdminEdit struct {
	Profile
	Role    *string `json:"role"`
	Balance *string `json:"balance"`
}

// Service manages user accounts.
type Service struct {
	users   store.Users
	balance BalanceSetter
	now     func() time.Time
}

// NewService creates a user service.
func NewService(users store.Users, balance BalanceSetter) *Service {
	return &Service{users: users, balance: balance, now: time.Now}
}

// Register creates a user with role "user" and balance "0".
func (s *Service) Register(ctx context.Context, r Registration) (*db.User, error) {
	return s.create(ctx, r, db.RoleUser)
}

func (s *Service) create(ctx context.Context, r Registration, role string) (*db.User, error) {
	username := strings.TrimSpace(r.Username)
	email := strings.TrimSpace(strings.ToLower(r.Email))
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("invalid email format")
	}
	if len(r.Password) < minPasswordLength {
		return nil, apperr.Validation("password must be at least %d characters", minPasswordLength)
	}

	hash, err := auth.HashPassword(r.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now().UTC()
	u := db.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Balance:      "0",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return &u, nil
}

// Authenticate resolves a username or email plus password to a user.
func (s *Service) Authenticate(ctx context.Context, login, password string) (*db.User, error) {
	login = strings.TrimSpace(login)
	var (
		u   *db.User
		err error
	)
	if strings.Contains(login, "@") {
		u, err = s.users.GetUserByEmail(ctx, strings.ToLower(login))
	} else {
		u, err = s.users.GetUserByUsername(ctx, login)
	}
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if auth.CheckPassword(u.PasswordHash, password) != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

// Get loads one user.
func (s *Service) Get(ctx context.Context, id string) (*db.User, error) {
	u, err := s.users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("user %s: %w", id, apperr.ErrNotFound)
		}
		return nil, err
	}
	return u, nil
}

// List returns every user, newest first.
func (s *Service) List(ctx context.Context) ([]db.User, error) {
	return s.users.ListUsers(ctx)
}

// UpdateProfile applies a self-service edit.
func (s *Service) UpdateProfile(ctx context.Context, id string, p Profile) (*db.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyProfile(u, p); err != nil {
		return nil, err
	}
	if err := s.users.UpdateUser(ctx, *u); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return s.Get(ctx, id)
}

// AdminUpdate applies a staff edit, including role and balance.
func (s *Service) AdminUpdate(ctx context.Context, id string, e AdminEdit) (*db.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyProfile(u, e.Profile); err != nil {
		return nil, err
	}
	if e.Role != nil {
		if !access.ValidRole(*e.Role) {
			return nil, apperr.Validation("unknown role %q", *e.Role)
		}
		u.Role = *e.Role
	}
	var balance *decimal.Decimal
	if e.Balance != nil {
		d, err := decimal.NewFromString(strings.TrimSpace(*e.Balance))
		if err != nil {
			return nil, apperr.Validation("balance must be a number")
		}
		if d.IsNegative() {
			return nil, apperr.Validation("balance must not be negative")
		}
		balance = &d
	}

	if err := s.users.UpdateUser(ctx, *u); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	if balance != nil {
		if _, err := s.balance.Set(ctx, id, *balance); err != nil {
			return nil, err
		}
	}
	log.Printf("👤 [USERS] admin edit user=%s role=%s", id, u.Role)
	return s.Get(ctx, id)
}

// EnsureAdmin creates the bootstrap admin when no user with that username exists.
func (s *Service) EnsureAdmin(ctx context.Context, r Registration) (*db.User, bool, error) {
	if r.Username == "" || r.Password == "" {
		return nil, false, nil
	}
	if u, err := s.users.GetUserByUsername(ctx, strings.TrimSpace(r.Username)); err == nil {
		return u, false, nil
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, false, err
	}
	u, err := s.create(ctx, r, db.RoleAdmin)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}

func applyProfile(u *db.User, p Profile) error {
	if p.Email != nil {
		email := strings.TrimSpace(strings.ToLower(*p.Email))
		if _, err := mail.ParseAddress(email); err != nil {
			return apperr.Validation("invalid email format")
		}
		u.Email = email
	}
	if p.DisplayName != nil {
		u.DisplayName = strings.TrimSpace(*p.DisplayName)
	}
	if p.Phone != nil {
		u.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	return nil
}
