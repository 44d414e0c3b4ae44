package users

import (
	"context"
	"errors"
	"testing"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/ledger"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

func newService() *Service {
	mem := store.NewMemory()
	return NewService(mem, ledger.NewManager(mem, nil))
}

func strPtr(s string) *string { return &s }

func TestRegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := newService()

	u, err := svc.Register(ctx, Registration{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Balance != "0" || u.Role != db.RoleUser || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash == "secret1" {
		t.Fatalf("password stored in clear")
	}

	for _, login := range []string{"alice", "alice@example.com"} {
		if _, err := svc.Authenticate(ctx, login, "secret1"); err != nil {
			t.Fatalf("Authenticate(%s): %v", login, err)
		}
	}
	if _, err := svc.Authenticate(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password err=%v", err)
	}
	if _, err := svc.Authenticate(ctx, "bob", "secret1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user err=%v", err)
	}

	if _, err := svc.Register(ctx, Registration{Username: "alice", Email: "other@example.com", Password: "secret1"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
	}{
		{"missing username", Registration{Email: "a@b.co", Password: "secret1"}},
		{"bad email", Registration{Username: "a", Email: "nope", Password: "secret1"}},
		{"short password", Registration{Username: "a", Email: "a@b.co", Password: "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newService().Register(context.Background(), tt.reg); !errors.Is(err, apperr.ErrValidation) {
				t.Fatalf("err=%v", err)
			}
		})
	}
}

func TestProfileAndAdminEdit(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	u, _ := svc.Register(ctx, Registration{Username: "carol", Email: "carol@example.com", Password: "secret1"})

	updated, err := svc.UpdateProfile(ctx, u.ID, Profile{DisplayName: strPtr(" Carol "), Phone: strPtr("0800000000")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.DisplayName != "Carol" || updated.Phone != "0800000000" {
		t.Fatalf("unexpected profile %+v", updated)
	}

	edited, err := svc.AdminUpdate(ctx, u.ID, AdminEdit{Role: strPtr(db.RoleAgent), Balance: strPtr("1500.25")})
	if err != nil {
		t.Fatalf("AdminUpdate: %v", err)
	}
	if edited.Role != db.RoleAgent || edited.Balance != "1500.25" {
		t.Fatalf("unexpected admin edit %+v", edited)
	}

	if _, err := svc.AdminUpdate(ctx, u.ID, AdminEdit{Role: strPtr("owner")}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("bad role err=%v", err)
	}
	if _, err := svc.AdminUpdate(ctx, u.ID, AdminEdit{Balance: strPtr("-1")}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("negative balance err=%v", err)
	}
	if _, err := svc.UpdateProfile(ctx, "missing", Profile{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("missing user err=%v", err)
	}

	_, _ = svc.Register(ctx, Registration{Username: "dave", Email: "dave@example.com", Password: "secret1"})
	if _, err := svc.UpdateProfile(ctx, u.ID, Profile{Email: strPtr("dave@example.com")}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("taken email err=%v", err)
	}
}

func TestEnsureAdmin(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	reg := Registration{Username: "root", Email: "root@example.com", Password: "changeme"}

	u, created, err := svc.EnsureAdmin(ctx, reg)
	if err != nil || !created || u.Role != db.RoleAdmin {
		t.Fatalf("first EnsureAdmin: u=%+v created=%v err=%v", u, created, err)
	}
	_, created, err = svc.EnsureAdmin(ctx, reg)
	if err != nil || created {
		t.Fatalf("second EnsureAdmin should be a no-op: created=%v err=%v", created, err)
	}
	if _, created, _ := svc.EnsureAdmin(ctx, Registration{}); created {
		t.Fatalf("empty bootstrap config must not create a user")
	}
}
