package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bintrade-core/internal/apperr"
	"bintrade-core/internal/ledger"
	"bintrade-core/internal/settings"
	"bintrade-core/internal/store"
	"bintrade-core/pkg/db"
)

type fixture struct {
	mem    *store.Memory
	ledger *ledger.Manager
	svc    *Service
}

func newFixture(t *testing.T, balance string) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	if err := mem.CreateUser(ctx, db.User{ID: "u1", Username: "u1", Email: "u1@example.com", Role: db.RoleUser, Balance: balance}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if err := mem.CreateBankAccount(ctx, db.BankAccount{ID: "acc1", UserID: "u1", BankName: "KBank", AccountNumber: "123", AccountName: "U One", IsDefault: true}); err != nil {
		t.Fatalf("CreateBankAccount: %v", err)
	}
	l := ledger.NewManager(mem, nil)
	return &fixture{mem: mem, ledger: l, svc: NewService(mem, mem, l, settings.New(mem))}
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	b, err := f.ledger.GetBalance(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	return b.String()
}

func TestWithdrawRejectScenario(t *testing.T) {
	f := newFixture(t, "800")
	ctx := context.Background()

	tx, err := f.svc.RequestWithdraw(ctx, Request{UserID: "u1", Amount: "500", Method: "bank", BankAccountID: "acc1"})
	if err != nil {
		t.Fatalf("RequestWithdraw: %v", err)
	}
	if tx.Status != db.TxPending {
		t.Fatalf("status=%s, expected pending", tx.Status)
	}
	if got := f.balance(t); got != "300" {
		t.Fatalf("balance=%s, expected 300", got)
	}

	rejected, err := f.svc.Reject(ctx, tx.ID, "wrong account")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != db.TxRejected || rejected.Note != "wrong account" {
		t.Fatalf("unexpected transaction %+v", rejected)
	}
	if got := f.balance(t); got != "800" {
		t.Fatalf("balance=%s, expected 800", got)
	}

	stored, _ := f.svc.Get(ctx, tx.ID)
	if stored.Status != db.TxRejected {
		t.Fatalf("stored status=%s", stored.Status)
	}
}

func TestWithdrawApproveAndFreezeKeepDebit(t *testing.T) {
	for _, action := range []string{"approve", "freeze"} {
		t.Run(action, func(t *testing.T) {
			f := newFixture(t, "800")
			ctx := context.Background()
			tx, err := f.svc.RequestWithdraw(ctx, Request{UserID: "u1", Amount: "200", Method: "promptpay"})
			if err != nil {
				t.Fatalf("RequestWithdraw: %v", err)
			}
			if action == "approve" {
				_, err = f.svc.Approve(ctx, tx.ID, "")
			} else {
				_, err = f.svc.Freeze(ctx, tx.ID, "under review")
			}
			if err != nil {
				t.Fatalf("%s: %v", action, err)
			}
			if got := f.balance(t); got != "600" {
				t.Fatalf("balance=%s, expected 600", got)
			}
		})
	}
}

func TestDepositCreditsOnlyOnApproval(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()

	tx, err := f.svc.RequestDeposit(ctx, Request{UserID: "u1", Amount: "1000", Method: "bank", PaymentProof: "data:image/png;base64,AAAA"})
	if err != nil {
		t.Fatalf("RequestDeposit: %v", err)
	}
	if got := f.balance(t); got != "0" {
		t.Fatalf("balance=%s before approval", got)
	}
	if _, err := f.svc.Approve(ctx, tx.ID, "ok"); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if got := f.balance(t); got != "1000" {
		t.Fatalf("balance=%s, expected 1000", got)
	}

	if _, err := f.svc.Approve(ctx, tx.ID, "again"); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("err=%v, expected already processed", err)
	}
	if _, err := f.svc.Reject(ctx, tx.ID, ""); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("err=%v, expected already processed", err)
	}
	if got := f.balance(t); got != "1000" {
		t.Fatalf("second review changed balance to %s", got)
	}
}

func TestRejectDepositNoBalanceChange(t *testing.T) {
	f := newFixture(t, "10")
	tx, _ := f.svc.RequestDeposit(context.Background(), Request{UserID: "u1", Amount: "100", Method: "promptpay"})
	if _, err := f.svc.Reject(context.Background(), tx.ID, "no proof"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if got := f.balance(t); got != "10" {
		t.Fatalf("balance=%s", got)
	}
}

func TestRequestValidation(t *testing.T) {
	tests := []struct {
		name     string
		withdraw bool
		req      Request
		want     error
	}{
		{"non numeric", false, Request{Amount: "abc", Method: "bank"}, apperr.ErrValidation},
		{"negative", false, Request{Amount: "-1", Method: "bank"}, apperr.ErrValidation},
		{"bad method", false, Request{Amount: "100", Method: "cash"}, apperr.ErrValidation},
		{"below minimum", false, Request{Amount: "99", Method: "bank"}, apperr.ErrValidation},
		{"bank needs account", true, Request{Amount: "100", Method: "bank"}, apperr.ErrValidation},
		{"foreign account", true, Request{Amount: "100", Method: "bank", BankAccountID: "other"}, apperr.ErrNotFound},
		{"overdraft", true, Request{Amount: "5000", Method: "promptpay"}, apperr.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "800")
			f.mem.SaveSetting(context.Background(), settings.MinDeposit, "100")
			tt.req.UserID = "u1"
			var err error
			if tt.withdraw {
				_, err = f.svc.RequestWithdraw(context.Background(), tt.req)
			} else {
				_, err = f.svc.RequestDeposit(context.Background(), tt.req)
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("err=%v, expected %v", err, tt.want)
			}
			if got := f.balance(t); got != "800" {
				t.Fatalf("balance=%s after failed request", got)
			}
		})
	}
}

type failingTxs struct {
	store.Transactions
}

func (failingTxs) CreateTransaction(context.Context, db.Transaction) error {
	return errors.New("insert failed")
}

func TestWithdrawRollsBackOnCreateFailure(t *testing.T) {
	f := newFixture(t, "800")
	svc := NewService(failingTxs{f.mem}, f.mem, f.ledger, nil)

	if _, err := svc.RequestWithdraw(context.Background(), Request{UserID: "u1", Amount: "500", Method: "promptpay"}); err == nil {
		t.Fatalf("expected error")
	}
	if got := f.balance(t); got != "800" {
		t.Fatalf("balance=%s, expected rollback to 800", got)
	}
}

type brokenCredit struct{ *ledger.Manager }

func (brokenCredit) Credit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("ledger unavailable")
}

func TestApproveRevertsStatusWhenCreditFails(t *testing.T) {
	f := newFixture(t, "0")
	ctx := context.Background()
	tx, _ := f.svc.RequestDeposit(ctx, Request{UserID: "u1", Amount: "100", Method: "bank"})

	svc := NewService(f.mem, f.mem, brokenCredit{f.ledger}, nil)
	if _, err := svc.Approve(ctx, tx.ID, ""); err == nil {
		t.Fatalf("expected credit error")
	}
	stored, _ := f.svc.Get(ctx, tx.ID)
	if stored.Status != db.TxPending {
		t.Fatalf("status=%s, expected pending after failed credit", stored.Status)
	}
}

func TestListFiltersStatus(t *testing.T) {
	f := newFixture(t, "800")
	ctx := context.Background()
	a, _ := f.svc.RequestDeposit(ctx, Request{UserID: "u1", Amount: "100", Method: "bank"})
	f.svc.RequestDeposit(ctx, Request{UserID: "u1", Amount: "200", Method: "bank"})
	f.svc.Approve(ctx, a.ID, "")

	pending, err := f.svc.List(ctx, db.TxPending)
	if err != nil || len(pending) != 1 || pending[0].Amount != "200" {
		t.Fatalf("pending=%+v err=%v", pending, err)
	}
	if _, err := f.svc.List(ctx, "bogus"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v", err)
	}
	mine, _ := f.svc.ListByUser(ctx, "u1")
	if len(mine) != 2 {
		t.Fatalf("ListByUser=%d", len(mine))
	}
}
