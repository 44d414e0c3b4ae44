package db

import (
	"strings"
	"time"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Trade statuses, directions and results.
const (
	TradeActive    = "active"
	TradeCompleted = "completed"
	TradeCancelled = "cancelled"

	DirectionUp   = "up"
	DirectionDown = "down"

	ResultWin  = "win"
	ResultLose = "lose"
)

// Transaction types, methods and statuses.
const (
	TxDeposit  = "deposit"
	TxWithdraw = "withdraw"

	MethodBank      = "bank"
	MethodPromptPay = "promptpay"

	TxPending  = "pending"
	TxApproved = "approved"
	TxRejected = "rejected"
	TxFrozen   = "frozen"
)

// User represents an application user. Balance is a decimal string.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	Balance      string    `json:"balance"`
	DisplayName  string    `json:"displayName,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BankAccount is a payout destination owned by one user.
type BankAccount struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	BankName      string    `json:"bankName"`
	AccountNumber string    `json:"accountNumber"`
	AccountName   string    `json:"accountName"`
	IsDefault     bool      `json:"isDefault"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Trade is a timed up/down position. Amount, EntryPrice and ProfitPercentage are decimal strings;
// Result and PredeterminedResult are empty until set.
type Trade struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"userId"`
	CryptoID            string     `json:"cryptoId"`
	EntryPrice          string     `json:"entryPrice"`
	Amount              string     `json:"amount"`
	Direction           string     `json:"direction"`
	Duration            int        `json:"duration"`
	ProfitPercentage    string     `json:"profitPercentage"`
	Status              string     `json:"status"`
	Result              string     `json:"result,omitempty"`
	PredeterminedResult string     `json:"predeterminedResult,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	EndTime             *time.Time `json:"endTime,omitempty"`
}

// Expiry returns when the trade becomes eligible for settlement.
// ok is false when CreatedAt could not be parsed or Duration is not positive.
func (t Trade) Expiry() (time.Time, bool) {
	if t.CreatedAt.IsZero() || t.Duration <= 0 {
		return time.Time{}, false
	}
	return t.CreatedAt.Add(time.Duration(t.Duration) * time.Second), true
}

// Transaction is a deposit or withdrawal request.
type Transaction struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Type         string    `json:"type"`
	Amount       string    `json:"amount"`
	Method       string    `json:"method"`
	Status       string    `json:"status"`
	BankAccount  string    `json:"bankAccountId,omitempty"`
	PaymentProof string    `json:"paymentProof,omitempty"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// formatTime renders timestamps the way they are stored.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts the stored layout plus the sqlite CURRENT_TIMESTAMP forms.
// Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
