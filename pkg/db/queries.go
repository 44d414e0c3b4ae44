package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUserIDRequired = errors.New("user_id is required for data isolation")
	ErrNotFound       = errors.New("record not found")
	ErrConflict       = errors.New("record already exists")
)

// ----------------------------------------
// Users
// ----------------------------------------

const userColumns = `id, username, email, password_hash, role, balance,
	display_name, phone, avatar, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var (
		u                User
		created, updated string
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Balance,
		&u.DisplayName, &u.Phone, &u.Avatar, &created, &updated)
	if err != nil {
		return User{}, err
	}
	u.CreatedAt = parseTime(created)
	u.UpdatedAt = parseTime(updated)
	return u, nil
}

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Balance,
		u.DisplayName, u.Phone, u.Avatar, formatTime(u.CreatedAt), formatTime(u.UpdatedAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (d *Database) getUserWhere(ctx context.Context, where string, arg any) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// GetUser returns the user with id or ErrNotFound.
func (d *Database) GetUser(ctx context.Context, id string) (*User, error) {
	return d.getUserWhere(ctx, "id = ?", id)
}

// GetUserByUsername returns the user with username or ErrNotFound.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return d.getUserWhere(ctx, "username = ?", username)
}

// GetUserByEmail returns the user with email or ErrNotFound.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return d.getUserWhere(ctx, "email = ?", email)
}

// ListUsers returns every user, newest first.
func (d *Database) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserBalance overwrites the stored balance.
func (d *Database) UpdateUserBalance(ctx context.Context, id, balance string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE users SET balance = ?, updated_at = ? WHERE id = ?
	`, balance, formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return requireAffected(res)
}

// UpdateUser stores role and profile fields. Balance and password are left untouched.
func (d *Database) UpdateUser(ctx context.Context, u User) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE users
		SET email = ?, role = ?, display_name = ?, phone = ?, avatar = ?, updated_at = ?
		WHERE id = ?
	`, u.Email, u.Role, u.DisplayName, u.Phone, u.Avatar, formatTime(time.Now()), u.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Trades
// ----------------------------------------

const tradeColumns = `id, user_id, crypto_id, entry_price, amount, direction, duration,
	profit_percentage, status, result, predetermined_result, created_at, end_time`

func scanTrade(row scanner) (Trade, error) {
	var (
		t                Trade
		created, endTime string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.CryptoID, &t.EntryPrice, &t.Amount, &t.Direction, &t.Duration,
		&t.ProfitPercentage, &t.Status, &t.Result, &t.PredeterminedResult, &created, &endTime)
	if err != nil {
		return Trade{}, err
	}
	t.CreatedAt = parseTime(created)
	if end := parseTime(endTime); !end.IsZero() {
		t.EndTime = &end
	}
	return t, nil
}

func (d *Database) queryTrades(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// CreateTrade inserts a new trade row.
func (d *Database) CreateTrade(ctx context.Context, t Trade) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	endTime := ""
	if t.EndTime != nil {
		endTime = formatTime(*t.EndTime)
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.CryptoID, t.EntryPrice, t.Amount, t.Direction, t.Duration,
		t.ProfitPercentage, t.Status, t.Result, t.PredeterminedResult, formatTime(t.CreatedAt), endTime)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// GetTrade returns the trade with id or ErrNotFound.
func (d *Database) GetTrade(ctx context.Context, id string) (*Trade, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query trade: %w", err)
	}
	return &t, nil
}

// ListTradesByUser returns a user's trades, newest first.
func (d *Database) ListTradesByUser(ctx context.Context, userID string) ([]Trade, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListTrades returns every trade, newest first.
func (d *Database) ListTrades(ctx context.Context) ([]Trade, error) {
	return d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY created_at DESC`)
}

// ListActiveTrades returns trades still awaiting settlement, oldest first.
func (d *Database) ListActiveTrades(ctx context.Context) ([]Trade, error) {
	return d.queryTrades(ctx, `SELECT `+tradeColumns+` FROM trades WHERE status = ? ORDER BY created_at ASC`, TradeActive)
}

// CompleteTrade moves an active trade to completed. It reports false when the trade
// was not active anymore or its predetermined result changed since the caller read it,
// so callers can detect a concurrent settlement or override.
func (d *Database) CompleteTrade(ctx context.Context, id, predetermined, result string, endTime time.Time) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, result = ?, end_time = ?
		WHERE id = ? AND status = ? AND predetermined_result = ?
	`, TradeCompleted, result, formatTime(endTime), id, TradeActive, predetermined)
	if err != nil {
		return false, fmt.Errorf("complete trade: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReopenTrade reverts a completed trade to active, clearing its result.
func (d *Database) ReopenTrade(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, result = '', end_time = ''
		WHERE id = ? AND status = ?
	`, TradeActive, id, TradeCompleted)
	if err != nil {
		return fmt.Errorf("reopen trade: %w", err)
	}
	return requireAffected(res)
}

// SetPredeterminedResult overwrites the override of an active trade; an empty result clears it.
// It reports false when no active trade with that id exists.
func (d *Database) SetPredeterminedResult(ctx context.Context, id, result string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET predetermined_result = ?
		WHERE id = ? AND status = ?
	`, result, id, TradeActive)
	if err != nil {
		return false, fmt.Errorf("set predetermined result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ----------------------------------------
// Transactions
// ----------------------------------------

const txColumns = `id, user_id, type, amount, method, status, bank_account_id,
	payment_proof, note, created_at, updated_at`

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t                Transaction
		created, updated string
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.Method, &t.Status, &t.BankAccount,
		&t.PaymentProof, &t.Note, &created, &updated)
	if err != nil {
		return Transaction{}, err
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

func (d *Database) queryTransactions(ctx context.Context, query string, args ...any) ([]Transaction, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// CreateTransaction inserts a deposit/withdraw request.
func (d *Database) CreateTransaction(ctx context.Context, t Transaction) error {
	if t.UserID == "" {
		return ErrUserIDRequired
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO transactions (`+txColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.UserID, t.Type, t.Amount, t.Method, t.Status, t.BankAccount,
		t.PaymentProof, t.Note, formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetTransaction returns the transaction with id or ErrNotFound.
func (d *Database) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction: %w", err)
	}
	return &t, nil
}

// ListTransactionsByUser returns a user's transactions, newest first.
func (d *Database) ListTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	return d.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// ListTransactions returns all transactions, optionally filtered by status.
func (d *Database) ListTransactions(ctx context.Context, status string) ([]Transaction, error) {
	if status == "" {
		return d.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions ORDER BY created_at DESC`)
	}
	return d.queryTransactions(ctx, `SELECT `+txColumns+` FROM transactions WHERE status = ? ORDER BY created_at DESC`, status)
}

// UpdateTransactionStatus moves a transaction from one status to another.
// It reports false when the stored status no longer equals from.
func (d *Database) UpdateTransactionStatus(ctx context.Context, id, from, to, note string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE transactions SET status = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, to, note, formatTime(time.Now()), id, from)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ----------------------------------------
// Bank accounts
// ----------------------------------------

const bankColumns = `id, user_id, bank_name, account_number, account_name, is_default, created_at`

func scanBankAccount(row scanner) (BankAccount, error) {
	var (
		a       BankAccount
		created string
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.BankName, &a.AccountNumber, &a.AccountName, &a.IsDefault, &created); err != nil {
		return BankAccount{}, err
	}
	a.CreatedAt = parseTime(created)
	return a, nil
}

// CreateBankAccount inserts an account; when it is the default, other defaults are cleared.
func (d *Database) CreateBankAccount(ctx context.Context, a BankAccount) error {
	if a.UserID == "" {
		return ErrUserIDRequired
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if a.IsDefault {
			if _, err := tx.ExecContext(ctx, `UPDATE bank_accounts SET is_default = 0 WHERE user_id = ?`, a.UserID); err != nil {
				return fmt.Errorf("clear defaults: %w", err)
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bank_accounts (`+bankColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.UserID, a.BankName, a.AccountNumber, a.AccountName, a.IsDefault, formatTime(a.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert bank account: %w", err)
		}
		return nil
	})
}

// GetBankAccount returns the account with id or ErrNotFound.
func (d *Database) GetBankAccount(ctx context.Context, id string) (*BankAccount, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+bankColumns+` FROM bank_accounts WHERE id = ?`, id)
	a, err := scanBankAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query bank account: %w", err)
	}
	return &a, nil
}

// ListBankAccountsByUser returns a user's accounts, oldest first.
func (d *Database) ListBankAccountsByUser(ctx context.Context, userID string) ([]BankAccount, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT `+bankColumns+` FROM bank_accounts WHERE user_id = ? ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query bank accounts: %w", err)
	}
	defer rows.Close()

	var accounts []BankAccount
	for rows.Next() {
		a, err := scanBankAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bank account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// SetDefaultBankAccount marks id as the user's only default account.
func (d *Database) SetDefaultBankAccount(ctx context.Context, userID, id string) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE bank_accounts SET is_default = 0 WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("clear defaults: %w", err)
		}
		res, err := tx.ExecContext(ctx, `UPDATE bank_accounts SET is_default = 1 WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("set default: %w", err)
		}
		return requireAffected(res)
	})
}

// DeleteBankAccount removes an account row.
func (d *Database) DeleteBankAccount(ctx context.Context, id string) error {
	res, err := d.DB.ExecContext(ctx, `DELETE FROM bank_accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bank account: %w", err)
	}
	return requireAffected(res)
}

// ----------------------------------------
// Settings
// ----------------------------------------

// GetSetting returns a setting value; ok is false when the key is absent.
func (d *Database) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := d.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query setting: %w", err)
	}
	return value, true, nil
}

// SaveSetting upserts a setting (last writer wins).
func (d *Database) SaveSetting(ctx context.Context, key, value string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("save setting: %w", err)
	}
	return nil
}

// ListSettings returns every setting.
func (d *Database) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ----------------------------------------
// helpers
// ----------------------------------------

func (d *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
