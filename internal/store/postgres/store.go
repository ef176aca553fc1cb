// Package postgres implements store.Store on PostgreSQL through database/sql and lib/pq.
// Account and call rows are locked with SELECT ... FOR UPDATE for the life of a transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

const (
	accountColumns = `id, email, name, role, balance, is_active, version, created_at, updated_at`
	entryColumns   = `id, account_id, entry_type, amount, balance_before, balance_after, description, reference, created_at`
	callColumns    = `id, account_id, external_call_id, phone_number, otp, status, cost, duration, created_at, start_time, ring_time, answer_time, end_time, settled_at, settlement_note, updated_at`
)

const (
	pqUniqueViolation = "23505"
	pqCheckViolation  = "23514"
)

type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Storage("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(ctx, &pgTx{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return models.Storage("commit", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapErr("get account", err, nil)
	}
	return a, nil
}

func (s *Store) ListAccountIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, models.Storage("list accounts", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, models.Storage("list accounts", err)
		}
		ids = append(ids, id)
	}
	return ids, models.Storage("list accounts", rows.Err())
}

func (s *Store) ListAccounts(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error) {
	where := `TRUE`
	var args []any
	if filter.Role != "" {
		where = `role = $1`
		args = append(args, filter.Role)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, models.Storage("count accounts", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		accountColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limitOrAll(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, models.Storage("list accounts", err)
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, models.Storage("list accounts", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, models.Storage("list accounts", err)
	}
	return accounts, total, nil
}

func (s *Store) SetAccountRole(ctx context.Context, accountID int64, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET role = $1, updated_at = NOW()
		WHERE id = $2`, role, accountID)
	if err != nil {
		return models.Storage("set account role", err)
	}
	return requireOneRow("set account role", result, models.ErrNotFound)
}

func (s *Store) SetAccountActive(ctx context.Context, accountID int64, active bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET is_active = $1, updated_at = NOW()
		WHERE id = $2`, active, accountID)
	if err != nil {
		return models.Storage("set account active", err)
	}
	return requireOneRow("set account active", result, models.ErrNotFound)
}

func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(balance), 0) FROM accounts`).Scan(&total); err != nil {
		return decimal.Zero, models.Storage("total balance", err)
	}
	return total, nil
}

func (s *Store) ListEntries(ctx context.Context, accountID int64, filter models.EntryFilter) ([]models.LedgerEntry, int, error) {
	where := `account_id = $1`
	args := []any{accountID}
	if filter.Type != "" {
		where += ` AND entry_type = $2`
		args = append(args, string(filter.Type))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, models.Storage("count entries", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY seq DESC LIMIT $%d OFFSET $%d`,
		entryColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limitOrAll(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, models.Storage("list entries", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, 0, models.Storage("list entries", err)
	}
	return entries, total, nil
}

func (s *Store) EntriesAscending(ctx context.Context, accountID int64) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 ORDER BY seq ASC`, accountID)
	if err != nil {
		return nil, models.Storage("entries ascending", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil {
		return nil, models.Storage("entries ascending", err)
	}
	return entries, nil
}

func (s *Store) SumEntries(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE account_id = $1`, accountID).Scan(&sum)
	if err != nil {
		return decimal.Zero, models.Storage("sum entries", err)
	}
	return sum, nil
}

func (s *Store) GetCall(ctx context.Context, externalCallID string) (*models.CallSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE external_call_id = $1`, externalCallID)
	c, err := scanCall(row)
	if err != nil {
		return nil, mapErr("get call", err, nil)
	}
	return c, nil
}

func (s *Store) ListCalls(ctx context.Context, accountID int64, filter models.CallFilter) ([]models.CallSession, int, error) {
	where := `account_id = $1`
	args := []any{accountID}
	if filter.Status != "" {
		where += ` AND status = $2`
		args = append(args, string(filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_sessions WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, models.Storage("count calls", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM call_sessions WHERE %s ORDER BY id DESC LIMIT $%d OFFSET $%d`,
		callColumns, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, limitOrAll(filter.Limit), filter.Offset)...)
	if err != nil {
		return nil, 0, models.Storage("list calls", err)
	}
	defer rows.Close()

	var calls []models.CallSession
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, 0, models.Storage("list calls", err)
		}
		calls = append(calls, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, models.Storage("list calls", err)
	}
	return calls, total, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return models.Storage("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.Balance, &a.Active, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanEntry(row rowScanner) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.AccountID, &e.Type, &e.Amount, &e.BalanceBefore, &e.BalanceAfter, &e.Description, &e.Reference, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanCall(row rowScanner) (*models.CallSession, error) {
	var c models.CallSession
	err := row.Scan(&c.ID, &c.AccountID, &c.ExternalCallID, &c.PhoneNumber, &c.OTP, &c.Status, &c.Cost, &c.Duration,
		&c.CreatedAt, &c.StartTime, &c.RingTime, &c.AnswerTime, &c.EndTime, &c.SettledAt, &c.SettlementNote, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// mapErr translates driver errors into the model taxonomy. onUnique is returned for unique
// violations; nil leaves them as storage errors.
func mapErr(op string, err error, onUnique error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			if onUnique != nil {
				return onUnique
			}
		case pqCheckViolation:
			if pqErr.Constraint == "accounts_balance_check" {
				return models.ErrInsufficientFunds
			}
		}
	}
	return models.Storage(op, err)
}

func requireOneRow(op string, result sql.Result, onZero error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return models.Storage(op, err)
	}
	if n == 0 {
		return onZero
	}
	return nil
}

// limitOrAll maps a zero limit to NULL, which Postgres reads as LIMIT ALL.
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}
