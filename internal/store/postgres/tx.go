package postgres

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
)

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) InsertAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Role == "" {
		account.Role = models.RoleUser
	}

	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO accounts (email, name, role, balance, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		RETURNING id`,
		account.Email, account.Name, account.Role, account.Balance, account.Active, now,
	).Scan(&account.ID)
	if err != nil {
		return mapErr("insert account", err, models.ErrAlreadyExists)
	}

	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

func (t *pgTx) LockAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, accountID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapErr("lock account", err, nil)
	}
	return a, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, accountID int64, newBalance decimal.Decimal, version int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now().UTC(), accountID, version)
	if err != nil {
		return mapErr("update balance", err, nil)
	}
	return requireOneRow("update balance", result, models.ErrBalanceConflict)
}

func (t *pgTx) InsertEntry(ctx context.Context, entry *models.LedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.AccountID, string(entry.Type), entry.Amount, entry.BalanceBefore,
		entry.BalanceAfter, entry.Description, entry.Reference, entry.CreatedAt)
	return mapErr("insert entry", err, models.ErrDuplicateReference)
}

func (t *pgTx) EntryByReference(ctx context.Context, accountID int64, reference string) (*models.LedgerEntry, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = $1 AND reference = $2`, accountID, reference)
	e, err := scanEntry(row)
	if err != nil {
		return nil, mapErr("entry by reference", err, nil)
	}
	return e, nil
}

func (t *pgTx) InsertCall(ctx context.Context, call *models.CallSession) error {
	now := time.Now().UTC()
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO call_sessions (account_id, external_call_id, phone_number, otp, status, cost, duration, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id`,
		call.AccountID, call.ExternalCallID, call.PhoneNumber, call.OTP, string(call.Status), call.Cost, call.Duration, now,
	).Scan(&call.ID)
	if err != nil {
		return mapErr("insert call", err, models.ErrAlreadyExists)
	}
	call.CreatedAt = now
	call.UpdatedAt = now
	return nil
}

func (t *pgTx) LockCall(ctx context.Context, externalCallID string) (*models.CallSession, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+callColumns+` FROM call_sessions WHERE external_call_id = $1 FOR UPDATE`, externalCallID)
	c, err := scanCall(row)
	if err != nil {
		return nil, mapErr("lock call", err, nil)
	}
	return c, nil
}

func (t *pgTx) UpdateCall(ctx context.Context, call *models.CallSession) error {
	call.UpdatedAt = time.Now().UTC()
	result, err := t.tx.ExecContext(ctx, `
		UPDATE call_sessions
		SET status = $1, cost = $2, duration = $3, start_time = $4, ring_time = $5, answer_time = $6,
		    end_time = $7, settled_at = $8, settlement_note = $9, updated_at = $10
		WHERE external_call_id = $11`,
		string(call.Status), call.Cost, call.Duration, call.StartTime, call.RingTime, call.AnswerTime,
		call.EndTime, call.SettledAt, call.SettlementNote, call.UpdatedAt, call.ExternalCallID)
	if err != nil {
		return mapErr("update call", err, nil)
	}
	return requireOneRow("update call", result, models.ErrNotFound)
}
