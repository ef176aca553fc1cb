package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

var (
	accountCols = []string{"id", "email", "name", "role", "balance", "is_active", "version", "created_at", "updated_at"}
	entryCols   = []string{"id", "account_id", "entry_type", "amount", "balance_before", "balance_after", "description", "reference", "created_at"}
	callCols    = []string{"id", "account_id", "external_call_id", "phone_number", "otp", "status", "cost", "duration", "created_at",
		"start_time", "ring_time", "answer_time", "end_time", "settled_at", "settlement_note", "updated_at"}
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_WithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		s, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows(accountCols).
				AddRow(7, "a@voicepass.io", "A", "user", "100.0000", true, 3, now, now))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, version = version \\+ 1, updated_at = \\$2 WHERE id = \\$3 AND version = \\$4").
			WithArgs(decimal.RequireFromString("96.5"), sqlmock.AnyArg(), int64(7), 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			a, err := tx.LockAccount(ctx, 7)
			if err != nil {
				return err
			}
			assert.True(t, a.Balance.Equal(decimal.NewFromInt(100)))
			assert.Equal(t, 3, a.Version)
			return tx.UpdateBalance(ctx, a.ID, a.Balance.Sub(decimal.RequireFromString("3.5")), a.Version)
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		s, mock := newMockStore(t)
		boom := errors.New("boom")

		mock.ExpectBegin()
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic lock failure", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts SET balance").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(7), 1).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.UpdateBalance(ctx, 7, decimal.NewFromInt(10), 1)
		})
		assert.ErrorIs(t, err, models.ErrBalanceConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing account", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs(int64(404)).
			WillReturnRows(sqlmock.NewRows(accountCols))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockAccount(ctx, 404)
			return err
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTx_InsertEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs(sqlmock.AnyArg(), int64(1), "DEBIT", decimal.RequireFromString("3.5"), decimal.NewFromInt(100),
				decimal.RequireFromString("96.5"), "Voice OTP call", "call-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		entry := &models.LedgerEntry{
			AccountID:     1,
			Type:          models.EntryDebit,
			Amount:        decimal.RequireFromString("3.5"),
			BalanceBefore: decimal.NewFromInt(100),
			BalanceAfter:  decimal.RequireFromString("96.5"),
			Description:   "Voice OTP call",
			Reference:     "call-1",
		}
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, entry)
		})
		require.NoError(t, err)
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.CreatedAt.IsZero())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to duplicate reference", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "ledger_entries_account_id_reference_key"})
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{AccountID: 1, Type: models.EntryCredit, Amount: decimal.NewFromInt(1), Reference: "dup"})
		})
		assert.ErrorIs(t, err, models.ErrDuplicateReference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other driver errors are storage errors", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{AccountID: 1, Type: models.EntryCredit, Amount: decimal.NewFromInt(1), Reference: "x"})
		})
		assert.ErrorIs(t, err, models.ErrStorage)
		assert.Contains(t, err.Error(), "insert entry")
	})
}

func TestTx_EntryByReference(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE account_id = \\$1 AND reference = \\$2").
		WithArgs(int64(1), "call-1").
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow("e1", 1, "DEBIT", "3.5000", "100.0000", "96.5000", "Voice OTP call", "call-1", now))
	mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE account_id = \\$1 AND reference = \\$2").
		WithArgs(int64(1), "missing").
		WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		e, err := tx.EntryByReference(ctx, 1, "call-1")
		require.NoError(t, err)
		assert.Equal(t, models.EntryDebit, e.Type)
		assert.True(t, e.BalanceAfter.Equal(decimal.RequireFromString("96.5")))

		_, err = tx.EntryByReference(ctx, 1, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
		return nil
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTx_Calls(t *testing.T) {
	ctx := context.Background()

	t.Run("insert duplicate external id", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery("INSERT INTO call_sessions").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "call_sessions_external_call_id_key"})
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertCall(ctx, &models.CallSession{AccountID: 1, ExternalCallID: "c1", Status: models.CallInitiated})
		})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("lock then settle", func(t *testing.T) {
		s, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM call_sessions WHERE external_call_id = \\$1 FOR UPDATE").
			WithArgs("c1").
			WillReturnRows(sqlmock.NewRows(callCols).
				AddRow(5, 1, "c1", "enc-phone", "enc-otp", "RINGING", "0", 0, now, now, now, nil, nil, nil, "", now))
		mock.ExpectExec("UPDATE call_sessions SET status = \\$1").
			WithArgs("COMPLETED", decimal.RequireFromString("3.5"), 42, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), "", sqlmock.AnyArg(), "c1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			c, err := tx.LockCall(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, models.CallRinging, c.Status)
			assert.NotNil(t, c.RingTime)
			assert.Nil(t, c.SettledAt)

			settled := time.Now()
			c.Status = models.CallCompleted
			c.Cost = decimal.RequireFromString("3.5")
			c.Duration = 42
			c.SettledAt = &settled
			return tx.UpdateCall(ctx, c)
		})
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Reads(t *testing.T) {
	ctx := context.Background()

	t.Run("list entries with type filter", func(t *testing.T) {
		s, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM ledger_entries WHERE account_id = \\$1 AND entry_type = \\$2").
			WithArgs(int64(1), "CREDIT").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE account_id = \\$1 AND entry_type = \\$2 ORDER BY seq DESC LIMIT \\$3 OFFSET \\$4").
			WithArgs(int64(1), "CREDIT", 2, 0).
			WillReturnRows(sqlmock.NewRows(entryCols).
				AddRow("e3", 1, "CREDIT", "50", "150", "200", "Top-up", "TOP-3", now).
				AddRow("e2", 1, "CREDIT", "50", "100", "150", "Top-up", "TOP-2", now))

		entries, total, err := s.ListEntries(ctx, 1, models.EntryFilter{Type: models.EntryCredit, Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, entries, 2)
		assert.Equal(t, "TOP-3", entries[0].Reference)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("sum entries", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(CASE WHEN entry_type = 'CREDIT' THEN amount ELSE -amount END\\), 0\\) FROM ledger_entries WHERE account_id = \\$1").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("96.5000"))

		sum, err := s.SumEntries(ctx, 1)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.RequireFromString("96.5")))
	})

	t.Run("total balance", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectQuery("SELECT COALESCE\\(SUM\\(balance\\), 0\\) FROM accounts").
			WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow("1200.5"))

		total, err := s.TotalBalance(ctx)
		require.NoError(t, err)
		assert.Equal(t, "1200.5", total.String())
	})

	t.Run("disable unknown account", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectExec("UPDATE accounts SET is_active = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs(false, int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.SetAccountActive(ctx, 9, false)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("list accounts by role", func(t *testing.T) {
		s, mock := newMockStore(t)
		now := time.Now()

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM accounts WHERE role = \\$1").
			WithArgs("admin").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE role = \\$1 ORDER BY id DESC LIMIT \\$2 OFFSET \\$3").
			WithArgs("admin", 1, 1).
			WillReturnRows(sqlmock.NewRows(accountCols).
				AddRow(1, "root@voicepass.io", "Root", "admin", "100.0000", true, 1, now, now))

		accounts, total, err := s.ListAccounts(ctx, models.AccountFilter{Role: models.RoleAdmin, Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, accounts, 1)
		assert.Equal(t, "root@voicepass.io", accounts[0].Email)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list all accounts", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM accounts WHERE TRUE").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE TRUE ORDER BY id DESC LIMIT \\$1 OFFSET \\$2").
			WithArgs(20, 0).
			WillReturnRows(sqlmock.NewRows(accountCols))

		accounts, total, err := s.ListAccounts(ctx, models.AccountFilter{Limit: 20})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.NotNil(t, accounts)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set role", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectExec("UPDATE accounts SET role = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("admin", int64(4)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts SET role = \\$1, updated_at = NOW\\(\\) WHERE id = \\$2").
			WithArgs("user", int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.NoError(t, s.SetAccountRole(ctx, 4, models.RoleAdmin))
		assert.ErrorIs(t, s.SetAccountRole(ctx, 99, models.RoleUser), models.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get call not found", func(t *testing.T) {
		s, mock := newMockStore(t)

		mock.ExpectQuery("SELECT (.+) FROM call_sessions WHERE external_call_id = \\$1").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(callCols))

		_, err := s.GetCall(ctx, "nope")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestMapErr_BalanceCheck(t *testing.T) {
	err := mapErr("update balance", &pq.Error{Code: "23514", Constraint: "accounts_balance_check"}, nil)
	assert.ErrorIs(t, err, models.ErrInsufficientFunds)

	err = mapErr("update balance", &pq.Error{Code: "23514", Constraint: "other"}, nil)
	assert.ErrorIs(t, err, models.ErrStorage)

	assert.NoError(t, mapErr("noop", nil, nil))
}
