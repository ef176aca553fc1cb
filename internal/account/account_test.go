package account

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
	"github.com/voicepass/backend/internal/store/memory"
)

func seed(t *testing.T, db *memory.Store, balance string) int64 {
	t.Helper()
	a := &models.Account{Email: "a@voicepass.io", Active: true, Balance: decimal.RequireFromString(balance)}
	require.NoError(t, db.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, a)
	}))
	return a.ID
}

func TestStore_AdjustBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("debit within balance", func(t *testing.T) {
		db := memory.New()
		s := New(db)
		id := seed(t, db, "100")

		var got decimal.Decimal
		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			var err error
			got, err = s.AdjustBalance(ctx, tx, id, decimal.RequireFromString("-3.5"), nil)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "96.5", got.String())

		balance, err := s.GetBalance(ctx, id)
		require.NoError(t, err)
		assert.True(t, balance.Equal(got))
	})

	t.Run("debit below zero", func(t *testing.T) {
		db := memory.New()
		s := New(db)
		id := seed(t, db, "2")

		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := s.AdjustBalance(ctx, tx, id, decimal.RequireFromString("-3.5"), nil)
			return err
		})
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		balance, err := s.GetBalance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "2", balance.String())
	})

	t.Run("exact balance reaches zero", func(t *testing.T) {
		db := memory.New()
		s := New(db)
		id := seed(t, db, "3.5")

		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := s.AdjustBalance(ctx, tx, id, decimal.RequireFromString("-3.5"), nil)
			return err
		})
		require.NoError(t, err)
	})

	t.Run("expected prior mismatch", func(t *testing.T) {
		db := memory.New()
		s := New(db)
		id := seed(t, db, "100")
		stale := decimal.NewFromInt(90)

		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := s.AdjustBalance(ctx, tx, id, decimal.NewFromInt(10), &stale)
			return err
		})
		assert.ErrorIs(t, err, models.ErrBalanceConflict)
	})

	t.Run("unknown account", func(t *testing.T) {
		db := memory.New()
		s := New(db)

		err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := s.AdjustBalance(ctx, tx, 99, decimal.NewFromInt(10), nil)
			return err
		})
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = s.GetBalance(ctx, 99)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestStore_SetActiveAndTotal(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	s := New(db)
	id := seed(t, db, "40")

	require.NoError(t, s.SetActive(ctx, id, false))
	a, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, a.Active)

	total, err := s.TotalBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "40", total.String())

	assert.ErrorIs(t, s.SetActive(ctx, 404, true), models.ErrNotFound)
}

func TestStore_AdjustLocked(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	s := New(db)
	id := seed(t, db, "10")

	err := db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		a, err := s.Lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := s.AdjustLocked(ctx, tx, a, decimal.NewFromInt(5), nil); err != nil {
			return err
		}
		// The locked copy tracks the write, so a second adjustment in the same tx succeeds.
		assert.Equal(t, "15", a.Balance.String())
		_, err = s.AdjustLocked(ctx, tx, a, decimal.NewFromInt(-15), nil)
		return err
	})
	require.NoError(t, err)

	bal, err := s.GetBalance(ctx, id)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestStore_ListAndSetRole(t *testing.T) {
	ctx := context.Background()
	db := memory.New()
	s := New(db)
	id := seed(t, db, "0")

	page, err := s.List(ctx, 0, 0, "ALL")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, models.DefaultPageSize, page.Pagination.Limit)

	admins, err := s.List(ctx, 1, 10, "admin")
	require.NoError(t, err)
	assert.NotNil(t, admins.Users)
	assert.Empty(t, admins.Users)

	_, err = s.List(ctx, 1, 10, "owner")
	assert.ErrorIs(t, err, models.ErrInvalidFilter)

	require.NoError(t, s.SetRole(ctx, id, "ADMIN"))
	a, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, a.Role)

	assert.ErrorIs(t, s.SetRole(ctx, id, "owner"), models.ErrInvalidRole)
	assert.ErrorIs(t, s.SetRole(ctx, id, ""), models.ErrInvalidRole)
	assert.ErrorIs(t, s.SetRole(ctx, 404, models.RoleUser), models.ErrNotFound)
}
