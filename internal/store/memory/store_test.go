package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

func seedAccount(t *testing.T, s *Store, email string) *models.Account {
	t.Helper()
	a := &models.Account{Email: email, Active: true}
	require.NoError(t, s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.InsertAccount(ctx, a)
	}))
	return a
}

func TestWithTx_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedAccount(t, s, "A@VoicePass.io")
	assert.Equal(t, "a@voicepass.io", a.Email)
	assert.Equal(t, models.RoleUser, a.Role)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.UpdateBalance(ctx, a.ID, decimal.NewFromInt(50), a.Version))
		require.NoError(t, tx.InsertEntry(ctx, &models.LedgerEntry{
			AccountID: a.ID, Type: models.EntryCredit, Amount: decimal.NewFromInt(50), Reference: "r1",
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
	entries, total, err := s.ListEntries(ctx, a.ID, models.EntryFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, entries)
}

func TestTx_Constraints(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedAccount(t, s, "a@voicepass.io")

	t.Run("duplicate email", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertAccount(ctx, &models.Account{Email: "A@voicepass.io"})
		})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})

	t.Run("stale version", func(t *testing.T) {
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.UpdateBalance(ctx, a.ID, decimal.NewFromInt(1), a.Version+5)
		})
		assert.ErrorIs(t, err, models.ErrBalanceConflict)
	})

	t.Run("duplicate reference", func(t *testing.T) {
		entry := func() *models.LedgerEntry {
			return &models.LedgerEntry{AccountID: a.ID, Type: models.EntryCredit, Amount: decimal.NewFromInt(1), Reference: "ref"}
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, entry())
		}))
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, entry())
		})
		assert.ErrorIs(t, err, models.ErrDuplicateReference)
	})

	t.Run("duplicate call id", func(t *testing.T) {
		call := func() *models.CallSession {
			return &models.CallSession{AccountID: a.ID, ExternalCallID: "c1", Status: models.CallInitiated}
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertCall(ctx, call())
		}))
		err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertCall(ctx, call())
		})
		assert.ErrorIs(t, err, models.ErrAlreadyExists)
	})
}

func TestListEntries_NewestFirstPaged(t *testing.T) {
	s := New()
	ctx := context.Background()
	a := seedAccount(t, s, "a@voicepass.io")

	refs := []string{"r1", "r2", "r3", "r4", "r5"}
	for i, ref := range refs {
		typ := models.EntryCredit
		if i%2 == 1 {
			typ = models.EntryDebit
		}
		require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertEntry(ctx, &models.LedgerEntry{AccountID: a.ID, Type: typ, Amount: decimal.NewFromInt(2), Reference: ref})
		}))
	}

	page, total, err := s.ListEntries(ctx, a.ID, models.EntryFilter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "r3", page[0].Reference)
	assert.Equal(t, "r2", page[1].Reference)

	debits, total, err := s.ListEntries(ctx, a.ID, models.EntryFilter{Type: models.EntryDebit})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "r4", debits[0].Reference)

	sum, err := s.SumEntries(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.NewFromInt(2)))

	past, _, err := s.ListEntries(ctx, a.ID, models.EntryFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestListAccounts_RoleFilterAndSetRole(t *testing.T) {
	s := New()
	ctx := context.Background()
	first := seedAccount(t, s, "one@voicepass.io")
	seedAccount(t, s, "two@voicepass.io")
	third := seedAccount(t, s, "three@voicepass.io")

	require.NoError(t, s.SetAccountRole(ctx, first.ID, models.RoleAdmin))
	assert.ErrorIs(t, s.SetAccountRole(ctx, 404, models.RoleAdmin), models.ErrNotFound)

	all, total, err := s.ListAccounts(ctx, models.AccountFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, all, 2)
	assert.Equal(t, third.ID, all[0].ID)

	admins, total, err := s.ListAccounts(ctx, models.AccountFilter{Role: models.RoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, admins, 1)
	assert.Equal(t, "one@voicepass.io", admins[0].Email)
}
