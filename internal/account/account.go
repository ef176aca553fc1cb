// Package account owns the stored balance and active flag of each account.
// Balances move only through AdjustBalance inside a settlement transaction.
package account

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

type Store struct {
	db store.Store
}

func New(db store.Store) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, accountID int64) (*models.Account, error) {
	return s.db.GetAccount(ctx, accountID)
}

func (s *Store) GetBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	a, err := s.db.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// Lock takes the account row lock for the rest of tx. Idempotency probes that guard a
// balance change must run after it, so concurrent writers of the same reference serialize.
func (s *Store) Lock(ctx context.Context, tx store.Tx, accountID int64) (*models.Account, error) {
	return tx.LockAccount(ctx, accountID)
}

// AdjustBalance locks the account row, applies delta and returns the new balance.
// A non-nil expectedPrior must match the balance read under the lock.
func (s *Store) AdjustBalance(ctx context.Context, tx store.Tx, accountID int64, delta decimal.Decimal, expectedPrior *decimal.Decimal) (decimal.Decimal, error) {
	a, err := s.Lock(ctx, tx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return s.AdjustLocked(ctx, tx, a, delta, expectedPrior)
}

// AdjustLocked is AdjustBalance for an account already returned by Lock in the same tx.
func (s *Store) AdjustLocked(ctx context.Context, tx store.Tx, a *models.Account, delta decimal.Decimal, expectedPrior *decimal.Decimal) (decimal.Decimal, error) {
	if expectedPrior != nil && !a.Balance.Equal(*expectedPrior) {
		return decimal.Zero, models.ErrBalanceConflict
	}

	newBalance := a.Balance.Add(delta)
	if newBalance.IsNegative() {
		return decimal.Zero, models.ErrInsufficientFunds
	}

	if err := tx.UpdateBalance(ctx, a.ID, newBalance, a.Version); err != nil {
		return decimal.Zero, err
	}
	a.Balance = newBalance
	a.Version++
	return newBalance, nil
}

// SetActive soft-disables or re-enables an account. Accounts are never deleted.
func (s *Store) SetActive(ctx context.Context, accountID int64, active bool) error {
	return s.db.SetAccountActive(ctx, accountID, active)
}

// TotalBalance sums every stored balance for the admin overview.
func (s *Store) TotalBalance(ctx context.Context) (decimal.Decimal, error) {
	return s.db.TotalBalance(ctx)
}

// Page is one page of accounts for the admin list.
type Page struct {
	Users      []models.Account  `json:"users"`
	Pagination models.Pagination `json:"pagination"`
}

// List returns accounts newest first. roleFilter accepts admin, user, ALL or empty.
func (s *Store) List(ctx context.Context, page, pageSize int, roleFilter string) (*Page, error) {
	role, ok := models.ParseRole(roleFilter)
	if !ok {
		return nil, models.ErrInvalidFilter
	}
	page, size := models.NormalizePage(page, pageSize)

	accounts, total, err := s.db.ListAccounts(ctx, models.AccountFilter{Role: role, Limit: size, Offset: (page - 1) * size})
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return &Page{Users: accounts, Pagination: models.NewPagination(page, size, total)}, nil
}

// SetRole changes an account's role to admin or user.
func (s *Store) SetRole(ctx context.Context, accountID int64, role string) error {
	r, ok := models.ParseRole(role)
	if !ok || r == "" {
		return models.ErrInvalidRole
	}
	return s.db.SetAccountRole(ctx, accountID, r)
}

func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	return s.db.ListAccountIDs(ctx)
}
