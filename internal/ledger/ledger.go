// Package ledger is the append-only log of balance movements. Entries are never updated or
// deleted; each carries the balance before and after it so the history forms a checkable chain.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

type AppendParams struct {
	AccountID     int64
	Type          models.EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	Reference     string
}

type Page struct {
	Entries    []models.LedgerEntry `json:"transactions"`
	Pagination models.Pagination    `json:"pagination"`
}

type Ledger struct {
	db store.Store
}

func New(db store.Store) *Ledger {
	return &Ledger{db: db}
}

// Append writes one entry inside tx. Reusing a reference for the same posting (type, amount
// and balances) returns the stored entry; any other reuse fails with ErrDuplicateReference.
// A reuse with different balances means the caller already moved the balance again, so it
// must roll back rather than be treated as a replay.
func (l *Ledger) Append(ctx context.Context, tx store.Tx, p AppendParams) (*models.LedgerEntry, error) {
	if !models.ValidAmount(p.Amount) {
		return nil, models.ErrInvalidAmount
	}
	if p.Type != models.EntryCredit && p.Type != models.EntryDebit {
		return nil, models.ErrInvalidFilter
	}

	existing, err := l.Lookup(ctx, tx, p.AccountID, p.Reference)
	switch {
	case err == nil:
		if existing.Type == p.Type && existing.Amount.Equal(p.Amount) &&
			existing.BalanceBefore.Equal(p.BalanceBefore) && existing.BalanceAfter.Equal(p.BalanceAfter) {
			return existing, nil
		}
		return nil, models.ErrDuplicateReference
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	entry := &models.LedgerEntry{
		AccountID:     p.AccountID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: p.BalanceBefore,
		BalanceAfter:  p.BalanceAfter,
		Description:   p.Description,
		Reference:     p.Reference,
	}
	if err := tx.InsertEntry(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Lookup finds the entry written for reference, or ErrNotFound.
func (l *Ledger) Lookup(ctx context.Context, tx store.Tx, accountID int64, reference string) (*models.LedgerEntry, error) {
	return tx.EntryByReference(ctx, accountID, reference)
}

// History returns one page of entries, newest first. typeFilter accepts CREDIT, DEBIT,
// ALL or empty.
func (l *Ledger) History(ctx context.Context, accountID int64, page, pageSize int, typeFilter string) (*Page, error) {
	typ, ok := models.ParseEntryType(typeFilter)
	if !ok {
		return nil, models.ErrInvalidFilter
	}
	page, pageSize = models.NormalizePage(page, pageSize)

	entries, total, err := l.db.ListEntries(ctx, accountID, models.EntryFilter{
		Type:   typ,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	return &Page{Entries: entries, Pagination: models.NewPagination(page, pageSize, total)}, nil
}

// Reconcile derives the balance from the account's entries alone.
func (l *Ledger) Reconcile(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	if _, err := l.db.GetAccount(ctx, accountID); err != nil {
		return decimal.Zero, err
	}
	return l.db.SumEntries(ctx, accountID)
}
