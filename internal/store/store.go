// Package store defines the persistence contract shared by the ledger, account and call
// components. Implementations live in the postgres and memory subpackages.
package store

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
)

// Store is the process-wide storage handle. It is constructed once at startup and passed to
// every component constructor.
type Store interface {
	// WithTx runs fn in a single unit of work. A non-nil error from fn rolls everything back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetAccount(ctx context.Context, accountID int64) (*models.Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	// ListAccounts returns one page of accounts, newest first, and the unpaged total.
	ListAccounts(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error)
	SetAccountActive(ctx context.Context, accountID int64, active bool) error
	SetAccountRole(ctx context.Context, accountID int64, role string) error
	TotalBalance(ctx context.Context) (decimal.Decimal, error)

	ListEntries(ctx context.Context, accountID int64, filter models.EntryFilter) ([]models.LedgerEntry, int, error)
	// EntriesAscending returns the full history oldest first, for chain verification.
	EntriesAscending(ctx context.Context, accountID int64) ([]models.LedgerEntry, error)
	SumEntries(ctx context.Context, accountID int64) (decimal.Decimal, error)

	GetCall(ctx context.Context, externalCallID string) (*models.CallSession, error)
	ListCalls(ctx context.Context, accountID int64, filter models.CallFilter) ([]models.CallSession, int, error)

	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write side. Lock methods hold the row until the surrounding WithTx returns.
type Tx interface {
	InsertAccount(ctx context.Context, account *models.Account) error
	LockAccount(ctx context.Context, accountID int64) (*models.Account, error)
	// UpdateBalance writes newBalance only if the row still carries version.
	UpdateBalance(ctx context.Context, accountID int64, newBalance decimal.Decimal, version int) error

	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error
	EntryByReference(ctx context.Context, accountID int64, reference string) (*models.LedgerEntry, error)

	InsertCall(ctx context.Context, call *models.CallSession) error
	LockCall(ctx context.Context, externalCallID string) (*models.CallSession, error)
	UpdateCall(ctx context.Context, call *models.CallSession) error
}
