// Package settlement is the only writer of balances and ledger entries. Every action runs in
// one store transaction so the balance change and its entry commit or roll back together.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/account"
	"github.com/voicepass/backend/internal/audit"
	"github.com/voicepass/backend/internal/ledger"
	"github.com/voicepass/backend/internal/metrics"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

type Config struct {
	CallRate     decimal.Decimal
	WelcomeBonus decimal.Decimal
}

func DefaultConfig() Config {
	return Config{
		CallRate:     decimal.RequireFromString("3.5"),
		WelcomeBonus: decimal.NewFromInt(100),
	}
}

type Engine struct {
	db       store.Store
	accounts *account.Store
	ledger   *ledger.Ledger
	locker   Locker
	audit    *audit.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

func NewEngine(db store.Store, accounts *account.Store, l *ledger.Ledger, locker Locker, auditor *audit.Logger, m *metrics.Metrics, cfg Config) *Engine {
	if locker == nil {
		locker = NewLocalLocker()
	}
	if auditor == nil {
		auditor = audit.New(nil)
	}
	return &Engine{
		db:       db,
		accounts: accounts,
		ledger:   l,
		locker:   locker,
		audit:    auditor,
		metrics:  m,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CallRate is the flat charge for one billable call.
func (e *Engine) CallRate() decimal.Decimal { return e.cfg.CallRate }

// LockCall takes the cross-instance settlement lock for one call.
func (e *Engine) LockCall(ctx context.Context, externalCallID string) (func(), error) {
	return e.locker.Acquire(ctx, LockKey(externalCallID))
}

// ChargeForCall settles a billable call. A call that is already settled returns its existing
// entry without charging again.
func (e *Engine) ChargeForCall(ctx context.Context, session *models.CallSession) (*models.LedgerEntry, error) {
	release, err := e.LockCall(ctx, session.ExternalCallID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		entry   *models.LedgerEntry
		charged bool
		call    *models.CallSession
	)
	err = e.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		call, err = tx.LockCall(ctx, session.ExternalCallID)
		if err != nil {
			return err
		}
		if !call.Status.IsBillable() {
			return fmt.Errorf("%w: call %s is %s", models.ErrInvalidTransition, call.ExternalCallID, call.Status)
		}

		entry, charged, err = e.SettleLocked(ctx, tx, call)
		if err != nil {
			return err
		}
		return tx.UpdateCall(ctx, call)
	})
	if err != nil {
		e.ChargeFailed(ctx, session, err)
		return nil, err
	}

	e.ChargeCommitted(ctx, call, entry, charged)
	*session = *call
	return entry, nil
}

// SettleLocked charges call inside tx. The caller holds the call row lock and persists call
// afterwards; on success call carries the cost and settled_at. charged is false when the
// call had already been settled.
func (e *Engine) SettleLocked(ctx context.Context, tx store.Tx, call *models.CallSession) (entry *models.LedgerEntry, charged bool, err error) {
	rate := e.cfg.CallRate
	acct, err := e.accounts.Lock(ctx, tx, call.AccountID)
	if err != nil {
		return nil, false, err
	}

	existing, err := e.ledger.Lookup(ctx, tx, call.AccountID, call.ExternalCallID)
	switch {
	case err == nil:
		// A settled call keeps the cost it was charged even if the rate changed since.
		matches := existing.Amount.Equal(rate) || (call.Settled() && existing.Amount.Equal(call.Cost))
		if existing.Type != models.EntryDebit || !matches {
			return nil, false, fmt.Errorf("%w: call %s", models.ErrDuplicateReference, call.ExternalCallID)
		}
		// The entry exists; make sure the session reflects it.
		if call.SettledAt == nil {
			settled := existing.CreatedAt
			call.SettledAt = &settled
		}
		call.Cost = existing.Amount
		call.SettlementNote = ""
		return existing, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, err
	}

	after, err := e.accounts.AdjustLocked(ctx, tx, acct, rate.Neg(), nil)
	if err != nil {
		return nil, false, err
	}

	entry, err = e.ledger.Append(ctx, tx, ledger.AppendParams{
		AccountID:     call.AccountID,
		Type:          models.EntryDebit,
		Amount:        rate,
		BalanceBefore: after.Add(rate),
		BalanceAfter:  after,
		Description:   "Voice OTP call",
		Reference:     call.ExternalCallID,
	})
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	call.Cost = rate
	call.SettledAt = &now
	call.SettlementNote = ""
	return entry, true, nil
}

// ChargeCommitted records a committed settlement.
func (e *Engine) ChargeCommitted(ctx context.Context, call *models.CallSession, entry *models.LedgerEntry, charged bool) {
	if !charged {
		e.metrics.Settlement(metrics.OutcomeAlreadySettled)
		slog.Debug("call already settled", "call_id", call.ExternalCallID, "entry_id", entry.ID)
		return
	}
	e.metrics.Settlement(metrics.OutcomeCharged)
	e.metrics.LedgerEntry(string(models.EntryDebit), entry.Amount.InexactFloat64())
	e.audit.LogDebit(ctx, entry.AccountID, entry.Reference, entry.Amount, entry.BalanceAfter)
	slog.Info("call settled", "call_id", call.ExternalCallID, "account_id", call.AccountID, "cost", entry.Amount.String(), "balance", entry.BalanceAfter.String())
}

// ChargeFailed records a settlement that did not commit. Insufficient funds on a billable call
// is an anomaly: the call happened and the charge is still owed.
func (e *Engine) ChargeFailed(ctx context.Context, call *models.CallSession, err error) {
	if errors.Is(err, models.ErrInsufficientFunds) {
		e.metrics.Settlement(metrics.OutcomeInsufficientFunds)
		e.audit.LogAnomaly(ctx, call.AccountID, call.ExternalCallID, e.cfg.CallRate, err.Error())
		slog.Warn("settlement anomaly: balance below call rate", "call_id", call.ExternalCallID, "account_id", call.AccountID)
		return
	}
	e.metrics.Settlement(metrics.OutcomeError)
	slog.Error("call settlement failed", "call_id", call.ExternalCallID, "account_id", call.AccountID, "error", err)
}

// CreditAccount adds funds. An empty reference gets a generated CREDIT-<uuid> reference;
// repeating a reference with the same amount returns the first entry.
func (e *Engine) CreditAccount(ctx context.Context, accountID int64, amount decimal.Decimal, description, reference string) (*models.LedgerEntry, error) {
	if !models.ValidAmount(amount) {
		return nil, models.ErrInvalidAmount
	}
	if reference == "" {
		reference = "CREDIT-" + uuid.NewString()
	}

	var (
		entry   *models.LedgerEntry
		created bool
	)
	err := e.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		entry, created, err = e.credit(ctx, tx, accountID, amount, description, reference)
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		e.creditCommitted(ctx, entry)
	}
	return entry, nil
}

// credit locks the account before probing the reference, so a concurrent writer of the same
// reference is seen here once its transaction commits.
func (e *Engine) credit(ctx context.Context, tx store.Tx, accountID int64, amount decimal.Decimal, description, reference string) (*models.LedgerEntry, bool, error) {
	acct, err := e.accounts.Lock(ctx, tx, accountID)
	if err != nil {
		return nil, false, err
	}

	existing, err := e.ledger.Lookup(ctx, tx, accountID, reference)
	switch {
	case err == nil:
		if existing.Type != models.EntryCredit || !existing.Amount.Equal(amount) {
			return nil, false, models.ErrDuplicateReference
		}
		return existing, false, nil
	case !errors.Is(err, models.ErrNotFound):
		return nil, false, err
	}

	after, err := e.accounts.AdjustLocked(ctx, tx, acct, amount, nil)
	if err != nil {
		return nil, false, err
	}

	entry, err := e.ledger.Append(ctx, tx, ledger.AppendParams{
		AccountID:     accountID,
		Type:          models.EntryCredit,
		Amount:        amount,
		BalanceBefore: after.Sub(amount),
		BalanceAfter:  after,
		Description:   description,
		Reference:     reference,
	})
	if err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

func (e *Engine) creditCommitted(ctx context.Context, entry *models.LedgerEntry) {
	e.metrics.LedgerEntry(string(models.EntryCredit), entry.Amount.InexactFloat64())
	e.audit.LogCredit(ctx, entry.AccountID, entry.Reference, entry.Amount, entry.BalanceAfter)
}

// OpenAccount creates an account together with its welcome credit. With a zero welcome bonus
// the account opens empty and no entry is written.
func (e *Engine) OpenAccount(ctx context.Context, req models.NewAccount) (*models.Account, *models.LedgerEntry, error) {
	acct := &models.Account{
		Email:  req.Email,
		Name:   req.Name,
		Role:   req.Role,
		Active: true,
	}

	var entry *models.LedgerEntry
	err := e.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		if !e.cfg.WelcomeBonus.IsPositive() {
			return nil
		}

		var err error
		entry, _, err = e.credit(ctx, tx, acct.ID, e.cfg.WelcomeBonus, "Welcome bonus", fmt.Sprintf("WELCOME-%d", acct.ID))
		if err != nil {
			return err
		}
		acct.Balance = entry.BalanceAfter
		acct.Version++
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	e.audit.LogOperation(ctx, acct.ID, audit.EventAccountOpened, acct.Email)
	if entry != nil {
		e.creditCommitted(ctx, entry)
	}
	return acct, entry, nil
}

// SetAccountActive toggles an account and records who did it.
func (e *Engine) SetAccountActive(ctx context.Context, actorID, accountID int64, active bool) error {
	if err := e.accounts.SetActive(ctx, accountID, active); err != nil {
		return err
	}
	e.audit.LogOperation(ctx, accountID, audit.EventAccountStatus,
		fmt.Sprintf("active=%t by=%d", active, actorID))
	return nil
}

// SetAccountRole changes an account's role and records who did it.
func (e *Engine) SetAccountRole(ctx context.Context, actorID, accountID int64, role string) error {
	if err := e.accounts.SetRole(ctx, accountID, role); err != nil {
		return err
	}
	e.audit.LogOperation(ctx, accountID, audit.EventAccountRole,
		fmt.Sprintf("role=%s by=%d", strings.ToLower(strings.TrimSpace(role)), actorID))
	return nil
}
