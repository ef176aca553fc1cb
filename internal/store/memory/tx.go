package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
)

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) InsertAccount(_ context.Context, account *models.Account) error {
	email := strings.ToLower(strings.TrimSpace(account.Email))
	if _, taken := t.st.emails[email]; taken {
		return models.ErrAlreadyExists
	}
	t.st.nextAccountID++
	now := t.now()
	account.ID = t.st.nextAccountID
	account.Email = email
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now
	t.st.accounts[account.ID] = *account
	t.st.emails[email] = account.ID
	return nil
}

func (t *memTx) LockAccount(_ context.Context, accountID int64) (*models.Account, error) {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (t *memTx) UpdateBalance(_ context.Context, accountID int64, newBalance decimal.Decimal, version int) error {
	a, ok := t.st.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	if a.Version != version {
		return models.ErrBalanceConflict
	}
	a.Balance = newBalance
	a.Version++
	a.UpdatedAt = t.now()
	t.st.accounts[accountID] = a
	return nil
}

func (t *memTx) InsertEntry(_ context.Context, entry *models.LedgerEntry) error {
	key := refKey{accountID: entry.AccountID, reference: entry.Reference}
	if _, dup := t.st.refs[key]; dup {
		return models.ErrDuplicateReference
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = t.now()
	}
	t.st.entries = append(t.st.entries, *entry)
	t.st.refs[key] = len(t.st.entries) - 1
	return nil
}

func (t *memTx) EntryByReference(_ context.Context, accountID int64, reference string) (*models.LedgerEntry, error) {
	i, ok := t.st.refs[refKey{accountID: accountID, reference: reference}]
	if !ok {
		return nil, models.ErrNotFound
	}
	e := t.st.entries[i]
	return &e, nil
}

func (t *memTx) InsertCall(_ context.Context, call *models.CallSession) error {
	if _, dup := t.st.calls[call.ExternalCallID]; dup {
		return models.ErrAlreadyExists
	}
	t.st.nextCallID++
	now := t.now()
	call.ID = t.st.nextCallID
	call.CreatedAt = now
	call.UpdatedAt = now
	t.st.calls[call.ExternalCallID] = *call
	t.st.callOrder = append(t.st.callOrder, call.ExternalCallID)
	return nil
}

func (t *memTx) LockCall(_ context.Context, externalCallID string) (*models.CallSession, error) {
	c, ok := t.st.calls[externalCallID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (t *memTx) UpdateCall(_ context.Context, call *models.CallSession) error {
	if _, ok := t.st.calls[call.ExternalCallID]; !ok {
		return models.ErrNotFound
	}
	call.UpdatedAt = t.now()
	t.st.calls[call.ExternalCallID] = *call
	return nil
}
