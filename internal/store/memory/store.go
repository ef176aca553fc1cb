// Package memory is an in-process store.Store. Transactions run one at a time against a
// private copy of the state that replaces the shared state only on success.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/store"
)

type refKey struct {
	accountID int64
	reference string
}

type state struct {
	accounts      map[int64]models.Account
	emails        map[string]int64
	entries       []models.LedgerEntry
	refs          map[refKey]int
	calls         map[string]models.CallSession
	callOrder     []string
	nextAccountID int64
	nextCallID    int64
}

func newState() *state {
	return &state{
		accounts: make(map[int64]models.Account),
		emails:   make(map[string]int64),
		refs:     make(map[refKey]int),
		calls:    make(map[string]models.CallSession),
	}
}

func (s *state) clone() *state {
	c := &state{
		accounts:      make(map[int64]models.Account, len(s.accounts)),
		emails:        make(map[string]int64, len(s.emails)),
		entries:       append([]models.LedgerEntry(nil), s.entries...),
		refs:          make(map[refKey]int, len(s.refs)),
		calls:         make(map[string]models.CallSession, len(s.calls)),
		callOrder:     append([]string(nil), s.callOrder...),
		nextAccountID: s.nextAccountID,
		nextCallID:    s.nextCallID,
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.refs {
		c.refs[k] = v
	}
	for k, v := range s.calls {
		c.calls[k] = v
	}
	return c
}

type Store struct {
	mu  sync.RWMutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{st: s.st.clone(), now: s.now}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *Store) GetAccount(_ context.Context, accountID int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.st.accounts[accountID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListAccountIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.st.accounts))
	for id := int64(1); id <= s.st.nextAccountID; id++ {
		if _, ok := s.st.accounts[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) ListAccounts(_ context.Context, filter models.AccountFilter) ([]models.Account, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Account
	for id := s.st.nextAccountID; id >= 1; id-- {
		a, ok := s.st.accounts[id]
		if !ok {
			continue
		}
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		matched = append(matched, a)
	}
	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (s *Store) SetAccountRole(_ context.Context, accountID int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.st.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	a.Role = role
	a.UpdatedAt = s.now()
	s.st.accounts[accountID] = a
	return nil
}

func (s *Store) SetAccountActive(_ context.Context, accountID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.st.accounts[accountID]
	if !ok {
		return models.ErrNotFound
	}
	a.Active = active
	a.UpdatedAt = s.now()
	s.st.accounts[accountID] = a
	return nil
}

func (s *Store) TotalBalance(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, a := range s.st.accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}

func (s *Store) ListEntries(_ context.Context, accountID int64, filter models.EntryFilter) ([]models.LedgerEntry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.LedgerEntry
	for i := len(s.st.entries) - 1; i >= 0; i-- {
		e := s.st.entries[i]
		if e.AccountID != accountID {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		matched = append(matched, e)
	}
	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (s *Store) EntriesAscending(_ context.Context, accountID int64) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range s.st.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) SumEntries(_ context.Context, accountID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range s.st.entries {
		if e.AccountID == accountID {
			sum = sum.Add(e.Type.Signed(e.Amount))
		}
	}
	return sum, nil
}

func (s *Store) GetCall(_ context.Context, externalCallID string) (*models.CallSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.st.calls[externalCallID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListCalls(_ context.Context, accountID int64, filter models.CallFilter) ([]models.CallSession, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.CallSession
	for i := len(s.st.callOrder) - 1; i >= 0; i-- {
		c := s.st.calls[s.st.callOrder[i]]
		if c.AccountID != accountID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		matched = append(matched, c)
	}
	return paginate(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

func paginate[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
