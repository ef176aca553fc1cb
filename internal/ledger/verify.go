package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChainBreak is an entry that does not follow from its predecessor.
type ChainBreak struct {
	EntryID        string          `json:"entry_id"`
	Reference      string          `json:"reference"`
	ExpectedBefore decimal.Decimal `json:"expected_before"`
	ActualBefore   decimal.Decimal `json:"actual_before"`
	Reason         string          `json:"reason"`
}

type Report struct {
	AccountID      int64           `json:"account_id"`
	StoredBalance  decimal.Decimal `json:"stored_balance"`
	DerivedBalance decimal.Decimal `json:"derived_balance"`
	EntryCount     int             `json:"entry_count"`
	Breaks         []ChainBreak    `json:"breaks,omitempty"`
	Balanced       bool            `json:"balanced"`
}

// Verify compares the stored balance with the ledger and walks the entry chain oldest first.
// A report with Balanced false means a write was lost or applied outside settlement.
func (l *Ledger) Verify(ctx context.Context, accountID int64) (*Report, error) {
	account, err := l.db.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	entries, err := l.db.EntriesAscending(ctx, accountID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		AccountID:     accountID,
		StoredBalance: account.Balance,
		EntryCount:    len(entries),
	}

	derived, prevAfter := decimal.Zero, decimal.Zero
	for _, e := range entries {
		switch {
		case !e.BalanceBefore.Equal(prevAfter):
			report.Breaks = append(report.Breaks, ChainBreak{
				EntryID: e.ID, Reference: e.Reference,
				ExpectedBefore: prevAfter, ActualBefore: e.BalanceBefore,
				Reason: "balance_before does not match previous balance_after",
			})
		case !e.BalanceBefore.Add(e.Type.Signed(e.Amount)).Equal(e.BalanceAfter):
			report.Breaks = append(report.Breaks, ChainBreak{
				EntryID: e.ID, Reference: e.Reference,
				ExpectedBefore: prevAfter, ActualBefore: e.BalanceBefore,
				Reason: "balance_after does not equal balance_before plus amount",
			})
		}
		derived = derived.Add(e.Type.Signed(e.Amount))
		prevAfter = e.BalanceAfter
	}

	report.DerivedBalance = derived
	report.Balanced = len(report.Breaks) == 0 && derived.Equal(account.Balance)
	return report, nil
}
