package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryCredit EntryType = "CREDIT"
	EntryDebit  EntryType = "DEBIT"
)

// ParseEntryType accepts CREDIT/DEBIT in any case. Empty and ALL mean no filter.
func ParseEntryType(s string) (EntryType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ALL":
		return "", true
	case string(EntryCredit):
		return EntryCredit, true
	case string(EntryDebit):
		return EntryDebit, true
	}
	return "", false
}

// Signed returns amount as it contributes to the balance.
func (t EntryType) Signed(amount decimal.Decimal) decimal.Decimal {
	if t == EntryDebit {
		return amount.Neg()
	}
	return amount
}

type LedgerEntry struct {
	ID            string          `json:"id" db:"id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Type          EntryType       `json:"type" db:"entry_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"` // always positive
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after" db:"balance_after"`
	Description   string          `json:"description" db:"description"`
	Reference     string          `json:"reference" db:"reference"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// MoneyScale is the number of decimal places stored for amounts and balances.
const MoneyScale int32 = 4

// ValidAmount reports whether d is positive and fits MoneyScale without rounding.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(MoneyScale))
}

// EntryFilter selects a page of ledger history, newest first.
type EntryFilter struct {
	Type   EntryType
	Limit  int
	Offset int
}
