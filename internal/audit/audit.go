// Package audit records balance-affecting and anomalous ledger events as structured log
// records. Every record carries event_type and the audit group so it can be routed apart
// from operational logs.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventCredit            = "CREDIT"
	EventDebit             = "DEBIT"
	EventSettlementAnomaly = "SETTLEMENT_ANOMALY"
	EventStatusConflict    = "STATUS_CONFLICT"
	EventAccountStatus     = "ACCOUNT_STATUS"
	EventAccountRole       = "ACCOUNT_ROLE"
	EventAccountOpened     = "ACCOUNT_OPENED"
)

type Event struct {
	Timestamp time.Time
	EventType string
	Reference string
	AccountID int64
	Amount    decimal.Decimal
	Status    string
	Details   map[string]string
}

type Logger struct {
	log *slog.Logger
}

// New returns a Logger writing through l, or through slog.Default when l is nil.
func New(l *slog.Logger) *Logger {
	if l == nil {
		l = slog.Default()
	}
	return &Logger{log: l}
}

func (a *Logger) LogCredit(ctx context.Context, accountID int64, reference string, amount, balanceAfter decimal.Decimal) {
	a.Log(ctx, Event{
		EventType: EventCredit,
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"balance_after": balanceAfter.String()},
	})
}

func (a *Logger) LogDebit(ctx context.Context, accountID int64, reference string, amount, balanceAfter decimal.Decimal) {
	a.Log(ctx, Event{
		EventType: EventDebit,
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"balance_after": balanceAfter.String()},
	})
}

// LogAnomaly records a billable call that could not be charged.
func (a *Logger) LogAnomaly(ctx context.Context, accountID int64, callID string, owed decimal.Decimal, reason string) {
	a.Log(ctx, Event{
		EventType: EventSettlementAnomaly,
		Reference: callID,
		AccountID: accountID,
		Amount:    owed,
		Status:    "UNSETTLED",
		Details:   map[string]string{"reason": reason},
	})
}

func (a *Logger) LogStatusConflict(ctx context.Context, accountID int64, callID, current, incoming string) {
	a.Log(ctx, Event{
		EventType: EventStatusConflict,
		Reference: callID,
		AccountID: accountID,
		Status:    "REJECTED",
		Details:   map[string]string{"current": current, "incoming": incoming},
	})
}

func (a *Logger) LogOperation(ctx context.Context, accountID int64, operation, details string) {
	a.Log(ctx, Event{
		EventType: operation,
		AccountID: accountID,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	attrs := []any{
		slog.Time("timestamp", event.Timestamp),
		slog.String("event_type", event.EventType),
		slog.Int64("account_id", event.AccountID),
		slog.String("status", event.Status),
	}
	if event.Reference != "" {
		attrs = append(attrs, slog.String("reference", event.Reference))
	}
	if !event.Amount.IsZero() {
		attrs = append(attrs, slog.String("amount", event.Amount.String()))
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	level := slog.LevelInfo
	if event.EventType == EventSettlementAnomaly || event.EventType == EventStatusConflict {
		level = slog.LevelWarn
	}
	a.log.LogAttrs(ctx, level, "AUDIT", slog.Group("audit", attrs...))
}
