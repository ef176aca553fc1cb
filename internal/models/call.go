package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// CallStatus is the closed set of call states shared by the tracker and settlement.
type CallStatus string

const (
	CallInitiated   CallStatus = "INITIATED"
	CallRinging     CallStatus = "RINGING"
	CallCompleted   CallStatus = "COMPLETED"
	CallFailed      CallStatus = "FAILED"
	CallNoAnswer    CallStatus = "NO_ANSWER"
	CallBusy        CallStatus = "BUSY"
	CallUnavailable CallStatus = "UNAVAILABLE"
)

var statusAliases = map[string]CallStatus{
	"INITIATED":   CallInitiated,
	"QUEUED":      CallInitiated,
	"RINGING":     CallRinging,
	"ANSWERED":    CallCompleted,
	"COMPLETED":   CallCompleted,
	"FAILED":      CallFailed,
	"NO_ANSWER":   CallNoAnswer,
	"NOANSWER":    CallNoAnswer,
	"BUSY":        CallBusy,
	"UNAVAILABLE": CallUnavailable,
}

// ParseCallStatus maps an external status string onto CallStatus.
// Matching ignores case and treats spaces and dashes as underscores.
func ParseCallStatus(s string) (CallStatus, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	if st, ok := statusAliases[key]; ok {
		return st, nil
	}
	return "", ErrInvalidStatus
}

func (s CallStatus) IsTerminal() bool {
	return s != CallInitiated && s != CallRinging && s != ""
}

// IsBillable reports whether the status is the charged success state.
func (s CallStatus) IsBillable() bool { return s == CallCompleted }

// CanTransition reports whether a session in s may move to next.
// Replaying the current status is always allowed; terminal states never move.
func (s CallStatus) CanTransition(next CallStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case CallInitiated:
		return next == CallRinging || next.IsTerminal()
	case CallRinging:
		return next.IsTerminal()
	}
	return false
}

// CallSession is one voice-OTP delivery attempt. PhoneNumber holds ciphertext in storage
// and plaintext only when returned by the tracker's read paths.
type CallSession struct {
	ID             int64           `json:"id" db:"id"`
	AccountID      int64           `json:"account_id" db:"account_id"`
	ExternalCallID string          `json:"call_id" db:"external_call_id"`
	PhoneNumber    string          `json:"phone_number" db:"phone_number"`
	OTP            string          `json:"-" db:"otp"`
	Status         CallStatus      `json:"status" db:"status"`
	Cost           decimal.Decimal `json:"cost" db:"cost"`
	Duration       int             `json:"duration" db:"duration"` // seconds
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	StartTime      *time.Time      `json:"start_time,omitempty" db:"start_time"`
	RingTime       *time.Time      `json:"ring_time,omitempty" db:"ring_time"`
	AnswerTime     *time.Time      `json:"answer_time,omitempty" db:"answer_time"`
	EndTime        *time.Time      `json:"end_time,omitempty" db:"end_time"`
	SettledAt      *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
	SettlementNote string          `json:"settlement_note,omitempty" db:"settlement_note"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Settled reports whether the one allowed charge has been applied.
func (c *CallSession) Settled() bool { return c.SettledAt != nil }

// CallFilter selects a page of call sessions, newest first.
type CallFilter struct {
	Status CallStatus
	Limit  int
	Offset int
}
