// Package calls tracks voice-OTP call sessions from initiation to a terminal status and hands
// billable completions to settlement in the same transaction as the status change.
package calls

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/account"
	"github.com/voicepass/backend/internal/audit"
	"github.com/voicepass/backend/internal/metrics"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/settlement"
	"github.com/voicepass/backend/internal/store"
)

type VoiceClient interface {
	SendVoiceOTP(ctx context.Context, phone, otp string) (callID string, err error)
}

type FieldCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type Deps struct {
	Store    store.Store
	Accounts *account.Store
	Engine   *settlement.Engine
	Cipher   FieldCipher
	Voice    VoiceClient
	Limiter  RateLimiter // optional
	Audit    *audit.Logger
	Metrics  *metrics.Metrics
}

type Tracker struct {
	db       store.Store
	accounts *account.Store
	engine   *settlement.Engine
	cipher   FieldCipher
	voice    VoiceClient
	limiter  RateLimiter
	audit    *audit.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewTracker(d Deps) *Tracker {
	if d.Audit == nil {
		d.Audit = audit.New(nil)
	}
	return &Tracker{
		db:       d.Store,
		accounts: d.Accounts,
		engine:   d.Engine,
		cipher:   d.Cipher,
		voice:    d.Voice,
		limiter:  d.Limiter,
		audit:    d.Audit,
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateParams struct {
	AccountID      int64
	PhoneNumber    string
	OTP            string
	ExternalCallID string
}

type WebhookEvent struct {
	ExternalCallID string
	Status         models.CallStatus
	StartTime      *time.Time
	RingTime       *time.Time
	AnswerTime     *time.Time
	EndTime        *time.Time
	Duration       int
}

type ListParams struct {
	Page     int
	PageSize int
	Status   string
	Search   string
}

type Page struct {
	Logs       []models.CallSession `json:"logs"`
	Pagination models.Pagination    `json:"pagination"`
}

// Create records a new INITIATED session. Phone number and OTP are encrypted before storage.
func (t *Tracker) Create(ctx context.Context, p CreateParams) (*models.CallSession, error) {
	if p.ExternalCallID == "" {
		return nil, errors.New("external call id required")
	}
	phone, err := t.cipher.Encrypt(p.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("encrypt phone number: %w", err)
	}
	otp, err := t.cipher.Encrypt(p.OTP)
	if err != nil {
		return nil, fmt.Errorf("encrypt otp: %w", err)
	}

	call := &models.CallSession{
		AccountID:      p.AccountID,
		ExternalCallID: p.ExternalCallID,
		PhoneNumber:    phone,
		OTP:            otp,
		Status:         models.CallInitiated,
		Cost:           decimal.Zero,
	}
	err = t.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCall(ctx, call)
	})
	if err != nil {
		return nil, err
	}

	call.PhoneNumber = p.PhoneNumber
	call.OTP = ""
	return call, nil
}

// Initiate checks the account can pay for one call, places it and records the session.
// The charge itself happens when the provider reports the call answered.
func (t *Tracker) Initiate(ctx context.Context, accountID int64, phoneNumber string) (*models.CallSession, error) {
	a, err := t.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		t.metrics.CallInitiated("disabled")
		return nil, models.ErrAccountDisabled
	}
	if a.Balance.LessThan(t.engine.CallRate()) {
		t.metrics.CallInitiated("insufficient_funds")
		return nil, models.ErrInsufficientFunds
	}
	if t.limiter != nil {
		if err := t.limiter.Check(ctx, accountID); err != nil {
			t.metrics.CallInitiated("rate_limited")
			return nil, err
		}
	}

	otp, err := generateOTP()
	if err != nil {
		return nil, err
	}

	callID, err := t.voice.SendVoiceOTP(ctx, phoneNumber, otp)
	if err != nil {
		t.metrics.CallInitiated("provider_error")
		slog.Error("voice provider rejected call", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrUpstream, err)
	}
	if t.limiter != nil {
		t.limiter.Record(ctx, accountID)
	}

	call, err := t.Create(ctx, CreateParams{
		AccountID:      accountID,
		PhoneNumber:    phoneNumber,
		OTP:            otp,
		ExternalCallID: callID,
	})
	if err != nil {
		return nil, err
	}

	t.metrics.CallInitiated("placed")
	slog.Info("voice otp call placed", "account_id", accountID, "call_id", callID)
	return call, nil
}

// ApplyWebhook moves a session to the reported status. Reaching COMPLETED settles the call
// exactly once; replays of the current status are no-ops except for an unpaid completion,
// which retries the charge.
func (t *Tracker) ApplyWebhook(ctx context.Context, ev WebhookEvent) (*models.CallSession, error) {
	if ev.ExternalCallID == "" {
		return nil, models.ErrNotFound
	}
	if ev.Status == "" {
		return nil, models.ErrInvalidStatus
	}

	release, err := t.engine.LockCall(ctx, ev.ExternalCallID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		call      *models.CallSession
		previous  models.CallStatus
		entry     *models.LedgerEntry
		charged   bool
		shortfall bool
		changed   bool
	)
	err = t.db.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		call, err = tx.LockCall(ctx, ev.ExternalCallID)
		if err != nil {
			return err
		}
		previous = call.Status

		if !call.Status.CanTransition(ev.Status) {
			return fmt.Errorf("%w: %s to %s", models.ErrInvalidTransition, call.Status, ev.Status)
		}
		if call.Status == ev.Status && call.Status.IsTerminal() && (!call.Status.IsBillable() || call.Settled()) {
			return nil
		}

		t.applyEvent(call, ev)
		changed = true

		if call.Status.IsBillable() && !call.Settled() {
			entry, charged, err = t.engine.SettleLocked(ctx, tx, call)
			switch {
			case errors.Is(err, models.ErrInsufficientFunds):
				shortfall = true
				call.Cost = decimal.Zero
				call.SettlementNote = models.ErrInsufficientFunds.Error()
			case err != nil:
				return err
			}
		}
		return tx.UpdateCall(ctx, call)
	})

	switch {
	case errors.Is(err, models.ErrInvalidTransition):
		t.metrics.Webhook("conflict")
		t.audit.LogStatusConflict(ctx, call.AccountID, call.ExternalCallID, string(previous), string(ev.Status))
		slog.Warn("conflicting call status ignored", "call_id", ev.ExternalCallID, "current", previous, "incoming", ev.Status)
		return nil, err
	case err != nil:
		t.metrics.Webhook("error")
		if call != nil && call.Status.IsBillable() {
			t.engine.ChargeFailed(ctx, call, err)
		}
		return nil, err
	}

	switch {
	case shortfall:
		t.metrics.Webhook("unsettled")
		t.engine.ChargeFailed(ctx, call, models.ErrInsufficientFunds)
	case entry != nil:
		t.metrics.Webhook("settled")
		t.engine.ChargeCommitted(ctx, call, entry, charged)
	case changed:
		t.metrics.Webhook("updated")
	default:
		t.metrics.Webhook("replay")
	}

	out, rerr := t.reveal(*call)
	if rerr != nil {
		return nil, rerr
	}
	if shortfall {
		return out, models.ErrInsufficientFunds
	}
	return out, nil
}

func (t *Tracker) applyEvent(call *models.CallSession, ev WebhookEvent) {
	call.Status = ev.Status
	if ev.StartTime != nil {
		call.StartTime = ev.StartTime
	}
	if ev.RingTime != nil {
		call.RingTime = ev.RingTime
	}
	if ev.AnswerTime != nil {
		call.AnswerTime = ev.AnswerTime
	}
	if ev.EndTime != nil {
		call.EndTime = ev.EndTime
	}
	if ev.Duration > 0 {
		call.Duration = ev.Duration
	}
	if call.Status.IsTerminal() && call.EndTime == nil {
		now := t.now()
		call.EndTime = &now
	}
}

// Get returns one session with the phone number decrypted.
func (t *Tracker) Get(ctx context.Context, externalCallID string) (*models.CallSession, error) {
	call, err := t.db.GetCall(ctx, externalCallID)
	if err != nil {
		return nil, err
	}
	return t.reveal(*call)
}

// List returns an account's sessions newest first. Search matches a substring of the
// decrypted phone number or the call id, so a search reads every session of the account.
func (t *Tracker) List(ctx context.Context, accountID int64, p ListParams) (*Page, error) {
	var status models.CallStatus
	if strings.TrimSpace(p.Status) != "" {
		s, err := models.ParseCallStatus(p.Status)
		if err != nil {
			return nil, models.ErrInvalidFilter
		}
		status = s
	}
	page, size := models.NormalizePage(p.Page, p.PageSize)
	search := strings.TrimSpace(p.Search)

	filter := models.CallFilter{Status: status, Limit: size, Offset: (page - 1) * size}
	if search != "" {
		filter.Limit, filter.Offset = 0, 0
	}

	rows, total, err := t.db.ListCalls(ctx, accountID, filter)
	if err != nil {
		return nil, err
	}

	logs := make([]models.CallSession, 0, len(rows))
	for _, row := range rows {
		c, err := t.reveal(row)
		if err != nil {
			return nil, err
		}
		if search != "" && !strings.Contains(c.PhoneNumber, search) && !strings.Contains(c.ExternalCallID, search) {
			continue
		}
		logs = append(logs, *c)
	}

	if search != "" {
		total = len(logs)
		start := min((page-1)*size, len(logs))
		end := min(start+size, len(logs))
		logs = logs[start:end]
	}
	return &Page{Logs: logs, Pagination: models.NewPagination(page, size, total)}, nil
}

// reveal decrypts the phone number for display and drops the OTP.
func (t *Tracker) reveal(c models.CallSession) (*models.CallSession, error) {
	phone, err := t.cipher.Decrypt(c.PhoneNumber)
	if err != nil {
		return nil, fmt.Errorf("decrypt phone number for call %s: %w", c.ExternalCallID, err)
	}
	c.PhoneNumber = phone
	c.OTP = ""
	return &c, nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
