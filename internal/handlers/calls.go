package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/voicepass/backend/internal/calls"
	"github.com/voicepass/backend/internal/models"
)

const signatureHeader = "X-Webhook-Signature"

type CallsHandler struct {
	tracker       *calls.Tracker
	webhookSecret []byte
	validator     *ValidationHelper
}

func NewCallsHandler(tracker *calls.Tracker, webhookSecret string) *CallsHandler {
	return &CallsHandler{
		tracker:       tracker,
		webhookSecret: []byte(webhookSecret),
		validator:     NewValidationHelper(),
	}
}

type InitiateRequest struct {
	PhoneNumber string `json:"phoneNumber" validate:"required,e164"`
}

type InitiateResponse struct {
	Success bool   `json:"success"`
	CallID  string `json:"callId"`
	Message string `json:"message"`
}

// Initiate places a voice OTP call
// @Summary Initiate a call
// @Description Checks balance and rate limit, then asks the voice provider to read an OTP to the number
// @Tags Calls
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body InitiateRequest true "E.164 phone number"
// @Success 201 {object} InitiateResponse
// @Failure 402 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /calls/initiate [post]
func (h *CallsHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req InitiateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	session, err := h.tracker.Initiate(r.Context(), id.AccountID, req.PhoneNumber)
	if err != nil {
		sendError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, InitiateResponse{
		Success: true,
		CallID:  session.ExternalCallID,
		Message: "OTP call initiated",
	})
}

// Logs lists call sessions
// @Summary List call logs
// @Description Calls of the authenticated account, newest first. Search matches phone number or call id.
// @Tags Calls
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, max 100"
// @Param status query string false "Call status"
// @Param search query string false "Phone number or call id fragment"
// @Success 200 {object} calls.Page
// @Failure 400 {object} ErrorResponse
// @Router /calls/logs [get]
func (h *CallsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", models.DefaultPageSize)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := h.tracker.List(r.Context(), id.AccountID, calls.ListParams{
		Page:     page,
		PageSize: limit,
		Status:   q.Get("status"),
		Search:   q.Get("search"),
	})
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// WebhookPayload is the provider's status callback. Times may be RFC 3339 strings or unix
// seconds; call_time is the call duration in seconds.
type WebhookPayload struct {
	CallID     string      `json:"call_id"`
	Status     string      `json:"status"`
	StartTime  flexTime    `json:"start_time"`
	RingTime   flexTime    `json:"ring_time"`
	AnswerTime flexTime    `json:"answer_time"`
	EndTime    flexTime    `json:"end_time"`
	CallTime   flexSeconds `json:"call_time"`
}

type WebhookResponse struct {
	Success bool                `json:"success"`
	Call    *models.CallSession `json:"call,omitempty"`
}

// Webhook applies a provider status update
// @Summary Call status webhook
// @Description Moves the call to the reported status. COMPLETED settles the call exactly once; replays are no-ops.
// @Tags Calls
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string false "hex HMAC-SHA256 of the body"
// @Param request body WebhookPayload true "Status update"
// @Success 200 {object} WebhookResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 402 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /calls/webhook [post]
func (h *CallsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if len(h.webhookSecret) > 0 && !h.validSignature(body, r.Header.Get(signatureHeader)) {
		slog.Warn("webhook signature rejected", "remote", r.RemoteAddr)
		SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	}

	// The provider may add fields, so unknown keys are tolerated here.
	var payload WebhookPayload
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&payload); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if strings.TrimSpace(payload.CallID) == "" {
		SendErrorResponse(w, "call_id is required", http.StatusBadRequest, nil)
		return
	}
	status, err := models.ParseCallStatus(payload.Status)
	if err != nil {
		sendError(w, r, err)
		return
	}

	session, err := h.tracker.ApplyWebhook(r.Context(), calls.WebhookEvent{
		ExternalCallID: strings.TrimSpace(payload.CallID),
		Status:         status,
		StartTime:      payload.StartTime.ptr(),
		RingTime:       payload.RingTime.ptr(),
		AnswerTime:     payload.AnswerTime.ptr(),
		EndTime:        payload.EndTime.ptr(),
		Duration:       int(payload.CallTime),
	})
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			SendErrorResponse(w, "Call not found", http.StatusNotFound, nil)
			return
		}
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Success: true, Call: session})
}

// validSignature accepts the hex digest with or without a "sha256=" prefix.
func (h *CallsHandler) validSignature(body []byte, header string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(header), "sha256="))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.webhookSecret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign returns the signature header value for body. Exposed for providers and tests.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

type flexTime struct {
	t *time.Time
}

func (f flexTime) ptr() *time.Time { return f.t }

func (f *flexTime) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		s, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
			t := time.Unix(secs, 0).UTC()
			f.t = &t
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid time %q", s)
		}
		t = t.UTC()
		f.t = &t
		return nil
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid time %s", raw)
	}
	t := time.Unix(int64(secs), 0).UTC()
	f.t = &t
	return nil
}

type flexSeconds int

func (f *flexSeconds) UnmarshalJSON(b []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if raw == "" || raw == "null" {
		return nil
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("invalid call_time %s", raw)
	}
	*f = flexSeconds(n)
	return nil
}
