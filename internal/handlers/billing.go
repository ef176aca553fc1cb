package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/account"
	"github.com/voicepass/backend/internal/ledger"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/settlement"
)

type BillingHandler struct {
	accounts  *account.Store
	ledger    *ledger.Ledger
	engine    *settlement.Engine
	minTopup  decimal.Decimal
	currency  string
	validator *ValidationHelper
}

func NewBillingHandler(accounts *account.Store, l *ledger.Ledger, engine *settlement.Engine, minTopup decimal.Decimal, currency string) *BillingHandler {
	return &BillingHandler{
		accounts:  accounts,
		ledger:    l,
		engine:    engine,
		minTopup:  minTopup,
		currency:  currency,
		validator: NewValidationHelper(),
	}
}

type BalanceResponse struct {
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	LastUpdated *string         `json:"lastUpdated"`
}

// Balance returns the caller's balance
// @Summary Get balance
// @Description Stored balance of the authenticated account. Admins may pass view=admin for the sum over all accounts.
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param view query string false "admin for the aggregate view"
// @Success 200 {object} BalanceResponse
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /billing/balance [get]
func (h *BillingHandler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	if id.IsAdmin() && r.URL.Query().Get("view") == "admin" {
		total, err := h.accounts.TotalBalance(r.Context())
		if err != nil {
			sendError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, BalanceResponse{Balance: total, Currency: h.currency})
		return
	}

	a, err := h.accounts.Get(r.Context(), id.AccountID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	updated := a.UpdatedAt.UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: a.Balance, Currency: h.currency, LastUpdated: &updated})
}

// Me returns the caller's account
// @Summary Current account
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Account
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /me [get]
func (h *BillingHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	a, err := h.accounts.Get(r.Context(), id.AccountID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Transactions lists ledger history
// @Summary List transactions
// @Description Ledger entries of the authenticated account, newest first
// @Tags Billing
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, max 100"
// @Param type query string false "CREDIT, DEBIT or ALL"
// @Success 200 {object} ledger.Page
// @Failure 400 {object} ErrorResponse
// @Router /billing/transactions [get]
func (h *BillingHandler) Transactions(w http.ResponseWriter, r *http.Request) {
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

	result, err := h.ledger.History(r.Context(), id.AccountID, page, limit, r.URL.Query().Get("type"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type TopupRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty" validate:"omitempty,max=64"`
}

type TopupResponse struct {
	Success     bool                `json:"success"`
	Balance     decimal.Decimal     `json:"balance"`
	Amount      decimal.Decimal     `json:"amount"`
	Transaction *models.LedgerEntry `json:"transaction"`
}

// Topup credits the caller's account
// @Summary Top up balance
// @Description Credits the authenticated account. A client reference makes retries idempotent.
// @Tags Billing
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TopupRequest true "Top-up request"
// @Success 200 {object} TopupResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /billing/topup [post]
func (h *BillingHandler) Topup(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	var req TopupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if req.Amount.LessThan(h.minTopup) {
		SendErrorResponse(w, "Minimum top-up amount is "+h.minTopup.String()+" "+h.currency, http.StatusBadRequest, nil)
		return
	}

	ref := req.Reference
	if ref == "" {
		ref = "TOP-" + uuid.NewString()
	} else {
		ref = "TOP-" + ref
	}

	entry, err := h.engine.CreditAccount(r.Context(), id.AccountID, req.Amount, "Credit top-up", ref)
	if err != nil {
		sendError(w, r, err)
		return
	}

	slog.Info("account topped up", "account_id", id.AccountID, "amount", req.Amount.String(), "reference", ref)
	writeJSON(w, http.StatusOK, TopupResponse{
		Success:     true,
		Balance:     entry.BalanceAfter,
		Amount:      entry.Amount,
		Transaction: entry,
	})
}
