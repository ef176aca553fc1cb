package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/voicepass/backend/internal/account"
	"github.com/voicepass/backend/internal/ledger"
	"github.com/voicepass/backend/internal/metrics"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/settlement"
)

type AdminHandler struct {
	accounts  *account.Store
	ledger    *ledger.Ledger
	engine    *settlement.Engine
	metrics   *metrics.Metrics
	currency  string
	validator *ValidationHelper
}

func NewAdminHandler(accounts *account.Store, l *ledger.Ledger, engine *settlement.Engine, m *metrics.Metrics, currency string) *AdminHandler {
	return &AdminHandler{
		accounts:  accounts,
		ledger:    l,
		engine:    engine,
		metrics:   m,
		currency:  currency,
		validator: NewValidationHelper(),
	}
}

type CreateAccountResponse struct {
	Account *models.Account     `json:"account"`
	Welcome *models.LedgerEntry `json:"welcome,omitempty"`
}

// CreateAccount opens an account with its welcome bonus
// @Summary Open account
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.NewAccount true "Account"
// @Success 201 {object} CreateAccountResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /admin/accounts [post]
func (h *AdminHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.NewAccount
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	acct, welcome, err := h.engine.OpenAccount(r.Context(), req)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateAccountResponse{Account: acct, Welcome: welcome})
}

type AdminTopupRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty" validate:"max=200"`
}

// Topup funds an account
// @Summary Admin top-up
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body AdminTopupRequest true "Amount"
// @Success 200 {object} TopupResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{id}/topup [post]
func (h *AdminHandler) Topup(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	admin, ok := identity(w, r)
	if !ok {
		return
	}
	var req AdminTopupRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	desc := req.Description
	if desc == "" {
		desc = "Admin top-up"
	}

	entry, err := h.engine.CreditAccount(r.Context(), accountID, req.Amount, desc, "ADMIN-TOPUP-"+uuid.NewString())
	if err != nil {
		sendError(w, r, err)
		return
	}

	slog.Info("admin top-up", "admin_id", admin.AccountID, "account_id", accountID, "amount", req.Amount.String())
	writeJSON(w, http.StatusOK, TopupResponse{
		Success:     true,
		Balance:     entry.BalanceAfter,
		Amount:      entry.Amount,
		Transaction: entry,
	})
}

type StatusRequest struct {
	Active *bool `json:"active" validate:"required"`
}

// SetStatus enables or disables an account
// @Summary Set account status
// @Description Disabled accounts cannot place calls. Balances and ledger history are kept.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body StatusRequest true "Status"
// @Success 200 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{id}/status [put]
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	admin, ok := identity(w, r)
	if !ok {
		return
	}
	var req StatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if accountID == admin.AccountID && !*req.Active {
		SendErrorResponse(w, "Cannot disable your own account", http.StatusBadRequest, nil)
		return
	}

	if err := h.engine.SetAccountActive(r.Context(), admin.AccountID, accountID, *req.Active); err != nil {
		sendError(w, r, err)
		return
	}
	acct, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ListAccounts pages through accounts
// @Summary List accounts
// @Description Accounts newest first, optionally filtered by role
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page, from 1"
// @Param limit query int false "Page size, max 100"
// @Param role query string false "admin, user or ALL"
// @Success 200 {object} account.Page
// @Failure 400 {object} ErrorResponse
// @Router /admin/accounts [get]
func (h *AdminHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", models.DefaultPageSize)
	if !ok {
		return
	}

	result, err := h.accounts.List(r.Context(), page, limit, r.URL.Query().Get("role"))
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type RoleRequest struct {
	Role string `json:"role" validate:"required,oneof=admin user"`
}

// SetRole promotes or demotes an account
// @Summary Set account role
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Param request body RoleRequest true "Role"
// @Success 200 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{id}/role [patch]
func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	admin, ok := identity(w, r)
	if !ok {
		return
	}
	var req RoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}
	if accountID == admin.AccountID {
		SendErrorResponse(w, "Cannot change your own role", http.StatusBadRequest, nil)
		return
	}

	if err := h.engine.SetAccountRole(r.Context(), admin.AccountID, accountID, req.Role); err != nil {
		sendError(w, r, err)
		return
	}
	acct, err := h.accounts.Get(r.Context(), accountID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// Reconcile checks an account against its ledger
// @Summary Reconcile account
// @Description Compares the stored balance with the sum of ledger entries and walks the entry chain
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path int true "Account ID"
// @Success 200 {object} ledger.Report
// @Failure 404 {object} ErrorResponse
// @Router /admin/accounts/{id}/reconcile [get]
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	report, err := h.ledger.Verify(r.Context(), accountID)
	if err != nil {
		sendError(w, r, err)
		return
	}
	if !report.Balanced {
		h.metrics.ReconcileDivergence()
		slog.Warn("ledger divergence", "account_id", accountID,
			"stored", report.StoredBalance.String(), "derived", report.DerivedBalance.String(),
			"breaks", len(report.Breaks))
	}
	writeJSON(w, http.StatusOK, report)
}

// TotalBalance sums every stored balance
// @Summary Aggregate balance
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} BalanceResponse
// @Router /admin/balance [get]
func (h *AdminHandler) TotalBalance(w http.ResponseWriter, r *http.Request) {
	total, err := h.accounts.TotalBalance(r.Context())
	if err != nil {
		sendError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: total, Currency: h.currency})
}
