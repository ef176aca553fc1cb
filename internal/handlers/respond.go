package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/voicepass/backend/internal/middleware"
	"github.com/voicepass/backend/internal/models"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper wraps the shared validator instance.
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{validator: validator.New()}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range verrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		slog.Debug("decode error", "path", r.URL.Path, "error", err)
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusPaymentRequired, "Insufficient balance"
	case errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict, "Invalid call status transition"
	case errors.Is(err, models.ErrDuplicateReference):
		return http.StatusConflict, "Reference already used"
	case errors.Is(err, models.ErrBalanceConflict):
		return http.StatusConflict, "Balance changed, retry"
	case errors.Is(err, models.ErrAlreadyExists):
		return http.StatusConflict, "Already exists"
	case errors.Is(err, models.ErrInvalidAmount):
		return http.StatusBadRequest, "Amount must be positive with at most 4 decimal places"
	case errors.Is(err, models.ErrInvalidRole):
		return http.StatusBadRequest, "Role must be admin or user"
	case errors.Is(err, models.ErrInvalidStatus):
		return http.StatusBadRequest, "Unknown call status"
	case errors.Is(err, models.ErrInvalidFilter):
		return http.StatusBadRequest, "Invalid filter"
	case errors.Is(err, models.ErrAccountDisabled):
		return http.StatusForbidden, "Account disabled"
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many calls, try again later"
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway, "Failed to initiate call"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func sendError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "error", err)
	}
	SendErrorResponse(w, msg, status, nil)
}

func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
	}
	return id, ok
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return 0, false
	}
	return id, true
}

// queryInt returns def when the parameter is absent and false when it is malformed.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		SendErrorResponse(w, fmt.Sprintf("Invalid %s parameter", name), http.StatusBadRequest, nil)
		return 0, false
	}
	return n, true
}
