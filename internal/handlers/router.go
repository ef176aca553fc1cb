package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
	mW "github.com/voicepass/backend/internal/middleware"
)

// RouterConfig collects everything the HTTP surface needs.
type RouterConfig struct {
	Auth        *mW.Auth
	Billing     *BillingHandler
	Calls       *CallsHandler
	Admin       *AdminHandler
	Metrics     http.Handler // nil hides /metrics
	OpenAPIPath string
	Health      func() error // nil reports healthy
}

// @title VoicePass API
// @version 1.0
// @description Voice OTP calls with per-call settlement against a prepaid ledger
// @BasePath /api/v1
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mW.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", signatureHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	if cfg.OpenAPIPath != "" {
		r.Handle("/openapi.yaml", mW.StaticFile(cfg.OpenAPIPath, "application/yaml"))
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/calls/webhook", cfg.Calls.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth.Middleware)

			r.Get("/me", cfg.Billing.Me)

			r.Post("/calls/initiate", cfg.Calls.Initiate)
			r.Get("/calls/logs", cfg.Calls.Logs)

			r.Get("/billing/balance", cfg.Billing.Balance)
			r.Get("/billing/transactions", cfg.Billing.Transactions)
			r.Post("/billing/topup", cfg.Billing.Topup)

			r.Route("/admin", func(r chi.Router) {
				r.Use(mW.RequireAdmin)

				r.Get("/accounts", cfg.Admin.ListAccounts)
				r.Post("/accounts", cfg.Admin.CreateAccount)
				r.Post("/accounts/{id}/topup", cfg.Admin.Topup)
				r.Put("/accounts/{id}/status", cfg.Admin.SetStatus)
				r.Patch("/accounts/{id}/role", cfg.Admin.SetRole)
				r.Get("/accounts/{id}/reconcile", cfg.Admin.Reconcile)
				r.Get("/balance", cfg.Admin.TotalBalance)
			})
		})
	})

	return r
}
