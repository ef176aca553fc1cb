package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voicepass/backend/internal/account"
	"github.com/voicepass/backend/internal/audit"
	"github.com/voicepass/backend/internal/calls"
	"github.com/voicepass/backend/internal/config"
	"github.com/voicepass/backend/internal/database"
	"github.com/voicepass/backend/internal/handlers"
	"github.com/voicepass/backend/internal/ledger"
	"github.com/voicepass/backend/internal/logging"
	"github.com/voicepass/backend/internal/metrics"
	mW "github.com/voicepass/backend/internal/middleware"
	"github.com/voicepass/backend/internal/models"
	"github.com/voicepass/backend/internal/secure"
	"github.com/voicepass/backend/internal/settlement"
	"github.com/voicepass/backend/internal/store"
	"github.com/voicepass/backend/internal/voice"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		logging.Setup("")
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level)

	ctx := context.Background()

	db, err := database.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := database.OpenRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}

	cipher, err := secure.NewFieldCipher(cfg.Encryption.Key, cfg.Encryption.Salt)
	if err != nil {
		slog.Error("failed to initialize field encryption", "error", err)
		os.Exit(1)
	}

	// Without redis, settlement locks are per process and initiation is not rate limited.
	var (
		locker  settlement.Locker
		limiter calls.RateLimiter
	)
	if redisClient != nil {
		locker = settlement.NewRedisLocker(redisClient, cfg.Settlement.LockTTL)
		limiter = calls.NewRedisRateLimiter(redisClient, cfg.Calls.MaxPerWindow, cfg.Calls.RateWindow)
	}

	m := metrics.New()
	auditor := audit.New(slog.Default())
	accounts := account.New(db)
	l := ledger.New(db)
	engine := settlement.NewEngine(db, accounts, l, locker, auditor, m, settlement.Config{
		CallRate:     cfg.Billing.CallRate,
		WelcomeBonus: cfg.Billing.WelcomeBonus,
	})
	tracker := calls.NewTracker(calls.Deps{
		Store:    db,
		Accounts: accounts,
		Engine:   engine,
		Cipher:   cipher,
		Voice:    voice.NewClient(cfg.Voice.APIURL, cfg.Voice.Timeout),
		Limiter:  limiter,
		Audit:    auditor,
		Metrics:  m,
	})

	if err := bootstrapAdmin(ctx, db, engine, cfg.Bootstrap.AdminEmail); err != nil {
		slog.Error("failed to bootstrap admin account", "error", err)
		os.Exit(1)
	}

	router := handlers.NewRouter(handlers.RouterConfig{
		Auth:        mW.NewAuth(cfg.JWT.SecretKey),
		Billing:     handlers.NewBillingHandler(accounts, l, engine, cfg.Billing.MinTopup, cfg.Billing.Currency),
		Calls:       handlers.NewCallsHandler(tracker, cfg.Webhook.Secret),
		Admin:       handlers.NewAdminHandler(accounts, l, engine, m, cfg.Billing.Currency),
		Metrics:     m.Handler(),
		OpenAPIPath: "./api/openapi.yaml",
		Health: func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(pingCtx)
		},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		slog.Info("server starting", "addr", server.Addr, "store", cfg.Store.Driver, "redis", redisClient != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// bootstrapAdmin opens an admin account when the store has none at all.
func bootstrapAdmin(ctx context.Context, db store.Store, engine *settlement.Engine, email string) error {
	if email == "" {
		return nil
	}
	ids, err := db.ListAccountIDs(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 {
		return nil
	}
	acct, _, err := engine.OpenAccount(ctx, models.NewAccount{Email: email, Name: "Administrator", Role: models.RoleAdmin})
	if err != nil {
		return err
	}
	slog.Info("bootstrap admin created", "account_id", acct.ID, "email", acct.Email)
	return nil
}
