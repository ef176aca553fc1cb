package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/voicepass/backend/internal/config"
	"github.com/voicepass/backend/internal/store"
	"github.com/voicepass/backend/internal/store/memory"
	"github.com/voicepass/backend/internal/store/postgres"
)

// OpenStore builds the storage handle for cfg.Store.Driver. The postgres schema is migrated
// here, once per process.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		slog.Warn("using in-memory store, data is lost on restart")
		return memory.New(), nil
	case "postgres":
		db, err := OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return postgres.New(db), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
