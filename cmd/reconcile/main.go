// Command reconcile compares every account's stored balance with its ledger and walks each
// entry chain. It exits 1 when any account diverges.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/voicepass/backend/internal/config"
	"github.com/voicepass/backend/internal/database"
	"github.com/voicepass/backend/internal/ledger"
	"github.com/voicepass/backend/internal/logging"
	"github.com/voicepass/backend/internal/metrics"
	"github.com/voicepass/backend/internal/store"
)

func main() {
	var (
		envFile   = flag.String("env", ".env", "path to the .env file")
		accountID = flag.Int64("account", 0, "check a single account")
		asJSON    = flag.Bool("json", false, "print reports as JSON lines")
	)
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.Setup("")
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}
	logging.Setup(cfg.Log.Level)

	ctx := context.Background()
	db, err := database.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(2)
	}
	defer db.Close()

	diverged, err := run(ctx, db, *accountID, *asJSON, os.Stdout, metrics.New())
	if err != nil {
		slog.Error("reconcile failed", "error", err)
		os.Exit(2)
	}
	if diverged > 0 {
		slog.Warn("ledger divergence found", "accounts", diverged)
		os.Exit(1)
	}
}

// run verifies the selected accounts and returns how many diverged.
func run(ctx context.Context, db store.Store, only int64, asJSON bool, out io.Writer, m *metrics.Metrics) (int, error) {
	ids := []int64{only}
	if only == 0 {
		var err error
		if ids, err = db.ListAccountIDs(ctx); err != nil {
			return 0, err
		}
	}

	l := ledger.New(db)
	enc := json.NewEncoder(out)
	diverged := 0
	for _, id := range ids {
		report, err := l.Verify(ctx, id)
		if err != nil {
			return diverged, fmt.Errorf("account %d: %w", id, err)
		}
		if !report.Balanced {
			diverged++
			m.ReconcileDivergence()
		}

		if asJSON {
			if err := enc.Encode(report); err != nil {
				return diverged, err
			}
			continue
		}
		printReport(out, report)
	}
	return diverged, nil
}

func printReport(out io.Writer, r *ledger.Report) {
	state := "ok"
	if !r.Balanced {
		state = "DIVERGED"
	}
	fmt.Fprintf(out, "account %d: %s stored=%s derived=%s entries=%d\n",
		r.AccountID, state, r.StoredBalance, r.DerivedBalance, r.EntryCount)
	for _, b := range r.Breaks {
		fmt.Fprintf(out, "  entry %s (%s): expected before %s, got %s: %s\n",
			b.EntryID, b.Reference, b.ExpectedBefore, b.ActualBefore, b.Reason)
	}
}
