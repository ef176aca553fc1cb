// Command token issues a bearer token for an account, signed with JWT_SECRET_KEY.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/voicepass/backend/internal/config"
	"github.com/voicepass/backend/internal/logging"
	mW "github.com/voicepass/backend/internal/middleware"
	"github.com/voicepass/backend/internal/models"
)

func main() {
	var (
		envFile   = flag.String("env", ".env", "path to the .env file")
		accountID = flag.Int64("account", 0, "account id to put in user_id")
		role      = flag.String("role", models.RoleUser, "admin or user")
		ttl       = flag.Duration("ttl", 24*time.Hour, "token lifetime")
	)
	flag.Parse()
	logging.Setup("")

	if *accountID <= 0 {
		slog.Error("-account is required")
		os.Exit(2)
	}
	if *role != models.RoleAdmin && *role != models.RoleUser {
		slog.Error("invalid role", "role", *role)
		os.Exit(2)
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	token, err := mW.NewAuth(cfg.JWT.SecretKey).IssueToken(*accountID, *role, *ttl)
	if err != nil {
		slog.Error("failed to sign token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
