// Package config loads service settings from a .env file and the environment through viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/voicepass/backend/internal/models"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Billing    BillingConfig
	Encryption EncryptionConfig
	Voice      VoiceConfig
	Webhook    WebhookConfig
	Settlement SettlementConfig
	Calls      CallsConfig
	Log        LogConfig
	Store      StoreConfig
	Bootstrap  BootstrapConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN is the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

type JWTConfig struct {
	SecretKey string
}

type BillingConfig struct {
	CallRate     decimal.Decimal
	WelcomeBonus decimal.Decimal
	MinTopup     decimal.Decimal
	Currency     string
}

type EncryptionConfig struct {
	Key  string
	Salt string
}

type VoiceConfig struct {
	APIURL  string
	Timeout time.Duration
}

type WebhookConfig struct {
	Secret string // empty disables signature checks
}

type SettlementConfig struct {
	LockTTL time.Duration
}

type CallsConfig struct {
	MaxPerWindow int
	RateWindow   time.Duration
}

type LogConfig struct {
	Level string
}

type StoreConfig struct {
	Driver string // postgres or memory
}

// BootstrapConfig seeds the first admin on an empty store.
type BootstrapConfig struct {
	AdminEmail string
}

var envBindings = map[string]string{
	"server.port":                "PORT",
	"database.host":              "DATABASE_HOST",
	"database.port":              "DATABASE_PORT",
	"database.user":              "DATABASE_USER",
	"database.password":          "DATABASE_PASSWORD",
	"database.name":              "DATABASE_NAME",
	"database.ssl_mode":          "DATABASE_SSL_MODE",
	"database.max_open_conns":    "DATABASE_MAX_OPEN_CONNS",
	"database.max_idle_conns":    "DATABASE_MAX_IDLE_CONNS",
	"database.conn_max_lifetime": "DATABASE_CONN_MAX_LIFETIME",
	"redis.host":                 "REDIS_HOST",
	"redis.port":                 "REDIS_PORT",
	"redis.password":             "REDIS_PASSWORD",
	"redis.db":                   "REDIS_DB",
	"redis.enabled":              "REDIS_ENABLED",
	"jwt.secret_key":             "JWT_SECRET_KEY",
	"billing.call_rate":          "BILLING_CALL_RATE",
	"billing.welcome_bonus":      "BILLING_WELCOME_BONUS",
	"billing.min_topup":          "BILLING_MIN_TOPUP",
	"billing.currency":           "BILLING_CURRENCY",
	"encryption.key":             "ENCRYPTION_KEY",
	"encryption.salt":            "ENCRYPTION_SALT",
	"voice.api_url":              "VOICEPASS_API_URL",
	"voice.timeout":              "VOICE_TIMEOUT",
	"webhook.secret":             "WEBHOOK_SECRET",
	"settlement.lock_ttl":        "SETTLEMENT_LOCK_TTL",
	"calls.max_per_window":       "CALLS_MAX_PER_WINDOW",
	"calls.rate_window":          "CALLS_RATE_WINDOW",
	"log.level":                  "LOG_LEVEL",
	"store.driver":               "STORE_DRIVER",
	"bootstrap.admin_email":      "BOOTSTRAP_ADMIN_EMAIL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.name", "voicepass")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", "6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.enabled", true)

	v.SetDefault("billing.call_rate", "3.5")
	v.SetDefault("billing.welcome_bonus", "100")
	v.SetDefault("billing.min_topup", "100")
	v.SetDefault("billing.currency", "NGN")

	v.SetDefault("voice.api_url", "http://localhost:8000")
	v.SetDefault("voice.timeout", 10*time.Second)

	v.SetDefault("settlement.lock_ttl", 10*time.Second)
	v.SetDefault("calls.max_per_window", 30)
	v.SetDefault("calls.rate_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("store.driver", "postgres")
}

// Load reads envFile when it exists, then lets the environment override it.
// An empty envFile skips the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		err := v.ReadInConfig()
		switch {
		case err == nil:
			// .env keys arrive as lowercased variable names; expose them under the dotted keys
			// as defaults so real environment variables still win.
			for key, env := range envBindings {
				if name := strings.ToLower(env); v.InConfig(name) {
					v.SetDefault(key, v.Get(name))
				}
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("read config %s: %w", envFile, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{Port: v.GetString("server.port")},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Enabled:  v.GetBool("redis.enabled"),
		},
		JWT: JWTConfig{SecretKey: v.GetString("jwt.secret_key")},
		Encryption: EncryptionConfig{
			Key:  v.GetString("encryption.key"),
			Salt: v.GetString("encryption.salt"),
		},
		Voice: VoiceConfig{
			APIURL:  v.GetString("voice.api_url"),
			Timeout: v.GetDuration("voice.timeout"),
		},
		Webhook:    WebhookConfig{Secret: v.GetString("webhook.secret")},
		Settlement: SettlementConfig{LockTTL: v.GetDuration("settlement.lock_ttl")},
		Calls: CallsConfig{
			MaxPerWindow: v.GetInt("calls.max_per_window"),
			RateWindow:   v.GetDuration("calls.rate_window"),
		},
		Log:       LogConfig{Level: v.GetString("log.level")},
		Store:     StoreConfig{Driver: strings.ToLower(v.GetString("store.driver"))},
		Bootstrap: BootstrapConfig{AdminEmail: strings.TrimSpace(v.GetString("bootstrap.admin_email"))},
	}

	var err error
	billing := BillingConfig{Currency: v.GetString("billing.currency")}
	if billing.CallRate, err = decimalSetting(v, "billing.call_rate"); err != nil {
		return nil, err
	}
	if billing.WelcomeBonus, err = decimalSetting(v, "billing.welcome_bonus"); err != nil {
		return nil, err
	}
	if billing.MinTopup, err = decimalSetting(v, "billing.min_topup"); err != nil {
		return nil, err
	}
	cfg.Billing = billing

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.SecretKey == "" {
		return errors.New("jwt.secret_key (JWT_SECRET_KEY) is required")
	}
	if c.Encryption.Key == "" || c.Encryption.Salt == "" {
		return errors.New("encryption.key and encryption.salt (ENCRYPTION_KEY, ENCRYPTION_SALT) are required")
	}
	if !c.Billing.CallRate.IsPositive() {
		return errors.New("billing.call_rate must be positive")
	}
	if c.Billing.WelcomeBonus.IsNegative() {
		return errors.New("billing.welcome_bonus cannot be negative")
	}
	for key, d := range map[string]decimal.Decimal{
		"billing.call_rate":     c.Billing.CallRate,
		"billing.welcome_bonus": c.Billing.WelcomeBonus,
		"billing.min_topup":     c.Billing.MinTopup,
	} {
		if !d.Equal(d.Round(models.MoneyScale)) {
			return fmt.Errorf("%s allows at most %d decimal places", key, models.MoneyScale)
		}
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres or memory, got %q", c.Store.Driver)
	}
	return nil
}

func decimalSetting(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
