// Package config defines the marketd configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by MARKETD_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig fixes the engine identity and boot-time parameters.
type EngineConfig struct {
	// Deployer receives ADMIN at first boot.
	Deployer string `toml:"deployer"`
	// Operator is the BACKEND principal used by the keeper and by API-key
	// callers. When an operator key is configured its address wins.
	Operator            string            `toml:"operator"`
	OperatorKey         string            `toml:"operator_key"`
	OperatorKeyPath     string            `toml:"operator_key_path"`
	OperatorKeyPassword string            `toml:"operator_key_password"`
	Resolvers           []string          `toml:"resolvers"`
	DefaultCurve        string            `toml:"default_curve"`
	Overrides           map[string]string `toml:"overrides"`
	LockTTL             duration          `toml:"lock_ttl"`
}

// KeeperConfig drives background maintenance.
type KeeperConfig struct {
	FinalizeInterval duration `toml:"finalize_interval"`
	ArchiveCron      string   `toml:"archive_cron"`
	RetentionDays    int      `toml:"retention_days"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the event
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	SignatureSkew duration `toml:"signature_skew"`
	RatePerMinute int      `toml:"rate_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration lets the TOML decoder read strings like "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the values config.example.toml
// documents.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			DefaultCurve: "parimutuel",
			Overrides:    map[string]string{},
			LockTTL:      duration{10 * time.Second},
		},
		Keeper: KeeperConfig{
			FinalizeInterval: duration{time.Minute},
			ArchiveCron:      "0 3 * * *",
			RetentionDays:    90,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketengine",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "marketd:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketengine-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:          8000,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:5173"},
			SignatureSkew: duration{5 * time.Minute},
			RatePerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"FeeCollectionFailed", "DisputeBondTransferFailed", "ClaimFailed", "EmergencyWithdrawal"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"keeper": true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validCurves = map[string]bool{
	"parimutuel": true,
	"lmsr":       true,
}

// RunsServer reports whether the mode serves HTTP.
func (c *Config) RunsServer() bool { return c.Mode == "server" || c.Mode == "full" }

// RunsKeeper reports whether the mode runs background maintenance.
func (c *Config) RunsKeeper() bool { return c.Mode == "keeper" || c.Mode == "full" }

// Validate checks Config and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) { errs = append(errs, fmt.Sprintf(format, args...)) }

	if !validModes[strings.ToLower(c.Mode)] {
		add("unknown mode %q (valid: server, keeper, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	// Engine
	if !common.IsHexAddress(c.Engine.Deployer) {
		add("engine: deployer must be a hex address, got %q", c.Engine.Deployer)
	}
	if c.Engine.OperatorKey == "" && c.Engine.OperatorKeyPath == "" {
		if c.Engine.Operator != "" && !common.IsHexAddress(c.Engine.Operator) {
			add("engine: operator must be a hex address, got %q", c.Engine.Operator)
		}
		if c.RunsKeeper() && c.Engine.Operator == "" {
			add("engine: operator or operator_key is required for mode %s", c.Mode)
		}
	}
	if c.Engine.OperatorKeyPath != "" && c.Engine.OperatorKeyPassword == "" {
		add("engine: operator_key_password is required when operator_key_path is set")
	}
	for _, r := range c.Engine.Resolvers {
		if !common.IsHexAddress(r) {
			add("engine: resolver %q is not a hex address", r)
		}
	}
	if !validCurves[strings.ToLower(c.Engine.DefaultCurve)] {
		add("engine: unknown default_curve %q (valid: parimutuel, lmsr)", c.Engine.DefaultCurve)
	}
	for k, v := range c.Engine.Overrides {
		if _, err := decimal.NewFromString(v); err != nil {
			add("engine: override %s=%q is not a number", k, v)
		}
	}
	if c.Engine.LockTTL.Duration <= 0 {
		add("engine: lock_ttl must be > 0")
	}

	// Keeper
	if c.RunsKeeper() {
		if c.Keeper.FinalizeInterval.Duration < time.Second {
			add("keeper: finalize_interval must be >= 1s")
		}
		if c.Keeper.ArchiveCron != "" {
			if _, err := cron.ParseStandard(c.Keeper.ArchiveCron); err != nil {
				add("keeper: archive_cron: %v", err)
			}
			if c.Keeper.RetentionDays < 1 {
				add("keeper: retention_days must be >= 1")
			}
		}
	}
	if strings.EqualFold(c.Mode, "keeper") && (!c.Postgres.Enabled || !c.Redis.Enabled) {
		add("keeper: a standalone keeper needs postgres.enabled and redis.enabled to share state with the server")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				add("postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
			}
			if c.Postgres.Database == "" {
				add("postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			add("postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			add("postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			add("redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			add("redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			add("s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			add("s3: the event archive needs postgres.enabled")
		}
	}

	// Server
	if c.RunsServer() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.SignatureSkew.Duration <= 0 {
			add("server: signature_skew must be > 0")
		}
		if c.Server.RatePerMinute < 0 {
			add("server: rate_per_minute must be >= 0")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
