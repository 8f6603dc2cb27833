// Package config defines the service configuration: TOML file, optional
// .env file, and ORACULO_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"oraculo/internal/domain"
	"oraculo/internal/pda"
	"oraculo/internal/protocol"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Protocol ProtocolConfig `toml:"protocol"`
	Storage  StorageConfig  `toml:"storage"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Log      LogConfig      `toml:"log"`
}

// Duration is a time.Duration decoded from strings like "5m" or "48h".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	MaxBodyBytes    int64    `toml:"max_body_bytes"`
	MaxClockSkew    Duration `toml:"max_clock_skew"` // signed request timestamp tolerance
	RateLimit       int      `toml:"rate_limit"`     // requests per window per client; 0 disables
	RateWindow      Duration `toml:"rate_window"`
}

// ProtocolConfig holds the engine constants.
type ProtocolConfig struct {
	ProgramID         string   `toml:"program_id"`
	VotingPeriod      Duration `toml:"voting_period"`
	ResolutionDelay   Duration `toml:"resolution_delay"`
	MaxMarketDuration Duration `toml:"max_market_duration"`
	MinBet            uint64   `toml:"min_bet"`
}

// StorageConfig selects the account store and the optional analytics store.
type StorageConfig struct {
	Backend          string `toml:"backend"` // memory | postgres
	PostgresDSN      string `toml:"postgres_dsn"`
	PostgresMaxConns int    `toml:"postgres_max_conns"`
	ClickHouseDSN    string `toml:"clickhouse_dsn"` // empty keeps activity in memory
	RunMigrations    bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	QuoteTTL   Duration `toml:"quote_ttl"`
}

// S3Config holds object storage parameters for the market archive.
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

// KeeperConfig schedules the background jobs. Schedules are cron specs
// with a seconds field.
type KeeperConfig struct {
	Enabled         bool     `toml:"enabled"`
	Signer          string   `toml:"signer"` // address recorded as the executor
	ExecuteSchedule string   `toml:"execute_schedule"`
	ArchiveSchedule string   `toml:"archive_schedule"`
	WarmSchedule    string   `toml:"warm_schedule"`
	LockTTL         Duration `toml:"lock_ttl"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level             string `toml:"level"`
	Encoding          string `toml:"encoding"` // json | console
	Development       bool   `toml:"development"`
	DisableCaller     bool   `toml:"disable_caller"`
	DisableStacktrace bool   `toml:"disable_stacktrace"`
	Sampling          bool   `toml:"sampling"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	p := protocol.DefaultParams()
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{15 * time.Second},
			ShutdownTimeout: Duration{10 * time.Second},
			MaxBodyBytes:    1 << 20,
			MaxClockSkew:    Duration{5 * time.Minute},
			RateLimit:       120,
			RateWindow:      Duration{time.Minute},
		},
		Protocol: ProtocolConfig{
			ProgramID:         pda.DefaultProgramID.String(),
			VotingPeriod:      Duration{p.VotingPeriod},
			ResolutionDelay:   Duration{p.ResolutionDelay},
			MaxMarketDuration: Duration{p.MaxMarketDuration},
			MinBet:            p.MinBet,
		},
		Storage: StorageConfig{
			Backend:          "memory",
			PostgresMaxConns: 10,
			RunMigrations:    true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			QuoteTTL:   Duration{30 * time.Second},
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Keeper: KeeperConfig{
			Enabled:         true,
			ExecuteSchedule: "*/30 * * * * *",
			ArchiveSchedule: "0 */10 * * * *",
			WarmSchedule:    "*/15 * * * * *",
			LockTTL:         Duration{time.Minute},
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "json",
		},
	}
}

// Params converts the protocol section to engine constants.
func (p ProtocolConfig) Params() protocol.Params {
	return protocol.Params{
		VotingPeriod:      p.VotingPeriod.Duration,
		ResolutionDelay:   p.ResolutionDelay.Duration,
		MaxMarketDuration: p.MaxMarketDuration.Duration,
		MinBet:            p.MinBet,
	}
}

// ProgramAddress parses the program ID.
func (p ProtocolConfig) ProgramAddress() (domain.Address, error) {
	return domain.ParseAddress(p.ProgramID)
}

// SignerAddress parses the keeper signer. Empty means the zero address.
func (k KeeperConfig) SignerAddress() (domain.Address, error) {
	if k.Signer == "" {
		return domain.Address{}, nil
	}
	return domain.ParseAddress(k.Signer)
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server: max_body_bytes must be > 0")
	}
	if c.Server.MaxClockSkew.Duration <= 0 {
		errs = append(errs, "server: max_clock_skew must be > 0")
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
		errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
	}

	if _, err := c.Protocol.ProgramAddress(); err != nil {
		errs = append(errs, fmt.Sprintf("protocol: program_id: %v", err))
	}
	if c.Protocol.VotingPeriod.Duration < time.Second {
		errs = append(errs, "protocol: voting_period must be at least 1s")
	}
	if c.Protocol.ResolutionDelay.Duration < 0 {
		errs = append(errs, "protocol: resolution_delay must be >= 0")
	}
	if c.Protocol.MaxMarketDuration.Duration < time.Second {
		errs = append(errs, "protocol: max_market_duration must be at least 1s")
	}
	if c.Protocol.MinBet == 0 {
		errs = append(errs, "protocol: min_bet must be > 0")
	}

	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, "storage: postgres_dsn is required for the postgres backend")
		}
		if c.Storage.PostgresMaxConns < 1 {
			errs = append(errs, "storage: postgres_max_conns must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage: unknown backend %q (valid: memory, postgres)", c.Storage.Backend))
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Keeper.Enabled {
		if c.Keeper.ExecuteSchedule == "" {
			errs = append(errs, "keeper: execute_schedule must not be empty")
		}
		if _, err := c.Keeper.SignerAddress(); err != nil {
			errs = append(errs, fmt.Sprintf("keeper: signer: %v", err))
		}
		if c.Keeper.LockTTL.Duration <= 0 {
			errs = append(errs, "keeper: lock_ttl must be > 0")
		}
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("log: unknown level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Encoding != "json" && c.Log.Encoding != "console" {
		errs = append(errs, fmt.Sprintf("log: unknown encoding %q (valid: json, console)", c.Log.Encoding))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
