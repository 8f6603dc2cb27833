package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path over Defaults, loads .env if present,
// and applies ORACULO_* overrides. An empty path skips the file. The
// result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	_ = godotenv.Load()
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "ORACULO_SERVER_ADDR")
	setDuration(&cfg.Server.MaxClockSkew, "ORACULO_SERVER_MAX_CLOCK_SKEW")
	setInt(&cfg.Server.RateLimit, "ORACULO_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ORACULO_SERVER_RATE_WINDOW")

	setStr(&cfg.Protocol.ProgramID, "ORACULO_PROTOCOL_PROGRAM_ID")
	setDuration(&cfg.Protocol.VotingPeriod, "ORACULO_PROTOCOL_VOTING_PERIOD")
	setUint64(&cfg.Protocol.MinBet, "ORACULO_PROTOCOL_MIN_BET")

	setStr(&cfg.Storage.Backend, "ORACULO_STORAGE_BACKEND")
	setStr(&cfg.Storage.PostgresDSN, "ORACULO_STORAGE_POSTGRES_DSN")
	setInt(&cfg.Storage.PostgresMaxConns, "ORACULO_STORAGE_POSTGRES_MAX_CONNS")
	setStr(&cfg.Storage.ClickHouseDSN, "ORACULO_STORAGE_CLICKHOUSE_DSN")
	setBool(&cfg.Storage.RunMigrations, "ORACULO_STORAGE_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "ORACULO_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ORACULO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ORACULO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ORACULO_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "ORACULO_REDIS_TLS_ENABLED")

	setBool(&cfg.S3.Enabled, "ORACULO_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ORACULO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ORACULO_S3_REGION")
	setStr(&cfg.S3.Bucket, "ORACULO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ORACULO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ORACULO_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "ORACULO_S3_FORCE_PATH_STYLE")

	setBool(&cfg.Keeper.Enabled, "ORACULO_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Signer, "ORACULO_KEEPER_SIGNER")

	setStr(&cfg.Log.Level, "ORACULO_LOG_LEVEL")
	setStr(&cfg.Log.Encoding, "ORACULO_LOG_ENCODING")
}

// Each setter changes dst only when the variable is set, non-empty and
// parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
