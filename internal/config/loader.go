package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path, merges it over Defaults, applies
// LIQBOT_* environment overrides and returns the result unvalidated. An
// empty path skips the file and loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields from LIQBOT_* variables when set, so
// endpoints and DSNs can be injected at deploy time without editing the
// TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.RPC.Endpoint, "LIQBOT_RPC_ENDPOINT")
	setStr(&cfg.RPC.WSEndpoint, "LIQBOT_WS_ENDPOINT")
	setStr(&cfg.RPC.PriceWSEndpoint, "LIQBOT_PRICE_WS_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "LIQBOT_COMMITMENT")

	setStr(&cfg.Wallet.KeypairPath, "LIQBOT_KEYPAIR_PATH")
	setStr(&cfg.Market.File, "LIQBOT_MARKET_FILE")

	setStr(&cfg.Queue.Path, "LIQBOT_QUEUE_PATH")
	setStr(&cfg.Queue.PostgresDSN, "LIQBOT_POSTGRES_DSN")
	setStr(&cfg.Attempts.ClickhouseDSN, "LIQBOT_CLICKHOUSE_DSN")

	setStr(&cfg.Risk.ScorerURL, "LIQBOT_SCORER_URL")

	setStr(&cfg.Server.MetricsAddr, "LIQBOT_METRICS_ADDR")
	setStr(&cfg.LogLevel, "LIQBOT_LOG_LEVEL")

	setInt(&cfg.Executor.MaxPlansPerCycle, "LIQBOT_MAX_PLANS_PER_CYCLE")
	setInt64(&cfg.Scheduler.HeartbeatMs, "LIQBOT_HEARTBEAT_MS")
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}
