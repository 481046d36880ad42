// Package config defines the liquidator daemon configuration: a TOML file
// merged over defaults, then LIQBOT_* environment overrides.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure.
type Config struct {
	RPC         RPCConfig         `toml:"rpc"`
	Wallet      WalletConfig      `toml:"wallet"`
	Market      MarketConfig      `toml:"market"`
	Queue       QueueConfig       `toml:"queue"`
	Attempts    AttemptsConfig    `toml:"attempts"`
	Forecast    ForecastConfig    `toml:"forecast"`
	Refresh     RefreshConfig     `toml:"refresh"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Sequencer   SequencerConfig   `toml:"sequencer"`
	Presubmit   PresubmitConfig   `toml:"presubmit"`
	Broadcast   BroadcastConfig   `toml:"broadcast"`
	Executor    ExecutorConfig    `toml:"executor"`
	Risk        RiskConfig        `toml:"risk"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Server      ServerConfig      `toml:"server"`
	LogLevel    string            `toml:"log_level"`
}

// RPCConfig holds the ledger endpoints.
type RPCConfig struct {
	Endpoint        string `toml:"endpoint"`
	WSEndpoint      string `toml:"ws_endpoint"`
	PriceWSEndpoint string `toml:"price_ws_endpoint"` // empty reuses ws_endpoint
	Commitment      string `toml:"commitment"`
	TimeoutMs       int64  `toml:"timeout_ms"`
}

// WalletConfig locates the liquidator keypair.
type WalletConfig struct {
	KeypairPath string `toml:"keypair_path"`
}

// MarketConfig locates the lending market layout file.
type MarketConfig struct {
	File string `toml:"file"`
}

// QueueConfig selects the plan queue backend. A postgres DSN wins over the
// file path when both are set.
type QueueConfig struct {
	Path        string `toml:"path"`
	PostgresDSN string `toml:"postgres_dsn"`
}

// AttemptsConfig selects the broadcast attempt history backend. An empty
// DSN keeps history in memory only.
type AttemptsConfig struct {
	ClickhouseDSN string `toml:"clickhouse_dsn"`
}

// ForecastConfig holds the expiry evaluator thresholds.
type ForecastConfig struct {
	MaxAgeMs          int64   `toml:"max_age_ms"`
	TTLUnknownPasses  bool    `toml:"ttl_unknown_passes"`
	TTLGraceMs        int64   `toml:"ttl_grace_ms"`
	EVDropPct         float64 `toml:"ev_drop_pct"`
	RefreshIntervalMs int64   `toml:"refresh_interval_ms"`
}

// RefreshConfig holds the event-gating knobs.
type RefreshConfig struct {
	MinIntervalMs int64 `toml:"min_interval_ms"`
	BatchLimit    int   `toml:"batch_limit"`
}

// SchedulerConfig holds the cycle engine knobs.
type SchedulerConfig struct {
	HeartbeatMs       int64 `toml:"heartbeat_ms"`
	DebounceMs        int64 `toml:"debounce_ms"`
	TopNLog           int   `toml:"top_n_log"`
	RefreshBatchLimit int   `toml:"refresh_batch_limit"`
	CoarseRefreshMs   int64 `toml:"coarse_refresh_ms"` // 0 = off
}

// SequencerConfig holds the transaction builder knobs.
type SequencerConfig struct {
	AtomicSetup    bool   `toml:"atomic_setup"`
	SwapHaircutBps uint64 `toml:"swap_haircut_bps"`
	SimulateBuilds bool   `toml:"simulate_builds"`
}

// PresubmitConfig holds the artifact cache knobs.
type PresubmitConfig struct {
	TopK               int    `toml:"top_k"`
	EntryTTLMs         int64  `toml:"entry_ttl_ms"`
	RebuildIntervalMs  int64  `toml:"rebuild_interval_ms"`
	ComputeUnitLimit   uint32 `toml:"compute_unit_limit"`
	ComputeUnitPrice   uint64 `toml:"compute_unit_price"`
	MaxTransactionSize int    `toml:"max_transaction_size"`
}

// BroadcastConfig holds the retry engine knobs.
type BroadcastConfig struct {
	MaxAttempts       int     `toml:"max_attempts"`
	ConfirmTimeoutMs  int64   `toml:"confirm_timeout_ms"`
	PollIntervalMs    int64   `toml:"poll_interval_ms"`
	ComputeBumpFactor float64 `toml:"compute_bump_factor"`
	PriceBumpStep     uint64  `toml:"price_bump_step"`
	SkipPreflight     bool    `toml:"skip_preflight"`
}

// ExecutorConfig holds the execution pass knobs.
type ExecutorConfig struct {
	MaxPlansPerCycle int `toml:"max_plans_per_cycle"`
}

// RiskConfig locates the external scorer. An empty URL runs the in-tree
// stub scorer (dry runs only).
type RiskConfig struct {
	ScorerURL string `toml:"scorer_url"`
	TimeoutMs int64  `toml:"timeout_ms"`
}

// MaintenanceConfig holds the scheduled maintenance job. An empty cron spec
// disables it.
type MaintenanceConfig struct {
	CronSpec string `toml:"cron_spec"`
	// ThrottleIdleMs prunes orchestrator throttle entries idle this long.
	ThrottleIdleMs int64 `toml:"throttle_idle_ms"`
}

// ServerConfig holds the HTTP surface: /metrics and /health only.
type ServerConfig struct {
	MetricsAddr string `toml:"metrics_addr"` // empty disables
}

// Defaults returns a Config populated with the component defaults.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			Commitment: "confirmed",
			TimeoutMs:  10_000,
		},
		Queue: QueueConfig{
			Path: "data/queue.json",
		},
		Forecast: ForecastConfig{
			MaxAgeMs:          10 * 60 * 1000,
			TTLGraceMs:        60 * 1000,
			EVDropPct:         20,
			RefreshIntervalMs: 30 * 1000,
		},
		Refresh: RefreshConfig{
			MinIntervalMs: 5_000,
			BatchLimit:    16,
		},
		Scheduler: SchedulerConfig{
			HeartbeatMs:       15_000,
			DebounceMs:        200,
			TopNLog:           5,
			RefreshBatchLimit: 25,
		},
		Sequencer: SequencerConfig{
			AtomicSetup:    true,
			SwapHaircutBps: 50,
			SimulateBuilds: true,
		},
		Presubmit: PresubmitConfig{
			TopK:              8,
			EntryTTLMs:        30_000,
			RebuildIntervalMs: 3_000,
			ComputeUnitLimit:  1_400_000,
			ComputeUnitPrice:  1,
		},
		Broadcast: BroadcastConfig{
			MaxAttempts:       2,
			ConfirmTimeoutMs:  30_000,
			PollIntervalMs:    500,
			ComputeBumpFactor: 1.5,
			PriceBumpStep:     10_000,
		},
		Executor: ExecutorConfig{
			MaxPlansPerCycle: 4,
		},
		Risk: RiskConfig{
			TimeoutMs: 5_000,
		},
		Maintenance: MaintenanceConfig{
			ThrottleIdleMs: 60 * 60 * 1000,
		},
		Server: ServerConfig{
			MetricsAddr: ":9090",
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for the daemon. Tooling that only reads
// the queue can skip it.
func (c *Config) Validate() error {
	var problems []string
	if c.RPC.Endpoint == "" {
		problems = append(problems, "rpc.endpoint is required")
	}
	if c.RPC.WSEndpoint == "" {
		problems = append(problems, "rpc.ws_endpoint is required")
	}
	if c.Wallet.KeypairPath == "" {
		problems = append(problems, "wallet.keypair_path is required")
	}
	if c.Market.File == "" {
		problems = append(problems, "market.file is required")
	}
	if c.Queue.Path == "" && c.Queue.PostgresDSN == "" {
		problems = append(problems, "queue.path or queue.postgres_dsn is required")
	}
	if c.Broadcast.MaxAttempts < 1 {
		problems = append(problems, "broadcast.max_attempts must be at least 1")
	}
	if c.Broadcast.ComputeBumpFactor <= 1 {
		problems = append(problems, "broadcast.compute_bump_factor must exceed 1")
	}
	if c.Presubmit.TopK < 1 {
		problems = append(problems, "presubmit.top_k must be at least 1")
	}
	if c.Sequencer.SwapHaircutBps >= 10_000 {
		problems = append(problems, "sequencer.swap_haircut_bps must be below 10000")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
