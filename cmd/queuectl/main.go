// queuectl inspects and edits the persisted liquidation queue without
// touching the running daemon. Reads go through the same stores; writes
// persist atomically, so the daemon picks them up on its next load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"solana-liquidator/internal/config"
	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/forecast"
	"solana-liquidator/internal/queue"
	"solana-liquidator/internal/storage"
	"solana-liquidator/internal/storage/file"
	pgstore "solana-liquidator/internal/storage/postgres"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	configPath := fs.String("config", "config.toml", "Path to the TOML config file")
	queuePath := fs.String("queue-path", "", "Plan file path (overrides config)")
	postgresDSN := fs.String("postgres-dsn", "", "PostgreSQL connection string (overrides config)")
	asJSON := fs.Bool("json", false, "Emit JSON instead of a table")
	reason := fs.String("reason", domain.ExpireReasonManual, "Downgrade reason to record")
	fs.Parse(os.Args[2:])

	ctx := context.Background()

	path := *configPath
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) && *queuePath == "" && *postgresDSN == "" {
		fatal("config file %s not found and no -queue-path/-postgres-dsn given", path)
	} else if os.IsNotExist(statErr) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal("load config: %v", err)
	}
	if *queuePath != "" {
		cfg.Queue.Path = *queuePath
		cfg.Queue.PostgresDSN = ""
	}
	if *postgresDSN != "" {
		cfg.Queue.PostgresDSN = *postgresDSN
	}

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		fatal("open queue store: %v", err)
	}
	defer cleanup()

	q := queue.New(store, zap.NewNop())
	if err := q.Load(ctx); err != nil {
		fatal("load queue: %v", err)
	}

	switch cmd {
	case "list":
		err = list(q, *asJSON)
	case "audit":
		err = audit(cfg, q, *asJSON)
	case "drop":
		err = drop(ctx, q, fs.Args())
	case "downgrade":
		err = downgrade(ctx, q, fs.Args(), *reason)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: queuectl <command> [flags] [args]

Commands:
  list        Print the queue in priority order
  audit       Evaluate every plan against the expiry rules (read-only)
  drop        Remove plans by obligation pubkey
  downgrade   Mark plans ineligible by obligation pubkey

Flags follow the command, obligation pubkeys follow the flags.`)
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.PlanStore, func(), error) {
	if cfg.Queue.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Queue.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return pgstore.NewPlanStore(pool), pool.Close, nil
	}
	if cfg.Queue.Path == "" {
		return nil, nil, fmt.Errorf("no queue backend configured")
	}
	fsStore, err := file.NewPlanStore(cfg.Queue.Path)
	if err != nil {
		return nil, nil, err
	}
	return fsStore, func() {}, nil
}

func list(q *queue.Queue, asJSON bool) error {
	plans := q.Plans()
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(plans)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OBLIGATION\tELIGIBLE\tEV\tTTL\tHAZARD\tHEALTH\tREASON")
	for _, p := range plans {
		fmt.Fprintf(w, "%s\t%v\t%.2f\t%s\t%.3f\t%.3f\t%s\n",
			p.Obligation, p.LiquidationEligible, p.EV, ttl(p), p.Hazard,
			p.HealthRatio, p.DowngradeReason)
	}
	fmt.Fprintf(w, "\n%d plans\n", len(plans))
	return w.Flush()
}

func ttl(p *domain.Plan) string {
	if p.TTLStr != "" {
		return p.TTLStr
	}
	if p.TTLMin == nil {
		return "?"
	}
	return fmt.Sprintf("%.1fm", *p.TTLMin)
}

type auditRow struct {
	Obligation     string  `json:"obligation"`
	Expired        bool    `json:"expired"`
	Reason         string  `json:"reason,omitempty"`
	NeedsRecompute bool    `json:"needs_recompute"`
	EV             float64 `json:"ev"`
	AgeMs          int64   `json:"forecast_age_ms"`
}

// audit runs the daemon's expiry rules over the queue without mutating it:
// what the next cycle would downgrade, and why.
func audit(cfg *config.Config, q *queue.Queue, asJSON bool) error {
	ev := forecast.NewEvaluator(forecast.Config{
		ForecastMaxAgeMs:  cfg.Forecast.MaxAgeMs,
		TTLUnknownPasses:  cfg.Forecast.TTLUnknownPasses,
		TTLGraceMs:        cfg.Forecast.TTLGraceMs,
		EVDropPct:         cfg.Forecast.EVDropPct,
		RefreshIntervalMs: cfg.Forecast.RefreshIntervalMs,
	})

	plans := q.Plans()
	entries := make([]domain.ForecastEntry, len(plans))
	for i, p := range plans {
		entries[i] = p.Forecast()
	}
	nowMs := time.Now().UnixMilli()
	verdicts := ev.Evaluate(entries, nowMs)

	rows := make([]auditRow, len(plans))
	for i, p := range plans {
		rows[i] = auditRow{
			Obligation:     p.Obligation,
			Expired:        verdicts[i].Expired,
			Reason:         verdicts[i].Reason,
			NeedsRecompute: verdicts[i].NeedsRecompute,
			EV:             p.EV,
			AgeMs:          nowMs - p.ForecastUpdatedAtMs,
		}
	}
	if asJSON {
		return json.NewEncoder(os.Stdout).Encode(rows)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OBLIGATION\tEXPIRED\tREASON\tRECOMPUTE\tEV\tAGE")
	expired := 0
	for _, r := range rows {
		if r.Expired {
			expired++
		}
		fmt.Fprintf(w, "%s\t%v\t%s\t%v\t%.2f\t%s\n",
			r.Obligation, r.Expired, r.Reason, r.NeedsRecompute, r.EV,
			(time.Duration(r.AgeMs) * time.Millisecond).Round(time.Second))
	}
	fmt.Fprintf(w, "\n%d plans, %d expired\n", len(rows), expired)
	return w.Flush()
}

func drop(ctx context.Context, q *queue.Queue, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("drop: at least one obligation pubkey required")
	}
	for _, key := range keys {
		removed, err := q.Drop(ctx, key)
		if err != nil {
			return fmt.Errorf("drop %s: %w", key, err)
		}
		if !removed {
			fmt.Printf("%s: not in queue\n", key)
			continue
		}
		fmt.Printf("%s: dropped\n", key)
	}
	return nil
}

func downgrade(ctx context.Context, q *queue.Queue, keys []string, reason string) error {
	if len(keys) == 0 {
		return fmt.Errorf("downgrade: at least one obligation pubkey required")
	}
	for _, key := range keys {
		if err := q.Downgrade(ctx, key, reason); err != nil {
			return fmt.Errorf("downgrade %s: %w", key, err)
		}
		fmt.Printf("%s: downgraded (%s)\n", key, reason)
	}
	return nil
}
