package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"solana-liquidator/internal/broadcast"
	"solana-liquidator/internal/config"
	"solana-liquidator/internal/executor"
	"solana-liquidator/internal/forecast"
	"solana-liquidator/internal/lending/klend"
	"solana-liquidator/internal/observability"
	"solana-liquidator/internal/presubmit"
	"solana-liquidator/internal/queue"
	"solana-liquidator/internal/refresh"
	"solana-liquidator/internal/risk"
	"solana-liquidator/internal/scheduler"
	"solana-liquidator/internal/sequencer"
	"solana-liquidator/internal/solana"
	"solana-liquidator/internal/storage"
	chstore "solana-liquidator/internal/storage/clickhouse"
	"solana-liquidator/internal/storage/file"
	"solana-liquidator/internal/storage/memory"
	"solana-liquidator/internal/storage/migrations"
	pgstore "solana-liquidator/internal/storage/postgres"
	"solana-liquidator/internal/stream"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML config file")
	dryRun := flag.Bool("dry-run", false, "Score with the in-tree stub even when risk.scorer_url is set")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := buildLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan error, 1)

	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, forcing exit", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger, *dryRun)
	done <- err
	cancel()

	if err != nil && err != context.Canceled {
		logger.Fatal("liquidator stopped", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, dryRun bool) error {
	market, err := klend.LoadMarket(cfg.Market.File)
	if err != nil {
		return fmt.Errorf("load market: %w", err)
	}
	keypair, err := solana.LoadKeypair(cfg.Wallet.KeypairPath)
	if err != nil {
		return fmt.Errorf("load keypair: %w", err)
	}
	logger.Info("market loaded",
		zap.String("market", market.Market),
		zap.Int("reserves", len(market.Reserves)),
		zap.String("wallet", keypair.Pubkey()))

	rpc := solana.NewHTTPClient(cfg.RPC.Endpoint,
		solana.WithTimeout(time.Duration(cfg.RPC.TimeoutMs)*time.Millisecond),
		solana.WithCommitment(cfg.RPC.Commitment))

	// Plan persistence. A postgres DSN wins over the file path.
	var planStore storage.PlanStore
	if cfg.Queue.PostgresDSN != "" {
		pool, err := pgstore.NewPool(ctx, cfg.Queue.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
		planStore = pgstore.NewPlanStore(pool)
		logger.Info("plan store: postgres")
	} else {
		fs, err := file.NewPlanStore(cfg.Queue.Path)
		if err != nil {
			return fmt.Errorf("open plan file: %w", err)
		}
		planStore = fs
		logger.Info("plan store: file", zap.String("path", cfg.Queue.Path))
	}

	// Attempt history. Optional; memory-only when no DSN is configured.
	var attemptStore storage.AttemptStore = memory.NewAttemptStore()
	if cfg.Attempts.ClickhouseDSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.Attempts.ClickhouseDSN)
		if err != nil {
			return fmt.Errorf("run clickhouse migrations: %w", err)
		}
		defer conn.Close()
		attemptStore = chstore.NewAttemptStore(conn)
		logger.Info("attempt store: clickhouse")
	}

	q := queue.New(planStore, logger)
	if err := q.Load(ctx); err != nil {
		return fmt.Errorf("load queue: %w", err)
	}
	logger.Info("queue loaded", zap.Int("plans", q.Len()))

	index := refresh.NewMintIndex()
	index.Rebuild(q.Plans())

	factory := klend.NewFactory(market)
	builder := sequencer.NewBuilder(rpc, factory, factory, factory, keypair, sequencer.Config{
		AtomicSetup:    cfg.Sequencer.AtomicSetup,
		SwapHaircutBps: cfg.Sequencer.SwapHaircutBps,
		SimulateBuilds: cfg.Sequencer.SimulateBuilds,
	}, logger)

	cache := presubmit.New(builder, presubmit.Config{
		TopK:               cfg.Presubmit.TopK,
		EntryTTL:           time.Duration(cfg.Presubmit.EntryTTLMs) * time.Millisecond,
		RebuildInterval:    time.Duration(cfg.Presubmit.RebuildIntervalMs) * time.Millisecond,
		ComputeUnitLimit:   cfg.Presubmit.ComputeUnitLimit,
		ComputeUnitPrice:   cfg.Presubmit.ComputeUnitPrice,
		MaxTransactionSize: cfg.Presubmit.MaxTransactionSize,
	}, logger)

	engine := broadcast.New(rpc, builder, factory, broadcast.Config{
		MaxAttempts:         cfg.Broadcast.MaxAttempts,
		ConfirmTimeout:      time.Duration(cfg.Broadcast.ConfirmTimeoutMs) * time.Millisecond,
		ConfirmPollInterval: time.Duration(cfg.Broadcast.PollIntervalMs) * time.Millisecond,
		ComputeBumpFactor:   cfg.Broadcast.ComputeBumpFactor,
		PriceBumpStep:       cfg.Broadcast.PriceBumpStep,
		SkipPreflight:       cfg.Broadcast.SkipPreflight,
	}, logger)

	exec := executor.New(rpc, cache, engine, q, attemptStore, executor.Config{
		MaxPlansPerCycle: cfg.Executor.MaxPlansPerCycle,
	}, logger)

	var scorer risk.Scorer
	if cfg.Risk.ScorerURL != "" && !dryRun {
		scorer = risk.NewHTTPScorer(cfg.Risk.ScorerURL,
			risk.WithScorerTimeout(time.Duration(cfg.Risk.TimeoutMs)*time.Millisecond))
	} else {
		logger.Warn("no scorer configured, running with the echo stub")
		scorer = risk.NewStubScorer()
	}
	rescorer := risk.NewRescorer(scorer, func() int64 { return time.Now().UnixMilli() })

	evaluator := forecast.NewEvaluator(forecast.Config{
		ForecastMaxAgeMs:  cfg.Forecast.MaxAgeMs,
		TTLUnknownPasses:  cfg.Forecast.TTLUnknownPasses,
		TTLGraceMs:        cfg.Forecast.TTLGraceMs,
		EVDropPct:         cfg.Forecast.EVDropPct,
		RefreshIntervalMs: cfg.Forecast.RefreshIntervalMs,
	})

	// Streams. Separate connections for account and price subscriptions so
	// provider-side subscription dedup cannot cross the two.
	accountsWS, err := solana.NewWSClient(ctx, cfg.RPC.WSEndpoint, nil)
	if err != nil {
		return fmt.Errorf("connect account stream: %w", err)
	}
	defer accountsWS.Close()

	priceEndpoint := cfg.RPC.PriceWSEndpoint
	if priceEndpoint == "" {
		priceEndpoint = cfg.RPC.WSEndpoint
	}
	pricesWS, err := solana.NewWSClient(ctx, priceEndpoint, nil)
	if err != nil {
		return fmt.Errorf("connect price stream: %w", err)
	}
	defer pricesWS.Close()

	sched := scheduler.New(scheduler.Options{
		Queue:     q,
		Evaluator: evaluator,
		Rescorer:  rescorer,
		Executor:  exec,
		Index:     index,
		Config: scheduler.Config{
			HeartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatMs) * time.Millisecond,
			DebounceDelay:     time.Duration(cfg.Scheduler.DebounceMs) * time.Millisecond,
			TopNLog:           cfg.Scheduler.TopNLog,
			RefreshBatchLimit: cfg.Scheduler.RefreshBatchLimit,
			CoarseRefreshInterval: time.Duration(cfg.Scheduler.CoarseRefreshMs) *
				time.Millisecond,
		},
		Logger: logger,
	})

	orch := refresh.NewOrchestrator(refresh.Config{
		MinIntervalMs: cfg.Refresh.MinIntervalMs,
		BatchLimit:    cfg.Refresh.BatchLimit,
	}, index, func(keys []string, trigger string) {
		sched.MarkDirty(keys)
		sched.Trigger(trigger)
	}, logger)

	mgr := stream.NewManager(accountsWS, pricesWS, market.OracleByMint(), orch, logger)
	sched.SetRetargeter(mgr)
	if err := mgr.Retarget(ctx, q.Plans()); err != nil {
		return fmt.Errorf("initial retarget: %w", err)
	}

	// Scheduled maintenance: a coarse full-queue cycle plus throttle-table
	// pruning, independent of stream activity.
	if cfg.Maintenance.CronSpec != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.Maintenance.CronSpec, func() {
			if cfg.Maintenance.ThrottleIdleMs > 0 {
				pruned := orch.ForgetOlderThan(cfg.Maintenance.ThrottleIdleMs)
				if pruned > 0 {
					logger.Info("pruned idle throttle entries", zap.Int("count", pruned))
				}
			}
			if err := sched.RunCycle(ctx, scheduler.TriggerMaintenance); err != nil {
				logger.Error("maintenance cycle failed", zap.Error(err))
			}
		})
		if err != nil {
			return fmt.Errorf("schedule maintenance %q: %w", cfg.Maintenance.CronSpec, err)
		}
		c.Start()
		defer c.Stop()
		logger.Info("maintenance scheduled", zap.String("spec", cfg.Maintenance.CronSpec))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		g.Go(func() error {
			logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}
