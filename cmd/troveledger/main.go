package main

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TroveLedger/internal/config"
	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/server"
	"TroveLedger/migrations"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		l := observability.NewLogger("main")
		l.Fatal().Err(err).Msg("configuration")
	}

	logFile := observability.ConfigureOutput(observability.LogFileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	defer logFile.Close()

	level := observability.ParseLogLevel(cfg.LogLevel)
	logger := observability.NewLoggerWithLevel("main", level)
	logger.Info().Msg("TroveLedger starting")

	if os.Getenv("GOGC") == "" {
		logger.Warn().Msg("GOGC not set, recommend GOGC=400 for production")
	}

	// --- Context with graceful shutdown ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Observability ---
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	healthChecker := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres open")
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal().Err(err).Msg("postgres ping")
	}
	logger.Info().Msg("Postgres connected")
	healthChecker.AddCheck("postgres", db.PingContext)

	if cfg.MigrateOnStart {
		migrator := persistence.NewMigrator(db, migrations.FS, observability.NewLoggerWithLevel("migrate", level))
		if err := migrator.Up(ctx); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
		}
	}

	// --- Recovery: local state or checkpoint, then the log tail ---
	checkpoints := persistence.NewCheckpointStore(db)
	kv, err := openState(ctx, cfg, checkpoints, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open state")
	}
	defer kv.Close()

	// --- Channels ---
	// persist blocks (backpressure), projection drops when full
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	var publishChan chan core.CoreOutput
	if cfg.NATSURL != "" {
		publishChan = make(chan core.CoreOutput, cfg.PublishChanSize)
	}

	dbChecker := persistence.NewPostgresIdempotencyChecker(db)
	deterministicCore, err := core.NewDeterministicCore(kv, persistChan, projectionChan, dbChecker, metrics, core.Config{
		IdempotencyLRUCapacity: cfg.IdempotencyLRUCapacity,
		InvariantChecks:        cfg.InvariantChecks,
		Logger:                 observability.NewLoggerWithLevel("core", level),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build core")
	}

	if _, err := replayLog(ctx, deterministicCore, checkpoints, metrics, logger); err != nil {
		logger.Fatal().Err(err).Msg("event replay failed")
	}
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Hex("state_hash", hashBytes(deterministicCore.GetStateHash())).
		Msg("state recovered")

	// --- Persistence: drain the outbox left by the last run ---
	persistWorker := persistence.NewPersistenceWorker(
		db, persistChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics,
		observability.NewLoggerWithLevel("persistence", level),
	).WithAcker(deterministicCore)
	if publishChan != nil {
		persistWorker.WithPublish(publishChan)
	}
	pending, err := deterministicCore.PendingOutbox()
	if err != nil {
		logger.Fatal().Err(err).Msg("read outbox")
	}
	if len(pending) > 0 {
		if err := persistWorker.Drain(ctx, pending); err != nil {
			logger.Fatal().Err(err).Msg("drain outbox")
		}
		logger.Info().Int("events", len(pending)).Msg("outbox drained")
	}

	// --- Projections: catch up before accepting traffic ---
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics,
		observability.NewLoggerWithLevel("projection", level)).WithRebuild(checkpoints)
	watermark, err := projection.Watermark(ctx, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("read projection watermark")
	}
	if watermark < deterministicCore.GetSequence() {
		logger.Info().
			Int64("watermark", watermark).
			Int64("sequence", deterministicCore.GetSequence()).
			Msg("projections behind, rebuilding")
		if _, err := projection.RebuildProjections(ctx, db, checkpoints, logger); err != nil {
			logger.Fatal().Err(err).Msg("rebuild projections")
		}
	}

	// --- LRU warming ---
	keys, err := dbChecker.RecentKeys(ctx, cfg.LRUWarmKeys)
	if err != nil {
		logger.Warn().Err(err).Msg("LRU warm-up skipped")
	} else {
		deterministicCore.WarmLRU(keys)
		logger.Info().Int("keys", len(keys)).Msg("idempotency LRU warmed")
	}

	// --- Start goroutines ---
	errChan := make(chan error, 10)
	run := func(name string, fn func(context.Context) error) {
		go func() {
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errChan <- err
				return
			}
			logger.Info().Str("goroutine", name).Msg("stopped")
		}()
	}

	// 1. Persistence and projection workers must drain the core's channels
	// before genesis runs.
	run("persistence", persistWorker.Run)
	run("projection", projWorker.Run)

	// 2. Genesis on a fresh ledger
	if cfg.GenesisFile != "" && deterministicCore.GetSequence() == 0 {
		if err := applyGenesis(deterministicCore, cfg.GenesisFile, logger); err != nil {
			logger.Fatal().Err(err).Msg("genesis")
		}
	}

	// 3. Core runner: the only goroutine touching the core from here on
	runner := core.NewRunner(deterministicCore, observability.NewLoggerWithLevel("runner", level))
	run("runner", func(ctx context.Context) error { return runner.Run(ctx, nil) })

	// 4. NATS ingest and outbound publisher
	var subscriber *ingestion.NATSSubscriber
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLoggerWithLevel("nats", level)
		nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, natsLogger)
		if err != nil {
			logger.Fatal().Err(err).Msg("nats connect")
		}
		defer nc.Close()
		healthChecker.AddCheck("nats", func(context.Context) error {
			if nc.Status() != nats.CONNECTED {
				return errors.New(nc.Status().String())
			}
			return nil
		})

		if err := ingestion.EnsureStreams(ctx, js, natsLogger); err != nil {
			logger.Fatal().Err(err).Msg("ensure NATS streams")
		}

		rawChan := make(chan ingestion.RawEvent, cfg.InboundChanSize)
		subscriber = ingestion.NewNATSSubscriber(js, rawChan, natsLogger)
		if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
			logger.Fatal().Err(err).Msg("nats subscribe")
		}

		pump := ingestion.NewPump(runner, metrics, observability.NewLoggerWithLevel("pump", level))
		run("pump", func(ctx context.Context) error { return pump.Run(ctx, rawChan) })

		publisher := ingestion.NewOutboundPublisher(js, publishChan, natsLogger)
		run("publisher", publisher.Run)
	} else {
		logger.Warn().Msg("TROVE_NATS_URL empty, broker ingest and publishing disabled")
	}

	// 5. gRPC health + HTTP API
	srv := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		Core:         runner,
		Query:        query.NewQueryService(db, metrics),
		Rebuild:      projWorker.Rebuild,
		Health:       healthChecker,
		Metrics:      metrics,
		Logger:       observability.NewLoggerWithLevel("server", level),
		CommandRate:  cfg.CommandRate,
		CommandBurst: cfg.CommandBurst,
	})
	run("grpc", srv.StartGRPC)
	run("http", srv.StartHTTP)

	// 6. Checkpoints
	scheduler := cron.New()
	if cfg.CheckpointSchedule != "" {
		cpLogger := observability.NewLoggerWithLevel("checkpoint", level)
		if _, err := scheduler.AddFunc(cfg.CheckpointSchedule, func() {
			takeCheckpoint(ctx, runner, checkpoints, metrics, cpLogger)
		}); err != nil {
			logger.Fatal().Err(err).Msg("schedule checkpoints")
		}
		scheduler.Start()
	}

	// 7. Channel depth gauges
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("projection", len(projectionChan), cap(projectionChan))
				if publishChan != nil {
					metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				}
			}
		}
	}()

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Str("http", cfg.HTTPAddr).
		Str("grpc", cfg.GRPCAddr).
		Int64("sequence", deterministicCore.GetSequence()).
		Msg("TroveLedger ready")

	// --- Wait for shutdown ---
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		logger.Error().Err(err).Msg("goroutine failed, shutting down")
	}

	healthChecker.SetReady(false)
	srv.SetServing(false)
	if subscriber != nil {
		subscriber.Stop()
	}
	<-scheduler.Stop().Done()
	cancel()

	// Give the persistence worker time to flush its last batch.
	time.Sleep(500 * time.Millisecond)
	logger.Info().Int64("sequence", deterministicCore.GetSequence()).Msg("TroveLedger stopped")
}

func hashBytes(h [32]byte) []byte { return h[:] }
