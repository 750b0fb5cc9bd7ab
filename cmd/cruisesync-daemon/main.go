package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/seatrade/cruisesync-go/internal/adapters/ftp"
	httpadapter "github.com/seatrade/cruisesync-go/internal/adapters/http"
	"github.com/seatrade/cruisesync-go/internal/adapters/metrics"
	"github.com/seatrade/cruisesync-go/internal/adapters/notify"
	"github.com/seatrade/cruisesync-go/internal/adapters/persistence"
	"github.com/seatrade/cruisesync-go/internal/adapters/queue"
	"github.com/seatrade/cruisesync-go/internal/application/intake"
	"github.com/seatrade/cruisesync-go/internal/application/pipeline"
	"github.com/seatrade/cruisesync-go/internal/application/reaper"
	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
	"github.com/seatrade/cruisesync-go/internal/domain/shared"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/config"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/database"
	"github.com/seatrade/cruisesync-go/internal/infrastructure/pidfile"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "cruisesync-daemon",
		Short: "Webhook-triggered cruise pricing ingestion daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.Logging)
	log.Info().Str("env", cfg.App.Env).Msg("cruisesync daemon starting")

	if cfg.App.PIDFile != "" {
		pf := pidfile.New(cfg.App.PIDFile)
		if err := pf.Acquire(); err != nil {
			return err
		}
		defer func() {
			if err := pf.Release(); err != nil {
				log.Error().Err(err).Msg("failed to release pid file")
			}
		}()
	}

	if cfg.Server.MetricsEnabled {
		metrics.InitRegistry()
		collector := metrics.NewIngestionMetricsCollector()
		if err := collector.Register(metrics.GetRegistry()); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		metrics.SetGlobalIntakeCollector(collector)
		metrics.SetGlobalPipelineCollector(collector)
	}

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(db); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()
	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid queue backend url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	clock := shared.NewRealClock()
	jobs := queue.New(rdb, queue.Config{
		KeyPrefix:   cfg.Queue.KeyPrefix,
		BackoffBase: time.Duration(cfg.Queue.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Queue.BackoffMaxMs) * time.Millisecond,
	}, clock, log)

	events := persistence.NewGormWebhookEventRepository(db, clock)
	flags := persistence.NewGormSystemFlagRepository(db)
	locks := persistence.NewGormSyncLockRepository(db, clock)
	cruises := persistence.NewGormCruiseRepository(db, cfg.Sync.PriceEpsilon, clock, log)

	breaker := ftp.NewCircuitBreaker(
		cfg.FTP.CircuitThreshold,
		time.Duration(cfg.FTP.CircuitWindowMs)*time.Millisecond,
		time.Duration(cfg.FTP.CircuitCoolOffMs)*time.Millisecond,
		clock,
	)
	breaker.OnStateChange(func(from, to ftp.CircuitState) {
		metrics.RecordCircuitState(to.String())
		log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("ftp circuit transition")
	})
	dialer := ftp.NewDialer(ftp.DialConfig{
		Host:      cfg.FTP.Host,
		User:      cfg.FTP.User,
		Password:  cfg.FTP.Password,
		OpTimeout: time.Duration(cfg.FTP.OpTimeoutMs) * time.Millisecond,
		UseTLS:    cfg.FTP.UseTLS,
	})
	pool := ftp.NewPool(dialer, breaker, ftp.PoolConfig{
		Size:        cfg.FTP.PoolSize,
		MaxLifetime: time.Duration(cfg.FTP.MaxSessionLifetimeMs) * time.Millisecond,
	}, clock, log)
	defer pool.Close()
	discovery := ftp.NewDiscovery(pool, log)

	var notifier ingestion.Notifier = ingestion.NoopNotifier{}
	if cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.WebhookURL, cfg.Slack.Channel, log)
	}

	intakeService := intake.NewService(events, flags, jobs, intake.Config{
		DedupWindow: time.Duration(cfg.Sync.DedupWindowSec) * time.Second,
		MaxAttempts: cfg.Queue.WebhookMaxAttempts,
	}, clock, log)

	pipelineService := pipeline.NewService(
		events, locks, flags, jobs, discovery, discovery, cruises, notifier,
		pipeline.Config{
			DiscoveryWindowMonths: cfg.Sync.DiscoveryWindowMonths,
			MaxInlineBatch:        cfg.Sync.MaxInlineBatch,
			BatchSize:             cfg.Sync.BatchSize,
			RelockBackoff:         time.Duration(cfg.Sync.RelockBackoffMs) * time.Millisecond,
			QueueHighWaterMark:    cfg.Sync.QueueHighWaterMark,
			MaxAttempts:           cfg.Queue.LineMaxAttempts,
		},
		clock, log,
	)

	drainer := pipeline.NewDrainer(cruises, flags, discovery, pipeline.DrainConfig{
		RatePerSec: cfg.Sync.DrainRatePerSec,
		BatchSize:  cfg.Sync.DrainBatchSize,
		CommitSize: cfg.Sync.BatchSize,
		Interval:   time.Duration(cfg.Sync.DrainIntervalMs) * time.Millisecond,
	}, clock, log)

	janitor := reaper.New(jobs, events, locks, cruises, reaper.Config{
		Interval:          time.Duration(cfg.Reaper.IntervalMs) * time.Millisecond,
		StalledAfter:      time.Duration(cfg.Queue.StalledMs) * time.Millisecond,
		StuckEventAfter:   time.Duration(cfg.Reaper.StuckEventMs) * time.Millisecond,
		LockTTL:           time.Duration(cfg.Reaper.LockTTLMs) * time.Millisecond,
		SnapshotRetention: time.Duration(cfg.Reaper.SnapshotRetentionDays) * 24 * time.Hour,
		EventRetention:    time.Duration(cfg.Reaper.EventRetentionDays) * 24 * time.Hour,
	}, clock, log)

	workerCfg := func(queueName string, concurrency int) queue.WorkerConfig {
		return queue.WorkerConfig{
			Queue:          queueName,
			Concurrency:    concurrency,
			HeartbeatEvery: time.Duration(cfg.Queue.HeartbeatMs) * time.Millisecond,
			JobTimeout:     time.Duration(cfg.Queue.JobTimeoutMs) * time.Millisecond,
		}
	}
	intakePool := queue.NewWorkerPool(jobs,
		workerCfg(ingestion.QueueWebhookIntake, cfg.Queue.WebhookConcurrency),
		pipelineService.HandleWebhookIntake, log)
	linePool := queue.NewWorkerPool(jobs,
		workerCfg(ingestion.QueueCruiseLineProcessing, cfg.Queue.LineConcurrency),
		pipelineService.HandleLineBatch, log)
	for _, wp := range []*queue.WorkerPool{intakePool, linePool} {
		wp.OnRetry = func(job *queue.Job, err error) {
			metrics.RecordJobRetry(job.Queue)
		}
		wp.OnExhausted = func(job *queue.Job, err error) {
			metrics.RecordJobDeadLettered(job.Queue)
			pipelineService.FailEvent(job, err)
		}
	}

	server := httpadapter.NewServer(
		httpadapter.Config{
			Address:         cfg.Server.Address,
			ReadTimeout:     cfg.Server.ReadTimeout,
			WriteTimeout:    cfg.Server.WriteTimeout,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			MetricsEnabled:  cfg.Server.MetricsEnabled,
		},
		httpadapter.NewWebhookHandler(intakeService, log),
		httpadapter.NewAdminHandler(flags, events, jobs, cruises, cfg.Queue.WebhookMaxAttempts, log),
		log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	intakePool.Start(ctx)
	linePool.Start(ctx)
	go janitor.Run(ctx)
	go drainer.Run(ctx)

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
		stop()
	}

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
	intakePool.Wait()
	linePool.Wait()

	log.Info().Msg("cruisesync daemon stopped")
	return nil
}

// newLogger builds the process logger from config
func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out *os.File
	if cfg.Output == "stderr" {
		out = os.Stderr
	} else {
		out = os.Stdout
	}

	var logger zerolog.Logger
	if cfg.Format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(out)
	}
	logger = logger.Level(level).With().Timestamp().Logger()
	if cfg.IncludeCaller {
		logger = logger.With().Caller().Logger()
	}
	return logger
}
