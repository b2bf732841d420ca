// Package app wires the ledger's components from configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/josh-kwaku/campus-ledger/internal/audit"
	"github.com/josh-kwaku/campus-ledger/internal/config"
	"github.com/josh-kwaku/campus-ledger/internal/handler"
	"github.com/josh-kwaku/campus-ledger/internal/metrics"
	"github.com/josh-kwaku/campus-ledger/internal/repository"
	"github.com/josh-kwaku/campus-ledger/internal/service/conflict"
	"github.com/josh-kwaku/campus-ledger/internal/service/ingest"
	"github.com/josh-kwaku/campus-ledger/internal/service/ledger"
	"github.com/josh-kwaku/campus-ledger/internal/service/offline"
	"github.com/josh-kwaku/campus-ledger/internal/service/reconcile"
	"github.com/josh-kwaku/campus-ledger/internal/whitelist"
)

const (
	dbConnectAttempts = 30
	auditWriteTimeout = 5 * time.Second
)

type App struct {
	DB       *sql.DB
	Redis    *redis.Client
	Kafka    *kafka.Writer
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Audit    *audit.Recorder

	Idempotency *repository.IdempotencyRepository
	Ledger      *ledger.Service
	Whitelist   *whitelist.Service
	Conflicts   *conflict.Resolver
	Pipeline    *ingest.Pipeline
	Reconciler  *reconcile.Engine
}

// New connects to Postgres and the optional Redis and Kafka backends, then
// builds every service on top of them.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
	}, dbConnectAttempts)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}

	a := &App{DB: db, Registry: prometheus.NewRegistry()}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.New(a.Registry)

	sinks := []audit.Sink{audit.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		a.Kafka = audit.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaAuditTopic)
		sinks = append(sinks, audit.NewKafkaSink(a.Kafka, auditWriteTimeout))
		logger.Info("kafka audit sink enabled", "topic", cfg.KafkaAuditTopic, "brokers", len(cfg.KafkaBrokers))
	}
	a.Audit = audit.NewRecorder(logger, a.Metrics, sinks...)

	var cache *whitelist.Cache
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable at startup, whitelist reads fall back to postgres", "error", err)
		}
		cache = whitelist.NewCache(a.Redis, cfg.WhitelistCacheTTL)
	}

	accounts := repository.NewAccountRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	a.Idempotency = repository.NewIdempotencyRepository(db)

	a.Ledger = ledger.NewService(accounts, ledgerRepo, a.Idempotency, a.Audit, a.Metrics, ledger.Config{
		MaxAttempts:      cfg.LedgerMaxAttempts,
		RetryInitial:     cfg.LedgerRetryInitial,
		RetryMax:         cfg.LedgerRetryMax,
		MutationTimeout:  cfg.LedgerMutationTimeout,
		ReservationLease: cfg.IdempotencyLease,
	})

	// a nil *Cache must not reach the interface
	if cache != nil {
		a.Whitelist = whitelist.NewService(repository.NewWhitelistRepository(db), accounts, cache, nil)
	} else {
		a.Whitelist = whitelist.NewService(repository.NewWhitelistRepository(db), accounts, nil, nil)
	}

	a.Conflicts = conflict.NewResolver(repository.NewConflictRepository(db), a.Ledger, a.Audit, a.Metrics, conflict.Config{
		DefaultStrategy: cfg.ConflictDefaultStrategy,
	})

	a.Pipeline = ingest.NewPipeline(
		a.Idempotency,
		a.Ledger,
		a.Conflicts,
		offline.NewVerifier([]byte(cfg.DeviceSigningSecret)),
		logger.With("component", "sync"),
		a.Metrics,
		ingest.Config{
			MaxBatch:         cfg.SyncMaxBatch,
			Concurrency:      cfg.SyncConcurrency,
			ClockSkew:        cfg.SyncClockSkew,
			ReservationLease: cfg.IdempotencyLease,
		},
	)

	a.Reconciler = reconcile.NewEngine(
		accounts,
		ledgerRepo,
		a.Ledger,
		repository.NewReconciliationRepository(db),
		a.Audit,
		logger.With("component", "reconciliation"),
		a.Metrics,
		reconcile.Config{
			AutoAdjustThreshold: cfg.ReconcileAutoAdjustThreshold,
			MaxAttempts:         cfg.ReconcileMaxAttempts,
			Concurrency:         cfg.ReconcileConcurrency,
		},
	)

	return a, nil
}

// Handlers builds the HTTP handlers over the app's services.
func (a *App) Handlers() Handlers {
	checks := map[string]handler.Check{"database": a.DB.PingContext}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return Handlers{
		Accounts:       handler.NewAccountHandler(a.Ledger),
		Sync:           handler.NewSyncHandler(a.Pipeline),
		Whitelist:      handler.NewWhitelistHandler(a.Whitelist),
		Conflicts:      handler.NewConflictHandler(a.Conflicts),
		Reconciliation: handler.NewReconciliationHandler(a.Reconciler, nil),
		Health:         handler.NewHealthHandler(checks),
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Kafka != nil {
		errs = append(errs, a.Kafka.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
