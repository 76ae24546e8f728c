package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/recoverly-app/recoveryservice/internal/account"
	"github.com/recoverly-app/recoveryservice/internal/cache"
	"github.com/recoverly-app/recoveryservice/internal/config"
	"github.com/recoverly-app/recoveryservice/internal/domain"
	"github.com/recoverly-app/recoveryservice/internal/dunning"
	"github.com/recoverly-app/recoveryservice/internal/events"
	"github.com/recoverly-app/recoveryservice/internal/gateway"
	"github.com/recoverly-app/recoveryservice/internal/jobs"
	"github.com/recoverly-app/recoveryservice/internal/notify"
	"github.com/recoverly-app/recoveryservice/internal/recovery"
	"github.com/recoverly-app/recoveryservice/internal/repo/postgres"
	"github.com/recoverly-app/recoveryservice/internal/server"
	"github.com/recoverly-app/recoveryservice/internal/tracing"
)

// App owns every long-lived component of the recovery service and wires
// them together at startup. Redis and Kafka are optional; the service
// degrades to uncached reads and unpublished events when they are down.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *postgres.Store
	stateCache *cache.StateCache
	publisher  events.Publisher

	Scheduler *recovery.Scheduler
	Dunning   *dunning.Engine
	Accounts  *account.Manager
	Runner    *jobs.Runner

	cron      *jobs.Scheduler
	admin     *server.AdminServer
	stopTrace func()
}

// New builds the service from configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	if cfg.Tracing.Enabled {
		stop, err := tracing.Init(tracing.Config{
			ServiceName:    cfg.AppName,
			JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
			SamplingRatio:  cfg.Tracing.SamplingRatio,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.stopTrace = stop
	}

	store, err := postgres.NewStore(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	a.store = store

	if cfg.Redis.Addr != "" {
		stateCache, err := cache.NewStateCacheFromAddr(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cache.DefaultStateTTL)
		if err != nil {
			logger.Warn("Redis unavailable, running without state cache", zap.Error(err))
		} else {
			a.stateCache = stateCache
		}
	}

	a.publisher = events.Publisher(events.NoopPublisher{})
	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		if err != nil {
			logger.Warn("Kafka unavailable, events will not be published", zap.Error(err))
		} else {
			a.publisher = publisher
		}
	}

	if cfg.Stripe.SecretKey == "" {
		return nil, fmt.Errorf("stripe.secret_key is required")
	}
	paymentGateway := gateway.NewStripeGateway(cfg.Stripe.SecretKey, logger)

	a.Accounts = account.NewManager(store.AccountStates(), a.stateCache, a.publisher, cfg.Jobs.GracePeriodBatchSize)
	a.Dunning = dunning.NewEngine(store.Campaigns(), store.Communications(), notify.NewLogNotifier(logger), a.publisher, cfg.Jobs.CommunicationBatchSize)
	a.Scheduler = recovery.NewScheduler(store.Failures(), paymentGateway, a.Dunning, a.Accounts, a.publisher, logger, cfg.Jobs.RetryBatchSize)

	a.Runner = jobs.NewRunner(store.JobRuns(), cfg.Jobs.JobTimeout, cfg.Jobs.MaxConcurrentJobs)
	a.Runner.Register(domain.JobPaymentRetry, func(ctx context.Context) (jobs.Result, error) {
		r, err := a.Scheduler.ProcessPendingRetries(ctx)
		return jobs.Result{Processed: r.Processed, Successful: r.Successful, Failed: r.Failed}, err
	})
	a.Runner.Register(domain.JobDunningCampaigns, func(ctx context.Context) (jobs.Result, error) {
		r, err := a.Dunning.ProcessPendingCommunications(ctx)
		return jobs.Result{Processed: r.Processed, Successful: r.Successful, Failed: r.Failed}, err
	})
	a.Runner.Register(domain.JobGracePeriodMonitoring, func(ctx context.Context) (jobs.Result, error) {
		r, err := a.Accounts.ProcessExpiredGracePeriods(ctx)
		return jobs.Result{Processed: r.Processed, Successful: r.Successful, Failed: r.Failed}, err
	})
	a.Runner.Register(domain.JobAnalyticsGeneration, jobs.NewAnalyticsJob(store.Failures()))

	cronScheduler, err := jobs.NewScheduler(a.Runner, cfg.Jobs, logger)
	if err != nil {
		return nil, err
	}
	a.cron = cronScheduler

	a.admin = server.NewAdminServer(cfg.Admin.Address, cfg.Admin.JWTSecret, a.Runner, a.Accounts, logger)

	return a, nil
}

// Run starts the scheduler and admin server, then blocks until ctx is
// canceled.
func (a *App) Run(ctx context.Context) error {
	a.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.admin.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops components in reverse dependency order.
func (a *App) Shutdown(ctx context.Context) {
	a.cron.Stop()

	if err := a.admin.Shutdown(ctx); err != nil {
		a.logger.Error("Admin server shutdown failed", zap.Error(err))
	}
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("Event publisher close failed", zap.Error(err))
	}
	if a.stateCache != nil {
		if err := a.stateCache.Close(); err != nil {
			a.logger.Error("State cache close failed", zap.Error(err))
		}
	}
	a.store.Close()

	if a.stopTrace != nil {
		a.stopTrace()
	}
	a.logger.Info("Shutdown complete")
}
