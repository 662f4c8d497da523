package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/metrics"
	"github.com/marcelsud/webhook-dispatch/scheduler"
	"github.com/marcelsud/webhook-dispatch/tenants"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/executor"
	"github.com/marcelsud/webhook-dispatch/webhook/postgres"
	webhookredis "github.com/marcelsud/webhook-dispatch/webhook/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

/* App wires the configured store, the tenants file and the delivery service
 * Every binary builds one; imports flow downward only: cmd -> app -> webhook -> storage
 */
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Tenants   *tenants.Loader
	Repo      webhook.Repository
	Policies  webhook.PolicyReader
	Heartbeat scheduler.Heartbeater
	Collector metrics.Collector
	Service   *webhook.Service
	Registry  *prometheus.Registry

	closers []func(context.Context) error
}

// New opens the store, seeds it from the tenants file and builds the service
func New(ctx context.Context, cfg *config.Config, name string) (*App, error) {
	logger := httplog.NewLogger(name, httplog.Options{
		JSON: true,
	}).Level(cfg.GetLogLevel())

	loader := tenants.NewLoader()
	if err := loader.Load(cfg.TenantsFile); err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Tenants:  loader,
		Registry: prometheus.NewRegistry(),
	}

	var policies tenants.PolicySaver
	switch cfg.Store {
	case config.StoreRedis:
		repo, err := webhookredis.NewRepository(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		a.Repo = repo
		// Redis keeps no policies, they are served from the tenants file
		a.Policies = loader
		a.Heartbeat = repo
		a.Collector = metrics.NewRedisCollector(repo)
	case config.StorePostgres:
		repo, err := postgres.NewRepositoryWithPoolConfig(
			cfg.PostgresDSN,
			cfg.PostgresMaxOpenConns,
			cfg.PostgresMaxIdleConns,
			cfg.PostgresConnMaxLifeMinutes,
		)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, repo.Close)
		if err := repo.CreateSchema(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
		repo.DefaultPolicy = loader.Default
		a.Repo = repo
		a.Policies = repo
		if ttl := cfg.GetPolicyCacheTTL(); ttl > 0 {
			a.Policies = postgres.NewPolicyCache(repo, ttl)
		}
		a.Heartbeat = repo
		a.Collector = metrics.NewSQLCollector(repo)
		policies = repo
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	n, err := loader.Seed(ctx, a.Repo, policies)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	logger.Info().Int("subscriptions", n).Str("store", cfg.Store).Msg("tenants seeded")

	exec := executor.New(
		executor.WithTimeout(cfg.GetDeliveryTimeout()),
		executor.WithHeaderPrefix(cfg.HeaderPrefix),
		executor.WithMaxBodyChars(cfg.GetMaxResponseBodyChars()),
	)

	recorder := webhook.NewRecorder(a.Repo, a.Repo)
	recorder.Logger = logger
	recorder.Observer = metrics.NewDeliveryMetrics(a.Registry, "webhook")

	a.Service = webhook.NewService(a.Repo, a.Policies, exec, recorder)
	a.Service.Logger = logger
	a.Service.ClaimLease = cfg.GetClaimLease()
	a.Service.PendingGrace = cfg.GetPendingGrace()
	a.Service.ParkDelay = cfg.GetParkDelay()

	return a, nil
}

// NewScheduler builds a scheduler over the app's store and service
func (a *App) NewScheduler() *scheduler.Scheduler {
	return scheduler.New(a.Repo, a.Service,
		scheduler.WithInterval(a.Config.GetSchedulerInterval()),
		scheduler.WithBatchSize(a.Config.SchedulerBatchSize),
		scheduler.WithConcurrency(a.Config.SchedulerConcurrency),
		scheduler.WithRateLimit(a.Config.SchedulerRatePerSecond),
		scheduler.WithHeartbeat(a.Heartbeat),
		scheduler.WithLogger(a.Logger),
	)
}

// Close releases the store connections
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}
