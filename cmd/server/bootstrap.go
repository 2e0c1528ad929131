package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/breachrange/internal/api"
	"github.com/charlesng35/breachrange/internal/app"
	"github.com/charlesng35/breachrange/internal/app/maintenance"
	"github.com/charlesng35/breachrange/internal/cache"
	"github.com/charlesng35/breachrange/internal/database"
	"github.com/charlesng35/breachrange/internal/middleware"
	"github.com/charlesng35/breachrange/internal/monitoring"
	"github.com/charlesng35/breachrange/internal/monitoring/checks"
	"github.com/charlesng35/breachrange/internal/services"
	"github.com/charlesng35/breachrange/internal/upstream"
)

// runtimeStack bundles long-lived services used by the HTTP server and the CLI commands.
type runtimeStack struct {
	DB         *gorm.DB
	Store      cache.Store
	Resolver   *services.Resolver
	Cleaner    *maintenance.Cleaner
	RateStore  middleware.RateStore
	Monitoring *monitoring.Module
	Router     *gin.Engine
}

// buildCore opens the cache backend and wires the resolver and cleaner without starting
// any background work.
func buildCore(cfg *app.Config, log *zap.Logger, opts ...upstream.Option) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false
	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	var err error
	stack.Store, stack.DB, err = openStore(cfg, log)
	if err != nil {
		return nil, err
	}

	rangeCache, err := services.NewRangeCache(stack.Store, cfg.Cache.Namespace)
	if err != nil {
		return nil, err
	}

	client := upstream.NewClient(cfg.Upstream.ClientConfig(), opts...)
	stack.Resolver, err = services.NewResolver(rangeCache, client, services.ResolverOptions{
		TTL:      cfg.Cache.TTL,
		Coalesce: cfg.Resolver.Coalesce,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise resolver: %w", err)
	}

	var pruner cache.Pruner
	if p, ok := stack.Store.(cache.Pruner); ok && cfg.Maintenance.Enabled {
		pruner = p
	}
	stack.Cleaner = maintenance.NewCleaner(pruner, maintenance.WithCachePruneSchedule(cfg.Maintenance.CachePruneSchedule))

	success = true
	return stack, nil
}

// bootstrapRuntime builds the core services, monitoring and the HTTP router, then starts
// the maintenance scheduler.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger, opts ...upstream.Option) (*runtimeStack, error) {
	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack, err := buildCore(cfg, log, opts...)
	if err != nil {
		return nil, err
	}
	success := false
	defer func() {
		if !success {
			_ = stack.Shutdown(context.Background(), log)
		}
	}()

	if cfg.Monitoring.Prometheus.Enabled || cfg.Monitoring.Health.Enabled {
		stack.Monitoring, err = monitoring.NewModule(monitoring.Options{CacheBackend: cfg.Cache.Backend})
		if err != nil {
			return nil, fmt.Errorf("initialise monitoring: %w", err)
		}
		monitoring.SetModule(stack.Monitoring)
		registerHealthChecks(stack.Monitoring.Health(), cfg, stack)
	}

	if cfg.RateLimit.Enabled {
		stack.RateStore = middleware.NewStoreRateStore(stack.Store)
	}

	stack.Router, err = api.NewRouter(cfg, stack.Resolver, stack.RateStore, stack.Monitoring)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	success = true
	return stack, nil
}

func registerHealthChecks(manager *monitoring.HealthManager, cfg *app.Config, stack *runtimeStack) {
	if manager == nil || !cfg.Monitoring.Health.Enabled {
		return
	}
	manager.RegisterReadiness(checks.Cache(cfg.Cache.Backend, stack.Store, cfg.Cache.Redis.Timeout))
	if stack.Cleaner != nil && stack.Cleaner.Enabled() {
		manager.RegisterReadiness(checks.Maintenance(0))
	}
}

// openStore constructs the configured cache backend. The database handle is returned for
// the SQL backend so health checks and shutdown can reach it.
func openStore(cfg *app.Config, log *zap.Logger) (cache.Store, *gorm.DB, error) {
	opts := cfg.Cache.StoreOptions()

	switch cfg.Cache.Backend {
	case app.CacheBackendRedis:
		store, err := cache.NewRedisStore(cfg.Cache.RedisClientConfig(), opts)
		if err != nil {
			return nil, nil, fmt.Errorf("initialise redis cache: %w", err)
		}
		log.Info("cache backend ready", zap.String("backend", cfg.Cache.Backend))
		return store, nil, nil
	case app.CacheBackendDatabase:
		db, err := initialiseDatabase(cfg, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("cache backend ready", zap.String("backend", cfg.Cache.Backend))
		return cache.NewDatabaseStore(db, opts), db, nil
	case app.CacheBackendMemory:
		log.Info("cache backend ready", zap.String("backend", cfg.Cache.Backend))
		return cache.NewMemoryStore(opts), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func initialiseDatabase(cfg *app.Config, log *zap.Logger) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		_ = closeDatabase(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

// Shutdown stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			errs = multierr.Append(errs, fmt.Errorf("maintenance stop: %w", ctx.Err()))
		}
	}

	if s.Store != nil {
		errs = multierr.Append(errs, s.Store.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, closeDatabase(s.DB))
	}

	if errs != nil && log != nil {
		log.Warn("shutdown completed with errors", zap.Error(errs))
	}
	return errs
}

func closeDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("obtain sql DB: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
