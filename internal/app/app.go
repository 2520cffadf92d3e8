// Package app wires the ledger's collaborators from configuration. It is
// shared by the server, the worker and the sweep CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"lotledger/internal/config"
	corenumerator "lotledger/internal/core/numerator"
	"lotledger/internal/core/lock"
	"lotledger/internal/domain/integrity"
	"lotledger/internal/domain/lots"
	"lotledger/internal/domain/reconcile"
	"lotledger/internal/infrastructure/cache"
	"lotledger/internal/infrastructure/numerator"
	"lotledger/internal/infrastructure/storage/postgres"
	"lotledger/internal/infrastructure/storage/postgres/catalog_repo"
	"lotledger/internal/infrastructure/storage/postgres/lot_repo"
	"lotledger/internal/infrastructure/storage/postgres/reconcile_repo"
	"lotledger/pkg/logger"
)

// App holds the wired services.
type App struct {
	Config *config.Config
	Log    *logger.Logger

	Pool      *pgxpool.Pool
	TxManager *postgres.TxManager
	Redis     *redis.Client

	Leases    *postgres.LeaseStore
	Locker    lock.Locker
	Items     *cache.ItemCache
	Products  *catalog_repo.ProductRepo
	Movements *postgres.MovementLog

	Guard          *integrity.Guard
	OperationGuard *integrity.OperationGuard
	Reconciler     *reconcile.Service
	Lots           *lots.Service
}

// Build connects to the stores and wires every service.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	poolCfg := postgres.DefaultPoolConfig(cfg.DatabaseURL)
	if cfg.DBMaxConns > 0 {
		poolCfg.MaxConns = cfg.DBMaxConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.TxManager = postgres.NewTxManager(pool)
	a.Leases = postgres.NewLeaseStore(pool)

	if cfg.RedisEnabled {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.Redis = client
	}

	switch cfg.LockBackend {
	case config.BackendRedis:
		a.Locker = cache.NewRedisLocker(a.Redis)
	case config.BackendLocal:
		a.Locker = lock.NewLocal()
	default:
		a.Locker = a.Leases
	}

	var gen corenumerator.Generator
	switch cfg.NumeratorBackend {
	case config.BackendRedis:
		gen = numerator.NewRedis(a.Redis, numerator.DefaultCounterTTL)
	default:
		gen = numerator.New(pool)
	}

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Items = cache.NewItemCache(catalog_repo.NewItemRepo(a.TxManager), pool, 0)
	a.Products = catalog_repo.NewProductRepo(a.TxManager)

	a.Movements, err = postgres.NewMovementLog(a.TxManager)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("movement log: %w", err)
	}

	a.Guard = integrity.NewGuard(a.Items, a.Products, integrity.Config{
		RepairMaxAttempts: cfg.RepairMaxAttempts,
	})
	a.OperationGuard = integrity.NewOperationGuard(a.Locker, cfg.OperationGuardTTL)
	a.Reconciler = reconcile.NewService(reconcile_repo.New(a.TxManager), a.TxManager, a.Locker, reconcile.DefaultConfig())

	svcCfg := lots.DefaultServiceConfig()
	svcCfg.ExpiryWindowDays = cfg.ExpiryWindowDays
	svcCfg.CASMaxRetries = cfg.CASMaxRetries
	svcCfg.Location = loc

	a.Lots = lots.NewService(lots.Deps{
		Repo:       lot_repo.New(a.TxManager),
		Items:      a.Items,
		Products:   a.Products,
		Numerator:  gen,
		TxManager:  a.TxManager,
		Duplicates: a.Reconciler,
		Movements:  a.Movements,
		Events:     postgres.NewOutboxPublisher(a.TxManager),
	}, svcCfg)

	log.Infow("services wired",
		"lock_backend", cfg.LockBackend,
		"numerator_backend", cfg.NumeratorBackend,
		"redis", cfg.RedisEnabled,
		"entry_number_tz", loc.String(),
	)
	return a, nil
}

// Close releases connections. Safe on a partially built App.
func (a *App) Close() {
	if a.Items != nil {
		a.Items.Stop()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Warnw("redis close failed", "error", err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}
