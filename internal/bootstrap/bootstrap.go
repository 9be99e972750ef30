// Package bootstrap собирает инфраструктуру леджера из конфигурации:
// хранилище, блокировки, кэш, шину событий и проверки здоровья.
// Используется и API-сервером, и воркером, чтобы оба процесса работали
// с одинаковыми правилами.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/academy-hub/tuition-ledger/config"
	"github.com/academy-hub/tuition-ledger/internal/application/command"
	"github.com/academy-hub/tuition-ledger/internal/application/query"
	"github.com/academy-hub/tuition-ledger/internal/domain/ledger"
	"github.com/academy-hub/tuition-ledger/internal/domain/shared"
	"github.com/academy-hub/tuition-ledger/internal/domain/student"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/lock"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/messaging"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/memory"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/postgres"
	"github.com/academy-hub/tuition-ledger/internal/infrastructure/persistence/redis"
	"github.com/academy-hub/tuition-ledger/internal/interface/http/handlers"
	"github.com/academy-hub/tuition-ledger/pkg/circuitbreaker"
	"github.com/academy-hub/tuition-ledger/pkg/logger"
	"github.com/academy-hub/tuition-ledger/pkg/retry"
	"github.com/academy-hub/tuition-ledger/pkg/timeutil"
)

// Infrastructure - собранные зависимости одного процесса.
type Infrastructure struct {
	Config *config.Config
	Log    *logger.Logger

	UnitOfWork ledger.UnitOfWorkFactory
	Store      ledger.Store
	Locker     ledger.Locker
	Engine     *ledger.Engine

	// Snapshots - nil, если кэш снимков выключен или redis недоступен.
	Snapshots ledger.SnapshotCache

	Bus    *messaging.InMemoryEventBus
	Events shared.EventPublisher

	FeeStructures student.FeeStructureProvider
	Health        *handlers.CompositeHealthChecker

	closers []func()
}

// NewLogger создаёт логгер процесса по настройкам наблюдаемости.
func NewLogger(cfg *config.Config, component string) *logger.Logger {
	level := logger.ParseLevel(cfg.Observability.LogLevel)
	if cfg.App.Debug {
		level = logger.LevelDebug
	}
	return logger.New(logger.Options{
		Output:    os.Stdout,
		Level:     level,
		AddCaller: cfg.Observability.AddCaller,
	}).With(
		logger.String("app", cfg.App.Name),
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.Component(component),
	)
}

// Build подключается к хранилищам и собирает Infrastructure. При ошибке
// всё уже открытое закрывается.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Infrastructure, err error) {
	timeutil.SetLocation(cfg.App.Location)

	infra := &Infrastructure{
		Config: cfg,
		Log:    log,
		Health: handlers.NewCompositeHealthChecker(cfg.App.Version),
	}
	defer func() {
		if err != nil {
			infra.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ХРАНИЛИЩЕ
	// ─────────────────────────────────────────────────────────────────────────
	if err := infra.openStorage(ctx); err != nil {
		return nil, err
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (кэш, блокировки, pub/sub)
	// ─────────────────────────────────────────────────────────────────────────
	cache, err := infra.openRedis(ctx)
	if err != nil {
		return nil, err
	}

	features := cfg.Features
	if cache != nil && features.IsEnabled(config.FeatureDistributedLock) {
		infra.Locker = redis.NewLocker(cache, cfg.Ledger.LockTTL)
		log.Info("using redis student locks", logger.Duration("ttl", cfg.Ledger.LockTTL))
	} else {
		infra.Locker = lock.NewKeyedMutex()
	}
	if features.IsEnabled(config.FeatureSnapshotCache) {
		switch {
		case cache != nil:
			cb := infra.redisBreaker("redis-snapshots")
			infra.Snapshots = redis.NewGuardedSnapshotCache(redis.NewSnapshotCache(cache), cb)
		case cfg.Ledger.Storage == config.StorageMemory:
			// Без redis кэш в процессе годится только для одного процесса.
			infra.Snapshots = memory.NewSnapshotCache()
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	infra.Bus = messaging.NewInMemoryEventBus(busCfg)
	infra.closers = append(infra.closers, func() { _ = infra.Bus.Close() })

	targets := []shared.EventPublisher{infra.Bus}
	if cache != nil && features.IsEnabled(config.FeatureRedisEvents) {
		cb := infra.redisBreaker("redis-events")
		targets = append(targets, redis.NewGuardedPublisher(redis.NewEventPublisher(cache), cb))
	}
	infra.Events = messaging.NewFanoutPublisher(log, targets...)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. ДВИЖОК И КАТАЛОГ СТОИМОСТИ
	// ─────────────────────────────────────────────────────────────────────────
	infra.Engine = ledger.NewEngine(
		ledger.Policy{OverdueThresholdMonths: cfg.Ledger.OverdueThresholdMonths},
		ledger.WithFutureDateCheck(features.IsEnabled(config.FeatureFutureDateCheck)),
	)

	catalog := memory.NewFeeCatalog()
	if path := cfg.Ledger.FeeStructuresFile; path != "" {
		catalog, err = memory.LoadFeeCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("fee structures: %w", err)
		}
		log.Info("fee structures loaded", logger.String("file", path), logger.Count("structures", catalog.Len()))
	}
	infra.FeeStructures = catalog

	return infra, nil
}

func (i *Infrastructure) openStorage(ctx context.Context) error {
	cfg := i.Config

	if cfg.Ledger.Storage == config.StorageMemory {
		i.Log.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		i.UnitOfWork, i.Store = store, store
		return nil
	}

	opts := postgres.DefaultPoolOptions()
	if cfg.Database.MaxOpenConns > 0 {
		opts.MaxConns = int32(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		opts.MinConns = int32(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		opts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		opts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	i.Log.Info("connecting to database...")
	var conn *postgres.Connection
	err := retry.ConnectRetrier(cfg.Database.ConnectAttempts, i.onConnectRetry("postgres")).
		Do(ctx, func(ctx context.Context) error {
			c, err := postgres.NewConnection(ctx, cfg.Database.URL, opts)
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	i.closers = append(i.closers, func() {
		i.Log.Info("closing database connection...")
		conn.Close()
	})
	i.Health.AddCheck("postgres", handlers.NewPingCheck(conn))
	i.Log.Info("database connection established")

	if cfg.Database.AutoMigrate {
		i.Log.Info("checking database migrations...")
		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		i.Log.Info("database schema is up to date")
	}

	store := postgres.NewStore(conn)
	i.UnitOfWork, i.Store = store, store
	return nil
}

// openRedis возвращает nil без ошибки, если redis выключен или недоступен
// и ни одна включённая функция без него не работает.
func (i *Infrastructure) openRedis(ctx context.Context) (*redis.Cache, error) {
	cfg := i.Config
	if cfg.Redis.Disabled {
		return nil, nil
	}

	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	if cfg.Redis.PoolSize > 0 {
		rc.PoolSize = cfg.Redis.PoolSize
	}
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	if cfg.Redis.DialTimeout > 0 {
		rc.DialTimeout = cfg.Redis.DialTimeout
	}
	if cfg.Redis.ReadTimeout > 0 {
		rc.ReadTimeout = cfg.Redis.ReadTimeout
	}
	if cfg.Redis.WriteTimeout > 0 {
		rc.WriteTimeout = cfg.Redis.WriteTimeout
	}

	required := cfg.Features.IsEnabled(config.FeatureDistributedLock)

	i.Log.Info("connecting to Redis...", logger.String("addr", rc.Addr()))
	var cache *redis.Cache
	err := retry.ConnectRetrier(3, i.onConnectRetry("redis")).Do(ctx, func(context.Context) error {
		c, err := redis.NewCache(rc)
		if err != nil {
			return err
		}
		cache = c
		return nil
	})
	if err != nil {
		if required {
			return nil, fmt.Errorf("redis is required for distributed locks: %w", err)
		}
		i.Log.Warn("failed to connect to Redis, caching disabled", logger.Err(err))
		return nil, nil
	}

	i.closers = append(i.closers, func() { _ = cache.Close() })
	if required {
		i.Health.AddCheck("redis", handlers.NewPingCheck(cache))
	} else {
		i.Health.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
	}
	i.Log.Info("Redis connection established")
	return cache, nil
}

func (i *Infrastructure) onConnectRetry(target string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		i.Log.Warn("connection attempt failed",
			logger.String("target", target),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", delay),
			logger.Err(err),
		)
	}
}

// redisBreaker создаёт предохранитель для необязательной функции redis и
// показывает его состояние в /health.
func (i *Infrastructure) redisBreaker(name string) *circuitbreaker.CircuitBreaker {
	cb := circuitbreaker.RedisBreaker(name, i.onBreakerStateChange)
	i.Health.AddOptionalCheck(cb.Name(), func(context.Context) error {
		if state := cb.State(); state != circuitbreaker.StateClosed {
			return fmt.Errorf("circuit %s", state)
		}
		return nil
	})
	return cb
}

func (i *Infrastructure) onBreakerStateChange(name string, from, to circuitbreaker.State) {
	fields := []logger.Field{
		logger.String("breaker", name),
		logger.String("from", from.String()),
		logger.String("to", to.String()),
	}
	if to == circuitbreaker.StateOpen {
		i.Log.Warn("circuit breaker opened", fields...)
		return
	}
	i.Log.Info("circuit breaker state changed", fields...)
}

// CommandDependencies возвращает зависимости обработчиков команд.
func (i *Infrastructure) CommandDependencies() command.Dependencies {
	return command.Dependencies{
		UnitOfWork: i.UnitOfWork,
		Locker:     i.Locker,
		Engine:     i.Engine,
		Cache:      i.Snapshots,
		CacheTTL:   i.Config.Ledger.SnapshotCacheTTL,
		Events:     i.Events,
		Logger:     i.Log,
	}
}

// QueryDependencies возвращает зависимости обработчиков запросов.
func (i *Infrastructure) QueryDependencies() query.Dependencies {
	return query.Dependencies{
		Store:  i.Store,
		Policy: i.Engine.Policy(),
		Cache:  i.Snapshots,
		Logger: i.Log,
	}
}

// Close закрывает ресурсы в обратном порядке открытия.
func (i *Infrastructure) Close() {
	for n := len(i.closers) - 1; n >= 0; n-- {
		i.closers[n]()
	}
	i.closers = nil
}
