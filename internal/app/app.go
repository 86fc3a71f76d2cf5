package app

import (
	"context"
	"strconv"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/circuitbreaker"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/config"
	"webhook-delivery/internal/delivery"
	"webhook-delivery/internal/health"
	"webhook-delivery/internal/locks"
	"webhook-delivery/internal/oauth2"
	"webhook-delivery/internal/queue"
	"webhook-delivery/internal/redis"
	"webhook-delivery/internal/secrets"
	"webhook-delivery/internal/server"
	"webhook-delivery/internal/signature"
	"webhook-delivery/internal/storage"
	"webhook-delivery/internal/worker"
)

// JobQueue is the queue backend seen by the engine: workers receive from it
// and the state machine re-enqueues retries into it.
type JobQueue interface {
	queue.Source
	queue.Sink
}

// App holds all the delivery engine dependencies.
type App struct {
	Config       *config.Config
	Store        storage.Store
	Queue        JobQueue
	RedisClient  *redis.Client
	Secrets      *secrets.Resolver
	Codec        *signature.Codec
	TokenCache   *oauth2.Cache
	AuthResolver *auth.Resolver
	Auditor      *auth.Auditor
	Tracker      *health.Tracker
	Breakers     *circuitbreaker.Manager
	Machine      *delivery.Machine
	Pool         *worker.Pool
	Locks        locks.LockManager
	Server       *server.Server
	Logger       logging.Logger

	maintenance *maintenance
}

// New creates an application instance with all dependencies wired.
func New(cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logging.GetGlobalLogger().WithFields(logging.Field{Key: "component", Value: "app"}),
	}

	// Components in dependency order. The secret resolver comes first:
	// nothing that touches stored credentials works without it.
	if err := app.initializeCrypto(); err != nil {
		return nil, err
	}
	if err := app.initializeStorage(); err != nil {
		return nil, err
	}
	if err := app.initializeQueue(); err != nil {
		app.Store.Close()
		return nil, err
	}
	if err := app.initializeAuth(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initializeDelivery(); err != nil {
		app.Cleanup()
		return nil, err
	}
	app.initializeServer()
	app.maintenance = newMaintenance(app.Store, app.Queue, app.Locks, app.Logger)

	return app, nil
}

func (app *App) initializeCrypto() error {
	resolver, err := secrets.NewResolver(app.Config.EncryptionKey)
	if err != nil {
		return err
	}
	codec, err := signature.NewCodec(app.Config.SignatureVersions, app.Config.SignatureTolerance)
	if err != nil {
		return err
	}
	app.Secrets = resolver
	app.Codec = codec
	return nil
}

func (app *App) initializeStorage() error {
	store, err := storage.NewStore(app.Config)
	if err != nil {
		return err
	}
	app.Store = store
	app.Logger.Info("storage initialized",
		logging.String("type", app.Config.DatabaseType))
	return nil
}

func (app *App) initializeQueue() error {
	switch app.Config.QueueType {
	case "redis":
		redisDB, _ := strconv.Atoi(app.Config.RedisDB)
		poolSize, _ := strconv.Atoi(app.Config.RedisPoolSize)
		client, err := redis.NewClient(&redis.Config{
			Address:  app.Config.RedisAddress,
			Password: app.Config.RedisPassword,
			DB:       redisDB,
			PoolSize: poolSize,
		})
		if err != nil {
			return errors.ConnectionError("failed to connect to redis", err)
		}
		q, err := queue.NewRedisQueue(client.GoRedisClient(), app.Config.QueueName,
			app.Config.QueueVisibilityTimeout, app.Logger)
		if err != nil {
			client.Close()
			return err
		}
		lockManager, err := locks.NewDistributedLockManager(client)
		if err != nil {
			client.Close()
			return err
		}
		app.RedisClient = client
		app.Queue = q
		app.Locks = lockManager

	case "amqp":
		q, err := queue.NewAMQPQueue(app.Config.AMQPURL, app.Config.QueueName, app.Logger)
		if err != nil {
			return err
		}
		app.Queue = q

	default:
		return errors.ConfigError("unsupported queue type: " + app.Config.QueueType)
	}

	app.Logger.Info("queue initialized",
		logging.String("type", app.Config.QueueType),
		logging.String("name", app.Config.QueueName))
	return nil
}

func (app *App) initializeAuth() error {
	var tokenStorage oauth2.TokenStorage
	if app.RedisClient != nil {
		tokenStorage = oauth2.NewRedisTokenStorage(app.RedisClient)
	} else {
		tokenStorage = oauth2.NewMemoryTokenStorage()
	}

	opts := []oauth2.CacheOption{
		oauth2.WithRefreshThreshold(app.Config.OAuth2RefreshThreshold),
	}
	if app.Locks != nil {
		opts = append(opts, oauth2.WithLockManager(app.Locks))
	}
	cache, err := oauth2.NewCache(tokenStorage, app.Secrets, app.Logger, opts...)
	if err != nil {
		return err
	}

	resolver, err := auth.NewResolver(app.Store, app.Secrets, cache, app.Logger)
	if err != nil {
		return err
	}

	app.TokenCache = cache
	app.AuthResolver = resolver
	app.Auditor = auth.NewAuditor(app.Store, app.Logger)
	return nil
}

func (app *App) initializeDelivery() error {
	tracker, err := health.NewTracker(app.Store, app.Logger, health.Options{
		DisableThreshold:  app.Config.DisableThreshold,
		RecoveryThreshold: app.Config.RecoveryThreshold,
	})
	if err != nil {
		return err
	}
	app.Tracker = tracker
	app.Breakers = circuitbreaker.NewManager(circuitbreaker.DeliveryConfig, app.Logger)

	machine, err := delivery.NewMachine(
		app.Store, app.AuthResolver, app.Secrets, app.Codec,
		app.Breakers, app.Tracker, app.Auditor, app.Queue,
		delivery.MachineConfig{
			Backoff: delivery.BackoffPolicy{
				MaxFast:  app.Config.RetryMaxFast,
				MaxSlow:  app.Config.RetryMaxSlow,
				FastBase: app.Config.RetryFastBase,
				SlowBase: app.Config.RetrySlowBase,
				SlowMax:  app.Config.RetrySlowMax,
			},
			ConnectTimeout:   app.Config.ConnectTimeout,
			TotalTimeout:     app.Config.TotalTimeout,
			SignatureHeader:  app.Config.SignatureHeader,
			SSRFCheckEnabled: app.Config.SSRFCheckEnabled,
		},
		app.Logger,
	)
	if err != nil {
		return err
	}
	app.Machine = machine

	pool, err := worker.NewPool(app.Queue, machine, app.Config.WorkerConcurrency, app.Logger)
	if err != nil {
		return err
	}
	app.Pool = pool
	return nil
}

func (app *App) initializeServer() {
	var depth server.QueueDepth
	if q, ok := app.Queue.(server.QueueDepth); ok {
		depth = q
	}
	handlers := server.NewHandlers(app.Store, app.Pool, app.Tracker, app.Breakers, depth, app.Logger)
	app.Server = server.New(handlers.Routes(), app.Config.Port, app.Logger)
}

// Start brings up the workers, the maintenance schedule, and the
// operational server.
func (app *App) Start(ctx context.Context) error {
	if err := app.Pool.Start(ctx); err != nil {
		return err
	}
	app.maintenance.Start()
	app.Server.Start()
	app.Logger.Info("delivery engine started",
		logging.Int("workers", app.Config.WorkerConcurrency),
		logging.String("port", app.Config.Port))
	return nil
}

// Shutdown stops job intake, drains in-flight attempts, and shuts the
// operational server down.
func (app *App) Shutdown(ctx context.Context) error {
	app.maintenance.Stop()
	poolErr := app.Pool.Stop(ctx)
	srvErr := app.Server.Shutdown(ctx)
	if poolErr != nil {
		return poolErr
	}
	return srvErr
}

// Cleanup releases all resources. Safe to call on a partially built App.
func (app *App) Cleanup() {
	if app.Queue != nil {
		app.Queue.Close()
	}
	if app.Locks != nil {
		app.Locks.Close()
	}
	if app.RedisClient != nil {
		app.RedisClient.Close()
	}
	if app.Store != nil {
		app.Store.Close()
	}
}
