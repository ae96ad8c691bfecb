package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"energymon/backend/libs/db"
	libredis "energymon/backend/libs/redis"
	"energymon/backend/services/energy-service/internal/cache"
	"energymon/backend/services/energy-service/internal/config"
	httpserver "energymon/backend/services/energy-service/internal/http"
	"energymon/backend/services/energy-service/internal/http/handlers"
	"energymon/backend/services/energy-service/internal/http/middleware"
	"energymon/backend/services/energy-service/internal/mqtt"
	redisstore "energymon/backend/services/energy-service/internal/redis"
	"energymon/backend/services/energy-service/internal/repository"
	"energymon/backend/services/energy-service/internal/service"
	"energymon/backend/services/energy-service/internal/ws"
)

// App wires energy service dependencies.
type App struct {
	server     *httpserver.Server
	subscriber *mqtt.Subscriber
	hub        *ws.Hub
	db         *db.Handle
	redis      *goredis.Client
	logger     *zap.Logger
}

// OpenStore opens the configured backend and makes sure the readings table exists.
func OpenStore(ctx context.Context, cfg *config.Config) (*db.Handle, *repository.ReadingsRepository, error) {
	var (
		handle *db.Handle
		err    error
	)
	switch cfg.StorageDriver() {
	case string(db.DialectPostgres):
		handle, err = db.NewPostgres(ctx, cfg.Storage.DSN)
	default:
		handle, err = db.NewSQLite(ctx, db.SQLiteOptions{
			Path:        cfg.Storage.Path,
			BusyTimeout: cfg.BusyTimeout(),
		})
	}
	if err != nil {
		return nil, nil, err
	}

	repo := repository.NewReadingsRepository(handle)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = handle.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return handle, repo, nil
}

// New constructs application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	handle, repo, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &App{db: handle, logger: logger}

	latest := cache.NewLatest()

	var ingestOpts []service.IngestorOption
	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, libredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		ingestOpts = append(ingestOpts, service.WithMirror(
			redisstore.NewLatestMirror(client, cfg.Redis.Key, cfg.Redis.Channel, cfg.RedisTTL()),
		))
	}

	ingestor := service.NewIngestor(repo, latest, logger.Named("ingest"), ingestOpts...)
	queries := service.NewQueryService(repo, latest, service.QueryOptions{
		HistoryDefault: cfg.Query.HistoryDefault,
		HistoryMax:     cfg.Query.HistoryMax,
		StaleAfter:     cfg.StaleAfter(),
		DisplayOffset:  cfg.DisplayOffset(),
	})

	if cfg.MQTT.Enabled {
		a.subscriber = mqtt.NewSubscriber(mqtt.Options{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientIDPrefix: cfg.MQTT.ClientIDPrefix,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			KeepAlive:      cfg.MQTTKeepAlive(),
			QoS:            byte(cfg.MQTT.QoS),
		}, ingestor, logger.Named("mqtt"))
	}

	a.hub = ws.NewHub(queries, ws.HubOptions{Interval: cfg.StreamInterval()}, logger.Named("stream"))

	auth := middleware.AuthMiddleware(cfg.Auth.JWTSecret)
	if cfg.Auth.Disabled {
		logger.Warn("authentication disabled for dashboard endpoints")
		auth = middleware.Passthrough
	}

	router := httpserver.NewRouter(httpserver.RouterDeps{
		ReadingsHandler: handlers.NewReadingsHandler(ingestor, logger),
		QueryHandlers:   handlers.NewQueryHandlers(queries, logger),
		HealthHandler:   handlers.NewHealthHandler(repo),
		StreamHandler:   http.HandlerFunc(a.hub.HandleWS),
	}, auth)

	a.server = httpserver.NewServer(
		httpserver.Options{
			Addr:            cfg.HTTPAddress(),
			Name:            "energy-service",
			ShutdownTimeout: cfg.ShutdownTimeout(),
		},
		router,
		logger,
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	return a, nil
}

// Run serves HTTP, the realtime stream and the feed subscription until ctx is done. Losing the
// feed is logged and leaves the push endpoint serving.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.server.Run(ctx)
	})
	g.Go(func() error {
		return a.hub.Run(ctx)
	})
	if a.subscriber != nil {
		g.Go(func() error {
			if err := a.subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("feed subscriber stopped", zap.Error(err))
			}
			return nil
		})
	}

	return g.Wait()
}

// Close releases resources.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close db", zap.Error(err))
		}
	}
}
