package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"todolist/api"
	"todolist/config"
	"todolist/events"
	"todolist/storage"
)

type backend interface {
	api.Storage
	Ping(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn := storage.NewConnection(cfg.Retry.Policy(), logger)
	store, closeStore, err := openStorage(ctx, cfg, conn)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	go func() {
		if err := conn.Establish(ctx, store.Ping); err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("storage unavailable; serving with health reporting unhealthy")
			}
			return
		}
		// Mongo reports reachability through driver heartbeats.
		if cfg.Backend == config.BackendTables {
			conn.Watch(ctx, cfg.Tables.Table, store.Ping, cfg.Tables.HealthInterval)
		}
	}()

	var tasks api.Storage = store
	opts := []api.Option{
		api.WithLegacyErrors(cfg.LegacyErrors),
		api.WithStaticDir(cfg.StaticDir),
	}

	var rc *redis.Client
	if cfg.Cache.Enabled() {
		rc = redis.NewClient(config.RedisOptions(cfg.Cache.Redis))
		cache := storage.NewCache(tasks, rc, cfg.Cache.TTL)
		tasks = cache
		opts = append(opts, api.WithCache(cache))
		logger.Infof("task list cache enabled, ttl: %v", cfg.Cache.TTL)
	}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.Enabled() {
		q, err := events.NewQueueClient(cfg.Events.ConnectionString, cfg.Events.Queue)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		pub = events.NewQueuePublisher(events.QueueEnqueuer(q), events.Options{
			Workers:        cfg.Events.Workers,
			Buffer:         cfg.Events.Buffer,
			HandoffTimeout: cfg.Events.HandoffTimeout,
			Timeout:        cfg.Events.Timeout,
		}, logger)
		tasks = events.NewPublishingStore(tasks, pub, logger)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			entry := logger.WithFields(log.Fields{
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency_ms": float64(v.Latency) / float64(time.Millisecond),
				"request_id": v.RequestID,
			})
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http.request")
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	api.Register(e, tasks, conn, logger, opts...)

	go func() {
		logger.Infof("listening on %s, storage backend: %s", cfg.ListenAddr(), cfg.Backend)
		if err := e.Start(cfg.ListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := pub.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("event publisher shutdown failed")
	}
	if err := closeStore(shutdownCtx); err != nil {
		logger.WithError(err).Error("storage shutdown failed")
	}
	if rc != nil {
		if err := rc.Close(); err != nil {
			logger.WithError(err).Error("redis shutdown failed")
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("tracer shutdown failed")
	}
	logger.Info("server stopped")
}

func openStorage(ctx context.Context, cfg *config.Config, conn *storage.Connection) (backend, func(context.Context) error, error) {
	noClose := func(context.Context) error { return nil }
	switch cfg.Backend {
	case config.BackendTables:
		s, err := storage.NewTables(cfg.Tables.ConnectionString, cfg.Tables.Table)
		if err != nil {
			return nil, nil, err
		}
		return s, noClose, nil
	case config.BackendMemory:
		return storage.NewMemory(), noClose, nil
	default:
		s, err := storage.OpenMongo(ctx, storage.MongoOptions{
			URI:                    cfg.Mongo.URI,
			Collection:             cfg.Mongo.Collection,
			ServerSelectionTimeout: cfg.Mongo.ServerSelectionTimeout,
			SocketTimeout:          cfg.Mongo.SocketTimeout,
		}, conn)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
}
