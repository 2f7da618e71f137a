package main

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"todolist/config"
	"todolist/events"
	"todolist/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch cfg.Backend {
	case config.BackendMongo:
		if err := createCollection(ctx, cfg.Mongo); err != nil {
			log.Fatalf("create collection: %v", err)
		}
		log.Infof("collection %s ready", cfg.Mongo.Collection)
	case config.BackendTables:
		s, err := storage.NewTables(cfg.Tables.ConnectionString, cfg.Tables.Table)
		if err != nil {
			log.Fatalf("tables: %v", err)
		}
		if err := s.EnsureTable(ctx); err != nil {
			log.Fatalf("create table: %v", err)
		}
		log.Infof("table %s ready", cfg.Tables.Table)
	default:
		log.Infof("backend %s needs no provisioning", cfg.Backend)
	}

	if cfg.Events.Enabled() {
		q, err := events.NewQueueClient(cfg.Events.ConnectionString, cfg.Events.Queue)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		if err := events.EnsureQueue(ctx, q); err != nil {
			log.Fatalf("create queue: %v", err)
		}
		log.Infof("queue %s ready", cfg.Events.Queue)
	}

	log.Info("storage init complete")
}

func createCollection(ctx context.Context, mc config.MongoConfig) error {
	m, err := storage.OpenMongo(ctx, storage.MongoOptions{
		URI:                    mc.URI,
		Collection:             mc.Collection,
		ServerSelectionTimeout: mc.ServerSelectionTimeout,
		SocketTimeout:          mc.SocketTimeout,
	}, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(context.Background()); err != nil {
			log.Warnf("mongo disconnect: %v", err)
		}
	}()
	return m.EnsureCollection(ctx)
}
