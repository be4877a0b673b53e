package store

import (
	"context"
	"fmt"
	"log"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/model"
	"SiteSpectra/internal/store/chstore"
	"SiteSpectra/internal/store/memstore"
	"SiteSpectra/internal/store/mongostore"
)

// OpenRollups builds the rollup backend selected by configuration and
// returns it with a close function.
func OpenRollups(ctx context.Context, cfg config.RollupStoreConfig) (model.RollupStore, func(), error) {
	switch cfg.Type {
	case "mongo":
		s, err := mongostore.New(ctx, cfg.Mongo)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Rollup store: mongodb database %q", cfg.Mongo.Database)
		return s, func() { _ = s.Close(context.Background()) }, nil
	case "memory":
		log.Println("Rollup store: in-memory (data is lost on restart)")
		return memstore.NewRollupStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown rollup store type %q", model.ErrConfiguration, cfg.Type)
	}
}

// OpenEvents builds the event log backend selected by configuration
// and returns it with a close function.
func OpenEvents(cfg config.EventStoreConfig) (model.EventStore, func(), error) {
	switch cfg.Type {
	case "clickhouse":
		s, err := chstore.New(cfg.ClickHouse)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case "memory":
		log.Println("Event store: in-memory (data is lost on restart)")
		return memstore.NewEventStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown event store type %q", model.ErrConfiguration, cfg.Type)
	}
}
