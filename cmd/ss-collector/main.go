package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"
	"SiteSpectra/internal/probe"
	"SiteSpectra/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	log.Println("Starting ss-collector...")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	rollups, closeRollups, err := store.OpenRollups(ctx, cfg.Rollups)
	if err != nil {
		log.Fatalf("Failed to open rollup store: %v", err)
	}
	defer closeRollups()

	events, closeEvents, err := store.OpenEvents(cfg.Events)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	defer closeEvents()

	pipeline := ingest.New(rollups, events)

	sub, err := probe.NewSubscriber(cfg.NATS)
	if err != nil {
		log.Fatalf("Failed to connect subscriber: %v", err)
	}
	defer sub.Close()

	err = sub.Start(func(req *ingest.Request) {
		res, err := pipeline.Ingest(context.Background(), req)
		if err != nil {
			log.Printf("Error ingesting event for site %q path %q: %v", req.Site, req.Path, err)
			return
		}
		if res.Dropped {
			log.Printf("Dropped bot event for site %q", req.Site)
		}
	})
	if err != nil {
		log.Fatalf("Failed to subscribe: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutdown signal received, stopping collector...")
	log.Println("Shutdown complete.")
}
