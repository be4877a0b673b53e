package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SiteSpectra/internal/api"
	"SiteSpectra/internal/compact"
	"SiteSpectra/internal/config"
	"SiteSpectra/internal/ingest"
	"SiteSpectra/internal/query"
	"SiteSpectra/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
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

	minuteCutoff, _ := time.ParseDuration(cfg.Compaction.MinuteCutoff)
	hourCutoff, _ := time.ParseDuration(cfg.Compaction.HourCutoff)
	compactor := compact.New(rollups, minuteCutoff, hourCutoff, cfg.Compaction.BatchSize)

	srv, err := api.NewServer(cfg.API,
		ingest.New(rollups, events),
		query.New(rollups, events),
		compactor)
	if err != nil {
		log.Fatalf("Failed to create API server: %v", err)
	}

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("API server exited.")
}
