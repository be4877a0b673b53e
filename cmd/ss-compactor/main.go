package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SiteSpectra/internal/compact"
	"SiteSpectra/internal/config"
	"SiteSpectra/internal/store"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	once := flag.Bool("once", false, "run a single compaction pass and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rollups, closeRollups, err := store.OpenRollups(ctx, cfg.Rollups)
	if err != nil {
		log.Fatalf("Failed to open rollup store: %v", err)
	}
	defer closeRollups()

	minuteCutoff, _ := time.ParseDuration(cfg.Compaction.MinuteCutoff)
	hourCutoff, _ := time.ParseDuration(cfg.Compaction.HourCutoff)
	compactor := compact.New(rollups, minuteCutoff, hourCutoff, cfg.Compaction.BatchSize)

	if *once {
		compactor.RunOnce(ctx, 0)
		return
	}

	interval, err := time.ParseDuration(cfg.Compaction.Interval)
	if err != nil || interval <= 0 {
		log.Fatalf("Invalid compaction interval %q", cfg.Compaction.Interval)
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutdown signal received, stopping compactor...")
		cancel()
	}()

	log.Printf("Compactor running every %s (minute cutoff %s, hour cutoff %s, batch %d)",
		interval, cfg.Compaction.MinuteCutoff, cfg.Compaction.HourCutoff, cfg.Compaction.BatchSize)
	compactor.Runner(ctx, interval)
	log.Println("Shutdown complete.")
}
