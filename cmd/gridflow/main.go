package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridflow/internal/config"
	"gridflow/internal/coordinator"
	"gridflow/internal/queue"
	"gridflow/internal/server"
	"gridflow/internal/sources"
	"gridflow/internal/storage"
	_ "gridflow/internal/storage/sqlite"
)

var (
	configPath = flag.String("config", "config.toml", "Path to configuration file")
)

func main() {
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal: %v\n", sig)
		fmt.Println("Shutting down gracefully...")
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run(ctx context.Context) error {
	fmt.Printf("Loading configuration from: %s\n", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := storage.New(cfg.Storage.Type, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close(context.Background())

	jobs, status, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer jobs.Close()
	defer status.Close()

	coord := coordinator.New(jobs, status, sources.NewRegistry(), store.Records(), store.Quarantine())
	for id, src := range cfg.Sources {
		coord.RegisterSource(src.BuildSource(id))
	}
	transformations := coordinator.DefaultTransformations()
	for name, p := range cfg.Pipelines {
		coord.RegisterPipeline(p.BuildPipeline(name, transformations))
	}

	for i := 0; i < cfg.Worker.Count; i++ {
		go coord.RunWorker(ctx)
	}

	srv := server.New(server.Config{Port: cfg.Server.Port}, coord)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	<-ctx.Done()

	fmt.Println("\nInitiating shutdown...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	fmt.Println("Service stopped successfully")
	return nil
}

func buildQueue(cfg *config.Config) (queue.JobQueue, queue.StatusStore, error) {
	if cfg.Queue.Type == "redis" {
		jobs, err := queue.NewRedisQueue(cfg.Queue.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize job queue: %w", err)
		}
		status, err := queue.NewRedisStatusStore(cfg.Queue.Addr, cfg.StatusTTL())
		if err != nil {
			jobs.Close()
			return nil, nil, fmt.Errorf("failed to initialize status store: %w", err)
		}
		return jobs, status, nil
	}
	return queue.NewMemoryQueue(0), queue.NewMemoryStatusStore(cfg.StatusTTL()), nil
}
