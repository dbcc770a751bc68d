package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jwebster45206/dialogue-engine/internal/bootstrap"
	"github.com/jwebster45206/dialogue-engine/internal/config"
	"github.com/jwebster45206/dialogue-engine/internal/logger"
	"github.com/jwebster45206/dialogue-engine/internal/services/events"
	"github.com/jwebster45206/dialogue-engine/internal/services/queue"
	"github.com/jwebster45206/dialogue-engine/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting Dialogue Engine Worker",
		"environment", cfg.Environment,
		"store_backend", cfg.StoreBackend,
		"concurrency", cfg.WorkerConcurrency)

	queueClient, err := queue.NewClient(cfg.RedisURL, log)
	if err != nil {
		log.Error("Failed to create queue client", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			log.Error("Error closing queue client", "error", err)
		}
	}()
	turnQueue := queue.NewTurnQueue(queueClient, log)
	broadcaster := events.NewBroadcaster(queueClient.GetRedisClient(), log)
	log.Info("Queue service initialized successfully")

	store, err := bootstrap.OpenStore(context.Background(), cfg, log)
	if err != nil {
		log.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("Error closing store", "error", err)
		}
	}()
	log.Info("Store initialized successfully")

	engine, err := bootstrap.NewEngine(cfg, store, log)
	if err != nil {
		log.Error("Failed to configure turn engine", "error", err)
		os.Exit(1)
	}

	w := worker.New(turnQueue, engine, broadcaster, cfg.WorkerConcurrency, log, cfg.WorkerID)

	done := make(chan error, 1)
	go func() {
		done <- w.Start()
	}()
	log.Info("Worker started, waiting for requests...", "worker_id", w.ID())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info("Worker shutdown signal received")
		w.Stop()
		// Start returns once in-flight turns finish
		err = <-done
	case err = <-done:
	}

	if err != nil {
		log.Error("Worker error", "error", err)
	}
	log.Info("Worker exited")
}
