package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"campusattend/internal/config"
	"campusattend/internal/queue"
	"campusattend/internal/stats"
	"campusattend/internal/store"
)

// Worker consumes attendance.marked events and drops the cached stats they
// make stale.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.QueueBackend != "redis" {
		log.Fatalf("worker needs QUEUE_BACKEND=redis, got %q; the api invalidates in-process with the memory queue", cfg.QueueBackend)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Printf("WARNING: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
	}

	q := queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	// Invalidation only touches the cache, so no record store is wired.
	svc := stats.NewService(nil, stats.NewRedisCache(redisClient.Client, "", cfg.StatsCacheTTL))

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Printf("worker started, waiting for messages on %s...", cfg.QueueKey)
	n := svc.Run(ctx, messages)
	log.Printf("worker stopped after %d messages", n)
}
