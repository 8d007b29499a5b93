// Command dlqmanager requeues dead-lettered outbox messages so the relay
// retries them with a fresh budget. It runs once and exits; scope the run
// with OUTBOX_DLQ_EVENT_TYPE and OUTBOX_DLQ_LIMIT.
package main

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/outbox/internal/config"
	"example.com/outbox/internal/persistence/postgres"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)

	requeued, err := store.RequeueDeadLetters(ctx, cfg.DLQEventType, cfg.DLQLimit)
	if err != nil {
		log.Fatalf("dead-letter requeue failed: %v", err)
	}

	if cfg.DLQEventType != "" {
		log.Printf("requeued %d dead-lettered messages (event_type=%s)", requeued, cfg.DLQEventType)
	} else {
		log.Printf("requeued %d dead-lettered messages", requeued)
	}
}
