package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/outbox/internal/config"
	"example.com/outbox/internal/persistence/postgres"
	"example.com/outbox/internal/relay"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	producer := relay.NewKafkaProducer(cfg.KafkaBrokers)
	defer producer.Close()

	engine := relay.NewEngine(store, producer, relay.Options{
		WorkerID:        cfg.WorkerID,
		BatchSize:       cfg.BatchSize,
		PollInterval:    cfg.PollInterval,
		TopicPrefix:     cfg.TopicPrefix,
		DeadLetterTopic: cfg.DeadLetterTopic,
		CleanupAt:       cfg.CleanupAt,
		Retention:       cfg.Retention(),
	})

	if cfg.RelayEnabled {
		go engine.Run(ctx)
		log.Printf("outbox relay started (worker=%s, interval=%s, batch=%d)", cfg.WorkerID, cfg.PollInterval, cfg.BatchSize)
	} else {
		log.Println("outbox relay disabled by configuration")
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("relay metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownCh

	cancel()
	if cfg.RelayEnabled {
		engine.Wait()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
