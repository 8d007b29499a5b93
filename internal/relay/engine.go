// Package relay polls the outbox store and forwards records to Kafka with
// bounded retries, dead-lettering, and periodic pruning.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"example.com/outbox/internal/observability"
	"example.com/outbox/internal/outbox"
)

var tracer = otel.Tracer("example.com/outbox/internal/relay")

// Store is the outbox query surface the engine depends on.
type Store interface {
	LeasePending(ctx context.Context, workerID string, limit int) ([]*outbox.Record, error)
	Claim(ctx context.Context, rec *outbox.Record, workerID string) (bool, error)
	MarkSent(ctx context.Context, rec *outbox.Record) (bool, error)
	MarkFailed(ctx context.Context, rec *outbox.Record, errMsg string) (outbox.Status, bool, error)
	CountByStatus(ctx context.Context, status outbox.Status) (int64, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher is the bus contract: synchronous keyed publish with
// acknowledgement.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Options tunes the engine. Zero values fall back to the documented defaults.
type Options struct {
	WorkerID        string
	BatchSize       int
	PollInterval    time.Duration
	TopicPrefix     string
	DeadLetterTopic string
	CleanupAt       string // HH:MM wall clock for the daily prune
	Retention       time.Duration
}

// Engine runs the relay's two recurrent tasks: poll and prune. Multiple
// engines may run against one outbox; the store's version guard is the only
// coordination between them.
type Engine struct {
	store            Store
	publisher        Publisher
	opts             Options
	shutdownComplete chan struct{}
}

// NewEngine constructs an Engine.
func NewEngine(store Store, publisher Publisher, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "outbox.events"
	}
	if opts.DeadLetterTopic == "" {
		opts.DeadLetterTopic = "outbox.dead-letter"
	}
	if opts.CleanupAt == "" {
		opts.CleanupAt = "02:00"
	}
	if opts.Retention <= 0 {
		opts.Retention = 30 * 24 * time.Hour
	}
	return &Engine{
		store:            store,
		publisher:        publisher,
		opts:             opts,
		shutdownComplete: make(chan struct{}),
	}
}

// WorkerID returns this engine's identity.
func (e *Engine) WorkerID() string { return e.opts.WorkerID }

// Run launches the polling loop and the daily pruner. It should be called in
// a goroutine; on cancellation the current record is drained before exit.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.opts.PollInterval)
	prune := time.NewTimer(time.Until(nextCleanup(time.Now(), e.opts.CleanupAt)))
	defer func() {
		ticker.Stop()
		prune.Stop()
		close(e.shutdownComplete)
	}()

	for {
		if err := e.pollOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("outbox relay: poll error: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-prune.C:
			if err := e.pruneOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("outbox relay: prune error: %v", err)
			}
			prune.Reset(time.Until(nextCleanup(time.Now(), e.opts.CleanupAt)))
		}
	}
}

// Wait blocks until the engine has drained and stopped.
func (e *Engine) Wait() {
	<-e.shutdownComplete
}

// pollOnce executes one poll pass: lease a batch, publish each record in
// created_at order, transition statuses, refresh gauges.
func (e *Engine) pollOnce(ctx context.Context) error {
	observability.RecordPolling()

	ctx, span := tracer.Start(ctx, "outbox.relay.process")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", e.opts.WorkerID))

	batch, err := e.store.LeasePending(ctx, e.opts.WorkerID, e.opts.BatchSize)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	log.Printf("outbox relay: processing %d pending records", len(batch))

	for _, rec := range batch {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.processRecord(ctx, rec)
	}

	return e.refreshGauges(ctx)
}

// processRecord publishes one record and writes back its status. Per-record
// failures never propagate; the record either retries on a later poll or
// dead-letters.
func (e *Engine) processRecord(ctx context.Context, rec *outbox.Record) {
	ctx, span := tracer.Start(ctx, "outbox.relay.process_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("message.id", rec.ID.String()),
		attribute.String("aggregate.type", rec.AggregateType),
		attribute.String("event.type", rec.EventType),
		attribute.String("worker.id", e.opts.WorkerID),
	)

	claimed, err := e.store.Claim(ctx, rec, e.opts.WorkerID)
	if err != nil {
		log.Printf("outbox relay: claim failed for %s: %v", rec.ID, err)
		return
	}
	if !claimed {
		// Another worker owns this record now.
		return
	}

	envelope, err := outbox.BuildEnvelope(rec, e.opts.WorkerID)
	if err != nil {
		e.handleFailure(ctx, rec, nil, fmt.Errorf("building envelope: %w", err))
		return
	}

	topic := outbox.TopicName(e.opts.TopicPrefix, rec.AggregateType)
	start := time.Now()
	if err := e.publisher.Publish(ctx, topic, []byte(rec.AggregateID), envelope); err != nil {
		e.handleFailure(ctx, rec, envelope, err)
		return
	}
	observability.ObserveProcessingTime(rec.AggregateType, time.Since(start))

	sent, err := e.store.MarkSent(ctx, rec)
	if err != nil {
		log.Printf("outbox relay: mark sent failed for %s: %v", rec.ID, err)
		return
	}
	if sent {
		observability.RecordProcessed(rec.AggregateType, string(outbox.StatusSent))
	}
}

func (e *Engine) handleFailure(ctx context.Context, rec *outbox.Record, envelope []byte, cause error) {
	log.Printf("outbox relay: publish failed for %s: %v", rec.ID, cause)

	status, updated, err := e.store.MarkFailed(ctx, rec, cause.Error())
	if err != nil {
		log.Printf("outbox relay: mark failed errored for %s: %v", rec.ID, err)
		return
	}
	if !updated {
		return
	}
	observability.RecordProcessed(rec.AggregateType, string(outbox.StatusFailed))

	if status == outbox.StatusDeadLetter {
		e.publishDeadLetter(ctx, rec, envelope)
	}
}

// publishDeadLetter mirrors an exhausted record onto the dead-letter topic,
// keyed by record ID. Best effort: a failure here is logged, not raised.
func (e *Engine) publishDeadLetter(ctx context.Context, rec *outbox.Record, envelope []byte) {
	if envelope == nil {
		var err error
		envelope, err = outbox.BuildEnvelope(rec, e.opts.WorkerID)
		if err != nil {
			log.Printf("outbox relay: dead-letter envelope for %s: %v", rec.ID, err)
			return
		}
	}
	if err := e.publisher.Publish(ctx, e.opts.DeadLetterTopic, []byte(rec.ID.String()), envelope); err != nil {
		log.Printf("outbox relay: dead-letter publish failed for %s: %v", rec.ID, err)
		return
	}
	log.Printf("outbox relay: record %s moved to dead letter", rec.ID)
}

func (e *Engine) refreshGauges(ctx context.Context) error {
	pending, err := e.store.CountByStatus(ctx, outbox.StatusPending)
	if err != nil {
		return err
	}
	failed, err := e.store.CountByStatus(ctx, outbox.StatusFailed)
	if err != nil {
		return err
	}
	deadLetter, err := e.store.CountByStatus(ctx, outbox.StatusDeadLetter)
	if err != nil {
		return err
	}
	observability.SetQueueDepths(pending, failed, deadLetter)
	return nil
}

// pruneOnce deletes SENT records older than the retention window.
func (e *Engine) pruneOnce(ctx context.Context) error {
	cutoff := time.Now().Add(-e.opts.Retention)
	deleted, err := e.store.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("outbox relay: pruned %d sent records", deleted)
	}
	return nil
}

// nextCleanup returns the next occurrence of the HH:MM wall-clock time,
// defaulting to 02:00 on parse failure.
func nextCleanup(now time.Time, at string) time.Time {
	parsed, err := time.Parse("15:04", at)
	if err != nil {
		parsed, _ = time.Parse("15:04", "02:00")
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
