// Package outbox implements transactional outbox capture: tracked aggregate
// writes enlist an outbox record in the same database transaction, which the
// relay later delivers to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an outbox record.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
)

// DefaultMaxRetries is the publish attempt budget before dead-lettering.
const DefaultMaxRetries = 3

// Record is one row of outbox_messages: a single domain event colocated
// transactionally with the write that caused it.
type Record struct {
	ID            uuid.UUID
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       []byte
	ChangedFields []byte // nil unless an update with diff tracking enabled
	Status        Status
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	MaxRetries    int
	ErrorMessage  string
	WorkerID      string
	Version       int64
}

// NewRecord builds a PENDING record with a fresh ID and creation timestamp.
func NewRecord(aggregateID, aggregateType, eventType string, payload, changedFields []byte, maxRetries int) *Record {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Record{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payload,
		ChangedFields: changedFields,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
		MaxRetries:    maxRetries,
	}
}

// CanRetry reports whether the record still has publish attempts left.
func (r *Record) CanRetry() bool {
	return r.RetryCount < r.MaxRetries
}

// IsTerminal reports whether the record reached a state the relay never
// touches again.
func (r *Record) IsTerminal() bool {
	return r.Status == StatusSent || r.Status == StatusDeadLetter
}

// Enlister appends a record to the transaction the host write is running in.
// The postgres store provides the production implementation bound to a pgx.Tx.
type Enlister interface {
	Enlist(ctx context.Context, rec *Record) error
}
