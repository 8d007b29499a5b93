// Package postgres provides the typed access layer over outbox_messages.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/outbox/internal/outbox"
)

const recordColumns = `id, aggregate_id, aggregate_type, event_type, payload, changed_fields,
	status, created_at, processed_at, retry_count, max_retries, error_message, worker_id, version`

// Store runs the outbox queries against a shared connection pool. All
// mutating statements carry a version guard; a zero-row update means another
// worker moved the record and the caller drops it.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore constructs a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Enlist returns an enlister that appends records to the given transaction,
// so the outbox row commits or rolls back with the host write.
func Enlist(tx pgx.Tx) outbox.Enlister {
	return txEnlister{tx: tx}
}

type txEnlister struct {
	tx pgx.Tx
}

func (e txEnlister) Enlist(ctx context.Context, rec *outbox.Record) error {
	const stmt = `INSERT INTO outbox_messages
		(id, aggregate_id, aggregate_type, event_type, payload, changed_fields, status, created_at, max_retries)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	_, err := e.tx.Exec(ctx, stmt,
		rec.ID,
		rec.AggregateID,
		rec.AggregateType,
		rec.EventType,
		string(rec.Payload),
		nullIfEmpty(rec.ChangedFields),
		rec.Status,
		rec.CreatedAt,
		rec.MaxRetries,
	)
	return err
}

// LeasePending selects up to limit PENDING records visible to this worker in
// created_at order. Records claimed by other workers are excluded; the
// definitive exclusivity check is the version guard on Claim.
func (s *Store) LeasePending(ctx context.Context, workerID string, limit int) ([]*outbox.Record, error) {
	const query = `SELECT ` + recordColumns + `
		FROM outbox_messages
		WHERE status = 'PENDING' AND (worker_id IS NULL OR worker_id = $1)
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, workerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*outbox.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Claim asserts this worker's ownership of the record. It returns false when
// another worker already bumped the version.
func (s *Store) Claim(ctx context.Context, rec *outbox.Record, workerID string) (bool, error) {
	const stmt = `UPDATE outbox_messages
		SET worker_id = $3, version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'PENDING'`

	tag, err := s.pool.Exec(ctx, stmt, rec.ID, rec.Version, workerID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	rec.WorkerID = workerID
	rec.Version++
	return true, nil
}

// MarkSent transitions the record to SENT. Returns false on a stale version.
func (s *Store) MarkSent(ctx context.Context, rec *outbox.Record) (bool, error) {
	const stmt = `UPDATE outbox_messages
		SET status = 'SENT', processed_at = NOW(), error_message = NULL, version = version + 1
		WHERE id = $1 AND version = $2`

	tag, err := s.pool.Exec(ctx, stmt, rec.ID, rec.Version)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	rec.Status = outbox.StatusSent
	rec.ErrorMessage = ""
	rec.Version++
	return true, nil
}

// MarkFailed records one failed publish attempt. While the retry budget
// lasts, the record returns to PENDING with the claim cleared so any worker's
// next poll picks it up; once exhausted it is promoted to DEAD_LETTER. The
// resulting status is returned, or false on a stale version.
func (s *Store) MarkFailed(ctx context.Context, rec *outbox.Record, errMsg string) (outbox.Status, bool, error) {
	const stmt = `UPDATE outbox_messages
		SET retry_count = retry_count + 1,
		    error_message = $3,
		    status = CASE WHEN retry_count + 1 >= max_retries THEN 'DEAD_LETTER' ELSE 'PENDING' END,
		    processed_at = CASE WHEN retry_count + 1 >= max_retries THEN NOW() ELSE NULL END,
		    worker_id = CASE WHEN retry_count + 1 >= max_retries THEN worker_id ELSE NULL END,
		    version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING status, retry_count, worker_id, version`

	row := s.pool.QueryRow(ctx, stmt, rec.ID, rec.Version, errMsg)
	var workerID *string
	if err := row.Scan(&rec.Status, &rec.RetryCount, &workerID, &rec.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	rec.ErrorMessage = errMsg
	rec.WorkerID = ""
	if workerID != nil {
		rec.WorkerID = *workerID
	}
	return rec.Status, true, nil
}

// RequeueDeadLetters returns dead-lettered records to PENDING with a fresh
// retry budget so the relay picks them up again. An empty eventType requeues
// across all event types.
func (s *Store) RequeueDeadLetters(ctx context.Context, eventType string, limit int) (int64, error) {
	const stmt = `UPDATE outbox_messages
		SET status = 'PENDING', retry_count = 0, worker_id = NULL,
		    processed_at = NULL, error_message = NULL, version = version + 1
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = 'DEAD_LETTER' AND ($1 = '' OR event_type = $1)
			ORDER BY created_at ASC
			LIMIT $2
		)`

	tag, err := s.pool.Exec(ctx, stmt, eventType, limit)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountByStatus returns the number of records in the given status.
func (s *Store) CountByStatus(ctx context.Context, status outbox.Status) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox_messages WHERE status = $1`, status).Scan(&count)
	return count, err
}

// DeleteSentBefore prunes SENT records whose processed_at predates cutoff.
// Dead-lettered records are retained for operator action.
func (s *Store) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM outbox_messages WHERE status = 'SENT' AND processed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanRecord(rows pgx.Rows) (*outbox.Record, error) {
	var (
		rec           outbox.Record
		payload       string
		changedFields *string
		errorMessage  *string
		workerID      *string
	)
	if err := rows.Scan(
		&rec.ID,
		&rec.AggregateID,
		&rec.AggregateType,
		&rec.EventType,
		&payload,
		&changedFields,
		&rec.Status,
		&rec.CreatedAt,
		&rec.ProcessedAt,
		&rec.RetryCount,
		&rec.MaxRetries,
		&errorMessage,
		&workerID,
		&rec.Version,
	); err != nil {
		return nil, err
	}
	rec.Payload = []byte(payload)
	if changedFields != nil {
		rec.ChangedFields = []byte(*changedFields)
	}
	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}
	if workerID != nil {
		rec.WorkerID = *workerID
	}
	return &rec, nil
}

func nullIfEmpty(value []byte) any {
	if len(value) == 0 {
		return nil
	}
	return string(value)
}
