package user

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/outbox/internal/outbox"
	"example.com/outbox/internal/persistence/postgres"
)

// ErrNotFound is returned when a user cannot be located.
var ErrNotFound = errors.New("user not found")

// Schema is the DDL for the example aggregate's table.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id         BIGSERIAL PRIMARY KEY,
    email      VARCHAR(255) NOT NULL UNIQUE,
    first_name VARCHAR(255) NOT NULL,
    last_name  VARCHAR(255) NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Repository persists users and enlists their outbox records in the same
// transaction, so a commit makes both durable and a rollback discards both.
type Repository struct {
	pool        *pgxpool.Pool
	interceptor *outbox.Interceptor
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, interceptor *outbox.Interceptor) *Repository {
	return &Repository{pool: pool, interceptor: interceptor}
}

// Create inserts the user and captures a USER_INSERT outbox record
// atomically. The generated ID is assigned before capture so the record
// carries the real aggregate identifier.
func (r *Repository) Create(ctx context.Context, u *User) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	err = tx.QueryRow(ctx,
		`INSERT INTO users (email, first_name, last_name, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		u.Email, u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt,
	).Scan(&u.ID)
	if err != nil {
		return err
	}

	if err = r.interceptor.OnInsert(ctx, postgres.Enlist(tx), u); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Update rewrites the user row and captures a USER_UPDATE record with
// field-level diffs. The prior state is reloaded inside the transaction as
// the shadow copy the diff compares against.
func (r *Repository) Update(ctx context.Context, u *User) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	old, err := getForUpdate(ctx, tx, u.ID)
	if err != nil {
		return err
	}

	u.CreatedAt = old.CreatedAt
	u.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE users SET email=$2, first_name=$3, last_name=$4, updated_at=$5 WHERE id=$1`,
		u.ID, u.Email, u.FirstName, u.LastName, u.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if err = r.interceptor.OnUpdate(ctx, postgres.Enlist(tx), old, u); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Get retrieves a user by ID.
func (r *Repository) Get(ctx context.Context, id int64) (*User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at, updated_at FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func getForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*User, error) {
	row := tx.QueryRow(ctx,
		`SELECT id, email, first_name, last_name, created_at, updated_at FROM users WHERE id=$1 FOR UPDATE`, id)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}
