package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/territory/internal/domain"
)

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeForeignKeyViolation  = "23503"
	codeInvalidTextRepr      = "22P02"

	defaultMaxRetries = 4
)

// Option configures a Repository.
type Option func(*Repository)

// WithLocation sets the zone used to compute room seasons.
func WithLocation(loc *time.Location) Option {
	return func(r *Repository) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithMaxRetries bounds retries of transactions that fail with serialization
// or deadlock errors.
func WithMaxRetries(n uint64) Option {
	return func(r *Repository) {
		r.maxRetries = n
	}
}

// Repository provides Postgres-backed persistence for rooms, memberships,
// walk sessions, strikes, reward balances and outbox events.
type Repository struct {
	pool       *pgxpool.Pool
	loc        *time.Location
	maxRetries uint64
	now        func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{
		pool:       pool,
		loc:        time.Local,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// inTx runs fn inside a transaction, retrying the whole transaction on
// serialization failures and deadlocks.
func (r *Repository) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 20 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond

	op := func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return classify(err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return classify(err)
		}
		return classify(tx.Commit(ctx))
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, r.maxRetries), ctx))
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return err
	}
	return backoff.Permanent(mapError(err))
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}

// mapError converts constraint violations into domain errors.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeForeignKeyViolation:
		switch {
		case strings.Contains(pgErr.ConstraintName, "user_id"):
			return fmt.Errorf("%w: %s", domain.ErrUserNotFound, pgErr.Detail)
		case strings.Contains(pgErr.ConstraintName, "room_id"):
			return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, pgErr.Detail)
		case strings.Contains(pgErr.ConstraintName, "district_id"):
			return fmt.Errorf("%w: %s", domain.ErrDistrictNotFound, pgErr.Detail)
		}
	case codeInvalidTextRepr:
		// malformed uuid supplied as a room id
		return fmt.Errorf("%w: %s", domain.ErrRoomNotFound, pgErr.Message)
	}
	return err
}
