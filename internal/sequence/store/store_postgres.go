package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fiscaldoc/internal/platform/postgres"
	"fiscaldoc/internal/sequence/models"
	"fiscaldoc/internal/sequence/ports"
	dErrors "fiscaldoc/pkg/domain-errors"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/platform/tx"
	"fiscaldoc/pkg/requestcontext"
)

// PostgresStore keeps counters in correlative_counters. Concurrent issuers on
// one scope serialize on the row lock taken by the upsert.
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed counter store. A zero timeout
// uses defaultCounterTxTimeout.
func NewPostgres(db *sql.DB, timeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, timeout: timeout}
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.CounterTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultCounterTxTimeout
	}
	err := tx.Run(ctx, s.db, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, timeout,
		func(ctx context.Context) error {
			return fn(ctx, postgresTx{})
		})
	var de *dErrors.Error
	if err == nil || errors.As(err, &de) {
		return err
	}
	return fmt.Errorf("counter tx: %w", postgres.Classify(err))
}

// Get returns the committed counter for scope.
func (s *PostgresStore) Get(ctx context.Context, scope string) (models.Counter, error) {
	var row models.Counter
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, last_value, updated_at FROM correlative_counters WHERE scope = $1`, scope,
	).Scan(&row.Scope, &row.LastValue, &row.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Counter{}, sentinel.ErrNotFound
		}
		return models.Counter{}, fmt.Errorf("get counter: %w", err)
	}
	return row, nil
}

// postgresTx runs against the *sql.Tx carried in ctx.
type postgresTx struct{}

func querier(ctx context.Context) (tx.Querier, error) {
	sqlTx, ok := tx.From(ctx)
	if !ok {
		return nil, fmt.Errorf("counter operation outside transaction: %w", sentinel.ErrInvalidState)
	}
	return sqlTx, nil
}

// LockOrCreate inserts the row at base or, when it exists, performs a no-op
// update. Either way the row is locked and the current value returned, with
// no window where two first callers both create it.
func (postgresTx) LockOrCreate(ctx context.Context, scope string, base int64) (int64, error) {
	q, err := querier(ctx)
	if err != nil {
		return 0, err
	}
	var last int64
	err = q.QueryRowContext(ctx, `
		INSERT INTO correlative_counters (scope, last_value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (scope) DO UPDATE SET scope = EXCLUDED.scope
		RETURNING last_value`,
		scope, base, requestcontext.Now(ctx),
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("lock counter %s: %w", scope, postgres.Classify(err))
	}
	return last, nil
}

func (postgresTx) Advance(ctx context.Context, scope string, value int64) error {
	q, err := querier(ctx)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		UPDATE correlative_counters
		SET last_value = $2, updated_at = $3
		WHERE scope = $1 AND last_value < $2`,
		scope, value, requestcontext.Now(ctx),
	)
	if err != nil {
		return fmt.Errorf("advance counter %s: %w", scope, postgres.Classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance counter rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("advance %s to %d: %w", scope, value, sentinel.ErrInvalidState)
	}
	return nil
}
