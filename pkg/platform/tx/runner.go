package tx

import (
	"context"
	"database/sql"
	"time"
)

const defaultTxTimeout = 10 * time.Second

// Runner executes a unit of work atomically. The SQL implementation opens a
// transaction and carries it in context so every store the function touches
// joins it; the passthrough implementation exists for in-memory stores,
// where each store call is already atomic.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLRunner runs units of work inside a database/sql transaction.
type SQLRunner struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLRunner builds a runner over db. A zero timeout falls back to the
// package default; the timeout only applies when the caller's context has no
// deadline of its own.
func NewSQLRunner(db *sql.DB, timeout time.Duration) *SQLRunner {
	if timeout <= 0 {
		timeout = defaultTxTimeout
	}
	return &SQLRunner{db: db, timeout: timeout}
}

func (r *SQLRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(WithTx(ctx, sqlTx)); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Passthrough runs the unit of work directly. Used with in-memory stores.
type Passthrough struct{}

func (Passthrough) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
