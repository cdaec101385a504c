package database

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/mdmerror"
	"github.com/Ramsey-B/sage/pkg/store"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Transactor runs units of work in a Postgres transaction. Work sharing a
// key is serialized with a transaction-scoped advisory lock.
type Transactor struct {
	db     DB
	logger ectologger.Logger
}

var _ store.Transactor = (*Transactor)(nil)

func NewTransactor(db DB, logger ectologger.Logger) *Transactor {
	return &Transactor{db: db, logger: logger}
}

func (t *Transactor) WithinTx(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if store.InTx(ctx) {
		return fn(ctx)
	}

	ctx, span := tracing.StartSpan(ctx, "database.Transactor.WithinTx")
	defer span.End()

	txCtx, tx, err := t.db.GetTx(ctx, nil)
	if err != nil {
		return mdmerror.Transient("failed to begin transaction")
	}
	defer func() {
		_ = tx.Rollback(txCtx)
	}()

	if key != "" {
		if _, err := tx.ExecContext(txCtx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
			t.logger.WithContext(ctx).WithError(err).WithField("key", key).Error("Failed to acquire advisory lock")
			return mdmerror.Transient("failed to lock %s", key)
		}
	}

	txCtx, hooks := store.WithCommitHooks(txCtx)
	if err := fn(txCtx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.Commit(txCtx); err != nil {
		return mdmerror.Transient("failed to commit transaction")
	}

	hooks.Run(ctx)
	return nil
}
