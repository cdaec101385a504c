package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	// Owner reports whether this handle began the transaction. Only the
	// owner's Commit and Rollback reach the database.
	Owner() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction is a struct that wraps the sqlx.Tx struct and provides additional functionality
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
}

// joinedTx is the handle returned to callers that join an open transaction
type joinedTx struct {
	*Transaction
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) *Transaction {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

// GetTx returns the open transaction carried by ctx, or begins a new one and
// stores it in the returned context
func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if ctxTx, ok := ctx.Value(txKey).(*Transaction); ok && ctxTx.IsOpen() {
		return ctx, &joinedTx{Transaction: ctxTx}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction: %w", err)
	}

	newTx := NewTx(tx, logger)
	return context.WithValue(ctx, txKey, newTx), newTx, nil
}

func (t *Transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *Transaction) Owner() bool {
	return true
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Rollback(); err != nil && err != sql.ErrTxDone {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction: %w", err)
	}
	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.isClosed {
		return nil
	}

	t.isClosed = true
	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction: %w", err)
	}
	return nil
}

func (j *joinedTx) Owner() bool {
	return false
}

// Commit is left to the owner
func (j *joinedTx) Commit(context.Context) error {
	return nil
}

// Rollback is left to the owner, which sees the caller's error
func (j *joinedTx) Rollback(context.Context) error {
	return nil
}
