package tx

import (
	"context"
	"database/sql"

	"golang.org/x/xerrors"
)

// Manager wraps transactional boundaries for multi-adapter operations.
type Manager interface {
	Within(ctx context.Context, fn func(context.Context) error) error
}

type NoopManager struct{}

func (NoopManager) Within(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// Querier is the subset of *sql.DB and *sql.Tx used by the sqlite adapters.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// SQLManager runs fn inside a database transaction carried on the context.
// Nested calls reuse the outer transaction.
type SQLManager struct {
	db *sql.DB
}

func NewSQLManager(db *sql.DB) *SQLManager {
	return &SQLManager{db: db}
}

func (m *SQLManager) Within(ctx context.Context, fn func(context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	sqlTx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, sqlTx)); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return xerrors.Errorf("commit tx: %w", err)
	}
	return nil
}

// From returns the transaction on ctx, or db when none is open.
func From(ctx context.Context, db *sql.DB) Querier {
	if sqlTx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return sqlTx
	}
	return db
}
