// Package dbx carries a sqlx transaction through context.Context so that
// repositories and decorators can share one unit of work without changing
// their signatures.
package dbx

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type txKey struct{}

// Executor is the subset of *sqlx.DB and *sqlx.Tx the repositories need.
type Executor interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// UnitOfWork runs fn atomically.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SQLUnitOfWork opens a transaction per Do call. Nested calls join the
// outer transaction.
type SQLUnitOfWork struct {
	db *sqlx.DB
}

func NewSQLUnitOfWork(db *sqlx.DB) *SQLUnitOfWork {
	return &SQLUnitOfWork{db: db}
}

func (u *SQLUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return errx.Wrap(err, "failed to begin transaction", errx.TypeInternal)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cErr := tx.Commit(); cErr != nil {
			err = errx.Wrap(cErr, "failed to commit transaction", errx.TypeInternal)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, tx))
}

// NoopUnitOfWork runs fn directly. In-memory stores serialize on their own.
type NoopUnitOfWork struct{}

func (NoopUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Exec returns the transaction bound to ctx, or db when there is none.
func Exec(ctx context.Context, db *sqlx.DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(*sqlx.Tx)
	return ok
}

// Postgres error classes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports a unique constraint failure.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsForeignKeyViolation reports a foreign key constraint failure.
func IsForeignKeyViolation(err error) bool {
	return pgCode(err) == pgForeignKeyViolation
}

func pgCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
