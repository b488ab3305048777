// Package migrations applies the embedded SQL schema in file name order.
package migrations

import (
	"context"
	"embed"
	"io/fs"
	"sort"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var files embed.FS

const versionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Apply runs every migration not yet recorded in schema_migrations. Each
// file runs in its own transaction.
func Apply(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, versionTable); err != nil {
		return errx.Wrap(err, "create schema_migrations", errx.TypeInternal)
	}
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	uow := dbx.NewSQLUnitOfWork(db)
	for _, name := range names {
		body, err := files.ReadFile(name)
		if err != nil {
			return err
		}
		applied := false
		err = uow.Do(ctx, func(ctx context.Context) error {
			ex := dbx.Exec(ctx, db)
			var done bool
			if err := ex.GetContext(ctx, &done,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, name); err != nil {
				return err
			}
			if done {
				return nil
			}
			if _, err := ex.ExecContext(ctx, string(body)); err != nil {
				return err
			}
			_, err := ex.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, name)
			applied = err == nil
			return err
		})
		if err != nil {
			return errx.Wrap(err, "apply migration "+name, errx.TypeInternal)
		}
		if applied {
			logx.Infof("  ✅ Migration %s applied", name)
		}
	}
	return nil
}
