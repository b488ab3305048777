package rightinfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/jmoiron/sqlx"
)

// PostgresRightRepository stores rights in the rights table.
type PostgresRightRepository struct {
	db *sqlx.DB
}

func NewPostgresRightRepository(db *sqlx.DB) *PostgresRightRepository {
	return &PostgresRightRepository{db: db}
}

func (r *PostgresRightRepository) FindByAuthority(ctx context.Context, authority string) (*right.Right, error) {
	var out right.Right
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &out,
		`SELECT authority, description FROM rights WHERE authority = $1`, authority)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, right.ErrRightNotFound().WithDetail("authority", authority)
		}
		return nil, errx.Wrap(err, "failed to find right", errx.TypeInternal)
	}
	return &out, nil
}

func (r *PostgresRightRepository) FindAll(ctx context.Context) ([]right.Right, error) {
	var out []right.Right
	err := dbx.Exec(ctx, r.db).SelectContext(ctx, &out,
		`SELECT authority, description FROM rights ORDER BY authority`)
	if err != nil {
		return nil, errx.Wrap(err, "failed to list rights", errx.TypeInternal)
	}
	return out, nil
}

func (r *PostgresRightRepository) Exists(ctx context.Context, authority string) (bool, error) {
	var exists bool
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM rights WHERE authority = $1)`, authority)
	if err != nil {
		return false, errx.Wrap(err, "failed to check right existence", errx.TypeInternal)
	}
	return exists, nil
}

func (r *PostgresRightRepository) Save(ctx context.Context, rt right.Right) error {
	_, err := dbx.Exec(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO rights (authority, description) VALUES (:authority, :description)
		ON CONFLICT (authority) DO UPDATE SET description = EXCLUDED.description`, rt)
	if err != nil {
		return errx.Wrap(err, "failed to save right", errx.TypeInternal).
			WithDetail("authority", rt.Authority)
	}
	return nil
}

func (r *PostgresRightRepository) Delete(ctx context.Context, authority string) error {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM rights WHERE authority = $1`, authority)
	if err != nil {
		return errx.Wrap(err, "failed to delete right", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return right.ErrRightNotFound().WithDetail("authority", authority)
	}
	return nil
}
