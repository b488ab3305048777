package apitokeninfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresApiTokenRepository struct {
	db *sqlx.DB
}

func NewPostgresApiTokenRepository(db *sqlx.DB) *PostgresApiTokenRepository {
	return &PostgresApiTokenRepository{db: db}
}

const apiTokenColumns = `id, description, linked_user, rights, valid_until, status, created_at`

func (r *PostgresApiTokenRepository) FindByID(ctx context.Context, id string) (*apitoken.ApiToken, error) {
	var row apiTokenRow
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &row,
		`SELECT `+apiTokenColumns+` FROM api_tokens WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apitoken.ErrNotFound().WithDetail("id", id)
		}
		return nil, errx.Wrap(err, "failed to load api token", errx.TypeInternal)
	}
	t := row.toDomain()
	return &t, nil
}

func (r *PostgresApiTokenRepository) FindByLinkedUser(ctx context.Context, linkedUser string) ([]apitoken.ApiToken, error) {
	var rows []apiTokenRow
	if err := dbx.Exec(ctx, r.db).SelectContext(ctx, &rows,
		`SELECT `+apiTokenColumns+` FROM api_tokens WHERE lower(linked_user) = lower($1) ORDER BY created_at`, linkedUser); err != nil {
		return nil, errx.Wrap(err, "failed to list api tokens", errx.TypeInternal)
	}
	out := make([]apitoken.ApiToken, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

func (r *PostgresApiTokenRepository) ExistsByDescription(ctx context.Context, linkedUser, description string) (bool, error) {
	var exists bool
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM api_tokens WHERE lower(linked_user) = lower($1) AND description = $2)`,
		linkedUser, description)
	if err != nil {
		return false, errx.Wrap(err, "failed to check api token description", errx.TypeInternal)
	}
	return exists, nil
}

func (r *PostgresApiTokenRepository) Save(ctx context.Context, t apitoken.ApiToken) error {
	_, err := dbx.Exec(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO api_tokens (`+apiTokenColumns+`)
		VALUES (:id, :description, :linked_user, :rights, :valid_until, :status, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			valid_until = EXCLUDED.valid_until,
			status = EXCLUDED.status`, toRow(t))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return apitoken.ErrDuplicateDescription()
		}
		return errx.Wrap(err, "failed to save api token", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresApiTokenRepository) Delete(ctx context.Context, id string) error {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM api_tokens WHERE id = $1`, id)
	if err != nil {
		return errx.Wrap(err, "failed to delete api token", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apitoken.ErrNotFound().WithDetail("id", id)
	}
	return nil
}

func (r *PostgresApiTokenRepository) ExpireBefore(ctx context.Context, now time.Time) (int, error) {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx,
		`UPDATE api_tokens SET status = $1 WHERE status = $2 AND valid_until <= $3`,
		string(apitoken.StatusExpired), string(apitoken.StatusActive), now)
	if err != nil {
		return 0, errx.Wrap(err, "failed to expire api tokens", errx.TypeInternal)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type apiTokenRow struct {
	ID          string         `db:"id"`
	Description string         `db:"description"`
	LinkedUser  string         `db:"linked_user"`
	Rights      pq.StringArray `db:"rights"`
	ValidUntil  time.Time      `db:"valid_until"`
	Status      string         `db:"status"`
	CreatedAt   time.Time      `db:"created_at"`
}

func toRow(t apitoken.ApiToken) apiTokenRow {
	rights := t.Rights
	if rights == nil {
		rights = []string{}
	}
	return apiTokenRow{
		ID:          t.ID,
		Description: t.Description,
		LinkedUser:  t.LinkedUser,
		Rights:      rights,
		ValidUntil:  t.ValidUntil,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
	}
}

func (row apiTokenRow) toDomain() apitoken.ApiToken {
	return apitoken.ApiToken{
		ID:          row.ID,
		Description: row.Description,
		LinkedUser:  row.LinkedUser,
		Rights:      []string(row.Rights),
		ValidUntil:  row.ValidUntil.UTC(),
		Status:      apitoken.Status(row.Status),
		CreatedAt:   row.CreatedAt.UTC(),
	}
}
