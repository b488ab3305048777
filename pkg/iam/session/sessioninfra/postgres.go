package sessioninfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
	"github.com/jmoiron/sqlx"
)

// PostgresSessionRepository stores session tokens in session_tokens.
// parent_token_id references the same table with ON DELETE CASCADE.
type PostgresSessionRepository struct {
	db  *sqlx.DB
	uow dbx.UnitOfWork
}

func NewPostgresSessionRepository(db *sqlx.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db, uow: dbx.NewSQLUnitOfWork(db)}
}

const sessionColumns = `id, username, type, key, issued_at, expiration, user_agent, parent_token_id`

func (r *PostgresSessionRepository) FindByID(ctx context.Context, id string) (*session.SessionToken, error) {
	var row sessionRow
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM session_tokens WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrSessionNotFound().WithDetail("token_id", id)
		}
		return nil, errx.Wrap(err, "failed to load session token", errx.TypeInternal)
	}
	t := row.toDomain()
	return &t, nil
}

func (r *PostgresSessionRepository) FindByUsernameAndType(ctx context.Context, username string, t session.TokenType) ([]session.SessionToken, error) {
	return r.selectTokens(ctx,
		`SELECT `+sessionColumns+` FROM session_tokens WHERE lower(username) = lower($1) AND type = $2 ORDER BY issued_at DESC`,
		username, string(t))
}

func (r *PostgresSessionRepository) FindChildren(ctx context.Context, parentID string) ([]session.SessionToken, error) {
	return r.selectTokens(ctx,
		`SELECT `+sessionColumns+` FROM session_tokens WHERE parent_token_id = $1 ORDER BY issued_at DESC`, parentID)
}

func (r *PostgresSessionRepository) Create(ctx context.Context, t session.SessionToken) error {
	_, err := dbx.Exec(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO session_tokens (`+sessionColumns+`)
		VALUES (:id, :username, :type, :key, :issued_at, :expiration, :user_agent, :parent_token_id)`, toRow(t))
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return session.ErrSessionNotFound().WithDetail("parent_token_id", t.ParentTokenID)
		}
		return errx.Wrap(err, "failed to store session token", errx.TypeInternal)
	}
	return nil
}

func (r *PostgresSessionRepository) CreateRotating(ctx context.Context, parentID string, now time.Time, t session.SessionToken) error {
	return r.uow.Do(ctx, func(ctx context.Context) error {
		ex := dbx.Exec(ctx, r.db)

		var locked string
		err := ex.GetContext(ctx, &locked, `SELECT id FROM session_tokens WHERE id = $1 FOR UPDATE`, parentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return session.ErrSessionNotFound().WithDetail("token_id", parentID)
			}
			return errx.Wrap(err, "failed to lock parent session", errx.TypeInternal)
		}

		if _, err := ex.ExecContext(ctx,
			`UPDATE session_tokens SET expiration = $2 WHERE parent_token_id = $1 AND expiration > $2`,
			parentID, now); err != nil {
			return errx.Wrap(err, "failed to expire previous access tokens", errx.TypeInternal)
		}

		return r.Create(ctx, t)
	})
}

func (r *PostgresSessionRepository) Delete(ctx context.Context, id string) error {
	return r.uow.Do(ctx, func(ctx context.Context) error {
		ex := dbx.Exec(ctx, r.db)
		if _, err := ex.ExecContext(ctx, `DELETE FROM session_tokens WHERE parent_token_id = $1`, id); err != nil {
			return errx.Wrap(err, "failed to delete child sessions", errx.TypeInternal)
		}
		res, err := ex.ExecContext(ctx, `DELETE FROM session_tokens WHERE id = $1`, id)
		if err != nil {
			return errx.Wrap(err, "failed to delete session token", errx.TypeInternal)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errx.Wrap(err, "failed to count deleted sessions", errx.TypeInternal)
		}
		if n == 0 {
			return session.ErrSessionNotFound().WithDetail("token_id", id)
		}
		return nil
	})
}

func (r *PostgresSessionRepository) DeleteByUsernameAndType(ctx context.Context, username string, t session.TokenType) (int, error) {
	var deleted int
	err := r.uow.Do(ctx, func(ctx context.Context) error {
		ex := dbx.Exec(ctx, r.db)
		children, err := ex.ExecContext(ctx, `
			DELETE FROM session_tokens WHERE parent_token_id IN (
				SELECT id FROM session_tokens WHERE lower(username) = lower($1) AND type = $2)`,
			username, string(t))
		if err != nil {
			return errx.Wrap(err, "failed to delete child sessions", errx.TypeInternal)
		}
		res, err := ex.ExecContext(ctx,
			`DELETE FROM session_tokens WHERE lower(username) = lower($1) AND type = $2`, username, string(t))
		if err != nil {
			return errx.Wrap(err, "failed to delete sessions", errx.TypeInternal)
		}
		nc, err := children.RowsAffected()
		if err != nil {
			return errx.Wrap(err, "failed to count deleted child sessions", errx.TypeInternal)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return errx.Wrap(err, "failed to count deleted sessions", errx.TypeInternal)
		}
		deleted = int(nc + n)
		return nil
	})
	return deleted, err
}

func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM session_tokens WHERE expiration < $1`, before)
	if err != nil {
		return 0, errx.Wrap(err, "failed to delete expired sessions", errx.TypeInternal)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errx.Wrap(err, "failed to count expired sessions", errx.TypeInternal)
	}
	return int(n), nil
}

func (r *PostgresSessionRepository) selectTokens(ctx context.Context, query string, args ...interface{}) ([]session.SessionToken, error) {
	var rows []sessionRow
	if err := dbx.Exec(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errx.Wrap(err, "failed to list session tokens", errx.TypeInternal)
	}
	out := make([]session.SessionToken, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

type sessionRow struct {
	ID            string         `db:"id"`
	Username      string         `db:"username"`
	Type          string         `db:"type"`
	Key           []byte         `db:"key"`
	IssuedAt      time.Time      `db:"issued_at"`
	Expiration    time.Time      `db:"expiration"`
	UserAgent     sql.NullString `db:"user_agent"`
	ParentTokenID sql.NullString `db:"parent_token_id"`
}

func toRow(t session.SessionToken) sessionRow {
	return sessionRow{
		ID:            t.ID,
		Username:      t.Username,
		Type:          string(t.Type),
		Key:           t.Key,
		IssuedAt:      t.IssuedAt,
		Expiration:    t.Expiration,
		UserAgent:     sql.NullString{String: t.UserAgent, Valid: t.UserAgent != ""},
		ParentTokenID: ptrx.ToNullString(t.ParentTokenID),
	}
}

func (row sessionRow) toDomain() session.SessionToken {
	t := session.SessionToken{
		ID:         row.ID,
		Username:   row.Username,
		Type:       session.TokenType(row.Type),
		Key:        row.Key,
		IssuedAt:   row.IssuedAt.UTC(),
		Expiration: row.Expiration.UTC(),
		UserAgent:  row.UserAgent.String,
	}
	t.ParentTokenID = ptrx.NullString(row.ParentTokenID)
	return t
}
