package userinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type PostgresUserRepository struct {
	db *sqlx.DB
}

func NewPostgresUserRepository(db *sqlx.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, email, first_name, last_name, phone, mobile, locale, password_hash, nonce,
	source, roles, enabled, login_disabled, failed_login_attempts, reset_token,
	reset_token_issued_at, created_at, updated_at`

// FindByID locks the row when called inside a unit of work.
func (r *PostgresUserRepository) FindByID(ctx context.Context, id kernel.UserID) (*user.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if dbx.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	return r.getOne(ctx, query, id.String())
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, user.NormalizeEmail(email))
}

func (r *PostgresUserRepository) FindByResetToken(ctx context.Context, token string) (*user.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token = $1`, token)
}

func (r *PostgresUserRepository) FindAll(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[user.User], error) {
	opts, limit, offset := opts.Normalize()
	ex := dbx.Exec(ctx, r.db)

	var total int
	if err := ex.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`); err != nil {
		return kernel.Paginated[user.User]{}, errx.Wrap(err, "failed to count users", errx.TypeInternal)
	}

	var rows []userRow
	if err := ex.SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM users ORDER BY email LIMIT $1 OFFSET $2`, limit, offset); err != nil {
		return kernel.Paginated[user.User]{}, errx.Wrap(err, "failed to list users", errx.TypeInternal)
	}

	return kernel.NewPaginated(toDomain(rows), opts.Page, opts.PageSize, total), nil
}

func (r *PostgresUserRepository) FindByAnyRole(ctx context.Context, roles []string) ([]user.User, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	var rows []userRow
	if err := dbx.Exec(ctx, r.db).SelectContext(ctx, &rows,
		`SELECT `+userColumns+` FROM users WHERE roles && $1 ORDER BY email`, pq.StringArray(roles)); err != nil {
		return nil, errx.Wrap(err, "failed to find users by role", errx.TypeInternal)
	}
	return toDomain(rows), nil
}

func (r *PostgresUserRepository) ExistsWithAnyRole(ctx context.Context, roles []string, excluded kernel.UserID) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	var exists bool
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM users WHERE roles && $1 AND id::text <> $2)`,
		pq.StringArray(roles), excluded.String())
	if err != nil {
		return false, errx.Wrap(err, "failed to check role holders", errx.TypeInternal)
	}
	return exists, nil
}

func (r *PostgresUserRepository) Save(ctx context.Context, u user.User) error {
	_, err := dbx.Exec(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (:id, :email, :first_name, :last_name, :phone, :mobile, :locale, :password_hash, :nonce,
			:source, :roles, :enabled, :login_disabled, :failed_login_attempts, :reset_token,
			:reset_token_issued_at, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			phone = EXCLUDED.phone,
			mobile = EXCLUDED.mobile,
			locale = EXCLUDED.locale,
			password_hash = EXCLUDED.password_hash,
			nonce = EXCLUDED.nonce,
			source = EXCLUDED.source,
			roles = EXCLUDED.roles,
			enabled = EXCLUDED.enabled,
			login_disabled = EXCLUDED.login_disabled,
			failed_login_attempts = EXCLUDED.failed_login_attempts,
			reset_token = EXCLUDED.reset_token,
			reset_token_issued_at = EXCLUDED.reset_token_issued_at,
			updated_at = EXCLUDED.updated_at`, toRow(u))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return user.ErrUserAlreadyExists().WithDetail("email", u.Email)
		}
		return errx.Wrap(err, "failed to save user", errx.TypeInternal).WithDetail("user_id", u.ID)
	}
	return nil
}

func (r *PostgresUserRepository) Delete(ctx context.Context, id kernel.UserID) error {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id.String())
	if err != nil {
		return errx.Wrap(err, "failed to delete user", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return user.ErrUserNotFound().WithDetail("user_id", id)
	}
	return nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg interface{}) (*user.User, error) {
	var row userRow
	if err := dbx.Exec(ctx, r.db).GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, user.ErrUserNotFound()
		}
		return nil, errx.Wrap(err, "failed to load user", errx.TypeInternal)
	}
	u := row.toDomain()
	return &u, nil
}

type userRow struct {
	ID                  string         `db:"id"`
	Email               string         `db:"email"`
	FirstName           string         `db:"first_name"`
	LastName            string         `db:"last_name"`
	Phone               sql.NullString `db:"phone"`
	Mobile              sql.NullString `db:"mobile"`
	Locale              string         `db:"locale"`
	PasswordHash        sql.NullString `db:"password_hash"`
	Nonce               string         `db:"nonce"`
	Source              string         `db:"source"`
	Roles               pq.StringArray `db:"roles"`
	Enabled             bool           `db:"enabled"`
	LoginDisabled       bool           `db:"login_disabled"`
	FailedLoginAttempts int            `db:"failed_login_attempts"`
	ResetToken          sql.NullString `db:"reset_token"`
	ResetTokenIssuedAt  sql.NullTime   `db:"reset_token_issued_at"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func toRow(u user.User) userRow {
	roles := u.Roles
	if roles == nil {
		roles = []string{}
	}
	row := userRow{
		ID:                  u.ID.String(),
		Email:               user.NormalizeEmail(u.Email),
		FirstName:           u.FirstName,
		LastName:            u.LastName,
		Phone:               sql.NullString{String: u.Phone, Valid: u.Phone != ""},
		Mobile:              sql.NullString{String: u.Mobile, Valid: u.Mobile != ""},
		Locale:              u.Locale,
		PasswordHash:        ptrx.ToNullString(u.PasswordHash),
		Nonce:               u.Nonce,
		Source:              u.Source,
		Roles:               roles,
		Enabled:             u.Enabled,
		LoginDisabled:       u.LoginDisabled,
		FailedLoginAttempts: u.FailedLoginAttempts,
		ResetToken:          ptrx.ToNullString(u.ResetToken),
		ResetTokenIssuedAt:  ptrx.ToNullTime(u.ResetTokenIssuedAt),
		CreatedAt:           u.CreatedAt,
		UpdatedAt:           u.UpdatedAt,
	}
	return row
}

func (row userRow) toDomain() user.User {
	return user.User{
		ID:                  kernel.NewUserID(row.ID),
		Email:               row.Email,
		FirstName:           row.FirstName,
		LastName:            row.LastName,
		Phone:               row.Phone.String,
		Mobile:              row.Mobile.String,
		Locale:              row.Locale,
		PasswordHash:        ptrx.NullString(row.PasswordHash),
		Nonce:               row.Nonce,
		Source:              row.Source,
		Roles:               []string(row.Roles),
		Enabled:             row.Enabled,
		LoginDisabled:       row.LoginDisabled,
		FailedLoginAttempts: row.FailedLoginAttempts,
		ResetToken:          ptrx.NullString(row.ResetToken),
		ResetTokenIssuedAt:  ptrx.NullTime(row.ResetTokenIssuedAt),
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func toDomain(rows []userRow) []user.User {
	out := make([]user.User, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out
}
