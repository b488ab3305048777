package roleinfra

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresRoleRepository stores roles with their authorities as text[].
type PostgresRoleRepository struct {
	db *sqlx.DB
}

func NewPostgresRoleRepository(db *sqlx.DB) *PostgresRoleRepository {
	return &PostgresRoleRepository{db: db}
}

const roleColumns = `name, description, rights, is_protected, is_default_role, is_system_role`

// FindByName locks the row when called inside a unit of work.
func (r *PostgresRoleRepository) FindByName(ctx context.Context, name string) (*role.Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`
	if dbx.InTx(ctx) {
		query += ` FOR UPDATE`
	}
	var row roleRow
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &row, query, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, role.ErrRoleNotFound().WithDetail("name", name)
		}
		return nil, errx.Wrap(err, "failed to find role", errx.TypeInternal)
	}
	out := row.toDomain()
	return &out, nil
}

func (r *PostgresRoleRepository) FindAll(ctx context.Context) ([]role.Role, error) {
	return r.selectRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name`)
}

func (r *PostgresRoleRepository) FindByRight(ctx context.Context, authority string) ([]role.Role, error) {
	return r.selectRoles(ctx, `SELECT `+roleColumns+` FROM roles WHERE $1 = ANY(rights) ORDER BY name`, authority)
}

func (r *PostgresRoleRepository) FindDefault(ctx context.Context) (*role.Role, error) {
	var row roleRow
	err := dbx.Exec(ctx, r.db).GetContext(ctx, &row,
		`SELECT `+roleColumns+` FROM roles WHERE is_default_role LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.Wrap(err, "failed to find default role", errx.TypeInternal)
	}
	out := row.toDomain()
	return &out, nil
}

// Save upserts the role.
func (r *PostgresRoleRepository) Save(ctx context.Context, rl role.Role) error {
	_, err := dbx.Exec(ctx, r.db).NamedExecContext(ctx, `
		INSERT INTO roles (`+roleColumns+`)
		VALUES (:name, :description, :rights, :is_protected, :is_default_role, :is_system_role)
		ON CONFLICT (name) DO UPDATE SET
			description = EXCLUDED.description,
			rights = EXCLUDED.rights,
			is_protected = EXCLUDED.is_protected,
			is_default_role = EXCLUDED.is_default_role,
			is_system_role = EXCLUDED.is_system_role`, toRow(rl))
	if err != nil {
		return errx.Wrap(err, "failed to save role", errx.TypeInternal).WithDetail("name", rl.Name)
	}
	return nil
}

func (r *PostgresRoleRepository) Delete(ctx context.Context, name string) error {
	res, err := dbx.Exec(ctx, r.db).ExecContext(ctx, `DELETE FROM roles WHERE name = $1`, name)
	if err != nil {
		if dbx.IsForeignKeyViolation(err) {
			return iam.ErrDataIntegrity("role is still referenced").WithDetail("name", name)
		}
		return errx.Wrap(err, "failed to delete role", errx.TypeInternal)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return role.ErrRoleNotFound().WithDetail("name", name)
	}
	return nil
}

func (r *PostgresRoleRepository) selectRoles(ctx context.Context, query string, args ...interface{}) ([]role.Role, error) {
	var rows []roleRow
	if err := dbx.Exec(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errx.Wrap(err, "failed to list roles", errx.TypeInternal)
	}
	out := make([]role.Role, len(rows))
	for i, row := range rows {
		out[i] = row.toDomain()
	}
	return out, nil
}

type roleRow struct {
	Name          string         `db:"name"`
	Description   sql.NullString `db:"description"`
	Rights        pq.StringArray `db:"rights"`
	IsProtected   bool           `db:"is_protected"`
	IsDefaultRole bool           `db:"is_default_role"`
	IsSystemRole  bool           `db:"is_system_role"`
}

func toRow(r role.Role) roleRow {
	rights := r.Rights
	if rights == nil {
		rights = []string{}
	}
	return roleRow{
		Name:          r.Name,
		Description:   sql.NullString{String: r.Description, Valid: r.Description != ""},
		Rights:        rights,
		IsProtected:   r.IsProtected,
		IsDefaultRole: r.IsDefaultRole,
		IsSystemRole:  r.IsSystemRole,
	}
}

func (row roleRow) toDomain() role.Role {
	return role.Role{
		Name:          row.Name,
		Description:   row.Description.String,
		Rights:        []string(row.Rights),
		IsProtected:   row.IsProtected,
		IsDefaultRole: row.IsDefaultRole,
		IsSystemRole:  row.IsSystemRole,
	}
}
