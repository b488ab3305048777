// Package bootstrap creates the baseline rights, the administrator and
// default roles and optionally a first administrator account.
package bootstrap

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
)

const AdminRole = "ADMIN"

type Options struct {
	DefaultRole string

	// AdminEmail creates a first administrator when set. Without
	// AdminPassword the account receives a reset mail instead.
	AdminEmail    string
	AdminPassword string
}

// Result counts what Seed created.
type Result struct {
	Rights       int
	Roles        int
	AdminCreated bool
}

// Seed is idempotent. Rights and roles are written to the repositories
// directly because protected and system roles cannot be created through
// the role service.
func Seed(ctx context.Context, rights right.Repository, roles role.Repository, users *usersrv.UserService, opts Options) (*Result, error) {
	if opts.DefaultRole == "" {
		opts.DefaultRole = "USER"
	}
	res := &Result{}

	var baseline []string
	for _, r := range right.Basic() {
		baseline = append(baseline, r.Authority)
		exists, err := rights.Exists(ctx, r.Authority)
		if err != nil {
			return nil, err
		}
		if exists {
			continue
		}
		if err := rights.Save(ctx, r); err != nil {
			return nil, err
		}
		res.Rights++
	}

	admin, err := findRole(ctx, roles, AdminRole)
	if err != nil {
		return nil, err
	}
	switch {
	case admin == nil:
		if err := roles.Save(ctx, role.Role{
			Name:         AdminRole,
			Description:  "Administrator",
			Rights:       baseline,
			IsProtected:  true,
			IsSystemRole: true,
		}); err != nil {
			return nil, err
		}
		res.Roles++
	case !admin.RightSet().ContainsAll(right.NewSet(baseline...)):
		next := admin.Clone()
		next.Rights = right.NewSet(append(next.Rights, baseline...)...).Sorted()
		if err := roles.Save(ctx, next); err != nil {
			return nil, err
		}
		logx.WithField("role", AdminRole).Info("administrator role completed with baseline rights")
	}

	def, err := roles.FindDefault(ctx)
	if err != nil {
		return nil, err
	}
	if def == nil {
		existing, err := findRole(ctx, roles, opts.DefaultRole)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			if err := roles.Save(ctx, role.Role{
				Name:          opts.DefaultRole,
				Description:   "Default role of new users",
				Rights:        []string{right.APIDeveloper},
				IsDefaultRole: true,
				IsSystemRole:  true,
			}); err != nil {
				return nil, err
			}
			res.Roles++
		}
	}

	if opts.AdminEmail != "" && users != nil {
		created, err := seedAdmin(ctx, users, opts)
		if err != nil {
			return nil, err
		}
		res.AdminCreated = created
	}

	logx.WithFields(logx.Fields{
		"rights":        res.Rights,
		"roles":         res.Roles,
		"admin_created": res.AdminCreated,
	}).Info("baseline seeded")
	return res, nil
}

func seedAdmin(ctx context.Context, users *usersrv.UserService, opts Options) (bool, error) {
	if _, err := users.GetByEmail(ctx, opts.AdminEmail); err == nil {
		return false, nil
	} else if !errx.IsCode(err, user.CodeUserNotFound) {
		return false, err
	}
	req := usersrv.CreateRequest{
		Email:     opts.AdminEmail,
		FirstName: "Admin",
		Roles:     []string{AdminRole},
	}
	if opts.AdminPassword != "" {
		req.Password = ptrx.String(opts.AdminPassword)
	}
	if _, err := users.Create(ctx, req); err != nil {
		return false, err
	}
	return true, nil
}

func findRole(ctx context.Context, roles role.Repository, name string) (*role.Role, error) {
	r, err := roles.FindByName(ctx, name)
	if err != nil {
		if errx.IsCode(err, role.CodeRoleNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return r, nil
}
