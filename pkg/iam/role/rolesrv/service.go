package rolesrv

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// RoleService manages roles. The repository it is given is expected to be
// the invalidating decorator, so every write here reaches the admin guard
// and the session invalidation path.
type RoleService struct {
	roles  role.Repository
	rights right.Repository
	uow    dbx.UnitOfWork
}

func NewRoleService(roles role.Repository, rights right.Repository, uow dbx.UnitOfWork) *RoleService {
	if uow == nil {
		uow = dbx.NoopUnitOfWork{}
	}
	return &RoleService{roles: roles, rights: rights, uow: uow}
}

func (s *RoleService) GetAll(ctx context.Context) ([]role.Role, error) {
	return s.roles.FindAll(ctx)
}

func (s *RoleService) Get(ctx context.Context, name string) (*role.Role, error) {
	return s.roles.FindByName(ctx, name)
}

// Create stores a new role. Rights that do not exist are dropped.
func (s *RoleService) Create(ctx context.Context, r role.Role) (*role.Role, error) {
	if r.Name == "" {
		return nil, iam.ErrIllegalArgument("role name is required")
	}
	if _, err := s.roles.FindByName(ctx, r.Name); err == nil {
		return nil, role.ErrRoleAlreadyExists().WithDetail("name", r.Name)
	} else if !errx.IsCode(err, role.CodeRoleNotFound) {
		return nil, err
	}

	rights, err := s.resolveRights(ctx, r.Rights)
	if err != nil {
		return nil, err
	}
	r.Rights = rights
	r.IsProtected = false
	r.IsSystemRole = false

	if err := s.write(ctx, r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update replaces description, rights and default flag of an existing role.
func (s *RoleService) Update(ctx context.Context, name string, r role.Role) (*role.Role, error) {
	if r.Name != name {
		return nil, role.ErrNameMismatch()
	}
	current, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}

	rights, err := s.resolveRights(ctx, r.Rights)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	next.Description = r.Description
	next.Rights = rights
	next.IsDefaultRole = r.IsDefaultRole

	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *RoleService) Patch(ctx context.Context, name string, p role.Patch) (*role.Role, error) {
	current, err := s.mutable(ctx, name)
	if err != nil {
		return nil, err
	}
	next, err := p.Apply(*current)
	if err != nil {
		return nil, err
	}
	if p.Touches("rights") {
		if next.Rights, err = s.resolveRights(ctx, next.Rights); err != nil {
			return nil, err
		}
	}
	if err := s.write(ctx, next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (s *RoleService) Delete(ctx context.Context, name string) error {
	if _, err := s.mutable(ctx, name); err != nil {
		return err
	}
	if err := s.roles.Delete(ctx, name); err != nil {
		return err
	}
	logx.WithFields(logx.Fields{"role": name}).Info("role deleted")
	return nil
}

// GetDefault returns the role assigned to users created without roles, or
// nil when none is flagged.
func (s *RoleService) GetDefault(ctx context.Context) (*role.Role, error) {
	return s.roles.FindDefault(ctx)
}

func (s *RoleService) mutable(ctx context.Context, name string) (*role.Role, error) {
	current, err := s.roles.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if current.IsProtected {
		return nil, iam.ErrNotAllowed("role " + name + " is protected")
	}
	return current, nil
}

// write saves r and, when r becomes the default role, clears the flag on
// the previous default. The previous default keeps its flag unless r was
// saved.
func (s *RoleService) write(ctx context.Context, r role.Role) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		var prev *role.Role
		if r.IsDefaultRole {
			found, err := s.roles.FindDefault(ctx)
			if err != nil {
				return err
			}
			if found != nil && found.Name != r.Name {
				prev = found
			}
		}
		if err := s.roles.Save(ctx, r); err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		cleared := prev.Clone()
		cleared.IsDefaultRole = false
		return s.roles.Save(ctx, cleared)
	})
}

func (s *RoleService) resolveRights(ctx context.Context, authorities []string) ([]string, error) {
	out := make([]string, 0, len(authorities))
	seen := make(map[string]bool, len(authorities))
	for _, a := range authorities {
		if seen[a] {
			continue
		}
		seen[a] = true
		ok, err := s.rights.Exists(ctx, a)
		if err != nil {
			return nil, err
		}
		if !ok {
			logx.Debugf("dropping unknown right %s", a)
			continue
		}
		out = append(out, a)
	}
	return out, nil
}
