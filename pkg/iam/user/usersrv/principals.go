package usersrv

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
)

// Principals builds token principals from the current user and role state.
type Principals struct {
	users user.Repository
	roles role.Repository
}

func NewPrincipals(users user.Repository, roles role.Repository) *Principals {
	return &Principals{users: users, roles: roles}
}

// LoadPrincipal fails with Unauthorized for unknown users and
// AccountDisabled for users that may not log in.
func (p *Principals) LoadPrincipal(ctx context.Context, username string) (*session.Principal, error) {
	u, err := p.users.FindByEmail(ctx, username)
	if err != nil {
		if errx.IsCode(err, user.CodeUserNotFound) {
			return nil, iam.ErrUnauthorized()
		}
		return nil, err
	}
	if !u.CanLogin() {
		return nil, iam.ErrAccountDisabled()
	}
	return p.For(ctx, *u)
}

// For builds the principal of u without checking whether u may log in.
func (p *Principals) For(ctx context.Context, u user.User) (*session.Principal, error) {
	rights, err := p.Rights(ctx, u.Roles)
	if err != nil {
		return nil, err
	}
	return &session.Principal{
		UserID:    u.ID,
		Username:  user.NormalizeEmail(u.Email),
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Locale:    u.Locale,
		Nonce:     u.Nonce,
		Roles:     append([]string(nil), u.Roles...),
		Rights:    rights,
	}, nil
}

// Rights resolves the union of rights granted by roleNames. Unknown roles
// grant nothing.
func (p *Principals) Rights(ctx context.Context, roleNames []string) ([]string, error) {
	set := right.NewSet()
	for _, name := range roleNames {
		r, err := p.roles.FindByName(ctx, name)
		if err != nil {
			if errx.IsCode(err, role.CodeRoleNotFound) {
				continue
			}
			return nil, err
		}
		for _, a := range r.Rights {
			set[a] = struct{}{}
		}
	}
	return set.Sorted(), nil
}
