// Package adminguard enforces that at least one user always holds an
// administrative role.
//
// A role is administrative when its rights contain every baseline right
// that currently exists in the right store. The computed view is cached
// until Reset is called by a role or right write.
package adminguard

import (
	"context"
	"sync"

	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

type snapshot struct {
	rights []string
	roles  []string
}

// Guard caches the administrative rights and roles.
type Guard struct {
	baseline []string
	rights   right.Repository
	roles    role.Repository
	users    user.Repository

	mu    sync.RWMutex
	gen   uint64
	cache *snapshot
}

// New creates a guard. An empty baseline means right.Basic().
func New(baseline []string, rights right.Repository, roles role.Repository, users user.Repository) *Guard {
	if len(baseline) == 0 {
		for _, r := range right.Basic() {
			baseline = append(baseline, r.Authority)
		}
	}
	return &Guard{baseline: baseline, rights: rights, roles: roles, users: users}
}

// Reset drops the cached view.
func (g *Guard) Reset() {
	g.mu.Lock()
	g.gen++
	g.cache = nil
	g.mu.Unlock()
}

// AdminRights returns the baseline rights present in the store.
func (g *Guard) AdminRights(ctx context.Context) ([]string, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.rights...), nil
}

// AdminRoles returns the names of every administrative role.
func (g *Guard) AdminRoles(ctx context.Context) ([]string, error) {
	s, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.roles...), nil
}

// IsAdminRights reports whether a role granting rights would be
// administrative.
func (g *Guard) IsAdminRights(ctx context.Context, rights []string) (bool, error) {
	s, err := g.load(ctx)
	if err != nil {
		return false, err
	}
	return isAdmin(s.rights, rights), nil
}

// WouldViolateInvariant reports whether no user other than excluded holds
// an administrative role.
func (g *Guard) WouldViolateInvariant(ctx context.Context, excluded kernel.UserID) (bool, error) {
	roles, err := g.AdminRoles(ctx)
	if err != nil {
		return false, err
	}
	return g.noHolderAmong(ctx, roles, excluded)
}

// WouldViolateWithout reports whether removing role name from the
// administrative set would leave nobody holding an administrative role.
func (g *Guard) WouldViolateWithout(ctx context.Context, name string) (bool, error) {
	roles, err := g.AdminRoles(ctx)
	if err != nil {
		return false, err
	}
	remaining := make([]string, 0, len(roles))
	for _, r := range roles {
		if r != name {
			remaining = append(remaining, r)
		}
	}
	return g.noHolderAmong(ctx, remaining, "")
}

func (g *Guard) noHolderAmong(ctx context.Context, roles []string, excluded kernel.UserID) (bool, error) {
	exists, err := g.users.ExistsWithAnyRole(ctx, roles, excluded)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func (g *Guard) load(ctx context.Context) (*snapshot, error) {
	g.mu.RLock()
	s, gen := g.cache, g.gen
	g.mu.RUnlock()
	if s != nil {
		return s, nil
	}

	fresh, err := g.compute(ctx)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.gen == gen {
		g.cache = fresh
	}
	g.mu.Unlock()
	return fresh, nil
}

func (g *Guard) compute(ctx context.Context) (*snapshot, error) {
	s := &snapshot{}
	for _, authority := range g.baseline {
		ok, err := g.rights.Exists(ctx, authority)
		if err != nil {
			return nil, err
		}
		if ok {
			s.rights = append(s.rights, authority)
		}
	}

	roles, err := g.roles.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, r := range roles {
		if isAdmin(s.rights, r.Rights) {
			s.roles = append(s.roles, r.Name)
		}
	}
	return s, nil
}

// isAdmin is false when no baseline right exists, so an empty store has no
// administrative roles.
func isAdmin(adminRights, rights []string) bool {
	if len(adminRights) == 0 {
		return false
	}
	return right.NewSet(rights...).ContainsAll(right.NewSet(adminRights...))
}
