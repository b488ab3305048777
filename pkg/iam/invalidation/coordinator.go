// Package invalidation purges sessions when the identity state baked into
// them changes, and refuses writes that would leave the system without an
// administrator.
//
// The Coordinator is never called directly by services. Wrap the raw
// repositories with NewUserStore, NewRoleStore and NewRightStore; each
// write then runs the coordinator and the write in one unit of work, so a
// failed invalidation rolls the write back.
package invalidation

import (
	"context"
	"fmt"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/adminguard"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// SessionDeleter removes sessions of one type for a username.
type SessionDeleter interface {
	DeleteAllForUserAndType(ctx context.Context, username string, t session.TokenType) (int, error)
}

// APITokenRemover removes the API tokens linked to a user.
type APITokenRemover interface {
	RemoveForUser(ctx context.Context, username string, status apitoken.Status) (int, error)
}

// Invalidation reasons, used in audit entries and metrics.
const (
	ReasonUserChanged  = "user_changed"
	ReasonUserDeleted  = "user_deleted"
	ReasonRoleChanged  = "role_rights_reduced"
	ReasonRightDeleted = "right_deleted"
)

type Coordinator struct {
	users     user.Repository
	roles     role.Repository
	sessions  SessionDeleter
	apiTokens APITokenRemover
	guard     *adminguard.Guard
	audit     audit.Service
}

// NewCoordinator takes the undecorated repositories.
func NewCoordinator(
	users user.Repository,
	roles role.Repository,
	sessions SessionDeleter,
	apiTokens APITokenRemover,
	guard *adminguard.Guard,
	auditSvc audit.Service,
) *Coordinator {
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	return &Coordinator{
		users:     users,
		roles:     roles,
		sessions:  sessions,
		apiTokens: apiTokens,
		guard:     guard,
		audit:     auditSvc,
	}
}

// Guard exposes the admin guard so decorators can reset it.
func (c *Coordinator) Guard() *adminguard.Guard {
	return c.guard
}

// OnUserSave runs before next is persisted.
func (c *Coordinator) OnUserSave(ctx context.Context, next user.User) error {
	prev, err := c.users.FindByID(ctx, next.ID)
	if err != nil {
		if !errx.IsCode(err, user.CodeUserNotFound) {
			return wrap(err)
		}
		prev = nil
	}

	if prev != nil {
		adminRoles, err := c.guard.AdminRoles(ctx)
		if err != nil {
			return wrap(err)
		}
		if prev.HasAnyRole(adminRoles) && !next.HasAnyRole(adminRoles) {
			violates, err := c.guard.WouldViolateInvariant(ctx, prev.ID)
			if err != nil {
				return wrap(err)
			}
			if violates {
				return iam.ErrNotAllowed("at least one administrator must remain")
			}
		}
		if prev.SessionFieldsEqual(next) {
			return nil
		}
	}

	usernames := []string{user.NormalizeEmail(next.Email)}
	if prev != nil && user.NormalizeEmail(prev.Email) != usernames[0] {
		usernames = append(usernames, user.NormalizeEmail(prev.Email))
	}
	for _, username := range usernames {
		if err := c.invalidateUser(ctx, username, ReasonUserChanged); err != nil {
			return wrap(err)
		}
		if _, err := c.apiTokens.RemoveForUser(ctx, username, apitoken.StatusUserChanged); err != nil {
			return wrap(err)
		}
	}
	return nil
}

// OnUserDelete runs before the user with id is removed.
func (c *Coordinator) OnUserDelete(ctx context.Context, id kernel.UserID) error {
	prev, err := c.users.FindByID(ctx, id)
	if err != nil {
		if errx.IsCode(err, user.CodeUserNotFound) {
			return err
		}
		return wrap(err)
	}

	adminRoles, err := c.guard.AdminRoles(ctx)
	if err != nil {
		return wrap(err)
	}
	if prev.HasAnyRole(adminRoles) {
		violates, err := c.guard.WouldViolateInvariant(ctx, id)
		if err != nil {
			return wrap(err)
		}
		if violates {
			return iam.ErrNotAllowed("the last administrator cannot be deleted")
		}
	}

	username := user.NormalizeEmail(prev.Email)
	if err := c.invalidateUser(ctx, username, ReasonUserDeleted); err != nil {
		return wrap(err)
	}
	if _, err := c.apiTokens.RemoveForUser(ctx, username, apitoken.StatusUserDeleted); err != nil {
		return wrap(err)
	}
	return nil
}

// OnRoleSave runs before next is persisted. A change that keeps every
// previous right does not invalidate anything.
func (c *Coordinator) OnRoleSave(ctx context.Context, next role.Role) error {
	prev, err := c.roles.FindByName(ctx, next.Name)
	if err != nil {
		if errx.IsCode(err, role.CodeRoleNotFound) {
			return nil
		}
		return wrap(err)
	}

	wasAdmin, err := c.guard.IsAdminRights(ctx, prev.Rights)
	if err != nil {
		return wrap(err)
	}
	stillAdmin, err := c.guard.IsAdminRights(ctx, next.Rights)
	if err != nil {
		return wrap(err)
	}
	if wasAdmin && !stillAdmin {
		violates, err := c.guard.WouldViolateWithout(ctx, prev.Name)
		if err != nil {
			return wrap(err)
		}
		if violates {
			return iam.ErrNotAllowed(fmt.Sprintf("role %s is the last administrative role in use", prev.Name))
		}
	}

	if next.RightSet().ContainsAll(prev.RightSet()) {
		return nil
	}
	return wrap(c.invalidateHolders(ctx, []string{prev.Name}, ReasonRoleChanged))
}

// OnRoleDelete refuses to delete a role that is still assigned.
func (c *Coordinator) OnRoleDelete(ctx context.Context, name string) error {
	holders, err := c.users.FindByAnyRole(ctx, []string{name})
	if err != nil {
		return wrap(err)
	}
	if len(holders) > 0 {
		return iam.ErrDataIntegrity(fmt.Sprintf("Role is still in use by %d users", len(holders)))
	}
	return nil
}

// OnRightDelete invalidates everyone holding authority and strips it from
// every role that grants it.
func (c *Coordinator) OnRightDelete(ctx context.Context, authority string) error {
	granting, err := c.roles.FindByRight(ctx, authority)
	if err != nil {
		return wrap(err)
	}
	if len(granting) == 0 {
		return nil
	}
	if err := c.invalidateHolders(ctx, role.Names(granting), ReasonRightDeleted); err != nil {
		return wrap(err)
	}
	for _, r := range granting {
		if err := c.roles.Save(ctx, r.WithoutRight(authority)); err != nil {
			return wrap(err)
		}
	}
	logx.WithFields(logx.Fields{"right": authority, "roles": role.Names(granting)}).Info("right removed from roles")
	return nil
}

func (c *Coordinator) invalidateHolders(ctx context.Context, roleNames []string, reason string) error {
	holders, err := c.users.FindByAnyRole(ctx, roleNames)
	if err != nil {
		return err
	}
	for _, u := range holders {
		if err := c.invalidateUser(ctx, user.NormalizeEmail(u.Email), reason); err != nil {
			return err
		}
	}
	return nil
}

// invalidateUser removes the interactive sessions of username. API tokens
// are left alone.
func (c *Coordinator) invalidateUser(ctx context.Context, username, reason string) error {
	total := 0
	for _, t := range []session.TokenType{session.TypeAccess, session.TypeRefresh} {
		n, err := c.sessions.DeleteAllForUserAndType(ctx, username, t)
		if err != nil {
			return err
		}
		total += n
	}
	if total > 0 {
		c.audit.LogSessionsInvalidated(ctx, username, reason, total)
	}
	return nil
}

// wrap turns unexpected failures into TokenInvalidation errors. Rule
// violations pass through unchanged.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if errx.IsCode(err, iam.CodeNotAllowed) ||
		errx.IsCode(err, iam.CodeDataIntegrity) ||
		errx.IsCode(err, iam.CodeTokenInvalidation) {
		return err
	}
	return iam.ErrTokenInvalidation(err)
}

