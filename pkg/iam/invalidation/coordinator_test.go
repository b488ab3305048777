package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/adminguard"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokeninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokensrv"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/role/rolesrv"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainHasher struct{}

func (plainHasher) Encode(p string) (string, error) { return "hash:" + p, nil }
func (plainHasher) Matches(p, h string) bool      { return h == "hash:"+p }

type world struct {
	ctx       context.Context
	clock     *kernel.FixedClock
	sessions  *sessioninfra.MemorySessionRepository
	rawUsers  *userinfra.MemoryUserRepository
	rawRoles  *roleinfra.MemoryRoleRepository
	factory   *sessionsrv.Factory
	verifier  *sessionsrv.Verifier
	registry  *sessionsrv.Registry
	users     *usersrv.UserService
	roles     *rolesrv.RoleService
	rights    *rightsrv.RightService
	apiTokens *apitokensrv.ApiTokenService
	principal *usersrv.Principals
}

var adminRights = []string{right.UserRead, right.UserUpdate, right.UserDelete, right.RoleUpdate}

func newWorld(t *testing.T, deleter SessionDeleter) *world {
	t.Helper()
	ctx := context.Background()
	clock := kernel.NewFixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var seeds []right.Right
	for _, a := range adminRights {
		seeds = append(seeds, right.Right{Authority: a})
	}
	seeds = append(seeds, right.Right{Authority: right.APIDeveloper})
	rawRights := rightinfra.NewMemoryRightRepository(seeds...)
	rawRoles := roleinfra.NewMemoryRoleRepository(
		role.Role{Name: "ADMIN", Rights: adminRights, IsSystemRole: true},
		role.Role{Name: "USER", Rights: []string{right.UserRead, right.APIDeveloper}, IsDefaultRole: true},
	)
	hash := "hash:secret-password"
	rawUsers := userinfra.NewMemoryUserRepository(
		user.User{ID: "admin", Email: "admin@example.com", Roles: []string{"ADMIN"}, Enabled: true, Nonce: "n-admin", Source: iam.SourceLocal, PasswordHash: &hash},
		user.User{ID: "alice", Email: "alice@example.com", Roles: []string{"USER"}, Enabled: true, Nonce: "n-alice", Source: iam.SourceLocal, PasswordHash: &hash},
	)
	sessions := sessioninfra.NewMemorySessionRepository()

	cfg := sessionsrv.Config{Issuer: "test", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	verifier := sessionsrv.NewVerifier(sessionsrv.NewKeyStore(sessions), cfg.Issuer, clock, nil)
	factory := sessionsrv.NewFactory(cfg, sessions, verifier, clock, nil, nil)
	principals := usersrv.NewPrincipals(rawUsers, rawRoles)
	registry := sessionsrv.NewRegistry(sessions, factory, verifier, principals, clock, nil)
	apiTokens := apitokensrv.NewApiTokenService(apitokeninfra.NewMemoryApiTokenRepository(), factory, registry, principals, clock)

	if deleter == nil {
		deleter = registry
	}
	guard := adminguard.New(adminRights, rawRights, rawRoles, rawUsers)
	coord := NewCoordinator(rawUsers, rawRoles, deleter, apiTokens, guard, nil)
	uow := dbx.NoopUnitOfWork{}

	userStore := NewUserStore(rawUsers, coord, uow)
	roleStore := NewRoleStore(rawRoles, coord, uow)
	rightStore := NewRightStore(rawRights, coord, uow)

	return &world{
		ctx:       ctx,
		clock:     clock,
		sessions:  sessions,
		rawUsers:  rawUsers,
		rawRoles:  rawRoles,
		factory:   factory,
		verifier:  verifier,
		registry:  registry,
		users:     usersrv.NewUserService(usersrv.Config{}, userStore, roleStore, plainHasher{}, registry, nil, clock, nil),
		roles:     rolesrv.NewRoleService(roleStore, rightStore, uow),
		rights:    rightsrv.NewRightService(rightStore),
		apiTokens: apiTokens,
		principal: principals,
	}
}

func (w *world) login(t *testing.T, username string) *sessionsrv.Minted {
	t.Helper()
	p, err := w.principal.LoadPrincipal(w.ctx, username)
	require.NoError(t, err)
	m, err := w.factory.Mint(w.ctx, sessionsrv.MintRequest{Principal: *p, Type: session.TypeRefresh})
	require.NoError(t, err)
	return m
}

func (w *world) sessionCount(t *testing.T, username string) int {
	t.Helper()
	tokens, err := w.registry.GetTokens(w.ctx, username)
	require.NoError(t, err)
	return len(tokens)
}

func TestRoleSave_SupersetKeepsSessions(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "alice@example.com")

	_, err := w.roles.Update(w.ctx, "USER", role.Role{Name: "USER", Rights: []string{right.UserRead, right.APIDeveloper, right.UserUpdate}, IsDefaultRole: true})
	require.NoError(t, err)
	assert.Equal(t, 1, w.sessionCount(t, "alice@example.com"))

	_, err = w.roles.Update(w.ctx, "USER", role.Role{Name: "USER", Description: "renamed", Rights: []string{right.UserRead, right.APIDeveloper, right.UserUpdate}, IsDefaultRole: true})
	require.NoError(t, err)
	assert.Equal(t, 1, w.sessionCount(t, "alice@example.com"))
}

func TestRoleSave_RemovedRightInvalidatesHolders(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "alice@example.com")
	w.login(t, "admin@example.com")

	_, err := w.roles.Patch(w.ctx, "USER", role.Patch{"rights": json.RawMessage(`["USER_READ"]`)})
	require.NoError(t, err)

	assert.Equal(t, 0, w.sessionCount(t, "alice@example.com"))
	assert.Equal(t, 1, w.sessionCount(t, "admin@example.com"))
}

func TestUserPatch_SoleAdminCannotLoseAdminRole(t *testing.T) {
	w := newWorld(t, nil)

	_, err := w.users.Patch(w.ctx, "admin", user.Patch{"roles": json.RawMessage(`["USER"]`)})
	assert.True(t, errx.IsCode(err, iam.CodeNotAllowed), "err: %v", err)

	u, err := w.rawUsers.FindByID(w.ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN"}, u.Roles)
}

func TestUserPatch_AdminRoleCanMoveWhenAnotherAdminExists(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.users.Patch(w.ctx, "alice", user.Patch{"roles": json.RawMessage(`["ADMIN"]`)})
	require.NoError(t, err)

	_, err = w.users.Patch(w.ctx, "admin", user.Patch{"roles": json.RawMessage(`["USER"]`)})
	assert.NoError(t, err)
}

func TestUserDelete_LastAdminIsRejected(t *testing.T) {
	w := newWorld(t, nil)
	err := w.users.Delete(w.ctx, "admin")
	assert.True(t, errx.IsCode(err, iam.CodeNotAllowed), "err: %v", err)

	require.NoError(t, w.users.Delete(w.ctx, "alice"))
}

func TestRoleUpdate_LastAdminRoleCannotDropBaselineRight(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "admin@example.com")

	_, err := w.roles.Update(w.ctx, "ADMIN", role.Role{Name: "ADMIN", Rights: []string{right.UserRead, right.UserUpdate, right.RoleUpdate}})
	assert.True(t, errx.IsCode(err, iam.CodeNotAllowed), "err: %v", err)
	assert.Equal(t, 1, w.sessionCount(t, "admin@example.com"))

	r, err := w.rawRoles.FindByName(w.ctx, "ADMIN")
	require.NoError(t, err)
	assert.Len(t, r.Rights, len(adminRights))
}

func TestRoleUpdate_RejectedSaveKeepsPreviousDefaultRole(t *testing.T) {
	w := newWorld(t, nil)

	_, err := w.roles.Update(w.ctx, "ADMIN", role.Role{
		Name:          "ADMIN",
		Rights:        []string{right.UserRead, right.UserUpdate, right.RoleUpdate},
		IsDefaultRole: true,
	})
	require.True(t, errx.IsCode(err, iam.CodeNotAllowed), "err: %v", err)

	def, err := w.rawRoles.FindDefault(w.ctx)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "USER", def.Name)

	admin, err := w.rawRoles.FindByName(w.ctx, "ADMIN")
	require.NoError(t, err)
	assert.False(t, admin.IsDefaultRole)
}

func TestRoleUpdate_AdminRoleLosesRightWhenAnotherAdminRoleIsHeld(t *testing.T) {
	w := newWorld(t, nil)
	_, err := w.roles.Create(w.ctx, role.Role{Name: "SUPERUSER", Rights: adminRights})
	require.NoError(t, err)
	_, err = w.users.Patch(w.ctx, "alice", user.Patch{"roles": json.RawMessage(`["SUPERUSER"]`)})
	require.NoError(t, err)
	w.login(t, "admin@example.com")

	_, err = w.roles.Update(w.ctx, "ADMIN", role.Role{Name: "ADMIN", Rights: []string{right.UserRead}})
	require.NoError(t, err)
	assert.Equal(t, 0, w.sessionCount(t, "admin@example.com"))
}

func TestRoleDelete_InUse(t *testing.T) {
	w := newWorld(t, nil)
	err := w.roles.Delete(w.ctx, "USER")
	assert.True(t, errx.IsCode(err, iam.CodeDataIntegrity), "err: %v", err)
	assert.Contains(t, err.Error(), "Role is still in use by 1 users")
}

func TestRightDelete_InvalidatesAndStrips(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "alice@example.com")
	w.login(t, "admin@example.com")

	require.NoError(t, w.rights.Delete(w.ctx, right.APIDeveloper))

	assert.Equal(t, 0, w.sessionCount(t, "alice@example.com"))
	assert.Equal(t, 1, w.sessionCount(t, "admin@example.com"))
	r, err := w.rawRoles.FindByName(w.ctx, "USER")
	require.NoError(t, err)
	assert.Equal(t, []string{right.UserRead}, r.Rights)
}

func TestUserUpdate_SessionFieldChangeInvalidatesAndRemovesAPITokens(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "alice@example.com")
	created, err := w.apiTokens.Create(w.ctx, "alice@example.com", apitokensrv.CreateRequest{Description: "ci", Rights: []string{right.UserRead}})
	require.NoError(t, err)

	_, err = w.users.Patch(w.ctx, "alice", user.Patch{"firstName": json.RawMessage(`"Alice"`)})
	require.NoError(t, err)
	assert.Equal(t, 1, w.sessionCount(t, "alice@example.com"))

	_, err = w.users.Patch(w.ctx, "alice", user.Patch{"locale": json.RawMessage(`"de"`)})
	require.NoError(t, err)
	assert.Equal(t, 0, w.sessionCount(t, "alice@example.com"))

	_, err = w.verifier.Verify(w.ctx, created.Token)
	assert.True(t, errx.IsCode(err, iam.CodeUnauthorized), "api token: %v", err)
	tokens, err := w.apiTokens.List(w.ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestUserUpdate_EmailChangeInvalidatesOldUsername(t *testing.T) {
	w := newWorld(t, nil)
	w.login(t, "alice@example.com")

	_, err := w.users.Patch(w.ctx, "alice", user.Patch{"email": json.RawMessage(`"Alice.New@Example.com"`)})
	require.NoError(t, err)
	assert.Equal(t, 0, w.sessionCount(t, "alice@example.com"))

	u, err := w.rawUsers.FindByID(w.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice.new@example.com", u.Email)
}

func TestPasswordChangeRotatesNonce(t *testing.T) {
	w := newWorld(t, nil)
	r1 := w.login(t, "alice@example.com")

	require.NoError(t, w.users.ChangePassword(w.ctx, "alice", "secret-password", "another-password"))

	_, err := w.registry.Renew(w.ctx, r1.Token, "ua")
	assert.True(t, errx.IsCode(err, iam.CodeNonceExpired), "err: %v", err)
}

type failingDeleter struct{}

func (failingDeleter) DeleteAllForUserAndType(context.Context, string, session.TokenType) (int, error) {
	return 0, errors.New("connection reset")
}

func TestInvalidationFailureAbortsWrite(t *testing.T) {
	w := newWorld(t, failingDeleter{})

	_, err := w.users.Patch(w.ctx, "alice", user.Patch{"locale": json.RawMessage(`"fr"`)})
	require.Error(t, err)
	assert.True(t, errx.IsCode(err, iam.CodeTokenInvalidation), "err: %v", err)
	assert.True(t, strings.Contains(err.Error(), "connection reset"))

	u, _ := w.rawUsers.FindByID(w.ctx, "alice")
	assert.Equal(t, "", u.Locale)
}
