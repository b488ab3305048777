package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUsers(roles role.Repository) (*usersrv.UserService, *userinfra.MemoryUserRepository) {
	repo := userinfra.NewMemoryUserRepository()
	clock := kernel.NewFixedClock(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC))
	return usersrv.NewUserService(usersrv.Config{}, repo, roles, auth.NewBcryptPasswordHasher(4), nil, nil, clock, nil), repo
}

func TestSeedCreatesBaseline(t *testing.T) {
	ctx := context.Background()
	rights := rightinfra.NewMemoryRightRepository()
	roles := roleinfra.NewMemoryRoleRepository()
	users, repo := newUsers(roles)

	res, err := Seed(ctx, rights, roles, users, Options{AdminEmail: "Root@Example.com", AdminPassword: "a long password"})
	require.NoError(t, err)
	assert.Equal(t, len(right.Basic()), res.Rights)
	assert.Equal(t, 2, res.Roles)
	assert.True(t, res.AdminCreated)

	admin, err := roles.FindByName(ctx, AdminRole)
	require.NoError(t, err)
	assert.True(t, admin.IsProtected)
	assert.Len(t, admin.Rights, len(right.Basic()))

	def, err := roles.FindDefault(ctx)
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "USER", def.Name)

	u, err := repo.FindByEmail(ctx, "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{AdminRole}, u.Roles)
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rights := rightinfra.NewMemoryRightRepository()
	roles := roleinfra.NewMemoryRoleRepository()
	users, _ := newUsers(roles)
	opts := Options{AdminEmail: "root@example.com", AdminPassword: "a long password"}

	_, err := Seed(ctx, rights, roles, users, opts)
	require.NoError(t, err)
	res, err := Seed(ctx, rights, roles, users, opts)
	require.NoError(t, err)
	assert.Equal(t, &Result{}, res)
}

func TestSeedCompletesAdminRoleAndKeepsExistingDefault(t *testing.T) {
	ctx := context.Background()
	rights := rightinfra.NewMemoryRightRepository()
	roles := roleinfra.NewMemoryRoleRepository(
		role.Role{Name: AdminRole, Rights: []string{right.UserRead}, IsProtected: true},
		role.Role{Name: "MEMBER", IsDefaultRole: true},
	)

	res, err := Seed(ctx, rights, roles, nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Roles)

	admin, err := roles.FindByName(ctx, AdminRole)
	require.NoError(t, err)
	assert.True(t, admin.RightSet().Has(right.RoleDelete))

	_, err = roles.FindByName(ctx, "USER")
	assert.Error(t, err, "no second default role is created")
}
