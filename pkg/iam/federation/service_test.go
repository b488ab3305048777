package federation_test

import (
	"context"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/federation"
	"github.com/Abraxas-365/bastion/pkg/iam/federation/federationinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
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

type stubProvider struct {
	identity federation.Identity
}

func (p stubProvider) Name() string { return "acme" }

func (p stubProvider) AuthCodeURL(state string) string { return "https://idp.example.com/authorize?state=" + state }

func (p stubProvider) Exchange(context.Context, string) (*federation.Identity, error) {
	id := p.identity
	return &id, nil
}

type env struct {
	ctx   context.Context
	users *userinfra.MemoryUserRepository
	svc   *federation.Service
}

func newEnv(t *testing.T, cfg federation.Config, provider federation.Provider, seed ...user.User) *env {
	t.Helper()
	clock := kernel.NewFixedClock(time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC))
	users := userinfra.NewMemoryUserRepository(seed...)
	roles := roleinfra.NewMemoryRoleRepository(
		role.Role{Name: "ADMIN", Rights: []string{right.UserDelete}},
		role.Role{Name: "USER", Rights: []string{right.UserRead}, IsDefaultRole: true},
	)
	sessions := sessioninfra.NewMemorySessionRepository()
	scfg := sessionsrv.Config{Issuer: "test"}
	verifier := sessionsrv.NewVerifier(sessionsrv.NewKeyStore(sessions), scfg.Issuer, clock, nil)
	factory := sessionsrv.NewFactory(scfg, sessions, verifier, clock, nil, nil)
	principals := usersrv.NewPrincipals(users, roles)

	var providers []federation.Provider
	if provider != nil {
		providers = append(providers, provider)
	}
	svc := federation.NewService(cfg, users, roles, principals, factory,
		federationinfra.NewMemoryStateStore(clock), clock, nil, providers...)
	return &env{ctx: context.Background(), users: users, svc: svc}
}

func TestLogin_SignupWithDefaultRole(t *testing.T) {
	e := newEnv(t, federation.Config{AllowSignup: true}, nil)

	minted, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "New@Example.com"}, "browser")
	require.NoError(t, err)
	assert.Equal(t, session.TypeRefresh, minted.Session.Type)
	assert.Equal(t, "new@example.com", minted.Session.Username)

	u, err := e.users.FindByEmail(e.ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", u.Source)
	assert.Equal(t, []string{"USER"}, u.Roles)
	assert.Equal(t, federation.PlaceholderFirstName, u.FirstName)
	assert.Nil(t, u.PasswordHash)
	assert.Len(t, u.Nonce, 8)
}

func TestLogin_SignupWithClaimedRole(t *testing.T) {
	e := newEnv(t, federation.Config{AllowSignup: true}, nil)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "boss@example.com", ClaimedRoles: []string{"ADMIN", "GHOST"}}, "")
	require.NoError(t, err)

	u, err := e.users.FindByEmail(e.ctx, "boss@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"ADMIN"}, u.Roles)
}

func TestLogin_SignupDisabled(t *testing.T) {
	e := newEnv(t, federation.Config{}, nil)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "new@example.com"}, "")
	assert.True(t, errx.IsCode(err, federation.CodeSignupDisabled))
}

func TestLogin_ExistingUserUpdatesNames(t *testing.T) {
	e := newEnv(t, federation.Config{}, nil,
		user.User{ID: "u1", Email: "old@example.com", FirstName: "Old", Roles: []string{"ADMIN"}, Enabled: true, Nonce: "abcdefgh", Source: "acme"},
	)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "old@example.com", FirstName: "Fresh", LastName: "Name"}, "")
	require.NoError(t, err)

	u, err := e.users.FindByEmail(e.ctx, "old@example.com")
	require.NoError(t, err)
	assert.Equal(t, "Fresh", u.FirstName)
	assert.Equal(t, []string{"ADMIN"}, u.Roles)
}

func TestLogin_UpdateRolesFallsBackToDefault(t *testing.T) {
	e := newEnv(t, federation.Config{UpdateRoles: true}, nil,
		user.User{ID: "u1", Email: "old@example.com", Roles: []string{"ADMIN"}, Enabled: true, Nonce: "abcdefgh", Source: "acme"},
	)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "old@example.com"}, "")
	require.NoError(t, err)

	u, err := e.users.FindByEmail(e.ctx, "old@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, u.Roles)
}

func TestLogin_DisabledUser(t *testing.T) {
	e := newEnv(t, federation.Config{}, nil,
		user.User{ID: "u1", Email: "off@example.com", Roles: []string{"USER"}, Enabled: false, Nonce: "abcdefgh", Source: "acme"},
	)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "off@example.com"}, "")
	assert.True(t, errx.IsCode(err, iam.CodeAccountDisabled))
}

func TestLogin_MissingUsername(t *testing.T) {
	e := newEnv(t, federation.Config{AllowSignup: true}, nil)

	_, err := e.svc.Login(e.ctx, federation.Identity{Provider: "acme", Username: "  "}, "")
	assert.True(t, errx.IsCode(err, federation.CodeMissingUsername))
}

func TestBeginComplete(t *testing.T) {
	p := stubProvider{identity: federation.Identity{Username: "flow@example.com", FirstName: "Flo", LastName: "W"}}
	e := newEnv(t, federation.Config{AllowSignup: true}, p)

	_, err := e.svc.Begin(e.ctx, "nope", "")
	assert.True(t, errx.IsCode(err, federation.CodeUnknownProvider))

	redirect, err := e.svc.Begin(e.ctx, "acme", "https://app.example.com/after")
	require.NoError(t, err)
	state := redirect[len("https://idp.example.com/authorize?state="):]

	_, _, err = e.svc.Complete(e.ctx, "acme", "forged", "code", "")
	assert.True(t, errx.IsCode(err, federation.CodeInvalidState))

	minted, back, err := e.svc.Complete(e.ctx, "acme", state, "code", "")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com/after", back)
	assert.Equal(t, "flow@example.com", minted.Session.Username)

	u, err := e.users.FindByEmail(e.ctx, "flow@example.com")
	require.NoError(t, err)
	assert.Equal(t, "acme", u.Source)

	_, _, err = e.svc.Complete(e.ctx, "acme", state, "code", "")
	assert.True(t, errx.IsCode(err, federation.CodeInvalidState))
}

func TestSplitName(t *testing.T) {
	cases := map[string][2]string{
		"":             {"", ""},
		"Cher":         {"Cher", ""},
		"Ada Lovelace": {"Ada", "Lovelace"},
	}
	for in, want := range cases {
		first, last := federation.SplitName(in)
		assert.Equal(t, want[0], first, in)
		assert.Equal(t, want[1], last, in)
	}
}
