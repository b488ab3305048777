package iamapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/adminguard"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokeninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokensrv"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/invalidation"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/role/rolesrv"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/iam/usermail"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/Abraxas-365/bastion/pkg/notifx/notifxconsole"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	app, _ := newAppWithOutbox(t)
	return app
}

// newAppWithOutbox wires account mails to a console provider whose outbox
// the test can read.
func newAppWithOutbox(t *testing.T) (*fiber.App, *notifxconsole.ConsoleProvider) {
	t.Helper()
	clock := kernel.NewFixedClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	hasher := auth.NewBcryptPasswordHasher(4)
	hash, err := hasher.Encode("correct horse")
	require.NoError(t, err)

	adminRights := []string{right.UserRead, right.UserUpdate, right.RoleRead, right.RoleUpdate}
	var seeds []right.Right
	for _, a := range append(adminRights, right.APIDeveloper) {
		seeds = append(seeds, right.Right{Authority: a})
	}
	rights := rightinfra.NewMemoryRightRepository(seeds...)
	roles := roleinfra.NewMemoryRoleRepository(
		role.Role{Name: "ADMIN", Rights: adminRights, IsProtected: true, IsSystemRole: true},
		role.Role{Name: "USER", Rights: []string{right.UserRead, right.APIDeveloper}, IsDefaultRole: true},
	)
	users := userinfra.NewMemoryUserRepository(
		user.User{ID: "admin", Email: "admin@example.com", Roles: []string{"ADMIN"}, Enabled: true, Nonce: "nonce-ad", Source: iam.SourceLocal, PasswordHash: &hash},
		user.User{ID: "bob", Email: "bob@example.com", FirstName: "Bob", Roles: []string{"USER"}, Enabled: true, Nonce: "nonce-bo", Source: iam.SourceLocal, PasswordHash: &hash},
	)
	sessions := sessioninfra.NewMemorySessionRepository()

	cfg := sessionsrv.Config{Issuer: "test", AccessTTL: time.Minute, RefreshTTL: time.Hour}
	verifier := sessionsrv.NewVerifier(sessionsrv.NewKeyStore(sessions), cfg.Issuer, clock, nil)
	factory := sessionsrv.NewFactory(cfg, sessions, verifier, clock, nil, nil)
	principals := usersrv.NewPrincipals(users, roles)
	registry := sessionsrv.NewRegistry(sessions, factory, verifier, principals, clock, nil)
	apiTokens := apitokensrv.NewApiTokenService(apitokeninfra.NewMemoryApiTokenRepository(), factory, registry, principals, clock)

	coord := invalidation.NewCoordinator(users, roles, registry, apiTokens, adminguard.New(adminRights, rights, roles, users), nil)
	userStore := invalidation.NewUserStore(users, coord, dbx.NoopUnitOfWork{})
	roleStore := invalidation.NewRoleStore(roles, coord, dbx.NoopUnitOfWork{})
	rightStore := invalidation.NewRightStore(rights, coord, dbx.NoopUnitOfWork{})

	outbox := notifxconsole.NewConsoleProvider()
	mailer, err := usermail.New(usermail.Config{ResetURL: "https://id.example.com/reset"},
		notifx.NewClient(outbox, "Bastion <no-reply@example.com>"), nil)
	require.NoError(t, err)

	userSvc := usersrv.NewUserService(usersrv.Config{}, userStore, roleStore, hasher, registry, mailer, clock, nil).
		WithSleeper(func(time.Duration) {})

	h := NewHandlers(Config{}, Services{
		Login:     auth.NewLoginService(userStore, hasher, principals, factory, nil, 5),
		Registry:  registry,
		Verifier:  verifier,
		Users:     userSvc,
		Roles:     rolesrv.NewRoleService(roleStore, rightStore, dbx.NoopUnitOfWork{}),
		Rights:    rightsrv.NewRightService(rightStore),
		APITokens: apiTokens,
	}, auth.NewTokenMiddleware(auth.NewAuthenticator(verifier, principals, apiTokens)), nil)

	app := fiber.New(fiber.Config{ErrorHandler: errx.FiberErrorHandler})
	h.RegisterRoutes(app)
	return app, outbox
}

func call(t *testing.T, app *fiber.App, method, path, bearer, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func login(t *testing.T, app *fiber.App, username string) (refresh, access string) {
	t.Helper()
	status, body := call(t, app, http.MethodPost, "/auth/token", "",
		`{"username":"`+username+`","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, status, body)
	refresh = body["token"].(string)

	status, body = call(t, app, http.MethodPost, "/auth/renew", refresh, "")
	require.Equal(t, http.StatusOK, status, body)
	return refresh, body["token"].(string)
}

func TestLoginRenewAndMe(t *testing.T) {
	app := newApp(t)
	refresh, access := login(t, app, "Bob@Example.com")

	status, body := call(t, app, http.MethodGet, "/v1/users/me", access, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "bob@example.com", body["email"])

	status, _ = call(t, app, http.MethodGet, "/v1/users/me", refresh, "")
	assert.Equal(t, http.StatusUnauthorized, status, "refresh tokens only renew")

	status, body = call(t, app, http.MethodPost, "/auth/verify", "",
		`{"refresh_token":"`+refresh+`","access_token":"`+access+`"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["valid"])
}

func TestLoginWrongPassword(t *testing.T) {
	app := newApp(t)
	status, body := call(t, app, http.MethodPost, "/auth/token", "", `{"username":"bob@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, iam.CodeBadCredentials.Code, body["code"])
}

func TestLogoutEndsRefreshSession(t *testing.T) {
	app := newApp(t)
	refresh, access := login(t, app, "bob@example.com")

	status, _ := call(t, app, http.MethodPost, "/auth/logout", access, "")
	require.Equal(t, http.StatusNoContent, status)

	status, _ = call(t, app, http.MethodPost, "/auth/renew", refresh, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, http.MethodGet, "/v1/users/me", access, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRightsAreEnforced(t *testing.T) {
	app := newApp(t)
	_, bob := login(t, app, "bob@example.com")
	_, admin := login(t, app, "admin@example.com")

	status, _ := call(t, app, http.MethodGet, "/v1/roles", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, http.MethodGet, "/v1/roles", bob, "")
	assert.Equal(t, http.StatusForbidden, status)
	status, _ = call(t, app, http.MethodGet, "/v1/roles/USER", admin, "")
	assert.Equal(t, http.StatusOK, status)
}

func TestAdminPatchInvalidatesTargetSessions(t *testing.T) {
	app := newApp(t)
	_, bob := login(t, app, "bob@example.com")
	_, admin := login(t, app, "admin@example.com")

	status, body := call(t, app, http.MethodPatch, "/v1/users/bob", admin, `{"enabled":false}`)
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, false, body["enabled"])

	status, _ = call(t, app, http.MethodGet, "/v1/users/me", bob, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAPITokenLifecycle(t *testing.T) {
	app := newApp(t)
	_, access := login(t, app, "bob@example.com")

	status, body := call(t, app, http.MethodPost, "/v1/api-tokens", access, `{"description":"ci","rights":["USER_READ"]}`)
	require.Equal(t, http.StatusCreated, status, body)
	token := body["token"].(string)
	id := body["api_token"].(map[string]any)["id"].(string)

	status, _ = call(t, app, http.MethodGet, "/v1/users", token, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, app, http.MethodGet, "/v1/users/me", token, "")
	assert.Equal(t, http.StatusUnauthorized, status, "api tokens cannot use self-service routes")

	status, body = call(t, app, http.MethodPost, "/v1/api-tokens", access, `{"description":"escalate","rights":["USER_DELETE"]}`)
	assert.Equal(t, http.StatusBadRequest, status, body)

	status, body = call(t, app, http.MethodPatch, "/v1/api-tokens/"+id, access, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "REVOKED", body["status"])

	status, _ = call(t, app, http.MethodGet, "/v1/users", token, "")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestResetRequestNeverLeaksAccounts(t *testing.T) {
	app := newApp(t)
	for _, email := range []string{"bob@example.com", "nobody@example.com"} {
		status, _ := call(t, app, http.MethodPost, "/auth/reset-credentials", "", `{"email":"`+email+`"}`)
		assert.Equal(t, http.StatusNoContent, status, email)
	}
	status, _ := call(t, app, http.MethodPost, "/auth/set-password", "", `{"token":"bogus","password":"long enough pw"}`)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPasswordResetByMailLink(t *testing.T) {
	app, outbox := newAppWithOutbox(t)

	status, _ := call(t, app, http.MethodPost, "/auth/reset-credentials", "", `{"email":"bob@example.com"}`)
	require.Equal(t, http.StatusNoContent, status)

	msg, ok := outbox.Last("bob@example.com")
	require.True(t, ok, "reset mail was not sent")
	link, err := url.Parse(firstURL(msg.TextBody))
	require.NoError(t, err)
	token := link.Query().Get("token")
	require.NotEmpty(t, token)

	status, body := call(t, app, http.MethodPost, "/auth/set-password", "", `{"token":"`+token+`","password":"brand new secret"}`)
	require.Equal(t, http.StatusNoContent, status, body)

	status, _ = call(t, app, http.MethodPost, "/auth/token", "", `{"username":"bob@example.com","password":"correct horse"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, http.MethodPost, "/auth/token", "", `{"username":"bob@example.com","password":"brand new secret"}`)
	assert.Equal(t, http.StatusOK, status)

	status, _ = call(t, app, http.MethodPost, "/auth/set-password", "", `{"token":"`+token+`","password":"another secret"}`)
	assert.Equal(t, http.StatusBadRequest, status, "a reset token is single use")
}

func firstURL(text string) string {
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, "https://") {
			return f
		}
	}
	return ""
}
