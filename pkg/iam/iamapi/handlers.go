// Package iamapi exposes the IAM services over HTTP.
package iamapi

import (
	"slices"

	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokensrv"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/federation"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/role/rolesrv"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

// RefreshTokenCookie carries the REFRESH token after a federated login.
const RefreshTokenCookie = "refresh_token"

// Config holds the HTTP specific settings.
type Config struct {
	// AllowedRedirects limits where a federated login may send the
	// browser back to. Empty allows only DefaultRedirect.
	AllowedRedirects []string
	DefaultRedirect  string
	SecureCookies    bool
}

// Services groups everything the handlers call into.
type Services struct {
	Login      *auth.LoginService
	Registry   *sessionsrv.Registry
	Verifier   *sessionsrv.Verifier
	Federation *federation.Service
	Users      *usersrv.UserService
	Roles      *rolesrv.RoleService
	Rights     *rightsrv.RightService
	APITokens  *apitokensrv.ApiTokenService
}

type Handlers struct {
	cfg        Config
	svc        Services
	middleware *auth.TokenMiddleware
	throttle   *auth.Throttle
}

func NewHandlers(cfg Config, svc Services, middleware *auth.TokenMiddleware, throttle *auth.Throttle) *Handlers {
	if cfg.DefaultRedirect == "" {
		cfg.DefaultRedirect = "/"
	}
	return &Handlers{cfg: cfg, svc: svc, middleware: middleware, throttle: throttle}
}

// RegisterRoutes mounts the /auth and /v1 route groups.
func (h *Handlers) RegisterRoutes(app fiber.Router) {
	mw := h.middleware
	limit := func(c *fiber.Ctx) error { return c.Next() }
	if h.throttle != nil {
		limit = h.throttle.Handler()
	}

	a := app.Group("/auth")
	a.Post("/token", limit, h.login)
	a.Post("/renew", h.renew)
	a.Post("/logout", h.logout)
	a.Post("/verify", h.verify)
	a.Post("/reset-credentials", limit, h.requestReset)
	a.Post("/set-password", limit, h.confirmReset)
	if h.svc.Federation != nil {
		a.Get("/oauth2/:provider", h.federationBegin)
		a.Get("/oauth2/:provider/callback", h.federationCallback)
	}

	v1 := app.Group("/v1")

	me := v1.Group("/users/me", mw.Authenticate(session.TypeAccess))
	me.Get("/", h.me)
	me.Patch("/", h.updateSelf)
	me.Get("/token", h.listSessions)
	me.Delete("/token/:id", h.deleteSession)
	me.Put("/password", h.changePassword)
	me.Post("/terminate", h.terminateSessions)

	users := v1.Group("/users", mw.Authenticate())
	users.Get("/", mw.RequireRight(right.UserRead), h.listUsers)
	users.Get("/:id", mw.RequireRight(right.UserRead), h.getUser)
	users.Post("/", mw.RequireRight(right.UserCreate), h.createUser)
	users.Put("/:id", mw.RequireRight(right.UserUpdate), h.updateUser)
	users.Patch("/:id", mw.RequireRight(right.UserUpdate), h.patchUser)
	users.Delete("/:id", mw.RequireRight(right.UserDelete), h.deleteUser)

	roles := v1.Group("/roles", mw.Authenticate())
	roles.Get("/", mw.RequireRight(right.RoleRead), h.listRoles)
	roles.Get("/:name", mw.RequireRight(right.RoleRead), h.getRole)
	roles.Post("/", mw.RequireRight(right.RoleCreate), h.createRole)
	roles.Put("/:name", mw.RequireRight(right.RoleUpdate), h.updateRole)
	roles.Patch("/:name", mw.RequireRight(right.RoleUpdate), h.patchRole)
	roles.Delete("/:name", mw.RequireRight(right.RoleDelete), h.deleteRole)

	rights := v1.Group("/rights", mw.Authenticate())
	rights.Get("/", mw.RequireRight(right.RightRead), h.listRights)
	rights.Post("/", mw.RequireRight(right.RightUpdate), h.createRight)
	rights.Put("/:authority", mw.RequireRight(right.RightUpdate), h.updateRight)
	rights.Delete("/:authority", mw.RequireRight(right.RightUpdate), h.deleteRight)

	tokens := v1.Group("/api-tokens", mw.Authenticate(session.TypeAccess), mw.RequireRight(right.APIDeveloper))
	tokens.Get("/", h.listAPITokens)
	tokens.Post("/", h.createAPIToken)
	tokens.Patch("/:id", h.revokeAPIToken)
	tokens.Delete("/:id", h.deleteAPIToken)
}

func (h *Handlers) redirectAllowed(target string) bool {
	return target == h.cfg.DefaultRedirect || slices.Contains(h.cfg.AllowedRedirects, target)
}

func bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return iam.ErrIllegalArgument("malformed request body")
	}
	return nil
}

func currentAuth(c *fiber.Ctx) (*kernel.AuthContext, error) {
	ac, ok := auth.AuthFrom(c)
	if !ok {
		return nil, iam.ErrUnauthorized()
	}
	return ac, nil
}
