package auth

import (
	"strings"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/gofiber/fiber/v2"
)

const (
	localsAuth   = "auth"
	localsBearer = "bearer"

	AccessTokenCookie = "access_token"
)

// TokenMiddleware authenticates fiber requests with bearer tokens.
type TokenMiddleware struct {
	authenticator *Authenticator
}

func NewTokenMiddleware(authenticator *Authenticator) *TokenMiddleware {
	return &TokenMiddleware{authenticator: authenticator}
}

// Authenticate validates the bearer token and stores the AuthContext in
// the request locals and user context. Only the listed token types are
// accepted; with none listed ACCESS and API tokens pass.
func (m *TokenMiddleware) Authenticate(types ...session.TokenType) fiber.Handler {
	if len(types) == 0 {
		types = []session.TokenType{session.TypeAccess, session.TypeAPI}
	}
	return func(c *fiber.Ctx) error {
		raw := BearerToken(c)
		if raw == "" {
			return iam.ErrUnauthorized().WriteFiber(c)
		}

		ac, err := m.authenticator.Authenticate(c.UserContext(), raw)
		if err != nil {
			return errx.FromError(err).WriteFiber(c)
		}
		if !acceptsType(types, ac.TokenType) {
			return iam.ErrBadCredentials("token type not accepted here").WriteFiber(c)
		}

		c.Locals(localsAuth, ac)
		c.Locals(localsBearer, raw)
		c.SetUserContext(kernel.WithAuth(c.UserContext(), ac))
		return c.Next()
	}
}

// RequireRight rejects principals holding none of the authorities.
func (m *TokenMiddleware) RequireRight(authorities ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ac, ok := AuthFrom(c)
		if !ok {
			return iam.ErrUnauthorized().WriteFiber(c)
		}
		if !ac.HasAnyRight(authorities...) {
			return iam.ErrAccessDenied().WriteFiber(c)
		}
		return c.Next()
	}
}

// AuthFrom returns the principal attached by Authenticate.
func AuthFrom(c *fiber.Ctx) (*kernel.AuthContext, bool) {
	ac, ok := c.Locals(localsAuth).(*kernel.AuthContext)
	return ac, ok && ac != nil
}

// RawToken returns the bearer that Authenticate accepted.
func RawToken(c *fiber.Ctx) string {
	s, _ := c.Locals(localsBearer).(string)
	return s
}

// BearerToken reads "Authorization: Bearer <token>", falling back to the
// access token cookie.
func BearerToken(c *fiber.Ctx) string {
	header := c.Get(fiber.HeaderAuthorization)
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && parts[1] != "" {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Cookies(AccessTokenCookie)
}

func acceptsType(types []session.TokenType, got string) bool {
	for _, t := range types {
		if t.String() == got {
			return true
		}
	}
	return false
}
