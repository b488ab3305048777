package kernel

import "context"

// AuthContext is the authenticated principal attached to each request.
type AuthContext struct {
	UserID    UserID   `json:"user_id"`
	Username  string   `json:"username"`
	Name      string   `json:"name"`
	Roles     []string `json:"roles"`
	Rights    []string `json:"rights"`
	TokenID   string   `json:"token_id"`
	TokenType string   `json:"token_type"`
	IsAPI     bool     `json:"is_api"`
}

// HasRight reports whether the principal was granted authority.
func (ac *AuthContext) HasRight(authority string) bool {
	for _, r := range ac.Rights {
		if r == authority {
			return true
		}
	}
	return false
}

// HasAnyRight reports whether at least one of the authorities was granted.
func (ac *AuthContext) HasAnyRight(authorities ...string) bool {
	for _, a := range authorities {
		if ac.HasRight(a) {
			return true
		}
	}
	return false
}

type ContextKey string

const (
	AuthContextKey ContextKey = "auth_context"
	RequestIDKey   ContextKey = "request_id"
)

// WithAuth stores the principal on ctx.
func WithAuth(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, ac)
}

// AuthFrom returns the principal stored on ctx, if any.
func AuthFrom(ctx context.Context) (*AuthContext, bool) {
	ac, ok := ctx.Value(AuthContextKey).(*AuthContext)
	return ac, ok && ac != nil
}
