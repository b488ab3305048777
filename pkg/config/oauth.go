package config

import (
	"strings"
	"time"
)

// OAuthConfig lists the OAuth2 providers. OAUTH_PROVIDERS names them and
// each one reads OAUTH_<NAME>_* variables.
type OAuthConfig struct {
	AllowSignup bool
	UpdateRoles bool
	StateTTL    time.Duration
	// RedirectURLs the browser may be sent back to after login.
	AllowedRedirects []string
	DefaultRedirect  string
	Providers        []OAuthProviderConfig
}

type OAuthProviderConfig struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
	UsernameAttr string
	RolesAttr    string
	// RoleMapping is read from "src:DST,src2:DST2".
	RoleMapping map[string]string
}

func loadOAuthConfig() OAuthConfig {
	cfg := OAuthConfig{
		AllowSignup:      getEnvBool("OAUTH_ALLOW_SIGNUP", true),
		UpdateRoles:      getEnvBool("OAUTH_UPDATE_ROLES", false),
		StateTTL:         getEnvDuration("OAUTH_STATE_TTL", 10*time.Minute),
		AllowedRedirects: getEnvStringSlice("OAUTH_ALLOWED_REDIRECTS", nil),
		DefaultRedirect:  getEnv("OAUTH_DEFAULT_REDIRECT", "/"),
	}
	for _, name := range getEnvStringSlice("OAUTH_PROVIDERS", nil) {
		prefix := "OAUTH_" + strings.ToUpper(name) + "_"
		cfg.Providers = append(cfg.Providers, OAuthProviderConfig{
			Name:         name,
			ClientID:     getEnv(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"CLIENT_SECRET", ""),
			AuthURL:      getEnv(prefix+"AUTH_URL", ""),
			TokenURL:     getEnv(prefix+"TOKEN_URL", ""),
			UserInfoURL:  getEnv(prefix+"USERINFO_URL", ""),
			RedirectURL:  getEnv(prefix+"REDIRECT_URL", ""),
			Scopes:       getEnvStringSlice(prefix+"SCOPES", nil),
			UsernameAttr: getEnv(prefix+"USERNAME_ATTR", ""),
			RolesAttr:    getEnv(prefix+"ROLES_ATTR", ""),
			RoleMapping:  parseMapping(getEnv(prefix+"ROLE_MAPPING", "")),
		})
	}
	return cfg
}

func parseMapping(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		src, dst, ok := strings.Cut(pair, ":")
		src, dst = strings.TrimSpace(src), strings.TrimSpace(dst)
		if ok && src != "" && dst != "" {
			out[src] = dst
		}
	}
	return out
}
