package sessionsrv

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim names written into every token.
const (
	ClaimSubject       = "sub"
	ClaimIssuedAt      = "iat"
	ClaimExpiration    = "exp"
	ClaimIssuer        = "iss"
	ClaimNonce         = "nonce"
	ClaimGivenName     = "given_name"
	ClaimFamilyName    = "family_name"
	ClaimUserID        = "uid"
	ClaimRoles         = "roles"
	ClaimRights        = "rights"
	ClaimLocale        = "locale"
	ClaimParentTokenID = "parent_token_id"

	HeaderKeyID = "kid"
	HeaderType  = "typ"
)

var reservedClaims = map[string]bool{
	ClaimSubject: true, ClaimIssuedAt: true, ClaimExpiration: true, ClaimIssuer: true,
	ClaimNonce: true, ClaimGivenName: true, ClaimFamilyName: true, ClaimUserID: true,
	ClaimRoles: true, ClaimRights: true, ClaimLocale: true, ClaimParentTokenID: true,
}

// Claims is the verified content of a token.
type Claims struct {
	TokenID       string
	Type          string
	Subject       string
	Issuer        string
	Nonce         string
	GivenName     string
	FamilyName    string
	UserID        string
	Locale        string
	Roles         []string
	Rights        []string
	ParentTokenID string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Extra         map[string]interface{}
}

func claimsFromMap(kid, typ string, m jwt.MapClaims) *Claims {
	c := &Claims{
		TokenID:       kid,
		Type:          typ,
		Nonce:         stringClaim(m, ClaimNonce),
		GivenName:     stringClaim(m, ClaimGivenName),
		FamilyName:    stringClaim(m, ClaimFamilyName),
		UserID:        stringClaim(m, ClaimUserID),
		Locale:        stringClaim(m, ClaimLocale),
		Roles:         stringsClaim(m, ClaimRoles),
		Rights:        stringsClaim(m, ClaimRights),
		ParentTokenID: stringClaim(m, ClaimParentTokenID),
		Extra:         map[string]interface{}{},
	}
	c.Subject, _ = m.GetSubject()
	c.Issuer, _ = m.GetIssuer()
	if iat, err := m.GetIssuedAt(); err == nil && iat != nil {
		c.IssuedAt = iat.Time
	}
	if exp, err := m.GetExpirationTime(); err == nil && exp != nil {
		c.ExpiresAt = exp.Time
	}
	for k, v := range m {
		if !reservedClaims[k] {
			c.Extra[k] = v
		}
	}
	return c
}

func stringClaim(m jwt.MapClaims, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringsClaim(m jwt.MapClaims, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
