package auth

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
)

// APITokenAuthorizer confirms that an API token is still active.
type APITokenAuthorizer interface {
	Authorize(ctx context.Context, id string) (*apitoken.ApiToken, error)
}

// Authenticator turns a raw bearer token into an AuthContext. On top of
// the verifier's checks it compares the token nonce with the user's
// current nonce.
type Authenticator struct {
	verifier   *sessionsrv.Verifier
	principals sessionsrv.PrincipalLoader
	apiTokens  APITokenAuthorizer
}

func NewAuthenticator(verifier *sessionsrv.Verifier, principals sessionsrv.PrincipalLoader, apiTokens APITokenAuthorizer) *Authenticator {
	return &Authenticator{verifier: verifier, principals: principals, apiTokens: apiTokens}
}

func (a *Authenticator) Authenticate(ctx context.Context, raw string) (*kernel.AuthContext, error) {
	st, claims, err := a.verifier.Resolve(ctx, raw)
	if err != nil {
		return nil, err
	}

	if st.Type == session.TypeAPI {
		id, _ := claims.Extra[apitoken.ClaimAPITokenID].(string)
		if id == "" {
			return nil, iam.ErrBadCredentials("api token id missing")
		}
		if _, err := a.apiTokens.Authorize(ctx, id); err != nil {
			return nil, err
		}
		return &kernel.AuthContext{
			UserID:    kernel.NewUserID(claims.UserID),
			Username:  claims.Subject,
			Name:      claims.GivenName + " " + claims.FamilyName,
			Roles:     claims.Roles,
			Rights:    claims.Rights,
			TokenID:   st.ID,
			TokenType: st.Type.String(),
			IsAPI:     true,
		}, nil
	}

	p, err := a.principals.LoadPrincipal(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	if claims.Nonce != p.Nonce {
		return nil, iam.ErrNonceExpired()
	}

	return &kernel.AuthContext{
		UserID:    p.UserID,
		Username:  p.Username,
		Name:      claims.GivenName + " " + claims.FamilyName,
		Roles:     claims.Roles,
		Rights:    claims.Rights,
		TokenID:   st.ID,
		TokenType: st.Type.String(),
	}, nil
}
