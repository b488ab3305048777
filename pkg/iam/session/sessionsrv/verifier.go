package sessionsrv

import (
	"context"
	"errors"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/metricx"
	"github.com/golang-jwt/jwt/v5"
)

// Verifier checks signature, issuer and expiry of raw tokens. It does not
// look at the user's nonce; that is the authenticator's job.
type Verifier struct {
	keys    *KeyStore
	issuer  string
	clock   kernel.Clock
	metrics *metricx.Metrics
}

func NewVerifier(keys *KeyStore, issuer string, clock kernel.Clock, metrics *metricx.Metrics) *Verifier {
	if issuer == "" {
		issuer = Config{}.withDefaults().Issuer
	}
	if metrics == nil {
		metrics = metricx.Nop()
	}
	return &Verifier{keys: keys, issuer: issuer, clock: clock, metrics: metrics}
}

// Verify returns the claims of a valid token.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	_, claims, err := v.Resolve(ctx, raw)
	return claims, err
}

// Resolve verifies raw and also returns the session row it was signed with.
func (v *Verifier) Resolve(ctx context.Context, raw string) (*session.SessionToken, *Claims, error) {
	var st *session.SessionToken

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		found, err := v.keys.Lookup(ctx, t.Header[HeaderKeyID])
		if err != nil {
			return nil, err
		}
		if typ, _ := t.Header[HeaderType].(string); typ != found.Type.String() {
			return nil, iam.ErrBadCredentials("token type does not match session")
		}
		st = found
		return found.Key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		return nil, nil, v.fail(v.mapError(err))
	}
	// Rotation and revocation shorten the row, not the signed exp.
	if st != nil && st.IsExpiredAt(v.clock.Now()) {
		return nil, nil, v.fail(iam.ErrSessionExpired())
	}

	m, ok := tok.Claims.(jwt.MapClaims)
	if !ok || st == nil {
		return nil, nil, iam.ErrBadCredentials("malformed token")
	}
	return st, claimsFromMap(st.ID, st.Type.String(), m), nil
}

// IsAccessTokenValid reports whether accessRaw was derived from refreshRaw.
// Any resolution failure yields false.
func (v *Verifier) IsAccessTokenValid(ctx context.Context, refreshRaw, accessRaw string) bool {
	refresh, _, err := v.Resolve(ctx, refreshRaw)
	if err != nil || refresh.Type != session.TypeRefresh {
		return false
	}
	access, _, err := v.Resolve(ctx, accessRaw)
	if err != nil || access.Type != session.TypeAccess {
		return false
	}
	return access.HasParent(refresh.ID)
}

func (v *Verifier) fail(err error) error {
	v.metrics.VerificationsFailed.WithLabelValues(errx.CodeOf(err)).Inc()
	return err
}

func (v *Verifier) mapError(err error) error {
	var xe *errx.Error
	if errors.As(err, &xe) {
		return xe
	}
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return iam.ErrSessionExpired()
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return iam.ErrBadCredentials("signature mismatch")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return iam.ErrBadCredentials("issuer mismatch")
	default:
		return iam.ErrBadCredentials("malformed token")
	}
}
