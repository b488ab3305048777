package sessionsrv

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeySize is the length in bytes of every per-token HS512 secret.
const KeySize = 64

// Config holds token lifetimes and the issuer claim.
type Config struct {
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	APIDefaultTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = "bastion"
	}
	if c.AccessTTL == 0 {
		c.AccessTTL = 15 * time.Minute
	}
	if c.RefreshTTL == 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.APIDefaultTTL == 0 {
		c.APIDefaultTTL = 365 * 24 * time.Hour
	}
	return c
}

// LoginNotifier is told about every new REFRESH token.
type LoginNotifier interface {
	NotifyNewLogin(ctx context.Context, p session.Principal, userAgent string, at time.Time) error
}

// MintRequest describes a token to issue.
type MintRequest struct {
	Principal session.Principal
	Type      session.TokenType
	UserAgent string

	// Bearer is the raw REFRESH token an ACCESS token is derived from.
	Bearer string

	// Expiration and Username only apply to API tokens. Username replaces
	// the principal's username as session owner and subject.
	Expiration *time.Time
	Username   string
}

// Minted is a signed token and the session row stored for it.
type Minted struct {
	Token   string               `json:"token"`
	Session session.SessionToken `json:"session"`
}

// Factory mints signed tokens, each with its own freshly generated key.
type Factory struct {
	cfg      Config
	repo     session.Repository
	verifier *Verifier
	clock    kernel.Clock
	notifier LoginNotifier
	audit    audit.Service
}

func NewFactory(cfg Config, repo session.Repository, verifier *Verifier, clock kernel.Clock, notifier LoginNotifier, auditSvc audit.Service) *Factory {
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	return &Factory{
		cfg:      cfg.withDefaults(),
		repo:     repo,
		verifier: verifier,
		clock:    clock,
		notifier: notifier,
		audit:    auditSvc,
	}
}

// Mint issues a token of req.Type for req.Principal.
func (f *Factory) Mint(ctx context.Context, req MintRequest) (*Minted, error) {
	switch req.Type {
	case session.TypeRefresh:
		return f.mintRefresh(ctx, req.Principal, req.UserAgent)
	case session.TypeAccess:
		if req.Bearer == "" {
			return nil, iam.ErrIllegalArgument("an access token requires a refresh token")
		}
		parent, _, err := f.verifier.Resolve(ctx, req.Bearer)
		if err != nil {
			return nil, err
		}
		return f.MintChild(ctx, parent, req.Principal, req.UserAgent)
	case session.TypeAPI:
		return f.mintAPI(ctx, req)
	}
	return nil, iam.ErrIllegalArgument("unknown token type " + string(req.Type))
}

// MintChild issues an ACCESS token under parent, expiring every live ACCESS
// token already issued under it.
func (f *Factory) MintChild(ctx context.Context, parent *session.SessionToken, p session.Principal, userAgent string) (*Minted, error) {
	if parent.Type != session.TypeRefresh {
		return nil, iam.ErrIllegalArgument("access tokens can only be derived from a refresh token")
	}
	if !strings.EqualFold(parent.Username, p.Username) {
		return nil, iam.ErrIllegalArgument("refresh token does not belong to " + p.Username)
	}

	now := f.clock.Now()
	exp := now.Add(f.cfg.AccessTTL)
	if exp.After(parent.Expiration) {
		exp = parent.Expiration
	}

	st, err := newSessionToken(p.Username, session.TypeAccess, userAgent, now, exp)
	if err != nil {
		return nil, err
	}
	st.ParentTokenID = ptrx.String(parent.ID)

	signed, err := f.sign(st, p)
	if err != nil {
		return nil, err
	}
	if err := f.repo.CreateRotating(ctx, parent.ID, now, st); err != nil {
		return nil, err
	}

	f.audit.LogTokenIssued(ctx, st.Username, st.ID, st.Type.String())
	return &Minted{Token: signed, Session: st}, nil
}

func (f *Factory) mintRefresh(ctx context.Context, p session.Principal, userAgent string) (*Minted, error) {
	now := f.clock.Now()
	st, err := newSessionToken(p.Username, session.TypeRefresh, userAgent, now, now.Add(f.cfg.RefreshTTL))
	if err != nil {
		return nil, err
	}
	signed, err := f.sign(st, p)
	if err != nil {
		return nil, err
	}
	if err := f.repo.Create(ctx, st); err != nil {
		return nil, err
	}

	f.audit.LogTokenIssued(ctx, st.Username, st.ID, st.Type.String())
	f.notifyLogin(ctx, p, userAgent, now)
	return &Minted{Token: signed, Session: st}, nil
}

func (f *Factory) mintAPI(ctx context.Context, req MintRequest) (*Minted, error) {
	now := f.clock.Now()
	exp := ptrx.ValueOr(req.Expiration, now.Add(f.cfg.APIDefaultTTL))
	if !exp.After(now) {
		return nil, iam.ErrIllegalArgument("api token expiration must be in the future")
	}

	p := req.Principal
	if req.Username != "" {
		p.Username = req.Username
	}
	st, err := newSessionToken(p.Username, session.TypeAPI, req.UserAgent, now, exp)
	if err != nil {
		return nil, err
	}
	signed, err := f.sign(st, p)
	if err != nil {
		return nil, err
	}
	if err := f.repo.Create(ctx, st); err != nil {
		return nil, err
	}

	f.audit.LogTokenIssued(ctx, st.Username, st.ID, st.Type.String())
	return &Minted{Token: signed, Session: st}, nil
}

func (f *Factory) sign(st session.SessionToken, p session.Principal) (string, error) {
	claims := jwt.MapClaims{}
	for k, v := range p.Extra {
		if !reservedClaims[k] {
			claims[k] = v
		}
	}
	claims[ClaimSubject] = st.Username
	claims[ClaimIssuedAt] = jwt.NewNumericDate(st.IssuedAt)
	claims[ClaimExpiration] = jwt.NewNumericDate(st.Expiration)
	claims[ClaimIssuer] = f.cfg.Issuer
	claims[ClaimNonce] = p.Nonce
	claims[ClaimGivenName] = p.FirstName
	claims[ClaimFamilyName] = p.LastName
	claims[ClaimUserID] = p.UserID.String()
	claims[ClaimRoles] = nonNil(p.Roles)
	claims[ClaimRights] = nonNil(p.Rights)
	claims[ClaimLocale] = p.Locale
	if st.ParentTokenID != nil {
		claims[ClaimParentTokenID] = *st.ParentTokenID
	} else {
		claims[ClaimParentTokenID] = nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	tok.Header[HeaderKeyID] = st.ID
	tok.Header[HeaderType] = st.Type.String()

	signed, err := tok.SignedString(st.Key)
	if err != nil {
		return "", session.ErrSigningFailed(err)
	}
	return signed, nil
}

func (f *Factory) notifyLogin(ctx context.Context, p session.Principal, userAgent string, at time.Time) {
	if f.notifier == nil {
		return
	}
	asyncx.Detached(ctx, 30*time.Second, func(ctx context.Context) {
		if err := f.notifier.NotifyNewLogin(ctx, p, userAgent, at); err != nil {
			logx.WithError(err).WithField("username", p.Username).Warn("failed to send login notification")
		}
	})
}

func newSessionToken(username string, t session.TokenType, userAgent string, issuedAt, exp time.Time) (session.SessionToken, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return session.SessionToken{}, session.ErrKeyGeneration(err)
	}
	return session.SessionToken{
		ID:         uuid.NewString(),
		Username:   username,
		Type:       t,
		Key:        key,
		IssuedAt:   issuedAt,
		Expiration: exp,
		UserAgent:  userAgent,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
