package sessionsrv

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// PrincipalLoader loads the current state of a user for token minting.
// It fails when the user no longer exists or may not log in.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, username string) (*session.Principal, error)
}

// Registry manages the issued sessions of users.
type Registry struct {
	repo       session.Repository
	factory    *Factory
	verifier   *Verifier
	principals PrincipalLoader
	clock      kernel.Clock
	audit      audit.Service
}

func NewRegistry(repo session.Repository, factory *Factory, verifier *Verifier, principals PrincipalLoader, clock kernel.Clock, auditSvc audit.Service) *Registry {
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	return &Registry{
		repo:       repo,
		factory:    factory,
		verifier:   verifier,
		principals: principals,
		clock:      clock,
		audit:      auditSvc,
	}
}

// GetTokens lists the REFRESH sessions of username.
func (r *Registry) GetTokens(ctx context.Context, username string) ([]session.SessionToken, error) {
	return r.repo.FindByUsernameAndType(ctx, username, session.TypeRefresh)
}

// DeleteToken removes one of username's sessions and its children.
func (r *Registry) DeleteToken(ctx context.Context, username, tokenID string) error {
	st, err := r.repo.FindByID(ctx, tokenID)
	if err != nil {
		if errx.IsCode(err, session.CodeSessionNotFound) {
			return iam.ErrNotFound("session token")
		}
		return err
	}
	if !st.BelongsTo(username) {
		return iam.ErrIllegalArgument("token does not belong to " + username)
	}
	if err := r.repo.Delete(ctx, tokenID); err != nil {
		return err
	}
	r.audit.LogLogout(ctx, username, tokenID)
	return nil
}

// DeleteAllForUser removes every session of username, children first.
func (r *Registry) DeleteAllForUser(ctx context.Context, username string) (int, error) {
	total := 0
	for _, t := range []session.TokenType{session.TypeAccess, session.TypeRefresh, session.TypeAPI} {
		n, err := r.repo.DeleteByUsernameAndType(ctx, username, t)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Registry) DeleteAllForUserAndType(ctx context.Context, username string, t session.TokenType) (int, error) {
	return r.repo.DeleteByUsernameAndType(ctx, username, t)
}

// Renew exchanges a REFRESH token for a new ACCESS token.
func (r *Registry) Renew(ctx context.Context, refreshRaw, userAgent string) (*Minted, error) {
	parent, claims, err := r.verifier.Resolve(ctx, refreshRaw)
	if err != nil {
		return nil, err
	}
	if parent.Type != session.TypeRefresh {
		return nil, iam.ErrIllegalArgument("only refresh tokens can be renewed")
	}

	p, err := r.principals.LoadPrincipal(ctx, parent.Username)
	if err != nil {
		return nil, err
	}
	if claims.Nonce != p.Nonce {
		return nil, iam.ErrNonceExpired()
	}

	minted, err := r.factory.MintChild(ctx, parent, *p, userAgent)
	if err != nil {
		return nil, err
	}
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "renew",
		"username":    parent.Username,
		"token_id":    minted.Session.ID,
	}).Debug("access token renewed")
	return minted, nil
}

// Logout deletes the REFRESH session behind raw, which may be either the
// REFRESH token itself or an ACCESS token derived from it.
func (r *Registry) Logout(ctx context.Context, raw string) error {
	st, _, err := r.verifier.Resolve(ctx, raw)
	if err != nil {
		return err
	}

	target := st.ID
	switch st.Type {
	case session.TypeAccess:
		if st.ParentTokenID == nil {
			return iam.ErrIllegalArgument("access token has no parent session")
		}
		target = *st.ParentTokenID
	case session.TypeAPI:
		return iam.ErrIllegalArgument("api tokens cannot log out")
	}

	if err := r.repo.Delete(ctx, target); err != nil && !errx.IsCode(err, session.CodeSessionNotFound) {
		return err
	}
	r.audit.LogLogout(ctx, st.Username, target)
	return nil
}

// Cleanup deletes every session that expired before now.
func (r *Registry) Cleanup(ctx context.Context) (int, error) {
	return r.repo.DeleteExpired(ctx, r.clock.Now())
}
