package apitokensrv

import (
	"context"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/google/uuid"
)

// CreateRequest describes a new API token. ValidUntil is a calendar day;
// the token stays usable until the end of that day (UTC).
type CreateRequest struct {
	Description string     `json:"description"`
	Rights      []string   `json:"rights"`
	ValidUntil  *time.Time `json:"valid_until,omitempty"`
}

// Created is returned once; the signed token is never shown again.
type Created struct {
	ApiToken apitoken.ApiToken `json:"api_token"`
	Token    string            `json:"token"`
}

type ApiTokenService struct {
	repo       apitoken.Repository
	factory    *sessionsrv.Factory
	registry   *sessionsrv.Registry
	principals sessionsrv.PrincipalLoader
	clock      kernel.Clock
}

func NewApiTokenService(
	repo apitoken.Repository,
	factory *sessionsrv.Factory,
	registry *sessionsrv.Registry,
	principals sessionsrv.PrincipalLoader,
	clock kernel.Clock,
) *ApiTokenService {
	return &ApiTokenService{
		repo:       repo,
		factory:    factory,
		registry:   registry,
		principals: principals,
		clock:      clock,
	}
}

// Create issues a token for linkedUser carrying a subset of that user's
// current rights.
func (s *ApiTokenService) Create(ctx context.Context, linkedUser string, req CreateRequest) (*Created, error) {
	req.Description = strings.TrimSpace(req.Description)
	if req.Description == "" {
		return nil, iam.ErrIllegalArgument("description is required")
	}

	issuer, err := s.principals.LoadPrincipal(ctx, linkedUser)
	if err != nil {
		return nil, err
	}
	if !right.NewSet(issuer.Rights...).ContainsAll(right.NewSet(req.Rights...)) {
		return nil, iam.ErrIllegalArgument("api token rights must be a subset of the issuer's rights")
	}

	now := s.clock.Now()
	var expiration *time.Time
	if req.ValidUntil != nil {
		day := req.ValidUntil.UTC().Truncate(24 * time.Hour)
		if day.Before(now.Truncate(24 * time.Hour)) {
			return nil, iam.ErrIllegalArgument("valid until may not be in the past")
		}
		end := day.Add(24 * time.Hour)
		expiration = &end
	}

	exists, err := s.repo.ExistsByDescription(ctx, linkedUser, req.Description)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, apitoken.ErrDuplicateDescription().WithDetail("description", req.Description)
	}

	id := uuid.NewString()
	principal := *issuer
	principal.Rights = right.NewSet(req.Rights...).Sorted()
	principal.Roles = nil
	principal.Nonce = ""
	principal.Extra = map[string]interface{}{apitoken.ClaimAPITokenID: id}

	minted, err := s.factory.Mint(ctx, sessionsrv.MintRequest{
		Principal:  principal,
		Type:       session.TypeAPI,
		UserAgent:  "api-token",
		Expiration: expiration,
		Username:   session.APIUsername(issuer.Username, id),
	})
	if err != nil {
		return nil, err
	}

	t := apitoken.ApiToken{
		ID:          id,
		Description: req.Description,
		LinkedUser:  issuer.Username,
		Rights:      principal.Rights,
		ValidUntil:  minted.Session.Expiration,
		Status:      apitoken.StatusActive,
		CreatedAt:   now,
	}
	if err := s.repo.Save(ctx, t); err != nil {
		_ = s.deleteSessions(ctx, t)
		return nil, err
	}

	logx.WithFields(logx.Fields{"api_token_id": id, "linked_user": t.LinkedUser}).Info("api token created")
	return &Created{ApiToken: t, Token: minted.Token}, nil
}

func (s *ApiTokenService) List(ctx context.Context, linkedUser string) ([]apitoken.ApiToken, error) {
	return s.repo.FindByLinkedUser(ctx, linkedUser)
}

// Revoke marks an active token REVOKED and kills its sessions.
func (s *ApiTokenService) Revoke(ctx context.Context, linkedUser, id string) (*apitoken.ApiToken, error) {
	t, err := s.owned(ctx, linkedUser, id)
	if err != nil {
		return nil, err
	}
	if t.Status != apitoken.StatusActive {
		return nil, iam.ErrIllegalArgument("only active api tokens can be revoked")
	}
	if err := s.deleteSessions(ctx, *t); err != nil {
		return nil, err
	}
	t.Status = apitoken.StatusRevoked
	t.ValidUntil = s.clock.Now().Truncate(24 * time.Hour)
	if err := s.repo.Save(ctx, *t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a token, its sessions first.
func (s *ApiTokenService) Delete(ctx context.Context, linkedUser, id string) error {
	t, err := s.owned(ctx, linkedUser, id)
	if err != nil {
		return err
	}
	if err := s.deleteSessions(ctx, *t); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// RemoveForUser deletes every token linked to username along with its
// sessions. status records why, for the audit trail.
func (s *ApiTokenService) RemoveForUser(ctx context.Context, username string, status apitoken.Status) (int, error) {
	tokens, err := s.repo.FindByLinkedUser(ctx, username)
	if err != nil {
		return 0, err
	}
	for _, t := range tokens {
		if err := s.deleteSessions(ctx, t); err != nil {
			return 0, err
		}
		if err := s.repo.Delete(ctx, t.ID); err != nil && !errx.IsCode(err, apitoken.CodeNotFound) {
			return 0, err
		}
		logx.WithFields(logx.Fields{
			"api_token_id": t.ID,
			"linked_user":  t.LinkedUser,
			"status":       status,
		}).Info("api token removed")
	}
	return len(tokens), nil
}

// ExpireOverdue flags active tokens past their validity as EXPIRED.
func (s *ApiTokenService) ExpireOverdue(ctx context.Context) (int, error) {
	return s.repo.ExpireBefore(ctx, s.clock.Now())
}

// Authorize checks that the token behind an API JWT is still active.
func (s *ApiTokenService) Authorize(ctx context.Context, id string) (*apitoken.ApiToken, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errx.IsCode(err, apitoken.CodeNotFound) {
			return nil, iam.ErrUnauthorized()
		}
		return nil, err
	}
	if !t.IsActiveAt(s.clock.Now()) {
		return nil, apitoken.ErrNotActive()
	}
	return t, nil
}

func (s *ApiTokenService) owned(ctx context.Context, linkedUser, id string) (*apitoken.ApiToken, error) {
	t, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(t.LinkedUser, linkedUser) {
		return nil, apitoken.ErrNotFound().WithDetail("id", id)
	}
	return t, nil
}

func (s *ApiTokenService) deleteSessions(ctx context.Context, t apitoken.ApiToken) error {
	_, err := s.registry.DeleteAllForUserAndType(ctx, session.APIUsername(t.LinkedUser, t.ID), session.TypeAPI)
	return err
}
