package federation

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

type Config struct {
	// AllowSignup creates unknown users on their first federated login.
	AllowSignup bool
	// UpdateRoles replaces the roles of known users with the claimed ones
	// on every login.
	UpdateRoles   bool
	StateTTL      time.Duration
	DefaultLocale string
}

// Service consumes verified identities: it finds or creates the user and
// mints a REFRESH token.
type Service struct {
	cfg        Config
	users      user.Repository
	roles      role.Repository
	principals *usersrv.Principals
	factory    *sessionsrv.Factory
	states     StateStore
	providers  map[string]Provider
	clock      kernel.Clock
	audit      audit.Service
}

func NewService(
	cfg Config,
	users user.Repository,
	roles role.Repository,
	principals *usersrv.Principals,
	factory *sessionsrv.Factory,
	states StateStore,
	clock kernel.Clock,
	auditSvc audit.Service,
	providers ...Provider,
) *Service {
	if cfg.StateTTL == 0 {
		cfg.StateTTL = 10 * time.Minute
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "en"
	}
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Service{
		cfg:        cfg,
		users:      users,
		roles:      roles,
		principals: principals,
		factory:    factory,
		states:     states,
		providers:  byName,
		clock:      clock,
		audit:      auditSvc,
	}
}

// Providers lists the configured provider names.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return names
}

// Begin starts a login with provider and returns the URL to redirect to.
func (s *Service) Begin(ctx context.Context, provider, redirectURL string) (string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return "", ErrUnknownProvider(provider)
	}
	state, err := s.states.Issue(ctx, PendingLogin{Provider: provider, RedirectURL: redirectURL}, s.cfg.StateTTL)
	if err != nil {
		return "", err
	}
	return p.AuthCodeURL(state), nil
}

// Complete finishes the flow started by Begin. It returns the minted
// REFRESH token and the redirect URL stored with the state.
func (s *Service) Complete(ctx context.Context, provider, state, code, userAgent string) (*sessionsrv.Minted, string, error) {
	p, ok := s.providers[provider]
	if !ok {
		return nil, "", ErrUnknownProvider(provider)
	}
	pending, err := s.states.Consume(ctx, state)
	if err != nil {
		return nil, "", err
	}
	if pending.Provider != provider {
		return nil, "", ErrInvalidState()
	}

	identity, err := p.Exchange(ctx, code)
	if err != nil {
		return nil, pending.RedirectURL, err
	}
	identity.Provider = provider

	minted, err := s.Login(ctx, *identity, userAgent)
	if err != nil {
		return nil, pending.RedirectURL, err
	}
	return minted, pending.RedirectURL, nil
}

// Login finds the user behind identity, creating it when signup is
// allowed, and mints a REFRESH token for it.
func (s *Service) Login(ctx context.Context, identity Identity, userAgent string) (*sessionsrv.Minted, error) {
	username := user.NormalizeEmail(identity.Username)
	if username == "" {
		return nil, ErrMissingUsername()
	}
	if identity.FirstName == "" {
		identity.FirstName = PlaceholderFirstName
	}
	if identity.LastName == "" {
		identity.LastName = PlaceholderLastName
	}

	u, err := s.users.FindByEmail(ctx, username)
	switch {
	case err == nil:
		if err := s.refresh(ctx, u, identity); err != nil {
			return nil, err
		}
	case errx.IsCode(err, user.CodeUserNotFound):
		if !s.cfg.AllowSignup {
			s.audit.LogLoginAttempt(ctx, username, identity.Provider, false, "", userAgent)
			return nil, ErrSignupDisabled()
		}
		if u, err = s.signup(ctx, username, identity); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if !u.CanLogin() {
		s.audit.LogLoginAttempt(ctx, username, identity.Provider, false, "", userAgent)
		return nil, iam.ErrAccountDisabled()
	}

	p, err := s.principals.For(ctx, *u)
	if err != nil {
		return nil, err
	}
	minted, err := s.factory.Mint(ctx, sessionsrv.MintRequest{Principal: *p, Type: session.TypeRefresh, UserAgent: userAgent})
	if err != nil {
		return nil, err
	}
	s.audit.LogLoginAttempt(ctx, username, identity.Provider, true, "", userAgent)
	return minted, nil
}

func (s *Service) refresh(ctx context.Context, u *user.User, identity Identity) error {
	next := u.Clone()
	next.FirstName = identity.FirstName
	next.LastName = identity.LastName
	if s.cfg.UpdateRoles {
		roles, err := s.resolveRoles(ctx, identity.ClaimedRoles)
		if err != nil {
			return err
		}
		next.Roles = roles
	}
	next.UpdatedAt = s.clock.Now()
	if err := s.users.Save(ctx, next); err != nil {
		return err
	}
	*u = next
	return nil
}

func (s *Service) signup(ctx context.Context, username string, identity Identity) (*user.User, error) {
	roles, err := s.resolveRoles(ctx, identity.ClaimedRoles)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	u := user.User{
		ID:        kernel.GenerateUserID(),
		Email:     username,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		Locale:    s.cfg.DefaultLocale,
		Nonce:     user.NewNonce(),
		Source:    identity.Provider,
		Roles:     roles,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Save(ctx, u); err != nil {
		return nil, err
	}
	logx.WithFields(logx.Fields{"username": username, "provider": identity.Provider}).Info("created user from federated login")
	return &u, nil
}

// resolveRoles keeps the claimed roles that exist and falls back to the
// default role when none remain.
func (s *Service) resolveRoles(ctx context.Context, claimed []string) ([]string, error) {
	var roles []string
	for _, name := range claimed {
		r, err := s.roles.FindByName(ctx, name)
		if err != nil {
			if errx.IsCode(err, role.CodeRoleNotFound) {
				logx.WithField("role", name).Debug("ignoring unknown claimed role")
				continue
			}
			return nil, err
		}
		roles = append(roles, r.Name)
	}
	if len(roles) > 0 {
		return roles, nil
	}
	def, err := s.roles.FindDefault(ctx)
	if err != nil {
		return nil, err
	}
	if def != nil {
		roles = append(roles, def.Name)
	}
	return roles, nil
}
