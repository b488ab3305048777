// Package iamcontainer wires the IAM bounded context.
package iamcontainer

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/config"
	"github.com/Abraxas-365/bastion/pkg/dbx"
	"github.com/Abraxas-365/bastion/pkg/eventx"
	"github.com/Abraxas-365/bastion/pkg/iam/adminguard"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokeninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/apitoken/apitokensrv"
	"github.com/Abraxas-365/bastion/pkg/iam/audit/auditinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/auth"
	"github.com/Abraxas-365/bastion/pkg/iam/bootstrap"
	"github.com/Abraxas-365/bastion/pkg/iam/federation"
	"github.com/Abraxas-365/bastion/pkg/iam/federation/federationinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/iamapi"
	"github.com/Abraxas-365/bastion/pkg/iam/invalidation"
	"github.com/Abraxas-365/bastion/pkg/iam/right"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/right/rightsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/role/roleinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/role/rolesrv"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/iam/usermail"
	"github.com/Abraxas-365/bastion/pkg/jobx"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/metricx"
	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/Abraxas-365/bastion/pkg/notifx/notifxconsole"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// Deps are the shared resources owned by the root container.
type Deps struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	Cfg     *config.Config
	Metrics *metricx.Metrics
	Events  eventx.Publisher
	Mail    *notifx.Client

	// Jobs is required when mail delivery is queued.
	Jobs *jobx.Client

	// Clock defaults to the system clock.
	Clock kernel.Clock
}

// Container is the public surface of the IAM module.
type Container struct {
	UserService     *usersrv.UserService
	RoleService     *rolesrv.RoleService
	RightService    *rightsrv.RightService
	APITokenService *apitokensrv.ApiTokenService
	Login           *auth.LoginService
	Federation      *federation.Service

	Registry *sessionsrv.Registry
	Verifier *sessionsrv.Verifier
	Guard    *adminguard.Guard
	Mailer   *usermail.Mailer

	Handlers   *iamapi.Handlers
	Middleware *auth.TokenMiddleware

	CleanupWorker *sessionsrv.CleanupWorker

	rawRights       right.Repository
	rawRoles        role.Repository
	defaultRole     string
	cleanupInterval time.Duration
}

// New builds the IAM dependency graph: repositories, session machinery,
// invalidation decorators, services and finally the HTTP layer.
func New(deps Deps) (*Container, error) {
	logx.Info("🔧 Initializing IAM container...")
	cfg := deps.Cfg
	clock := deps.Clock
	if clock == nil {
		clock = kernel.SystemClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metricx.Nop()
	}
	if deps.Events == nil {
		deps.Events = eventx.NewLogPublisher()
	}
	if deps.Mail == nil {
		deps.Mail = notifx.NewClient(notifxconsole.NewConsoleProvider(), cfg.Notifx.From())
	}
	interval := cfg.Auth.JWT.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	// ── Repositories ─────────────────────────────────────────────────────

	rawUsers := userinfra.NewPostgresUserRepository(deps.DB)
	rawRoles := roleinfra.NewPostgresRoleRepository(deps.DB)
	rawRights := rightinfra.NewPostgresRightRepository(deps.DB)
	sessions := sessioninfra.NewPostgresSessionRepository(deps.DB)
	apiTokenRepo := apitokeninfra.NewPostgresApiTokenRepository(deps.DB)
	uow := dbx.NewSQLUnitOfWork(deps.DB)

	auditSvc := auditinfra.NewLogxAuditService(deps.Events, deps.Metrics)

	// ── Mail ─────────────────────────────────────────────────────────────

	queued := cfg.Mail.Delivery == "queue" && deps.Jobs != nil
	var enqueuer jobx.Enqueuer
	if queued {
		enqueuer = deps.Jobs
	}
	mailer, err := usermail.New(usermail.Config{
		AppName:       cfg.Server.AppName,
		ResetURL:      cfg.Auth.Password.ResetURL,
		ResetTokenTTL: cfg.Auth.Password.ResetTokenTTL,
		Queue:         queued,
		Attempts:      cfg.Mail.Attempts,
	}, deps.Mail, enqueuer)
	if err != nil {
		return nil, err
	}
	if queued {
		mailer.Register(deps.Jobs)
		logx.Info("  ✅ Account mails delivered through the job queue")
	}

	// ── Sessions ─────────────────────────────────────────────────────────

	sessionCfg := sessionsrv.Config{
		Issuer:        cfg.Auth.JWT.Issuer,
		AccessTTL:     cfg.Auth.JWT.AccessTTL,
		RefreshTTL:    cfg.Auth.JWT.RefreshTTL,
		APIDefaultTTL: cfg.Auth.JWT.APIDefaultTTL,
	}
	verifier := sessionsrv.NewVerifier(sessionsrv.NewKeyStore(sessions), sessionCfg.Issuer, clock, deps.Metrics)
	factory := sessionsrv.NewFactory(sessionCfg, sessions, verifier, clock, mailer, auditSvc)
	principals := usersrv.NewPrincipals(rawUsers, rawRoles)
	registry := sessionsrv.NewRegistry(sessions, factory, verifier, principals, clock, auditSvc)
	apiTokens := apitokensrv.NewApiTokenService(apiTokenRepo, factory, registry, principals, clock)

	// ── Invalidation ─────────────────────────────────────────────────────

	guard := adminguard.New(cfg.Auth.Admin.Rights, rawRights, rawRoles, rawUsers)
	coord := invalidation.NewCoordinator(rawUsers, rawRoles, registry, apiTokens, guard, auditSvc)
	users := invalidation.NewUserStore(rawUsers, coord, uow)
	roles := invalidation.NewRoleStore(rawRoles, coord, uow)
	rights := invalidation.NewRightStore(rawRights, coord, uow)

	// ── Services ─────────────────────────────────────────────────────────

	hasher := auth.NewBcryptPasswordHasher(cfg.Auth.Password.BcryptCost)
	c := &Container{
		RoleService:     rolesrv.NewRoleService(roles, rights, uow),
		RightService:    rightsrv.NewRightService(rights),
		APITokenService: apiTokens,
		Registry:        registry,
		Verifier:        verifier,
		Guard:           guard,
		Mailer:          mailer,
		CleanupWorker:   sessionsrv.NewCleanupWorker(registry, interval, deps.Metrics),
		rawRights:       rawRights,
		rawRoles:        rawRoles,
		defaultRole:     cfg.Roles.DefaultRole,
		cleanupInterval: interval,
	}
	c.UserService = usersrv.NewUserService(usersrv.Config{
		ResetTokenTTL: cfg.Auth.Password.ResetTokenTTL,
		ResetDelayMin: cfg.Auth.Password.ResetDelayMin,
		ResetDelayMax: cfg.Auth.Password.ResetDelayMax,
		DefaultLocale: cfg.Roles.DefaultLocale,
	}, users, roles, hasher, registry, mailer, clock, auditSvc)
	c.Login = auth.NewLoginService(users, hasher, principals, factory, auditSvc, cfg.Auth.Password.MaxFailedAttempts)

	if len(cfg.OAuth.Providers) > 0 {
		c.Federation = federation.NewService(federation.Config{
			AllowSignup:   cfg.OAuth.AllowSignup,
			UpdateRoles:   cfg.OAuth.UpdateRoles,
			StateTTL:      cfg.OAuth.StateTTL,
			DefaultLocale: cfg.Roles.DefaultLocale,
		}, users, roles, principals, factory, stateStore(deps.Redis, clock), clock, auditSvc, providers(cfg.OAuth.Providers)...)
		logx.Infof("  ✅ OAuth2 providers enabled: %v", c.Federation.Providers())
	}

	// ── HTTP ─────────────────────────────────────────────────────────────

	c.Middleware = auth.NewTokenMiddleware(auth.NewAuthenticator(verifier, principals, apiTokens))
	c.Handlers = iamapi.NewHandlers(iamapi.Config{
		AllowedRedirects: cfg.OAuth.AllowedRedirects,
		DefaultRedirect:  cfg.OAuth.DefaultRedirect,
		SecureCookies:    !cfg.Server.Debug,
	}, iamapi.Services{
		Login:      c.Login,
		Registry:   registry,
		Verifier:   verifier,
		Federation: c.Federation,
		Users:      c.UserService,
		Roles:      c.RoleService,
		Rights:     c.RightService,
		APITokens:  apiTokens,
	}, c.Middleware, auth.NewThrottle(cfg.Auth.Throttle.PerMinute, cfg.Auth.Throttle.Burst))

	logx.Info("✅ IAM container initialized")
	return c, nil
}

func stateStore(rdb *redis.Client, clock kernel.Clock) federation.StateStore {
	if rdb != nil {
		return federationinfra.NewRedisStateStore(rdb)
	}
	logx.Warn("  ⚠️  Using in-memory OAuth2 state store (not recommended for production)")
	return federationinfra.NewMemoryStateStore(clock)
}

func providers(cfgs []config.OAuthProviderConfig) []federation.Provider {
	out := make([]federation.Provider, 0, len(cfgs))
	for _, p := range cfgs {
		out = append(out, federationinfra.NewOAuth2Provider(federationinfra.OAuth2ProviderConfig{
			Name:         p.Name,
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			UserInfoURL:  p.UserInfoURL,
			RedirectURL:  p.RedirectURL,
			Scopes:       p.Scopes,
			Attributes: federationinfra.Attributes{
				Username: p.UsernameAttr,
				Roles:    p.RolesAttr,
			},
			RoleMapping: p.RoleMapping,
		}))
	}
	return out
}

// Seed creates the baseline rights and roles and, when adminEmail is
// set, a first administrator.
func (c *Container) Seed(ctx context.Context, adminEmail, adminPassword string) (*bootstrap.Result, error) {
	defer c.Guard.Reset()
	return bootstrap.Seed(ctx, c.rawRights, c.rawRoles, c.UserService, bootstrap.Options{
		DefaultRole:   c.defaultRole,
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
	})
}

// Sweep removes expired sessions and flags overdue API tokens.
func (c *Container) Sweep(ctx context.Context) (sessions, apiTokens int) {
	return c.CleanupWorker.RunOnce(ctx), c.expireAPITokens(ctx)
}

func (c *Container) expireAPITokens(ctx context.Context) int {
	n, err := c.APITokenService.ExpireOverdue(ctx)
	if err != nil {
		logx.WithError(err).Error("api token expiry sweep failed")
		return 0
	}
	if n > 0 {
		logx.WithField("count", n).Info("overdue api tokens expired")
	}
	return n
}

// StartBackgroundServices runs the periodic sweeps until ctx ends.
func (c *Container) StartBackgroundServices(ctx context.Context) {
	go c.CleanupWorker.Start(ctx)
	go func() {
		ticker := time.NewTicker(c.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.expireAPITokens(ctx)
			}
		}
	}()
	logx.Info("  ✅ IAM cleanup workers started")
}
