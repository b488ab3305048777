package auth

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessionsrv"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/iam/user/usersrv"
	"github.com/Abraxas-365/bastion/pkg/logx"
)

// LoginService performs password logins with brute force protection.
type LoginService struct {
	users       user.Repository
	hasher      user.PasswordHasher
	principals  *usersrv.Principals
	factory     *sessionsrv.Factory
	audit       audit.Service
	maxAttempts int
}

func NewLoginService(
	users user.Repository,
	hasher user.PasswordHasher,
	principals *usersrv.Principals,
	factory *sessionsrv.Factory,
	auditSvc audit.Service,
	maxAttempts int,
) *LoginService {
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &LoginService{
		users:       users,
		hasher:      hasher,
		principals:  principals,
		factory:     factory,
		audit:       auditSvc,
		maxAttempts: maxAttempts,
	}
}

// Credentials is the body of a password login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login checks the password and mints a REFRESH token. Every failed
// attempt counts towards locking the account.
func (s *LoginService) Login(ctx context.Context, creds Credentials, userAgent, ip string) (*sessionsrv.Minted, error) {
	username := user.NormalizeEmail(creds.Username)

	u, err := s.users.FindByEmail(ctx, username)
	if err != nil {
		if errx.IsCode(err, user.CodeUserNotFound) {
			s.audit.LogLoginAttempt(ctx, username, "password", false, ip, userAgent)
			return nil, iam.ErrBadCredentials("invalid username or password")
		}
		return nil, err
	}
	if !u.CanLogin() {
		s.audit.LogLoginAttempt(ctx, username, "password", false, ip, userAgent)
		return nil, iam.ErrAccountDisabled()
	}

	if u.PasswordHash == nil || !s.hasher.Matches(creds.Password, *u.PasswordHash) {
		s.recordFailure(ctx, *u)
		s.audit.LogLoginAttempt(ctx, username, "password", false, ip, userAgent)
		return nil, iam.ErrBadCredentials("invalid username or password")
	}

	if u.FailedLoginAttempts > 0 {
		u.FailedLoginAttempts = 0
		if err := s.users.Save(ctx, *u); err != nil {
			return nil, err
		}
	}

	p, err := s.principals.For(ctx, *u)
	if err != nil {
		return nil, err
	}
	minted, err := s.factory.Mint(ctx, sessionsrv.MintRequest{Principal: *p, Type: session.TypeRefresh, UserAgent: userAgent})
	if err != nil {
		return nil, err
	}
	s.audit.LogLoginAttempt(ctx, username, "password", true, ip, userAgent)
	return minted, nil
}

func (s *LoginService) recordFailure(ctx context.Context, u user.User) {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= s.maxAttempts {
		u.LoginDisabled = true
		logx.WithFields(logx.Fields{"username": u.Email, "attempts": u.FailedLoginAttempts}).Warn("account locked after repeated failed logins")
	}
	if err := s.users.Save(ctx, u); err != nil {
		logx.WithError(err).WithField("username", u.Email).Error("failed to record failed login")
	}
}
