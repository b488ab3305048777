package usersrv

import (
	"context"
	"math/rand"
	"net/mail"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/audit"
	"github.com/Abraxas-365/bastion/pkg/iam/role"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/ptrx"
	"github.com/google/uuid"
)

// MinPasswordLength is enforced on every password set through the service.
const MinPasswordLength = 8

// Mailer sends account mails. Failures are logged by the caller.
type Mailer interface {
	SendPasswordReset(ctx context.Context, u user.User, token string) error
}

// SessionTerminator removes every session of a user.
type SessionTerminator interface {
	DeleteAllForUser(ctx context.Context, username string) (int, error)
}

// Config tunes password reset behaviour.
type Config struct {
	ResetTokenTTL time.Duration
	ResetDelayMin time.Duration
	ResetDelayMax time.Duration
	DefaultLocale string
}

func (c Config) withDefaults() Config {
	if c.ResetTokenTTL == 0 {
		c.ResetTokenTTL = 24 * time.Hour
	}
	if c.ResetDelayMin == 0 && c.ResetDelayMax == 0 {
		c.ResetDelayMin, c.ResetDelayMax = 800*time.Millisecond, 3*time.Second
	}
	if c.ResetDelayMax < c.ResetDelayMin {
		c.ResetDelayMax = c.ResetDelayMin
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	return c
}

// CreateRequest is the input of Create. A nil Password creates the user
// with a random password and mails a reset link instead.
type CreateRequest struct {
	Email     string   `json:"email"`
	FirstName string   `json:"first_name"`
	LastName  string   `json:"last_name"`
	Phone     string   `json:"phone"`
	Mobile    string   `json:"mobile"`
	Locale    string   `json:"locale"`
	Password  *string  `json:"password,omitempty"`
	Roles     []string `json:"roles"`
	Enabled   *bool    `json:"enabled,omitempty"`
	Source    string   `json:"-"`
}

// UpdateRequest replaces the editable attributes of a user.
type UpdateRequest struct {
	Email         string   `json:"email"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	Phone         string   `json:"phone"`
	Mobile        string   `json:"mobile"`
	Locale        string   `json:"locale"`
	Roles         []string `json:"roles"`
	Enabled       bool     `json:"enabled"`
	LoginDisabled bool     `json:"login_disabled"`
}

// UserService manages users. users is expected to be the invalidating
// decorator so that every write reaches the admin guard and the session
// invalidation path.
type UserService struct {
	cfg      Config
	users    user.Repository
	roles    role.Repository
	hasher   user.PasswordHasher
	sessions SessionTerminator
	mailer   Mailer
	clock    kernel.Clock
	audit    audit.Service
	sleep    func(time.Duration)
}

func NewUserService(
	cfg Config,
	users user.Repository,
	roles role.Repository,
	hasher user.PasswordHasher,
	sessions SessionTerminator,
	mailer Mailer,
	clock kernel.Clock,
	auditSvc audit.Service,
) *UserService {
	if auditSvc == nil {
		auditSvc = audit.Nop{}
	}
	return &UserService{
		cfg:      cfg.withDefaults(),
		users:    users,
		roles:    roles,
		hasher:   hasher,
		sessions: sessions,
		mailer:   mailer,
		clock:    clock,
		audit:    auditSvc,
		sleep:    time.Sleep,
	}
}

// WithSleeper replaces the delay function used around reset requests.
func (s *UserService) WithSleeper(sleep func(time.Duration)) *UserService {
	s.sleep = sleep
	return s
}

func (s *UserService) GetAll(ctx context.Context, opts kernel.PaginationOptions) (kernel.Paginated[user.User], error) {
	return s.users.FindAll(ctx, opts)
}

func (s *UserService) Get(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *UserService) Create(ctx context.Context, req CreateRequest) (*user.User, error) {
	email, err := validEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, user.ErrUserAlreadyExists().WithDetail("email", email)
	} else if !errx.IsCode(err, user.CodeUserNotFound) {
		return nil, err
	}

	roles, err := s.resolveRoles(ctx, req.Roles, true)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	u := user.User{
		ID:        kernel.GenerateUserID(),
		Email:     email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Mobile:    req.Mobile,
		Locale:    req.Locale,
		Nonce:     user.NewNonce(),
		Source:    req.Source,
		Roles:     roles,
		Enabled:   ptrx.ValueOr(req.Enabled, true),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if u.Locale == "" {
		u.Locale = s.cfg.DefaultLocale
	}
	if u.Source == "" {
		u.Source = iam.SourceLocal
	}

	sendReset := false
	switch {
	case req.Password != nil:
		if err := s.setPassword(&u, *req.Password); err != nil {
			return nil, err
		}
	case u.IsLocal():
		if err := s.setPassword(&u, uuid.NewString()); err != nil {
			return nil, err
		}
		s.issueResetToken(&u, now)
		sendReset = true
	}

	if err := s.users.Save(ctx, u); err != nil {
		return nil, err
	}
	if sendReset {
		s.mailReset(ctx, u)
	}

	logx.WithFields(logx.Fields{"user_id": u.ID, "email": u.Email}).Info("user created")
	return &u, nil
}

func (s *UserService) Update(ctx context.Context, id kernel.UserID, req UpdateRequest) (*user.User, error) {
	current, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	email, err := validEmail(req.Email)
	if err != nil {
		return nil, err
	}
	roles, err := s.resolveRoles(ctx, req.Roles, false)
	if err != nil {
		return nil, err
	}

	next := current.Clone()
	next.Email = email
	next.FirstName = req.FirstName
	next.LastName = req.LastName
	next.Phone = req.Phone
	next.Mobile = req.Mobile
	next.Locale = req.Locale
	next.Roles = roles
	next.Enabled = req.Enabled
	next.LoginDisabled = req.LoginDisabled
	if !next.LoginDisabled {
		next.FailedLoginAttempts = 0
	}
	return s.save(ctx, next)
}

// Patch applies an admin patch. A "password" field is hashed and rotates
// the nonce.
func (s *UserService) Patch(ctx context.Context, id kernel.UserID, p user.Patch) (*user.User, error) {
	current, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := p.Apply(*current)
	if err != nil {
		return nil, err
	}
	if _, ok := p["email"]; ok {
		if next.Email, err = validEmail(next.Email); err != nil {
			return nil, err
		}
	}
	if _, ok := p["roles"]; ok {
		if next.Roles, err = s.resolveRoles(ctx, next.Roles, false); err != nil {
			return nil, err
		}
	}
	if pw, ok, err := p.Password(); err != nil {
		return nil, err
	} else if ok {
		if err := s.setPassword(&next, pw); err != nil {
			return nil, err
		}
		next.RotateNonce()
	}
	return s.save(ctx, next)
}

// UpdateSelf lets a user edit their own profile fields.
func (s *UserService) UpdateSelf(ctx context.Context, id kernel.UserID, p user.Patch) (*user.User, error) {
	current, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := p.ApplySelf(*current)
	if err != nil {
		return nil, err
	}
	return s.save(ctx, next)
}

func (s *UserService) Delete(ctx context.Context, id kernel.UserID) error {
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	logx.WithField("user_id", id).Info("user deleted")
	return nil
}

// ChangePassword verifies the old password of a local user, stores the
// new one and rotates the nonce.
func (s *UserService) ChangePassword(ctx context.Context, id kernel.UserID, oldPassword, newPassword string) error {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if !u.IsLocal() {
		return iam.ErrNotAllowed("password of a federated account cannot be changed")
	}
	if u.PasswordHash == nil || !s.hasher.Matches(oldPassword, *u.PasswordHash) {
		return user.ErrWrongPassword()
	}
	if err := s.setPassword(u, newPassword); err != nil {
		return err
	}
	u.RotateNonce()
	_, err = s.save(ctx, *u)
	return err
}

// TerminateSessions logs the user out everywhere.
func (s *UserService) TerminateSessions(ctx context.Context, id kernel.UserID) error {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return err
	}
	u.RotateNonce()
	if _, err := s.save(ctx, *u); err != nil {
		return err
	}
	n, err := s.sessions.DeleteAllForUser(ctx, u.Email)
	if err != nil {
		return iam.ErrTokenInvalidation(err)
	}
	s.audit.LogSessionsInvalidated(ctx, u.Email, "terminated", n)
	return nil
}

// RequestPasswordReset mails a reset link to local users. The call takes a
// random amount of time and succeeds whether or not the user exists.
func (s *UserService) RequestPasswordReset(ctx context.Context, email string) error {
	s.randomDelay()

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errx.IsCode(err, user.CodeUserNotFound) {
			logx.WithField("email", email).Debug("password reset for unknown user")
			return nil
		}
		return err
	}
	if !u.IsLocal() {
		logx.WithField("email", u.Email).Info("password reset requested for federated user")
		return nil
	}

	s.issueResetToken(u, s.clock.Now())
	if _, err := s.save(ctx, *u); err != nil {
		return err
	}
	s.mailReset(ctx, *u)
	s.audit.LogPasswordReset(ctx, u.Email, "requested")
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token. It also
// unlocks the account.
func (s *UserService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	u, err := s.users.FindByResetToken(ctx, token)
	if err != nil {
		if errx.IsCode(err, user.CodeUserNotFound) {
			s.randomDelay()
			return user.ErrInvalidResetToken()
		}
		return err
	}
	if u.ResetTokenIssuedAt == nil || s.clock.Now().After(u.ResetTokenIssuedAt.Add(s.cfg.ResetTokenTTL)) {
		return user.ErrInvalidResetToken()
	}
	if !u.IsLocal() {
		return iam.ErrNotAllowed("password of a federated account cannot be reset")
	}
	if err := s.setPassword(u, newPassword); err != nil {
		return err
	}
	u.ResetToken = nil
	u.ResetTokenIssuedAt = nil
	u.LoginDisabled = false
	u.FailedLoginAttempts = 0
	u.RotateNonce()
	if _, err := s.save(ctx, *u); err != nil {
		return err
	}
	s.audit.LogPasswordReset(ctx, u.Email, "confirmed")
	return nil
}

func (s *UserService) save(ctx context.Context, u user.User) (*user.User, error) {
	u.UpdatedAt = s.clock.Now()
	if err := s.users.Save(ctx, u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserService) setPassword(u *user.User, plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return user.ErrWeakPassword()
	}
	hash, err := s.hasher.Encode(plaintext)
	if err != nil {
		return errx.Wrap(err, "failed to hash password", errx.TypeInternal)
	}
	u.PasswordHash = ptrx.String(hash)
	return nil
}

func (s *UserService) issueResetToken(u *user.User, now time.Time) {
	u.ResetToken = ptrx.String(uuid.NewString())
	u.ResetTokenIssuedAt = ptrx.Time(now)
}

func (s *UserService) mailReset(ctx context.Context, u user.User) {
	if s.mailer == nil || u.ResetToken == nil {
		return
	}
	if err := s.mailer.SendPasswordReset(ctx, u, *u.ResetToken); err != nil {
		logx.WithError(err).WithField("email", u.Email).Warn("failed to send password reset mail")
	}
}

// resolveRoles rejects unknown role names. With withDefault an empty list
// becomes the default role.
func (s *UserService) resolveRoles(ctx context.Context, names []string, withDefault bool) ([]string, error) {
	out := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, err := s.roles.FindByName(ctx, n); err != nil {
			if errx.IsCode(err, role.CodeRoleNotFound) {
				return nil, iam.ErrIllegalArgument("unknown role " + n)
			}
			return nil, err
		}
		out = append(out, n)
	}
	if len(out) == 0 && withDefault {
		def, err := s.roles.FindDefault(ctx)
		if err != nil {
			return nil, err
		}
		if def != nil {
			out = append(out, def.Name)
		}
	}
	return out, nil
}

func (s *UserService) randomDelay() {
	lo, hi := s.cfg.ResetDelayMin, s.cfg.ResetDelayMax
	d := lo
	if hi > lo {
		d += time.Duration(rand.Int63n(int64(hi - lo)))
	}
	s.sleep(d)
}

func validEmail(raw string) (string, error) {
	email := user.NormalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", user.ErrInvalidEmail().WithDetail("email", raw)
	}
	return email, nil
}
