// Package usermail sends the account mails: new login notifications and
// password reset links.
package usermail

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/jobx"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/notifx"
)

// JobType is the jobx type carrying queued account mails.
const JobType = "usermail.send"

type Config struct {
	AppName string
	// ResetURL is the page that accepts the reset token as "token" query
	// parameter.
	ResetURL      string
	ResetTokenTTL time.Duration
	// Queue delivers mails through jobx instead of sending them inline.
	Queue    bool
	Attempts int
}

func (c Config) withDefaults() Config {
	if c.AppName == "" {
		c.AppName = "Bastion"
	}
	if c.ResetTokenTTL == 0 {
		c.ResetTokenTTL = 24 * time.Hour
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	return c
}

// Payload is the jobx payload of a queued mail.
type Payload struct {
	Template string            `json:"template"`
	Locale   string            `json:"locale"`
	To       string            `json:"to"`
	Data     map[string]string `json:"data"`
}

// Mailer implements sessionsrv.LoginNotifier and usersrv.Mailer.
type Mailer struct {
	cfg    Config
	client *notifx.Client
	jobs   jobx.Enqueuer
	retry  time.Duration
}

// New registers the account templates on client. jobs may be nil when
// Config.Queue is off.
func New(cfg Config, client *notifx.Client, jobs jobx.Enqueuer) (*Mailer, error) {
	for name, byLocale := range templates {
		for locale, t := range byLocale {
			if err := client.RegisterTemplate(templateName(name, locale), t); err != nil {
				return nil, err
			}
		}
	}
	return &Mailer{cfg: cfg.withDefaults(), client: client, jobs: jobs, retry: time.Second}, nil
}

func (m *Mailer) NotifyNewLogin(ctx context.Context, p session.Principal, userAgent string, at time.Time) error {
	if userAgent == "" {
		userAgent = "unknown"
	}
	return m.dispatch(ctx, Payload{
		Template: TemplateLoginNotification,
		Locale:   p.Locale,
		To:       p.Username,
		Data: map[string]string{
			"Name":      displayName(p.FirstName, p.LastName, p.Username),
			"UserAgent": userAgent,
			"Time":      at.UTC().Format("2006-01-02 15:04 MST"),
		},
	})
}

func (m *Mailer) SendPasswordReset(ctx context.Context, u user.User, token string) error {
	return m.dispatch(ctx, Payload{
		Template: TemplatePasswordReset,
		Locale:   u.Locale,
		To:       u.Email,
		Data: map[string]string{
			"Name":     displayName(u.FirstName, u.LastName, u.Email),
			"Link":     m.resetLink(token),
			"ValidFor": m.cfg.ResetTokenTTL.String(),
		},
	})
}

// Register installs the queue handler on a jobx client.
func (m *Mailer) Register(c *jobx.Client) {
	c.Register(JobType, func(ctx context.Context, job *jobx.JobInfo) error {
		var p Payload
		if err := job.Decode(&p); err != nil {
			return err
		}
		return m.Send(ctx, p)
	})
}

// Send renders and delivers p now, retrying transient failures.
func (m *Mailer) Send(ctx context.Context, p Payload) error {
	data := make(map[string]string, len(p.Data)+1)
	for k, v := range p.Data {
		data[k] = v
	}
	data["AppName"] = m.cfg.AppName

	name := templateName(p.Template, localeOf(p.Template, p.Locale))
	_, err := asyncx.RetryWithBackoff(ctx, m.cfg.Attempts, m.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.client.SendTemplatedEmail(ctx, name, data, []string{p.To}, notifx.WithTags(map[string]string{"template": p.Template}))
	})
	return err
}

func (m *Mailer) dispatch(ctx context.Context, p Payload) error {
	if m.cfg.Queue && m.jobs != nil {
		job, err := jobx.NewJob(JobType, p)
		if err != nil {
			return err
		}
		id, err := m.jobs.Enqueue(ctx, job)
		if err != nil {
			return err
		}
		logx.WithFields(logx.Fields{"job_id": id, "template": p.Template}).Debug("account mail queued")
		return nil
	}
	return m.Send(ctx, p)
}

func (m *Mailer) resetLink(token string) string {
	u, err := url.Parse(m.cfg.ResetURL)
	if err != nil || m.cfg.ResetURL == "" {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func localeOf(name, locale string) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if _, ok := templates[name][locale]; ok {
		return locale
	}
	return "en"
}

func displayName(first, last, fallback string) string {
	name := strings.TrimSpace(first + " " + last)
	if name == "" {
		return fallback
	}
	return name
}
