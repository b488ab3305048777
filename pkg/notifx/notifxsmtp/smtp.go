package notifxsmtp

import (
	"context"

	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/wneessen/go-mail"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of "mandatory", "opportunistic" or "none".
	TLS string
}

// SMTPProvider delivers mail over SMTP.
type SMTPProvider struct {
	client *mail.Client
}

func NewSMTPProvider(cfg Config) (*SMTPProvider, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPProvider{client: client}, nil
}

func (p *SMTPProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, _ ...notifx.Option) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}
	if err := p.client.DialAndSendWithContext(ctx, m); err != nil {
		return notifx.SendFailed(err, msg.To)
	}
	return nil
}

func buildMessage(msg notifx.EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(msg.From); err != nil {
		return nil, notifx.SendFailed(err, msg.To)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, notifx.SendFailed(err, msg.To)
	}
	if len(msg.CC) > 0 {
		if err := m.Cc(msg.CC...); err != nil {
			return nil, notifx.SendFailed(err, msg.To)
		}
	}
	if len(msg.BCC) > 0 {
		if err := m.Bcc(msg.BCC...); err != nil {
			return nil, notifx.SendFailed(err, msg.To)
		}
	}
	if msg.ReplyTo != "" {
		if err := m.ReplyTo(msg.ReplyTo); err != nil {
			return nil, notifx.SendFailed(err, msg.To)
		}
	}
	m.Subject(msg.Subject)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	}
	return m, nil
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}
