package notifx

import (
	"context"
)

// EmailSender is implemented by every mail provider.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error
}

// Client validates messages, fills in the sender and renders templates
// before handing mail to the configured provider.
type Client struct {
	provider  EmailSender
	from      string
	templates *TemplateRegistry
}

// NewClient creates a client that sends from the given address unless a
// message names its own sender.
func NewClient(provider EmailSender, from string) *Client {
	return &Client{
		provider:  provider,
		from:      from,
		templates: NewTemplateRegistry(),
	}
}

// SendEmail sends an email through the configured provider.
func (c *Client) SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error {
	if len(msg.To) == 0 {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "no recipients")
	}
	if msg.Subject == "" {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "empty subject")
	}
	if msg.From == "" {
		msg.From = c.from
	}
	return c.provider.SendEmail(ctx, msg, opts...)
}

func (c *Client) RegisterTemplate(name string, t Template) error {
	return c.templates.Register(name, t)
}

// SendTemplatedEmail renders the named template into a message to the
// given recipients and sends it.
func (c *Client) SendTemplatedEmail(ctx context.Context, name string, data interface{}, to []string, opts ...Option) error {
	msg := EmailMessage{To: to}
	if err := c.templates.Render(name, data, &msg); err != nil {
		return err
	}
	return c.SendEmail(ctx, msg, opts...)
}
