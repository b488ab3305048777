// Package notifxconsole is the development mail provider. Nothing leaves
// the process: messages are logged and kept in a bounded outbox so local
// setups and tests can pick up reset links.
package notifxconsole

import (
	"context"
	"strings"
	"sync"

	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/notifx"
)

const defaultOutboxSize = 50

type ConsoleProvider struct {
	mu     sync.Mutex
	outbox []notifx.EmailMessage
	size   int
}

func NewConsoleProvider() *ConsoleProvider {
	return &ConsoleProvider{size: defaultOutboxSize}
}

// WithOutboxSize keeps the last n messages. n <= 0 disables the outbox.
func (p *ConsoleProvider) WithOutboxSize(n int) *ConsoleProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.size = n
	p.trim()
	return p
}

func (p *ConsoleProvider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	so := notifx.ApplySendOptions(opts)
	logx.WithContext(ctx).WithFields(logx.Fields{
		"from":     msg.From,
		"to":       strings.Join(msg.To, ", "),
		"subject":  msg.Subject,
		"template": so.Tags["template"],
	}).Info("notifx/console: email not sent (console provider)")

	if msg.TextBody != "" {
		logx.Debugf("notifx/console: text body:\n%s", msg.TextBody)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.size > 0 {
		p.outbox = append(p.outbox, msg)
		p.trim()
	}
	return nil
}

// Sent returns the retained messages, oldest first.
func (p *ConsoleProvider) Sent() []notifx.EmailMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notifx.EmailMessage(nil), p.outbox...)
}

// Last returns the newest message sent to addr.
func (p *ConsoleProvider) Last(addr string) (notifx.EmailMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.outbox) - 1; i >= 0; i-- {
		for _, to := range p.outbox[i].To {
			if strings.EqualFold(to, addr) {
				return p.outbox[i], true
			}
		}
	}
	return notifx.EmailMessage{}, false
}

func (p *ConsoleProvider) trim() {
	if p.size <= 0 {
		p.outbox = nil
		return
	}
	if over := len(p.outbox) - p.size; over > 0 {
		p.outbox = append(p.outbox[:0:0], p.outbox[over:]...)
	}
}
