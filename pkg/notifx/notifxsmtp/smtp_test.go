package notifxsmtp

import (
	"testing"

	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/wneessen/go-mail"
)

func TestBuildMessage(t *testing.T) {
	_, err := buildMessage(notifx.EmailMessage{
		From:     "noreply@example.com",
		To:       []string{"a@example.com"},
		Subject:  "Reset",
		TextBody: "text",
		HTMLBody: "<b>html</b>",
	})
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
}

func TestBuildMessage_InvalidSender(t *testing.T) {
	if _, err := buildMessage(notifx.EmailMessage{From: "not an address", To: []string{"a@example.com"}}); err == nil {
		t.Fatal("expected error for invalid sender")
	}
}

func TestTLSPolicy(t *testing.T) {
	if tlsPolicy("none") != mail.NoTLS || tlsPolicy("opportunistic") != mail.TLSOpportunistic || tlsPolicy("") != mail.TLSMandatory {
		t.Fatal("unexpected tls policy mapping")
	}
}
