package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWT.AccessTTL != 15*time.Minute || cfg.Auth.JWT.Issuer != "bastion" {
		t.Fatalf("unexpected jwt defaults %+v", cfg.Auth.JWT)
	}
	if cfg.Roles.DefaultRole != "USER" || cfg.Mail.Delivery != "inline" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Roles, cfg.Mail)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "5m")
	t.Setenv("ADMIN_RIGHTS", "USER_READ, ROLE_UPDATE,")
	t.Setenv("PASSWORD_MAX_FAILED_ATTEMPTS", "3")
	t.Setenv("OAUTH_PROVIDERS", "acme")
	t.Setenv("OAUTH_ACME_CLIENT_ID", "cid")
	t.Setenv("OAUTH_ACME_ROLE_MAPPING", "admins:ADMIN,staff:USER,broken")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Auth.JWT.AccessTTL != 5*time.Minute {
		t.Fatalf("access ttl = %s", cfg.Auth.JWT.AccessTTL)
	}
	if got := cfg.Auth.Admin.Rights; len(got) != 2 || got[1] != "ROLE_UPDATE" {
		t.Fatalf("admin rights = %v", got)
	}
	if cfg.Auth.Password.MaxFailedAttempts != 3 {
		t.Fatalf("max failed attempts = %d", cfg.Auth.Password.MaxFailedAttempts)
	}
	if len(cfg.OAuth.Providers) != 1 {
		t.Fatalf("providers = %+v", cfg.OAuth.Providers)
	}
	p := cfg.OAuth.Providers[0]
	if p.ClientID != "cid" || len(p.RoleMapping) != 2 || p.RoleMapping["admins"] != "ADMIN" {
		t.Fatalf("provider = %+v", p)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_ACCESS_TTL", "48h")
	t.Setenv("JWT_REFRESH_TTL", "1h")
	if _, err := Load(); err == nil {
		t.Fatal("expected access ttl > refresh ttl to fail")
	}
}

func TestValidateMailDelivery(t *testing.T) {
	t.Setenv("MAIL_DELIVERY", "carrier-pigeon")
	if _, err := Load(); err == nil {
		t.Fatal("expected unknown delivery to fail")
	}
}

func TestNotifxFrom(t *testing.T) {
	n := NotifxConfig{FromAddress: "noreply@example.com", FromName: "Acme"}
	if n.From() != "Acme <noreply@example.com>" {
		t.Fatalf("From = %q", n.From())
	}
}
