// Package audit records security-relevant authentication events.
package audit

import "context"

// Service defines the contract for authentication audit logging.
type Service interface {
	LogLoginAttempt(ctx context.Context, username, method string, success bool, ip, userAgent string)
	LogTokenIssued(ctx context.Context, username, tokenID, tokenType string)
	LogLogout(ctx context.Context, username, tokenID string)
	LogSessionsInvalidated(ctx context.Context, username, reason string, count int)
	LogPasswordReset(ctx context.Context, username, stage string)
}

// Nop discards every event.
type Nop struct{}

func (Nop) LogLoginAttempt(context.Context, string, string, bool, string, string) {}
func (Nop) LogTokenIssued(context.Context, string, string, string)                {}
func (Nop) LogLogout(context.Context, string, string)                             {}
func (Nop) LogSessionsInvalidated(context.Context, string, string, int)           {}
func (Nop) LogPasswordReset(context.Context, string, string)                      {}
