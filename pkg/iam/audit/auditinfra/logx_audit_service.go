package auditinfra

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/asyncx"
	"github.com/Abraxas-365/bastion/pkg/eventx"
	"github.com/Abraxas-365/bastion/pkg/logx"
	"github.com/Abraxas-365/bastion/pkg/metricx"
)

// LogxAuditService implements audit.Service with structured logx logging.
// Every entry is also forwarded to the event publisher and counted.
type LogxAuditService struct {
	publisher eventx.Publisher
	metrics   *metricx.Metrics
}

func NewLogxAuditService(publisher eventx.Publisher, metrics *metricx.Metrics) *LogxAuditService {
	if publisher == nil {
		publisher = eventx.NewLogPublisher()
	}
	if metrics == nil {
		metrics = metricx.Nop()
	}
	return &LogxAuditService{publisher: publisher, metrics: metrics}
}

func (s *LogxAuditService) LogLoginAttempt(ctx context.Context, username, method string, success bool, ip, userAgent string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "login_attempt",
		"username":    username,
		"method":      method,
		"success":     success,
		"ip":          ip,
		"user_agent":  userAgent,
	}).Info("Audit: login attempt")

	outcome, name := "success", eventx.UserLogin
	if !success {
		outcome, name = "failure", eventx.UserLoginFailed
	}
	s.metrics.LoginAttempts.WithLabelValues(method, outcome).Inc()
	s.publish(ctx, eventx.Event{
		Name:     name,
		Username: username,
		Data:     map[string]interface{}{"method": method, "ip": ip, "user_agent": userAgent},
	})
}

func (s *LogxAuditService) LogTokenIssued(ctx context.Context, username, tokenID, tokenType string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "token_issued",
		"username":    username,
		"token_id":    tokenID,
		"token_type":  tokenType,
	}).Info("Audit: token issued")

	s.metrics.TokensMinted.WithLabelValues(tokenType).Inc()
	s.publish(ctx, eventx.Event{Name: eventx.SessionIssued, Username: username, TokenID: tokenID, TokenType: tokenType})
}

func (s *LogxAuditService) LogLogout(ctx context.Context, username, tokenID string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "logout",
		"username":    username,
		"token_id":    tokenID,
	}).Info("Audit: logout")

	s.publish(ctx, eventx.Event{Name: eventx.SessionLogout, Username: username, TokenID: tokenID})
}

func (s *LogxAuditService) LogSessionsInvalidated(ctx context.Context, username, reason string, count int) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "sessions_invalidated",
		"username":    username,
		"reason":      reason,
		"count":       count,
	}).Info("Audit: sessions invalidated")

	s.metrics.SessionsInvalidated.WithLabelValues(reason).Add(float64(count))
	s.publish(ctx, eventx.Event{
		Name:     eventx.SessionInvalidated,
		Username: username,
		Reason:   reason,
		Data:     map[string]interface{}{"count": count},
	})
}

func (s *LogxAuditService) LogPasswordReset(ctx context.Context, username, stage string) {
	logx.WithContext(ctx).WithFields(logx.Fields{
		"audit_event": "password_reset",
		"username":    username,
		"stage":       stage,
	}).Info("Audit: password reset")

	s.publish(ctx, eventx.Event{Name: eventx.PasswordReset, Username: username, Reason: stage})
}

// publish never blocks the caller on a slow broker and never fails it.
func (s *LogxAuditService) publish(ctx context.Context, e eventx.Event) {
	e.OccurredAt = time.Now().UTC()
	asyncx.Detached(ctx, 5*time.Second, func(ctx context.Context) {
		if err := s.publisher.Publish(ctx, e); err != nil {
			logx.WithError(err).Warnf("failed to publish %s event", e.Name)
		}
	})
}
