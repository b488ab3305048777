// Package eventx publishes security events (logins, session invalidation)
// to interested consumers.
package eventx

import (
	"context"
	"time"

	"github.com/Abraxas-365/bastion/pkg/logx"
)

// Event names.
const (
	UserLogin          = "user.login"
	UserLoginFailed    = "user.login_failed"
	SessionIssued      = "session.issued"
	SessionLogout      = "session.logout"
	SessionInvalidated = "session.invalidated"
	PasswordReset      = "user.password_reset"
)

// Event is a single security-relevant occurrence.
type Event struct {
	Name       string                 `json:"name"`
	Username   string                 `json:"username,omitempty"`
	TokenID    string                 `json:"token_id,omitempty"`
	TokenType  string                 `json:"token_type,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// LogPublisher writes events to the structured log only.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(_ context.Context, e Event) error {
	logx.WithFields(logx.Fields{
		"event":      e.Name,
		"username":   e.Username,
		"token_id":   e.TokenID,
		"token_type": e.TokenType,
		"reason":     e.Reason,
	}).Debug("event published")
	return nil
}

func (LogPublisher) Close() error { return nil }

// Recorder keeps published events in memory. Used by tests.
type Recorder struct {
	events chan Event
}

func NewRecorder(size int) *Recorder {
	return &Recorder{events: make(chan Event, size)}
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	select {
	case r.events <- e:
	default:
	}
	return nil
}

func (r *Recorder) Close() error { return nil }

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
