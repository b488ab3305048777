package usermail

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/user"
	"github.com/Abraxas-365/bastion/pkg/jobx"
	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outbox struct {
	mu    sync.Mutex
	fail  int
	sent  []notifx.EmailMessage
	tries int
}

func (o *outbox) SendEmail(_ context.Context, msg notifx.EmailMessage, _ ...notifx.Option) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tries++
	if o.fail > 0 {
		o.fail--
		return errors.New("smtp: 421 try again")
	}
	o.sent = append(o.sent, msg)
	return nil
}

type enqueuer struct {
	jobs []jobx.Job
}

func (e *enqueuer) Enqueue(_ context.Context, job jobx.Job) (string, error) {
	e.jobs = append(e.jobs, job)
	return "job-1", nil
}

func newMailer(t *testing.T, cfg Config, box *outbox, jobs jobx.Enqueuer) *Mailer {
	t.Helper()
	m, err := New(cfg, notifx.NewClient(box, "noreply@example.com"), jobs)
	require.NoError(t, err)
	m.retry = time.Millisecond
	return m
}

func TestNotifyNewLogin_Inline(t *testing.T) {
	box := &outbox{}
	m := newMailer(t, Config{AppName: "Acme"}, box, nil)

	at := time.Date(2026, 4, 1, 10, 30, 0, 0, time.UTC)
	err := m.NotifyNewLogin(context.Background(), session.Principal{Username: "ann@example.com", FirstName: "Ann"}, "Firefox", at)
	require.NoError(t, err)

	require.Len(t, box.sent, 1)
	msg := box.sent[0]
	assert.Equal(t, []string{"ann@example.com"}, msg.To)
	assert.Equal(t, "noreply@example.com", msg.From)
	assert.Equal(t, "Acme: new login to your account", msg.Subject)
	assert.Contains(t, msg.TextBody, "Firefox")
	assert.Contains(t, msg.TextBody, "2026-04-01 10:30 UTC")
}

func TestSendPasswordReset_LocalizedWithLink(t *testing.T) {
	box := &outbox{}
	m := newMailer(t, Config{ResetURL: "https://app.example.com/set-password?src=mail"}, box, nil)

	err := m.SendPasswordReset(context.Background(), user.User{Email: "max@example.com", FirstName: "Max", Locale: "de-DE"}, "tok-123")
	require.NoError(t, err)

	require.Len(t, box.sent, 1)
	msg := box.sent[0]
	assert.True(t, strings.HasSuffix(msg.Subject, "Passwort zurücksetzen"))
	assert.Contains(t, msg.TextBody, "https://app.example.com/set-password?src=mail&token=tok-123")
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	box := &outbox{fail: 2}
	m := newMailer(t, Config{Attempts: 3}, box, nil)

	err := m.SendPasswordReset(context.Background(), user.User{Email: "a@example.com"}, "t")
	require.NoError(t, err)
	assert.Equal(t, 3, box.tries)
	assert.Len(t, box.sent, 1)
}

func TestQueuedDelivery(t *testing.T) {
	box := &outbox{}
	jobs := &enqueuer{}
	m := newMailer(t, Config{Queue: true}, box, jobs)

	err := m.SendPasswordReset(context.Background(), user.User{Email: "q@example.com", Locale: "fr"}, "tok")
	require.NoError(t, err)
	assert.Empty(t, box.sent)
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, JobType, jobs.jobs[0].Type)

	info := &jobx.JobInfo{ID: "job-1", Payload: jobs.jobs[0].Payload}
	var p Payload
	require.NoError(t, info.Decode(&p))
	require.NoError(t, m.Send(context.Background(), p))

	require.Len(t, box.sent, 1)
	assert.Equal(t, "Bastion: reset your password", box.sent[0].Subject)
}
