package notifxconsole

import (
	"context"
	"testing"

	"github.com/Abraxas-365/bastion/pkg/notifx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxKeepsNewest(t *testing.T) {
	p := NewConsoleProvider().WithOutboxSize(2)
	ctx := context.Background()
	for _, subject := range []string{"one", "two", "three"} {
		require.NoError(t, p.SendEmail(ctx, notifx.EmailMessage{To: []string{"a@example.com"}, Subject: subject}))
	}

	sent := p.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "two", sent[0].Subject)

	last, ok := p.Last("A@example.com")
	require.True(t, ok)
	assert.Equal(t, "three", last.Subject)

	_, ok = p.Last("b@example.com")
	assert.False(t, ok)
}

func TestOutboxDisabled(t *testing.T) {
	p := NewConsoleProvider().WithOutboxSize(0)
	require.NoError(t, p.SendEmail(context.Background(), notifx.EmailMessage{To: []string{"a@example.com"}, Subject: "x"}))
	assert.Empty(t, p.Sent())
}
