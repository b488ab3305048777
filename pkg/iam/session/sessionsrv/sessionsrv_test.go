package sessionsrv

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/bastion/pkg/errx"
	"github.com/Abraxas-365/bastion/pkg/iam"
	"github.com/Abraxas-365/bastion/pkg/iam/session"
	"github.com/Abraxas-365/bastion/pkg/iam/session/sessioninfra"
	"github.com/Abraxas-365/bastion/pkg/kernel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPrincipals struct {
	mu    sync.Mutex
	users map[string]session.Principal
}

func (s *stubPrincipals) LoadPrincipal(_ context.Context, username string) (*session.Principal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.users[username]
	if !ok {
		return nil, iam.ErrUnauthorized()
	}
	return &p, nil
}

func (s *stubPrincipals) setNonce(username, nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.users[username]
	p.Nonce = nonce
	s.users[username] = p
}

type recordingNotifier struct {
	calls chan string
}

func (n *recordingNotifier) NotifyNewLogin(_ context.Context, p session.Principal, _ string, _ time.Time) error {
	n.calls <- p.Username
	return nil
}

type fixture struct {
	repo       *sessioninfra.MemorySessionRepository
	clock      *kernel.FixedClock
	verifier   *Verifier
	factory    *Factory
	registry   *Registry
	principals *stubPrincipals
	notifier   *recordingNotifier
}

const testUser = "u@example.com"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := sessioninfra.NewMemorySessionRepository()
	clock := kernel.NewFixedClock(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC))
	cfg := Config{Issuer: "bastion-test", AccessTTL: 10 * time.Minute, RefreshTTL: 24 * time.Hour, APIDefaultTTL: 48 * time.Hour}

	verifier := NewVerifier(NewKeyStore(repo), cfg.Issuer, clock, nil)
	notifier := &recordingNotifier{calls: make(chan string, 8)}
	factory := NewFactory(cfg, repo, verifier, clock, notifier, nil)
	principals := &stubPrincipals{users: map[string]session.Principal{
		testUser: {
			UserID:    "11111111-1111-1111-1111-111111111111",
			Username:  testUser,
			FirstName: "U",
			LastName:  "Ser",
			Locale:    "en",
			Nonce:     "abcd1234",
			Roles:     []string{"USER"},
			Rights:    []string{"USER_READ"},
			Extra:     map[string]interface{}{"tenant": "acme"},
		},
		"other@example.com": {Username: "other@example.com", Nonce: "zzzz0000"},
	}}
	registry := NewRegistry(repo, factory, verifier, principals, clock, nil)

	return &fixture{repo, clock, verifier, factory, registry, principals, notifier}
}

func (f *fixture) login(t *testing.T, username string) *Minted {
	t.Helper()
	p, err := f.principals.LoadPrincipal(context.Background(), username)
	require.NoError(t, err)
	m, err := f.factory.Mint(context.Background(), MintRequest{Principal: *p, Type: session.TypeRefresh, UserAgent: "test-agent"})
	require.NoError(t, err)
	return m
}

func TestMint_EveryTokenGetsItsOwnKey(t *testing.T) {
	f := newFixture(t)
	a := f.login(t, testUser)
	b := f.login(t, testUser)

	assert.Len(t, a.Session.Key, KeySize)
	assert.NotEqual(t, a.Session.ID, b.Session.ID)
	assert.False(t, bytes.Equal(a.Session.Key, b.Session.Key))
}

func TestMint_RefreshCarriesClaimsAndHeaders(t *testing.T) {
	f := newFixture(t)
	m := f.login(t, testUser)

	claims, err := f.verifier.Verify(context.Background(), m.Token)
	require.NoError(t, err)
	assert.Equal(t, testUser, claims.Subject)
	assert.Equal(t, "bastion-test", claims.Issuer)
	assert.Equal(t, "abcd1234", claims.Nonce)
	assert.Equal(t, []string{"USER"}, claims.Roles)
	assert.Equal(t, []string{"USER_READ"}, claims.Rights)
	assert.Equal(t, "REFRESH", claims.Type)
	assert.Equal(t, m.Session.ID, claims.TokenID)
	assert.Equal(t, "acme", claims.Extra["tenant"])
	assert.Empty(t, claims.ParentTokenID)
}

func TestMint_RefreshNotifiesLogin(t *testing.T) {
	f := newFixture(t)
	f.login(t, testUser)

	select {
	case got := <-f.notifier.calls:
		assert.Equal(t, testUser, got)
	case <-time.After(2 * time.Second):
		t.Fatal("login notification was not sent")
	}
}

func TestRenew_RotatesAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)

	a1, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	a2, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, a1.Token)
	assert.True(t, errx.IsCode(err, iam.CodeSessionExpired), "a1: %v", err)

	claims, err := f.verifier.Verify(ctx, a2.Token)
	require.NoError(t, err)
	assert.Equal(t, r1.Session.ID, claims.ParentTokenID)

	assert.True(t, f.verifier.IsAccessTokenValid(ctx, r1.Token, a2.Token))
	assert.False(t, f.verifier.IsAccessTokenValid(ctx, r1.Token, a1.Token))
	assert.False(t, f.verifier.IsAccessTokenValid(ctx, a2.Token, r1.Token))
}

func TestMint_AccessRequiresRefreshOfSameUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.login(t, "other@example.com")
	p, _ := f.principals.LoadPrincipal(ctx, testUser)

	_, err := f.factory.Mint(ctx, MintRequest{Principal: *p, Type: session.TypeAccess, Bearer: other.Token})
	assert.True(t, errx.IsCode(err, iam.CodeIllegalArgument), "err: %v", err)

	_, err = f.factory.Mint(ctx, MintRequest{Principal: *p, Type: session.TypeAccess})
	assert.True(t, errx.IsCode(err, iam.CodeIllegalArgument), "err: %v", err)
}

func TestRenew_RejectsAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	a1, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	_, err = f.registry.Renew(ctx, a1.Token, "ua")
	assert.True(t, errx.IsCode(err, iam.CodeIllegalArgument), "err: %v", err)
}

func TestRenew_FailsAfterNonceRotation(t *testing.T) {
	f := newFixture(t)
	r1 := f.login(t, testUser)
	f.principals.setNonce(testUser, "newnonce")

	_, err := f.registry.Renew(context.Background(), r1.Token, "ua")
	assert.True(t, errx.IsCode(err, iam.CodeNonceExpired), "err: %v", err)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	r1 := f.login(t, testUser)
	f.clock.Advance(25 * time.Hour)

	_, err := f.verifier.Verify(context.Background(), r1.Token)
	assert.True(t, errx.IsCode(err, iam.CodeSessionExpired), "err: %v", err)
}

func TestVerify_ForeignSignature(t *testing.T) {
	f := newFixture(t)
	r1 := f.login(t, testUser)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": testUser,
		"iss": "bastion-test",
		"exp": jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
	})
	forged.Header[HeaderKeyID] = r1.Session.ID
	forged.Header[HeaderType] = "REFRESH"
	raw, err := forged.SignedString(bytes.Repeat([]byte("k"), KeySize))
	require.NoError(t, err)

	_, err = f.verifier.Verify(context.Background(), raw)
	assert.True(t, errx.IsCode(err, iam.CodeBadCredentials), "err: %v", err)
}

func TestVerify_ForgedTokenForExpiredSessionIsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	a1, err := f.registry.Renew(ctx, r1.Token, "test-agent")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	_, err = f.registry.Renew(ctx, r1.Token, "test-agent")
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, a1.Token)
	require.True(t, errx.IsCode(err, iam.CodeSessionExpired), "genuine: %v", err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{
		"sub": testUser,
		"iss": "bastion-test",
		"exp": jwt.NewNumericDate(f.clock.Now().Add(time.Hour)),
	})
	forged.Header[HeaderKeyID] = a1.Session.ID
	forged.Header[HeaderType] = "ACCESS"
	raw, err := forged.SignedString(bytes.Repeat([]byte("k"), KeySize))
	require.NoError(t, err)

	_, err = f.verifier.Verify(ctx, raw)
	assert.True(t, errx.IsCode(err, iam.CodeBadCredentials), "forged: %v", err)
}

func TestVerify_WrongIssuer(t *testing.T) {
	f := newFixture(t)
	r1 := f.login(t, testUser)
	other := NewVerifier(NewKeyStore(f.repo), "someone-else", f.clock, nil)

	_, err := other.Verify(context.Background(), r1.Token)
	assert.True(t, errx.IsCode(err, iam.CodeBadCredentials), "err: %v", err)
}

func TestVerify_KeyIDProblems(t *testing.T) {
	f := newFixture(t)
	sign := func(kid interface{}) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"iss": "bastion-test"})
		if kid != nil {
			tok.Header[HeaderKeyID] = kid
		}
		raw, err := tok.SignedString([]byte("x"))
		require.NoError(t, err)
		return raw
	}

	_, err := f.verifier.Verify(context.Background(), sign(nil))
	assert.True(t, errx.IsCode(err, iam.CodeUnauthorized), "missing kid: %v", err)

	_, err = f.verifier.Verify(context.Background(), sign("not-a-uuid"))
	assert.True(t, errx.IsCode(err, iam.CodeBadCredentials), "malformed kid: %v", err)

	_, err = f.verifier.Verify(context.Background(), sign("6f1c1d1e-8d4f-4c7e-9a55-0a3c2a6a1b11"))
	assert.True(t, errx.IsCode(err, iam.CodeUnauthorized), "unknown kid: %v", err)

	_, err = f.verifier.Verify(context.Background(), "garbage")
	assert.True(t, errx.IsCode(err, iam.CodeBadCredentials), "garbage: %v", err)
}

func TestDeleteToken_CascadesToAccessTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	a1, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	require.NoError(t, f.registry.DeleteToken(ctx, testUser, r1.Session.ID))

	tokens, err := f.registry.GetTokens(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	_, err = f.verifier.Verify(ctx, a1.Token)
	assert.True(t, errx.IsCode(err, iam.CodeUnauthorized), "err: %v", err)
}

func TestDeleteToken_OtherUsersTokenIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)

	err := f.registry.DeleteToken(ctx, "other@example.com", r1.Session.ID)
	assert.True(t, errx.IsCode(err, iam.CodeIllegalArgument), "err: %v", err)

	tokens, err := f.registry.GetTokens(ctx, testUser)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}

func TestGetTokens_OnlyRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	_, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	tokens, err := f.registry.GetTokens(ctx, testUser)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, session.TypeRefresh, tokens[0].Type)
}

func TestLogout_WithAccessTokenDeletesRefreshSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	a1, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	require.NoError(t, f.registry.Logout(ctx, a1.Token))

	_, err = f.verifier.Verify(ctx, r1.Token)
	assert.True(t, errx.IsCode(err, iam.CodeUnauthorized), "err: %v", err)
}

func TestDeleteAllForUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r1 := f.login(t, testUser)
	f.login(t, testUser)
	f.login(t, "other@example.com")
	_, err := f.registry.Renew(ctx, r1.Token, "ua")
	require.NoError(t, err)

	n, err := f.registry.DeleteAllForUser(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	others, err := f.registry.GetTokens(ctx, "other@example.com")
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestMint_APIUsesExplicitExpirationAndNoParent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _ := f.principals.LoadPrincipal(ctx, testUser)
	until := f.clock.Now().Add(72 * time.Hour)

	m, err := f.factory.Mint(ctx, MintRequest{
		Principal:  *p,
		Type:       session.TypeAPI,
		Expiration: &until,
		Username:   session.APIUsername(testUser, "tok1"),
	})
	require.NoError(t, err)
	assert.Equal(t, until, m.Session.Expiration)
	assert.Nil(t, m.Session.ParentTokenID)
	assert.Equal(t, testUser+"-api-token-tok1", m.Session.Username)

	past := f.clock.Now().Add(-time.Hour)
	_, err = f.factory.Mint(ctx, MintRequest{Principal: *p, Type: session.TypeAPI, Expiration: &past})
	assert.True(t, errx.IsCode(err, iam.CodeIllegalArgument), "err: %v", err)
}

func TestCleanupRemovesExpiredSessions(t *testing.T) {
	f := newFixture(t)
	f.login(t, testUser)
	f.clock.Advance(48 * time.Hour)
	f.login(t, testUser)

	w := NewCleanupWorker(f.registry, time.Minute, nil)
	assert.Equal(t, 1, w.RunOnce(context.Background()))

	tokens, err := f.registry.GetTokens(context.Background(), testUser)
	require.NoError(t, err)
	assert.Len(t, tokens, 1)
}
