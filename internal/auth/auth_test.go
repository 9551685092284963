package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/chat"
	"github.com/vap/backend/internal/store"
)

type fakeSessions struct {
	sessions map[string]*store.Session
	tokens   map[string]*store.ChatToken
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]*store.Session),
		tokens:   make(map[string]*store.ChatToken),
	}
}

func (f *fakeSessions) CreateSession(_ context.Context, sess *store.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*store.Session, error) {
	sess, ok := f.sessions[id]
	if !ok || time.Now().After(sess.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

func (f *fakeSessions) DeleteSession(_ context.Context, id string) error {
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessions) SessionValid(_ context.Context, id, identity string) (bool, error) {
	sess, ok := f.sessions[id]
	return ok && sess.Identity == identity && time.Now().Before(sess.ExpiresAt), nil
}

func (f *fakeSessions) CreateChatToken(_ context.Context, t *store.ChatToken) error {
	f.tokens[t.ID] = t
	return nil
}

func (f *fakeSessions) ConsumeChatToken(_ context.Context, id string) (string, error) {
	t, ok := f.tokens[id]
	if !ok || t.Used || time.Now().After(t.ExpiresAt) {
		return "", store.ErrNotFound
	}
	t.Used = true
	return t.Identity, nil
}

func (f *fakeSessions) ChatTokenValid(_ context.Context, id, identity string) (bool, error) {
	t, ok := f.tokens[id]
	return ok && t.Identity == identity && time.Now().Before(t.ExpiresAt), nil
}

type fakeSigner struct{ sig string }

func (f *fakeSigner) SignData(_ context.Context, _, _ string) (string, error) {
	return f.sig, nil
}

func testService(t *testing.T) (*Service, *fakeSessions) {
	t.Helper()
	st := newFakeSessions()
	secret := []byte("0123456789abcdef0123456789abcdef")
	return New(st, &fakeSigner{sig: "platform-sig"}, secret, "platform@", "https://vap.example", false), st
}

func TestCookieValueRoundTrip(t *testing.T) {
	svc, _ := testService(t)

	signed := svc.signValue("sess-1")
	id, ok := svc.verifyValue(signed)
	require.True(t, ok)
	assert.Equal(t, "sess-1", id)
}

func TestCookieValueTamperRejected(t *testing.T) {
	svc, _ := testService(t)
	signed := svc.signValue("sess-1")

	_, ok := svc.verifyValue("sess-2" + signed[len("sess-1"):])
	assert.False(t, ok, "swapping the ID must break the MAC")

	_, ok = svc.verifyValue("sess-1.AAAA")
	assert.False(t, ok)

	_, ok = svc.verifyValue("no-separator")
	assert.False(t, ok)
}

func TestSessionCookieFlow(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "iBuyer")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	svc.SetCookie(rec, sess)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.AddCookie(cookies[0])
	got, err := svc.SessionFromRequest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "iBuyer", got.Identity)
}

func TestSessionFromRequestRejectsMissingCookie(t *testing.T) {
	svc, _ := testService(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := svc.SessionFromRequest(context.Background(), req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestChatTokenIsOneShot(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	token, err := svc.IssueChatToken(ctx, "iSeller")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/chat?token="+token.ID, nil)
	p, err := svc.FromRequest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "iSeller", p.Identity)
	assert.Equal(t, token.ID, p.TokenID)
	assert.Empty(t, p.SessionID)

	// Second handshake with the same token fails.
	_, err = svc.FromRequest(ctx, req)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRevalidateChecksExactBinding(t *testing.T) {
	svc, st := testService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "iBuyer")
	require.NoError(t, err)

	p := &chat.Principal{Identity: "iBuyer", SessionID: sess.ID}
	assert.True(t, svc.Revalidate(ctx, p))

	// The same session ID bound to another identity fails.
	assert.False(t, svc.Revalidate(ctx, &chat.Principal{Identity: "iMallory", SessionID: sess.ID}))

	require.NoError(t, st.DeleteSession(ctx, sess.ID))
	assert.False(t, svc.Revalidate(ctx, p))
}

func TestRevalidateTokenPath(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	token, err := svc.IssueChatToken(ctx, "iSeller")
	require.NoError(t, err)

	// Consumed tokens stay valid until expiry; revalidation checks the
	// row, not the used bit.
	_, err = svc.store.ConsumeChatToken(ctx, token.ID)
	require.NoError(t, err)
	assert.True(t, svc.Revalidate(ctx, &chat.Principal{Identity: "iSeller", TokenID: token.ID}))
	assert.False(t, svc.Revalidate(ctx, &chat.Principal{Identity: "iOther", TokenID: token.ID}))
}

func TestRevalidateNoCredential(t *testing.T) {
	svc, _ := testService(t)
	assert.False(t, svc.Revalidate(context.Background(), &chat.Principal{Identity: "iBuyer"}))
}

func TestBeginLogin(t *testing.T) {
	svc, _ := testService(t)

	ch, err := svc.BeginLogin(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, ch.Challenge)
	assert.Equal(t, "platform@", ch.SignedBy)
	assert.Equal(t, "platform-sig", ch.PlatformSignature)
	assert.Contains(t, ch.DeepLink, ch.Challenge)
	assert.True(t, ch.ExpiresAt.After(time.Now()))
}

func TestChallengeIsOneShot(t *testing.T) {
	svc, _ := testService(t)

	ch, err := svc.BeginLogin(context.Background())
	require.NoError(t, err)

	require.NoError(t, svc.ConsumeChallenge(ch.Challenge))
	assert.ErrorIs(t, svc.ConsumeChallenge(ch.Challenge), ErrUnauthorized,
		"a redeemed challenge must not log in twice")
}

func TestChallengeUnknownRejected(t *testing.T) {
	svc, _ := testService(t)
	assert.ErrorIs(t, svc.ConsumeChallenge("never-issued"), ErrUnauthorized)
}

func TestChallengeExpires(t *testing.T) {
	svc, _ := testService(t)

	ch, err := svc.BeginLogin(context.Background())
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().Add(challengeTTL + time.Minute) }
	assert.ErrorIs(t, svc.ConsumeChallenge(ch.Challenge), ErrUnauthorized)
}
