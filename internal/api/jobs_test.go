package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vap/backend/internal/auth"
	"github.com/vap/backend/internal/store"
)

type fakeSessions struct {
	sessions map[string]*store.Session
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]*store.Session)}
}

func (f *fakeSessions) CreateSession(_ context.Context, sess *store.Session) error {
	f.sessions[sess.ID] = sess
	return nil
}

func (f *fakeSessions) GetSession(_ context.Context, id string) (*store.Session, error) {
	sess, ok := f.sessions[id]
	if !ok {
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
	return ok && sess.Identity == identity, nil
}

func (f *fakeSessions) CreateChatToken(context.Context, *store.ChatToken) error {
	return errors.New("not implemented")
}

func (f *fakeSessions) ConsumeChatToken(context.Context, string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeSessions) ChatTokenValid(context.Context, string, string) (bool, error) {
	return false, nil
}

func testServer(t *testing.T) (*Server, *auth.Service) {
	t.Helper()
	authSvc := auth.New(newFakeSessions(), nil, []byte("test-secret"), "platform@", "http://localhost", false)
	return NewServer(Deps{Auth: authSvc}), authSvc
}

// loginAs opens a session and returns the signed cookie header value.
func loginAs(t *testing.T, authSvc *auth.Service, identity string) string {
	t.Helper()
	sess, err := authSvc.CreateSession(context.Background(), identity)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	authSvc.SetCookie(rec, sess)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0].Value
}

func TestCancelJobRequiresSession(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/jobs/job-1/cancel", strings.NewReader(`{"caller":"iVictimBuyer"}`))
	s.handleCancelJob(rec, req)

	assert.Equal(t, 401, rec.Code, "anonymous cancel must be rejected before the machine runs")
	assert.Contains(t, rec.Body.String(), codeUnauthorized)
}

func TestCancelJobRejectsForgedCookie(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/jobs/job-1/cancel", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "sess-1.Zm9yZ2VkLXNpZ25hdHVyZQ"})
	s.handleCancelJob(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestRecordPaymentRequiresSession(t *testing.T) {
	s, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/jobs/job-1/payment", strings.NewReader(`{"caller":"iVictimBuyer","txid":"deadbeef"}`))
	s.handleRecordPayment(rec, req)

	assert.Equal(t, 401, rec.Code)
	assert.Contains(t, rec.Body.String(), codeUnauthorized)
}

func TestRecordPaymentUsesSessionIdentity(t *testing.T) {
	s, authSvc := testServer(t)
	cookie := loginAs(t, authSvc, "iBuyer")

	// A logged-in caller with no txid fails validation, proving the
	// request passed authentication and that the body carries no
	// caller field anymore.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/jobs/job-1/payment", strings.NewReader(`{"caller":"iSomeoneElse"}`))
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: cookie})
	s.handleRecordPayment(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Contains(t, rec.Body.String(), "txid is required")
}
