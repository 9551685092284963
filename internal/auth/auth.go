// Package auth issues and validates browser sessions and one-shot chat
// tokens. Sessions ride an HMAC-signed cookie; the server never trusts
// a session ID that does not carry a valid signature, so a forged
// cookie fails before any database read.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vap/backend/internal/chat"
	"github.com/vap/backend/internal/store"
)

// CookieName is the session cookie.
const CookieName = "vap_session"

const (
	sessionTTL   = 24 * time.Hour
	tokenTTL     = 5 * time.Minute
	challengeTTL = 10 * time.Minute
)

// ErrUnauthorized covers every credential failure; callers never learn
// which check rejected.
var ErrUnauthorized = errors.New("unauthorized")

// SessionStore is the persistence surface for sessions and tokens.
type SessionStore interface {
	CreateSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	DeleteSession(ctx context.Context, id string) error
	SessionValid(ctx context.Context, id, identity string) (bool, error)
	CreateChatToken(ctx context.Context, t *store.ChatToken) error
	ConsumeChatToken(ctx context.Context, id string) (string, error)
	ChatTokenValid(ctx context.Context, id, identity string) (bool, error)
}

// PlatformSigner signs consent payloads with the platform identity.
type PlatformSigner interface {
	SignData(ctx context.Context, address, datahash string) (string, error)
}

// Service owns login, session, and chat token flows.
type Service struct {
	store     SessionStore
	signer    PlatformSigner
	secret    []byte
	signingID string
	publicURL string
	secure    bool
	logger    *log.Logger
	now       func() time.Time

	mu         sync.Mutex
	challenges map[string]time.Time // outstanding login challenges -> expiry
}

// New builds the auth service. secure controls the cookie Secure flag
// and should be true outside development.
func New(st SessionStore, signer PlatformSigner, secret []byte, signingID, publicURL string, secure bool) *Service {
	return &Service{
		store:      st,
		signer:     signer,
		secret:     secret,
		signingID:  signingID,
		publicURL:  publicURL,
		secure:     secure,
		logger:     log.New(log.Writer(), "[AUTH] ", log.LstdFlags),
		now:        time.Now,
		challenges: make(map[string]time.Time),
	}
}

// signValue binds a session ID to this server's secret.
func (s *Service) signValue(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verifyValue recovers the session ID from a signed cookie value.
func (s *Service) verifyValue(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}
	return id, true
}

// LoginChallenge is the consent request a wallet signs to log in. The
// platform countersigns the challenge so the wallet can show the user
// who is asking.
type LoginChallenge struct {
	Challenge         string    `json:"challenge"`
	SignedBy          string    `json:"signedBy"`
	PlatformSignature string    `json:"platformSignature"`
	DeepLink          string    `json:"deepLink"`
	ExpiresAt         time.Time `json:"expiresAt"`
}

// BeginLogin mints a login challenge countersigned by the platform
// identity.
func (s *Service) BeginLogin(ctx context.Context) (*LoginChallenge, error) {
	challenge := uuid.NewString()
	hash := sha256.Sum256([]byte(challenge))
	sig, err := s.signer.SignData(ctx, s.signingID, hex.EncodeToString(hash[:]))
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(challengeTTL)

	s.mu.Lock()
	s.challenges[challenge] = expiresAt
	s.mu.Unlock()

	return &LoginChallenge{
		Challenge:         challenge,
		SignedBy:          s.signingID,
		PlatformSignature: sig,
		DeepLink:          s.publicURL + "/login#" + challenge,
		ExpiresAt:         expiresAt,
	}, nil
}

// ConsumeChallenge redeems a login challenge exactly once. Challenges
// never issued, already redeemed, or past their expiry all fail the
// same way.
func (s *Service) ConsumeChallenge(challenge string) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for ch, exp := range s.challenges {
		if now.After(exp) {
			delete(s.challenges, ch)
		}
	}
	if _, ok := s.challenges[challenge]; !ok {
		return ErrUnauthorized
	}
	delete(s.challenges, challenge)
	return nil
}

// CreateSession opens a session for an identity whose envelope already
// verified, and returns it for the cookie.
func (s *Service) CreateSession(ctx context.Context, identity string) (*store.Session, error) {
	sess := &store.Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		ExpiresAt: s.now().Add(sessionTTL),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// SetCookie writes the signed session cookie.
func (s *Service) SetCookie(w http.ResponseWriter, sess *store.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.signValue(sess.ID),
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Service) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionFromRequest resolves the cookie to a live session.
func (s *Service) SessionFromRequest(ctx context.Context, r *http.Request) (*store.Session, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return nil, ErrUnauthorized
	}
	id, ok := s.verifyValue(cookie.Value)
	if !ok {
		return nil, ErrUnauthorized
	}
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, ErrUnauthorized
	}
	return sess, nil
}

// Logout deletes the session behind the request's cookie, if any.
func (s *Service) Logout(ctx context.Context, r *http.Request, w http.ResponseWriter) {
	if sess, err := s.SessionFromRequest(ctx, r); err == nil {
		if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.Printf("delete session: %v", err)
		}
	}
	s.ClearCookie(w)
}

// IssueChatToken mints a one-shot websocket bearer for a logged-in
// identity. The token is consumed at the handshake; a reused token
// fails there.
func (s *Service) IssueChatToken(ctx context.Context, identity string) (*store.ChatToken, error) {
	t := &store.ChatToken{
		ID:        uuid.NewString(),
		Identity:  identity,
		ExpiresAt: s.now().Add(tokenTTL),
	}
	if err := s.store.CreateChatToken(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// FromRequest authenticates a websocket handshake: a one-shot ?token=
// bearer or the session cookie. Satisfies the chat authenticator.
func (s *Service) FromRequest(ctx context.Context, r *http.Request) (*chat.Principal, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		identity, err := s.store.ConsumeChatToken(ctx, token)
		if err != nil {
			return nil, ErrUnauthorized
		}
		return &chat.Principal{Identity: identity, TokenID: token}, nil
	}

	sess, err := s.SessionFromRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	return &chat.Principal{Identity: sess.Identity, SessionID: sess.ID}, nil
}

// Revalidate re-checks the exact credential binding that opened the
// connection, not merely that some session exists for the identity.
func (s *Service) Revalidate(ctx context.Context, p *chat.Principal) bool {
	var ok bool
	var err error
	switch {
	case p.TokenID != "":
		ok, err = s.store.ChatTokenValid(ctx, p.TokenID, p.Identity)
	case p.SessionID != "":
		ok, err = s.store.SessionValid(ctx, p.SessionID, p.Identity)
	default:
		return false
	}
	if err != nil {
		s.logger.Printf("revalidate %s: %v", p.Identity, err)
		return false
	}
	return ok
}

var _ chat.Authenticator = (*Service)(nil)
