package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/store"
	"github.com/vap/backend/internal/webhooks"
)

// handleBeginLogin issues a platform-countersigned challenge that the
// wallet signs to prove identity control.
func (s *Server) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.auth.BeginLogin(r.Context())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenge)
}

type verifyLoginRequest struct {
	Challenge string `json:"challenge"`
}

// handleVerifyLogin completes login: the envelope signature covers the
// challenge, and the challenge must be one this server issued and not
// yet redeemed.
func (s *Server) handleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	addr, ok := s.readEnvelope(w, r, "login", &req)
	if !ok {
		return
	}
	if req.Challenge == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "challenge is required")
		return
	}
	if err := s.auth.ConsumeChallenge(req.Challenge); err != nil {
		s.writeDomainError(w, err)
		return
	}

	sess, err := s.auth.CreateSession(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.auth.SetCookie(w, sess)
	writeJSON(w, http.StatusOK, map[string]any{
		"identity":  addr,
		"expiresAt": sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout(r.Context(), r, w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// handleChatToken mints a one-shot websocket token bound to the
// session identity. It is consumed on first use.
func (s *Server) handleChatToken(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	token, err := s.auth.IssueChatToken(r.Context(), sess.Identity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     token.ID,
		"expiresAt": token.ExpiresAt,
	})
}

func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	status := r.URL.Query().Get("status")

	items, err := s.store.ListInbox(r.Context(), sess.Identity, status, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleInboxAccept(w http.ResponseWriter, r *http.Request) {
	s.setInboxStatus(w, r, store.InboxAccepted)
}

func (s *Server) handleInboxReject(w http.ResponseWriter, r *http.Request) {
	s.setInboxStatus(w, r, store.InboxRejected)
}

func (s *Server) setInboxStatus(w http.ResponseWriter, r *http.Request, status string) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid inbox item id")
		return
	}
	if err := s.store.SetInboxStatus(r.Context(), id, sess.Identity, status); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifs, err := s.store.ListNotifications(r.Context(), sess.Identity, unreadOnly, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifs,
		"limit":         limit,
		"offset":        offset,
	})
}

func (s *Server) handleReadNotification(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	id, err := pathID64(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid notification id")
		return
	}
	if err := s.store.MarkNotificationRead(r.Context(), id, sess.Identity); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "read"})
}

type createWebhookRequest struct {
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes"`
	Encrypted  bool     `json:"encrypted"`
}

// handleCreateWebhook registers a delivery URL for the signer. The
// shared secret is returned exactly once; only its sealed form is
// stored.
func (s *Server) handleCreateWebhook(w http.ResponseWriter, r *http.Request) {
	var req createWebhookRequest
	addr, ok := s.readEnvelope(w, r, "webhook.create", &req)
	if !ok {
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeError(w, http.StatusBadRequest, codeValidation, "url must be http or https")
		return
	}
	if len(req.EventTypes) == 0 {
		req.EventTypes = []string{"*"}
	}

	secret, err := webhooks.NewSecret()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	sealed, err := webhooks.EncryptSecret(s.cfg.WebhookEncryptionKey, secret)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	sub := &store.WebhookSubscription{
		ID:              uuid.NewString(),
		AgentAddress:    addr,
		URL:             req.URL,
		EventTypes:      req.EventTypes,
		EncryptedSecret: sealed,
		Encrypted:       req.Encrypted,
	}
	if err := s.store.CreateWebhookSubscription(r.Context(), sub); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"subscription": sub,
		"secret":       secret,
	})
}

func (s *Server) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	subs, err := s.store.ListWebhookSubscriptions(r.Context(), sess.Identity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

func (s *Server) handleDeleteWebhook(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteWebhookSubscription(r.Context(), mux.Vars(r)["id"], sess.Identity); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
