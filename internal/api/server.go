// Package api is the HTTP surface: a versioned REST API under /v1 and
// the websocket upgrade path. Mutating endpoints are authenticated by
// signed envelopes or signed lifecycle templates; reads by session
// cookie where they expose private data.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/auth"
	"github.com/vap/backend/internal/chat"
	"github.com/vap/backend/internal/config"
	"github.com/vap/backend/internal/endpoints"
	"github.com/vap/backend/internal/files"
	"github.com/vap/backend/internal/holdqueue"
	"github.com/vap/backend/internal/jobs"
	"github.com/vap/backend/internal/metrics"
	"github.com/vap/backend/internal/middleware"
	"github.com/vap/backend/internal/reputation"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
	"github.com/vap/backend/internal/trust"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Server wires handlers to the domain services.
type Server struct {
	cfg       *config.Config
	store     *store.Store
	verifier  *sigverify.Verifier
	machine   *jobs.Machine
	hub       *chat.Hub
	hold      *holdqueue.Service
	rep       *reputation.Engine
	trust     *trust.Evaluator
	auth      *auth.Service
	files     *files.Service
	endpoints *endpoints.Worker
	logger    *log.Logger

	// Request-level limits: job creation per IP and per buyer, plus a
	// general mutation ceiling per identity.
	ipJobLimiter    *middleware.Limiter
	buyerJobLimiter *middleware.Limiter
	userLimiter     *middleware.Limiter
}

// Deps carries the constructed services into the server.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Verifier  *sigverify.Verifier
	Machine   *jobs.Machine
	Hub       *chat.Hub
	Hold      *holdqueue.Service
	Rep       *reputation.Engine
	Trust     *trust.Evaluator
	Auth      *auth.Service
	Files     *files.Service
	Endpoints *endpoints.Worker
}

// NewServer builds the HTTP server.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:       d.Config,
		store:     d.Store,
		verifier:  d.Verifier,
		machine:   d.Machine,
		hub:       d.Hub,
		hold:      d.Hold,
		rep:       d.Rep,
		trust:     d.Trust,
		auth:      d.Auth,
		files:     d.Files,
		endpoints: d.Endpoints,
		logger:    log.New(log.Writer(), "[API] ", log.LstdFlags),

		ipJobLimiter:    middleware.NewLimiter(10, time.Minute),
		buyerJobLimiter: middleware.NewLimiter(5, time.Minute),
		userLimiter:     middleware.NewLimiter(30, time.Minute),
	}
}

// Limiters exposes the sliding windows for the cleanup reaper.
func (s *Server) Limiters() []*middleware.Limiter {
	return []*middleware.Limiter{s.ipJobLimiter, s.buyerJobLimiter, s.userLimiter}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.Logging(s.logger))
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(middleware.CORS(s.cfg.CORSOrigins))
	}

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.hub.ServeWS)

	v1 := r.PathPrefix("/v1").Subrouter()

	// Discovery.
	v1.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	v1.HandleFunc("/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{address}", s.handleGetAgent).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{address}/reviews", s.handleListReviews).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{address}/reviews", s.handleSubmitReview).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{address}/reputation", s.handleReputation).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{address}/trust", s.handleTrust).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{address}/services", s.handleListServices).Methods(http.MethodGet)
	v1.HandleFunc("/agents/{address}/deactivate", s.handleDeactivateAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{address}/endpoints", s.handleRegisterEndpoint).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{address}/canaries", s.handleAddCanary).Methods(http.MethodPost)

	// Job lifecycle.
	jobLimit := middleware.RateLimit(s.ipJobLimiter, middleware.ClientIP)
	v1.Handle("/jobs", jobLimit(http.HandlerFunc(s.handleCreateJob))).Methods(http.MethodPost)
	v1.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/accept", s.handleAcceptJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/deliver", s.handleDeliverJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/complete", s.handleCompleteJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/cancel", s.handleCancelJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/dispute", s.handleDisputeJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/attest", s.handleAttestJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/payment", s.handleRecordPayment).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/platform-fee", s.handleRecordPlatformFee).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/attestation", s.handleGetAttestation).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/data-terms", s.handleUpdateDataTerms).Methods(http.MethodPut)

	// Chat plane. The websocket itself upgrades at the root-level /ws.
	v1.HandleFunc("/jobs/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{id}/files", s.handleUploadFile).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{id}/files", s.handleListFiles).Methods(http.MethodGet)
	v1.HandleFunc("/files/{id}", s.handleDownloadFile).Methods(http.MethodGet)
	v1.HandleFunc("/files/{id}", s.handleDeleteFile).Methods(http.MethodDelete)

	// Hold queue.
	v1.HandleFunc("/jobs/{id}/hold", s.handleListHold).Methods(http.MethodGet)
	v1.HandleFunc("/hold/{id}/release", s.handleReleaseHold).Methods(http.MethodPost)
	v1.HandleFunc("/hold/{id}/reject", s.handleRejectHold).Methods(http.MethodPost)
	v1.HandleFunc("/hold/{id}/appeal", s.handleAppealHold).Methods(http.MethodPost)

	// Account surface.
	v1.HandleFunc("/auth/login", s.handleBeginLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/verify", s.handleVerifyLogin).Methods(http.MethodPost)
	v1.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	v1.HandleFunc("/auth/chat-token", s.handleChatToken).Methods(http.MethodPost)
	v1.HandleFunc("/inbox", s.handleListInbox).Methods(http.MethodGet)
	v1.HandleFunc("/inbox/{id}/accept", s.handleInboxAccept).Methods(http.MethodPost)
	v1.HandleFunc("/inbox/{id}/reject", s.handleInboxReject).Methods(http.MethodPost)
	v1.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	v1.HandleFunc("/notifications/{id}/read", s.handleReadNotification).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", s.handleCreateWebhook).Methods(http.MethodPost)
	v1.HandleFunc("/webhooks", s.handleListWebhooks).Methods(http.MethodGet)
	v1.HandleFunc("/webhooks/{id}", s.handleDeleteWebhook).Methods(http.MethodDelete)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireSession resolves the cookie session or writes 401.
func (s *Server) requireSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	sess, err := s.auth.SessionFromRequest(r.Context(), r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication required")
		return nil, false
	}
	if !s.userLimiter.Allow(sess.Identity) && r.Method != http.MethodGet {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests")
		return nil, false
	}
	return sess, true
}

// readEnvelope decodes and verifies a signed envelope, returning the
// resolved signer address and the inner data.
func (s *Server) readEnvelope(w http.ResponseWriter, r *http.Request, action string, data any) (string, bool) {
	var env sigverify.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "malformed envelope")
		return "", false
	}
	if env.Action != action {
		writeError(w, http.StatusBadRequest, codeValidation, "unexpected action")
		return "", false
	}
	addr, err := s.verifier.Verify(r.Context(), &env)
	if err != nil {
		s.writeDomainError(w, err)
		return "", false
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "malformed payload")
			return "", false
		}
	}
	return addr, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "malformed request body")
		return false
	}
	return true
}

// pagination parses limit/offset query params with the API caps.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			offset = v
		}
	}
	return limit, offset
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID64(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}
