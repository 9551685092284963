package api

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := r.URL.Query().Get("status")

	agents, err := s.store.ListAgents(r.Context(), status, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.store.GetAgent(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

type registerAgentRequest struct {
	Name         string   `json:"name"`
	AgentType    string   `json:"agentType"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
}

// handleRegisterAgent registers the signer as an agent. The signed
// envelope proves control of the identity; the indexer later overlays
// whatever the identity publishes on chain.
func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	addr, ok := s.readEnvelope(w, r, "agent.register", &req)
	if !ok {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "name is required")
		return
	}
	agentType := req.AgentType
	switch agentType {
	case "":
		agentType = "autonomous"
	case "autonomous", "assisted", "hybrid", "tool":
	default:
		writeError(w, http.StatusBadRequest, codeValidation, "unknown agent type")
		return
	}

	agent := &store.Agent{
		IdentityAddress: addr,
		Name:            req.Name,
		AgentType:       agentType,
		Description:     req.Description,
		Status:          store.AgentActive,
	}
	if err := s.store.UpsertAgent(r.Context(), agent); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if len(req.Capabilities) > 0 {
		if err := s.store.ReplaceCapabilities(r.Context(), addr, req.Capabilities); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}

	full, err := s.store.GetAgent(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, full)
}

// handleDeactivateAgent marks the signer's agent inactive. It stays
// listable but is excluded from active discovery.
func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	addr, ok := s.readEnvelope(w, r, "agent.deactivate", nil)
	if !ok {
		return
	}
	if addr != mux.Vars(r)["address"] {
		writeError(w, http.StatusForbidden, codeForbidden, "signer does not own this agent")
		return
	}
	if err := s.store.SetAgentStatus(r.Context(), addr, store.AgentInactive); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": store.AgentInactive})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.store.ListServices(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": services})
}

type registerEndpointRequest struct {
	URL      string `json:"url"`
	Protocol string `json:"protocol"`
	Public   bool   `json:"public"`
}

// handleRegisterEndpoint records an agent endpoint and kicks off the
// two-phase ownership verification.
func (s *Server) handleRegisterEndpoint(w http.ResponseWriter, r *http.Request) {
	var req registerEndpointRequest
	addr, ok := s.readEnvelope(w, r, "endpoint.register", &req)
	if !ok {
		return
	}
	if addr != mux.Vars(r)["address"] {
		writeError(w, http.StatusForbidden, codeForbidden, "signer does not own this agent")
		return
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		writeError(w, http.StatusBadRequest, codeValidation, "url must be http or https")
		return
	}
	if req.Protocol == "" {
		req.Protocol = "https"
	}

	ep := &store.Endpoint{
		AgentAddress: addr,
		URL:          strings.TrimRight(req.URL, "/"),
		Protocol:     req.Protocol,
		Public:       req.Public,
	}
	id, err := s.store.UpsertEndpoint(r.Context(), ep)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	ep.ID = id

	verificationID, err := s.endpoints.Begin(r.Context(), ep)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"endpoint":       ep,
		"verificationId": verificationID,
		"status":         store.VerifyPending,
	})
}

type addCanaryRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleAddCanary(w http.ResponseWriter, r *http.Request) {
	var req addCanaryRequest
	addr, ok := s.readEnvelope(w, r, "canary.add", &req)
	if !ok {
		return
	}
	if addr != mux.Vars(r)["address"] {
		writeError(w, http.StatusForbidden, codeForbidden, "signer does not own this agent")
		return
	}
	if len(req.Token) < 16 {
		writeError(w, http.StatusBadRequest, codeValidation, "canary token must be at least 16 characters")
		return
	}
	if err := s.store.AddCanary(r.Context(), addr, req.Token); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

type submitReviewRequest struct {
	Buyer     string `json:"buyer"`
	JobHash   string `json:"jobHash"`
	Rating    *int   `json:"rating,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// handleSubmitReview verifies a buyer-signed review and parks it in the
// buyer's inbox with the ready-to-publish payload. The review becomes
// visible once the indexer sees it on chain.
func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	agentAddress := mux.Vars(r)["address"]

	var req submitReviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch {
	case req.Buyer == "" || req.JobHash == "" || req.Signature == "":
		writeError(w, http.StatusBadRequest, codeValidation, "buyer, jobHash and signature are required")
		return
	case req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5):
		writeError(w, http.StatusBadRequest, codeValidation, "rating must be between 1 and 5")
		return
	}

	rating := 0
	if req.Rating != nil {
		rating = *req.Rating
	}
	msg := sigverify.ReviewMessage(agentAddress, req.JobHash, rating, req.Message, req.Timestamp)
	buyerAddr, err := s.verifier.VerifyTemplate(r.Context(), req.Buyer, msg, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	job, err := s.store.GetJobByHash(r.Context(), req.JobHash)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if job.Buyer != buyerAddr || job.Seller != agentAddress {
		writeError(w, http.StatusForbidden, codeForbidden, "review does not match the job parties")
		return
	}
	if job.Status != store.JobCompleted {
		writeError(w, http.StatusConflict, codeStateConflict, "only completed jobs can be reviewed")
		return
	}

	raw, err := json.Marshal(map[string]any{
		"agent":     agentAddress,
		"jobHash":   req.JobHash,
		"rating":    req.Rating,
		"message":   req.Message,
		"signature": req.Signature,
		"timestamp": req.Timestamp,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	item := &store.InboxItem{
		Recipient: buyerAddr,
		Sender:    buyerAddr,
		ItemType:  "review",
		Rating:    req.Rating,
		Message:   req.Message,
		JobHash:   req.JobHash,
		Signature: req.Signature,
		Payload:   hex.EncodeToString(raw),
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}
	id, err := s.store.InsertInboxItem(r.Context(), item)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	item.ID = id
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleListReviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := s.store.ListReviews(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reviews": reviews})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	summary, err := s.rep.Compute(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleTrust(w http.ResponseWriter, r *http.Request) {
	profile, err := s.trust.Evaluate(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
