package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vap/backend/internal/jobs"
	"github.com/vap/backend/internal/store"
)

// Job lifecycle requests carry the exact signed template fields, not an
// envelope: the signature is over the VAP template string and the
// machine reconstructs it byte for byte.

type createJobRequest struct {
	Buyer       string           `json:"buyer"`
	Seller      string           `json:"seller"`
	ServiceID   *int64           `json:"serviceId,omitempty"`
	Description string           `json:"description"`
	Amount      float64          `json:"amount"`
	Currency    string           `json:"currency"`
	Deadline    string           `json:"deadline,omitempty"`
	SafeChat    bool             `json:"safechat"`
	Terms       *store.DataTerms `json:"dataTerms,omitempty"`
	Timestamp   int64            `json:"timestamp"`
	Signature   string           `json:"signature"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch {
	case req.Buyer == "" || req.Seller == "":
		writeError(w, http.StatusBadRequest, codeValidation, "buyer and seller are required")
		return
	case req.Description == "":
		writeError(w, http.StatusBadRequest, codeValidation, "description is required")
		return
	case req.Amount <= 0:
		writeError(w, http.StatusBadRequest, codeValidation, "amount must be positive")
		return
	case req.Signature == "":
		writeError(w, http.StatusBadRequest, codeValidation, "signature is required")
		return
	case req.Timestamp <= 0:
		writeError(w, http.StatusBadRequest, codeInvalidTimestamp, "timestamp is required")
		return
	}
	if !s.buyerJobLimiter.Allow(req.Buyer) {
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many job requests")
		return
	}

	job, err := s.machine.Create(r.Context(), &jobs.CreateRequest{
		Buyer:       req.Buyer,
		Seller:      req.Seller,
		ServiceID:   req.ServiceID,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Deadline:    req.Deadline,
		Terms:       req.Terms,
		SafeChat:    req.SafeChat,
		Timestamp:   req.Timestamp,
		Signature:   req.Signature,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	limit, offset := pagination(r)
	status := r.URL.Query().Get("status")

	list, err := s.store.ListJobsForIdentity(r.Context(), sess.Identity, status, limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   list,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !job.Participant(sess.Identity) {
		writeError(w, http.StatusForbidden, codeForbidden, "not a participant of this job")
		return
	}

	terms, err := s.store.GetDataTerms(r.Context(), job.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job, "dataTerms": terms})
}

// transitionRequest covers the signed single-signature transitions.
type transitionRequest struct {
	Caller    string `json:"caller"`
	Reason    string `json:"reason,omitempty"`
	Hash      string `json:"deliveryHash,omitempty"`
	Message   string `json:"deliveryMessage,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

func (s *Server) handleAcceptJob(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.machine.Accept(r.Context(), mux.Vars(r)["id"], req.Caller, req.Timestamp, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDeliverJob(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.machine.Deliver(r.Context(), mux.Vars(r)["id"], req.Caller, req.Hash, req.Message, req.Timestamp, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	job, err := s.machine.Complete(r.Context(), mux.Vars(r)["id"], req.Caller, req.Timestamp, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob cancels a requested job. Cancellation carries no
// signed template, so it requires a live session and the machine still
// checks the session identity is the buyer.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	job, err := s.machine.Cancel(r.Context(), mux.Vars(r)["id"], sess.Identity)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDisputeJob(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Reason == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "dispute reason is required")
		return
	}
	job, err := s.machine.Dispute(r.Context(), mux.Vars(r)["id"], req.Caller, req.Reason, req.Timestamp, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type dataTermsRequest struct {
	Retention                  string `json:"retention"`
	AllowTraining              bool   `json:"allowTraining"`
	AllowThirdParty            bool   `json:"allowThirdParty"`
	RequireDeletionAttestation bool   `json:"requireDeletionAttestation"`
}

// handleUpdateDataTerms lets the buyer revise data terms before the
// seller accepts; the store refuses updates once accepted_by_seller is
// set.
func (s *Server) handleUpdateDataTerms(w http.ResponseWriter, r *http.Request) {
	var req dataTermsRequest
	addr, ok := s.readEnvelope(w, r, "data-policy", &req)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if job.Buyer != addr {
		writeError(w, http.StatusForbidden, codeForbidden, "only the buyer may change data terms")
		return
	}
	switch req.Retention {
	case "none", "job-duration", "30-days":
	default:
		writeError(w, http.StatusBadRequest, codeValidation, "unknown retention policy")
		return
	}

	terms := &store.DataTerms{
		JobID:                      job.ID,
		Retention:                  req.Retention,
		AllowTraining:              req.AllowTraining,
		AllowThirdParty:            req.AllowThirdParty,
		RequireDeletionAttestation: req.RequireDeletionAttestation,
	}
	if err := s.store.UpdateDataTerms(r.Context(), terms); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handleAttestJob(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	att, err := s.machine.Attest(r.Context(), mux.Vars(r)["id"], req.Caller, req.Timestamp, req.Signature)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	att, err := s.store.GetAttestation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, att)
}

type paymentRequest struct {
	Txid string `json:"txid"`
}

func (s *Server) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	s.recordPaymentLeg(w, r, s.machine.RecordPayment)
}

func (s *Server) handleRecordPlatformFee(w http.ResponseWriter, r *http.Request) {
	s.recordPaymentLeg(w, r, s.machine.RecordPlatformFee)
}

type recordLegFunc func(ctx context.Context, jobID, caller, txid string) (*store.Job, *jobs.PaymentOutcome, error)

// recordPaymentLeg records a txid on behalf of the session identity.
// A txid is not proof of payer, so the caller comes from the session,
// never from the body, and the machine binds it to the job's buyer.
func (s *Server) recordPaymentLeg(w http.ResponseWriter, r *http.Request, record recordLegFunc) {
	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Txid == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "txid is required")
		return
	}

	job, outcome, err := record(r.Context(), mux.Vars(r)["id"], sess.Identity, req.Txid)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job":      job,
		"verified": outcome.Verified,
		"note":     outcome.Note,
	})
}
