// Package jobs enforces the job lifecycle: signed multi-party
// transitions, the dual-payment gate, and the fee policy. Every status
// change is a compare-and-swap on the previously observed status; a
// lost race surfaces as a state conflict, never a silent overwrite.
package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vap/backend/internal/chain"
	"github.com/vap/backend/internal/sigverify"
	"github.com/vap/backend/internal/store"
)

// Domain errors mapped to API codes by the handlers.
var (
	ErrNotParticipant = errors.New("caller is not a job participant")
	ErrWrongParty     = errors.New("transition reserved for the other party")
	ErrBadSignature   = errors.New("signature verification failed")
	ErrTerminal       = errors.New("job is in a terminal state")
)

// Emitter receives lifecycle events for webhooks and notifications.
type Emitter interface {
	JobEvent(ctx context.Context, eventType string, job *store.Job)
}

// ChainReader is the chain surface the machine needs: identity
// resolution for authorization and raw transactions for the payment
// gate.
type ChainReader interface {
	GetIdentity(ctx context.Context, verusID string) (*chain.IdentityResult, error)
	GetTransaction(ctx context.Context, txid string) (*chain.Transaction, error)
}

// Machine is the job lifecycle coordinator.
type Machine struct {
	store      *store.Store
	chain      ChainReader
	verifier   *sigverify.Verifier
	events     Emitter
	feeAddress string
	logger     *log.Logger
	now        func() time.Time
}

// New builds the machine. feeAddress is the fixed platform fee
// recipient.
func New(st *store.Store, chain ChainReader, verifier *sigverify.Verifier, events Emitter, feeAddress string) *Machine {
	return &Machine{
		store:      st,
		chain:      chain,
		verifier:   verifier,
		events:     events,
		feeAddress: feeAddress,
		logger:     log.New(log.Writer(), "[JOBS] ", log.LstdFlags),
		now:        time.Now,
	}
}

// CreateRequest is the buyer's signed job request.
type CreateRequest struct {
	Buyer       string // verusId as signed (friendly name or address)
	Seller      string
	ServiceID   *int64
	Description string
	Amount      float64
	Currency    string
	Deadline    string
	Terms       *store.DataTerms
	SafeChat    bool
	Timestamp   int64
	Signature   string
}

// Create validates the VAP-JOB signature and inserts the job in status
// requested. A duplicate jobHash returns store.ErrDuplicateJob.
func (m *Machine) Create(ctx context.Context, req *CreateRequest) (*store.Job, error) {
	if !sigverify.TimestampInWindow(req.Timestamp, m.now()) {
		return nil, ErrBadSignature
	}

	fee := FeeAmount(req.Amount, req.Terms)
	msg := sigverify.JobRequestMessage(req.Seller, req.Description, req.Amount, req.Currency,
		fee, req.SafeChat, req.Deadline, req.Timestamp)

	buyerAddr, err := m.verifier.VerifyTemplate(ctx, req.Buyer, msg, req.Signature)
	if err != nil {
		return nil, ErrBadSignature
	}
	sellerAddr, err := m.resolve(ctx, req.Seller)
	if err != nil {
		return nil, err
	}
	if buyerAddr == sellerAddr {
		return nil, fmt.Errorf("buyer and seller are the same identity")
	}

	job := &store.Job{
		ID:               uuid.NewString(),
		JobHash:          JobHash(buyerAddr, sellerAddr, req.Description, req.Amount, req.Timestamp),
		Buyer:            buyerAddr,
		Seller:           sellerAddr,
		ServiceID:        req.ServiceID,
		Description:      req.Description,
		Amount:           req.Amount,
		Currency:         req.Currency,
		FeeAmount:        fee,
		Deadline:         req.Deadline,
		PaymentTerms:     store.TermsPostpay,
		Status:           store.JobRequested,
		RequestSignature: req.Signature,
		SafeChatEnabled:  req.SafeChat,
		RequestedAt:      m.now(),
	}
	terms := req.Terms
	if terms != nil {
		terms.JobID = job.ID
	}
	if err := m.store.CreateJob(ctx, job, terms); err != nil {
		return nil, err
	}

	m.events.JobEvent(ctx, "job.requested", job)
	return job, nil
}

// Accept is the seller's signed acceptance: requested -> accepted.
func (m *Machine) Accept(ctx context.Context, jobID, caller string, ts int64, signature string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	callerAddr, err := m.requireParty(ctx, job, caller, job.Seller)
	if err != nil {
		return nil, err
	}
	if !sigverify.TimestampInWindow(ts, m.now()) {
		return nil, ErrBadSignature
	}

	msg := sigverify.JobAcceptMessage(job.JobHash, job.Buyer, job.Amount, job.Currency, ts)
	if _, err := m.verifier.VerifyTemplate(ctx, callerAddr, msg, signature); err != nil {
		return nil, ErrBadSignature
	}

	err = m.store.TransitionJob(ctx, jobID, store.JobRequested, store.JobAccepted, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET acceptance_signature = $2, accepted_at = now() WHERE id = $1`,
			jobID, signature); err != nil {
			return err
		}
		return m.store.MarkTermsAccepted(ctx, tx, jobID)
	})
	if err != nil {
		return nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.accepted", job)
	return job, nil
}

// Deliver is the seller's signed delivery: in_progress -> delivered.
func (m *Machine) Deliver(ctx context.Context, jobID, caller, deliveryHash, deliveryMessage string, ts int64, signature string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	callerAddr, err := m.requireParty(ctx, job, caller, job.Seller)
	if err != nil {
		return nil, err
	}
	if !sigverify.TimestampInWindow(ts, m.now()) {
		return nil, ErrBadSignature
	}

	msg := sigverify.JobDeliverMessage(job.JobHash, deliveryHash, ts)
	if _, err := m.verifier.VerifyTemplate(ctx, callerAddr, msg, signature); err != nil {
		return nil, ErrBadSignature
	}

	err = m.store.TransitionJob(ctx, jobID, store.JobInProgress, store.JobDelivered, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET delivery_signature = $2, delivery_hash = $3, delivery_message = $4, delivered_at = now()
			WHERE id = $1`, jobID, signature, deliveryHash, deliveryMessage)
		return err
	})
	if err != nil {
		return nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.delivered", job)
	return job, nil
}

// Complete is the buyer's signed confirmation: delivered -> completed.
func (m *Machine) Complete(ctx context.Context, jobID, caller string, ts int64, signature string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	callerAddr, err := m.requireParty(ctx, job, caller, job.Buyer)
	if err != nil {
		return nil, err
	}
	if !sigverify.TimestampInWindow(ts, m.now()) {
		return nil, ErrBadSignature
	}

	msg := sigverify.JobCompleteMessage(job.JobHash, ts)
	if _, err := m.verifier.VerifyTemplate(ctx, callerAddr, msg, signature); err != nil {
		return nil, ErrBadSignature
	}

	err = m.store.TransitionJob(ctx, jobID, store.JobDelivered, store.JobCompleted, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET completion_signature = $2, completed_at = now(), closed_at = now()
			WHERE id = $1`, jobID, signature)
		return err
	})
	if err != nil {
		return nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.completed", job)
	return job, nil
}

// Cancel is buyer-only and only from requested.
func (m *Machine) Cancel(ctx context.Context, jobID, caller string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	// Idempotent once cancelled.
	if job.Status == store.JobCancelled {
		return job, nil
	}
	if _, err := m.requireParty(ctx, job, caller, job.Buyer); err != nil {
		return nil, err
	}

	err = m.store.TransitionJob(ctx, jobID, store.JobRequested, store.JobCancelled, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET closed_at = now() WHERE id = $1`, jobID)
		return err
	})
	if err != nil {
		return nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.cancelled", job)
	return job, nil
}

// Dispute moves any non-terminal job to disputed. Either party may
// raise it; it is idempotent once the job is disputed or cancelled.
func (m *Machine) Dispute(ctx context.Context, jobID, caller, reason string, ts int64, signature string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	callerAddr, err := m.resolve(ctx, caller)
	if err != nil {
		return nil, err
	}
	if !job.Participant(callerAddr) {
		return nil, ErrNotParticipant
	}
	if job.Status == store.JobDisputed || job.Status == store.JobCancelled {
		return job, nil
	}
	if job.Status == store.JobCompleted {
		return nil, ErrTerminal
	}
	if !sigverify.TimestampInWindow(ts, m.now()) {
		return nil, ErrBadSignature
	}

	msg := sigverify.JobDisputeMessage(job.JobHash, reason, ts)
	if _, err := m.verifier.VerifyTemplate(ctx, callerAddr, msg, signature); err != nil {
		return nil, ErrBadSignature
	}

	err = m.store.TransitionJob(ctx, jobID, job.Status, store.JobDisputed, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE jobs SET dispute_reason = $2, disputed_by = $3 WHERE id = $1`,
			jobID, reason, callerAddr)
		return err
	})
	if err != nil {
		return nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.disputed", job)
	return job, nil
}

// Attest records the seller's signed deletion attestation; allowed only
// after completion, at most once, verifying variant.
func (m *Machine) Attest(ctx context.Context, jobID, caller string, ts int64, signature string) (*store.DeletionAttestation, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	callerAddr, err := m.requireParty(ctx, job, caller, job.Seller)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobCompleted {
		return nil, store.ErrConflict
	}
	if !sigverify.TimestampInWindow(ts, m.now()) {
		return nil, ErrBadSignature
	}

	msg := sigverify.DeletionAttestationMessage(job.JobHash, ts)
	if _, err := m.verifier.VerifyTemplate(ctx, callerAddr, msg, signature); err != nil {
		return nil, ErrBadSignature
	}

	att := &store.DeletionAttestation{
		JobID:             jobID,
		Seller:            callerAddr,
		Signature:         signature,
		SignatureVerified: true,
		AttestedAt:        m.now(),
	}
	if err := m.store.CreateAttestation(ctx, att); err != nil {
		return nil, err
	}
	m.events.JobEvent(ctx, "job.attestation", job)
	return att, nil
}

// requireParty resolves the caller and checks they are the expected
// party of the job. Non-participants read as 403, the wrong participant
// as the same; the distinction stays in the error for logs.
func (m *Machine) requireParty(ctx context.Context, job *store.Job, caller, expected string) (string, error) {
	addr, err := m.resolve(ctx, caller)
	if err != nil {
		return "", err
	}
	if !job.Participant(addr) {
		return "", ErrNotParticipant
	}
	if addr != expected {
		return "", ErrWrongParty
	}
	return addr, nil
}

func (m *Machine) resolve(ctx context.Context, verusID string) (string, error) {
	res, err := m.chain.GetIdentity(ctx, verusID)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", verusID, err)
	}
	if res.Identity.Revoked() {
		return "", fmt.Errorf("identity %s is revoked", verusID)
	}
	if res.Identity.IdentityAddress == "" {
		return "", fmt.Errorf("identity %s has no address", verusID)
	}
	return res.Identity.IdentityAddress, nil
}
