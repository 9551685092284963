package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// ErrDuplicateJob is returned when a job with the same content hash
// already exists.
var ErrDuplicateJob = errors.New("duplicate job")

// CreateJob inserts a new job in status requested, together with its
// data terms, inside one transaction.
func (s *Store) CreateJob(ctx context.Context, j *Job, terms *DataTerms) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO jobs (id, job_hash, buyer, seller, service_id, description, amount, currency,
				fee_amount, deadline, payment_terms, status, request_signature, safechat_enabled, requested_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			j.ID, j.JobHash, j.Buyer, j.Seller, j.ServiceID, j.Description, j.Amount, j.Currency,
			j.FeeAmount, j.Deadline, j.PaymentTerms, JobRequested, j.RequestSignature,
			j.SafeChatEnabled, j.RequestedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateJob
			}
			return err
		}
		if terms == nil {
			terms = &DataTerms{JobID: j.ID, Retention: RetentionNone, RequireDeletionAttestation: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO job_data_terms (job_id, retention, allow_training, allow_third_party, require_deletion_attestation)
			VALUES ($1,$2,$3,$4,$5)`,
			j.ID, terms.Retention, terms.AllowTraining, terms.AllowThirdParty, terms.RequireDeletionAttestation)
		return err
	})
}

const jobColumns = `id, job_hash, buyer, seller, service_id, description, amount, currency, fee_amount,
	deadline, payment_terms, status,
	payment_txid, payment_verified, payment_note,
	platform_fee_txid, platform_fee_verified, platform_fee_note,
	request_signature, acceptance_signature, delivery_signature, completion_signature,
	delivery_hash, delivery_message, dispute_reason, disputed_by, safechat_enabled,
	requested_at, accepted_at, started_at, delivered_at, completed_at, closed_at`

func scanJob(row interface{ Scan(...any) error }) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.JobHash, &j.Buyer, &j.Seller, &j.ServiceID, &j.Description,
		&j.Amount, &j.Currency, &j.FeeAmount, &j.Deadline, &j.PaymentTerms, &j.Status,
		&j.PaymentTxid, &j.PaymentVerified, &j.PaymentNote,
		&j.PlatformFeeTxid, &j.PlatformFeeVerified, &j.PlatformFeeNote,
		&j.RequestSignature, &j.AcceptanceSignature, &j.DeliverySignature, &j.CompletionSignature,
		&j.DeliveryHash, &j.DeliveryMessage, &j.DisputeReason, &j.DisputedBy, &j.SafeChatEnabled,
		&j.RequestedAt, &j.AcceptedAt, &j.StartedAt, &j.DeliveredAt, &j.CompletedAt, &j.ClosedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// GetJob loads a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

// GetJobByHash loads a job by its content hash.
func (s *Store) GetJobByHash(ctx context.Context, jobHash string) (*Job, error) {
	return scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_hash = $1`, jobHash))
}

// ListJobsForIdentity pages through jobs where the identity is buyer or
// seller, newest first.
func (s *Store) ListJobsForIdentity(ctx context.Context, identity, status string, limit, offset int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE (buyer = $1 OR seller = $1) AND ($2 = '' OR status = $2)
		ORDER BY requested_at DESC
		LIMIT $3 OFFSET $4`, identity, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListJobsByStatus returns jobs in one status, oldest first, for
// background sweeps.
func (s *Store) ListJobsByStatus(ctx context.Context, status string, limit int) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1
		ORDER BY requested_at
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// jobTransitions is the legal lifecycle graph. Terminal states have no
// exits; disputed is reachable from every non-terminal state.
var jobTransitions = map[string][]string{
	JobRequested:  {JobAccepted, JobCancelled, JobDisputed},
	JobAccepted:   {JobInProgress, JobDisputed},
	JobInProgress: {JobDelivered, JobDisputed},
	JobDelivered:  {JobCompleted, JobDisputed},
	JobCompleted:  nil,
	JobCancelled:  nil,
	JobDisputed:   nil,
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to string) bool {
	for _, next := range jobTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionJob compare-and-swaps the status from expected to next and
// applies the update function's column changes in the same statement
// set. A failed CAS returns ErrConflict, as does an edge outside the
// lifecycle graph.
func (s *Store) TransitionJob(ctx context.Context, id, expected, next string, apply func(tx *sql.Tx) error) error {
	if !CanTransition(expected, next) {
		return ErrConflict
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = $3 WHERE id = $1 AND status = $2`, id, expected, next)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Distinguish missing job from status race.
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}
		if apply != nil {
			return apply(tx)
		}
		return nil
	})
}

// RecordPaymentTx stores a payment txid and its verification outcome.
// When secondLeg is true the job also moves accepted -> in_progress in
// the same transaction, satisfying the dual-payment gate.
func (s *Store) RecordPaymentTx(ctx context.Context, id, column string, txid string, verified bool, note string, secondLeg bool) error {
	var txidCol, verCol, noteCol string
	switch column {
	case "payment":
		txidCol, verCol, noteCol = "payment_txid", "payment_verified", "payment_note"
	case "platform_fee":
		txidCol, verCol, noteCol = "platform_fee_txid", "platform_fee_verified", "platform_fee_note"
	default:
		return errors.New("unknown payment column")
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		// Verified flags are monotonic: once true they never revert.
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET `+txidCol+` = $2, `+verCol+` = (`+verCol+` OR $3), `+noteCol+` = $4
			WHERE id = $1 AND status = $5`,
			id, txid, verified, note, JobAccepted)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConflict
		}
		if secondLeg {
			_, err = tx.ExecContext(ctx, `
				UPDATE jobs SET status = $2, started_at = now()
				WHERE id = $1 AND status = $3 AND payment_txid <> '' AND platform_fee_txid <> ''`,
				id, JobInProgress, JobAccepted)
			return err
		}
		return nil
	})
}

// GetDataTerms loads a job's data policy.
func (s *Store) GetDataTerms(ctx context.Context, jobID string) (*DataTerms, error) {
	t := &DataTerms{}
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, retention, allow_training, allow_third_party, require_deletion_attestation, accepted_by_seller
		FROM job_data_terms WHERE job_id = $1`, jobID).
		Scan(&t.JobID, &t.Retention, &t.AllowTraining, &t.AllowThirdParty,
			&t.RequireDeletionAttestation, &t.AcceptedBySeller)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateDataTerms replaces the data policy for a job still in requested
// status (terms are frozen once accepted).
func (s *Store) UpdateDataTerms(ctx context.Context, t *DataTerms) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE job_data_terms SET retention = $2, allow_training = $3, allow_third_party = $4,
			require_deletion_attestation = $5
		WHERE job_id = $1 AND NOT accepted_by_seller`,
		t.JobID, t.Retention, t.AllowTraining, t.AllowThirdParty, t.RequireDeletionAttestation)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkTermsAccepted is set when the seller accepts the job.
func (s *Store) MarkTermsAccepted(ctx context.Context, tx *sql.Tx, jobID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE job_data_terms SET accepted_by_seller = true WHERE job_id = $1`, jobID)
	return err
}

// CreateAttestation stores the seller's deletion attestation; at most
// one per job.
func (s *Store) CreateAttestation(ctx context.Context, a *DeletionAttestation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deletion_attestations (job_id, seller, signature, signature_verified, attested_at)
		VALUES ($1,$2,$3,$4,$5)`,
		a.JobID, a.Seller, a.Signature, a.SignatureVerified, a.AttestedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetAttestation loads a job's deletion attestation.
func (s *Store) GetAttestation(ctx context.Context, jobID string) (*DeletionAttestation, error) {
	a := &DeletionAttestation{}
	err := s.db.QueryRowContext(ctx, `
		SELECT job_id, seller, signature, signature_verified, attested_at
		FROM deletion_attestations WHERE job_id = $1`, jobID).
		Scan(&a.JobID, &a.Seller, &a.Signature, &a.SignatureVerified, &a.AttestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

// JobStats aggregates outcomes used by the trust engine.
type JobStats struct {
	Completed int
	Disputed  int
	Total     int
	FirstSeen *time.Time
}

// GetJobStats aggregates an agent's job history as seller.
func (s *Store) GetJobStats(ctx context.Context, seller string) (*JobStats, error) {
	st := &JobStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'disputed'),
		       COUNT(*),
		       MIN(requested_at)
		FROM jobs WHERE seller = $1`, seller).
		Scan(&st.Completed, &st.Disputed, &st.Total, &st.FirstSeen)
	return st, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
