package jobs

import (
	"context"
	"fmt"

	"github.com/vap/backend/internal/store"
)

// minConfirmations is the depth at which a payment counts as verified.
const minConfirmations = 6

// amountTolerance allows 1% slack between the expected amount and the
// on-chain output, covering rounding in wallet software.
const amountTolerance = 0.01

// PaymentOutcome reports how a submitted txid was classified. The txid
// is always recorded; only Verified gates nothing further, the note is
// advisory for the parties and the dispute trail.
type PaymentOutcome struct {
	Verified bool
	Note     string
}

// RecordPayment records the buyer's payment txid on an accepted job.
// Verification is best effort and never blocks recording: a txid the
// node cannot see yet is stored unverified with a note.
func (m *Machine) RecordPayment(ctx context.Context, jobID, caller, txid string) (*store.Job, *PaymentOutcome, error) {
	return m.recordLeg(ctx, jobID, caller, txid, "payment")
}

// RecordPlatformFee records the buyer's platform fee txid.
func (m *Machine) RecordPlatformFee(ctx context.Context, jobID, caller, txid string) (*store.Job, *PaymentOutcome, error) {
	return m.recordLeg(ctx, jobID, caller, txid, "platform_fee")
}

func (m *Machine) recordLeg(ctx context.Context, jobID, caller, txid, column string) (*store.Job, *PaymentOutcome, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := m.requireParty(ctx, job, caller, job.Buyer); err != nil {
		return nil, nil, err
	}
	if job.Status != store.JobAccepted {
		return nil, nil, store.ErrConflict
	}

	var recipient string
	var expected float64
	if column == "payment" {
		recipient, expected = m.payoutAddress(ctx, job.Seller), job.Amount
	} else {
		recipient, expected = m.feeAddress, job.FeeAmount
	}

	outcome := m.classify(ctx, txid, recipient, expected)

	// secondLeg is always requested; the store only advances the job
	// when both txids are present, so the first leg is a no-op there.
	if err := m.store.RecordPaymentTx(ctx, jobID, column, txid, outcome.Verified, outcome.Note, true); err != nil {
		return nil, nil, err
	}

	job, err = m.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	m.events.JobEvent(ctx, "job.payment", job)
	if job.Status == store.JobInProgress {
		m.events.JobEvent(ctx, "job.started", job)
	}
	return job, outcome, nil
}

// payoutAddress resolves where the seller expects to be paid: the
// payout address published on the identity when present, else the
// identity address itself.
func (m *Machine) payoutAddress(ctx context.Context, seller string) string {
	res, err := m.chain.GetIdentity(ctx, seller)
	if err != nil {
		m.logger.Printf("payout lookup %s: %v", seller, err)
		return seller
	}
	if addr := res.Identity.PaymentAddress(); addr != "" {
		return addr
	}
	return seller
}

// classify inspects the transaction and decides verified vs. recorded.
func (m *Machine) classify(ctx context.Context, txid, recipient string, expected float64) *PaymentOutcome {
	tx, err := m.chain.GetTransaction(ctx, txid)
	if err != nil {
		m.logger.Printf("payment %s: lookup failed: %v", txid, err)
		return &PaymentOutcome{Note: "transaction not found on chain; recorded unverified"}
	}

	minAmount := expected * (1 - amountTolerance)
	if !tx.PaysAtLeast(recipient, minAmount) {
		return &PaymentOutcome{Note: fmt.Sprintf("no output pays %s at least %.8f; recorded unverified", recipient, minAmount)}
	}

	switch {
	case tx.Confirmations >= minConfirmations:
		return &PaymentOutcome{Verified: true}
	case tx.Confirmations >= 1:
		return &PaymentOutcome{Note: fmt.Sprintf("%d of %d confirmations; recorded, pending verification", tx.Confirmations, minConfirmations)}
	default:
		return &PaymentOutcome{Note: "unconfirmed; recorded, pending verification"}
	}
}

// ReverifyPayments rechecks unverified legs on accepted jobs. The
// indexer calls this on a timer so that a txid submitted at zero
// confirmations eventually flips to verified without buyer action.
func (m *Machine) ReverifyPayments(ctx context.Context, job *store.Job) error {
	if job.Status != store.JobAccepted {
		return nil
	}
	advance := false
	if job.PaymentTxid != "" && !job.PaymentVerified {
		out := m.classify(ctx, job.PaymentTxid, m.payoutAddress(ctx, job.Seller), job.Amount)
		if out.Verified {
			if err := m.store.RecordPaymentTx(ctx, job.ID, "payment", job.PaymentTxid, true, "", true); err != nil {
				return err
			}
			advance = true
		}
	}
	if job.PlatformFeeTxid != "" && !job.PlatformFeeVerified {
		out := m.classify(ctx, job.PlatformFeeTxid, m.feeAddress, job.FeeAmount)
		if out.Verified {
			if err := m.store.RecordPaymentTx(ctx, job.ID, "platform_fee", job.PlatformFeeTxid, true, "", true); err != nil {
				return err
			}
			advance = true
		}
	}
	if advance {
		fresh, err := m.store.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if fresh.Status == store.JobInProgress {
			m.events.JobEvent(ctx, "job.started", fresh)
		}
	}
	return nil
}
