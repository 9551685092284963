package jobs

import (
	"math"

	"github.com/vap/backend/internal/store"
)

// BaseFeeRate is the platform fee before data-terms discounts.
const BaseFeeRate = 0.05

// maxDiscount caps the combined discount at 25% of the fee.
const maxDiscount = 0.25

// FeeRate computes the effective platform fee rate for a job's data
// terms. Pure: the same terms always yield the same rate. The buyer
// signs the exact numeric fee this produces, and the on-chain fee
// payment is verified against the same number.
//
// Discounts are fractions of the fee itself: allowTraining -10%,
// allowThirdParty -10%, waiving the deletion attestation -5%.
func FeeRate(terms *store.DataTerms) float64 {
	if terms == nil {
		return BaseFeeRate
	}
	discount := 0.0
	if terms.AllowTraining {
		discount += 0.10
	}
	if terms.AllowThirdParty {
		discount += 0.10
	}
	if !terms.RequireDeletionAttestation {
		discount += 0.05
	}
	if discount > maxDiscount {
		discount = maxDiscount
	}
	return BaseFeeRate * (1 - discount)
}

// FeeAmount is the platform fee for a job amount under the given terms,
// rounded to 8 decimal places (one satoshi).
func FeeAmount(amount float64, terms *store.DataTerms) float64 {
	return math.Round(amount*FeeRate(terms)*1e8) / 1e8
}
