package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vap/backend/internal/store"
)

func terms(training, thirdParty, attestation bool) *store.DataTerms {
	return &store.DataTerms{
		Retention:                  store.RetentionJob,
		AllowTraining:              training,
		AllowThirdParty:            thirdParty,
		RequireDeletionAttestation: attestation,
	}
}

func TestFeeRateGrid(t *testing.T) {
	cases := []struct {
		name string
		t    *store.DataTerms
		want float64
	}{
		{"strictest terms pay the base rate", terms(false, false, true), 0.05},
		{"training discount", terms(true, false, true), 0.045},
		{"third party discount", terms(false, true, true), 0.045},
		{"no attestation discount", terms(false, false, false), 0.0475},
		{"training and third party", terms(true, true, true), 0.04},
		{"training without attestation", terms(true, false, false), 0.0425},
		{"third party without attestation", terms(false, true, false), 0.0425},
		{"all discounts hit the 25% cap", terms(true, true, false), 0.0375},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, FeeRate(tc.t), 1e-12)
		})
	}
}

func TestFeeRateNilTerms(t *testing.T) {
	assert.Equal(t, BaseFeeRate, FeeRate(nil))
}

func TestFeeAmountRounding(t *testing.T) {
	// 1/3 VRSC at base rate does not terminate in binary; the stored
	// fee must land exactly on a satoshi boundary.
	fee := FeeAmount(0.33333333, nil)
	assert.Equal(t, 0.01666667, fee)
}

func TestFeeAmountDeterministic(t *testing.T) {
	tm := terms(true, true, false)
	a := FeeAmount(123.456789, tm)
	b := FeeAmount(123.456789, tm)
	assert.Equal(t, a, b)
}
