package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobHashStable(t *testing.T) {
	a := JobHash("iBuyer", "iSeller", "summarize a paper", 1.5, 1700000000)
	b := JobHash("iBuyer", "iSeller", "summarize a paper", 1.5, 1700000000)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32) // 128 bits hex
}

func TestJobHashSensitivity(t *testing.T) {
	base := JobHash("iBuyer", "iSeller", "summarize a paper", 1.5, 1700000000)
	assert.NotEqual(t, base, JobHash("iBuyer2", "iSeller", "summarize a paper", 1.5, 1700000000))
	assert.NotEqual(t, base, JobHash("iBuyer", "iSeller", "summarize a paper", 1.50001, 1700000000))
	assert.NotEqual(t, base, JobHash("iBuyer", "iSeller", "summarize a paper", 1.5, 1700000001))
}

func TestJobHashAmountFormatting(t *testing.T) {
	// Whole amounts hash as "1", not "1.0": the signing client and the
	// server must agree on %v formatting.
	a := JobHash("b", "s", "d", 1, 1)
	b := JobHash("b", "s", "d", 1.0, 1)
	assert.Equal(t, a, b)
}
