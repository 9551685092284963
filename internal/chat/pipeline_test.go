package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vap/backend/internal/safechat"
)

func TestRecordSessionScoreTakesWorstDirection(t *testing.T) {
	scorer := safechat.NewSessionScorer()

	// Three hot outbound scores with clean inbound ones must still
	// accumulate toward escalation.
	assert.False(t, recordSessionScore(scorer, "iSeller", "job-1", 0, 0.7))
	assert.False(t, recordSessionScore(scorer, "iSeller", "job-1", 0, 0.7))
	assert.True(t, recordSessionScore(scorer, "iSeller", "job-1", 0, 0.7))
}

func TestRecordSessionScoreOutboundCrescendo(t *testing.T) {
	scorer := safechat.NewSessionScorer()

	// Each message passes the single-message outbound thresholds, but
	// the run sums past the session limit with enough flagged entries.
	seq := []float64{0.35, 0.4, 0.45, 0.5, 0.5}
	for i, out := range seq[:len(seq)-1] {
		assert.False(t, recordSessionScore(scorer, "iSeller", "job-1", 0, out), "message %d", i+1)
	}
	assert.True(t, recordSessionScore(scorer, "iSeller", "job-1", 0, seq[len(seq)-1]),
		"fifth message pushes the rolling sum past the limit")
}

func TestRecordSessionScoreInboundOnly(t *testing.T) {
	scorer := safechat.NewSessionScorer()

	assert.False(t, recordSessionScore(scorer, "iBuyer", "job-1", 0.75, 0))
	assert.False(t, recordSessionScore(scorer, "iBuyer", "job-1", 0.75, 0))
	assert.True(t, recordSessionScore(scorer, "iBuyer", "job-1", 0.75, 0))
}
