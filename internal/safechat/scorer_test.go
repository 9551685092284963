package safechat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestScorer(start time.Time) (*SessionScorer, *time.Time) {
	now := start
	s := NewSessionScorer()
	s.now = func() time.Time { return now }
	return s, &now
}

func TestScorerCrescendo(t *testing.T) {
	s, now := newTestScorer(time.Unix(1700000000, 0))

	// Five outbound warnings spread over 30 minutes. Each passes the
	// single-message thresholds; together they cross sum 2.0 with five
	// entries above 0.3.
	scores := []float64{0.35, 0.4, 0.45, 0.5, 0.5}
	var escalated bool
	for i, sc := range scores {
		*now = now.Add(6 * time.Minute)
		escalated = s.Record("iSeller", "job-1", sc)
		if i < len(scores)-1 {
			assert.False(t, escalated, "entry %d should not escalate", i)
		}
	}
	assert.True(t, escalated)
}

func TestScorerSumAloneInsufficient(t *testing.T) {
	s, _ := newTestScorer(time.Unix(1700000000, 0))

	// Two hot messages reach the sum but not the flagged count.
	assert.False(t, s.Record("a", "j", 1.0))
	assert.False(t, s.Record("a", "j", 1.0))
}

func TestScorerFlagsAloneInsufficient(t *testing.T) {
	s, _ := newTestScorer(time.Unix(1700000000, 0))

	for i := 0; i < 5; i++ {
		assert.False(t, s.Record("a", "j", 0.35))
	}
}

func TestScorerWindowExpiry(t *testing.T) {
	s, now := newTestScorer(time.Unix(1700000000, 0))

	s.Record("a", "j", 0.5)
	s.Record("a", "j", 0.5)
	s.Record("a", "j", 0.5)

	// Old entries fall out of the 1 hour window; the next record alone
	// cannot escalate.
	*now = now.Add(2 * time.Hour)
	assert.False(t, s.Record("a", "j", 0.5))
}

func TestScorerEntryCap(t *testing.T) {
	s, now := newTestScorer(time.Unix(1700000000, 0))

	for i := 0; i < 20; i++ {
		*now = now.Add(time.Second)
		s.Record("a", "j", 0.0)
	}
	el := s.sessions["a|j"]
	assert.Len(t, el.Value.(*session).entries, scorerMaxEntries)
}

func TestScorerLRUEviction(t *testing.T) {
	s, _ := newTestScorer(time.Unix(1700000000, 0))

	for i := 0; i < scorerMaxSessions+5; i++ {
		s.Record(fmt.Sprintf("sender-%d", i), "j", 0.1)
	}
	assert.Equal(t, scorerMaxSessions, s.Len())
	// The oldest sessions were evicted.
	_, ok := s.sessions["sender-0|j"]
	assert.False(t, ok)
}

func TestScorerSessionsIndependent(t *testing.T) {
	s, _ := newTestScorer(time.Unix(1700000000, 0))

	s.Record("a", "j1", 0.5)
	s.Record("a", "j1", 0.5)
	s.Record("a", "j1", 0.5)
	// Same sender, different job: fresh session.
	assert.False(t, s.Record("a", "j2", 0.5))
}

func TestScorerReset(t *testing.T) {
	s, _ := newTestScorer(time.Unix(1700000000, 0))

	s.Record("a", "j", 0.5)
	s.Reset("a", "j")
	assert.Equal(t, 0, s.Len())
}
