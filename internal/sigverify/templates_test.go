package sigverify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobRequestMessage(t *testing.T) {
	got := JobRequestMessage("seller@", "translate a document", 10, "VRSC", 0.5, true, "2026-09-01", 1700000000)
	assert.Equal(t,
		"VAP-JOB|To:seller@|Desc:translate a document|Amt:10 VRSC|Fee:0.5000 VRSC|SafeChat:yes|Deadline:2026-09-01|Ts:1700000000|I request this job and agree to pay upon completion.",
		got)
}

func TestJobRequestMessageDefaults(t *testing.T) {
	got := JobRequestMessage("seller@", "x", 1.5, "VRSC", 0.075, false, "", 1)
	assert.Contains(t, got, "SafeChat:no")
	assert.Contains(t, got, "Deadline:None")
	assert.Contains(t, got, "Amt:1.5 VRSC")
}

func TestLifecycleTemplatesAreStable(t *testing.T) {
	// Stored fields must reconstruct the signed bytes exactly; these
	// strings are load-bearing and must never drift.
	assert.Equal(t,
		"VAP-ACCEPT|Job:h1|Buyer:buyer@|Amt:10 VRSC|Ts:2|I accept this job and commit to delivering the work.",
		JobAcceptMessage("h1", "buyer@", 10, "VRSC", 2))
	assert.Equal(t,
		"VAP-DELIVER|Job:h1|Delivery:d1|Ts:3|I have delivered the work for this job.",
		JobDeliverMessage("h1", "d1", 3))
	assert.Equal(t,
		"VAP-COMPLETE|Job:h1|Ts:4|I confirm the work has been delivered satisfactorily.",
		JobCompleteMessage("h1", 4))
	assert.Equal(t,
		"VAP-DISPUTE|Job:h1|Reason:late|Ts:5|I am raising a dispute on this job.",
		JobDisputeMessage("h1", "late", 5))
	assert.Equal(t,
		"VAP-REVIEW|Agent:a@|Job:h1|Rating:5|Msg:great|Ts:6",
		ReviewMessage("a@", "h1", 5, "great", 6))
}

func TestDeletionAttestationMessage(t *testing.T) {
	got := DeletionAttestationMessage("h1", 7)
	assert.Contains(t, got, "VAP-DELETE|Job:h1|Ts:7|")
	assert.Contains(t, got, "binding commitment")
}
