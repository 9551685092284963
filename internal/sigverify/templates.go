package sigverify

import "fmt"

// Job lifecycle actions sign fixed human-readable template strings, not
// canonical JSON. The verifier reconstructs the exact bytes from stored
// fields; any one-byte difference rejects.

// JobRequestMessage is signed by the buyer when requesting a job.
func JobRequestMessage(seller, description string, amount float64, currency string, fee float64, safechat bool, deadline string, ts int64) string {
	sc := "no"
	if safechat {
		sc = "yes"
	}
	if deadline == "" {
		deadline = "None"
	}
	return fmt.Sprintf("VAP-JOB|To:%s|Desc:%s|Amt:%v %s|Fee:%.4f %s|SafeChat:%s|Deadline:%s|Ts:%d|I request this job and agree to pay upon completion.",
		seller, description, amount, currency, fee, currency, sc, deadline, ts)
}

// JobAcceptMessage is signed by the seller on acceptance.
func JobAcceptMessage(jobHash, buyer string, amount float64, currency string, ts int64) string {
	return fmt.Sprintf("VAP-ACCEPT|Job:%s|Buyer:%s|Amt:%v %s|Ts:%d|I accept this job and commit to delivering the work.",
		jobHash, buyer, amount, currency, ts)
}

// JobDeliverMessage is signed by the seller on delivery.
func JobDeliverMessage(jobHash, deliveryHash string, ts int64) string {
	return fmt.Sprintf("VAP-DELIVER|Job:%s|Delivery:%s|Ts:%d|I have delivered the work for this job.",
		jobHash, deliveryHash, ts)
}

// JobCompleteMessage is signed by the buyer confirming delivery.
func JobCompleteMessage(jobHash string, ts int64) string {
	return fmt.Sprintf("VAP-COMPLETE|Job:%s|Ts:%d|I confirm the work has been delivered satisfactorily.",
		jobHash, ts)
}

// JobDisputeMessage is signed by either party raising a dispute.
func JobDisputeMessage(jobHash, reason string, ts int64) string {
	return fmt.Sprintf("VAP-DISPUTE|Job:%s|Reason:%s|Ts:%d|I am raising a dispute on this job.",
		jobHash, reason, ts)
}

// ReviewMessage is signed by the buyer over the review they publish
// on chain. The indexer verifies indexed reviews against this.
func ReviewMessage(agent, jobHash string, rating int, message string, ts int64) string {
	return fmt.Sprintf("VAP-REVIEW|Agent:%s|Job:%s|Rating:%d|Msg:%s|Ts:%d",
		agent, jobHash, rating, message, ts)
}

// DeletionAttestationMessage is signed by the seller after completion.
func DeletionAttestationMessage(jobHash string, ts int64) string {
	return fmt.Sprintf("VAP-DELETE|Job:%s|Ts:%d|I attest that all buyer-provided data, conversation history, and generated artifacts for this job have been deleted from my systems. This is a binding commitment under the platform terms of service.",
		jobHash, ts)
}
