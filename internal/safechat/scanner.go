// Package safechat is the content-safety capability that scans both
// directions of chat traffic. The chat pipeline calls through the
// Scanner interface only; which provider answers (remote HTTP, local
// module, inline regex fallback) is configuration.
package safechat

import "context"

// Flag is one typed finding attached to a scan result.
type Flag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Detail   string `json:"detail,omitempty"`
}

// Result is a scan verdict. Score is in [0,1].
type Result struct {
	Score          float64 `json:"score"`
	Classification string  `json:"classification"`
	Flags          []Flag  `json:"flags,omitempty"`
}

// Scanner scans chat content. Inbound is buyer-to-agent traffic
// (prompt injection, jailbreaks); outbound is agent-to-buyer traffic
// (data exfiltration, manipulation). Implementations must not return
// an error for unsafe content; unsafe is a high score, errors are
// transport problems.
type Scanner interface {
	ScanInbound(ctx context.Context, content string) (*Result, error)
	ScanOutbound(ctx context.Context, content string) (*Result, error)
}

// Decision thresholds. Inbound rejects hostile content outright;
// outbound prefers holding for review over dropping agent work.
const (
	InboundRejectScore = 0.8
	InboundWarnScore   = 0.4
	OutboundHoldScore  = 0.6
	OutboundWarnScore  = 0.3
)

// Verdicts for a scanned message.
const (
	VerdictAllow  = "allow"
	VerdictWarn   = "warn"
	VerdictReject = "reject"
	VerdictHold   = "hold"
)

// JudgeInbound maps an inbound score to a verdict.
func JudgeInbound(score float64) string {
	switch {
	case score >= InboundRejectScore:
		return VerdictReject
	case score >= InboundWarnScore:
		return VerdictWarn
	default:
		return VerdictAllow
	}
}

// JudgeOutbound maps an outbound score to a verdict.
func JudgeOutbound(score float64) string {
	switch {
	case score >= OutboundHoldScore:
		return VerdictHold
	case score >= OutboundWarnScore:
		return VerdictWarn
	default:
		return VerdictAllow
	}
}
