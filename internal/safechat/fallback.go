package safechat

import (
	"context"
	"regexp"
	"strings"
)

// fallbackRule is one pattern the inline scanner checks.
type fallbackRule struct {
	re       *regexp.Regexp
	score    float64
	flagType string
	severity string
}

// The inline ruleset is deliberately small: it is the floor that keeps
// scanning alive while the remote provider is down, not a replacement
// for it. Patterns target the highest-confidence attack shapes only.
var inboundRules = []fallbackRule{
	{regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) (instructions|prompts)`), 0.9, "prompt_injection", "high"},
	{regexp.MustCompile(`(?i)you are now (DAN|in developer mode|unfiltered)`), 0.9, "jailbreak", "high"},
	{regexp.MustCompile(`(?i)(reveal|show|print|repeat) (your|the) (system prompt|instructions|initial prompt)`), 0.85, "prompt_exfiltration", "high"},
	{regexp.MustCompile(`(?i)disregard (your|all) (guidelines|rules|training)`), 0.8, "jailbreak", "high"},
	{regexp.MustCompile(`(?i)pretend (you are|to be) (a|an) (unrestricted|uncensored)`), 0.7, "jailbreak", "medium"},
	{regexp.MustCompile(`(?i)\bbase64\b.{0,40}\bdecode\b`), 0.5, "obfuscation", "medium"},
}

var outboundRules = []fallbackRule{
	{regexp.MustCompile(`(?i)(send|transfer) (your|the) (funds|coins|payment) to [a-zA-Z0-9]{20,}`), 0.9, "payment_redirect", "critical"},
	{regexp.MustCompile(`(?i)my (system prompt|instructions) (is|are|say)`), 0.8, "prompt_leak", "high"},
	{regexp.MustCompile(`(?i)(private key|seed phrase|recovery phrase)`), 0.7, "credential_probe", "high"},
	{regexp.MustCompile(`(?i)click (here|this link) (immediately|now|urgently)`), 0.5, "manipulation", "medium"},
	{regexp.MustCompile(`https?://[^\s]*@`), 0.5, "suspicious_link", "medium"},
}

// InlineScanner is the in-process fallback. It never errors.
type InlineScanner struct{}

// NewInlineScanner builds the zero-dependency fallback scanner.
func NewInlineScanner() *InlineScanner { return &InlineScanner{} }

func (s *InlineScanner) ScanInbound(_ context.Context, content string) (*Result, error) {
	return applyRules(content, inboundRules), nil
}

func (s *InlineScanner) ScanOutbound(_ context.Context, content string) (*Result, error) {
	return applyRules(content, outboundRules), nil
}

func applyRules(content string, rules []fallbackRule) *Result {
	res := &Result{Classification: "clean"}
	for _, r := range rules {
		if r.re.MatchString(content) {
			if r.score > res.Score {
				res.Score = r.score
				res.Classification = r.flagType
			}
			res.Flags = append(res.Flags, Flag{Type: r.flagType, Severity: r.severity})
		}
	}
	// Very long repeated content is a cheap crescendo signal even
	// without a pattern hit.
	if res.Score < 0.3 && len(content) > 8192 && repetitionRatio(content) > 0.6 {
		res.Score = 0.3
		res.Classification = "repetition"
		res.Flags = append(res.Flags, Flag{Type: "repetition", Severity: "low"})
	}
	return res
}

func repetitionRatio(content string) float64 {
	words := strings.Fields(content)
	if len(words) < 20 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[w] = struct{}{}
	}
	return 1 - float64(len(seen))/float64(len(words))
}
