package safechat

import (
	"context"
	"fmt"
	"os"
	"regexp"

	yaml "gopkg.in/yaml.v2"
)

// LocalScanner runs an operator-supplied ruleset in process. It is the
// same engine as the inline fallback with rules loaded from a YAML file
// instead of compiled in, for deployments that cannot reach a remote
// scanner but want more coverage than the built-in floor.
type LocalScanner struct {
	inbound  []fallbackRule
	outbound []fallbackRule
}

type ruleFile struct {
	Inbound  []ruleSpec `yaml:"inbound"`
	Outbound []ruleSpec `yaml:"outbound"`
}

type ruleSpec struct {
	Pattern  string  `yaml:"pattern"`
	Score    float64 `yaml:"score"`
	Type     string  `yaml:"type"`
	Severity string  `yaml:"severity"`
}

// NewLocalScanner loads a ruleset from path.
func NewLocalScanner(path string) (*LocalScanner, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safechat: read ruleset: %w", err)
	}
	var f ruleFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("safechat: parse ruleset: %w", err)
	}

	s := &LocalScanner{}
	if s.inbound, err = compileRules(f.Inbound); err != nil {
		return nil, err
	}
	if s.outbound, err = compileRules(f.Outbound); err != nil {
		return nil, err
	}
	if len(s.inbound) == 0 && len(s.outbound) == 0 {
		return nil, fmt.Errorf("safechat: ruleset %s has no rules", path)
	}
	return s, nil
}

func compileRules(specs []ruleSpec) ([]fallbackRule, error) {
	rules := make([]fallbackRule, 0, len(specs))
	for _, sp := range specs {
		re, err := regexp.Compile(sp.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safechat: rule %q: %w", sp.Pattern, err)
		}
		if sp.Score < 0 || sp.Score > 1 {
			return nil, fmt.Errorf("safechat: rule %q: score %v out of range", sp.Pattern, sp.Score)
		}
		sev := sp.Severity
		if sev == "" {
			sev = "medium"
		}
		rules = append(rules, fallbackRule{re: re, score: sp.Score, flagType: sp.Type, severity: sev})
	}
	return rules, nil
}

func (s *LocalScanner) ScanInbound(_ context.Context, content string) (*Result, error) {
	return applyRules(content, s.inbound), nil
}

func (s *LocalScanner) ScanOutbound(_ context.Context, content string) (*Result, error) {
	return applyRules(content, s.outbound), nil
}
