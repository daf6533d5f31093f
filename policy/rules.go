package policy

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/changegate/changegate/types"
)

// Severity names the outcome a rule produces when its expression does
// not hold for a proposal.
type Severity string

const (
	SeverityWarn Severity = "warn"
	SeverityFail Severity = "fail"
)

// Outcome maps the severity to the policy outcome it produces
func (s Severity) Outcome() types.PolicyOutcome {
	if s == SeverityFail {
		return types.OutcomeFail
	}
	return types.OutcomeWarn
}

// Valid reports whether the severity is known
func (s Severity) Valid() bool {
	return s == SeverityWarn || s == SeverityFail
}

// Rule is one declarative check over a change proposal. Expr is a CEL
// expression over the input map; a rule passes when it evaluates true.
type Rule struct {
	Name     string   `yaml:"name"`
	Expr     string   `yaml:"expr"`
	Severity Severity `yaml:"severity"`
	Message  string   `yaml:"message"`
}

// RuleSet is a loadable collection of rules
type RuleSet struct {
	Version int    `yaml:"version"`
	Rules   []Rule `yaml:"rules"`
}

// LoadRuleSet reads rules from a yaml file
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set %s: %w", path, err)
	}

	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set %s: %w", path, err)
	}

	if err := rs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rule set %s: %w", path, err)
	}

	return &rs, nil
}

// Validate rejects rule sets with unnamed, duplicate or unexpressed rules
func (rs *RuleSet) Validate() error {
	seen := make(map[string]bool, len(rs.Rules))
	for i, rule := range rs.Rules {
		if rule.Name == "" {
			return fmt.Errorf("rule %d has no name", i)
		}
		if seen[rule.Name] {
			return fmt.Errorf("duplicate rule name %q", rule.Name)
		}
		seen[rule.Name] = true
		if rule.Expr == "" {
			return fmt.Errorf("rule %q has no expression", rule.Name)
		}
		if rule.Severity != "" && !rule.Severity.Valid() {
			return fmt.Errorf("rule %q has unknown severity %q", rule.Name, rule.Severity)
		}
	}
	return nil
}
