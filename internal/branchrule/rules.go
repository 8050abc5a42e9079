// Package branchrule evaluates the branch allow-list of a pipeline
// definition.
//
// A rule is either an exact branch name ("master") or, when wrapped in
// slashes, a regular expression ("/^v\d+\.\d+\.\d+(-\S*)?$/"). Evaluation
// applies `only` before `except`: the branch must match an only rule when
// any exist, and must match no except rule when any exist. A definition
// without a branches section allows every branch.
package branchrule

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is one compiled allow-list entry.
type Rule struct {
	// Raw is the entry exactly as written in the definition file.
	Raw string

	// pattern is non-nil for slash-wrapped regular expression rules.
	pattern *regexp.Regexp
}

// IsPattern reports whether the rule is a regular expression rule.
func (r Rule) IsPattern() bool {
	return r.pattern != nil
}

// Match reports whether branch satisfies the rule. Name rules compare
// exactly; pattern rules match anywhere unless the expression anchors
// itself.
func (r Rule) Match(branch string) bool {
	if r.pattern != nil {
		return r.pattern.MatchString(branch)
	}
	return r.Raw == branch
}

// ParseRule compiles one allow-list entry. Entries wrapped in slashes are
// compiled as regular expressions; everything else is an exact name.
func ParseRule(entry string) (Rule, error) {
	if entry == "" {
		return Rule{}, fmt.Errorf("branch rule must not be empty")
	}

	if len(entry) >= 2 && strings.HasPrefix(entry, "/") && strings.HasSuffix(entry, "/") {
		expr := entry[1 : len(entry)-1]
		pattern, err := regexp.Compile(expr)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid pattern %s: %v", entry, err)
		}
		return Rule{Raw: entry, pattern: pattern}, nil
	}

	return Rule{Raw: entry}, nil
}

// ParseRules compiles a list of entries, failing on the first bad one.
func ParseRules(entries []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule, err := ParseRule(entry)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Decision is the outcome of evaluating a branch against the allow-list.
type Decision struct {
	// Allowed reports whether a build may run for the branch.
	Allowed bool `json:"allowed"`

	// Rule is the entry that determined the outcome. Empty when the
	// outcome is the default (no rules, or no only rule matched).
	Rule string `json:"rule,omitempty"`

	// Reason is a human-readable explanation of the outcome.
	Reason string `json:"reason"`
}

// Decide evaluates branch against the only and except entries. Only is
// applied first: with any only rules present, a branch matching none is
// blocked. Except is applied second: a branch matching any except rule is
// blocked even when an only rule allowed it.
func Decide(only, except []string, branch string) (Decision, error) {
	onlyRules, err := ParseRules(only)
	if err != nil {
		return Decision{}, fmt.Errorf("branches.only: %w", err)
	}
	exceptRules, err := ParseRules(except)
	if err != nil {
		return Decision{}, fmt.Errorf("branches.except: %w", err)
	}

	decision := Decision{
		Allowed: true,
		Reason:  "no branch rules configured",
	}

	if len(onlyRules) > 0 {
		decision = Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("branch %q matches no branches.only entry", branch),
		}
		for _, rule := range onlyRules {
			if rule.Match(branch) {
				decision = Decision{
					Allowed: true,
					Rule:    rule.Raw,
					Reason:  fmt.Sprintf("branch %q matches branches.only entry %s", branch, rule.Raw),
				}
				break
			}
		}
		if !decision.Allowed {
			return decision, nil
		}
	}

	for _, rule := range exceptRules {
		if rule.Match(branch) {
			return Decision{
				Allowed: false,
				Rule:    rule.Raw,
				Reason:  fmt.Sprintf("branch %q matches branches.except entry %s", branch, rule.Raw),
			}, nil
		}
	}

	return decision, nil
}
