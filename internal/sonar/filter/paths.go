// Package filter decides which requests are recorded and masks secrets in
// what is recorded.
package filter

import (
	"regexp"
	"strings"
)

// RegexSentinel marks a rule whose remainder is a regular expression.
const RegexSentinel = "r"

// RuleKind classifies a compiled exclusion rule.
type RuleKind string

const (
	RuleRegex   RuleKind = "regex"
	RuleLiteral RuleKind = "literal"
)

// Rule is one compiled exclusion rule.
type Rule struct {
	Kind    RuleKind `json:"kind"`
	Pattern string   `json:"pattern"`
	re      *regexp.Regexp
}

func (r Rule) matches(path string) bool {
	if r.re != nil {
		loc := r.re.FindStringIndex(path)
		return loc != nil && loc[0] == 0
	}
	return strings.HasPrefix(path, r.Pattern)
}

// PathFilter holds exclusion rules compiled once at startup.
type PathFilter struct {
	rules []Rule
}

// CompilePaths classifies each rule. A rule starting with "r" is compiled as
// a regexp from the rest of the string; if that fails the whole original
// string is kept as a literal prefix instead.
func CompilePaths(rules []string) *PathFilter {
	pf := &PathFilter{rules: make([]Rule, 0, len(rules))}
	for _, raw := range rules {
		if strings.HasPrefix(raw, RegexSentinel) {
			if re, err := regexp.Compile(raw[len(RegexSentinel):]); err == nil {
				pf.rules = append(pf.rules, Rule{Kind: RuleRegex, Pattern: re.String(), re: re})
				continue
			}
		}
		pf.rules = append(pf.rules, Rule{Kind: RuleLiteral, Pattern: raw})
	}
	return pf
}

// ShouldExclude reports whether any rule matches path. Regex rules must match
// at the start of the path. Literal rules are plain string prefixes, not path
// segments: "/admin" excludes both "/admin/x" and "/adminx".
func (pf *PathFilter) ShouldExclude(path string) bool {
	if pf == nil {
		return false
	}
	for _, rule := range pf.rules {
		if rule.matches(path) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the compiled rules.
func (pf *PathFilter) Rules() []Rule {
	if pf == nil {
		return nil
	}
	return append([]Rule(nil), pf.rules...)
}
