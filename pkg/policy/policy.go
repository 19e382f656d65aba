// Package policy implements the policy engine (C11): matching an image
// reference string against an ordered set of glob rules and selecting
// the most specific one, grounded on spec.md section 4.11 (no direct
// equivalent survived distillation into original_source/, since the
// shipped image policy lived in a CRD rather than a flat rule list;
// the matching algorithm below is therefore grounded on
// _examples/sigstore-policy-controller's pattern of compiling
// declarative match rules at load time and scoring them at lookup).
package policy

import (
	"strings"

	glob "github.com/ryanuber/go-glob"

	"github.com/sse-secure-systems/connaisseur/pkg/apperr"
)

// Rule is one policy entry, matched against an image reference string
// and yielding the validator/key/delegation set to apply.
type Rule struct {
	Pattern     string   `yaml:"pattern"`
	Validator   string   `yaml:"validator,omitempty"`
	Key         string   `yaml:"key,omitempty"`
	Delegations []string `yaml:"delegations,omitempty"`
	// Verify false is sugar for routing the image to the built-in
	// static-deny validator regardless of Validator.
	Verify *bool `yaml:"verify,omitempty"`
}

// ValidatorName returns the validator this rule selects, defaulting to
// "default" when unset.
func (r Rule) ValidatorName() string {
	if r.Validator == "" {
		return "default"
	}
	return r.Validator
}

// Denies reports whether the rule's "verify: false" sugar applies.
func (r Rule) Denies() bool {
	return r.Verify != nil && !*r.Verify
}

// File is a policy YAML document: an ordered list of rules.
type File struct {
	Rules []Rule `yaml:"rules"`
}

// Policy is a File compiled for lookup: one specificity score computed
// per rule at load time, preserving declaration order for tie-breaks.
type Policy struct {
	rules []compiledRule
}

type compiledRule struct {
	rule        Rule
	segments    []string
	specificity int
	position    int
}

// Compile builds a Policy from f. It fails only if f has no rules at
// all; malformed individual patterns simply never match anything.
func Compile(f File) (*Policy, error) {
	if len(f.Rules) == 0 {
		return nil, apperr.New(apperr.ConfigurationError, "policy file declares no rules")
	}
	p := &Policy{}
	for i, r := range f.Rules {
		segs := strings.Split(r.Pattern, "/")
		p.rules = append(p.rules, compiledRule{
			rule:        r,
			segments:    segs,
			specificity: specificityOf(segs),
			position:    i,
		})
	}
	return p, nil
}

// specificityOf scores a pattern's path segments: each literal segment
// adds more than a single-segment wildcard "*", which in turn adds
// more than "**"; longer literal content within a segment adds
// further weight. Higher wins.
func specificityOf(segments []string) int {
	score := 0
	for _, seg := range segments {
		switch {
		case seg == "**":
			score += 1
		case seg == "*":
			score += 10
		case strings.Contains(seg, "*"):
			score += 20 + len(strings.ReplaceAll(seg, "*", ""))
		default:
			score += 100 + len(seg)
		}
	}
	return score
}

// Match finds the highest-specificity rule whose pattern matches ref,
// ties broken by declaration order. It returns ok=false if no rule
// matches.
func (p *Policy) Match(ref string) (Rule, bool) {
	best := -1
	var bestRule Rule
	found := false
	subject := strings.Split(ref, "/")
	for _, cr := range p.rules {
		if !matchSegments(cr.segments, subject) {
			continue
		}
		// Rules are iterated in declaration order, so a strict ">"
		// keeps the earliest-declared rule on a specificity tie.
		if !found || cr.specificity > best {
			best = cr.specificity
			bestRule = cr.rule
			found = true
		}
	}
	return bestRule, found
}

// matchSegments applies the "*" = exactly one path segment, "**" = any
// number of segments (including zero) semantics on top of
// ryanuber/go-glob's per-segment literal/wildcard matching.
func matchSegments(pattern, subject []string) bool {
	if len(pattern) == 0 {
		return len(subject) == 0
	}
	head := pattern[0]
	if head == "**" {
		if matchSegments(pattern[1:], subject) {
			return true
		}
		if len(subject) == 0 {
			return false
		}
		return matchSegments(pattern, subject[1:])
	}
	if len(subject) == 0 {
		return false
	}
	if head == "*" {
		return matchSegments(pattern[1:], subject[1:])
	}
	if !glob.Glob(head, subject[0]) {
		return false
	}
	return matchSegments(pattern[1:], subject[1:])
}
