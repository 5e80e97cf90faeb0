// Package validate evaluates rendered artifacts against the declarative rule
// pipeline accumulated along a template chain. Rules are data - a closed set
// of predicate kinds with a pattern and a message - and are never executed
// as code.
package validate

import (
	"fmt"
	"regexp"
	"strings"

	"stencil/internal/template"
)

// Level is a rule's enforcement tier.
type Level string

const (
	// LevelStrict rules block persistence on violation.
	LevelStrict Level = "strict"
	// LevelArchitectural rules report missing structural patterns; they
	// warn, distinctly from style guidelines, but do not block.
	LevelArchitectural Level = "architectural"
	// LevelGuideline rules are advisory feedback only.
	LevelGuideline Level = "guideline"
)

// Rule kinds: the closed predicate set.
const (
	KindMustMatch      = "must_match"      // pattern must match the artifact
	KindMustNotMatch   = "must_not_match"  // pattern must not match
	KindContains       = "contains"        // literal substring presence
	KindSectionPresent = "section_present" // a line matching pattern exists
	KindMinCount       = "min_count"       // pattern matches at least Count times
	KindMaxCount       = "max_count"       // pattern matches at most Count times
)

// Rule is one compiled validation rule, tagged with the template that
// declared it.
type Rule struct {
	Level   Level
	Kind    string
	Pattern string
	Count   int
	Message string
	Source  string // declaring template name

	re *regexp.Regexp
}

// compileRule turns a sidecar RuleSpec into an evaluatable Rule. Unknown
// kinds and invalid patterns are authoring errors, reported with the
// declaring template.
func compileRule(spec template.RuleSpec, level Level, source string) (*Rule, error) {
	rule := &Rule{
		Level:   level,
		Kind:    spec.Kind,
		Pattern: spec.Pattern,
		Count:   spec.Count,
		Message: spec.Message,
		Source:  source,
	}

	switch spec.Kind {
	case KindContains:
		// Literal match, no compilation.
	case KindMustMatch, KindMustNotMatch, KindMinCount, KindMaxCount:
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("template %s declares invalid pattern %q: %w", source, spec.Pattern, err)
		}
		rule.re = re
	case KindSectionPresent:
		re, err := regexp.Compile("(?m)^" + spec.Pattern)
		if err != nil {
			return nil, fmt.Errorf("template %s declares invalid section pattern %q: %w", source, spec.Pattern, err)
		}
		rule.re = re
	default:
		return nil, fmt.Errorf("template %s declares unknown rule kind %q", source, spec.Kind)
	}

	return rule, nil
}

// check returns a violation message, or "" when the artifact satisfies the
// rule.
func (r *Rule) check(artifact string) string {
	switch r.Kind {
	case KindMustMatch:
		if !r.re.MatchString(artifact) {
			return r.Message
		}
	case KindMustNotMatch:
		if r.re.MatchString(artifact) {
			return r.Message
		}
	case KindContains:
		if !strings.Contains(artifact, r.Pattern) {
			return r.Message
		}
	case KindSectionPresent:
		if !r.re.MatchString(artifact) {
			return r.Message
		}
	case KindMinCount:
		if len(r.re.FindAllStringIndex(artifact, -1)) < r.Count {
			return r.Message
		}
	case KindMaxCount:
		if len(r.re.FindAllStringIndex(artifact, -1)) > r.Count {
			return r.Message
		}
	}
	return ""
}
