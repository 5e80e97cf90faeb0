package validate

import (
	"stencil/internal/chain"
	"stencil/internal/logging"
	"stencil/internal/template"
)

// Stage is the validation run's state machine position.
type Stage string

const (
	StagePending       Stage = "PENDING"
	StageStrict        Stage = "EVALUATING_STRICT"
	StageFailFast      Stage = "FAIL_FAST"
	StageArchitectural Stage = "EVALUATING_ARCHITECTURAL"
	StageGuideline     Stage = "EVALUATING_GUIDELINE"
	StageDone          Stage = "DONE"
)

// Issue is one rule violation.
type Issue struct {
	Level    Level  `yaml:"level" json:"level"`
	Message  string `yaml:"message" json:"message"`
	Rule     string `yaml:"rule" json:"rule"` // kind + pattern, for actionability
	Template string `yaml:"template" json:"template"`
}

// Result is the typed outcome of a validation run. Failing rules are an
// expected, common outcome that callers branch on, so results are returned,
// never raised as errors.
type Result struct {
	Passed   bool    `yaml:"passed" json:"passed"`
	Blocking bool    `yaml:"blocking" json:"blocking"`
	Stage    Stage   `yaml:"stage" json:"stage"`
	Issues   []Issue `yaml:"issues,omitempty" json:"issues,omitempty"`
}

// Warnings returns the non-blocking issues.
func (r *Result) Warnings() []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Level != LevelStrict {
			out = append(out, issue)
		}
	}
	return out
}

// Engine merges and evaluates chain rule pipelines.
type Engine struct{}

// NewEngine creates a validation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// MergeRules concatenates every rule declared along the chain, parents
// first, concrete template last. Rules accumulate as a full multiset; a
// child never replaces a parent's rules. The one override: when the concrete
// template declares an enforcement level, its own guidelines-section rules
// are enforced at that level instead of the guideline default.
func (e *Engine) MergeRules(c *chain.Chain) ([]*Rule, error) {
	var rules []*Rule

	// Parents first: walk root to leaf.
	for i := len(c.Nodes) - 1; i >= 0; i-- {
		node := c.Nodes[i]
		isLeaf := i == 0

		nodeRules, err := compileNodeRules(node, isLeaf)
		if err != nil {
			return nil, err
		}
		rules = append(rules, nodeRules...)
	}

	return rules, nil
}

func compileNodeRules(node *template.Node, isLeaf bool) ([]*Rule, error) {
	var rules []*Rule

	for _, spec := range node.Meta.Validates.Strict {
		rule, err := compileRule(spec, LevelStrict, node.Name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	for _, spec := range node.Meta.Validates.Architectural {
		rule, err := compileRule(spec, LevelArchitectural, node.Name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	guidelineLevel := LevelGuideline
	if isLeaf && node.Meta.Enforcement != "" {
		guidelineLevel = Level(node.Meta.Enforcement)
	}
	for _, spec := range node.Meta.Validates.Guidelines {
		rule, err := compileRule(spec, guidelineLevel, node.Name)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// Validate evaluates a rendered artifact against the chain's merged rule
// pipeline. Tiers run strict, architectural, guideline. Any strict violation
// fails fast: all strict-tier issues found are reported together and the
// lower tiers are skipped, since guideline noise on a rejected artifact
// helps no one. Only a broken rule declaration returns an error.
func (e *Engine) Validate(artifact string, c *chain.Chain) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryValidate, "Engine.Validate "+c.Leaf().Name)
	defer timer.Stop()

	rules, err := e.MergeRules(c)
	if err != nil {
		return nil, err
	}

	result := &Result{Passed: true, Stage: StagePending}

	result.Stage = StageStrict
	for _, rule := range rules {
		if rule.Level != LevelStrict {
			continue
		}
		if msg := rule.check(artifact); msg != "" {
			result.Issues = append(result.Issues, issueFor(rule, msg))
		}
	}
	if len(result.Issues) > 0 {
		result.Passed = false
		result.Blocking = true
		result.Stage = StageFailFast
		logging.Get(logging.CategoryValidate).Warn(
			"%s rejected: %d strict violations", c.Leaf().Name, len(result.Issues),
		)
		return result, nil
	}

	result.Stage = StageArchitectural
	for _, rule := range rules {
		if rule.Level != LevelArchitectural {
			continue
		}
		if msg := rule.check(artifact); msg != "" {
			result.Issues = append(result.Issues, issueFor(rule, msg))
		}
	}

	result.Stage = StageGuideline
	for _, rule := range rules {
		if rule.Level != LevelGuideline {
			continue
		}
		if msg := rule.check(artifact); msg != "" {
			result.Issues = append(result.Issues, issueFor(rule, msg))
		}
	}

	result.Stage = StageDone
	logging.Get(logging.CategoryValidate).Debug(
		"%s passed with %d warnings", c.Leaf().Name, len(result.Issues),
	)

	return result, nil
}

func issueFor(rule *Rule, msg string) Issue {
	return Issue{
		Level:    rule.Level,
		Message:  msg,
		Rule:     rule.Kind + " " + rule.Pattern,
		Template: rule.Source,
	}
}
