package introspect

import (
	"regexp"
	"strings"
)

// occurrence is one free-identifier reference, with a snapshot of the
// conditional guards enclosing it at that point in the source.
type occurrence struct {
	base string
	// guards holds, for each enclosing guarding if-frame, the identifiers
	// named in that frame's test. An occurrence is considered covered when
	// any one guard's identifiers have all been proven optional.
	guards [][]string
}

// scanResult accumulates facts from one template source.
type scanResult struct {
	occurrences []occurrence
	optional    map[string]bool // direct detector hits (D1-D4, D6)
}

var (
	tokenRe     = regexp.MustCompile(`\{\{-?\s*(.*?)\s*-?\}\}|\{%-?\s*(.*?)\s*-?%\}`)
	stringLitRe = regexp.MustCompile(`"[^"]*"|'[^']*'`)
	identPathRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[^\]\[]*\])*`)
	defaultedRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)(?:\.[A-Za-z_][A-Za-z0-9_]*|\[[^\]\[]*\])*\s*\|\s*default\b`)
	soleTestRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	definedRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s+is\s+(?:not\s+)?defined$`)
	boolOpRe    = regexp.MustCompile(`(^|[^A-Za-z0-9_])(and|or|not)([^A-Za-z0-9_]|$)`)
	forTagRe    = regexp.MustCompile(`^for\s+([A-Za-z_][A-Za-z0-9_]*(?:\s*,\s*[A-Za-z_][A-Za-z0-9_]*)*)\s+in\s+(.+)$`)
	setTagRe    = regexp.MustCompile(`^set\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.+)$`)
	macroTagRe  = regexp.MustCompile(`^macro\s+[A-Za-z_][A-Za-z0-9_]*\s*\(([^)]*)\)`)
)

// reserved are template-language words and builtins, never caller input.
var reserved = map[string]bool{
	"if": true, "elif": true, "else": true, "endif": true,
	"for": true, "endfor": true, "in": true, "is": true,
	"and": true, "or": true, "not": true, "defined": true,
	"block": true, "endblock": true, "macro": true, "endmacro": true,
	"set": true, "extends": true, "import": true, "as": true,
	"true": true, "false": true, "none": true, "True": true,
	"False": true, "None": true, "loop": true, "super": true,
	"include": true, "raw": true, "endraw": true, "filter": true,
	"endfilter": true, "with": true, "endwith": true,
}

// ifFrame tracks one open {% if %} block during the walk.
type ifFrame struct {
	guardVars []string
	guarding  bool
}

// scope tracks locally-bound names (loop variables, macro arguments, set
// targets). Bound names are composition handles, not caller input.
type scope struct {
	bound map[string]int
}

func newScope() *scope { return &scope{bound: make(map[string]int)} }

func (s *scope) bind(names ...string) {
	for _, n := range names {
		s.bound[n]++
	}
}

func (s *scope) unbind(names ...string) {
	for _, n := range names {
		if s.bound[n] > 0 {
			s.bound[n]--
		}
		if s.bound[n] == 0 {
			delete(s.bound, n)
		}
	}
}

func (s *scope) isBound(name string) bool { return s.bound[name] > 0 }

// scanSource walks one template source in document order, recording free
// identifier occurrences with their conditional guards and applying the
// direct optionality detectors.
func scanSource(source string, skip map[string]bool) *scanResult {
	res := &scanResult{optional: make(map[string]bool)}
	sc := newScope()

	var frames []*ifFrame
	var forStack [][]string
	var macroStack [][]string

	for _, m := range tokenRe.FindAllStringSubmatch(source, -1) {
		if m[1] != "" || strings.HasPrefix(m[0], "{{") {
			// {{ expression }}
			res.recordExpr(m[1], frames, sc, skip)
			continue
		}
		body := strings.TrimSpace(m[2])
		fields := strings.Fields(body)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "if":
			test := strings.TrimSpace(strings.TrimPrefix(body, "if"))
			frames = append(frames, res.openFrame(test, frames, sc, skip))

		case "elif":
			test := strings.TrimSpace(strings.TrimPrefix(body, "elif"))
			if len(frames) > 0 {
				frames[len(frames)-1] = res.openFrame(test, frames[:len(frames)-1], sc, skip)
			}

		case "else":
			// An else body runs when the test is falsy; it proves nothing
			// about the test variable, so the frame stops guarding.
			if len(frames) > 0 {
				frames[len(frames)-1] = &ifFrame{}
			}

		case "endif":
			if len(frames) > 0 {
				frames = frames[:len(frames)-1]
			}

		case "for":
			if fm := forTagRe.FindStringSubmatch(body); fm != nil {
				iterable := fm[2]
				// D3: iterating an absent collection is a valid empty loop.
				for _, base := range baseIdents(iterable, sc, skip) {
					res.optional[base] = true
					res.record(base, frames)
				}
				vars := splitNames(fm[1])
				sc.bind(vars...)
				forStack = append(forStack, vars)
			}

		case "endfor":
			if len(forStack) > 0 {
				sc.unbind(forStack[len(forStack)-1]...)
				forStack = forStack[:len(forStack)-1]
			}

		case "set":
			if sm := setTagRe.FindStringSubmatch(body); sm != nil {
				res.recordExpr(sm[2], frames, sc, skip)
				sc.bind(sm[1])
			}

		case "macro":
			if mm := macroTagRe.FindStringSubmatch(body); mm != nil {
				args := splitNames(mm[1])
				sc.bind(args...)
				macroStack = append(macroStack, args)
			}

		case "endmacro":
			if len(macroStack) > 0 {
				sc.unbind(macroStack[len(macroStack)-1]...)
				macroStack = macroStack[:len(macroStack)-1]
			}

		case "extends", "import", "block", "endblock":
			// Structural directives; no free identifiers.

		default:
			res.recordExpr(body, frames, sc, skip)
		}
	}

	return res
}

// openFrame records a conditional test's identifiers and classifies the test
// form for the direct detectors.
func (r *scanResult) openFrame(test string, outer []*ifFrame, sc *scope, skip map[string]bool) *ifFrame {
	idents := baseIdents(test, sc, skip)

	switch {
	case soleTestRe.MatchString(test):
		// D1: sole boolean test.
		for _, id := range idents {
			r.optional[id] = true
		}
	case definedRe.MatchString(test):
		// D4: explicit definedness check.
		m := definedRe.FindStringSubmatch(test)
		if !sc.isBound(m[1]) && !reserved[m[1]] && !skip[m[1]] {
			r.optional[m[1]] = true
		}
	case boolOpRe.MatchString(stringLitRe.ReplaceAllString(test, `""`)):
		// D6: operands of a boolean combination; joint necessity cannot be
		// proven, so all named operands are optional.
		for _, id := range idents {
			r.optional[id] = true
		}
	}

	// D2 applies inside tests too.
	r.markDefaulted(test, sc, skip)

	// The test identifiers are themselves occurrences, guarded only by the
	// outer frames.
	for _, id := range idents {
		r.record(id, outer)
	}

	return &ifFrame{guardVars: idents, guarding: len(idents) > 0}
}

// recordExpr records every free identifier in an expression and applies D2.
func (r *scanResult) recordExpr(expr string, frames []*ifFrame, sc *scope, skip map[string]bool) {
	r.markDefaulted(expr, sc, skip)
	for _, base := range baseIdents(expr, sc, skip) {
		r.record(base, frames)
	}
}

// markDefaulted applies D2: a name passed through a default(...) filter is
// optional wherever it appears.
func (r *scanResult) markDefaulted(expr string, sc *scope, skip map[string]bool) {
	for _, m := range defaultedRe.FindAllStringSubmatch(expr, -1) {
		base := m[1]
		if !sc.isBound(base) && !reserved[base] && !skip[base] {
			r.optional[base] = true
		}
	}
}

func (r *scanResult) record(base string, frames []*ifFrame) {
	var guards [][]string
	for _, f := range frames {
		if f.guarding {
			guards = append(guards, f.guardVars)
		}
	}
	r.occurrences = append(r.occurrences, occurrence{base: base, guards: guards})
}

// baseIdents extracts the base identifier of every dotted/bracketed access
// path in an expression, skipping string literal contents, filter names,
// call targets, bound locals, reserved words, and skip-listed names (import
// aliases). Only the base matters: nested attribute validation is out of
// scope (D7).
func baseIdents(expr string, sc *scope, skip map[string]bool) []string {
	clean := stringLitRe.ReplaceAllString(expr, `""`)

	var out []string
	seen := make(map[string]bool)
	for _, loc := range identPathRe.FindAllStringIndex(clean, -1) {
		path := clean[loc[0]:loc[1]]

		// A filter name follows a pipe.
		if prev := lastNonSpace(clean[:loc[0]]); prev == '|' {
			continue
		}
		// A call target is a macro or builtin, not a variable.
		if next := firstNonSpace(clean[loc[1]:]); next == '(' {
			continue
		}

		base := path
		if i := strings.IndexAny(path, ".["); i >= 0 {
			base = path[:i]
		}
		if reserved[base] || skip[base] || sc.isBound(base) || seen[base] {
			continue
		}
		seen[base] = true
		out = append(out, base)
	}
	return out
}

func splitNames(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		if name := strings.TrimSpace(part); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func lastNonSpace(s string) byte {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != ' ' && s[i] != '\t' {
			return s[i]
		}
	}
	return 0
}

func firstNonSpace(s string) byte {
	for i := 0; i < len(s); i++ {
		if s[i] != ' ' && s[i] != '\t' {
			return s[i]
		}
	}
	return 0
}
