// Package template implements read-only access to template sources and their
// declared relationships. A template declares at most one extends parent
// (single inheritance), any number of imported pattern libraries (namespace
// macro composition), and carries a structured sidecar with its version,
// enforcement level, and validation rules.
package template

import (
	"fmt"
	"strings"
)

// Import is one namespace-qualified pattern library reference.
// Imports are composition, not inheritance.
type Import struct {
	Path  string `yaml:"path" json:"path"`
	Alias string `yaml:"alias" json:"alias"`
}

// RuleSpec is one declarative validation rule from a template sidecar.
// Rules are data evaluated by the validation engine, never executable code.
type RuleSpec struct {
	// Kind selects the predicate: must_match, must_not_match, contains,
	// section_present, min_count, max_count.
	Kind    string `yaml:"kind" json:"kind"`
	Pattern string `yaml:"pattern" json:"pattern"`
	// Count is the threshold for min_count/max_count kinds.
	Count   int    `yaml:"count,omitempty" json:"count,omitempty"`
	Message string `yaml:"message" json:"message"`
}

// RuleSet groups a sidecar's rules by enforcement tier.
type RuleSet struct {
	Strict        []RuleSpec `yaml:"strict,omitempty" json:"strict,omitempty"`
	Architectural []RuleSpec `yaml:"architectural,omitempty" json:"architectural,omitempty"`
	Guidelines    []RuleSpec `yaml:"guidelines,omitempty" json:"guidelines,omitempty"`
}

// Sidecar is the structured metadata attached to a template, either as a
// co-located <name>.meta.yaml file or embedded in a {#--- ... ---#} comment
// block at the top of the source. The sidecar is the sole source of
// validation rules.
type Sidecar struct {
	Version     string  `yaml:"version"`
	Enforcement string  `yaml:"enforcement"` // strict | architectural | guideline
	Description string  `yaml:"description,omitempty"`
	// Required forces identifiers into the required set even when structural
	// inference would classify them optional. Explicit declarations win.
	Required  []string `yaml:"required,omitempty"`
	Validates RuleSet  `yaml:"validates"`
}

// Node holds one template file's structural facts. Immutable once loaded;
// the store re-derives it when the source fingerprint changes.
type Node struct {
	Name        string
	Path        string
	Parent      string // empty at the root tier
	Imports     []Import
	Blocks      []string
	Macros      []string
	Meta        Sidecar
	Source      string
	Fingerprint string // sha256 hex of the source bytes
}

// Version returns the node's declared semantic version, defaulting to 0.0.0
// when the sidecar declares none.
func (n *Node) Version() string {
	if n.Meta.Version == "" {
		return "0.0.0"
	}
	return n.Meta.Version
}

// Checksum returns a short content checksum for registry entries.
func (n *Node) Checksum() string {
	if len(n.Fingerprint) >= 12 {
		return n.Fingerprint[:12]
	}
	return n.Fingerprint
}

// NotFoundError reports an unknown template name.
type NotFoundError struct {
	Name     string
	Searched []string
}

func (e *NotFoundError) Error() string {
	if len(e.Searched) == 0 {
		return fmt.Sprintf("template %q not found", e.Name)
	}
	return fmt.Sprintf("template %q not found (searched: %s)", e.Name, strings.Join(e.Searched, ", "))
}

// MalformedError reports a structural parse failure in a template source,
// with file and line when available.
type MalformedError struct {
	Path   string
	Line   int
	Reason string
}

func (e *MalformedError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("malformed template %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("malformed template %s: %s", e.Path, e.Reason)
}
