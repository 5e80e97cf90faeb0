// Package introspect derives a chain's caller-facing variable contract by
// static analysis of its template sources. Every free identifier referenced
// anywhere in the chain (and its imported pattern libraries) is classified
// into exactly one of three sets: required, optional, or system-provided.
//
// Classification is conservative: a name is optional only when a specific
// structural pattern proves optionality; everything else stays required.
// Optionality is a property of the identifier across the whole chain -
// established once anywhere, never revoked by an unqualified reference in
// another tier. Explicit sidecar required declarations beat structural
// inference.
package introspect

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stencil/internal/chain"
	"stencil/internal/logging"
)

// SystemVariables are host-supplied names: never caller input, never
// classified required or optional. The scaffolder injects them into the
// render context.
var SystemVariables = []string{
	"artifact_type", // artifact-type tag
	"generated_at",  // creation timestamp
	"output_path",   // destination file path
	"version_hash",  // provenance hash from the registry
}

// Schema is the derived variable contract of a chain. The three sets are
// disjoint and together cover every free identifier in the chain.
type Schema struct {
	Required []string `yaml:"required" json:"required"`
	Optional []string `yaml:"optional" json:"optional"`
	System   []string `yaml:"system" json:"system"`
}

// IsRequired reports whether name is in the required set.
func (s *Schema) IsRequired(name string) bool { return contains(s.Required, name) }

// IsOptional reports whether name is in the optional set.
func (s *Schema) IsOptional(name string) bool { return contains(s.Optional, name) }

// Missing returns the sorted list of required names absent from the given
// context. All missing names are reported in one pass, not one at a time.
func (s *Schema) Missing(context map[string]any) []string {
	var missing []string
	for _, name := range s.Required {
		if _, ok := context[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// MissingVariableError reports required context fields absent from a
// scaffold request. Caller-recoverable: supply the fields and retry.
type MissingVariableError struct {
	ArtifactType string
	Missing      []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("artifact type %q is missing required variables: %s",
		e.ArtifactType, strings.Join(e.Missing, ", "))
}

// Introspector computes variable schemas for chains, caching by chain
// identity. Cache entries self-invalidate because the chain key includes
// member source fingerprints.
type Introspector struct {
	mu    sync.RWMutex
	cache map[string]*Schema
}

// New creates an Introspector.
func New() *Introspector {
	return &Introspector{cache: make(map[string]*Schema)}
}

// Introspect derives the merged variable schema for a chain.
func (in *Introspector) Introspect(c *chain.Chain) (*Schema, error) {
	key := c.Key()

	in.mu.RLock()
	cached, ok := in.cache[key]
	in.mu.RUnlock()
	if ok {
		return cached, nil
	}

	timer := logging.StartTimer(logging.CategoryIntrospect, "Introspect "+c.Leaf().Name)
	defer timer.StopWithThreshold(100 * time.Millisecond)

	schema := in.compute(c)

	in.mu.Lock()
	in.cache[key] = schema
	in.mu.Unlock()

	logging.Get(logging.CategoryIntrospect).Debug(
		"Schema for %s: %d required, %d optional",
		c.Leaf().Name, len(schema.Required), len(schema.Optional),
	)

	return schema, nil
}

func (in *Introspector) compute(c *chain.Chain) *Schema {
	// Step 2 first: import aliases are composition handles, excluded from
	// the candidate universe before scanning.
	skip := c.ImportAliases()

	// Step 1 + 3: collect occurrences and direct detector hits (D1-D4, D6)
	// across every node in the chain and every reachable pattern library.
	optional := make(map[string]bool)
	var occurrences []occurrence
	for _, node := range c.AllNodes() {
		res := scanSource(node.Source, skip)
		for name := range res.optional {
			optional[name] = true
		}
		occurrences = append(occurrences, res.occurrences...)
	}

	universe := make(map[string]bool)
	for _, occ := range occurrences {
		universe[occ.base] = true
	}
	for name := range optional {
		universe[name] = true
	}

	// D5: propagate parent optionality to identifiers used only under
	// conditionals whose test variables are optional. Run to fixpoint so
	// chained guards resolve regardless of source order.
	for changed := true; changed; {
		changed = false
		for name := range universe {
			if optional[name] {
				continue
			}
			if coveredEverywhere(name, occurrences, optional) {
				optional[name] = true
				changed = true
			}
		}
	}

	// Explicit sidecar declarations win over structural inference.
	for _, node := range c.AllNodes() {
		for _, name := range node.Meta.Required {
			universe[name] = true
			delete(optional, name)
		}
	}

	// Step 4: the system set is subtracted from both required and optional.
	system := make(map[string]bool, len(SystemVariables))
	for _, name := range SystemVariables {
		system[name] = true
	}

	schema := &Schema{System: append([]string(nil), SystemVariables...)}
	for name := range universe {
		switch {
		case system[name]:
		case optional[name]:
			schema.Optional = append(schema.Optional, name)
		default:
			schema.Required = append(schema.Required, name)
		}
	}
	sort.Strings(schema.Required)
	sort.Strings(schema.Optional)
	sort.Strings(schema.System)

	return schema
}

// coveredEverywhere reports whether every occurrence of name sits under at
// least one if-frame whose test identifiers are all optional.
func coveredEverywhere(name string, occurrences []occurrence, optional map[string]bool) bool {
	found := false
	for _, occ := range occurrences {
		if occ.base != name {
			continue
		}
		found = true
		if !covered(occ, optional) {
			return false
		}
	}
	return found
}

func covered(occ occurrence, optional map[string]bool) bool {
	for _, guard := range occ.guards {
		all := true
		for _, v := range guard {
			if !optional[v] {
				all = false
				break
			}
		}
		if all && len(guard) > 0 {
			return true
		}
	}
	return false
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}
