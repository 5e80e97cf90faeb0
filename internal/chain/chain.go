// Package chain resolves template inheritance chains. A chain runs from a
// concrete leaf template to its root ancestor via single-parent extends
// edges, plus the flattened set of pattern libraries imported anywhere along
// the way.
package chain

import (
	"fmt"
	"strings"

	"stencil/internal/template"
)

// Chain is an ordered sequence of template nodes from the concrete (leaf)
// template to the root ancestor. No node appears twice.
type Chain struct {
	// Nodes is ordered leaf first, root last.
	Nodes []*template.Node
	// Imports is the flattened set of pattern libraries reachable from any
	// node in the chain, in first-encounter order, deduplicated by name.
	Imports []*template.Node
}

// Leaf returns the concrete template node.
func (c *Chain) Leaf() *template.Node {
	return c.Nodes[0]
}

// Root returns the root ancestor node.
func (c *Chain) Root() *template.Node {
	return c.Nodes[len(c.Nodes)-1]
}

// Names returns the node names in chain order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.Nodes))
	for i, n := range c.Nodes {
		names[i] = n.Name
	}
	return names
}

// Key identifies the chain for caching: member names plus source
// fingerprints, so any source change produces a new key.
func (c *Chain) Key() string {
	var sb strings.Builder
	for i, n := range c.Nodes {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(n.Name)
		sb.WriteByte('@')
		sb.WriteString(n.Fingerprint)
	}
	for _, n := range c.Imports {
		sb.WriteByte('|')
		sb.WriteByte('+')
		sb.WriteString(n.Name)
		sb.WriteByte('@')
		sb.WriteString(n.Fingerprint)
	}
	return sb.String()
}

// AllNodes returns chain nodes followed by imported libraries; the full set
// of sources the introspector scans.
func (c *Chain) AllNodes() []*template.Node {
	all := make([]*template.Node, 0, len(c.Nodes)+len(c.Imports))
	all = append(all, c.Nodes...)
	all = append(all, c.Imports...)
	return all
}

// ImportAliases returns every alias bound by an import directive anywhere in
// the chain or its libraries. Aliases are composition handles, never caller
// input.
func (c *Chain) ImportAliases() map[string]bool {
	aliases := make(map[string]bool)
	for _, n := range c.AllNodes() {
		for _, imp := range n.Imports {
			aliases[imp.Alias] = true
		}
	}
	return aliases
}

// CircularError reports an inheritance cycle. Cycle lists the template names
// in walk order, ending with the repeated name.
type CircularError struct {
	Cycle []string
}

func (e *CircularError) Error() string {
	return fmt.Sprintf("circular inheritance: %s", strings.Join(e.Cycle, " -> "))
}
