package chain

import (
	"sync"

	"stencil/internal/logging"
	"stencil/internal/template"
)

// Resolver walks extends edges to build chains. Resolution is a pure
// function of template source state aside from a read-through cache keyed by
// member fingerprints, so a source edit transparently misses the cache.
type Resolver struct {
	store *template.Store

	mu    sync.RWMutex
	cache map[string]*Chain // leaf name -> resolved chain
}

// NewResolver creates a resolver over the given store.
func NewResolver(store *template.Store) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]*Chain),
	}
}

// Resolve walks the extends chain from the named template to the root tier.
// Fails with template.NotFoundError for unknown members, *CircularError when
// an extends edge revisits a name, and template.MalformedError for
// structural parse failures.
func (r *Resolver) Resolve(name string) (*Chain, error) {
	timer := logging.StartTimer(logging.CategoryChain, "Resolver.Resolve "+name)
	defer timer.Stop()

	if cached := r.cachedIfFresh(name); cached != nil {
		return cached, nil
	}

	visited := make(map[string]bool)
	var order []string
	var nodes []*template.Node

	current := name
	for current != "" {
		if visited[current] {
			return nil, &CircularError{Cycle: append(order, current)}
		}
		visited[current] = true
		order = append(order, current)

		node, err := r.store.Load(current)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
		current = node.Parent
	}

	imports, err := r.flattenImports(nodes)
	if err != nil {
		return nil, err
	}

	c := &Chain{Nodes: nodes, Imports: imports}

	r.mu.Lock()
	r.cache[name] = c
	r.mu.Unlock()

	logging.Get(logging.CategoryChain).Debug(
		"Resolved %s: %d tiers, %d pattern libraries", name, len(c.Nodes), len(c.Imports),
	)

	return c, nil
}

// cachedIfFresh returns the cached chain when every member's source
// fingerprint is unchanged. Reloading a member is what detects the change,
// so a hit costs one Load per member but no re-walk.
func (r *Resolver) cachedIfFresh(name string) *Chain {
	r.mu.RLock()
	cached, ok := r.cache[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	for _, n := range cached.AllNodes() {
		fresh, err := r.store.Load(n.Name)
		if err != nil || fresh.Fingerprint != n.Fingerprint {
			r.mu.Lock()
			delete(r.cache, name)
			r.mu.Unlock()
			return nil
		}
	}
	return cached
}

// flattenImports loads every pattern library reachable from the chain,
// transitively, deduplicated by name in first-encounter order.
func (r *Resolver) flattenImports(nodes []*template.Node) ([]*template.Node, error) {
	seen := make(map[string]bool)
	for _, n := range nodes {
		seen[n.Name] = true
	}

	var libs []*template.Node
	queue := make([]string, 0)
	for _, n := range nodes {
		for _, imp := range n.Imports {
			queue = append(queue, imp.Path)
		}
	}

	for len(queue) > 0 {
		path := queue[0]
		queue = queue[1:]
		if seen[path] {
			continue
		}
		seen[path] = true

		lib, err := r.store.Load(path)
		if err != nil {
			return nil, err
		}
		libs = append(libs, lib)
		for _, imp := range lib.Imports {
			queue = append(queue, imp.Path)
		}
	}

	return libs, nil
}
