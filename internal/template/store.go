package template

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"stencil/internal/logging"

	"gopkg.in/yaml.v3"
)

// DefaultSuffixes are tried in order when a template name carries no
// extension.
var DefaultSuffixes = []string{"", ".tmpl", ".jinja", ".j2"}

// Store provides read-through, fingerprint-keyed access to template sources
// under one or more root directories. Cached nodes are re-derived whenever
// the underlying source bytes change, so staleness is self-correcting.
type Store struct {
	mu       sync.RWMutex
	roots    []string
	suffixes []string
	cache    map[string]*Node // keyed by template name; entry valid while fingerprint matches
}

// NewStore creates a store over the given root directories.
func NewStore(roots ...string) *Store {
	return &Store{
		roots:    roots,
		suffixes: DefaultSuffixes,
		cache:    make(map[string]*Node),
	}
}

// Roots returns the configured root directories.
func (s *Store) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Load returns the parsed node for a template name. The result is cached;
// the cache entry is replaced when the source fingerprint changes.
func (s *Store) Load(name string) (*Node, error) {
	path, err := s.locate(name)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Located but gone by read time.
			return nil, &NotFoundError{Name: name, Searched: s.roots}
		}
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	source := string(data)
	fp := fingerprint(source)

	s.mu.RLock()
	cached, ok := s.cache[name]
	s.mu.RUnlock()
	if ok && cached.Fingerprint == fp {
		return cached, nil
	}

	timer := logging.StartTimer(logging.CategoryStore, "Store.Load "+name)
	defer timer.Stop()

	sidecar, err := s.loadSidecarFile(path)
	if err != nil {
		return nil, err
	}

	node, err := parseSource(name, path, source, sidecar)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[name] = node
	s.mu.Unlock()

	logging.Get(logging.CategoryStore).Debug(
		"Parsed template %s (parent=%q imports=%d blocks=%d macros=%d)",
		name, node.Parent, len(node.Imports), len(node.Blocks), len(node.Macros),
	)

	return node, nil
}

// Invalidate drops the cache entry for a template name. Safe to call for
// names that were never loaded.
func (s *Store) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

// InvalidateAll drops every cache entry.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string]*Node)
	s.mu.Unlock()
}

// CachedCount reports the number of cached nodes.
func (s *Store) CachedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// locate resolves a template name to a file path across roots and suffixes.
func (s *Store) locate(name string) (string, error) {
	for _, root := range s.roots {
		for _, suffix := range s.suffixes {
			candidate := filepath.Join(root, name+suffix)
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", &NotFoundError{Name: name, Searched: s.roots}
}

// loadSidecarFile reads a co-located <file>.meta.yaml sidecar. A sidecar
// file wins over an embedded sidecar block.
func (s *Store) loadSidecarFile(templatePath string) (*Sidecar, error) {
	metaPath := templatePath + ".meta.yaml"
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read sidecar %s: %w", metaPath, err)
	}
	var sc Sidecar
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, &MalformedError{Path: metaPath, Reason: fmt.Sprintf("invalid sidecar yaml: %v", err)}
	}
	return &sc, nil
}

func fingerprint(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
