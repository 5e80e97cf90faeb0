// Package registry content-addresses template chains. Each distinct
// (artifact type, chain versions) combination gets a short collision-checked
// hash that is embedded in artifact headers and resolvable back to the full
// chain, giving every generated artifact traceable provenance.
package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"stencil/internal/chain"
	"stencil/internal/logging"
)

// ShortHashLen is the number of hex characters embedded in artifact headers.
const ShortHashLen = 8

// TemplateVersion pins one chain member at registration time.
type TemplateVersion struct {
	TemplateName string `yaml:"template_name" json:"template_name"`
	Version      string `yaml:"version" json:"version"`
	Checksum     string `yaml:"checksum" json:"checksum"`
}

// Entry is one persisted registration. The same hash must always map to the
// same artifact type and chain-versions tuple.
type Entry struct {
	Hash         string            `yaml:"hash" json:"hash"`
	ArtifactType string            `yaml:"artifact_type" json:"artifact_type"`
	CreatedAt    time.Time         `yaml:"created_at" json:"created_at"`
	Chain        []TemplateVersion `yaml:"chain" json:"chain"`
	HashInput    string            `yaml:"hash_input" json:"hash_input"`
}

// CollisionError reports a short-hash collision: the hash exists with a
// different artifact type or chain. A collision breaks provenance
// guarantees, so it is fatal and never resolved by overwriting.
type CollisionError struct {
	Hash     string
	Existing string // existing hash input
	Incoming string // conflicting hash input
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("hash collision on %s: registered as %q, new chain hashes to %q",
		e.Hash, e.Existing, e.Incoming)
}

// UnavailableError wraps a backend I/O failure. Operational: the caller may
// explicitly accept degraded non-persisted output, or abort.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("registry unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Registry computes and persists chain version hashes through an injectable
// backend. Save's collision check and write must be one atomic step - two
// concurrent saves of the same tuple are a registration plus a cache hit,
// never a double write - so saves serialize on a registry-level mutex.
type Registry struct {
	saveMu  sync.Mutex
	backend Backend
}

// New creates a registry over the given backend.
func New(backend Backend) *Registry {
	return &Registry{backend: backend}
}

// HashInput builds the deterministic digest input for a chain:
// type|name@version|... ordered leaf to root.
func HashInput(artifactType string, c *chain.Chain) string {
	parts := make([]string, 0, len(c.Nodes)+1)
	parts = append(parts, artifactType)
	for _, n := range c.Nodes {
		parts = append(parts, fmt.Sprintf("%s@%s", n.Name, n.Version()))
	}
	return strings.Join(parts, "|")
}

// HashFor computes the short provenance hash for an artifact type and chain.
// Pure and repeatable: unchanged inputs always produce the same hash.
func HashFor(artifactType string, c *chain.Chain) string {
	sum := sha256.Sum256([]byte(HashInput(artifactType, c)))
	return hex.EncodeToString(sum[:])[:ShortHashLen]
}

// Save registers a chain under its computed hash. An identical existing
// tuple is a cache hit (no-op); a different tuple under the same hash is a
// *CollisionError. Returns the persisted entry.
func (r *Registry) Save(artifactType string, c *chain.Chain) (*Entry, error) {
	timer := logging.StartTimer(logging.CategoryRegistry, "Registry.Save "+artifactType)
	defer timer.Stop()

	input := HashInput(artifactType, c)
	hash := HashFor(artifactType, c)

	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	existing, ok, err := r.backend.Get(hash)
	if err != nil {
		return nil, &UnavailableError{Op: "lookup", Err: err}
	}
	if ok {
		if existing.HashInput == input && existing.ArtifactType == artifactType {
			logging.Get(logging.CategoryRegistry).Debug("Hash %s already registered (cache hit)", hash)
			return existing, nil
		}
		return nil, &CollisionError{Hash: hash, Existing: existing.HashInput, Incoming: input}
	}

	entry := &Entry{
		Hash:         hash,
		ArtifactType: artifactType,
		CreatedAt:    time.Now().UTC(),
		Chain:        chainVersions(c),
		HashInput:    input,
	}
	if err := r.backend.Put(entry); err != nil {
		return nil, &UnavailableError{Op: "save", Err: err}
	}

	logging.Get(logging.CategoryRegistry).Info(
		"Registered %s -> %s (%d tiers)", artifactType, hash, len(entry.Chain),
	)

	return entry, nil
}

// Lookup resolves a short hash back to its registered entry.
func (r *Registry) Lookup(hash string) (*Entry, bool, error) {
	entry, ok, err := r.backend.Get(hash)
	if err != nil {
		return nil, false, &UnavailableError{Op: "lookup", Err: err}
	}
	return entry, ok, nil
}

// Current returns the most recently registered hash for an artifact type.
func (r *Registry) Current(artifactType string) (string, bool, error) {
	hash, ok, err := r.backend.Current(artifactType)
	if err != nil {
		return "", false, &UnavailableError{Op: "current", Err: err}
	}
	return hash, ok, nil
}

// Entries lists every registration, ordered by creation time.
func (r *Registry) Entries() ([]*Entry, error) {
	entries, err := r.backend.Entries()
	if err != nil {
		return nil, &UnavailableError{Op: "list", Err: err}
	}
	return entries, nil
}

func chainVersions(c *chain.Chain) []TemplateVersion {
	out := make([]TemplateVersion, len(c.Nodes))
	for i, n := range c.Nodes {
		out[i] = TemplateVersion{
			TemplateName: n.Name,
			Version:      n.Version(),
			Checksum:     n.Checksum(),
		}
	}
	return out
}
