package registry

import (
	"sort"
	"sync"
)

// Backend persists registry entries. Implementations must serialize writers
// and must never expose a partially-written entry to readers. Put must be
// all-or-nothing.
type Backend interface {
	// Get returns the entry for a hash, if registered.
	Get(hash string) (*Entry, bool, error)
	// Put stores a new entry and updates the artifact-type current index.
	Put(entry *Entry) error
	// Current returns the most recently registered hash for an artifact type.
	Current(artifactType string) (string, bool, error)
	// Entries lists all registrations ordered by creation time.
	Entries() ([]*Entry, error)
	// Close releases backend resources.
	Close() error
}

// MemoryBackend is an in-process backend for tests and ephemeral runs.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	current map[string]string
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*Entry),
		current: make(map[string]string),
	}
}

func (b *MemoryBackend) Get(hash string) (*Entry, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[hash]
	return entry, ok, nil
}

func (b *MemoryBackend) Put(entry *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[entry.Hash] = entry
	b.current[entry.ArtifactType] = entry.Hash
	return nil
}

func (b *MemoryBackend) Current(artifactType string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hash, ok := b.current[artifactType]
	return hash, ok, nil
}

func (b *MemoryBackend) Entries() ([]*Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *MemoryBackend) Close() error { return nil }
