package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// registryFile is the on-disk layout: a human-inspectable YAML document
// mapping each short hash to its entry, plus an artifact_type -> current
// hash convenience index.
type registryFile struct {
	Entries map[string]*Entry `yaml:"entries"`
	Current map[string]string `yaml:"current"`
}

// FileBackend persists the registry in a single YAML file. Writes go to a
// temp file in the same directory followed by a rename, so readers never
// observe a partial entry; a mutex serializes writers within the process.
type FileBackend struct {
	mu   sync.Mutex
	path string
}

// NewFileBackend creates a backend at the given path. The file is created
// on first Put; a missing file reads as an empty registry.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Get(hash string) (*Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, false, err
	}
	entry, ok := doc.Entries[hash]
	return entry, ok, nil
}

func (b *FileBackend) Put(entry *Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return err
	}
	doc.Entries[entry.Hash] = entry
	doc.Current[entry.ArtifactType] = entry.Hash

	return b.store(doc)
}

func (b *FileBackend) Current(artifactType string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return "", false, err
	}
	hash, ok := doc.Current[artifactType]
	return hash, ok, nil
}

func (b *FileBackend) Entries() ([]*Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.load()
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(doc.Entries))
	for _, e := range doc.Entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) load() (*registryFile, error) {
	doc := &registryFile{
		Entries: make(map[string]*Entry),
		Current: make(map[string]string),
	}

	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("failed to read registry file %s: %w", b.path, err)
	}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", b.path, err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]*Entry)
	}
	if doc.Current == nil {
		doc.Current = make(map[string]string)
	}
	return doc, nil
}

// store writes the document atomically: temp file in the target directory,
// fsync, rename.
func (b *FileBackend) store(doc *registryFile) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create registry dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp registry file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp registry file: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to commit registry: %w", err)
	}
	return nil
}
