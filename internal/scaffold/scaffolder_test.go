package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"stencil/internal/chain"
	"stencil/internal/introspect"
	"stencil/internal/registry"
	"stencil/internal/template"
	"stencil/internal/validate"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// The scaffolder spawns goroutines (batch workers) but owns no watchers or
// file handles of its own; nothing here may outlive its test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// typeMap is a test double for the external artifact-type config.
type typeMap map[string]string

func (m typeMap) TemplateFor(artifactType string) (string, map[string]any, error) {
	name, ok := m[artifactType]
	if !ok {
		return "", nil, fmt.Errorf("unknown artifact type %q", artifactType)
	}
	return name, nil, nil
}

// failingBackend simulates an unavailable registry store.
type failingBackend struct{}

func (failingBackend) Get(string) (*registry.Entry, bool, error) {
	return nil, false, errors.New("disk on fire")
}
func (failingBackend) Put(*registry.Entry) error             { return errors.New("disk on fire") }
func (failingBackend) Current(string) (string, bool, error)  { return "", false, errors.New("disk on fire") }
func (failingBackend) Entries() ([]*registry.Entry, error)   { return nil, errors.New("disk on fire") }
func (failingBackend) Close() error                          { return nil }

type fixture struct {
	scaffolder *Scaffolder
	store      *template.Store
	backend    *registry.MemoryBackend
	outDir     string
}

func newFixture(t *testing.T, templates map[string]string, types typeMap) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name, source := range templates {
		path := filepath.Join(dir, name+".tmpl")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	}

	store := template.NewStore(dir)
	backend := registry.NewMemoryBackend()
	renderer := NewBasicRenderer(func(name string) (string, error) {
		node, err := store.Load(name)
		if err != nil {
			return "", err
		}
		return node.Source, nil
	})

	return &fixture{
		store:   store,
		backend: backend,
		outDir:  t.TempDir(),
		scaffolder: &Scaffolder{
			Resolver:     chain.NewResolver(store),
			Introspector: introspect.New(),
			Registry:     registry.New(backend),
			Validator:    validate.NewEngine(),
			Renderer:     renderer,
			Types:        types,
		},
	}
}

func workerTemplates() map[string]string {
	return map[string]string{
		"tier0": `{#---
version: "1.0.0"
validates:
  strict:
    - kind: must_match
      pattern: 'template=\w+ version=[0-9a-f]{8}'
      message: provenance header is missing
---#}
`,
		"worker": `{#---
version: "2.0.0"
---#}
{% extends "tier0" %}
name: {{ name }}
{% for cap in capabilities %}cap: {{ cap }}
{% endfor %}`,
	}
}

func TestScaffold_RoundTripProvenance(t *testing.T) {
	fx := newFixture(t, workerTemplates(), typeMap{"worker": "worker"})
	out := filepath.Join(fx.outDir, "worker.py")

	result, err := fx.scaffolder.Scaffold(context.Background(), Request{
		ArtifactType: "worker",
		Context:      map[string]any{"name": "indexer", "capabilities": []any{"crawl", "parse"}},
		OutputPath:   out,
	})
	require.NoError(t, err)

	assert.True(t, result.Validation.Passed)
	assert.True(t, result.Registered)
	assert.True(t, result.Written)
	assert.Contains(t, result.Artifact, "name: indexer")
	assert.Contains(t, result.Artifact, "cap: crawl")

	// Parse the header back out of the produced text and resolve the hash.
	header, err := ParseHeader(result.Artifact)
	require.NoError(t, err)
	assert.Equal(t, result.Hash, header.Hash)
	assert.Equal(t, "worker", header.ArtifactType)
	assert.Equal(t, out, header.OutputPath)

	entry, ok, err := fx.scaffolder.Registry.Lookup(header.Hash)
	require.NoError(t, err)
	require.True(t, ok)
	want := []registry.TemplateVersion{
		{TemplateName: "worker", Version: "2.0.0", Checksum: entry.Chain[0].Checksum},
		{TemplateName: "tier0", Version: "1.0.0", Checksum: entry.Chain[1].Checksum},
	}
	if diff := cmp.Diff(want, entry.Chain); diff != "" {
		t.Fatalf("registered chain mismatch (-want +got):\n%s", diff)
	}

	// The file on disk is the stamped artifact.
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, result.Artifact, string(data))
}

func TestScaffold_MissingRequiredAbortsBeforeSideEffects(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"design": "title: {{ title }}\nbody: {{ description }}\n",
	}, typeMap{"design": "design"})
	out := filepath.Join(fx.outDir, "design.md")

	_, err := fx.scaffolder.Scaffold(context.Background(), Request{
		ArtifactType: "design",
		Context:      map[string]any{"title": "x"},
		OutputPath:   out,
	})

	var missing *introspect.MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"description"}, missing.Missing)
	assert.Equal(t, "design", missing.ArtifactType)

	// No file written, no registry entry created.
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
	entries, err := fx.backend.Entries()
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestScaffold_AllMissingReportedAtOnce(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"design": "{{ title }} {{ description }} {{ owner }}\n",
	}, typeMap{"design": "design"})

	_, err := fx.scaffolder.Scaffold(context.Background(), Request{ArtifactType: "design"})

	var missing *introspect.MissingVariableError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"description", "owner", "title"}, missing.Missing)
}

func TestScaffold_StrictFailureBlocksPersistence(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doc": `{#---
validates:
  strict:
    - kind: contains
      pattern: NEVER-PRESENT
      message: mandated marker absent
---#}
{{ name }}
`,
	}, typeMap{"doc": "doc"})
	out := filepath.Join(fx.outDir, "doc.md")

	result, err := fx.scaffolder.Scaffold(context.Background(), Request{
		ArtifactType: "doc",
		Context:      map[string]any{"name": "x"},
		OutputPath:   out,
	})
	require.NoError(t, err, "validation failure is a result, not an error")

	assert.False(t, result.Validation.Passed)
	assert.True(t, result.Validation.Blocking)
	assert.False(t, result.Written)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "blocked artifacts are never persisted")
}

func TestScaffold_SecondCallIsRegistryCacheHit(t *testing.T) {
	fx := newFixture(t, workerTemplates(), typeMap{"dto": "worker"})

	ctx := context.Background()
	req := Request{ArtifactType: "dto", Context: map[string]any{"name": "a"}}

	first, err := fx.scaffolder.Scaffold(ctx, req)
	require.NoError(t, err)
	second, err := fx.scaffolder.Scaffold(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	entries, err := fx.backend.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 1, "identical chain versions register once")
}

func TestScaffold_RegistryUnavailable(t *testing.T) {
	templates := map[string]string{"doc": "{{ name }}\n"}

	t.Run("refuses by default", func(t *testing.T) {
		fx := newFixture(t, templates, typeMap{"doc": "doc"})
		fx.scaffolder.Registry = registry.New(failingBackend{})

		_, err := fx.scaffolder.Scaffold(context.Background(), Request{
			ArtifactType: "doc",
			Context:      map[string]any{"name": "x"},
		})
		var unavailable *registry.UnavailableError
		require.ErrorAs(t, err, &unavailable)
	})

	t.Run("degraded mode on explicit opt-in", func(t *testing.T) {
		fx := newFixture(t, templates, typeMap{"doc": "doc"})
		fx.scaffolder.Registry = registry.New(failingBackend{})

		result, err := fx.scaffolder.Scaffold(context.Background(), Request{
			ArtifactType:      "doc",
			Context:           map[string]any{"name": "x"},
			AllowUnregistered: true,
		})
		require.NoError(t, err)
		assert.False(t, result.Registered)
		assert.NotEmpty(t, result.Hash, "the hash is still computed for the header")
	})
}

func TestScaffold_SystemVariablesInRenderContext(t *testing.T) {
	fx := newFixture(t, map[string]string{
		"doc": "hash: {{ version_hash }}\ntype: {{ artifact_type }}\n",
	}, typeMap{"doc": "doc"})

	result, err := fx.scaffolder.Scaffold(context.Background(), Request{ArtifactType: "doc"})
	require.NoError(t, err)

	assert.Contains(t, result.Artifact, "hash: "+result.Hash,
		"the hash is exposed to the render context before final render")
	assert.Contains(t, result.Artifact, "type: doc")
}

func TestScaffoldAll_Concurrent(t *testing.T) {
	fx := newFixture(t, workerTemplates(), typeMap{
		"worker": "worker", "dto": "worker", "design": "worker",
	})

	reqs := []Request{
		{ArtifactType: "worker", Context: map[string]any{"name": "a"}},
		{ArtifactType: "dto", Context: map[string]any{"name": "b"}},
		{ArtifactType: "design", Context: map[string]any{"name": "c"}},
		{ArtifactType: "dto", Context: map[string]any{"name": "d"}},
	}
	results, err := fx.scaffolder.ScaffoldAll(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, res := range results {
		require.NotNil(t, res, "request %d", i)
		assert.True(t, res.Validation.Passed)
	}

	// Three distinct artifact types, four requests: three entries.
	entries, err := fx.backend.Entries()
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}
