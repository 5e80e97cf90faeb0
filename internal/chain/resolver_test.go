package chain

import (
	"os"
	"path/filepath"
	"testing"

	"stencil/internal/template"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemplates(t *testing.T, templates map[string]string) *template.Store {
	t.Helper()
	dir := t.TempDir()
	for name, source := range templates {
		path := filepath.Join(dir, name+".tmpl")
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(source), 0644))
	}
	return template.NewStore(dir)
}

func TestResolver_WalksToRoot(t *testing.T) {
	store := writeTemplates(t, map[string]string{
		"tier0":           "universal\n",
		"tier1_code":      "{% extends \"tier0\" %}\ncode\n",
		"tier2_python":    "{% extends \"tier1_code\" %}\npython\n",
		"concrete_worker": "{% extends \"tier2_python\" %}\n{{ name }}\n",
	})
	resolver := NewResolver(store)

	c, err := resolver.Resolve("concrete_worker")
	require.NoError(t, err)

	want := []string{"concrete_worker", "tier2_python", "tier1_code", "tier0"}
	if diff := cmp.Diff(want, c.Names()); diff != "" {
		t.Fatalf("chain order mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "concrete_worker", c.Leaf().Name)
	assert.Equal(t, "tier0", c.Root().Name)
	assert.Empty(t, c.Root().Parent)
}

func TestResolver_Cycle(t *testing.T) {
	store := writeTemplates(t, map[string]string{
		"self":  "{% extends \"other\" %}\n",
		"other": "{% extends \"self\" %}\n",
	})
	resolver := NewResolver(store)

	_, err := resolver.Resolve("self")
	var circular *CircularError
	require.ErrorAs(t, err, &circular)
	assert.Equal(t, []string{"self", "other", "self"}, circular.Cycle,
		"the error identifies the loop in walk order")
}

func TestResolver_SelfCycle(t *testing.T) {
	store := writeTemplates(t, map[string]string{
		"loner": "{% extends \"loner\" %}\n",
	})
	resolver := NewResolver(store)

	_, err := resolver.Resolve("loner")
	var circular *CircularError
	require.ErrorAs(t, err, &circular)
	assert.Equal(t, []string{"loner", "loner"}, circular.Cycle)
}

func TestResolver_UnknownTemplate(t *testing.T) {
	store := writeTemplates(t, map[string]string{
		"child": "{% extends \"ghost\" %}\n",
	})
	resolver := NewResolver(store)

	t.Run("unknown leaf", func(t *testing.T) {
		_, err := resolver.Resolve("missing")
		var notFound *template.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "missing", notFound.Name)
	})

	t.Run("unknown chain member", func(t *testing.T) {
		_, err := resolver.Resolve("child")
		var notFound *template.NotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ghost", notFound.Name)
	})
}

func TestResolver_FlattensImports(t *testing.T) {
	store := writeTemplates(t, map[string]string{
		"tier0":         "{% import \"macros/base\" as base %}\n",
		"worker":        "{% extends \"tier0\" %}\n{% import \"macros/ui\" as ui %}\n",
		"macros/base":   "{% macro heading(text) %}# {{ text }}{% endmacro %}\n",
		"macros/ui":     "{% import \"macros/shared\" as shared %}\n{% macro button(label) %}[{{ label }}]{% endmacro %}\n",
		"macros/shared": "{% macro hr() %}---{% endmacro %}\n",
	})
	resolver := NewResolver(store)

	c, err := resolver.Resolve("worker")
	require.NoError(t, err)

	var libNames []string
	for _, lib := range c.Imports {
		libNames = append(libNames, lib.Name)
	}
	assert.ElementsMatch(t, []string{"macros/base", "macros/ui", "macros/shared"}, libNames,
		"pattern libraries flatten transitively")

	aliases := c.ImportAliases()
	assert.True(t, aliases["base"])
	assert.True(t, aliases["ui"])
	assert.True(t, aliases["shared"])
}

func TestResolver_CacheInvalidatesOnSourceChange(t *testing.T) {
	dir := t.TempDir()
	write := func(name, source string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name+".tmpl"), []byte(source), 0644))
	}
	write("tier0", "root\n")
	write("worker", "{% extends \"tier0\" %}\n")

	store := template.NewStore(dir)
	resolver := NewResolver(store)

	first, err := resolver.Resolve("worker")
	require.NoError(t, err)
	firstKey := first.Key()

	// Editing a parent must produce a fresh chain with a new key.
	write("tier0", "root v2\n")

	second, err := resolver.Resolve("worker")
	require.NoError(t, err)
	assert.NotEqual(t, firstKey, second.Key())
	assert.Contains(t, second.Root().Source, "v2")
}
