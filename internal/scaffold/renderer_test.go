package scaffold

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderString(t *testing.T, source string, ctx map[string]any) string {
	t.Helper()
	r := NewBasicRenderer(func(string) (string, error) { return source, nil })
	out, err := r.Render("x", ctx)
	require.NoError(t, err)
	return out
}

func TestBasicRenderer_Substitution(t *testing.T) {
	tests := []struct {
		name   string
		source string
		ctx    map[string]any
		want   string
	}{
		{
			name:   "plain variable",
			source: "name: {{ name }}",
			ctx:    map[string]any{"name": "indexer"},
			want:   "name: indexer",
		},
		{
			name:   "dotted lookup",
			source: "tier: {{ worker.tier }}",
			ctx:    map[string]any{"worker": map[string]any{"tier": 2}},
			want:   "tier: 2",
		},
		{
			name:   "default filter falls back",
			source: `timeout: {{ timeout | default("30s") }}`,
			ctx:    map[string]any{},
			want:   "timeout: 30s",
		},
		{
			name:   "default filter prefers supplied value",
			source: `timeout: {{ timeout | default("30s") }}`,
			ctx:    map[string]any{"timeout": "5s"},
			want:   "timeout: 5s",
		},
		{
			name:   "unset variable renders empty",
			source: "owner: {{ owner }}",
			ctx:    map[string]any{},
			want:   "owner: ",
		},
		{
			name:   "whitespace-control markers accepted",
			source: "{{- name -}}",
			ctx:    map[string]any{"name": "x"},
			want:   "x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, renderString(t, tt.source, tt.ctx))
		})
	}
}

func TestBasicRenderer_Conditionals(t *testing.T) {
	source := "{% if debug %}level: debug\n{% endif %}name: {{ name }}\n"

	t.Run("truthy keeps the branch", func(t *testing.T) {
		out := renderString(t, source, map[string]any{"debug": true, "name": "a"})
		assert.Equal(t, "level: debug\nname: a\n", out)
	})
	t.Run("falsy drops the branch", func(t *testing.T) {
		out := renderString(t, source, map[string]any{"debug": false, "name": "a"})
		assert.Equal(t, "name: a\n", out)
	})
	t.Run("absent behaves as falsy", func(t *testing.T) {
		out := renderString(t, source, map[string]any{"name": "a"})
		assert.Equal(t, "name: a\n", out)
	})
	t.Run("empty slice is falsy", func(t *testing.T) {
		out := renderString(t, source, map[string]any{"debug": []any{}, "name": "a"})
		assert.Equal(t, "name: a\n", out)
	})
}

func TestBasicRenderer_ForLoops(t *testing.T) {
	source := "{% for cap in capabilities %}- {{ cap }}\n{% endfor %}"

	t.Run("iterates any slice", func(t *testing.T) {
		out := renderString(t, source, map[string]any{"capabilities": []string{"crawl", "parse"}})
		assert.Equal(t, "- crawl\n- parse\n", out)
	})
	t.Run("missing iterable yields nothing", func(t *testing.T) {
		assert.Equal(t, "", renderString(t, source, map[string]any{}))
	})
	t.Run("loop variable shadows outer binding", func(t *testing.T) {
		out := renderString(t, "{% for cap in caps %}{{ cap }} {% endfor %}{{ cap }}",
			map[string]any{"caps": []any{"a"}, "cap": "outer"})
		assert.Equal(t, "a outer", out)
	})
}

func TestBasicRenderer_StripsStructuralTags(t *testing.T) {
	source := "{% extends \"tier0\" %}\n{% import \"lib\" as lib %}\n{% block body %}hi{% endblock %}\n"
	out := renderString(t, source, nil)
	assert.NotContains(t, out, "{%")
	assert.Contains(t, out, "hi")
}

func TestBasicRenderer_StripsComments(t *testing.T) {
	source := "{#---\nversion: \"1.0.0\"\n---#}\n{# inline note #}name: {{ name }}\n"
	out := renderString(t, source, map[string]any{"name": "x"})
	assert.Equal(t, "name: x\n", out)
}

func TestBasicRenderer_SourceError(t *testing.T) {
	r := NewBasicRenderer(func(name string) (string, error) {
		return "", fmt.Errorf("no template %q", name)
	})
	_, err := r.Render("ghost", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}
