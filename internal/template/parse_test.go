package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource_Directives(t *testing.T) {
	source := `{% extends "tier2_python" %}
{% import "macros/common" as common %}
{% import "macros/docs" as docs %}
{% block body %}
{% macro render_name(name) %}{{ name }}{% endmacro %}
{% endblock %}
`
	node, err := parseSource("worker", "worker.tmpl", source, nil)
	require.NoError(t, err)

	assert.Equal(t, "tier2_python", node.Parent)
	require.Len(t, node.Imports, 2)
	assert.Equal(t, Import{Path: "macros/common", Alias: "common"}, node.Imports[0])
	assert.Equal(t, Import{Path: "macros/docs", Alias: "docs"}, node.Imports[1])
	assert.Equal(t, []string{"body"}, node.Blocks)
	assert.Equal(t, []string{"render_name"}, node.Macros)
	assert.NotEmpty(t, node.Fingerprint)
}

func TestParseSource_Malformed(t *testing.T) {
	cases := []struct {
		name   string
		source string
	}{
		{"unquoted extends target", `{% extends tier0 %}`},
		{"empty extends target", `{% extends "" %}`},
		{"duplicate extends", "{% extends \"a\" %}\n{% extends \"b\" %}"},
		{"import without alias", `{% import "macros/common" %}`},
		{"import with unquoted target", `{% import macros as m %}`},
		{"macro without parens", `{% macro broken %}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseSource("bad", "bad.tmpl", tc.source, nil)
			require.Error(t, err)

			var malformed *MalformedError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "bad.tmpl", malformed.Path)
			assert.Greater(t, malformed.Line, 0, "malformed errors carry the line")
		})
	}
}

func TestParseSource_EmbeddedSidecar(t *testing.T) {
	source := `{#---
version: "1.2.0"
enforcement: strict
required:
  - name
validates:
  strict:
    - kind: must_match
      pattern: 'template=\w+'
      message: header required
  guidelines:
    - kind: contains
      pattern: TODO
      message: leave a todo
---#}
{{ name }}
`
	node, err := parseSource("t", "t.tmpl", source, nil)
	require.NoError(t, err)

	assert.Equal(t, "1.2.0", node.Meta.Version)
	assert.Equal(t, "1.2.0", node.Version())
	assert.Equal(t, "strict", node.Meta.Enforcement)
	assert.Equal(t, []string{"name"}, node.Meta.Required)
	require.Len(t, node.Meta.Validates.Strict, 1)
	assert.Equal(t, "must_match", node.Meta.Validates.Strict[0].Kind)
	require.Len(t, node.Meta.Validates.Guidelines, 1)
}

func TestParseSource_SidecarErrors(t *testing.T) {
	t.Run("unterminated block", func(t *testing.T) {
		_, err := parseSource("t", "t.tmpl", "{#---\nversion: 1\n", nil)
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		_, err := parseSource("t", "t.tmpl", "{#---\n: : :\n---#}\n", nil)
		var malformed *MalformedError
		require.ErrorAs(t, err, &malformed)
	})
}

func TestParseSource_NoSidecarDefaults(t *testing.T) {
	node, err := parseSource("t", "t.tmpl", "plain text {{ x }}\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", node.Version())
	assert.Empty(t, node.Parent)
}

func TestParseSource_ExplicitSidecarWins(t *testing.T) {
	source := "{#---\nversion: \"1.0.0\"\n---#}\nbody\n"
	node, err := parseSource("t", "t.tmpl", source, &Sidecar{Version: "2.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", node.Version(), "meta.yaml sidecar wins over the embedded block")
}
