package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, workspace, content string) {
	t.Helper()
	dir := filepath.Join(workspace, ".stencil")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "stencil", cfg.Name)
	assert.Equal(t, []string{"templates"}, cfg.Templates.Roots)
	assert.Equal(t, "file", cfg.Registry.Backend)
	assert.Equal(t, filepath.Join(".stencil", "registry.yaml"), cfg.Registry.Path)
	assert.NotNil(t, cfg.Artifacts)
	assert.False(t, cfg.Logging.DebugMode)
}

func TestLoad_File(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, `
name: myproject
templates:
  roots:
    - templates
    - shared/templates
  watch: true
artifacts:
  worker:
    template: worker
    defaults:
      tier: 2
  design-doc:
    template: docs/design
registry:
  backend: sqlite
  path: .stencil/registry.db
logging:
  debug_mode: true
  categories:
    chain: true
`)

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "myproject", cfg.Name)
	assert.Equal(t, []string{"templates", "shared/templates"}, cfg.Templates.Roots)
	assert.True(t, cfg.Templates.Watch)
	assert.Equal(t, "sqlite", cfg.Registry.Backend)
	assert.True(t, cfg.Logging.DebugMode)
	assert.True(t, cfg.Logging.Categories["chain"])

	name, defaults, err := cfg.TemplateFor("worker")
	require.NoError(t, err)
	assert.Equal(t, "worker", name)
	assert.Equal(t, 2, defaults["tier"])

	name, defaults, err = cfg.TemplateFor("design-doc")
	require.NoError(t, err)
	assert.Equal(t, "docs/design", name)
	assert.Nil(t, defaults)
}

func TestLoad_MalformedFile(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, "registry: [not, a, mapping]\n")

	_, err := Load(ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoad_EnvOverrides(t *testing.T) {
	ws := t.TempDir()
	writeConfig(t, ws, "registry:\n  backend: sqlite\n  path: a.db\n")

	t.Setenv("STENCIL_TEMPLATE_ROOT", "/srv/templates")
	t.Setenv("STENCIL_REGISTRY_BACKEND", "memory")
	t.Setenv("STENCIL_DEBUG", "1")

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, []string{"/srv/templates"}, cfg.Templates.Roots)
	assert.Equal(t, "memory", cfg.Registry.Backend, "env beats the file")
	assert.Equal(t, "a.db", cfg.Registry.Path, "unset env leaves the file value")
	assert.True(t, cfg.Logging.DebugMode)
}

func TestTemplateFor_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	_, _, err := cfg.TemplateFor("ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"ghost"`)
}
