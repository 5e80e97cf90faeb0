// Package config loads stencil configuration from .stencil/config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all stencil configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Templates TemplatesConfig           `yaml:"templates"`
	Artifacts map[string]ArtifactConfig `yaml:"artifacts"`
	Registry  RegistryConfig            `yaml:"registry"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// TemplatesConfig configures template source lookup.
type TemplatesConfig struct {
	// Roots are searched in order for template sources.
	Roots []string `yaml:"roots"`
	// Watch enables fsnotify cache invalidation on the roots.
	Watch bool `yaml:"watch"`
}

// ArtifactConfig maps one artifact type to its concrete template plus
// per-type default context.
type ArtifactConfig struct {
	Template string         `yaml:"template"`
	Output   string         `yaml:"output,omitempty"` // default output path pattern
	Defaults map[string]any `yaml:"defaults,omitempty"`
}

// RegistryConfig selects and locates the version registry backend.
type RegistryConfig struct {
	// Backend is one of file, sqlite, memory.
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "stencil",
		Version: "1.0.0",
		Templates: TemplatesConfig{
			Roots: []string{"templates"},
		},
		Artifacts: make(map[string]ArtifactConfig),
		Registry: RegistryConfig{
			Backend: "file",
			Path:    filepath.Join(".stencil", "registry.yaml"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads .stencil/config.yaml under workspace, falling back to defaults
// when the file does not exist. Environment overrides apply either way.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".stencil", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()

	if cfg.Artifacts == nil {
		cfg.Artifacts = make(map[string]ArtifactConfig)
	}

	return cfg, nil
}

// applyEnvOverrides applies STENCIL_* environment variables on top of the
// loaded file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("STENCIL_TEMPLATE_ROOT"); v != "" {
		c.Templates.Roots = []string{v}
	}
	if v := os.Getenv("STENCIL_REGISTRY_BACKEND"); v != "" {
		c.Registry.Backend = v
	}
	if v := os.Getenv("STENCIL_REGISTRY_PATH"); v != "" {
		c.Registry.Path = v
	}
	if v := os.Getenv("STENCIL_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// TemplateFor implements the artifact-type mapping consumed by the
// scaffolder: artifact type to concrete template name and default context.
func (c *Config) TemplateFor(artifactType string) (string, map[string]any, error) {
	ac, ok := c.Artifacts[artifactType]
	if !ok {
		return "", nil, fmt.Errorf("unknown artifact type %q (configured: %d types)", artifactType, len(c.Artifacts))
	}
	return ac.Template, ac.Defaults, nil
}
