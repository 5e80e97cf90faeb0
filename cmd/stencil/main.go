// stencil scaffolds artifacts from hierarchical template chains: it resolves
// a template's inheritance chain, derives the variable contract, stamps the
// output with a registry-backed provenance hash, and validates the result
// against the chain's rule pipeline.
package main

import (
	"fmt"
	"os"
	"strings"

	"stencil/internal/chain"
	"stencil/internal/config"
	"stencil/internal/introspect"
	"stencil/internal/logging"
	"stencil/internal/registry"
	"stencil/internal/scaffold"
	"stencil/internal/template"
	"stencil/internal/validate"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stencil",
	Short: "stencil - hierarchical template scaffolding engine",
	Long: `stencil generates artifacts from chains of hierarchical templates.

Each template extends at most one parent and may import pattern libraries
under an alias. A scaffold request resolves the chain, infers which context
variables are required, registers a provenance hash, renders, and validates
the result against the chain's layered rule set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

// engine bundles everything a subcommand needs.
type engine struct {
	cfg        *config.Config
	store      *template.Store
	resolver   *chain.Resolver
	scaffolder *scaffold.Scaffolder
	registry   *registry.Registry
	backend    registry.Backend
}

func newEngine() (*engine, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}

	roots := make([]string, len(cfg.Templates.Roots))
	for i, root := range cfg.Templates.Roots {
		roots[i] = resolvePath(root)
	}
	store := template.NewStore(roots...)
	resolver := chain.NewResolver(store)

	backend, err := newBackend(cfg)
	if err != nil {
		return nil, err
	}
	reg := registry.New(backend)

	renderer := scaffold.NewBasicRenderer(func(name string) (string, error) {
		node, err := store.Load(name)
		if err != nil {
			return "", err
		}
		return node.Source, nil
	})

	return &engine{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		registry: reg,
		backend:  backend,
		scaffolder: &scaffold.Scaffolder{
			Resolver:     resolver,
			Introspector: introspect.New(),
			Registry:     reg,
			Validator:    validate.NewEngine(),
			Renderer:     renderer,
			Types:        cfg,
		},
	}, nil
}

func (e *engine) close() {
	if err := e.backend.Close(); err != nil {
		logger.Warn("Failed to close registry backend", zap.Error(err))
	}
}

func newBackend(cfg *config.Config) (registry.Backend, error) {
	switch cfg.Registry.Backend {
	case "", "file":
		return registry.NewFileBackend(resolvePath(cfg.Registry.Path)), nil
	case "sqlite":
		return registry.NewSQLiteBackend(resolvePath(cfg.Registry.Path))
	case "memory":
		return registry.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown registry backend %q (want file, sqlite, or memory)", cfg.Registry.Backend)
	}
}

func resolvePath(path string) string {
	if path == "" || strings.HasPrefix(path, "/") {
		return path
	}
	return workspace + "/" + path
}

func main() {
	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", cwd, "workspace directory")

	rootCmd.AddCommand(scaffoldCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(registryCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
