// Package scaffold orchestrates one scaffold request: resolve the template
// chain, derive and check the variable schema, register the version hash,
// render, stamp provenance, and validate. Resolution and introspection
// failures surface before any rendering or registry I/O.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stencil/internal/chain"
	"stencil/internal/introspect"
	"stencil/internal/logging"
	"stencil/internal/registry"
	"stencil/internal/validate"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ArtifactTypes maps artifact type names to concrete template names and
// per-type default context. Supplied by the external config collaborator;
// the engine only consumes it.
type ArtifactTypes interface {
	TemplateFor(artifactType string) (templateName string, defaults map[string]any, err error)
}

// Request describes one scaffold invocation.
type Request struct {
	ArtifactType string
	Context      map[string]any
	// OutputPath is where the artifact will live; embedded in the header
	// and exposed to the render context. When set, a passing artifact is
	// written there.
	OutputPath string
	// AllowUnregistered opts into degraded mode: emit the artifact even
	// when its hash could not be persisted. Off by default - untraceable
	// output must be an explicit choice.
	AllowUnregistered bool
}

// Result is a completed scaffold: the stamped artifact and everything a
// caller needs to branch on.
type Result struct {
	Artifact   string
	Hash       string
	Schema     *introspect.Schema
	Validation *validate.Result
	Registered bool
	Written    bool
}

// Scaffolder wires the engine's components to an external renderer and an
// artifact-type mapping.
type Scaffolder struct {
	Resolver     *chain.Resolver
	Introspector *introspect.Introspector
	Registry     *registry.Registry
	Validator    *validate.Engine
	Renderer     Renderer
	Types        ArtifactTypes
}

// Scaffold runs one request through the full pipeline.
func (s *Scaffolder) Scaffold(ctx context.Context, req Request) (*Result, error) {
	reqID := uuid.NewString()[:8]
	log := logging.Get(logging.CategoryScaffold)
	timer := logging.StartTimer(logging.CategoryScaffold, "Scaffold "+req.ArtifactType)
	defer timer.Stop()

	log.Info("[%s] Scaffolding %s", reqID, req.ArtifactType)

	templateName, defaults, err := s.Types.TemplateFor(req.ArtifactType)
	if err != nil {
		return nil, err
	}

	c, err := s.Resolver.Resolve(templateName)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	schema, err := s.Introspector.Introspect(c)
	if err != nil {
		return nil, err
	}

	// Defaults fill in under caller-supplied values.
	merged := make(map[string]any, len(defaults)+len(req.Context))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range req.Context {
		merged[k] = v
	}

	// Missing required variables abort before rendering and before any
	// registry write, reported all at once.
	if missing := schema.Missing(merged); len(missing) > 0 {
		log.Warn("[%s] Missing required variables: %v", reqID, missing)
		return nil, &introspect.MissingVariableError{ArtifactType: req.ArtifactType, Missing: missing}
	}

	// Register first: the hash is a render-context variable.
	hash := registry.HashFor(req.ArtifactType, c)
	registered := true
	entry, err := s.Registry.Save(req.ArtifactType, c)
	if err != nil {
		var unavailable *registry.UnavailableError
		if !req.AllowUnregistered || !errors.As(err, &unavailable) {
			return nil, err
		}
		registered = false
		log.Warn("[%s] Registry unavailable, emitting unregistered artifact: %v", reqID, err)
	} else {
		hash = entry.Hash
	}

	created := time.Now().UTC()
	merged["artifact_type"] = req.ArtifactType
	merged["version_hash"] = hash
	merged["output_path"] = req.OutputPath
	merged["generated_at"] = created.Format(timeLayout)

	rendered, err := s.Renderer.Render(templateName, merged)
	if err != nil {
		return nil, fmt.Errorf("rendering %s failed: %w", templateName, err)
	}

	header := &Header{
		OutputPath:   req.OutputPath,
		ArtifactType: req.ArtifactType,
		Hash:         hash,
		Created:      created,
	}
	artifact := header.Render() + rendered

	validation, err := s.Validator.Validate(artifact, c)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Artifact:   artifact,
		Hash:       hash,
		Schema:     schema,
		Validation: validation,
		Registered: registered,
	}

	if validation.Blocking {
		log.Warn("[%s] Artifact rejected by strict validation (%d issues)", reqID, len(validation.Issues))
		return result, nil
	}

	if req.OutputPath != "" {
		if err := writeArtifact(req.OutputPath, artifact); err != nil {
			return result, err
		}
		result.Written = true
		log.Info("[%s] Wrote %s (%s)", reqID, req.OutputPath, hash)
	}

	return result, nil
}

// ScaffoldAll runs a batch of requests concurrently. The registry backend
// serializes writers, so identical chains across the batch register once and
// hit the cache thereafter.
func (s *Scaffolder) ScaffoldAll(ctx context.Context, reqs []Request) ([]*Result, error) {
	results := make([]*Result, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			res, err := s.Scaffold(ctx, req)
			if err != nil {
				return fmt.Errorf("scaffolding %s: %w", req.ArtifactType, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeArtifact(path, artifact string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output dir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(artifact), 0644); err != nil {
		return fmt.Errorf("failed to write artifact %s: %w", path, err)
	}
	return nil
}
