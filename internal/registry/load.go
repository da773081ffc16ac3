package registry

import (
	"context"
	"fmt"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/fsutil"
)

// LoadModules registers built-in step modules: each module's handlers
// first, then the step types declared by its embedded manifest.
func (r *Registry) LoadModules(ctx context.Context, loader config.Loader, modules ...Module) error {
	logger := ctxlog.FromContext(ctx)

	sources := make([]config.Source, 0, len(modules))
	for _, m := range modules {
		m.Register(r)
		sources = append(sources, m.Manifest())
	}
	defs, err := loader.LoadStepTypes(ctx, sources...)
	if err != nil {
		return fmt.Errorf("loading built-in step types: %w", err)
	}
	if err := r.AddDefinitions(defs); err != nil {
		return err
	}
	logger.Debug("Built-in step modules registered", "count", len(modules))
	return nil
}

// LoadManifestsDir discovers step type manifests under dir and merges them
// into the registry. A directory containing no manifests is not an error;
// it just contributes nothing.
func (r *Registry) LoadManifestsDir(ctx context.Context, loader config.Loader, dir string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading step type manifests from directory...", "path", dir)

	paths, err := fsutil.FindFilesByExtension(dir, ".hcl")
	if err != nil {
		return fmt.Errorf("walking step type directory %s: %w", dir, err)
	}
	if len(paths) == 0 {
		logger.Warn("No .hcl manifests found in step type directory", "path", dir)
		return nil
	}

	sources, err := fsutil.ReadSources(paths)
	if err != nil {
		return err
	}
	defs, err := loader.LoadStepTypes(ctx, sources...)
	if err != nil {
		return err
	}
	if err := r.AddDefinitions(defs); err != nil {
		return err
	}

	logger.Info("Step type manifests loaded.", "path", dir, "step_types_loaded", len(defs))
	return nil
}
