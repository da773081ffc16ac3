package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/registry"
)

// openStore connects to the configured artifact store: a local Badger
// directory, or a remote store server when the location is an http(s) URL.
func (a *App) openStore(ctx context.Context) (artifact.Store, error) {
	logger := ctxlog.FromContext(ctx)

	if strings.HasPrefix(a.cfg.StorePath, "http://") || strings.HasPrefix(a.cfg.StorePath, "https://") {
		logger.Debug("Using remote artifact store.", "url", a.cfg.StorePath)
		return artifact.NewClient(a.cfg.StorePath), nil
	}

	logger.Debug("Opening local artifact store.", "dir", a.cfg.StorePath)
	store, err := artifact.OpenBadger(a.cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("opening artifact store at %s: %w", a.cfg.StorePath, err)
	}
	return store, nil
}

// storeURL reports the remote store URL external step processes should use,
// or empty when the store is process-local.
func (a *App) storeURL() string {
	if strings.HasPrefix(a.cfg.StorePath, "http://") || strings.HasPrefix(a.cfg.StorePath, "https://") {
		return a.cfg.StorePath
	}
	return ""
}

// buildRegistry registers the built-in step modules, merges user manifests
// from the steps directory, and validates manifest/handler parity. Any
// mismatch here is fatal before a single step executes.
func (a *App) buildRegistry(ctx context.Context) (*registry.Registry, error) {
	reg := registry.New()
	if err := reg.LoadModules(ctx, a.loader, a.modules...); err != nil {
		return nil, err
	}
	if a.cfg.StepsDir != "" {
		if err := reg.LoadManifestsDir(ctx, a.loader, a.cfg.StepsDir); err != nil {
			return nil, err
		}
	}
	if err := registry.Validate(ctx, reg); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Registry validation passed.", "step_types", reg.TypeNames())
	return reg, nil
}

// loadPipeline reads the pipeline definition.
func (a *App) loadPipeline(ctx context.Context) (*config.Pipeline, error) {
	return a.loader.LoadPipeline(ctx, a.cfg.PipelinePath)
}

// loadBaseTree reads the base parameter tree. No params file means the
// built-in defaults carry the run alone.
func (a *App) loadBaseTree(ctx context.Context) (*config.Tree, error) {
	if a.cfg.ParamsPath == "" {
		ctxlog.FromContext(ctx).Debug("No params file given; using built-in defaults only.")
		return config.EmptyTree(), nil
	}
	tree, err := config.FromYAMLFile(a.cfg.ParamsPath)
	if err != nil {
		return nil, fmt.Errorf("loading params file %s: %w", a.cfg.ParamsPath, err)
	}
	return tree, nil
}
