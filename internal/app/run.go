package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/pipeline"
	"github.com/modelyard/modelyard/internal/sweep"
)

// runPipeline executes the run command: one pipeline run, or a sweep when
// multirun is active.
func (a *App) runPipeline(ctx context.Context) error {
	reg, err := a.buildRegistry(ctx)
	if err != nil {
		return err
	}
	pipe, err := a.loadPipeline(ctx)
	if err != nil {
		return err
	}
	base, err := a.loadBaseTree(ctx)
	if err != nil {
		return err
	}
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	orch := pipeline.NewOrchestrator(reg, store, pipeline.Options{
		WorkRoot: a.cfg.WorkRoot,
		StoreURL: a.storeURL(),
	})

	if a.cfg.MultiRun {
		return a.runSweep(ctx, orch, base, pipe)
	}

	overrides, err := config.ParseOverrides(a.cfg.Overrides)
	if err != nil {
		return err
	}
	tree, err := config.Resolve(base, overrides)
	if err != nil {
		return err
	}
	selection, err := a.selection(tree)
	if err != nil {
		return err
	}

	_, err = orch.Execute(ctx, pipe, tree, selection, a.cfg.Overrides)
	return err
}

// runSweep expands the override assignments into a grid and fans out one
// independent pipeline run per point.
func (a *App) runSweep(ctx context.Context, orch *pipeline.Orchestrator, base *config.Tree, pipe *config.Pipeline) error {
	grid, err := sweep.ParseGrid(a.cfg.Overrides)
	if err != nil {
		return err
	}

	runPoint := func(ctx context.Context, point sweep.Point) (artifact.PipelineRunRecord, error) {
		tree, err := config.Resolve(base, point.Overrides)
		if err != nil {
			return artifact.PipelineRunRecord{}, err
		}
		selection, err := a.selection(tree)
		if err != nil {
			return artifact.PipelineRunRecord{}, err
		}
		return orch.Execute(ctx, pipe, tree, selection, point.Assignments)
	}

	controller := sweep.NewController(runPoint, a.cfg.Workers)
	results := controller.Run(ctx, grid)

	logger := ctxlog.FromContext(ctx)
	for _, r := range results {
		status := string(r.Record.Status)
		if r.Err != nil && r.Record.ID == "" {
			status = "not started"
		}
		logger.Info("Sweep point result",
			"point", r.Point.Index,
			"assignments", r.Point.Label(),
			"pipeline_run", r.Record.ID,
			"status", status)
	}

	// Points stay independent, but the batch exit reflects any failure.
	if failed := sweep.FailedCount(results); failed > 0 {
		return fmt.Errorf("sweep finished with %d of %d points failed", failed, len(results))
	}
	return nil
}

// selection resolves the step selection: the command line wins, otherwise
// the resolved tree's main.steps value decides, defaulting to "all".
func (a *App) selection(tree *config.Tree) ([]string, error) {
	if len(a.cfg.Selection) > 0 {
		return a.cfg.Selection, nil
	}

	path, err := config.ParsePath("main.steps")
	if err != nil {
		return nil, err
	}
	if !tree.Has(path) {
		return []string{pipeline.SelectAll}, nil
	}
	val, err := tree.Get(path)
	if err != nil {
		return nil, err
	}
	return SplitSelection(val.AsString()), nil
}

// SplitSelection parses a selection expression: "all" or a comma-separated
// list of step names.
func SplitSelection(expr string) []string {
	var out []string
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return []string{pipeline.SelectAll}
	}
	return out
}
