package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/registry"
)

// Options tunes how an orchestrator executes steps.
type Options struct {
	// WorkRoot is the directory under which each step run gets a private
	// scratch directory. Defaults to a modelyard directory under the
	// system temp dir.
	WorkRoot string

	// StoreURL, when steps run against a remote store, is exported to
	// external step processes so they can reach it directly.
	StoreURL string
}

// Orchestrator executes pipeline runs: one plan, then its steps strictly in
// order, halting at the first failure. Sweeps run several orchestrations in
// parallel; the store is the only state they share.
type Orchestrator struct {
	planner *Planner
	runner  *Runner
	store   artifact.Store
}

func NewOrchestrator(reg *registry.Registry, store artifact.Store, opts Options) *Orchestrator {
	if opts.WorkRoot == "" {
		opts.WorkRoot = filepath.Join(os.TempDir(), "modelyard")
	}
	return &Orchestrator{
		planner: NewPlanner(reg),
		runner:  NewRunner(store, reg, opts),
		store:   store,
	}
}

// Execute plans and runs one pipeline under the given resolved
// configuration. The returned record reflects the run's terminal state even
// when err is non-nil; overrides are kept verbatim for provenance.
func (o *Orchestrator) Execute(ctx context.Context, pipe *config.Pipeline, tree *config.Tree, selection []string, overrides []string) (artifact.PipelineRunRecord, error) {
	logger := ctxlog.FromContext(ctx)

	plan, err := o.planner.Plan(ctx, pipe, tree, selection)
	if err != nil {
		return artifact.PipelineRunRecord{}, err
	}

	rec := artifact.PipelineRunRecord{
		ID:        uuid.NewString(),
		Pipeline:  pipe.Name,
		Status:    artifact.RunRunning,
		StartedAt: time.Now().UTC(),
		Config:    tree.Snapshot(),
		Overrides: overrides,
		Selection: plan.StepNames(),
	}
	if err := o.store.PutPipelineRun(ctx, rec); err != nil {
		return rec, fmt.Errorf("recording pipeline run: %w", err)
	}

	runLogger := logger.With("pipeline", pipe.Name, "pipeline_run", rec.ID)
	runCtx := ctxlog.WithLogger(ctx, runLogger)
	runLogger.Info("🚀 Pipeline run starting", "steps", rec.Selection)

	// pins accumulates the exact versions written by earlier steps, so
	// later unqualified references resolve to this run's own outputs.
	pins := make(map[string]artifact.Ref)

	for _, node := range plan.Steps {
		runRec, stepErr := o.runner.RunStep(runCtx, node, pins, rec.ID)
		if stepErr == nil {
			continue
		}

		rec.Status = artifact.RunFailed
		if runRec.Status == artifact.RunGateFailed {
			rec.Status = artifact.RunGateFailed
		}
		rec.FailedStep = node.Name()
		rec.Error = stepErr.Error()
		rec.FinishedAt = time.Now().UTC()
		if putErr := o.store.PutPipelineRun(runCtx, rec); putErr != nil {
			runLogger.Error("Failed to persist pipeline run failure.", "error", putErr)
		}
		runLogger.Error("⛔ Pipeline run halted.", "failed_step", node.Name(), "error", stepErr)
		return rec, stepErr
	}

	rec.Status = artifact.RunSucceeded
	rec.FinishedAt = time.Now().UTC()
	if err := o.store.PutPipelineRun(runCtx, rec); err != nil {
		return rec, fmt.Errorf("recording pipeline run: %w", err)
	}
	runLogger.Info("✅ Pipeline run finished", "duration", rec.FinishedAt.Sub(rec.StartedAt).Round(time.Millisecond))
	return rec, nil
}
