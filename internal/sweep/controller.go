package sweep

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// RunPointFunc executes one pipeline run with a sweep point's overrides
// applied at the sweep precedence layer.
type RunPointFunc func(ctx context.Context, point Point) (artifact.PipelineRunRecord, error)

// PointResult pairs a grid point with the outcome of its run.
type PointResult struct {
	Point  Point
	Record artifact.PipelineRunRecord
	Err    error
}

// Controller fans a grid out into independent pipeline runs. Points share
// nothing but the artifact store; one point failing neither cancels nor
// taints the others.
type Controller struct {
	run     RunPointFunc
	workers int
}

// NewController builds a controller running at most workers points in
// parallel. workers below 1 means sequential execution.
func NewController(run RunPointFunc, workers int) *Controller {
	if workers < 1 {
		workers = 1
	}
	return &Controller{run: run, workers: workers}
}

// Run executes every point of the grid and reports per-point outcomes in
// enumeration order. Failures are collected, never propagated early: the
// slice always has one entry per grid point.
func (c *Controller) Run(ctx context.Context, grid *Grid) []PointResult {
	logger := ctxlog.FromContext(ctx)
	points := grid.Points()
	results := make([]PointResult, len(points))

	logger.Info("🧪 Sweep starting", "points", len(points), "workers", c.workers)

	var group errgroup.Group
	group.SetLimit(c.workers)
	for i, point := range points {
		group.Go(func() error {
			pointLogger := logger.With("point", point.Index, "assignments", point.Label())
			pctx := ctxlog.WithLogger(ctx, pointLogger)

			pointLogger.Info("▶️ Sweep point starting")
			rec, err := c.run(pctx, point)
			results[i] = PointResult{Point: point, Record: rec, Err: err}
			if err != nil {
				pointLogger.Error("⛔ Sweep point failed.", "error", err)
			} else {
				pointLogger.Info("✅ Sweep point finished", "pipeline_run", rec.ID)
			}
			return nil
		})
	}
	group.Wait()

	failed := FailedCount(results)
	if failed > 0 {
		logger.Warn("Sweep finished with failures.", "points", len(points), "failed", failed)
	} else {
		logger.Info("✅ Sweep finished", "points", len(points))
	}
	return results
}

// FailedCount reports how many points of a finished sweep failed.
func FailedCount(results []PointResult) int {
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	return failed
}
