// Package test_regression_model is the gated terminal step: it loads the
// promoted model export and the held-out test segment, re-checks the data
// bounds the model was trained under, and fails the pipeline when the test
// error exceeds the acceptance threshold. A failure here is a verdict on
// the data or the model, never an orchestration bug.
package test_regression_model

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/dataset"
	"github.com/modelyard/modelyard/internal/forest"
	"github.com/modelyard/modelyard/internal/gate"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

//go:embed manifest.hcl
var manifestHCL []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the parameters declared in the step type manifest.
type Input struct {
	ModelArtifact string  `yard:"model_artifact"`
	TestArtifact  string  `yard:"test_artifact"`
	MaxMAE        float64 `yard:"max_mae"`
	MinLongitude  float64 `yard:"min_longitude"`
	MaxLongitude  float64 `yard:"max_longitude"`
	MinLatitude   float64 `yard:"min_latitude"`
	MaxLatitude   float64 `yard:"max_latitude"`
}

// OnRunTestRegressionModel is the handler for the 'test_regression_model'
// step type.
func OnRunTestRegressionModel(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	modelMeta, modelData, err := sc.Fetch(ctx, in.ModelArtifact)
	if err != nil {
		return nil, err
	}
	model, err := forest.Load(modelData)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", in.ModelArtifact, err)
	}
	_, testData, err := sc.Fetch(ctx, in.TestArtifact)
	if err != nil {
		return nil, err
	}
	test, err := dataset.ReadBytes(testData)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.TestArtifact, err)
	}

	var report gate.Report
	checkBoundaries(&report, test, in)
	mae, r2 := checkError(&report, model, test, in.MaxMAE)

	logger.Info("Model gate finished",
		"model", modelMeta.Ref().String(),
		"test_rows", test.Len(),
		"mae", mae,
		"r2", r2)

	if err := report.Err(); err != nil {
		return nil, err
	}
	return &step.Result{
		Metrics: map[string]float64{
			"test_mae": mae,
			"test_r2":  r2,
		},
	}, nil
}

// checkBoundaries re-asserts the geographic domain on the test set. A point
// outside the bounds means the split saw data the cleaning step should have
// dropped, so the model's score cannot be trusted.
func checkBoundaries(report *gate.Report, t *dataset.Table, in *Input) {
	lonIdx, err := t.Column("longitude")
	if err != nil {
		report.Failf("geo_boundaries", "%v", err)
		return
	}
	latIdx, err := t.Column("latitude")
	if err != nil {
		report.Failf("geo_boundaries", "%v", err)
		return
	}
	var offending []string
	for i, row := range t.Rows {
		lon, lonErr := strconv.ParseFloat(row[lonIdx], 64)
		lat, latErr := strconv.ParseFloat(row[latIdx], 64)
		if lonErr != nil || latErr != nil ||
			lon < in.MinLongitude || lon > in.MaxLongitude ||
			lat < in.MinLatitude || lat > in.MaxLatitude {
			offending = append(offending, fmt.Sprintf("row %d: longitude=%s, latitude=%s",
				i+1, row[lonIdx], row[latIdx]))
		}
	}
	if len(offending) == 0 {
		report.Pass("geo_boundaries")
		return
	}
	report.Failf("geo_boundaries", "%d test rows outside the declared bounds: %s",
		len(offending), summarize(offending))
}

// checkError scores the model on the test set and gates on the MAE budget.
func checkError(report *gate.Report, model *forest.Model, test *dataset.Table, maxMAE float64) (mae, r2 float64) {
	mae, r2, err := model.Evaluate(test)
	if err != nil {
		report.Failf("test_error", "%v", err)
		return mae, r2
	}
	if mae <= maxMAE {
		report.Pass("test_error")
	} else {
		report.Failf("test_error", "test MAE %.4f exceeds max_mae %.4f (r2=%.4f)", mae, maxMAE, r2)
	}
	return mae, r2
}

// summarize keeps failure details readable when many rows offend.
func summarize(rows []string) string {
	const keep = 5
	if len(rows) <= keep {
		return strings.Join(rows, "; ")
	}
	return fmt.Sprintf("%s; and %d more", strings.Join(rows[:keep], "; "), len(rows)-keep)
}

// Manifest returns the embedded step type manifest.
func (m *Module) Manifest() config.Source {
	return config.Source{Filename: "steps/test_regression_model/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunTestRegressionModel", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunTestRegressionModel,
	})
}
