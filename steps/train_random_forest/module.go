// Package train_random_forest fits the price regression forest on the
// trainval segment, scores it on a seeded validation holdout, and exports
// the fitted model as a JSON artifact.
package train_random_forest

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/dataset"
	"github.com/modelyard/modelyard/internal/forest"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

//go:embed manifest.hcl
var manifestHCL []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the parameters declared in the step type manifest.
type Input struct {
	InputArtifact       string   `yard:"input_artifact"`
	OutputArtifact      string   `yard:"output_artifact"`
	OutputType          string   `yard:"output_type"`
	Target              string   `yard:"target"`
	NumericFeatures     []string `yard:"numeric_features"`
	CategoricalFeatures []string `yard:"categorical_features"`
	ValSize             float64  `yard:"val_size"`
	RandomSeed          int      `yard:"random_seed"`
	NEstimators         int      `yard:"n_estimators"`
	MaxDepth            int      `yard:"max_depth"`
	MinSamplesSplit     int      `yard:"min_samples_split"`
	MinSamplesLeaf      int      `yard:"min_samples_leaf"`
}

// OnRunTrainRandomForest is the handler for the 'train_random_forest'
// step type.
func OnRunTrainRandomForest(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	if in.ValSize <= 0 || in.ValSize >= 1 {
		return nil, fmt.Errorf("val_size must be strictly between 0 and 1, got %g", in.ValSize)
	}
	if len(in.NumericFeatures) == 0 && len(in.CategoricalFeatures) == 0 {
		return nil, fmt.Errorf("at least one feature column is required")
	}

	_, data, err := sc.Fetch(ctx, in.InputArtifact)
	if err != nil {
		return nil, err
	}
	table, err := dataset.ReadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.InputArtifact, err)
	}

	train, val, err := holdout(table, in.ValSize, int64(in.RandomSeed))
	if err != nil {
		return nil, err
	}

	schema, err := forest.FitSchema(train, in.Target, in.NumericFeatures, in.CategoricalFeatures)
	if err != nil {
		return nil, err
	}
	x, y, _, err := schema.Encode(train)
	if err != nil {
		return nil, err
	}

	logger.Info("Training forest",
		"train_rows", len(x),
		"val_rows", val.Len(),
		"features", len(schema.FeatureNames()),
		"n_estimators", in.NEstimators,
		"max_depth", in.MaxDepth)

	model, err := forest.Train(x, y, schema, forest.Params{
		NEstimators:     in.NEstimators,
		MaxDepth:        in.MaxDepth,
		MinSamplesSplit: in.MinSamplesSplit,
		MinSamplesLeaf:  in.MinSamplesLeaf,
		Seed:            int64(in.RandomSeed),
	})
	if err != nil {
		return nil, err
	}

	mae, r2, err := model.Evaluate(val)
	if err != nil {
		return nil, fmt.Errorf("scoring validation holdout: %w", err)
	}
	logger.Info("Validation scores", "mae", mae, "r2", r2)

	payload, err := model.Bytes()
	if err != nil {
		return nil, fmt.Errorf("exporting model: %w", err)
	}

	return &step.Result{
		Artifacts: []step.Produced{{
			Name:        in.OutputArtifact,
			Type:        in.OutputType,
			Description: "Random forest price regressor export",
			Payload:     payload,
		}},
		Metrics: map[string]float64{
			"mae": mae,
			"r2":  r2,
		},
	}, nil
}

// holdout carves a seeded validation segment out of the trainval table.
func holdout(t *dataset.Table, valSize float64, seed int64) (train, val *dataset.Table, err error) {
	if t.Len() < 4 {
		return nil, nil, fmt.Errorf("trainval segment has %d rows, need at least 4 to hold out a validation set", t.Len())
	}
	rng := rand.New(rand.NewSource(seed))
	perm := rng.Perm(t.Len())

	n := int(float64(t.Len()) * valSize)
	if n < 1 {
		n = 1
	}
	if n >= t.Len() {
		n = t.Len() - 1
	}
	return t.Subset(perm[n:]), t.Subset(perm[:n]), nil
}

// Manifest returns the embedded step type manifest.
func (m *Module) Manifest() config.Source {
	return config.Source{Filename: "steps/train_random_forest/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunTrainRandomForest", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunTrainRandomForest,
	})
}
