package forest

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"

	"github.com/modelyard/modelyard/internal/dataset"
)

// Params are the training hyperparameters, mirroring the step manifest
// surface of the training step.
type Params struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	Seed            int64 `json:"seed"`
}

// Model is a trained bagged regression forest together with the encoding
// schema it was fit under. The whole struct round-trips through JSON as the
// model-export artifact payload.
type Model struct {
	Schema *Schema `json:"schema"`
	Params Params  `json:"params"`
	Trees  []Tree  `json:"trees"`
}

// Train fits a bagged forest: each tree grows on a bootstrap sample drawn
// from a deterministic per-tree RNG, so the same seed always yields the
// same model.
func Train(x [][]float64, y []float64, schema *Schema, p Params) (*Model, error) {
	if p.NEstimators < 1 {
		return nil, fmt.Errorf("n_estimators must be at least 1, got %d", p.NEstimators)
	}
	if p.MaxDepth < 1 {
		return nil, fmt.Errorf("max_depth must be at least 1, got %d", p.MaxDepth)
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = 1
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = 2
	}

	m := &Model{Schema: schema, Params: p, Trees: make([]Tree, 0, p.NEstimators)}
	for i := 0; i < p.NEstimators; i++ {
		rng := rand.New(rand.NewSource(p.Seed + int64(i)))
		sample := make([]int, len(x))
		for j := range sample {
			sample[j] = rng.Intn(len(x))
		}
		m.Trees = append(m.Trees, *growTree(x, y, sample, p))
	}
	return m, nil
}

// Predict averages the trees' predictions for one encoded feature vector.
func (m *Model) Predict(features []float64) float64 {
	sum := 0.0
	for i := range m.Trees {
		sum += m.Trees[i].Predict(features)
	}
	return sum / float64(len(m.Trees))
}

// Evaluate encodes a table with the model's schema and scores predictions
// against the true target values.
func (m *Model) Evaluate(t *dataset.Table) (mae, r2 float64, err error) {
	x, y, _, err := m.Schema.Encode(t)
	if err != nil {
		return 0, 0, err
	}
	predictions := make([]float64, len(x))
	for i, features := range x {
		predictions[i] = m.Predict(features)
	}
	return MAE(y, predictions), R2(y, predictions), nil
}

// Bytes serializes the model as the model-export artifact payload.
func (m *Model) Bytes() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Load deserializes a model-export payload.
func Load(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding model export: %w", err)
	}
	if m.Schema == nil || len(m.Trees) == 0 {
		return nil, fmt.Errorf("model export is missing its schema or trees")
	}
	return &m, nil
}

// MAE is the mean absolute error between truth and predictions.
func MAE(y, predictions []float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := range y {
		sum += math.Abs(y[i] - predictions[i])
	}
	return sum / float64(len(y))
}

// R2 is the coefficient of determination; 1 is a perfect fit, 0 matches
// always predicting the mean.
func R2(y, predictions []float64) float64 {
	if len(y) == 0 {
		return math.NaN()
	}
	mean := 0.0
	for _, v := range y {
		mean += v
	}
	mean /= float64(len(y))

	var ssRes, ssTot float64
	for i := range y {
		ssRes += (y[i] - predictions[i]) * (y[i] - predictions[i])
		ssTot += (y[i] - mean) * (y[i] - mean)
	}
	if ssTot == 0 {
		if ssRes == 0 {
			return 1
		}
		return 0
	}
	return 1 - ssRes/ssTot
}
