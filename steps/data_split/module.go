// Package data_split carves the cleaned dataset into a trainval segment and
// a held-out test segment. The shuffle is seeded, so the same input and
// seed always yield the same split.
package data_split

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/dataset"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

//go:embed manifest.hcl
var manifestHCL []byte

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the parameters declared in the step type manifest.
type Input struct {
	InputArtifact    string  `yard:"input_artifact"`
	TrainvalArtifact string  `yard:"trainval_artifact"`
	TestArtifact     string  `yard:"test_artifact"`
	OutputType       string  `yard:"output_type"`
	TestSize         float64 `yard:"test_size"`
	RandomSeed       int     `yard:"random_seed"`
	StratifyBy       string  `yard:"stratify_by"`
}

// OnRunDataSplit is the handler for the 'data_split' step type.
func OnRunDataSplit(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	if in.TestSize <= 0 || in.TestSize >= 1 {
		return nil, fmt.Errorf("test_size must be strictly between 0 and 1, got %g", in.TestSize)
	}

	_, data, err := sc.Fetch(ctx, in.InputArtifact)
	if err != nil {
		return nil, err
	}
	table, err := dataset.ReadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.InputArtifact, err)
	}
	if table.Len() < 2 {
		return nil, fmt.Errorf("dataset has %d rows, need at least 2 to split", table.Len())
	}

	testIdx, err := pickTestRows(table, in)
	if err != nil {
		return nil, err
	}
	inTest := make(map[int]bool, len(testIdx))
	for _, i := range testIdx {
		inTest[i] = true
	}
	var trainvalIdx []int
	for i := 0; i < table.Len(); i++ {
		if !inTest[i] {
			trainvalIdx = append(trainvalIdx, i)
		}
	}

	trainval := table.Subset(trainvalIdx)
	test := table.Subset(testIdx)
	logger.Info("Split dataset",
		"rows", table.Len(),
		"trainval_rows", trainval.Len(),
		"test_rows", test.Len(),
		"stratify_by", in.StratifyBy)

	trainvalPayload, err := trainval.Bytes()
	if err != nil {
		return nil, err
	}
	testPayload, err := test.Bytes()
	if err != nil {
		return nil, err
	}

	return &step.Result{
		Artifacts: []step.Produced{
			{
				Name:        in.TrainvalArtifact,
				Type:        in.OutputType,
				Description: "Trainval segment of the dataset",
				Payload:     trainvalPayload,
			},
			{
				Name:        in.TestArtifact,
				Type:        in.OutputType,
				Description: "Held-out test segment of the dataset",
				Payload:     testPayload,
			},
		},
		Metrics: map[string]float64{
			"trainval_rows": float64(trainval.Len()),
			"test_rows":     float64(test.Len()),
		},
	}, nil
}

// pickTestRows selects the held-out rows. Without stratification one seeded
// shuffle over all rows decides; with it, each stratum is shuffled and
// sampled separately so both segments keep the column's distribution.
func pickTestRows(t *dataset.Table, in *Input) ([]int, error) {
	rng := rand.New(rand.NewSource(int64(in.RandomSeed)))

	if in.StratifyBy == "" {
		indices := shuffled(rng, t.Len())
		n := testCount(t.Len(), in.TestSize)
		return sorted(indices[:n]), nil
	}

	col, err := t.Column(in.StratifyBy)
	if err != nil {
		return nil, fmt.Errorf("stratify_by: %w", err)
	}

	// Strata iterate in first-appearance order, keeping the draw sequence
	// independent of map ordering.
	var order []string
	strata := make(map[string][]int)
	for i, row := range t.Rows {
		value := row[col]
		if _, seen := strata[value]; !seen {
			order = append(order, value)
		}
		strata[value] = append(strata[value], i)
	}

	var testIdx []int
	for _, value := range order {
		rows := strata[value]
		perm := rng.Perm(len(rows))
		n := testCount(len(rows), in.TestSize)
		for _, p := range perm[:n] {
			testIdx = append(testIdx, rows[p])
		}
	}
	return sorted(testIdx), nil
}

// testCount rounds the fractional segment size, keeping at least one row on
// each side whenever the stratum has two or more.
func testCount(total int, fraction float64) int {
	n := int(math.Round(float64(total) * fraction))
	if n < 1 {
		n = 1
	}
	if n >= total {
		n = total - 1
	}
	if n < 0 {
		n = 0
	}
	return n
}

func shuffled(rng *rand.Rand, n int) []int {
	return rng.Perm(n)
}

// sorted keeps the selected rows in original table order, so the segments
// read naturally and stay diffable between runs.
func sorted(indices []int) []int {
	out := make([]int, len(indices))
	copy(out, indices)
	sort.Ints(out)
	return out
}

// Manifest returns the embedded step type manifest.
func (m *Module) Manifest() config.Source {
	return config.Source{Filename: "steps/data_split/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunDataSplit", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunDataSplit,
	})
}
