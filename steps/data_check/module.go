// Package data_check gates the pipeline on the quality of the cleaned
// dataset. Every check runs even after one fails, so a single run surfaces
// all defects at once with the offending rows named.
package data_check

import (
	"context"
	_ "embed"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/dataset"
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
	InputArtifact     string   `yard:"input_artifact"`
	ReferenceArtifact string   `yard:"reference_artifact"`
	KLThreshold       float64  `yard:"kl_threshold"`
	MinPrice          float64  `yard:"min_price"`
	MaxPrice          float64  `yard:"max_price"`
	MinRows           int      `yard:"min_rows"`
	MaxRows           int      `yard:"max_rows"`
	GroupColumn       string   `yard:"group_column"`
	KnownGroups       []string `yard:"known_groups"`
	ExpectedColumns   []string `yard:"expected_columns"`
	MinLongitude      float64  `yard:"min_longitude"`
	MaxLongitude      float64  `yard:"max_longitude"`
	MinLatitude       float64  `yard:"min_latitude"`
	MaxLatitude       float64  `yard:"max_latitude"`
}

// OnRunDataCheck is the handler for the 'data_check' step type.
func OnRunDataCheck(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
	in := input.(*Input)
	logger := ctxlog.FromContext(ctx)

	_, data, err := sc.Fetch(ctx, in.InputArtifact)
	if err != nil {
		return nil, err
	}
	table, err := dataset.ReadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.InputArtifact, err)
	}
	_, refData, err := sc.Fetch(ctx, in.ReferenceArtifact)
	if err != nil {
		return nil, err
	}
	reference, err := dataset.ReadBytes(refData)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", in.ReferenceArtifact, err)
	}

	var report gate.Report
	checkColumns(&report, table, in.ExpectedColumns)
	checkRowCount(&report, table, in.MinRows, in.MaxRows)
	checkPriceRange(&report, table, in.MinPrice, in.MaxPrice)
	checkKnownGroups(&report, table, in.GroupColumn, in.KnownGroups)
	checkBoundaries(&report, table, in)
	kl := checkDistributionDrift(&report, table, reference, in.GroupColumn, in.KLThreshold)

	logger.Info("Data checks finished",
		"checks", report.Checks(),
		"rows", table.Len(),
		"kl_divergence", kl)

	if err := report.Err(); err != nil {
		return nil, err
	}
	return &step.Result{
		Metrics: map[string]float64{
			"rows":          float64(table.Len()),
			"kl_divergence": kl,
		},
	}, nil
}

func checkColumns(report *gate.Report, t *dataset.Table, expected []string) {
	if slices.Equal(t.Header, expected) {
		report.Pass("column_names")
		return
	}
	report.Failf("column_names", "expected columns %v, got %v", expected, t.Header)
}

// checkRowCount enforces a strict window: a dataset exactly at either bound
// is rejected.
func checkRowCount(report *gate.Report, t *dataset.Table, minRows, maxRows int) {
	n := t.Len()
	if n > minRows && n < maxRows {
		report.Pass("row_count")
		return
	}
	report.Failf("row_count", "%d rows is outside the expected window (%d, %d)", n, minRows, maxRows)
}

func checkPriceRange(report *gate.Report, t *dataset.Table, minPrice, maxPrice float64) {
	values, indices, err := t.Floats("price")
	if err != nil {
		report.Failf("price_range", "%v", err)
		return
	}
	var offending []string
	for i, price := range values {
		if price < minPrice || price > maxPrice {
			offending = append(offending, fmt.Sprintf("row %d: price=%g", indices[i]+1, price))
		}
	}
	if len(offending) == 0 {
		report.Pass("price_range")
		return
	}
	report.Failf("price_range", "%d rows outside [%g, %g]: %s",
		len(offending), minPrice, maxPrice, summarize(offending))
}

func checkKnownGroups(report *gate.Report, t *dataset.Table, column string, known []string) {
	idx, err := t.Column(column)
	if err != nil {
		report.Failf("group_domain", "%v", err)
		return
	}
	allowed := make(map[string]bool, len(known))
	for _, g := range known {
		allowed[g] = true
	}
	unknown := make(map[string]bool)
	for _, row := range t.Rows {
		if !allowed[row[idx]] {
			unknown[row[idx]] = true
		}
	}
	if len(unknown) == 0 {
		report.Pass("group_domain")
		return
	}
	names := make([]string, 0, len(unknown))
	for g := range unknown {
		names = append(names, g)
	}
	sort.Strings(names)
	report.Failf("group_domain", "unknown %s values: %s", column, strings.Join(names, ", "))
}

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
	report.Failf("geo_boundaries", "%d rows outside the NYC bounds: %s",
		len(offending), summarize(offending))
}

// checkDistributionDrift compares the group distribution of the dataset
// under test against the reference using base-2 KL divergence. The
// distributions are aligned over the union of observed groups; a group
// absent from the reference gets an epsilon mass so the divergence stays
// finite yet lands far above any sane threshold.
func checkDistributionDrift(report *gate.Report, t, reference *dataset.Table, column string, threshold float64) float64 {
	p, err := groupDistribution(t, column)
	if err != nil {
		report.Failf("group_distribution", "%v", err)
		return math.NaN()
	}
	q, err := groupDistribution(reference, column)
	if err != nil {
		report.Failf("group_distribution", "reference: %v", err)
		return math.NaN()
	}
	kl := klDivergence(p, q)
	if kl < threshold {
		report.Pass("group_distribution")
	} else {
		report.Failf("group_distribution", "KL divergence %.4f is not below the threshold %.4f", kl, threshold)
	}
	return kl
}

func groupDistribution(t *dataset.Table, column string) (map[string]float64, error) {
	idx, err := t.Column(column)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("dataset has no rows to build a %s distribution from", column)
	}
	dist := make(map[string]float64)
	for _, row := range t.Rows {
		dist[row[idx]]++
	}
	total := float64(t.Len())
	for g := range dist {
		dist[g] /= total
	}
	return dist, nil
}

// epsilon keeps the divergence finite when the reference is missing a group.
const epsilon = 1e-9

func klDivergence(p, q map[string]float64) float64 {
	groups := make(map[string]bool, len(p)+len(q))
	for g := range p {
		groups[g] = true
	}
	for g := range q {
		groups[g] = true
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	var kl float64
	for _, g := range names {
		pi, qi := p[g], q[g]
		if pi == 0 {
			continue
		}
		if qi == 0 {
			qi = epsilon
		}
		kl += pi * math.Log2(pi/qi)
	}
	return kl
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
	return config.Source{Filename: "steps/data_check/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunDataCheck", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunDataCheck,
	})
}
