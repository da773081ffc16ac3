// Package basic_cleaning drops price outliers and rows outside the NYC
// geographic bounds from the raw dataset, normalizing review dates on the
// way through.
package basic_cleaning

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

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
	InputArtifact     string  `yard:"input_artifact"`
	OutputArtifact    string  `yard:"output_artifact"`
	OutputType        string  `yard:"output_type"`
	OutputDescription string  `yard:"output_description"`
	MinPrice          float64 `yard:"min_price"`
	MaxPrice          float64 `yard:"max_price"`
	MinLongitude      float64 `yard:"min_longitude"`
	MaxLongitude      float64 `yard:"max_longitude"`
	MinLatitude       float64 `yard:"min_latitude"`
	MaxLatitude       float64 `yard:"max_latitude"`
}

// OnRunBasicCleaning is the handler for the 'basic_cleaning' step type.
func OnRunBasicCleaning(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
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
	rowsIn := table.Len()

	table, droppedPrice, err := dropPriceOutliers(table, in.MinPrice, in.MaxPrice)
	if err != nil {
		return nil, err
	}
	table, droppedGeo, err := dropOutOfBounds(table, in)
	if err != nil {
		return nil, err
	}
	normalizeReviewDates(table)

	payload, err := table.Bytes()
	if err != nil {
		return nil, err
	}

	logger.Info("Cleaned dataset",
		"rows_in", rowsIn,
		"rows_out", table.Len(),
		"dropped_price", droppedPrice,
		"dropped_geo", droppedGeo)

	return &step.Result{
		Artifacts: []step.Produced{{
			Name:        in.OutputArtifact,
			Type:        in.OutputType,
			Description: in.OutputDescription,
			Payload:     payload,
		}},
		Metrics: map[string]float64{
			"rows_in":            float64(rowsIn),
			"rows_out":           float64(table.Len()),
			"rows_dropped_price": float64(droppedPrice),
			"rows_dropped_geo":   float64(droppedGeo),
		},
	}, nil
}

// dropPriceOutliers keeps rows whose price parses and falls inside the
// inclusive [min, max] window. Rows with a missing or unparseable price are
// dropped with the outliers.
func dropPriceOutliers(t *dataset.Table, minPrice, maxPrice float64) (*dataset.Table, int, error) {
	idx, err := t.Column("price")
	if err != nil {
		return nil, 0, err
	}
	kept := t.Filter(func(row []string) bool {
		price, perr := strconv.ParseFloat(row[idx], 64)
		if perr != nil {
			return false
		}
		return price >= minPrice && price <= maxPrice
	})
	return kept, t.Len() - kept.Len(), nil
}

func dropOutOfBounds(t *dataset.Table, in *Input) (*dataset.Table, int, error) {
	lonIdx, err := t.Column("longitude")
	if err != nil {
		return nil, 0, err
	}
	latIdx, err := t.Column("latitude")
	if err != nil {
		return nil, 0, err
	}
	kept := t.Filter(func(row []string) bool {
		lon, lonErr := strconv.ParseFloat(row[lonIdx], 64)
		lat, latErr := strconv.ParseFloat(row[latIdx], 64)
		if lonErr != nil || latErr != nil {
			return false
		}
		return lon >= in.MinLongitude && lon <= in.MaxLongitude &&
			lat >= in.MinLatitude && lat <= in.MaxLatitude
	})
	return kept, t.Len() - kept.Len(), nil
}

// reviewDateLayouts are the timestamp formats seen in raw drops. Normalized
// output is always YYYY-MM-DD.
var reviewDateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", "01/02/2006"}

func normalizeReviewDates(t *dataset.Table) {
	idx, err := t.Column("last_review")
	if err != nil {
		return
	}
	for _, row := range t.Rows {
		raw := row[idx]
		if raw == "" {
			continue
		}
		for _, layout := range reviewDateLayouts {
			if ts, perr := time.Parse(layout, raw); perr == nil {
				row[idx] = ts.Format("2006-01-02")
				break
			}
		}
	}
}

// Manifest returns the embedded step type manifest.
func (m *Module) Manifest() config.Source {
	return config.Source{Filename: "steps/basic_cleaning/manifest.hcl", Src: manifestHCL}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterHandler("OnRunBasicCleaning", &registry.Handler{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunBasicCleaning,
	})
}
