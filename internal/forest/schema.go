// Package forest is the regression model shared by the training and
// model-testing steps: feature encoding for tabular data, a bagged ensemble
// of regression trees, and the JSON export format a trained model travels
// in as an artifact.
package forest

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/modelyard/modelyard/internal/dataset"
)

// Schema captures how raw table columns become a numeric feature vector.
// It is learned from the training data and exported with the model, so the
// testing step encodes unseen rows exactly the way training did.
type Schema struct {
	// Target is the column the model predicts.
	Target string `json:"target"`

	// Numeric columns are used as-is; missing or unparseable cells fall
	// back to the column mean learned at fit time.
	Numeric []string `json:"numeric"`

	// Categorical columns are one-hot encoded over the levels observed at
	// fit time. An unseen level encodes as all zeros.
	Categorical []string `json:"categorical"`

	// Levels holds the sorted observed values per categorical column.
	Levels map[string][]string `json:"levels"`

	// Means holds the fit-time column mean per numeric column.
	Means map[string]float64 `json:"means"`
}

// FitSchema learns encoding state from a table: categorical levels and
// numeric imputation means.
func FitSchema(t *dataset.Table, target string, numeric, categorical []string) (*Schema, error) {
	s := &Schema{
		Target:      target,
		Numeric:     numeric,
		Categorical: categorical,
		Levels:      make(map[string][]string, len(categorical)),
		Means:       make(map[string]float64, len(numeric)),
	}

	if _, err := t.Column(target); err != nil {
		return nil, err
	}
	for _, col := range numeric {
		values, _, err := t.Floats(col)
		if err != nil {
			return nil, fmt.Errorf("fitting schema: %w", err)
		}
		mean := 0.0
		for _, v := range values {
			mean += v
		}
		if len(values) > 0 {
			mean /= float64(len(values))
		}
		s.Means[col] = mean
	}
	for _, col := range categorical {
		idx, err := t.Column(col)
		if err != nil {
			return nil, fmt.Errorf("fitting schema: %w", err)
		}
		seen := make(map[string]bool)
		for _, row := range t.Rows {
			seen[row[idx]] = true
		}
		levels := make([]string, 0, len(seen))
		for v := range seen {
			levels = append(levels, v)
		}
		sort.Strings(levels)
		s.Levels[col] = levels
	}
	return s, nil
}

// FeatureNames lists the expanded feature vector's component names in
// encoding order: numeric columns first, then one-hot indicators.
func (s *Schema) FeatureNames() []string {
	names := make([]string, 0, s.width())
	names = append(names, s.Numeric...)
	for _, col := range s.Categorical {
		for _, level := range s.Levels[col] {
			names = append(names, col+"="+level)
		}
	}
	return names
}

func (s *Schema) width() int {
	w := len(s.Numeric)
	for _, col := range s.Categorical {
		w += len(s.Levels[col])
	}
	return w
}

// Encode turns a table into feature matrix X and target vector Y. Rows
// whose target cell is missing or unparseable are skipped; the returned
// indices name the surviving table rows for error reporting.
func (s *Schema) Encode(t *dataset.Table) (x [][]float64, y []float64, indices []int, err error) {
	targetIdx, err := t.Column(s.Target)
	if err != nil {
		return nil, nil, nil, err
	}
	numericIdx := make([]int, len(s.Numeric))
	for i, col := range s.Numeric {
		if numericIdx[i], err = t.Column(col); err != nil {
			return nil, nil, nil, err
		}
	}
	catIdx := make([]int, len(s.Categorical))
	for i, col := range s.Categorical {
		if catIdx[i], err = t.Column(col); err != nil {
			return nil, nil, nil, err
		}
	}

	for rowNum, row := range t.Rows {
		target, perr := strconv.ParseFloat(row[targetIdx], 64)
		if perr != nil {
			continue
		}
		features := make([]float64, 0, s.width())
		for i, col := range s.Numeric {
			v, perr := strconv.ParseFloat(row[numericIdx[i]], 64)
			if perr != nil {
				v = s.Means[col]
			}
			features = append(features, v)
		}
		for i, col := range s.Categorical {
			value := row[catIdx[i]]
			for _, level := range s.Levels[col] {
				if value == level {
					features = append(features, 1)
				} else {
					features = append(features, 0)
				}
			}
		}
		x = append(x, features)
		y = append(y, target)
		indices = append(indices, rowNum)
	}
	if len(x) == 0 {
		return nil, nil, nil, fmt.Errorf("no rows with a usable %q value to encode", s.Target)
	}
	return x, y, indices, nil
}
