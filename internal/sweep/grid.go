// Package sweep expands multi-value configuration overrides into a
// parameter grid and executes one independent pipeline run per grid point.
package sweep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/modelyard/modelyard/internal/config"
)

// Value is one candidate value of a sweep dimension.
type Value struct {
	Raw string
	Val cty.Value
}

// Dim is one swept configuration key with its candidate values, in the
// order they were written.
type Dim struct {
	Path   config.Path
	Values []Value
}

// Grid is a parsed sweep: the Cartesian product of every dimension's
// candidate values. Dimensions are kept sorted by key path so enumeration
// order is a property of the grid, not of the command line.
type Grid struct {
	dims []Dim
}

// ParseGrid parses `key.path=v1,v2,v3` assignments into a grid. Commas
// split candidate values only at the top level; values may be quoted or
// bracketed to carry literal commas.
func ParseGrid(assignments []string) (*Grid, error) {
	seen := make(map[string]bool, len(assignments))
	dims := make([]Dim, 0, len(assignments))

	for _, raw := range assignments {
		key, list, found := strings.Cut(raw, "=")
		if !found {
			return nil, &config.BadOverrideError{Raw: raw, Reason: fmt.Errorf("expected key=value")}
		}
		path, err := config.ParsePath(strings.TrimSpace(key))
		if err != nil {
			return nil, &config.BadOverrideError{Raw: raw, Reason: err}
		}
		if seen[path.String()] {
			return nil, &config.BadOverrideError{Raw: raw, Reason: fmt.Errorf("key %s assigned twice", path)}
		}
		seen[path.String()] = true

		dim := Dim{Path: path}
		for _, part := range splitTopLevel(list) {
			part = strings.TrimSpace(part)
			if part == "" {
				return nil, &config.BadOverrideError{Raw: raw, Reason: fmt.Errorf("empty value in list")}
			}
			val, err := config.ParseValue(part)
			if err != nil {
				return nil, &config.BadOverrideError{Raw: raw, Reason: err}
			}
			dim.Values = append(dim.Values, Value{Raw: part, Val: val})
		}
		dims = append(dims, dim)
	}

	sort.Slice(dims, func(i, j int) bool { return dims[i].Path.String() < dims[j].Path.String() })
	return &Grid{dims: dims}, nil
}

// Size is the grid's cardinality: the product of all value-list lengths.
func (g *Grid) Size() int {
	size := 1
	for _, dim := range g.dims {
		size *= len(dim.Values)
	}
	return size
}

// Multi reports whether any dimension carries more than one value, i.e.
// whether this is a real sweep rather than a plain override set.
func (g *Grid) Multi() bool {
	for _, dim := range g.dims {
		if len(dim.Values) > 1 {
			return true
		}
	}
	return false
}

// Point is one fully specified grid coordinate.
type Point struct {
	// Index is the point's position in enumeration order, starting at 0.
	Index int

	// Overrides is the override layer to apply for this point's run.
	Overrides config.OverrideSet

	// Assignments are the point's key=value pairs in dimension order,
	// kept for run provenance.
	Assignments []string
}

// Label renders the point compactly for logs, e.g.
// "train.rf.max_depth=10 train.rf.n_estimators=100".
func (p Point) Label() string {
	return strings.Join(p.Assignments, " ")
}

// Points enumerates every grid coordinate in deterministic order:
// dimensions lexicographic by key path, earlier dimensions varying
// slowest, values in written order.
func (g *Grid) Points() []Point {
	points := make([]Point, 0, g.Size())
	indices := make([]int, len(g.dims))

	for {
		point := Point{Index: len(points)}
		for d, dim := range g.dims {
			value := dim.Values[indices[d]]
			point.Overrides = append(point.Overrides, config.Override{
				Path:  dim.Path,
				Value: value.Val,
				Raw:   dim.Path.String() + "=" + value.Raw,
			})
			point.Assignments = append(point.Assignments, dim.Path.String()+"="+value.Raw)
		}
		points = append(points, point)

		// Odometer increment, last dimension fastest.
		d := len(g.dims) - 1
		for ; d >= 0; d-- {
			indices[d]++
			if indices[d] < len(g.dims[d].Values) {
				break
			}
			indices[d] = 0
		}
		if d < 0 {
			break
		}
	}
	return points
}

// splitTopLevel splits on commas outside quotes, brackets and braces.
func splitTopLevel(s string) []string {
	var parts []string
	var quote byte
	depth := 0
	start := 0

	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
