package sweep

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestParseGrid(t *testing.T) {
	t.Run("single values form a one-point grid", func(t *testing.T) {
		grid, err := ParseGrid([]string{"etl.min_price=50", "main.experiment_name=dev"})
		require.NoError(t, err)
		assert.Equal(t, 1, grid.Size())
		assert.False(t, grid.Multi())

		points := grid.Points()
		require.Len(t, points, 1)
		assert.Equal(t, []string{"etl.min_price=50", "main.experiment_name=dev"}, points[0].Assignments)
	})

	t.Run("comma lists become dimensions", func(t *testing.T) {
		grid, err := ParseGrid([]string{"train.rf.max_depth=10,15,30"})
		require.NoError(t, err)
		assert.Equal(t, 3, grid.Size())
		assert.True(t, grid.Multi())
	})

	t.Run("quoted and bracketed commas stay literal", func(t *testing.T) {
		grid, err := ParseGrid([]string{`etl.keep_columns=[price,room_type],[price]`})
		require.NoError(t, err)
		require.Equal(t, 2, grid.Size())

		points := grid.Points()
		first := points[0].Overrides[0].Value
		require.True(t, first.Type().IsTupleType())
		assert.Equal(t, 2, first.LengthInt())
	})

	t.Run("typed values", func(t *testing.T) {
		grid, err := ParseGrid([]string{"train.val_size=0.2", "main.stratify=true", "main.name='42'"})
		require.NoError(t, err)
		point := grid.Points()[0]

		byKey := map[string]cty.Value{}
		for _, o := range point.Overrides {
			byKey[o.Path.String()] = o.Value
		}
		assert.Equal(t, cty.Bool, byKey["main.stratify"].Type())
		assert.Equal(t, cty.String, byKey["main.name"].Type(), "quoting forces a string")
		assert.Equal(t, cty.Number, byKey["train.val_size"].Type())
	})

	t.Run("rejects malformed assignments", func(t *testing.T) {
		for _, bad := range []string{"no_equals", "a.b=10,,20", "=5", "a..b=1", "a.b=1"} {
			_, err := ParseGrid([]string{bad, "a.b=2"})
			assert.Error(t, err, "assignment %q", bad)
		}
	})
}

func TestGridPoints_Deterministic(t *testing.T) {
	assignments := []string{
		"b=0.1,0.33,0.5,0.75,1",
		"a=10,15,30",
	}
	grid, err := ParseGrid(assignments)
	require.NoError(t, err)
	require.Equal(t, 15, grid.Size())

	points := grid.Points()
	require.Len(t, points, 15)

	t.Run("dimensions sort by key path, first varies slowest", func(t *testing.T) {
		assert.Equal(t, []string{"a=10", "b=0.1"}, points[0].Assignments)
		assert.Equal(t, []string{"a=10", "b=0.33"}, points[1].Assignments)
		assert.Equal(t, []string{"a=15", "b=0.1"}, points[5].Assignments)
		assert.Equal(t, []string{"a=30", "b=1"}, points[14].Assignments)
	})

	t.Run("every combination appears exactly once", func(t *testing.T) {
		seen := make(map[string]bool, 15)
		for _, p := range points {
			key := p.Label()
			assert.False(t, seen[key], "duplicate point %s", key)
			seen[key] = true
		}
		assert.Len(t, seen, 15)
	})

	t.Run("enumeration is reproducible", func(t *testing.T) {
		again, err := ParseGrid(assignments)
		require.NoError(t, err)
		for i, p := range again.Points() {
			assert.Equal(t, points[i].Assignments, p.Assignments)
		}
	})
}
