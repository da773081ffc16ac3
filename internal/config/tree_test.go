package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestParsePath(t *testing.T) {
	t.Run("accepts dotted identifiers", func(t *testing.T) {
		p, err := ParsePath("etl.min_price")
		require.NoError(t, err)
		assert.Equal(t, Path{"etl", "min_price"}, p)
	})

	t.Run("rejects empty segments", func(t *testing.T) {
		_, err := ParsePath("etl..min_price")
		require.Error(t, err)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := ParsePath("")
		require.Error(t, err)
	})
}

func TestTreeGet(t *testing.T) {
	tree, err := FromYAML([]byte(`
etl:
  min_price: 10
  sample: "sample.csv"
`))
	require.NoError(t, err)

	t.Run("returns nested values", func(t *testing.T) {
		v, err := tree.Get(Path{"etl", "min_price"})
		require.NoError(t, err)
		i, _ := v.AsBigFloat().Int64()
		assert.Equal(t, int64(10), i)
	})

	t.Run("missing key yields UnknownKeyError", func(t *testing.T) {
		_, err := tree.Get(Path{"etl", "nope"})
		var uke *UnknownKeyError
		require.ErrorAs(t, err, &uke)
	})

	t.Run("descending into a scalar fails", func(t *testing.T) {
		_, err := tree.Get(Path{"etl", "min_price", "deeper"})
		require.Error(t, err)
	})
}

func TestTreeSet(t *testing.T) {
	base, err := FromYAML([]byte(`
etl:
  min_price: 10
extensible:
  - scratch
`))
	require.NoError(t, err)

	t.Run("replaces existing keys", func(t *testing.T) {
		next, err := base.Set(Path{"etl", "min_price"}, cty.NumberIntVal(50))
		require.NoError(t, err)

		v, err := next.Get(Path{"etl", "min_price"})
		require.NoError(t, err)
		i, _ := v.AsBigFloat().Int64()
		assert.Equal(t, int64(50), i)

		// The original tree is untouched.
		v, err = base.Get(Path{"etl", "min_price"})
		require.NoError(t, err)
		i, _ = v.AsBigFloat().Int64()
		assert.Equal(t, int64(10), i)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := base.Set(Path{"etl", "surprise"}, cty.True)
		var uke *UnknownKeyError
		require.ErrorAs(t, err, &uke)
		assert.Equal(t, "etl.surprise", uke.Path.String())
	})

	t.Run("creates keys under extensible prefixes", func(t *testing.T) {
		next, err := base.Set(Path{"scratch", "anything"}, cty.StringVal("ok"))
		require.NoError(t, err)
		v, err := next.Get(Path{"scratch", "anything"})
		require.NoError(t, err)
		assert.Equal(t, "ok", v.AsString())
	})

	t.Run("coerces scalar overrides toward the stored type", func(t *testing.T) {
		next, err := base.Set(Path{"etl", "min_price"}, cty.StringVal("25"))
		require.NoError(t, err)
		v, err := next.Get(Path{"etl", "min_price"})
		require.NoError(t, err)
		assert.Equal(t, cty.Number, v.Type())
	})
}

func TestFromYAML(t *testing.T) {
	t.Run("empty document yields an empty tree", func(t *testing.T) {
		tree, err := FromYAML(nil)
		require.NoError(t, err)
		assert.False(t, tree.Has(Path{"anything"}))
	})

	t.Run("extensible directive is stripped from the tree", func(t *testing.T) {
		tree, err := FromYAML([]byte("extensible: [notes]\nmain:\n  steps: all\n"))
		require.NoError(t, err)
		assert.False(t, tree.Has(Path{"extensible"}))
		require.Len(t, tree.Extensible(), 1)
		assert.Equal(t, "notes", tree.Extensible()[0].String())
	})

	t.Run("rejects a non-list extensible directive", func(t *testing.T) {
		_, err := FromYAML([]byte("extensible: nope\n"))
		require.Error(t, err)
	})
}

func TestSnapshot(t *testing.T) {
	tree, err := FromYAML([]byte(`
modeling:
  test_size: 0.2
  stratify_by: neighbourhood_group
  features: [room_type, price]
`))
	require.NoError(t, err)

	snap := tree.Snapshot()
	modeling, ok := snap["modeling"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.2, modeling["test_size"])
	assert.Equal(t, "neighbourhood_group", modeling["stratify_by"])
	assert.Equal(t, []any{"room_type", "price"}, modeling["features"])
}
