package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func TestParseOverride(t *testing.T) {
	t.Run("numbers stay numbers", func(t *testing.T) {
		o, err := ParseOverride("etl.min_price=10")
		require.NoError(t, err)
		assert.Equal(t, "etl.min_price", o.Path.String())
		assert.Equal(t, cty.Number, o.Value.Type())
	})

	t.Run("floats parse", func(t *testing.T) {
		o, err := ParseOverride("modeling.test_size=0.33")
		require.NoError(t, err)
		f, _ := o.Value.AsBigFloat().Float64()
		assert.InDelta(t, 0.33, f, 1e-9)
	})

	t.Run("bare words are strings", func(t *testing.T) {
		o, err := ParseOverride("modeling.stratify_by=neighbourhood_group")
		require.NoError(t, err)
		assert.Equal(t, cty.String, o.Value.Type())
		assert.Equal(t, "neighbourhood_group", o.Value.AsString())
	})

	t.Run("quoting forces a string", func(t *testing.T) {
		o, err := ParseOverride(`etl.max_price="350"`)
		require.NoError(t, err)
		assert.Equal(t, cty.String, o.Value.Type())
	})

	t.Run("booleans parse", func(t *testing.T) {
		o, err := ParseOverride("main.dry_run=true")
		require.NoError(t, err)
		assert.Equal(t, cty.Bool, o.Value.Type())
		assert.True(t, o.Value.True())
	})

	t.Run("flow lists parse", func(t *testing.T) {
		o, err := ParseOverride("modeling.features=[room_type, price]")
		require.NoError(t, err)
		require.True(t, o.Value.Type().IsTupleType())
		assert.Equal(t, 2, o.Value.LengthInt())
	})

	t.Run("missing equals sign is rejected", func(t *testing.T) {
		_, err := ParseOverride("etl.min_price")
		var boe *BadOverrideError
		require.ErrorAs(t, err, &boe)
	})

	t.Run("invalid key is rejected", func(t *testing.T) {
		_, err := ParseOverride("etl..min=1")
		var boe *BadOverrideError
		require.ErrorAs(t, err, &boe)
	})
}
