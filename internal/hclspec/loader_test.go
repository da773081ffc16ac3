package hclspec

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func testCtx() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestLoadStepTypes(t *testing.T) {
	loader := NewLoader()

	t.Run("translates a full manifest", func(t *testing.T) {
		src := []byte(`
step_type "basic_cleaning" {
  description = "Drops rows outside the configured bounds."

  run {
    handler = "OnRunBasicCleaning"
  }

  param "input_artifact" {
    type = string
    role = "consumes"
  }

  param "output_artifact" {
    type = string
    role = "produces"
  }

  param "min_price" {
    type    = number
    default = 10
  }
}
`)
		defs, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "manifest.hcl", Src: src})
		require.NoError(t, err)
		require.Contains(t, defs, "basic_cleaning")

		st := defs["basic_cleaning"]
		assert.Equal(t, "OnRunBasicCleaning", st.Execution.Handler)
		assert.False(t, st.Gated)

		require.Contains(t, st.Params, "input_artifact")
		assert.Equal(t, config.RoleConsumes, st.Params["input_artifact"].Role)
		assert.True(t, st.Params["input_artifact"].Required())

		require.Contains(t, st.Params, "output_artifact")
		assert.Equal(t, config.RoleProduces, st.Params["output_artifact"].Role)

		minPrice := st.Params["min_price"]
		assert.Equal(t, config.RoleValue, minPrice.Role)
		assert.False(t, minPrice.Required())
		require.NotNil(t, minPrice.Default)
		i, _ := minPrice.Default.AsBigFloat().Int64()
		assert.Equal(t, int64(10), i)
	})

	t.Run("command-backed step types parse", func(t *testing.T) {
		src := []byte(`
step_type "custom_etl" {
  run {
    command = ["python", "run.py"]
  }
}
`)
		defs, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "custom.hcl", Src: src})
		require.NoError(t, err)
		assert.Equal(t, []string{"python", "run.py"}, defs["custom_etl"].Execution.Command)
	})

	t.Run("gated flag is honored", func(t *testing.T) {
		src := []byte(`
step_type "release_check" {
  gated = true
  run { handler = "OnRunReleaseCheck" }
}
`)
		defs, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "g.hcl", Src: src})
		require.NoError(t, err)
		assert.True(t, defs["release_check"].Gated)
	})

	t.Run("rejects run blocks with both handler and command", func(t *testing.T) {
		src := []byte(`
step_type "broken" {
  run {
    handler = "OnRunBroken"
    command = ["sh", "-c", "true"]
  }
}
`)
		_, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "b.hcl", Src: src})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one of handler or command")
	})

	t.Run("rejects manifests without a run block", func(t *testing.T) {
		src := []byte(`step_type "empty" {}`)
		_, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "e.hcl", Src: src})
		require.Error(t, err)
	})

	t.Run("rejects lineage params that are not strings", func(t *testing.T) {
		src := []byte(`
step_type "broken" {
  run { handler = "OnRunBroken" }
  param "input_artifact" {
    type = number
    role = "consumes"
  }
}
`)
		_, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "b.hcl", Src: src})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be of type string")
	})

	t.Run("rejects unknown roles", func(t *testing.T) {
		src := []byte(`
step_type "broken" {
  run { handler = "OnRunBroken" }
  param "x" {
    type = string
    role = "emits"
  }
}
`)
		_, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "b.hcl", Src: src})
		require.Error(t, err)
	})

	t.Run("rejects duplicate step types across sources", func(t *testing.T) {
		src := []byte(`
step_type "dup" {
  run { handler = "OnRunDup" }
}
`)
		_, err := loader.LoadStepTypes(testCtx(),
			config.Source{Filename: "one.hcl", Src: src},
			config.Source{Filename: "two.hcl", Src: src},
		)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "defined more than once")
	})

	t.Run("object typed params parse", func(t *testing.T) {
		src := []byte(`
step_type "train" {
  run { handler = "OnRunTrain" }
  param "rf" {
    type = object({ n_estimators = number, max_depth = number })
  }
}
`)
		defs, err := loader.LoadStepTypes(testCtx(), config.Source{Filename: "t.hcl", Src: src})
		require.NoError(t, err)
		ty := defs["train"].Params["rf"].Type
		require.True(t, ty.IsObjectType())
		assert.True(t, ty.AttributeType("n_estimators").Equals(cty.Number))
	})
}

func TestParsePipeline(t *testing.T) {
	loader := NewLoader()

	t.Run("translates steps and raw param expressions", func(t *testing.T) {
		src := []byte(`
pipeline "nyc_airbnb" {
  description = "End to end rental price pipeline."
}

step "ingest" "download" {
  params {
    source          = config.etl.sample
    output_artifact = "sample.csv"
  }
}

step "basic_cleaning" "clean" {
  params {
    input_artifact = "sample.csv:latest"
  }
  depends_on = ["download"]
}
`)
		p, err := loader.ParsePipeline(testCtx(), "pipeline.hcl", src)
		require.NoError(t, err)
		assert.Equal(t, "nyc_airbnb", p.Name)
		require.Len(t, p.Steps, 2)

		assert.Equal(t, "ingest", p.Steps[0].TypeName)
		assert.Equal(t, "download", p.Steps[0].Name)
		assert.Contains(t, p.Steps[0].Params, "source")
		assert.Contains(t, p.Steps[0].Params, "output_artifact")

		assert.Equal(t, []string{"download"}, p.Steps[1].DependsOn)
	})

	t.Run("pipeline block is optional", func(t *testing.T) {
		src := []byte(`
step "ingest" "download" {
  params {
    source = "x"
  }
}
`)
		p, err := loader.ParsePipeline(testCtx(), "my_flow.hcl", src)
		require.NoError(t, err)
		assert.Equal(t, "my_flow", p.Name)
	})

	t.Run("duplicate step names are rejected", func(t *testing.T) {
		src := []byte(`
step "ingest" "download" {
  params { source = "x" }
}
step "ingest" "download" {
  params { source = "y" }
}
`)
		_, err := loader.ParsePipeline(testCtx(), "p.hcl", src)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate step name")
	})

	t.Run("invalid HCL is rejected", func(t *testing.T) {
		_, err := loader.ParsePipeline(testCtx(), "p.hcl", []byte(`step "a" {`))
		require.Error(t, err)
	})
}
