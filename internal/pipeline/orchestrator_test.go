package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/gate"
	"github.com/modelyard/modelyard/internal/hclspec"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

const runManifests = `
step_type "emit" {
  run { handler = "OnRunEmit" }

  param "content" {
    type = string
  }
  param "output_artifact" {
    type = string
    role = "produces"
  }
}

step_type "upcase" {
  run { handler = "OnRunUpcase" }

  param "input_artifact" {
    type = string
    role = "consumes"
  }
  param "output_artifact" {
    type = string
    role = "produces"
  }
}

step_type "explode" {
  run { handler = "OnRunExplode" }
}

step_type "audit" {
  gated = true
  run { handler = "OnRunAudit" }

  param "input_artifact" {
    type = string
    role = "consumes"
  }
}

step_type "rogue" {
  run { handler = "OnRunRogue" }

  param "output_artifact" {
    type = string
    role = "produces"
  }
}

step_type "lazy" {
  run { handler = "OnRunLazy" }

  param "output_artifact" {
    type = string
    role = "produces"
  }
}
`

type emitInput struct {
	Content        string `yard:"content"`
	OutputArtifact string `yard:"output_artifact"`
}

type relayInput struct {
	InputArtifact  string `yard:"input_artifact"`
	OutputArtifact string `yard:"output_artifact"`
}

type auditInput struct {
	InputArtifact string `yard:"input_artifact"`
}

type produceInput struct {
	OutputArtifact string `yard:"output_artifact"`
}

// testHarness wires a registry and an on-disk store for orchestrator runs,
// recording which handlers actually executed.
type testHarness struct {
	store    *artifact.BadgerStore
	registry *registry.Registry
	executed []string
	seenRefs map[string]string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := testCtx()

	store, err := artifact.OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &testHarness{store: store, seenRefs: make(map[string]string)}

	r := registry.New()
	defs, err := hclspec.NewLoader().LoadStepTypes(ctx, config.Source{
		Filename: "types.hcl",
		Src:      []byte(runManifests),
	})
	require.NoError(t, err)
	require.NoError(t, r.AddDefinitions(defs))

	r.RegisterHandler("OnRunEmit", &registry.Handler{
		NewInput: func() any { return new(emitInput) },
		Fn: func(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
			in := input.(*emitInput)
			h.executed = append(h.executed, "emit")
			return &step.Result{Artifacts: []step.Produced{{
				Name:    in.OutputArtifact,
				Type:    "raw_data",
				Payload: []byte(in.Content),
			}}}, nil
		},
	})
	r.RegisterHandler("OnRunUpcase", &registry.Handler{
		NewInput: func() any { return new(relayInput) },
		Fn: func(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
			in := input.(*relayInput)
			h.executed = append(h.executed, "upcase")
			h.seenRefs["upcase"] = in.InputArtifact
			_, data, err := sc.Fetch(ctx, in.InputArtifact)
			if err != nil {
				return nil, err
			}
			return &step.Result{
				Artifacts: []step.Produced{{
					Name:    in.OutputArtifact,
					Type:    "clean_data",
					Payload: []byte(strings.ToUpper(string(data))),
				}},
				Metrics: map[string]float64{"rows": float64(len(data))},
			}, nil
		},
	})
	r.RegisterHandler("OnRunExplode", &registry.Handler{
		Fn: func(context.Context, *step.Context, any) (*step.Result, error) {
			h.executed = append(h.executed, "explode")
			return nil, fmt.Errorf("synthetic step defect")
		},
	})
	r.RegisterHandler("OnRunAudit", &registry.Handler{
		NewInput: func() any { return new(auditInput) },
		Fn: func(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
			in := input.(*auditInput)
			h.executed = append(h.executed, "audit")
			_, data, err := sc.Fetch(ctx, in.InputArtifact)
			if err != nil {
				return nil, err
			}
			if strings.Contains(string(data), "bad") {
				return nil, gate.Failf("content_check", "payload contains %q", "bad")
			}
			return &step.Result{}, nil
		},
	})
	r.RegisterHandler("OnRunRogue", &registry.Handler{
		NewInput: func() any { return new(produceInput) },
		Fn: func(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
			return &step.Result{Artifacts: []step.Produced{{
				Name:    "uninvited.csv",
				Payload: []byte("x"),
			}}}, nil
		},
	})
	r.RegisterHandler("OnRunLazy", &registry.Handler{
		NewInput: func() any { return new(produceInput) },
		Fn: func(ctx context.Context, sc *step.Context, input any) (*step.Result, error) {
			return &step.Result{}, nil
		},
	})

	h.registry = r
	return h
}

func (h *testHarness) orchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	return NewOrchestrator(h.registry, h.store, Options{WorkRoot: t.TempDir()})
}

func TestOrchestrator_RunPipeline(t *testing.T) {
	ctx := testCtx()
	h := newHarness(t)

	pipe := parsePipeline(t, `
pipeline "two_steps" {}

step "emit" "fetch" {
  params {
    content         = "hello lineage"
    output_artifact = "raw_data.csv"
  }
}

step "upcase" "clean" {
  params {
    input_artifact  = "raw_data.csv"
    output_artifact = "clean_sample.csv"
  }
}
`)

	rec, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, artifact.RunSucceeded, rec.Status)
	assert.Equal(t, []string{"fetch", "clean"}, rec.Selection)
	assert.Equal(t, []string{"emit", "upcase"}, h.executed)

	t.Run("unqualified input pinned to exact version", func(t *testing.T) {
		assert.Equal(t, "raw_data.csv:v1", h.seenRefs["upcase"])
	})

	t.Run("artifacts written with lineage", func(t *testing.T) {
		meta, body, err := h.store.Get(ctx, artifact.MustParseRef("clean_sample.csv:latest"))
		require.NoError(t, err)
		defer body.Close()
		assert.Equal(t, "clean_data", meta.Type)
		assert.NotEmpty(t, meta.ProducingRunID)
	})

	t.Run("run records carry exact references", func(t *testing.T) {
		runs, err := h.store.Runs(ctx, rec.ID)
		require.NoError(t, err)
		require.Len(t, runs, 2)

		byStep := make(map[string]artifact.RunRecord, len(runs))
		for _, run := range runs {
			byStep[run.Step] = run
		}
		clean, ok := byStep["clean"]
		require.True(t, ok)
		assert.Equal(t, []string{"raw_data.csv:v1"}, clean.Inputs)
		assert.Equal(t, []string{"clean_sample.csv:v1"}, clean.Outputs)
		assert.Equal(t, artifact.RunSucceeded, clean.Status)
		assert.InDelta(t, float64(len("hello lineage")), clean.Metrics["rows"], 0.1)
	})

	t.Run("pipeline run is queryable", func(t *testing.T) {
		stored, err := h.store.PipelineRun(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, artifact.RunSucceeded, stored.Status)
		assert.Equal(t, "two_steps", stored.Pipeline)
	})
}

func TestOrchestrator_HaltsOnFirstFailure(t *testing.T) {
	ctx := testCtx()
	h := newHarness(t)

	pipe := parsePipeline(t, `
pipeline "halting" {}

step "explode" "boom" {}

step "emit" "after" {
  params {
    content         = "never"
    output_artifact = "raw_data.csv"
  }
  depends_on = ["boom"]
}
`)

	rec, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), nil, nil)
	require.Error(t, err)

	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "boom", stepErr.Step)

	assert.Equal(t, artifact.RunFailed, rec.Status)
	assert.Equal(t, "boom", rec.FailedStep)
	assert.Equal(t, []string{"explode"}, h.executed, "downstream steps must not run")

	runs, runsErr := h.store.Runs(ctx, rec.ID)
	require.NoError(t, runsErr)
	require.Len(t, runs, 1)
	assert.Equal(t, artifact.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "synthetic step defect")
}

func TestOrchestrator_GateFailure(t *testing.T) {
	ctx := testCtx()
	h := newHarness(t)

	_, err := h.store.Put(ctx, artifact.PutRequest{
		Name:    "release.csv",
		Payload: strings.NewReader("this row is bad"),
	})
	require.NoError(t, err)

	pipe := parsePipeline(t, `
pipeline "gated" {}

step "audit" "check_release" {
  params {
    input_artifact = "release.csv:latest"
  }
}
`)

	rec, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), []string{"check_release"}, nil)
	require.Error(t, err)

	var failure *gate.Failure
	require.ErrorAs(t, err, &failure, "gate failures must stay identifiable through the error chain")
	assert.Equal(t, "content_check", failure.Check)

	assert.Equal(t, artifact.RunGateFailed, rec.Status)

	runs, runsErr := h.store.Runs(ctx, rec.ID)
	require.NoError(t, runsErr)
	require.Len(t, runs, 1)
	assert.Equal(t, artifact.RunGateFailed, runs[0].Status)
}

func TestOrchestrator_ProducesContract(t *testing.T) {
	ctx := testCtx()
	h := newHarness(t)

	t.Run("undeclared artifact rejected", func(t *testing.T) {
		pipe := parsePipeline(t, `
pipeline "p" {}

step "rogue" "r" {
  params {
    output_artifact = "expected.csv"
  }
}
`)
		rec, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `undeclared artifact "uninvited.csv"`)
		assert.Equal(t, artifact.RunFailed, rec.Status)
	})

	t.Run("missing declared artifact rejected", func(t *testing.T) {
		pipe := parsePipeline(t, `
pipeline "p" {}

step "lazy" "l" {
  params {
    output_artifact = "expected.csv"
  }
}
`)
		_, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `did not produce declared artifact "expected.csv"`)
	})
}

func TestOrchestrator_MissingInputFailsRun(t *testing.T) {
	ctx := testCtx()
	h := newHarness(t)

	pipe := parsePipeline(t, `
pipeline "p" {}

step "upcase" "clean" {
  params {
    input_artifact  = "ghost.csv:latest"
    output_artifact = "out.csv"
  }
}
`)

	rec, err := h.orchestrator(t).Execute(ctx, pipe, config.EmptyTree(), nil, nil)
	require.Error(t, err)

	var notFound *artifact.NotFoundError
	assert.True(t, errors.As(err, &notFound))
	assert.Equal(t, artifact.RunFailed, rec.Status)
	assert.Empty(t, h.executed, "the step body must not run when inputs cannot resolve")
}
