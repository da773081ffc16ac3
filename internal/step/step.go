// Package step defines the execution contract between the pipeline runner
// and step implementations: what a running step receives, and what it must
// hand back.
package step

import (
	"context"
	"fmt"
	"io"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/zclconf/go-cty/cty"
)

// Context carries everything a step needs at run time. Consumed artifact
// references inside Params arrive fully qualified: unqualified upstream
// names were pinned to exact versions before the step started.
type Context struct {
	// RunID identifies this step run; it becomes the ProducingRunID of
	// every artifact the step publishes.
	RunID string

	// PipelineRunID groups all step runs of one orchestrated execution.
	PipelineRunID string

	// WorkDir is a scratch directory private to this step run.
	WorkDir string

	// Store is the artifact store client for fetching consumed artifacts.
	Store artifact.Store

	// Params is the fully resolved parameter object of the step.
	Params cty.Value
}

// Fetch resolves a reference through the store and reads the whole payload.
func (sc *Context) Fetch(ctx context.Context, ref string) (artifact.Meta, []byte, error) {
	parsed, err := artifact.ParseRef(ref)
	if err != nil {
		return artifact.Meta{}, nil, err
	}
	meta, rc, err := sc.Store.Get(ctx, parsed)
	if err != nil {
		return artifact.Meta{}, nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return artifact.Meta{}, nil, fmt.Errorf("reading payload of %s: %w", parsed, err)
	}
	return meta, data, nil
}

// Produced is one artifact a step claims to have produced. Exactly one of
// Payload and Path is set: in-process steps hand bytes back directly, while
// external steps leave files in the work directory.
type Produced struct {
	Name        string
	Type        string
	Description string
	Payload     []byte
	Path        string
}

// Result is the structured manifest a step returns on success: the
// artifacts it produced and the metrics it measured. The runner checks the
// artifact list against the step's declared produces parameters and
// forwards each entry to the store.
type Result struct {
	Artifacts []Produced
	Metrics   map[string]float64
}

// Func is the signature of an in-process step handler. The input struct is
// the handler's registered input type, decoded from the step's resolved
// parameters.
type Func func(ctx context.Context, sc *Context, input any) (*Result, error)
