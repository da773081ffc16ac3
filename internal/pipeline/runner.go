package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zclconf/go-cty/cty"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/gate"
	"github.com/modelyard/modelyard/internal/registry"
	"github.com/modelyard/modelyard/internal/step"
)

// Runner executes one planned step at a time: it pins consumed references
// to exact versions, invokes the step's handler or command, checks the
// produces contract, publishes outputs, and persists the run record.
type Runner struct {
	store    artifact.Store
	registry *registry.Registry
	workRoot string
	storeURL string
}

func NewRunner(store artifact.Store, reg *registry.Registry, opts Options) *Runner {
	return &Runner{
		store:    store,
		registry: reg,
		workRoot: opts.WorkRoot,
		storeURL: opts.StoreURL,
	}
}

// RunStep executes node and returns its persisted run record. pins maps
// artifact names written earlier in this pipeline run to exact versions;
// RunStep extends it with the artifacts this step publishes.
func (r *Runner) RunStep(ctx context.Context, node *Node, pins map[string]artifact.Ref, pipelineRunID string) (artifact.RunRecord, error) {
	logger := ctxlog.FromContext(ctx).With("step", node.Name())
	logger.Info("▶️ Starting step", "type", node.Type.Name)

	rec := artifact.RunRecord{
		ID:            uuid.NewString(),
		PipelineRunID: pipelineRunID,
		Step:          node.Name(),
		StepType:      node.Type.Name,
		Status:        artifact.RunRunning,
		StartedAt:     time.Now().UTC(),
		Params:        paramsSnapshot(node.Params),
	}
	if err := r.store.PutRun(ctx, rec); err != nil {
		return rec, fmt.Errorf("recording run of step %q: %w", node.Name(), err)
	}

	params, inputs, err := r.resolveInputs(ctx, node, pins)
	if err != nil {
		return r.finishRun(ctx, rec, err)
	}
	rec.Inputs = inputs
	rec.Params = paramsSnapshot(params)

	workDir := filepath.Join(r.workRoot, rec.ID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return r.finishRun(ctx, rec, fmt.Errorf("creating work directory: %w", err))
	}

	sc := &step.Context{
		RunID:         rec.ID,
		PipelineRunID: pipelineRunID,
		WorkDir:       workDir,
		Store:         r.store,
		Params:        params,
	}

	result, err := r.invoke(ctx, node, sc)
	if err != nil {
		return r.finishRun(ctx, rec, &StepExecutionError{Step: node.Name(), Err: err})
	}
	if result == nil {
		result = &step.Result{}
	}

	if err := checkProduces(node, result); err != nil {
		return r.finishRun(ctx, rec, &StepExecutionError{Step: node.Name(), Err: err})
	}

	outputs, err := r.publish(ctx, sc, result, pins)
	if err != nil {
		return r.finishRun(ctx, rec, err)
	}
	rec.Outputs = outputs
	rec.Metrics = result.Metrics

	finished, err := r.finishRun(ctx, rec, nil)
	if err != nil {
		return finished, err
	}
	logger.Info("✅ Finished step", "outputs", outputs, "metrics", result.Metrics)
	return finished, nil
}

// invoke dispatches to the step type's execution backend.
func (r *Runner) invoke(ctx context.Context, node *Node, sc *step.Context) (*step.Result, error) {
	if node.Type.Execution != nil && node.Type.Execution.Handler != "" {
		return r.invokeHandler(ctx, node, sc)
	}
	return r.invokeCommand(ctx, node, sc)
}

func (r *Runner) invokeHandler(ctx context.Context, node *Node, sc *step.Context) (*step.Result, error) {
	handler, ok := r.registry.Handler(node.Type.Execution.Handler)
	if !ok {
		return nil, fmt.Errorf("handler %q is not registered", node.Type.Execution.Handler)
	}

	var input any
	if handler.NewInput != nil {
		input = handler.NewInput()
		if err := registry.DecodeInput(sc.Params, input); err != nil {
			return nil, fmt.Errorf("decoding params: %w", err)
		}
	}
	return handler.Fn(ctx, sc, input)
}

// resolveInputs pins every consumed reference to an exact version: tag
// references resolve through the store, unqualified names take the version
// their producer wrote earlier in this run. The returned params object is
// what the step actually sees.
func (r *Runner) resolveInputs(ctx context.Context, node *Node, pins map[string]artifact.Ref) (cty.Value, []string, error) {
	if len(node.Consumes) == 0 {
		return node.Params, nil, nil
	}

	attrs := node.Params.AsValueMap()
	inputs := make([]string, 0, len(node.Consumes))
	for _, consume := range node.Consumes {
		ref := consume.Ref
		if consume.Unqualified {
			pinned, ok := pins[consume.Name]
			if !ok {
				return cty.NilVal, nil, fmt.Errorf("no published version of %q to pin %q against", consume.Name, consume.Raw)
			}
			ref = pinned
		}
		meta, err := r.store.Head(ctx, ref)
		if err != nil {
			return cty.NilVal, nil, fmt.Errorf("resolving input %s: %w", ref, err)
		}
		exact := meta.Ref()
		attrs[consume.Param] = cty.StringVal(exact.String())
		inputs = append(inputs, exact.String())
	}
	return cty.ObjectVal(attrs), inputs, nil
}

// checkProduces enforces the output contract both ways: every declared
// artifact must be in the result, and the result may not smuggle in
// artifacts the step never declared.
func checkProduces(node *Node, result *step.Result) error {
	declared := make(map[string]bool, len(node.Produces))
	for _, produce := range node.Produces {
		declared[produce.Name] = true
	}

	seen := make(map[string]bool, len(result.Artifacts))
	for _, a := range result.Artifacts {
		if !declared[a.Name] {
			return fmt.Errorf("step produced undeclared artifact %q", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("step produced artifact %q twice", a.Name)
		}
		seen[a.Name] = true
	}
	for _, produce := range node.Produces {
		if !seen[produce.Name] {
			return fmt.Errorf("step did not produce declared artifact %q", produce.Name)
		}
	}
	return nil
}

// publish forwards each produced artifact to the store and extends pins so
// downstream unqualified references resolve to these exact versions.
func (r *Runner) publish(ctx context.Context, sc *step.Context, result *step.Result, pins map[string]artifact.Ref) ([]string, error) {
	outputs := make([]string, 0, len(result.Artifacts))
	for _, a := range result.Artifacts {
		payload, closer, err := producedPayload(sc.WorkDir, a)
		if err != nil {
			return nil, err
		}
		meta, err := r.store.Put(ctx, artifact.PutRequest{
			Name:           a.Name,
			Payload:        payload,
			Type:           a.Type,
			Description:    a.Description,
			ProducingRunID: sc.RunID,
			IdempotencyKey: sc.RunID + "/" + a.Name,
		})
		if closer != nil {
			closer.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("publishing artifact %q: %w", a.Name, err)
		}
		exact := meta.Ref()
		outputs = append(outputs, exact.String())
		pins[meta.Name] = exact
	}
	return outputs, nil
}

func producedPayload(workDir string, a step.Produced) (io.Reader, io.Closer, error) {
	if a.Path == "" {
		return bytes.NewReader(a.Payload), nil, nil
	}
	path := a.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening produced artifact %q: %w", a.Name, err)
	}
	return f, f, nil
}

// finishRun persists the terminal state of a run record. Gate failures get
// their own status so promotion tooling can tell a data rejection from an
// orchestration bug.
func (r *Runner) finishRun(ctx context.Context, rec artifact.RunRecord, runErr error) (artifact.RunRecord, error) {
	rec.FinishedAt = time.Now().UTC()
	switch {
	case runErr == nil:
		rec.Status = artifact.RunSucceeded
	default:
		rec.Status = artifact.RunFailed
		rec.Error = runErr.Error()
		if _, isGate := gate.AsFailure(runErr); isGate {
			rec.Status = artifact.RunGateFailed
		}
	}

	if err := r.store.PutRun(ctx, rec); err != nil {
		if runErr != nil {
			ctxlog.FromContext(ctx).Error("Failed to persist run record after step failure.", "run", rec.ID, "error", err)
			return rec, runErr
		}
		return rec, fmt.Errorf("recording run of step %q: %w", rec.Step, err)
	}
	return rec, runErr
}

func paramsSnapshot(params cty.Value) map[string]any {
	native := config.ToNative(params)
	if m, ok := native.(map[string]any); ok {
		return m
	}
	return nil
}
