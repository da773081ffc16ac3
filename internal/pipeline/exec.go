package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/step"
)

const (
	paramsFileName  = "params.json"
	outputsFileName = "outputs.json"
	inputsDirName   = "inputs"
	outputsDirName  = "outputs"
)

// paramsFile is what an external step process finds in params.json: its
// resolved parameters plus the local paths of already-fetched inputs.
type paramsFile struct {
	RunID         string            `json:"run_id"`
	PipelineRunID string            `json:"pipeline_run_id"`
	Params        map[string]any    `json:"params"`
	Inputs        map[string]string `json:"inputs,omitempty"`
}

// outputsManifest is the file contract for declaring what an external step
// produced: one entry per produces param, each naming a file relative to
// the work directory.
type outputsManifest struct {
	Artifacts []manifestArtifact `json:"artifacts"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

type manifestArtifact struct {
	Param       string `json:"param"`
	Path        string `json:"path"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// invokeCommand runs a command-backed step as an external process. Consumed
// artifacts are fetched into the work directory first; afterwards the
// outputs manifest the process wrote is translated into a step result.
func (r *Runner) invokeCommand(ctx context.Context, node *Node, sc *step.Context) (*step.Result, error) {
	logger := ctxlog.FromContext(ctx).With("step", node.Name())

	argv := node.Type.Execution.Command
	if len(argv) == 0 {
		return nil, fmt.Errorf("step type %q declares an empty command", node.Type.Name)
	}

	inputFiles, err := r.materializeInputs(ctx, node, sc)
	if err != nil {
		return nil, err
	}

	paramsPath := filepath.Join(sc.WorkDir, paramsFileName)
	doc := paramsFile{
		RunID:         sc.RunID,
		PipelineRunID: sc.PipelineRunID,
		Params:        paramsSnapshot(sc.Params),
		Inputs:        inputFiles,
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding params file: %w", err)
	}
	if err := os.WriteFile(paramsPath, encoded, 0o644); err != nil {
		return nil, fmt.Errorf("writing params file: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(sc.WorkDir, outputsDirName), 0o755); err != nil {
		return nil, err
	}
	outputsPath := filepath.Join(sc.WorkDir, outputsFileName)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = sc.WorkDir
	cmd.Env = append(os.Environ(),
		"MODELYARD_RUN_ID="+sc.RunID,
		"MODELYARD_PIPELINE_RUN_ID="+sc.PipelineRunID,
		"MODELYARD_WORK_DIR="+sc.WorkDir,
		"MODELYARD_PARAMS="+paramsPath,
		"MODELYARD_OUTPUTS="+outputsPath,
		"MODELYARD_STORE_URL="+r.storeURL,
	)
	cmd.Env = append(cmd.Env, paramEnv(doc.Params)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("Spawning step process.", "command", strings.Join(argv, " "))
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command %q: %w; stderr: %s", argv[0], err, tailOf(stderr.String()))
	}
	if stdout.Len() > 0 {
		logger.Debug("Step process stdout.", "output", tailOf(stdout.String()))
	}

	manifest, err := readOutputsManifest(outputsPath)
	if err != nil {
		return nil, err
	}
	return manifestToResult(node, sc, manifest)
}

// materializeInputs fetches each consumed artifact into the work directory
// so the external process can read plain files instead of speaking the
// store protocol.
func (r *Runner) materializeInputs(ctx context.Context, node *Node, sc *step.Context) (map[string]string, error) {
	consumes := node.Type.ParamsByRole(config.RoleConsumes)
	if len(consumes) == 0 {
		return nil, nil
	}

	dir := filepath.Join(sc.WorkDir, inputsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	files := make(map[string]string, len(consumes))
	attrs := sc.Params.AsValueMap()
	for _, pd := range consumes {
		val, ok := attrs[pd.Name]
		if !ok || val.IsNull() {
			continue
		}
		ref, err := artifact.ParseRef(val.AsString())
		if err != nil {
			return nil, fmt.Errorf("input param %q: %w", pd.Name, err)
		}
		meta, payload, err := r.store.Get(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("fetching input %s: %w", ref, err)
		}
		dest := filepath.Join(dir, meta.Name)
		if err := writeStream(dest, payload); err != nil {
			return nil, fmt.Errorf("materializing input %s: %w", ref, err)
		}
		files[pd.Name] = dest
	}
	return files, nil
}

func writeStream(dest string, payload io.ReadCloser) error {
	defer payload.Close()
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, payload); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readOutputsManifest(path string) (*outputsManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("step process exited without writing %s", outputsFileName)
		}
		return nil, err
	}
	var manifest outputsManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", outputsFileName, err)
	}
	return &manifest, nil
}

// manifestToResult maps manifest entries onto the step's declared produces
// params. The artifact name always comes from the parameter value, never
// from the process itself.
func manifestToResult(node *Node, sc *step.Context, manifest *outputsManifest) (*step.Result, error) {
	produces := make(map[string]string, len(node.Produces))
	for _, p := range node.Produces {
		produces[p.Param] = p.Name
	}

	result := &step.Result{Metrics: manifest.Metrics}
	for _, entry := range manifest.Artifacts {
		name, ok := produces[entry.Param]
		if !ok {
			return nil, fmt.Errorf("outputs manifest names %q, which is not a produces param of step type %q",
				entry.Param, node.Type.Name)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("outputs manifest entry %q has no path", entry.Param)
		}
		path := entry.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(sc.WorkDir, path)
		}
		result.Artifacts = append(result.Artifacts, step.Produced{
			Name:        name,
			Type:        entry.Type,
			Description: entry.Description,
			Path:        path,
		})
	}
	return result, nil
}

// paramEnv exports scalar params as MODELYARD_PARAM_* variables, so simple
// shell steps can skip parsing params.json. Lists and nested values stay
// JSON-only.
func paramEnv(params map[string]any) []string {
	env := make([]string, 0, len(params))
	for name, val := range params {
		switch val.(type) {
		case string, bool, float64, int, int64:
			env = append(env, fmt.Sprintf("MODELYARD_PARAM_%s=%v", strings.ToUpper(name), val))
		}
	}
	return env
}

// tailOf truncates process output for log and error messages.
func tailOf(s string) string {
	const keep = 2048
	s = strings.TrimSpace(s)
	if len(s) <= keep {
		return s
	}
	return "..." + s[len(s)-keep:]
}
