package hclspec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct{}

// NewLoader creates a new HCL definition loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadPipeline parses a pipeline definition file from disk.
func (l *Loader) LoadPipeline(ctx context.Context, path string) (*config.Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse pipeline file %s: %w", path, diags)
	}
	return l.translatePipeline(ctx, path, file.Body)
}

// ParsePipeline parses a pipeline definition from an in-memory source.
func (l *Loader) ParsePipeline(ctx context.Context, filename string, src []byte) (*config.Pipeline, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse pipeline source %s: %w", filename, diags)
	}
	return l.translatePipeline(ctx, filename, file.Body)
}

// LoadStepTypes parses step-type manifests from the given sources and merges
// them into one definition map. A step type defined twice is an error, so
// user manifests cannot shadow built-ins silently.
func (l *Loader) LoadStepTypes(ctx context.Context, sources ...config.Source) (map[string]*config.StepType, error) {
	logger := ctxlog.FromContext(ctx)
	parser := hclparse.NewParser()
	defs := make(map[string]*config.StepType)

	for _, source := range sources {
		file, diags := parser.ParseHCL(source.Src, source.Filename)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse manifest %s: %w", source.Filename, diags)
		}

		var root manifestRoot
		diags = gohcl.DecodeBody(file.Body, nil, &root)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode manifest %s: %w", source.Filename, diags)
		}

		for _, block := range root.StepTypes {
			def, err := l.translateStepType(ctx, block)
			if err != nil {
				return nil, fmt.Errorf("manifest %s: %w", source.Filename, err)
			}
			if _, exists := defs[def.Name]; exists {
				return nil, fmt.Errorf("manifest %s: step type %q is defined more than once", source.Filename, def.Name)
			}
			defs[def.Name] = def
		}
	}

	logger.Debug("Step-type manifests loaded.", "count", len(defs))
	return defs, nil
}

func (l *Loader) translatePipeline(ctx context.Context, filename string, body hcl.Body) (*config.Pipeline, error) {
	logger := ctxlog.FromContext(ctx)

	var root pipelineRoot
	diags := gohcl.DecodeBody(body, nil, &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode pipeline file %s: %w", filename, diags)
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	description := ""
	if root.Pipeline != nil {
		name = root.Pipeline.Name
		description = root.Pipeline.Description
	}

	p := &config.Pipeline{Name: name, Description: description}
	seen := make(map[string]struct{})
	for _, s := range root.Steps {
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate step name %q", filename, s.Name)
		}
		seen[s.Name] = struct{}{}
		p.Steps = append(p.Steps, &config.Step{
			TypeName:  s.TypeName,
			Name:      s.Name,
			Params:    extractBodyAttributes(s.Params),
			DependsOn: s.DependsOn,
		})
	}

	logger.Debug("Pipeline definition loaded.", "pipeline", p.Name, "steps", len(p.Steps))
	return p, nil
}

// extractBodyAttributes converts a params block body into a map of raw
// expressions keyed by attribute name.
func extractBodyAttributes(block *paramsBlock) map[string]hcl.Expression {
	if block == nil || block.Body == nil {
		return map[string]hcl.Expression{}
	}
	attrs, _ := block.Body.JustAttributes()
	exprMap := make(map[string]hcl.Expression, len(attrs))
	for name, attr := range attrs {
		exprMap[name] = attr.Expr
	}
	return exprMap
}
