package hclspec

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// translateStepType converts one HCL step_type block into the agnostic model.
func (l *Loader) translateStepType(ctx context.Context, block *stepTypeBlock) (*config.StepType, error) {
	st := &config.StepType{
		Name:        block.Name,
		Description: block.Description,
		Gated:       block.Gated,
		Params:      make(map[string]*config.ParamDef),
	}

	exec, err := translateRun(block)
	if err != nil {
		return nil, err
	}
	st.Execution = exec

	for _, p := range block.Params {
		if _, dup := st.Params[p.Name]; dup {
			return nil, fmt.Errorf("step type %q: parameter %q is declared more than once", block.Name, p.Name)
		}
		def, err := translateParamDef(ctx, block.Name, p)
		if err != nil {
			return nil, err
		}
		st.Params[p.Name] = def
	}
	return st, nil
}

func translateRun(block *stepTypeBlock) (*config.Execution, error) {
	if block.Run == nil {
		return nil, fmt.Errorf("step type %q: missing run block", block.Name)
	}
	hasHandler := block.Run.Handler != ""
	hasCommand := len(block.Run.Command) > 0
	if hasHandler == hasCommand {
		return nil, fmt.Errorf("step type %q: run block must set exactly one of handler or command", block.Name)
	}
	return &config.Execution{Handler: block.Run.Handler, Command: block.Run.Command}, nil
}

func translateParamDef(ctx context.Context, owner string, p *paramDefBlock) (*config.ParamDef, error) {
	parsedType, err := typeExprToCtyType(ctx, p.Type)
	if err != nil {
		return nil, fmt.Errorf("step type %q, param %q: %w", owner, p.Name, err)
	}

	role, err := translateRole(p.Role)
	if err != nil {
		return nil, fmt.Errorf("step type %q, param %q: %w", owner, p.Name, err)
	}
	if role != config.RoleValue && !parsedType.Equals(cty.String) {
		return nil, fmt.Errorf("step type %q, param %q: %s parameters must be of type string", owner, p.Name, role)
	}

	def := &config.ParamDef{
		Name:        p.Name,
		Type:        parsedType,
		Role:        role,
		Description: p.Description,
	}

	if isExprDefined(p.Default) {
		val, diags := p.Default.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("step type %q, param %q: invalid default value: %w", owner, p.Name, diags)
		}
		if !val.IsNull() && parsedType != cty.DynamicPseudoType {
			val, err = convert.Convert(val, parsedType)
			if err != nil {
				return nil, fmt.Errorf("step type %q, param %q: default value does not match declared type: %w", owner, p.Name, err)
			}
		}
		if val.IsNull() {
			def.Optional = true
		} else {
			def.Default = &val
			def.Optional = true
		}
	}
	return def, nil
}

func translateRole(raw string) (config.ParamRole, error) {
	switch raw {
	case "":
		return config.RoleValue, nil
	case string(config.RoleValue):
		return config.RoleValue, nil
	case string(config.RoleConsumes):
		return config.RoleConsumes, nil
	case string(config.RoleProduces):
		return config.RoleProduces, nil
	default:
		return "", fmt.Errorf("unknown parameter role %q", raw)
	}
}

// isExprDefined checks whether an HCL expression was actually present in the
// source. The decoder populates omitted optional attributes with non-nil,
// zero-width expression objects, so a nil check is not enough: a genuine
// attribute occupies bytes in the file.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	exprRange := expr.Range()
	return exprRange.End.Byte > exprRange.Start.Byte
}
