package config

import (
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Model is the unified, format-agnostic representation of everything loaded
// from disk: the pipeline definition and all known step-type manifests.
type Model struct {
	Pipeline  *Pipeline
	StepTypes map[string]*StepType
}

// Pipeline represents the user's pipeline definition.
type Pipeline struct {
	Name        string
	Description string
	Steps       []*Step
}

// Step is the format-agnostic representation of a single `step` block. The
// order of Steps in the Pipeline preserves declaration order, which is used
// as the tie-breaker when scheduling.
type Step struct {
	TypeName  string
	Name      string
	Params    map[string]hcl.Expression
	DependsOn []string
}

// ParamRole describes how a declared parameter participates in lineage.
type ParamRole string

const (
	// RoleValue is a plain configuration value.
	RoleValue ParamRole = "value"
	// RoleConsumes marks a parameter whose value is an artifact reference
	// the step reads. References must be fully qualified or resolvable to
	// an upstream producer in the same run.
	RoleConsumes ParamRole = "consumes"
	// RoleProduces marks a parameter whose value names an artifact the step
	// is contracted to publish.
	RoleProduces ParamRole = "produces"
)

// ParamDef defines a single declared parameter of a step type.
type ParamDef struct {
	Name        string
	Type        cty.Type
	Role        ParamRole
	Description string
	Default     *cty.Value
	Optional    bool
}

// Required reports whether a value must be supplied for this parameter.
func (d *ParamDef) Required() bool {
	return !d.Optional && d.Default == nil
}

// Execution describes how a step type runs: either an in-process Go handler
// registered under Handler, or an external Command spawned per invocation.
// Exactly one of the two is set.
type Execution struct {
	Handler string
	Command []string
}

// StepType is the format-agnostic representation of a step-type manifest.
type StepType struct {
	Name        string
	Description string

	// Gated step types never run as part of an "all" selection; they must
	// be requested by name.
	Gated bool

	Execution *Execution
	Params    map[string]*ParamDef
}

// Param returns the definition of the named parameter, or nil.
func (st *StepType) Param(name string) *ParamDef {
	return st.Params[name]
}

// ParamsByRole returns the step type's parameter definitions carrying the
// given role, sorted by name for deterministic iteration.
func (st *StepType) ParamsByRole(role ParamRole) []*ParamDef {
	var defs []*ParamDef
	for _, d := range st.Params {
		if d.Role == role {
			defs = append(defs, d)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
