package hclspec

import "github.com/hashicorp/hcl/v2"

// --- Pipeline file structures ---

// paramsBlock captures the free-form attribute body of a step's `params`
// block. Attributes are extracted as raw expressions and evaluated later
// against the resolved parameter tree.
type paramsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

// stepBlock represents a `step "type" "name"` block from a pipeline file.
type stepBlock struct {
	TypeName  string       `hcl:"step_type,label"`
	Name      string       `hcl:"instance_name,label"`
	Params    *paramsBlock `hcl:"params,block"`
	DependsOn []string     `hcl:"depends_on,optional"`
}

// pipelineBlock represents the single `pipeline "name"` header block.
type pipelineBlock struct {
	Name        string `hcl:"name,label"`
	Description string `hcl:"description,optional"`
}

// pipelineRoot is the top-level structure of a pipeline file.
type pipelineRoot struct {
	Pipeline *pipelineBlock `hcl:"pipeline,block"`
	Steps    []*stepBlock   `hcl:"step,block"`
	Body     hcl.Body       `hcl:",remain"`
}

// --- Step-type manifest structures ---

// runBlock maps a step type to its execution backend: either a registered
// Go handler or an external command.
type runBlock struct {
	Handler string   `hcl:"handler,optional"`
	Command []string `hcl:"command,optional"`
}

// paramDefBlock defines one declared parameter of a step type.
type paramDefBlock struct {
	Name        string         `hcl:"name,label"`
	Type        hcl.Expression `hcl:"type"`
	Role        string         `hcl:"role,optional"`
	Description string         `hcl:"description,optional"`
	Default     hcl.Expression `hcl:"default,optional"`
}

// stepTypeBlock represents one `step_type "name"` manifest block.
type stepTypeBlock struct {
	Name        string           `hcl:"name,label"`
	Description string           `hcl:"description,optional"`
	Gated       bool             `hcl:"gated,optional"`
	Run         *runBlock        `hcl:"run,block"`
	Params      []*paramDefBlock `hcl:"param,block"`
}

// manifestRoot is the top-level structure of a step-type manifest file.
type manifestRoot struct {
	StepTypes []*stepTypeBlock `hcl:"step_type,block"`
	Body      hcl.Body         `hcl:",remain"`
}
