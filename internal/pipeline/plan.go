package pipeline

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/modelyard/modelyard/internal/artifact"
	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
	"github.com/modelyard/modelyard/internal/registry"
)

// SelectAll is the step selection that schedules every non-gated step.
const SelectAll = "all"

// Consume is one artifact reference a planned step reads. Unqualified
// references carry no version yet; the orchestrator pins them to the exact
// version the producing step writes.
type Consume struct {
	Param string
	Name  string
	Ref   artifact.Ref
	Raw   string

	// Unqualified marks a bare name that must be satisfied by a selected
	// upstream producer in the same run.
	Unqualified bool
}

// Produce is one artifact name a planned step is contracted to publish.
type Produce struct {
	Param string
	Name  string
}

// Node is one scheduled step with its parameters fully evaluated.
type Node struct {
	Step   *config.Step
	Type   *config.StepType
	Params cty.Value

	Consumes []Consume
	Produces []Produce

	deps       map[string]*Node
	dependents map[string]*Node
	order      int
}

// Name returns the step's instance name.
func (n *Node) Name() string { return n.Step.Name }

// Plan is a validated, topologically ordered set of steps ready to execute.
type Plan struct {
	Pipeline *config.Pipeline

	// Steps is the execution order: lineage and depends_on edges first,
	// declaration order as the tie-break.
	Steps []*Node
}

// StepNames lists the planned steps in execution order.
func (p *Plan) StepNames() []string {
	names := make([]string, len(p.Steps))
	for i, n := range p.Steps {
		names[i] = n.Name()
	}
	return names
}

// Planner builds execution plans. Planning is the fail-fast half of the
// orchestrator: every configuration defect it can detect halts the run
// before the first step executes.
type Planner struct {
	registry *registry.Registry
}

func NewPlanner(r *registry.Registry) *Planner {
	return &Planner{registry: r}
}

// Plan selects steps, evaluates their parameters against the resolved
// configuration, wires lineage and explicit dependencies, and returns the
// steps in execution order.
func (p *Planner) Plan(ctx context.Context, pipe *config.Pipeline, tree *config.Tree, selection []string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Planning pipeline run...", "pipeline", pipe.Name, "selection", selection)

	selected, err := p.selectSteps(pipe, selection)
	if err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, planErrorf("pipeline %q: selection matches no steps", pipe.Name)
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{"config": tree.Root()},
	}

	nodes := make([]*Node, 0, len(selected))
	for i, step := range selected {
		node, err := p.buildNode(step, evalCtx)
		if err != nil {
			return nil, err
		}
		node.order = i
		nodes = append(nodes, node)
	}

	if err := p.linkNodes(ctx, pipe, nodes); err != nil {
		return nil, err
	}

	ordered, err := sortNodes(nodes)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Pipeline: pipe, Steps: ordered}
	logger.Debug("Plan ready.", "steps", plan.StepNames())
	return plan, nil
}

// selectSteps resolves the selection expression into concrete steps in
// declaration order. "all" excludes gated step types; naming a gated step
// explicitly is the only way to schedule it.
func (p *Planner) selectSteps(pipe *config.Pipeline, selection []string) ([]*config.Step, error) {
	all := len(selection) == 0 || (len(selection) == 1 && selection[0] == SelectAll)

	if all {
		var out []*config.Step
		for _, step := range pipe.Steps {
			def, ok := p.registry.Definition(step.TypeName)
			if !ok {
				return nil, planErrorf("step %q uses unknown step type %q", step.Name, step.TypeName)
			}
			if def.Gated {
				continue
			}
			out = append(out, step)
		}
		return out, nil
	}

	wanted := make(map[string]bool, len(selection))
	for _, name := range selection {
		if name == SelectAll {
			return nil, planErrorf(`step selection cannot mix "all" with explicit step names`)
		}
		wanted[name] = true
	}

	var out []*config.Step
	for _, step := range pipe.Steps {
		if wanted[step.Name] {
			out = append(out, step)
			delete(wanted, step.Name)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for name := range wanted {
			unknown = append(unknown, name)
		}
		sort.Strings(unknown)
		return nil, planErrorf("selection names unknown steps: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// buildNode evaluates one step's parameters and classifies its lineage.
func (p *Planner) buildNode(step *config.Step, evalCtx *hcl.EvalContext) (*Node, error) {
	def, ok := p.registry.Definition(step.TypeName)
	if !ok {
		return nil, planErrorf("step %q uses unknown step type %q", step.Name, step.TypeName)
	}

	params, err := evalStepParams(step, def, evalCtx)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Step:       step,
		Type:       def,
		Params:     params,
		deps:       make(map[string]*Node),
		dependents: make(map[string]*Node),
	}

	attrs := params.AsValueMap()
	for _, pd := range def.ParamsByRole(config.RoleConsumes) {
		val := attrs[pd.Name]
		if val.IsNull() {
			continue
		}
		raw := val.AsString()
		consume, err := classifyConsume(pd.Name, raw)
		if err != nil {
			return nil, planErrorf("step %q: param %q: %v", step.Name, pd.Name, err)
		}
		node.Consumes = append(node.Consumes, consume)
	}
	for _, pd := range def.ParamsByRole(config.RoleProduces) {
		val := attrs[pd.Name]
		if val.IsNull() {
			continue
		}
		name := val.AsString()
		if err := artifact.ValidateName(name); err != nil {
			return nil, planErrorf("step %q: param %q: %v", step.Name, pd.Name, err)
		}
		node.Produces = append(node.Produces, Produce{Param: pd.Name, Name: name})
	}
	return node, nil
}

// evalStepParams evaluates the step's argument expressions once, converts
// them to their declared types, and fills in defaults. The result is the
// exact parameter object the step will run with.
func evalStepParams(step *config.Step, def *config.StepType, evalCtx *hcl.EvalContext) (cty.Value, error) {
	attrs := make(map[string]cty.Value, len(def.Params))

	for name, expr := range step.Params {
		pd := def.Param(name)
		if pd == nil {
			return cty.NilVal, planErrorf("step %q: step type %q declares no param %q", step.Name, def.Name, name)
		}
		val, diags := expr.Value(evalCtx)
		if diags.HasErrors() {
			return cty.NilVal, planErrorf("step %q: evaluating param %q: %s", step.Name, name, diags.Error())
		}
		converted, err := convert.Convert(val, pd.Type)
		if err != nil {
			return cty.NilVal, planErrorf("step %q: param %q: cannot convert %s to %s",
				step.Name, name, val.Type().FriendlyName(), pd.Type.FriendlyName())
		}
		attrs[name] = converted
	}

	for name, pd := range def.Params {
		if _, ok := attrs[name]; ok {
			continue
		}
		switch {
		case pd.Default != nil:
			attrs[name] = *pd.Default
		case pd.Optional:
			attrs[name] = cty.NullVal(pd.Type)
		default:
			return cty.NilVal, planErrorf("step %q: required param %q is not set", step.Name, name)
		}
	}

	return cty.ObjectVal(attrs), nil
}

// classifyConsume parses a consumed reference, distinguishing qualified
// references (resolved through the store at run time) from unqualified
// names that must be pinned to a selected producer.
func classifyConsume(param, raw string) (Consume, error) {
	ref, err := artifact.ParseRef(raw)
	if err == nil {
		return Consume{Param: param, Name: ref.Name, Ref: ref, Raw: raw}, nil
	}
	var unqualified *artifact.UnqualifiedRefError
	if errors.As(err, &unqualified) {
		return Consume{Param: param, Name: raw, Raw: raw, Unqualified: true}, nil
	}
	return Consume{}, err
}

// linkNodes is the second planning pass: it wires explicit depends_on edges
// and implicit lineage edges between selected steps.
func (p *Planner) linkNodes(ctx context.Context, pipe *config.Pipeline, nodes []*Node) error {
	logger := ctxlog.FromContext(ctx)

	declared := make(map[string]bool, len(pipe.Steps))
	for _, step := range pipe.Steps {
		declared[step.Name] = true
	}
	byName := make(map[string]*Node, len(nodes))
	for _, node := range nodes {
		byName[node.Name()] = node
	}

	producers := make(map[string]*Node)
	for _, node := range nodes {
		for _, prod := range node.Produces {
			if other, exists := producers[prod.Name]; exists {
				return planErrorf("artifact %q is produced by both %q and %q",
					prod.Name, other.Name(), node.Name())
			}
			producers[prod.Name] = node
		}
	}

	addEdge := func(from, to *Node) error {
		if from == to {
			return planErrorf("step %q depends on itself", to.Name())
		}
		if _, exists := to.deps[from.Name()]; !exists {
			logger.Debug("Linking dependency.", "from", to.Name(), "to", from.Name())
			to.deps[from.Name()] = from
			from.dependents[to.Name()] = to
		}
		return nil
	}

	for _, node := range nodes {
		for _, dep := range node.Step.DependsOn {
			depNode, selected := byName[dep]
			if !selected {
				if !declared[dep] {
					return planErrorf("step %q depends on undeclared step %q", node.Name(), dep)
				}
				// The dependency exists but was not selected; nothing to
				// order against in this run.
				continue
			}
			if err := addEdge(depNode, node); err != nil {
				return err
			}
		}

		for _, consume := range node.Consumes {
			producer, found := producers[consume.Name]
			if found {
				if err := addEdge(producer, node); err != nil {
					return err
				}
				continue
			}
			if consume.Unqualified {
				return planErrorf("step %q consumes %q without a version or tag, and no selected step produces it: %v",
					node.Name(), consume.Raw, &artifact.UnqualifiedRefError{Ref: consume.Raw})
			}
		}
	}
	return nil
}

// sortNodes orders the graph for sequential execution. Among steps whose
// dependencies are all satisfied, declaration order decides, which keeps
// plans reproducible run over run.
func sortNodes(nodes []*Node) ([]*Node, error) {
	pending := make([]*Node, len(nodes))
	copy(pending, nodes)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].order < pending[j].order })

	done := make(map[string]bool, len(nodes))
	ordered := make([]*Node, 0, len(nodes))

	for len(ordered) < len(nodes) {
		progressed := false
		for _, node := range pending {
			if done[node.Name()] {
				continue
			}
			ready := true
			for depName := range node.deps {
				if !done[depName] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			ordered = append(ordered, node)
			done[node.Name()] = true
			progressed = true
			break
		}
		if !progressed {
			var stuck []string
			for _, node := range pending {
				if !done[node.Name()] {
					stuck = append(stuck, node.Name())
				}
			}
			sort.Strings(stuck)
			return nil, planErrorf("dependency cycle involving steps: %s", strings.Join(stuck, ", "))
		}
	}
	return ordered, nil
}
