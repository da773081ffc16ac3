package config

import "github.com/zclconf/go-cty/cty"

// Defaults returns the built-in bottom layer of the parameter tree. The base
// file and override layers stack on top of it.
func Defaults() *Tree {
	root := cty.ObjectVal(map[string]cty.Value{
		"main": cty.ObjectVal(map[string]cty.Value{
			"project_name":    cty.StringVal("modelyard"),
			"experiment_name": cty.StringVal("dev"),
			"steps":           cty.StringVal("all"),
		}),
	})
	return &Tree{root: root}
}

// Resolve produces the effective parameter tree for a single run. The base
// tree is layered over the built-in defaults, then each override set is
// applied in order of increasing precedence: the sweep point first, explicit
// command-line overrides last. Resolution happens exactly once per run; the
// returned tree is what every step of that run sees.
func Resolve(base *Tree, layers ...OverrideSet) (*Tree, error) {
	eff := &Tree{
		root:       mergeValue(Defaults().root, base.root),
		extensible: base.extensible,
	}
	var err error
	for _, set := range layers {
		for _, o := range set {
			eff, err = eff.Set(o.Path, o.Value)
			if err != nil {
				return nil, err
			}
		}
	}
	return eff, nil
}

// mergeValue deep-merges two cty values: mappings merge key-wise with upper
// winning on conflicts, everything else is replaced wholesale by upper.
func mergeValue(lower, upper cty.Value) cty.Value {
	if upper == cty.NilVal {
		return lower
	}
	lowerIsMap := lower != cty.NilVal && !lower.IsNull() &&
		(lower.Type().IsObjectType() || lower.Type().IsMapType())
	upperIsMap := !upper.IsNull() &&
		(upper.Type().IsObjectType() || upper.Type().IsMapType())
	if !lowerIsMap || !upperIsMap {
		return upper
	}

	attrs := copyAttrs(lower)
	for k, uv := range upper.AsValueMap() {
		if lv, ok := attrs[k]; ok {
			attrs[k] = mergeValue(lv, uv)
		} else {
			attrs[k] = uv
		}
	}
	return cty.ObjectVal(attrs)
}
