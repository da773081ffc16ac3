package config

import (
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/zclconf/go-cty/cty"
	"gopkg.in/yaml.v3"
)

// extensibleKey is the reserved top-level key in the base parameter file
// that lists subtree prefixes open to new override keys. It is a directive,
// not a parameter, and is removed from the tree after parsing.
const extensibleKey = "extensible"

// FromYAMLFile reads the base parameter file from disk.
func FromYAMLFile(path string) (*Tree, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading parameter file: %w", err)
	}
	tree, err := FromYAML(src)
	if err != nil {
		return nil, fmt.Errorf("parameter file %s: %w", path, err)
	}
	return tree, nil
}

// FromYAML parses YAML into a parameter tree.
func FromYAML(src []byte) (*Tree, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(src, &doc); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if doc == nil {
		return EmptyTree(), nil
	}

	var extensible []Path
	if raw, ok := doc[extensibleKey]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%q must be a list of key paths", extensibleKey)
		}
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%q entries must be strings, got %T", extensibleKey, item)
			}
			p, err := ParsePath(s)
			if err != nil {
				return nil, fmt.Errorf("%q entry: %w", extensibleKey, err)
			}
			extensible = append(extensible, p)
		}
		delete(doc, extensibleKey)
	}

	root, err := nativeToCty(doc)
	if err != nil {
		return nil, err
	}
	return NewTree(root, extensible)
}

// nativeToCty converts decoded YAML values into the cty value space. Maps
// become objects so heterogeneous subtrees keep their per-key types.
func nativeToCty(v any) (cty.Value, error) {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType), nil
	case bool:
		return cty.BoolVal(val), nil
	case int:
		return cty.NumberIntVal(int64(val)), nil
	case int64:
		return cty.NumberIntVal(val), nil
	case uint64:
		return cty.NumberUIntVal(val), nil
	case float64:
		return cty.NumberFloatVal(val), nil
	case string:
		return cty.StringVal(val), nil
	case time.Time:
		return cty.StringVal(val.Format(time.RFC3339)), nil
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal, nil
		}
		elems := make([]cty.Value, len(val))
		for i, item := range val {
			ev, err := nativeToCty(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("list element %d: %w", i, err)
			}
			elems[i] = ev
		}
		return cty.TupleVal(elems), nil
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal, nil
		}
		attrs := make(map[string]cty.Value, len(val))
		for k, item := range val {
			av, err := nativeToCty(item)
			if err != nil {
				return cty.NilVal, fmt.Errorf("key %q: %w", k, err)
			}
			attrs[k] = av
		}
		return cty.ObjectVal(attrs), nil
	default:
		return cty.NilVal, fmt.Errorf("unsupported configuration value of type %T", v)
	}
}

// ToNative is the inverse of nativeToCty, used when snapshotting a tree
// into a run record or handing values to code that does not speak cty.
func ToNative(v cty.Value) any {
	if v.IsNull() || !v.IsKnown() {
		return nil
	}
	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString()
	case ty == cty.Bool:
		return v.True()
	case ty == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return i
			}
		}
		f, _ := bf.Float64()
		return f
	case ty.IsObjectType() || ty.IsMapType():
		out := make(map[string]any)
		for k, av := range v.AsValueMap() {
			out[k] = ToNative(av)
		}
		return out
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		var out []any
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ToNative(ev))
		}
		return out
	default:
		return v.GoString()
	}
}
