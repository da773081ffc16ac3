// This file parses HCL type expressions (e.g. `string`, `list(number)`,
// `object({...})`) into their cty.Type equivalents for param declarations.

package hclspec

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// typeExprToCtyType converts an HCL type expression into its cty.Type
// equivalent. A nil expression means the param accepts any type.
func typeExprToCtyType(ctx context.Context, expr hcl.Expression) (cty.Type, error) {
	if expr == nil {
		return cty.DynamicPseudoType, nil
	}

	switch v := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		return typeCallToCtyType(ctx, v)

	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return cty.DynamicPseudoType, fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		switch name := v.Traversal.RootName(); name {
		case "string":
			return cty.String, nil
		case "number":
			return cty.Number, nil
		case "bool":
			return cty.Bool, nil
		case "any":
			return cty.DynamicPseudoType, nil
		default:
			return cty.DynamicPseudoType, fmt.Errorf("unknown primitive type %q", name)
		}

	default:
		return cty.DynamicPseudoType, fmt.Errorf("unsupported expression for type definition: %T", v)
	}
}

func typeCallToCtyType(ctx context.Context, call *hclsyntax.FunctionCallExpr) (cty.Type, error) {
	if call.Name == "object" {
		if len(call.Args) != 1 {
			return cty.DynamicPseudoType, fmt.Errorf("the object() type constructor requires exactly one argument, got %d", len(call.Args))
		}
		objExpr, ok := call.Args[0].(*hclsyntax.ObjectConsExpr)
		if !ok {
			return cty.DynamicPseudoType, fmt.Errorf("the argument to object() must be an object literal like { key = type, ... }, got %T", call.Args[0])
		}
		attrTypes := make(map[string]cty.Type)
		for _, item := range objExpr.Items {
			key := objectKeyName(item.KeyExpr)
			if key == "" {
				return cty.DynamicPseudoType, fmt.Errorf("invalid key in object type definition: keys must be simple identifiers or quoted strings")
			}
			valueType, err := typeExprToCtyType(ctx, item.ValueExpr)
			if err != nil {
				return cty.DynamicPseudoType, fmt.Errorf("in object attribute %q: %w", key, err)
			}
			attrTypes[key] = valueType
		}
		return cty.Object(attrTypes), nil
	}

	if len(call.Args) != 1 {
		return cty.DynamicPseudoType, fmt.Errorf("type constructors (list, map, set) require exactly one argument, got %d", len(call.Args))
	}
	elementType, err := typeExprToCtyType(ctx, call.Args[0])
	if err != nil {
		return cty.DynamicPseudoType, err
	}
	if elementType == cty.DynamicPseudoType {
		return cty.DynamicPseudoType, fmt.Errorf("collection types cannot contain type 'any'")
	}

	switch call.Name {
	case "list":
		return cty.List(elementType), nil
	case "map":
		return cty.Map(elementType), nil
	case "set":
		return cty.Set(elementType), nil
	default:
		return cty.DynamicPseudoType, fmt.Errorf("unknown type constructor function %q", call.Name)
	}
}

// objectKeyName extracts the attribute name from an object-literal key
// expression, unwrapping the ObjectConsKeyExpr wrapper HCL inserts around
// both bare identifiers and quoted strings.
func objectKeyName(expr hclsyntax.Expression) string {
	keyExpr, ok := expr.(*hclsyntax.ObjectConsKeyExpr)
	if !ok {
		return ""
	}
	switch kexpr := keyExpr.Wrapped.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		if len(kexpr.Traversal) == 1 {
			return kexpr.Traversal.RootName()
		}
	case *hclsyntax.TemplateExpr:
		if len(kexpr.Parts) == 1 {
			if lit, isLit := kexpr.Parts[0].(*hclsyntax.LiteralValueExpr); isLit && lit.Val.Type().Equals(cty.String) {
				return lit.Val.AsString()
			}
		}
	}
	return ""
}
