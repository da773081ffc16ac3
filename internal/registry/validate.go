package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/modelyard/modelyard/internal/config"
	"github.com/modelyard/modelyard/internal/ctxlog"
)

// Validate cross-checks every step type definition against the Go side.
// Handler-backed types must have a registered handler whose yard-tagged
// input fields match the declared params in both directions, including
// their types. Command-backed types carry no handler and are skipped.
func Validate(ctx context.Context, r *Registry) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("🔍 Validating step type registry...")

	for _, typeName := range r.TypeNames() {
		def := r.Definitions[typeName]
		if def.Execution == nil || def.Execution.Handler == "" {
			continue
		}
		handler, ok := r.Handlers[def.Execution.Handler]
		if !ok {
			return fmt.Errorf("step type %q: handler %q is not registered", typeName, def.Execution.Handler)
		}
		if err := checkHandlerParity(logger, def, handler); err != nil {
			return err
		}
	}

	logger.Debug("✅ Step type registry validated")
	return nil
}

func checkHandlerParity(logger *slog.Logger, def *config.StepType, handler *Handler) error {
	inputType := handler.InputType()
	if inputType == nil {
		if len(def.Params) > 0 {
			return fmt.Errorf("step type %q declares %d params but handler %q takes no input",
				def.Name, len(def.Params), def.Execution.Handler)
		}
		return nil
	}

	goFields := make(map[string]reflect.StructField)
	for i := 0; i < inputType.NumField(); i++ {
		field := inputType.Field(i)
		if tag := field.Tag.Get(inputTagName); tag != "" && tag != "-" {
			goFields[tag] = field
		}
	}

	paramNames := make([]string, 0, len(def.Params))
	for name := range def.Params {
		paramNames = append(paramNames, name)
	}
	sort.Strings(paramNames)

	for _, name := range paramNames {
		param := def.Params[name]
		goField, ok := goFields[name]
		if !ok {
			return fmt.Errorf("step type %q: param %q is declared in the manifest but %s has no field with a matching %q tag",
				def.Name, name, inputType, inputTagName)
		}
		delete(goFields, name)

		if param.Type == cty.DynamicPseudoType {
			logger.Warn("Skipping strict type check for param declared as 'any'",
				"step_type", def.Name, "param", name)
			continue
		}
		implied, err := impliedFieldType(goField.Type)
		if err != nil {
			return fmt.Errorf("step type %q: cannot derive a manifest type for Go field %q: %w",
				def.Name, goField.Name, err)
		}
		if implied == cty.DynamicPseudoType {
			continue
		}
		if !implied.Equals(param.Type) {
			return fmt.Errorf("step type %q: param %q is %s in the manifest but %s on the Go struct",
				def.Name, name, param.Type.FriendlyName(), implied.FriendlyName())
		}
	}

	if len(goFields) > 0 {
		tags := make([]string, 0, len(goFields))
		for tag := range goFields {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		return fmt.Errorf("step type %q: Go field %q (tag %q) has no matching param in the manifest",
			def.Name, goFields[tags[0]].Name, tags[0])
	}
	return nil
}

// impliedFieldType derives the manifest type a Go input field expects.
// Unlike gocty.ImpliedType it follows yard tags into nested structs, so
// an object() param can decode into a plain Go struct.
func impliedFieldType(t reflect.Type) (cty.Type, error) {
	if t == ctyValueType {
		return cty.DynamicPseudoType, nil
	}
	switch t.Kind() {
	case reflect.Pointer:
		return impliedFieldType(t.Elem())
	case reflect.Interface:
		return cty.DynamicPseudoType, nil
	case reflect.Struct:
		attrs := make(map[string]cty.Type)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			tag := field.Tag.Get(inputTagName)
			if tag == "" || tag == "-" || !field.IsExported() {
				continue
			}
			ft, err := impliedFieldType(field.Type)
			if err != nil {
				return cty.NilType, fmt.Errorf("field %q: %w", field.Name, err)
			}
			attrs[tag] = ft
		}
		return cty.Object(attrs), nil
	case reflect.Slice:
		et, err := impliedFieldType(t.Elem())
		if err != nil {
			return cty.NilType, err
		}
		return cty.List(et), nil
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return cty.NilType, fmt.Errorf("map key type %s is not supported", t.Key())
		}
		et, err := impliedFieldType(t.Elem())
		if err != nil {
			return cty.NilType, err
		}
		return cty.Map(et), nil
	default:
		return gocty.ImpliedType(reflect.Zero(t).Interface())
	}
}
