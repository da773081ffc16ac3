package registry

import (
	"fmt"
	"reflect"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/modelyard/modelyard/internal/config"
)

// inputTagName is the struct tag binding handler input fields to the
// params declared in a step type manifest.
const inputTagName = "yard"

// DecodeInput populates a handler's input struct from the evaluated
// params object. Param evaluation has already applied defaults and
// converted values to their declared types, so decoding only has to
// map cty values onto Go fields by tag.
func DecodeInput(params cty.Value, target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode target must be a non-nil struct pointer, got %T", target)
	}
	return decodeStruct(params, rv.Elem())
}

func decodeStruct(val cty.Value, goVal reflect.Value) error {
	if val.IsNull() {
		return nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return fmt.Errorf("cannot decode %s into struct %s", ty.FriendlyName(), goVal.Type())
	}
	attrs := val.AsValueMap()

	goType := goVal.Type()
	for i := 0; i < goType.NumField(); i++ {
		field := goType.Field(i)
		tag, ok := field.Tag.Lookup(inputTagName)
		if !ok || tag == "" || tag == "-" || !field.IsExported() {
			continue
		}
		attr, ok := attrs[tag]
		if !ok || attr.IsNull() {
			continue
		}
		if err := decodeValue(attr, goVal.Field(i)); err != nil {
			return fmt.Errorf("attribute %q: %w", tag, err)
		}
	}
	return nil
}

var ctyValueType = reflect.TypeOf(cty.Value{})

func decodeValue(val cty.Value, goVal reflect.Value) error {
	goType := goVal.Type()

	// A cty.Value field receives the value untouched, letting a handler
	// inspect loosely typed params itself.
	if goType == ctyValueType {
		goVal.Set(reflect.ValueOf(val))
		return nil
	}
	if val.IsNull() || !val.IsKnown() {
		return nil
	}

	switch goType.Kind() {
	case reflect.Pointer:
		elem := reflect.New(goType.Elem())
		if err := decodeValue(val, elem.Elem()); err != nil {
			return err
		}
		goVal.Set(elem)
		return nil

	case reflect.Struct:
		return decodeStruct(val, goVal)

	case reflect.Interface:
		goVal.Set(reflect.ValueOf(config.ToNative(val)))
		return nil

	case reflect.Map:
		ty := val.Type()
		if !ty.IsObjectType() && !ty.IsMapType() {
			return fmt.Errorf("cannot decode %s into %s", ty.FriendlyName(), goType)
		}
		out := reflect.MakeMap(goType)
		for k, ev := range val.AsValueMap() {
			elem := reflect.New(goType.Elem()).Elem()
			if err := decodeValue(ev, elem); err != nil {
				return fmt.Errorf("element %q: %w", k, err)
			}
			out.SetMapIndex(reflect.ValueOf(k), elem)
		}
		goVal.Set(out)
		return nil

	case reflect.Slice:
		ty := val.Type()
		if !ty.IsTupleType() && !ty.IsListType() && !ty.IsSetType() {
			return fmt.Errorf("cannot decode %s into %s", ty.FriendlyName(), goType)
		}
		out := reflect.MakeSlice(goType, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			idx, ev := it.Element()
			elem := reflect.New(goType.Elem()).Elem()
			if err := decodeValue(ev, elem); err != nil {
				i, _ := idx.AsBigFloat().Int64()
				return fmt.Errorf("element %d: %w", i, err)
			}
			out = reflect.Append(out, elem)
		}
		goVal.Set(out)
		return nil

	default:
		want, err := gocty.ImpliedType(goVal.Interface())
		if err != nil {
			return fmt.Errorf("unsupported field type %s: %w", goType, err)
		}
		converted, err := convert.Convert(val, want)
		if err != nil {
			return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), goType, err)
		}
		return gocty.FromCtyValue(converted, goVal.Addr().Interface())
	}
}
