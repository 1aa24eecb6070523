// Package serialize turns typed resource property structs into the property maps
// stored on graph nodes.
//
// Field names come from the json tag. Empty fields are dropped, so a property that
// must render an explicit false or 0 is declared as a pointer. Values implementing
// Verbatim are stored untouched; graph references use this to survive until the
// template renderer resolves them.
package serialize

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

// Verbatim marks values that are copied into the output unchanged.
type Verbatim interface {
	Verbatim()
}

var (
	verbatimType  = reflect.TypeFor[Verbatim]()
	marshalerType = reflect.TypeFor[json.Marshaler]()
)

// Resource converts a property struct (or pointer to one) into a map.
// Anything that is not a struct yields a nil map.
func Resource(v any) (map[string]any, error) {
	val := reflect.Indirect(reflect.ValueOf(v))
	if val.Kind() != reflect.Struct {
		return nil, nil
	}
	return structProps(val)
}

// MustResource is Resource for property structs that cannot fail to serialize.
func MustResource(v any) map[string]any {
	props, err := Resource(v)
	if err != nil {
		panic(err)
	}
	return props
}

func structProps(val reflect.Value) (map[string]any, error) {
	props := make(map[string]any)
	typ := val.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		if !field.IsExported() {
			continue
		}
		name := propName(field)
		if name == "-" {
			continue
		}
		fv := val.Field(i)
		if empty(fv) {
			continue
		}
		out, err := value(fv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if out != nil {
			props[name] = out
		}
	}
	return props, nil
}

func propName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" {
		return field.Name
	}
	return name
}

// empty reports whether a field is left out of the property map. Structs are
// kept unless they say otherwise through an IsZero method.
func empty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	case reflect.Struct:
		if z, ok := v.Interface().(interface{ IsZero() bool }); ok {
			return z.IsZero()
		}
		return false
	default:
		return v.IsZero()
	}
}

func value(v reflect.Value) (any, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	t := v.Type()
	switch {
	case t.Implements(verbatimType):
		return v.Interface(), nil
	case t.Implements(marshalerType):
		return viaJSON(v.Interface())
	}

	switch v.Kind() {
	case reflect.Struct:
		return structProps(v)
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return nil, nil
		}
		items := make([]any, v.Len())
		for i := range items {
			item, err := value(v.Index(i))
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	case reflect.Map:
		if v.Len() == 0 {
			return nil, nil
		}
		entries := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			entry, err := value(iter.Value())
			if err != nil {
				return nil, err
			}
			entries[fmt.Sprint(iter.Key().Interface())] = entry
		}
		return entries, nil
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint(), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	default:
		return viaJSON(v.Interface())
	}
}

func viaJSON(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
