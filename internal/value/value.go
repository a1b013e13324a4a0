// Package value holds the comparison and classification rules for values
// flowing along sockets and through the buffer channel.
//
// Values are JSON-shaped: nil, bool, numbers, string, []any and
// map[string]any. Go integer and float32 values are widened to float64
// before comparison so that a node producing int(5) and a document
// restoring 5.0 are considered the same value.
package value

import (
	"reflect"

	"github.com/google/go-cmp/cmp"
)

// Tag classifies a value by its shape. It namespaces buffer keys.
type Tag string

const (
	TagBoolean Tag = "Boolean"
	TagNumber  Tag = "Number"
	TagString  Tag = "String"
	TagObject  Tag = "Object"
)

// Tags lists every tag in a stable order.
var Tags = []Tag{TagBoolean, TagNumber, TagString, TagObject}

// exportAll lets cmp look inside structs with unexported fields instead of
// panicking; node outputs are occasionally plain Go structs.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// Equal reports whether a and b are structurally equal.
func Equal(a, b any) bool {
	return cmp.Equal(Normalize(a), Normalize(b), exportAll)
}

// TagOf returns the shape tag of v.
func TagOf(v any) Tag {
	switch Normalize(v).(type) {
	case bool:
		return TagBoolean
	case float64:
		return TagNumber
	case string:
		return TagString
	default:
		return TagObject
	}
}

// Normalize widens numeric values to float64, recursing into slices and
// maps of the JSON-shaped kinds. Other values are returned unchanged.
func Normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Normalize(e)
		}
		return out
	default:
		return v
	}
}

// Truthy interprets v as a boolean the way logic nodes do: nil, false, 0
// and "" are false, everything else is true.
func Truthy(v any) bool {
	switch t := Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// Number converts v to a float64 when it is numeric.
func Number(v any) (float64, bool) {
	f, ok := Normalize(v).(float64)
	return f, ok
}
