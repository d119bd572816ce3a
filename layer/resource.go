// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package layer

import (
	"fmt"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
)

// Resource describes the entity producing spans.
type Resource struct {
	attrs     []attribute.KeyValue
	schemaURL string
}

// UnsupportedValueError is returned for resource values that are not a
// bool, integer, float, string or a homogeneous array of one of those.
type UnsupportedValueError struct {
	Key   string
	Value any
}

// Error implements the [builtin.error] interface.
func (e UnsupportedValueError) Error() string {
	return fmt.Sprintf("unsupported resource value for key %q: %T", e.Key, e.Value)
}

// MixedArrayError is returned for arrays whose elements differ in type.
type MixedArrayError struct {
	Key   string
	Index int
}

// Error implements the [builtin.error] interface.
func (e MixedArrayError) Error() string {
	return fmt.Sprintf("resource array %q is not homogeneous: element %d differs from element 0", e.Key, e.Index)
}

// NewResource converts attrs into a [Resource]. Keys are sorted so the
// result does not depend on map iteration order.
func NewResource(attrs map[string]any, schemaURL string) (Resource, error) {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kvs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		kv, err := keyValue(k, attrs[k])
		if err != nil {
			return Resource{}, ConfigError{Field: "resource", Cause: err}
		}
		kvs = append(kvs, kv)
	}
	return Resource{attrs: kvs, schemaURL: schemaURL}, nil
}

// Attributes returns a copy of the resource attributes.
func (r Resource) Attributes() []attribute.KeyValue {
	return append([]attribute.KeyValue(nil), r.attrs...)
}

// SchemaURL returns the optional schema URL.
func (r Resource) SchemaURL() string {
	return r.schemaURL
}

// IsZero reports whether the resource carries no information.
func (r Resource) IsZero() bool {
	return len(r.attrs) == 0 && r.schemaURL == ""
}

func keyValue(k string, v any) (attribute.KeyValue, error) {
	key := attribute.Key(k)
	switch x := v.(type) {
	case bool:
		return key.Bool(x), nil
	case string:
		return key.String(x), nil
	case float32:
		return key.Float64(float64(x)), nil
	case float64:
		return key.Float64(x), nil
	case []bool:
		return key.BoolSlice(x), nil
	case []string:
		return key.StringSlice(x), nil
	case []float64:
		return key.Float64Slice(x), nil
	case []int:
		return key.IntSlice(x), nil
	case []int64:
		return key.Int64Slice(x), nil
	case []any:
		return anySlice(k, x)
	}
	if i, ok := toInt64(v); ok {
		return key.Int64(i), nil
	}
	return attribute.KeyValue{}, UnsupportedValueError{Key: k, Value: v}
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case uint64:
		if x > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	}
	return 0, false
}

type elemKind int

const (
	elemInvalid elemKind = iota
	elemBool
	elemInt
	elemFloat
	elemString
)

func kindOf(v any) elemKind {
	switch v.(type) {
	case bool:
		return elemBool
	case float32, float64:
		return elemFloat
	case string:
		return elemString
	}
	if _, ok := toInt64(v); ok {
		return elemInt
	}
	return elemInvalid
}

func anySlice(k string, vs []any) (attribute.KeyValue, error) {
	key := attribute.Key(k)
	if len(vs) == 0 {
		return key.StringSlice(nil), nil
	}

	kind := kindOf(vs[0])
	if kind == elemInvalid {
		return attribute.KeyValue{}, UnsupportedValueError{Key: k, Value: vs[0]}
	}
	for i, v := range vs[1:] {
		if kindOf(v) != kind {
			return attribute.KeyValue{}, MixedArrayError{Key: k, Index: i + 1}
		}
	}

	switch kind {
	case elemBool:
		out := make([]bool, len(vs))
		for i, v := range vs {
			out[i] = v.(bool)
		}
		return key.BoolSlice(out), nil
	case elemInt:
		out := make([]int64, len(vs))
		for i, v := range vs {
			out[i], _ = toInt64(v)
		}
		return key.Int64Slice(out), nil
	case elemFloat:
		out := make([]float64, len(vs))
		for i, v := range vs {
			switch f := v.(type) {
			case float32:
				out[i] = float64(f)
			case float64:
				out[i] = f
			}
		}
		return key.Float64Slice(out), nil
	default:
		out := make([]string, len(vs))
		for i, v := range vs {
			out[i] = v.(string)
		}
		return key.StringSlice(out), nil
	}
}
