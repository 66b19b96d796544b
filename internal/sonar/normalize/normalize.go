// Package normalize turns arbitrary Go values into trees that encoding/json
// can always encode: nil, string, bool, integers, finite floats,
// []any and map[string]any.
package normalize

import (
	"encoding"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxDepth bounds recursion so self-referencing pointers terminate.
const MaxDepth = 64

// MaxDepthMarker replaces values nested deeper than MaxDepth.
const MaxDepthMarker = "<max depth exceeded>"

// decimal is satisfied by fixed-point types such as shopspring's Decimal.
type decimal interface {
	Float64() (float64, bool)
}

var emptyStruct = reflect.TypeOf(struct{}{})

// Value returns a JSON-safe copy of v. It never panics and never mutates v.
// Applying it twice yields the same tree as applying it once.
func Value(v any) any {
	return value(v, 0)
}

// Placeholder is the string used for values that cannot be represented.
func Placeholder(v any) string {
	return "<non-serializable: " + typeName(v) + ">"
}

func value(v any, depth int) (out any) {
	if depth > MaxDepth {
		return MaxDepthMarker
	}
	defer func() {
		if r := recover(); r != nil {
			out = Placeholder(v)
		}
	}()

	switch x := v.(type) {
	case nil:
		return nil
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return x
	case float64:
		return finite(x)
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return finite(float64(x))
		}
		return x
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return finite(f)
	case *big.Float:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Rat:
		if x == nil {
			return nil
		}
		f, _ := x.Float64()
		return finite(f)
	case *big.Int:
		if x == nil {
			return nil
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return finite(f)
	case decimal:
		f, _ := x.Float64()
		return finite(f)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.String()
	case uuid.UUID:
		return x.String()
	case json.RawMessage:
		return rawJSON(x, depth)
	case []byte:
		return decodeBytes(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[k] = value(item, depth+1)
		}
		return m
	case []any:
		list := make([]any, len(x))
		for i, item := range x {
			list[i] = value(item, depth+1)
		}
		return list
	case map[string]string:
		m := make(map[string]any, len(x))
		for k, item := range x {
			m[k] = item
		}
		return m
	case []string:
		list := make([]any, len(x))
		for i, item := range x {
			list[i] = item
		}
		return list
	}

	return reflectValue(v, depth)
}

func reflectValue(v any, depth int) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
	}

	if m, ok := v.(json.Marshaler); ok {
		if tree, ok := roundTrip(m, depth); ok {
			return tree
		}
	}
	if err, ok := v.(error); ok {
		return safeString(v, err.Error)
	}

	switch rv.Kind() {
	case reflect.Pointer:
		if s, ok := v.(fmt.Stringer); ok {
			return safeString(v, s.String)
		}
		return value(rv.Elem().Interface(), depth+1)
	case reflect.Interface:
		return value(rv.Elem().Interface(), depth+1)
	case reflect.Map:
		if rv.Type().Elem() == emptyStruct {
			return setToList(rv, depth)
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[mapKey(iter.Key())] = value(iter.Value().Interface(), depth+1)
		}
		return m
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return decodeBytes(rv.Bytes())
		}
		return listOf(rv, depth)
	case reflect.Array:
		return listOf(rv, depth)
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return finite(rv.Float())
	case reflect.Complex64, reflect.Complex128:
		return strconv.FormatComplex(rv.Complex(), 'g', -1, 128)
	case reflect.Struct:
		if s, ok := v.(fmt.Stringer); ok {
			return safeString(v, s.String)
		}
		if tree, ok := roundTrip(v, depth); ok {
			return tree
		}
		return safeString(v, func() string { return fmt.Sprintf("%+v", v) })
	}
	// func, chan and unsafe pointers only have an address to show.
	return Placeholder(v)
}

func finite(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func decodeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), "\uFFFD")
}

func rawJSON(raw json.RawMessage, depth int) any {
	if len(raw) == 0 {
		return nil
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return decodeBytes(raw)
	}
	return value(tree, depth+1)
}

// roundTrip encodes v with encoding/json and decodes it back into a
// generic tree. The second pass guarantees the result is JSON-safe.
func roundTrip(v any, depth int) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, false
	}
	return value(tree, depth+1), true
}

func listOf(rv reflect.Value, depth int) []any {
	list := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		list[i] = value(rv.Index(i).Interface(), depth+1)
	}
	return list
}

// setToList flattens map[K]struct{} sets. Elements are sorted by their
// printed form so output is stable across runs.
func setToList(rv reflect.Value, depth int) []any {
	list := make([]any, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		list = append(list, value(k.Interface(), depth+1))
	}
	sort.Slice(list, func(i, j int) bool {
		return fmt.Sprint(list[i]) < fmt.Sprint(list[j])
	})
	return list
}

func mapKey(k reflect.Value) string {
	if k.Kind() == reflect.String {
		return k.String()
	}
	key := k.Interface()
	if tm, ok := key.(encoding.TextMarshaler); ok {
		if text, err := tm.MarshalText(); err == nil {
			return string(text)
		}
	}
	return safeString(key, func() string { return fmt.Sprint(key) })
}

func safeString(v any, fn func() string) (s string) {
	defer func() {
		if r := recover(); r != nil {
			s = Placeholder(v)
		}
	}()
	return fn()
}

func typeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return "nil"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() != "" {
		return t.Name()
	}
	return t.String()
}
