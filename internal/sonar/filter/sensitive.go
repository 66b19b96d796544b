package filter

import (
	"reflect"
	"sort"
	"strings"

	"github.com/pysugar/go-sonar/internal/sonar/normalize"
)

// Mask replaces every value stored under a sensitive key.
const Mask = "***FILTERED***"

// DefaultSensitiveFields are always treated as sensitive key fragments.
var DefaultSensitiveFields = []string{
	"password",
	"passwd",
	"pwd",
	"pass",
	"secret",
	"api_key",
	"apikey",
	"api_secret",
	"token",
	"access_token",
	"refresh_token",
	"auth",
	"authorization",
	"credit_card",
	"card_number",
	"cvv",
	"cvc",
	"ssn",
	"pin",
	"session_id",
	"csrf",
	"private_key",
}

var (
	anyType  = reflect.TypeOf((*any)(nil)).Elem()
	maskType = reflect.TypeOf(Mask)
)

// Sensitive masks values whose keys look like secrets. Matching is
// case-insensitive and by substring, so "user_password" and "X-Api-Key" are
// both caught. It is a best-effort convenience, not a security boundary.
type Sensitive struct {
	exact     map[string]struct{}
	fragments []string
}

// NewSensitive unions DefaultSensitiveFields with custom fragments.
func NewSensitive(custom []string) *Sensitive {
	s := &Sensitive{exact: make(map[string]struct{})}
	for _, field := range append(append([]string(nil), DefaultSensitiveFields...), custom...) {
		field = strings.ToLower(strings.TrimSpace(field))
		if field == "" {
			continue
		}
		if _, ok := s.exact[field]; ok {
			continue
		}
		s.exact[field] = struct{}{}
		s.fragments = append(s.fragments, field)
	}
	sort.Strings(s.fragments)
	return s
}

// Fields returns the configured fragments in sorted order.
func (s *Sensitive) Fields() []string {
	return append([]string(nil), s.fragments...)
}

// IsSensitiveKey reports whether key equals or contains a configured fragment.
func (s *Sensitive) IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := s.exact[lower]; ok {
		return true
	}
	for _, fragment := range s.fragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Filter returns a masked copy of a map. Values under sensitive keys are
// replaced wholesale, nested maps and sequences are walked, and anything
// that is not a map at the top level is returned as is. The input is never
// modified. Slices stay slices and arrays stay arrays; a typed container is
// widened to hold `any` only when the mask or a widened child does not fit.
func (s *Sensitive) Filter(v any) any {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Map {
		return v
	}
	return s.filterMap(rv, 0).Interface()
}

func (s *Sensitive) filterMap(m reflect.Value, depth int) reflect.Value {
	if m.IsNil() {
		return m
	}
	t := m.Type()
	keys := make([]reflect.Value, 0, m.Len())
	vals := make([]reflect.Value, 0, m.Len())
	masked := make([]bool, 0, m.Len())
	fits := true

	iter := m.MapRange()
	for iter.Next() {
		k := iter.Key()
		keys = append(keys, k)
		name := k
		if name.Kind() == reflect.Interface && !name.IsNil() {
			name = name.Elem()
		}
		if name.Kind() == reflect.String && s.IsSensitiveKey(name.String()) {
			masked = append(masked, true)
			vals = append(vals, reflect.Value{})
			if maskValue(t.Elem()) == nil {
				fits = false
			}
			continue
		}
		child := s.filterValue(iter.Value(), depth+1)
		if !child.Type().AssignableTo(t.Elem()) {
			fits = false
		}
		masked = append(masked, false)
		vals = append(vals, child)
	}

	outType := t
	if !fits {
		outType = reflect.MapOf(t.Key(), anyType)
	}
	out := reflect.MakeMapWithSize(outType, len(keys))
	for i, k := range keys {
		if masked[i] {
			out.SetMapIndex(k, *maskValue(outType.Elem()))
			continue
		}
		out.SetMapIndex(k, vals[i])
	}
	return out
}

func (s *Sensitive) filterSeq(seq reflect.Value, depth int) reflect.Value {
	if seq.Kind() == reflect.Slice && seq.IsNil() {
		return seq
	}
	t := seq.Type()
	n := seq.Len()
	vals := make([]reflect.Value, n)
	fits := true
	for i := 0; i < n; i++ {
		vals[i] = s.filterValue(seq.Index(i), depth+1)
		if !vals[i].Type().AssignableTo(t.Elem()) {
			fits = false
		}
	}

	var out reflect.Value
	switch {
	case seq.Kind() == reflect.Array && fits:
		out = reflect.New(t).Elem()
	case seq.Kind() == reflect.Array:
		out = reflect.New(reflect.ArrayOf(n, anyType)).Elem()
	case fits:
		out = reflect.MakeSlice(t, n, n)
	default:
		out = reflect.MakeSlice(reflect.SliceOf(anyType), n, n)
	}
	for i, v := range vals {
		out.Index(i).Set(v)
	}
	return out
}

// filterValue walks maps and sequences. Every other value, including
// pointers, is passed through untouched. Containers nested deeper than
// normalize.MaxDepth, such as a map holding itself, become the depth marker.
func (s *Sensitive) filterValue(v reflect.Value, depth int) reflect.Value {
	inner := v
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return v
		}
		inner = v.Elem()
	}
	switch inner.Kind() {
	case reflect.Map:
		if depth > normalize.MaxDepth {
			return reflect.ValueOf(normalize.MaxDepthMarker)
		}
		return s.filterMap(inner, depth)
	case reflect.Slice, reflect.Array:
		if inner.Type().Elem().Kind() == reflect.Uint8 {
			return v
		}
		if depth > normalize.MaxDepth {
			return reflect.ValueOf(normalize.MaxDepthMarker)
		}
		return s.filterSeq(inner, depth)
	}
	return v
}

func maskValue(elem reflect.Type) *reflect.Value {
	switch {
	case maskType.AssignableTo(elem):
		v := reflect.ValueOf(Mask)
		return &v
	case elem.Kind() == reflect.String:
		v := reflect.ValueOf(Mask).Convert(elem)
		return &v
	}
	return nil
}
