package cognition

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Document is a schema-on-read structured value. Beliefs, goals, intentions,
// episodes, procedures and working-memory items all carry open-ended payloads
// whose shape depends on the caller, so they are kept as JSON-compatible maps.
type Document map[string]any

// Get returns the raw value stored under key.
func (d Document) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	v, ok := d[key]
	return v, ok
}

// String returns the value under key when it is a string.
func (d Document) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Float returns the value under key as a float64. Any Go or JSON number is
// accepted; strings are not parsed.
func (d Document) Float(key string) (float64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Int returns the value under key truncated to an int.
func (d Document) Int(key string) (int, bool) {
	f, ok := d.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool returns the value under key when it is a bool.
func (d Document) Bool(key string) (bool, bool) {
	v, ok := d.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Clone returns a deep copy of d. Nested maps and slices are copied so the
// result can be mutated without affecting the original.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

// Merge copies every top-level key of src into d, overwriting existing keys.
// It is a shallow merge: nested maps are replaced, not combined.
func (d Document) Merge(src Document) Document {
	if d == nil {
		d = Document{}
	}
	for k, v := range src {
		d[k] = cloneValue(v)
	}
	return d
}

// Contains reports whether d contains sub, with the semantics of the
// PostgreSQL jsonb @> operator: every key of sub must be present in d with a
// value that contains the corresponding sub value. Arrays contain another
// array when every element of the latter is contained in some element of the
// former.
func (d Document) Contains(sub Document) bool {
	return containsValue(map[string]any(d), map[string]any(sub))
}

// Text renders the document as "key: value" lines in key order.
func (d Document) Text() string {
	keys := d.Keys()
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, formatValue(d[k]))
	}
	return b.String()
}

// Keys returns the document keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return "null"
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// valuesEqual compares two document values, treating numbers of different Go
// types as equal when their float64 values match.
func valuesEqual(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

func containsValue(have, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		h, ok := asMap(have)
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, ok := h[k]
			if !ok || !containsValue(hv, wv) {
				return false
			}
		}
		return true
	case Document:
		return containsValue(have, map[string]any(w))
	case []any:
		h, ok := normalizeValue(have).([]any)
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, hv := range h {
				if containsValue(hv, wv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	case []string:
		items := make([]any, len(w))
		for i, s := range w {
			items[i] = s
		}
		return containsValue(normalizeValue(have), items)
	}
	return valuesEqual(have, want)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Document:
		return map[string]any(m), true
	}
	return nil, false
}

// normalizeValue converts typed collections into their JSON-decoded shapes so
// values built in Go compare equal to values read back from a store.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case Document:
		return normalizeValue(map[string]any(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeValue(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeValue(e)
		}
		return out
	}
	return v
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case Document:
		return x.Clone()
	case map[string]any:
		return map[string]any(Document(x).Clone())
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(x))
		copy(out, x)
		return out
	}
	return v
}

func cloneDocs(docs []Document) []Document {
	if docs == nil {
		return nil
	}
	out := make([]Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
