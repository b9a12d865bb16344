// internal/session/value.go
package session

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the shape of a Value.
type Kind string

const (
	// KindStructured is a mapping of field name to value.
	KindStructured Kind = "structured"

	// KindFreeText is an unstructured string.
	KindFreeText Kind = "free_text"
)

// Value is a single entry in SessionState. Exactly one of Fields or Text
// is meaningful, selected by Kind.
type Value struct {
	Kind   Kind           `json:"kind"`
	Fields map[string]any `json:"fields,omitempty"`
	Text   string         `json:"text,omitempty"`
}

// Structured builds a structured value. The map is copied.
func Structured(fields map[string]any) Value {
	return Value{Kind: KindStructured, Fields: cloneMap(fields)}
}

// FreeText builds a free-text value.
func FreeText(text string) Value {
	return Value{Kind: KindFreeText, Text: text}
}

// IsStructured reports whether v holds a field mapping.
func (v Value) IsStructured() bool {
	return v.Kind == KindStructured
}

// Field returns a top-level field of a structured value.
func (v Value) Field(name string) (any, bool) {
	if !v.IsStructured() {
		return nil, false
	}
	f, ok := v.Fields[name]
	return f, ok
}

// StringField returns a field rendered as a string, or "" when absent.
func (v Value) StringField(name string) string {
	f, ok := v.Field(name)
	if !ok || f == nil {
		return ""
	}
	if s, ok := f.(string); ok {
		return s
	}
	return fmt.Sprint(f)
}

// FieldNames returns the sorted keys of a structured value.
func (v Value) FieldNames() []string {
	names := make([]string, 0, len(v.Fields))
	for k := range v.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	out := Value{Kind: v.Kind, Text: v.Text}
	if v.Fields != nil {
		out.Fields = cloneMap(v.Fields)
	}
	return out
}

// String renders free text verbatim and structured values as JSON.
func (v Value) String() string {
	if !v.IsStructured() {
		return v.Text
	}
	data, err := json.Marshal(v.Fields)
	if err != nil {
		return fmt.Sprintf("%v", v.Fields)
	}
	return string(data)
}

// UnmarshalJSON accepts the tagged form. A missing kind is inferred.
func (v *Value) UnmarshalJSON(data []byte) error {
	type raw Value
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	switch r.Kind {
	case KindStructured, KindFreeText:
	case "":
		if r.Fields != nil {
			r.Kind = KindStructured
		} else {
			r.Kind = KindFreeText
		}
	default:
		return fmt.Errorf("unknown value kind %q", r.Kind)
	}
	*v = Value(r)
	return nil
}

// FromAny converts a decoded JSON value into a Value. Objects become
// structured values; strings become free text; anything else is rendered
// as JSON text.
func FromAny(x any) Value {
	switch t := x.(type) {
	case map[string]any:
		return Structured(t)
	case string:
		return FreeText(t)
	case nil:
		return FreeText("")
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return FreeText(fmt.Sprint(t))
		}
		return FreeText(string(data))
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneAny(v)
	}
	return out
}

func cloneAny(x any) any {
	switch t := x.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneAny(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = cloneMap(t[i])
		}
		return out
	default:
		return x
	}
}
