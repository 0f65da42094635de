// Attribute values carried on spans
// A small tagged union over the JSON value space: null, string, number, bool, map and list
package spans

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindMap
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "null"
	}
}

// Value is a dynamically-typed attribute value. The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	m    map[string]Value
	list []Value
}

func Null() Value                  { return Value{} }
func String(s string) Value        { return Value{kind: KindString, str: s} }
func Number(f float64) Value       { return Value{kind: KindNumber, num: f} }
func Bool(b bool) Value            { return Value{kind: KindBool, b: b} }
func Map(m map[string]Value) Value { return Value{kind: KindMap, m: m} }
func List(l []Value) Value         { return Value{kind: KindList, list: l} }

// ValueOf converts a decoded JSON or YAML value into a Value.
// Types outside the JSON value space are rendered with fmt.Sprint.
func ValueOf(x any) Value {
	switch v := x.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return String(v)
	case bool:
		return Bool(v)
	case float64:
		return Number(v)
	case float32:
		return Number(float64(v))
	case int:
		return Number(float64(v))
	case int32:
		return Number(float64(v))
	case int64:
		return Number(float64(v))
	case uint64:
		return Number(float64(v))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return Number(f)
		}
		return String(v.String())
	case time.Time:
		return String(v.UTC().Format(time.RFC3339Nano))
	case map[string]Value:
		return Map(v)
	case map[string]any:
		m := make(map[string]Value, len(v))
		for k, item := range v {
			m[k] = ValueOf(item)
		}
		return Map(m)
	case []Value:
		return List(v)
	case []any:
		l := make([]Value, len(v))
		for i, item := range v {
			l[i] = ValueOf(item)
		}
		return List(l)
	default:
		return String(fmt.Sprint(v))
	}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsNumber returns the numeric payload. Numeric strings are accepted.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// AsBool returns the boolean payload; ok is false for other kinds.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsMap returns the nested map; ok is false for other kinds.
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.kind == KindMap }

// AsList returns the list payload; ok is false for other kinds.
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }

// Interface converts the Value back to plain Go values (string, float64, bool,
// map[string]any, []any or nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.Interface()
		}
		return m
	case KindList:
		l := make([]any, len(v.list))
		for i, item := range v.list {
			l[i] = item.Interface()
		}
		return l
	default:
		return nil
	}
}

// String renders the value for display. Maps print with sorted keys.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + v.m[k].String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var x any
	if err := json.Unmarshal(data, &x); err != nil {
		return err
	}
	*v = ValueOf(x)
	return nil
}

func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var x any
	if err := node.Decode(&x); err != nil {
		return err
	}
	*v = ValueOf(x)
	return nil
}
