package legacy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	NullValue ValueKind = iota
	StringValue
	NumberValue
	BoolValue
	ListValue
	RecordValue
)

// Value is one entry of an image summary: a string, number, bool, list of
// values, or a nested record.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
	rec  Record
}

func String(s string) Value  { return Value{kind: StringValue, str: s} }
func Number(f float64) Value { return Value{kind: NumberValue, num: f} }
func Bool(b bool) Value      { return Value{kind: BoolValue, b: b} }
func List(vs ...Value) Value { return Value{kind: ListValue, list: vs} }

// Nested wraps fields as a record value.
func Nested(fields ...Field) Value { return Value{kind: RecordValue, rec: fields} }

// Strings builds a list of string values.
func Strings(ss []string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = String(s)
	}
	return List(vs...)
}

// Numbers builds a list of number values.
func Numbers(fs []float64) Value {
	vs := make([]Value, len(fs))
	for i, f := range fs {
		vs[i] = Number(f)
	}
	return List(vs...)
}

// Ints builds a list of number values from ints.
func Ints(is []int) Value {
	vs := make([]Value, len(is))
	for i, n := range is {
		vs[i] = Number(float64(n))
	}
	return List(vs...)
}

func (v Value) Kind() ValueKind { return v.kind }

// Str returns the string held by v, or "" for other kinds.
func (v Value) Str() string { return v.str }

// Num returns the number held by v, or 0 for other kinds.
func (v Value) Num() float64 { return v.num }

// Truth returns the bool held by v, or false for other kinds.
func (v Value) Truth() bool { return v.b }

func (v Value) Items() []Value { return v.list }

func (v Value) Fields() Record { return v.rec }

// Interface converts v to plain Go values: string, float64, bool,
// []interface{}, or an ordered []Field for records. Null converts to nil.
func (v Value) Interface() interface{} {
	switch v.kind {
	case StringValue:
		return v.str
	case NumberValue:
		return v.num
	case BoolValue:
		return v.b
	case ListValue:
		out := make([]interface{}, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case RecordValue:
		return v.rec
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case StringValue:
		return v.str
	case NumberValue, BoolValue:
		return fmt.Sprint(v.Interface())
	case ListValue:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case RecordValue:
		parts := make([]string, len(v.rec))
		for i, f := range v.rec {
			parts[i] = f.Key + "=" + f.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return "null"
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == RecordValue {
		return v.rec.MarshalJSON()
	}
	return json.Marshal(v.Interface())
}

// Field is one key of a Record.
type Field struct {
	Key   string
	Value Value
}

// Record is an ordered set of fields. Keys are unique.
type Record []Field

// Get returns the value stored under key.
func (r Record) Get(key string) (Value, bool) {
	for _, f := range r {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Set replaces the value under key in place, or appends it.
func (r *Record) Set(key string, v Value) {
	for i, f := range *r {
		if f.Key == key {
			(*r)[i].Value = v
			return
		}
	}
	*r = append(*r, Field{Key: key, Value: v})
}

// Flatten expands nested records into dotted keys, depth first, keeping
// field order. Non-record values are kept as they are.
func (r Record) Flatten(sep string) Record {
	var out Record
	var walk func(prefix string, rec Record)
	walk = func(prefix string, rec Record) {
		for _, f := range rec {
			key := f.Key
			if prefix != "" {
				key = prefix + sep + key
			}
			if f.Value.kind == RecordValue {
				walk(key, f.Value.rec)
				continue
			}
			out = append(out, Field{Key: key, Value: f.Value})
		}
	}
	walk("", r)
	return out
}

// MarshalJSON encodes r as a JSON object in field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			sb.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		v, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		sb.Write(k)
		sb.WriteByte(':')
		sb.Write(v)
	}
	sb.WriteByte('}')
	return []byte(sb.String()), nil
}
