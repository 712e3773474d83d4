package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"
)

// Kind identifies the JSON shape held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a structurally comparable fingerprint. Manifest entries may hold a
// plain hash string or arbitrarily nested build metadata, so equality is
// always deep.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a number.
func Number(n float64) Value {
	return Value{kind: KindNumber, n: json.Number(strconv.FormatFloat(n, 'g', -1, 64))}
}

// NumberLiteral wraps a JSON number literal without rounding it to float64.
func NumberLiteral(lit string) (Value, error) {
	if lit == "" || !(lit[0] == '-' || (lit[0] >= '0' && lit[0] <= '9')) || !json.Valid([]byte(lit)) {
		return Value{}, fmt.Errorf("invalid number literal %q", lit)
	}
	return Value{kind: KindNumber, n: json.Number(lit)}, nil
}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps an ordered list of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: append([]Value{}, items...)}
}

// Map wraps a set of named values. Key order is irrelevant.
func Map(fields map[string]Value) Value {
	m := make(map[string]Value, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the shape of v.
func (v Value) Kind() Kind { return v.kind }

// Equal reports whether v and other are structurally identical.
// Maps compare by key set and per-key value; lists compare element-wise.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}

	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == other.b
	case KindNumber:
		return numbersEqual(v.n, other.n)
	case KindString:
		return v.s == other.s
	case KindList:
		if len(v.list) != len(other.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(other.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, a := range v.m {
			b, ok := other.m[k]
			if !ok || !a.Equal(b) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders v as compact JSON.
func (v Value) String() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid %s>", v.kind)
	}
	return string(data)
}

// numbersEqual compares two number literals by exact value, so 1 and 1.0
// are equal while integers beyond float64 precision stay distinct.
func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}

// UnmarshalJSON implements json.Unmarshaler. Numbers keep their source
// literal.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	converted, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// MarshalJSON implements json.Marshaler. Map keys are emitted in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			val, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown value kind %d", int(v.kind))
}

// fromAny converts the output of encoding/json into a Value.
func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return NumberLiteral(t.String())
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Value{kind: KindList, list: items}, nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Value{kind: KindMap, m: m}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON type %T", raw)
	}
}
