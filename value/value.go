// Package value holds Any, the closed union of JSON-like values stored in
// documents.
package value

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var ErrUnsupported = errors.New("unsupported value")

type Type int

const (
	UndefinedType Type = iota
	NullType
	BoolType
	NumberType
	BigIntType
	StringType
	BufferType
	ArrayType
	MapType
)

func (t Type) String() string {
	s, ok := map[Type]string{
		UndefinedType: "Undefined",
		NullType:      "Null",
		BoolType:      "Bool",
		NumberType:    "Number",
		BigIntType:    "BigInt",
		StringType:    "String",
		BufferType:    "Buffer",
		ArrayType:     "Array",
		MapType:       "Map",
	}[t]
	if ok {
		return s
	}
	return "<unknown type>"
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Any is a value of one Type. Only the fields matching Type are
// meaningful.
type Any struct {
	Type   Type
	Bool   bool
	Number float64
	BigInt int64
	Str    string
	Buffer []byte
	Values []Any
	Fields map[string]Any
}

func Undefined() Any { return Any{Type: UndefinedType} }
func Null() Any { return Any{Type: NullType} }
func Bool(b bool) Any { return Any{Type: BoolType, Bool: b} }
func Number(f float64) Any { return Any{Type: NumberType, Number: f} }
func BigInt(i int64) Any { return Any{Type: BigIntType, BigInt: i} }
func String(s string) Any { return Any{Type: StringType, Str: s} }
func Buffer(b []byte) Any { return Any{Type: BufferType, Buffer: b} }
func Array(vs ...Any) Any { return Any{Type: ArrayType, Values: vs} }
func Map(m map[string]Any) Any { return Any{Type: MapType, Fields: m} }

// Keys returns the keys of a map value in sorted order.
func (a Any) Keys() []string {
	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality.
func (a Any) Equal(b Any) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case UndefinedType, NullType:
		return true
	case BoolType:
		return a.Bool == b.Bool
	case NumberType:
		return a.Number == b.Number
	case BigIntType:
		return a.BigInt == b.BigInt
	case StringType:
		return a.Str == b.Str
	case BufferType:
		return bytes.Equal(a.Buffer, b.Buffer)
	case ArrayType:
		if len(a.Values) != len(b.Values) {
			return false
		}
		for i := range a.Values {
			if !a.Values[i].Equal(b.Values[i]) {
				return false
			}
		}
		return true
	case MapType:
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for k, v := range a.Fields {
			w, ok := b.Fields[k]
			if !ok || !v.Equal(w) {
				return false
			}
		}
		return true
	}
	return false
}

// ToGo converts a to plain Go values of the shapes produced by
// encoding/json: nil, bool, float64, int64, string, []any and
// map[string]any. Buffers become []byte.
func ToGo(a Any) any {
	switch a.Type {
	case BoolType:
		return a.Bool
	case NumberType:
		return a.Number
	case BigIntType:
		return a.BigInt
	case StringType:
		return a.Str
	case BufferType:
		return a.Buffer
	case ArrayType:
		res := make([]any, len(a.Values))
		for i, v := range a.Values {
			res[i] = ToGo(v)
		}
		return res
	case MapType:
		res := make(map[string]any, len(a.Fields))
		for k, v := range a.Fields {
			res[k] = ToGo(v)
		}
		return res
	default:
		return nil
	}
}

// FromGo converts Go values to Any. It accepts the shapes ToGo produces,
// json.Number, the sized integer and float kinds, and Any itself.
func FromGo(v any) (Any, error) {
	switch x := v.(type) {
	case nil:
		return Null(), nil
	case Any:
		return x, nil
	case bool:
		return Bool(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(float64(x)), nil
	case int:
		return intAny(int64(x)), nil
	case int32:
		return Number(float64(x)), nil
	case int64:
		return intAny(x), nil
	case uint32:
		return Number(float64(x)), nil
	case json.Number:
		return numberAny(x)
	case string:
		return String(x), nil
	case []byte:
		return Buffer(x), nil
	case []any:
		vs := make([]Any, len(x))
		for i, e := range x {
			a, err := FromGo(e)
			if err != nil {
				return Any{}, err
			}
			vs[i] = a
		}
		return Array(vs...), nil
	case []string:
		vs := make([]Any, len(x))
		for i, e := range x {
			vs[i] = String(e)
		}
		return Array(vs...), nil
	case map[string]any:
		m := make(map[string]Any, len(x))
		for k, e := range x {
			a, err := FromGo(e)
			if err != nil {
				return Any{}, err
			}
			m[k] = a
		}
		return Map(m), nil
	}
	return Any{}, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

const maxSafeInteger = 1<<53 - 1

func intAny(i int64) Any {
	if i > maxSafeInteger || i < -maxSafeInteger {
		return BigInt(i)
	}
	return Number(float64(i))
}

func numberAny(n json.Number) (Any, error) {
	if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
		return intAny(i), nil
	}
	f, err := strconv.ParseFloat(string(n), 64)
	if err != nil {
		return Any{}, fmt.Errorf("%w: number %q", ErrUnsupported, n)
	}
	return Number(f), nil
}

// FromJSON parses one JSON text.
func FromJSON(d []byte) (Any, error) {
	dec := json.NewDecoder(bytes.NewReader(d))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Any{}, err
	}
	if dec.More() {
		return Any{}, fmt.Errorf("trailing data after JSON value")
	}
	return FromGo(v)
}

// ToJSON renders a as JSON. Undefined renders as null and buffers as
// base64 strings.
func ToJSON(a Any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, a); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (a Any) MarshalJSON() ([]byte, error) {
	return ToJSON(a)
}

func (a *Any) UnmarshalJSON(d []byte) error {
	v, err := FromJSON(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// String renders a as JSON, or an error marker.
func (a Any) String() string {
	d, err := ToJSON(a)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(d)
}

func writeJSON(buf *bytes.Buffer, a Any) error {
	switch a.Type {
	case UndefinedType, NullType:
		buf.WriteString("null")
	case BoolType:
		buf.WriteString(strconv.FormatBool(a.Bool))
	case NumberType:
		if math.IsNaN(a.Number) || math.IsInf(a.Number, 0) {
			return fmt.Errorf("%w: number %v", ErrUnsupported, a.Number)
		}
		d, _ := json.Marshal(a.Number)
		buf.Write(d)
	case BigIntType:
		buf.WriteString(strconv.FormatInt(a.BigInt, 10))
	case StringType:
		writeString(buf, a.Str)
	case BufferType:
		d, _ := json.Marshal(a.Buffer)
		buf.Write(d)
	case ArrayType:
		buf.WriteByte('[')
		for i, v := range a.Values {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, v); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case MapType:
		buf.WriteByte('{')
		for i, k := range a.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := writeJSON(buf, a.Fields[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("%w: type %s", ErrUnsupported, a.Type)
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline
	buf.Truncate(buf.Len() - 1)
}
