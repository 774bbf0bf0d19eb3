// Package lib0 implements the lib0 v1 binary primitives used by document
// updates: LEB128 unsigned integers, lib0 signed integers, length
// prefixed strings and byte arrays, big-endian floats, and tagged Any
// values.
package lib0

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/signadot/ydoc/value"
)

// Any tags.
const (
	tagUndefined = 127
	tagNull      = 126
	tagInteger   = 125
	tagFloat32   = 124
	tagFloat64   = 123
	tagBigInt    = 122
	tagFalse     = 121
	tagTrue      = 120
	tagString    = 119
	tagObject    = 118
	tagArray     = 117
	tagBuffer    = 116
)

const maxSafeInteger = 1<<53 - 1

// Encoder appends lib0 values to a byte slice.
type Encoder struct {
	buf []byte
}

func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded bytes. The slice aliases the encoder.
func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) Len() int { return len(e.buf) }

func (e *Encoder) WriteUint8(b uint8) {
	e.buf = append(e.buf, b)
}

// WriteVarUint writes v as LEB128.
func (e *Encoder) WriteVarUint(v uint64) {
	for v >= 0x80 {
		e.buf = append(e.buf, byte(v)|0x80)
		v >>= 7
	}
	e.buf = append(e.buf, byte(v))
}

// WriteVarInt writes v in lib0 signed form: the first byte carries a
// continuation bit, a sign bit and six value bits, later bytes seven.
func (e *Encoder) WriteVarInt(v int64) {
	neg := v < 0
	var u uint64
	if neg {
		u = uint64(-v)
	} else {
		u = uint64(v)
	}
	b := byte(u & 0x3f)
	if neg {
		b |= 0x40
	}
	u >>= 6
	if u > 0 {
		b |= 0x80
	}
	e.buf = append(e.buf, b)
	for u > 0 {
		b = byte(u & 0x7f)
		u >>= 7
		if u > 0 {
			b |= 0x80
		}
		e.buf = append(e.buf, b)
	}
}

func (e *Encoder) WriteBytes(p []byte) {
	e.buf = append(e.buf, p...)
}

// WriteVarBytes writes a length prefixed byte array.
func (e *Encoder) WriteVarBytes(p []byte) {
	e.WriteVarUint(uint64(len(p)))
	e.buf = append(e.buf, p...)
}

// WriteString writes a length prefixed UTF-8 string.
func (e *Encoder) WriteString(s string) {
	e.WriteVarUint(uint64(len(s)))
	e.buf = append(e.buf, s...)
}

func (e *Encoder) WriteFloat32(f float32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, math.Float32bits(f))
}

func (e *Encoder) WriteFloat64(f float64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, math.Float64bits(f))
}

func (e *Encoder) WriteBigInt64(i int64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, uint64(i))
}

// WriteAny writes a tagged value. Map keys are written in sorted order so
// equal values encode identically.
func (e *Encoder) WriteAny(a value.Any) {
	switch a.Type {
	case value.UndefinedType:
		e.WriteUint8(tagUndefined)
	case value.NullType:
		e.WriteUint8(tagNull)
	case value.BoolType:
		if a.Bool {
			e.WriteUint8(tagTrue)
		} else {
			e.WriteUint8(tagFalse)
		}
	case value.NumberType:
		f := a.Number
		switch {
		case math.Trunc(f) == f && f <= maxSafeInteger && f >= -maxSafeInteger:
			e.WriteUint8(tagInteger)
			e.WriteVarInt(int64(f))
		case float64(float32(f)) == f:
			e.WriteUint8(tagFloat32)
			e.WriteFloat32(float32(f))
		default:
			e.WriteUint8(tagFloat64)
			e.WriteFloat64(f)
		}
	case value.BigIntType:
		e.WriteUint8(tagBigInt)
		e.WriteBigInt64(a.BigInt)
	case value.StringType:
		e.WriteUint8(tagString)
		e.WriteString(a.Str)
	case value.BufferType:
		e.WriteUint8(tagBuffer)
		e.WriteVarBytes(a.Buffer)
	case value.ArrayType:
		e.WriteUint8(tagArray)
		e.WriteVarUint(uint64(len(a.Values)))
		for _, v := range a.Values {
			e.WriteAny(v)
		}
	case value.MapType:
		e.WriteUint8(tagObject)
		keys := make([]string, 0, len(a.Fields))
		for k := range a.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.WriteVarUint(uint64(len(keys)))
		for _, k := range keys {
			e.WriteString(k)
			e.WriteAny(a.Fields[k])
		}
	default:
		e.WriteUint8(tagUndefined)
	}
}
