package lib0

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/signadot/ydoc/value"
)

var (
	ErrUnexpectedEOF = errors.New("unexpected end of input")
	ErrOverflow      = errors.New("integer overflow")
	ErrMalformed     = errors.New("malformed input")
)

// maxAnyDepth bounds nesting of decoded Any values.
const maxAnyDepth = 512

// Decoder reads lib0 values from a byte slice.
type Decoder struct {
	data []byte
	pos  int
}

func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

func (d *Decoder) Pos() int { return d.pos }

func (d *Decoder) ReadUint8() (uint8, error) {
	if d.pos >= len(d.data) {
		return 0, ErrUnexpectedEOF
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *Decoder) ReadVarUint() (uint64, error) {
	var v uint64
	var shift uint
	for {
		if d.pos >= len(d.data) {
			return 0, ErrUnexpectedEOF
		}
		b := d.data[d.pos]
		d.pos++
		if shift == 63 && b > 1 {
			return 0, ErrOverflow
		}
		v |= uint64(b&0x7f) << shift
		if b < 0x80 {
			return v, nil
		}
		shift += 7
		if shift > 63 {
			return 0, ErrOverflow
		}
	}
}

// ReadVarUint32 reads a varuint that must fit 32 bits.
func (d *Decoder) ReadVarUint32() (uint32, error) {
	v, err := d.ReadVarUint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d exceeds 32 bits", ErrOverflow, v)
	}
	return uint32(v), nil
}

// ReadLen reads a varuint length and checks that at least that many
// bytes remain, which bounds allocations driven by hostile input.
func (d *Decoder) ReadLen() (int, error) {
	v, err := d.ReadVarUint()
	if err != nil {
		return 0, err
	}
	if v > uint64(d.Remaining()) {
		return 0, fmt.Errorf("%w: length %d with %d bytes left", ErrUnexpectedEOF, v, d.Remaining())
	}
	return int(v), nil
}

func (d *Decoder) ReadVarInt() (int64, error) {
	if d.pos >= len(d.data) {
		return 0, ErrUnexpectedEOF
	}
	b := d.data[d.pos]
	d.pos++
	u := uint64(b & 0x3f)
	neg := b&0x40 != 0
	shift := uint(6)
	for b&0x80 != 0 {
		if d.pos >= len(d.data) {
			return 0, ErrUnexpectedEOF
		}
		if shift > 63 {
			return 0, ErrOverflow
		}
		b = d.data[d.pos]
		d.pos++
		u |= uint64(b&0x7f) << shift
		shift += 7
	}
	if u > math.MaxInt64 {
		if neg && u == 1<<63 {
			return math.MinInt64, nil
		}
		return 0, ErrOverflow
	}
	if neg {
		return -int64(u), nil
	}
	return int64(u), nil
}

// ReadBytes returns the next n bytes. The slice aliases the input.
func (d *Decoder) ReadBytes(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, ErrUnexpectedEOF
	}
	p := d.data[d.pos : d.pos+n]
	d.pos += n
	return p, nil
}

func (d *Decoder) ReadVarBytes() ([]byte, error) {
	n, err := d.ReadLen()
	if err != nil {
		return nil, err
	}
	p, err := d.ReadBytes(n)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), p...), nil
}

func (d *Decoder) ReadString() (string, error) {
	n, err := d.ReadLen()
	if err != nil {
		return "", err
	}
	p, err := d.ReadBytes(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", fmt.Errorf("%w: invalid utf-8 string", ErrMalformed)
	}
	return string(p), nil
}

func (d *Decoder) ReadFloat32() (float32, error) {
	p, err := d.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.BigEndian.Uint32(p)), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	p, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(p)), nil
}

func (d *Decoder) ReadBigInt64() (int64, error) {
	p, err := d.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

// ReadAny reads a tagged value.
func (d *Decoder) ReadAny() (value.Any, error) {
	return d.readAny(0)
}

func (d *Decoder) readAny(depth int) (value.Any, error) {
	if depth > maxAnyDepth {
		return value.Any{}, fmt.Errorf("%w: nesting too deep", ErrMalformed)
	}
	tag, err := d.ReadUint8()
	if err != nil {
		return value.Any{}, err
	}
	switch tag {
	case tagUndefined:
		return value.Undefined(), nil
	case tagNull:
		return value.Null(), nil
	case tagInteger:
		i, err := d.ReadVarInt()
		if err != nil {
			return value.Any{}, err
		}
		return value.Number(float64(i)), nil
	case tagFloat32:
		f, err := d.ReadFloat32()
		if err != nil {
			return value.Any{}, err
		}
		return value.Number(float64(f)), nil
	case tagFloat64:
		f, err := d.ReadFloat64()
		if err != nil {
			return value.Any{}, err
		}
		return value.Number(f), nil
	case tagBigInt:
		i, err := d.ReadBigInt64()
		if err != nil {
			return value.Any{}, err
		}
		return value.BigInt(i), nil
	case tagFalse:
		return value.Bool(false), nil
	case tagTrue:
		return value.Bool(true), nil
	case tagString:
		s, err := d.ReadString()
		if err != nil {
			return value.Any{}, err
		}
		return value.String(s), nil
	case tagObject:
		n, err := d.ReadLen()
		if err != nil {
			return value.Any{}, err
		}
		m := make(map[string]value.Any, n)
		for range n {
			k, err := d.ReadString()
			if err != nil {
				return value.Any{}, err
			}
			v, err := d.readAny(depth + 1)
			if err != nil {
				return value.Any{}, err
			}
			m[k] = v
		}
		return value.Map(m), nil
	case tagArray:
		n, err := d.ReadLen()
		if err != nil {
			return value.Any{}, err
		}
		vs := make([]value.Any, 0, n)
		for range n {
			v, err := d.readAny(depth + 1)
			if err != nil {
				return value.Any{}, err
			}
			vs = append(vs, v)
		}
		return value.Array(vs...), nil
	case tagBuffer:
		p, err := d.ReadVarBytes()
		if err != nil {
			return value.Any{}, err
		}
		return value.Buffer(p), nil
	}
	return value.Any{}, fmt.Errorf("%w: unknown any tag %d", ErrMalformed, tag)
}
