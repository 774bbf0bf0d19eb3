package lib0

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/ydoc/value"
)

func TestVarUint(t *testing.T) {
	tests := []struct {
		v    uint64
		want []byte
	}{
		{0, []byte{0}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{math.MaxUint64, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}},
	}
	for _, tc := range tests {
		e := NewEncoder()
		e.WriteVarUint(tc.v)
		if diff := cmp.Diff(tc.want, e.Bytes()); diff != "" {
			t.Errorf("encode %d (-want +got):\n%s", tc.v, diff)
		}
		got, err := NewDecoder(e.Bytes()).ReadVarUint()
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.v {
			t.Errorf("decode got %d, want %d", got, tc.v)
		}
	}
}

func TestVarInt(t *testing.T) {
	tests := []struct {
		v    int64
		want []byte
	}{
		{0, []byte{0}},
		{1, []byte{1}},
		{-1, []byte{0x41}},
		{63, []byte{0x3f}},
		{64, []byte{0x80, 0x01}},
		{-64, []byte{0xc0, 0x01}},
	}
	for _, tc := range tests {
		e := NewEncoder()
		e.WriteVarInt(tc.v)
		if diff := cmp.Diff(tc.want, e.Bytes()); diff != "" {
			t.Errorf("encode %d (-want +got):\n%s", tc.v, diff)
		}
	}
	for _, v := range []int64{0, 5, -5, 1 << 40, -(1 << 40), math.MaxInt64, math.MinInt64} {
		e := NewEncoder()
		e.WriteVarInt(v)
		got, err := NewDecoder(e.Bytes()).ReadVarInt()
		if err != nil {
			t.Fatal(err)
		}
		if got != v {
			t.Errorf("round trip %d got %d", v, got)
		}
	}
}

func TestAnyRoundTrip(t *testing.T) {
	vals := []value.Any{
		value.Undefined(),
		value.Null(),
		value.Bool(true),
		value.Bool(false),
		value.Number(42),
		value.Number(-7),
		value.Number(0.5),
		value.Number(0.1),
		value.BigInt(math.MaxInt64),
		value.String("héllo"),
		value.Buffer([]byte{1, 2, 3}),
		value.Array(value.Number(1), value.String("x")),
		value.Map(map[string]value.Any{"a": value.Null(), "b": value.Array()}),
	}
	for _, v := range vals {
		e := NewEncoder()
		e.WriteAny(v)
		d := NewDecoder(e.Bytes())
		got, err := d.ReadAny()
		if err != nil {
			t.Fatalf("%s: %v", v, err)
		}
		if !got.Equal(v) {
			t.Errorf("round trip of %s got %s", v, got)
		}
		if d.Remaining() != 0 {
			t.Errorf("%s: %d bytes left", v, d.Remaining())
		}
	}
}

func TestAnyTags(t *testing.T) {
	tests := []struct {
		v   value.Any
		tag byte
	}{
		{value.Number(1), tagInteger},
		{value.Number(0.5), tagFloat32},
		{value.Number(0.1), tagFloat64},
		{value.String(""), tagString},
	}
	for _, tc := range tests {
		e := NewEncoder()
		e.WriteAny(tc.v)
		if e.Bytes()[0] != tc.tag {
			t.Errorf("%s encoded with tag %d, want %d", tc.v, e.Bytes()[0], tc.tag)
		}
	}
}

func TestTruncated(t *testing.T) {
	e := NewEncoder()
	e.WriteAny(value.Map(map[string]value.Any{"key": value.String("value")}))
	full := e.Bytes()
	for n := 0; n < len(full); n++ {
		if _, err := NewDecoder(full[:n]).ReadAny(); err == nil {
			t.Errorf("prefix of %d bytes decoded", n)
		}
	}
	if _, err := NewDecoder([]byte{0x80}).ReadVarUint(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("dangling continuation: %v", err)
	}
	if _, err := NewDecoder([]byte{0x05, 'a'}).ReadString(); !errors.Is(err, ErrUnexpectedEOF) {
		t.Errorf("short string: %v", err)
	}
	if _, err := NewDecoder([]byte{3}).ReadAny(); !errors.Is(err, ErrMalformed) {
		t.Errorf("unknown tag: %v", err)
	}
}
