package value

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestJSONRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		out  string
		kind Type
	}{
		{in: `null`, out: `null`, kind: NullType},
		{in: `true`, out: `true`, kind: BoolType},
		{in: `1`, out: `1`, kind: NumberType},
		{in: `-2.5`, out: `-2.5`, kind: NumberType},
		{in: `9007199254740993`, out: `9007199254740993`, kind: BigIntType},
		{in: `"a<b"`, out: `"a<b"`, kind: StringType},
		{in: ` [1, "x", {"k": null}] `, out: `[1,"x",{"k":null}]`, kind: ArrayType},
		{in: `{"b":1,"a":2}`, out: `{"a":2,"b":1}`, kind: MapType},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			a, err := FromJSON([]byte(tc.in))
			if err != nil {
				t.Fatal(err)
			}
			if a.Type != tc.kind {
				t.Errorf("type %s, want %s", a.Type, tc.kind)
			}
			d, err := ToJSON(a)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.out, string(d)); diff != "" {
				t.Errorf("json mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromJSONErrors(t *testing.T) {
	for _, in := range []string{``, `{`, `1 2`, `[1,]`} {
		if _, err := FromJSON([]byte(in)); err == nil {
			t.Errorf("FromJSON(%q) succeeded", in)
		}
	}
}

func TestUndefinedRendersNull(t *testing.T) {
	if s := Undefined().String(); s != "null" {
		t.Errorf("got %s", s)
	}
	if _, err := ToJSON(Number(math.NaN())); !errors.Is(err, ErrUnsupported) {
		t.Errorf("NaN: %v", err)
	}
}

func TestEqual(t *testing.T) {
	a := Map(map[string]Any{"x": Array(Number(1), String("y"))})
	b := Map(map[string]Any{"x": Array(Number(1), String("y"))})
	c := Map(map[string]Any{"x": Array(Number(1))})
	if !a.Equal(b) {
		t.Errorf("equal values compare unequal")
	}
	if a.Equal(c) {
		t.Errorf("different values compare equal")
	}
	if Number(1).Equal(BigInt(1)) {
		t.Errorf("number and bigint compare equal")
	}
}

func TestGoConversion(t *testing.T) {
	in := map[string]any{"a": []any{true, "s", float64(3)}, "n": nil}
	a, err := FromGo(in)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, ToGo(a)); diff != "" {
		t.Errorf("go round trip (-want +got):\n%s", diff)
	}
	if _, err := FromGo(struct{}{}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("struct: %v", err)
	}
}
