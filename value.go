package ydoc

import (
	"fmt"

	"github.com/signadot/ydoc/internal/store"
	"github.com/signadot/ydoc/value"
)

// Kind classifies a Value.
type Kind int

const (
	// KindUndefined marks a slot whose content is gone, such as a moved
	// element deleted by a peer, or a collection of an unsupported kind.
	// It is distinct from an absent index or key.
	KindUndefined Kind = iota
	KindScalar
	KindArray
	KindMap
	KindText
	KindDoc
)

var kindNames = map[Kind]string{
	KindUndefined: "undefined",
	KindScalar:    "scalar",
	KindArray:     "array",
	KindMap:       "map",
	KindText:      "text",
	KindDoc:       "doc",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Value is an element read from a collection. Nested collections are
// returned as facades over the same node, never as copies.
type Value struct {
	Kind   Kind
	Scalar value.Any
	Array  *Array
	Map    *Map
	Text   *Text
	Doc    *Doc
}

// IsUndefined reports whether v marks an undefined slot.
func (v Value) IsUndefined() bool { return v.Kind == KindUndefined }

// JSON returns the JSON text of a scalar value, or ErrEncoding.
func (v Value) JSON() (string, error) {
	if v.Kind != KindScalar {
		return "", fmt.Errorf("%w: %s is not a scalar", ErrEncoding, v.Kind)
	}
	return encodeJSON(v.Scalar)
}

// branchValue wraps b in its facade. The caller holds d.
func (d *Doc) branchValue(b *store.Branch) Value {
	switch b.Settle() {
	case store.TypeArray:
		return Value{Kind: KindArray, Array: &Array{doc: d, id: d.handleFor(b)}}
	case store.TypeMap:
		return Value{Kind: KindMap, Map: &Map{doc: d, id: d.handleFor(b)}}
	case store.TypeText:
		return Value{Kind: KindText, Text: &Text{doc: d, id: d.handleFor(b)}}
	}
	return Value{Kind: KindUndefined}
}

// valueOf converts an element of d. The caller holds d.
func (d *Doc) valueOf(o store.Out) Value {
	switch o.Kind {
	case store.OutAny:
		return Value{Kind: KindScalar, Scalar: o.Any}
	case store.OutBranch:
		return d.branchValue(o.Branch)
	case store.OutDoc:
		return Value{Kind: KindDoc, Doc: d.subdoc(o.Doc)}
	}
	return Value{Kind: KindUndefined}
}

func scalarJSON(o store.Out) (string, error) {
	switch o.Kind {
	case store.OutAny:
		return encodeJSON(o.Any)
	case store.OutUndefined:
		return "", fmt.Errorf("%w: undefined value", ErrEncoding)
	}
	return "", fmt.Errorf("%w: nested value is not a scalar", ErrEncoding)
}

func encodeJSON(a value.Any) (string, error) {
	d, err := value.ToJSON(a)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return string(d), nil
}

func decodeJSON(s string) (value.Any, error) {
	a, err := value.FromJSON([]byte(s))
	if err != nil {
		return value.Any{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return a, nil
}

// deepJSON renders o with its nested collections. Text becomes a
// string; subdocuments and undefined slots become null. A root only
// seen in updates renders as the kind of its content.
func deepJSON(s *store.Store, o store.Out) value.Any {
	switch o.Kind {
	case store.OutAny:
		return o.Any
	case store.OutBranch:
		b := o.Branch
		switch b.Shape() {
		case store.TypeArray:
			var vs []value.Any
			for _, sl := range s.Slots(b) {
				vs = append(vs, deepJSON(s, sl.Out))
			}
			return value.Array(vs...)
		case store.TypeMap:
			m := map[string]value.Any{}
			for _, k := range b.Keys() {
				v, _ := s.Get(b, k)
				m[k] = deepJSON(s, v)
			}
			return value.Map(m)
		case store.TypeText:
			return value.String(s.String(b))
		}
	}
	return value.Null()
}

// AsArray returns the array facade held in v.
func (v Value) AsArray() (*Array, error) {
	if v.Kind != KindArray {
		return nil, fmt.Errorf("%w: %s is not an array", ErrTypeMismatch, v.Kind)
	}
	return v.Array, nil
}

// AsMap returns the map facade held in v.
func (v Value) AsMap() (*Map, error) {
	if v.Kind != KindMap {
		return nil, fmt.Errorf("%w: %s is not a map", ErrTypeMismatch, v.Kind)
	}
	return v.Map, nil
}

// AsText returns the text facade held in v.
func (v Value) AsText() (*Text, error) {
	if v.Kind != KindText {
		return nil, fmt.Errorf("%w: %s is not a text", ErrTypeMismatch, v.Kind)
	}
	return v.Text, nil
}

// AsDoc returns the subdocument held in v.
func (v Value) AsDoc() (*Doc, error) {
	if v.Kind != KindDoc {
		return nil, fmt.Errorf("%w: %s is not a document", ErrTypeMismatch, v.Kind)
	}
	return v.Doc, nil
}
