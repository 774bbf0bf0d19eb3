package store

import (
	"unicode/utf8"

	"github.com/signadot/ydoc/value"
)

// Content reference numbers of the lib0 v1 update format.
const (
	refGC      = 0
	refDeleted = 1
	refJSON    = 2
	refBinary  = 3
	refString  = 4
	refEmbed   = 5
	refFormat  = 6
	refType    = 7
	refAny     = 8
	refDoc     = 9
	refSkip    = 10
	refMove    = 11
)

// Content is the payload of an item. Every content holds exactly one
// element, except DeletedContent and GCContent which may span several
// clock ticks.
type Content interface {
	ref() uint8
	countable() bool
}

// AnyContent is one JSON-like value.
type AnyContent struct{ Value value.Any }

// JSONContent is one value received in the legacy JSON encoding.
type JSONContent struct{ Value value.Any }

// BinaryContent is an opaque byte array.
type BinaryContent struct{ Data []byte }

// StringContent is one code point of text.
type StringContent struct{ Rune rune }

// EmbedContent is a non-text value embedded in text.
type EmbedContent struct{ Value value.Any }

// FormatContent opens (or, with a Null value, closes) a text attribute.
type FormatContent struct {
	Key   string
	Value value.Any
}

// TypeContent holds a nested branch.
type TypeContent struct{ Branch *Branch }

// DocContent holds a subdocument.
type DocContent struct {
	GUID string
	// Opts carries the subdocument options as a lib0 object.
	Opts value.Any
	Sub  *Store
}

// MoveContent relocates the element Target to the position of the
// holding item.
type MoveContent struct {
	Target   ID
	Priority int32
}

// DeletedContent stands in for N elements whose content is gone.
type DeletedContent struct{ N uint32 }

// GCContent marks N garbage collected clock ticks.
type GCContent struct{ N uint32 }

func (*AnyContent) ref() uint8     { return refAny }
func (*JSONContent) ref() uint8    { return refJSON }
func (*BinaryContent) ref() uint8  { return refBinary }
func (*StringContent) ref() uint8  { return refString }
func (*EmbedContent) ref() uint8   { return refEmbed }
func (*FormatContent) ref() uint8  { return refFormat }
func (*TypeContent) ref() uint8    { return refType }
func (*DocContent) ref() uint8     { return refDoc }
func (*MoveContent) ref() uint8    { return refMove }
func (*DeletedContent) ref() uint8 { return refDeleted }
func (*GCContent) ref() uint8      { return refGC }

func (*AnyContent) countable() bool     { return true }
func (*JSONContent) countable() bool    { return true }
func (*BinaryContent) countable() bool  { return true }
func (*StringContent) countable() bool  { return true }
func (*EmbedContent) countable() bool   { return true }
func (*FormatContent) countable() bool  { return false }
func (*TypeContent) countable() bool    { return true }
func (*DocContent) countable() bool     { return true }
func (*MoveContent) countable() bool    { return true }
func (*DeletedContent) countable() bool { return false }
func (*GCContent) countable() bool      { return false }

// utf16Len is the clock length of a code point.
func utf16Len(r rune) uint32 {
	if r >= 0x10000 && r <= utf8.MaxRune {
		return 2
	}
	return 1
}

// contentLen is the clock length of c.
func contentLen(c Content) uint32 {
	switch x := c.(type) {
	case *StringContent:
		return utf16Len(x.Rune)
	case *DeletedContent:
		return x.N
	case *GCContent:
		return x.N
	}
	return 1
}

// OutKind classifies an element read from a collection.
type OutKind int

const (
	OutAny OutKind = iota
	OutBranch
	OutDoc
	OutUndefined
)

// Out is an element value as seen by readers.
type Out struct {
	Kind   OutKind
	Any    value.Any
	Branch *Branch
	Doc    *DocContent
}

// IsScalar reports whether o is a plain value.
func (o Out) IsScalar() bool { return o.Kind == OutAny }

func contentOut(c Content) Out {
	switch x := c.(type) {
	case *AnyContent:
		return Out{Kind: OutAny, Any: x.Value}
	case *JSONContent:
		return Out{Kind: OutAny, Any: x.Value}
	case *BinaryContent:
		return Out{Kind: OutAny, Any: value.Buffer(x.Data)}
	case *StringContent:
		return Out{Kind: OutAny, Any: value.String(string(x.Rune))}
	case *EmbedContent:
		return Out{Kind: OutAny, Any: x.Value}
	case *TypeContent:
		if !x.Branch.Kind().Supported() {
			return Out{Kind: OutUndefined, Branch: x.Branch}
		}
		return Out{Kind: OutBranch, Branch: x.Branch}
	case *DocContent:
		return Out{Kind: OutDoc, Doc: x}
	}
	return Out{Kind: OutUndefined}
}

// ShouldLoad reports the shouldLoad option of the subdocument.
func (c *DocContent) ShouldLoad() bool {
	return optBool(c.Opts, "shouldLoad") || optBool(c.Opts, "autoLoad")
}

// AutoLoad reports the autoLoad option of the subdocument.
func (c *DocContent) AutoLoad() bool {
	return optBool(c.Opts, "autoLoad")
}

func optBool(opts value.Any, key string) bool {
	if opts.Type != value.MapType {
		return false
	}
	v, ok := opts.Fields[key]
	return ok && v.Type == value.BoolType && v.Bool
}

// DocOpts builds the option object stored with a subdocument.
func DocOpts(autoLoad, shouldLoad bool) value.Any {
	m := map[string]value.Any{}
	if autoLoad {
		m["autoLoad"] = value.Bool(true)
	}
	if shouldLoad {
		m["shouldLoad"] = value.Bool(true)
	}
	return value.Map(m)
}
