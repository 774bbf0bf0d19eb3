package store

import (
	"sort"
	"sync/atomic"
)

// TypeRef is the kind of a branch as numbered on the wire.
type TypeRef uint8

const (
	TypeArray       TypeRef = 0
	TypeMap         TypeRef = 1
	TypeText        TypeRef = 2
	TypeXMLElement  TypeRef = 3
	TypeXMLFragment TypeRef = 4
	TypeXMLHook     TypeRef = 5
	TypeXMLText     TypeRef = 6
	TypeUndefined   TypeRef = 15
)

func (t TypeRef) String() string {
	switch t {
	case TypeArray:
		return "array"
	case TypeMap:
		return "map"
	case TypeText:
		return "text"
	case TypeXMLElement, TypeXMLFragment, TypeXMLHook, TypeXMLText:
		return "xml"
	}
	return "undefined"
}

// Supported reports whether branches of kind t can be read and written.
func (t TypeRef) Supported() bool {
	return t == TypeArray || t == TypeMap || t == TypeText
}

// Branch is the node backing a root or nested collection.
type Branch struct {
	// kind is written once for nested branches. A root seen only in
	// updates is undefined until a reader settles it, which may happen
	// without holding the document.
	kind atomic.Uint32
	// NodeName is carried for xml element and hook types received from
	// peers so they re-encode unchanged.
	NodeName string

	// Name is set for roots.
	Name string
	// Item holds the branch for nested branches.
	Item *Item

	Start *Item
	Map   map[string]*Item

	store *Store
}

// NewBranch returns a detached branch of kind k, to be integrated
// through a TypeContent.
func NewBranch(k TypeRef) *Branch {
	b := &Branch{Map: map[string]*Item{}}
	b.kind.Store(uint32(k))
	return b
}

// Kind returns the kind of b.
func (b *Branch) Kind() TypeRef { return TypeRef(b.kind.Load()) }

// Shape is the kind of b or, for a root of undefined kind, the kind its
// content implies: keyed entries make a map, text content a text, any
// other content an array. An empty undefined root stays undefined.
func (b *Branch) Shape() TypeRef {
	if k := b.Kind(); k != TypeUndefined {
		return k
	}
	if len(b.Map) > 0 {
		return TypeMap
	}
	for it := b.Start; it != nil; it = it.Right {
		switch it.Content.(type) {
		case *StringContent, *FormatContent, *EmbedContent:
			return TypeText
		}
	}
	if b.Start != nil {
		return TypeArray
	}
	return TypeUndefined
}

// Settle fixes the kind of an undefined root to its Shape and returns
// the resulting kind. The caller holds the document.
func (b *Branch) Settle() TypeRef {
	if k := b.Kind(); k != TypeUndefined {
		return k
	}
	k := b.Shape()
	if k == TypeUndefined || b.kind.CompareAndSwap(uint32(TypeUndefined), uint32(k)) {
		return k
	}
	return b.Kind()
}

// Store returns the store owning b.
func (b *Branch) Store() *Store { return b.store }

// IsRoot reports whether b is a named root.
func (b *Branch) IsRoot() bool { return b.Item == nil }

// Deleted reports whether b lives inside a deleted item.
func (b *Branch) Deleted() bool {
	return b.Item != nil && b.Item.Deleted
}

// Keys returns the keys holding a live value, sorted.
func (b *Branch) Keys() []string {
	keys := make([]string, 0, len(b.Map))
	for k, it := range b.Map {
		if !it.Deleted {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
