package ydoc

import (
	"fmt"

	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
)

type branchRef struct {
	doc *Doc
	b   *store.Branch
}

// branches resolves the raw handles of every collection of every
// document in the process.
var branches handle.Table[branchRef]

// handleFor returns the id of b, allocating it on first use so that
// every facade over b reports the same id.
func (d *Doc) handleFor(b *store.Branch) handle.ID {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	if id, ok := d.handles[b]; ok {
		return id
	}
	id := branches.Alloc(branchRef{doc: d, b: b})
	d.handles[b] = id
	return id
}

// observedID returns the id of b if one was ever issued.
func (d *Doc) observedID(b *store.Branch) (handle.ID, bool) {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	id, ok := d.handles[b]
	return id, ok
}

func (d *Doc) releaseHandles() int {
	d.handlesMu.Lock()
	defer d.handlesMu.Unlock()
	n := 0
	for b, id := range d.handles {
		if branches.Release(id) {
			n++
		}
		delete(d.handles, b)
	}
	return n
}

func resolve(id handle.ID, kind store.TypeRef) (branchRef, error) {
	ref, err := branches.Get(id)
	if err != nil {
		return branchRef{}, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if ref.b.Kind() != kind {
		return branchRef{}, fmt.Errorf("%w: handle %s is %s, not %s", ErrTypeMismatch, id, ref.b.Kind(), kind)
	}
	return ref, nil
}

// ArrayFromHandle returns the array facade for a raw handle.
func ArrayFromHandle(id handle.ID) (*Array, error) {
	ref, err := resolve(id, store.TypeArray)
	if err != nil {
		return nil, err
	}
	return &Array{doc: ref.doc, id: id}, nil
}

// MapFromHandle returns the map facade for a raw handle.
func MapFromHandle(id handle.ID) (*Map, error) {
	ref, err := resolve(id, store.TypeMap)
	if err != nil {
		return nil, err
	}
	return &Map{doc: ref.doc, id: id}, nil
}

// TextFromHandle returns the text facade for a raw handle.
func TextFromHandle(id handle.ID) (*Text, error) {
	ref, err := resolve(id, store.TypeText)
	if err != nil {
		return nil, err
	}
	return &Text{doc: ref.doc, id: id}, nil
}
