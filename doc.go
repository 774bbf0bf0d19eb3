// Package ydoc is a concurrency-safe access layer over a collaborative
// document. A Doc owns its store behind a reentrant guard; collection
// facades (Array, Map, Text) are capabilities resolved through a
// process-wide handle table; every read and write goes through a
// Transaction that holds the document until it is freed.
//
// Observers receive change records when the transaction that caused
// them is freed. By default they run after the document is released,
// with a fresh transaction; Options.Dispatch selects inline delivery
// under the committing transaction instead.
package ydoc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/signadot/ydoc/guard"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
)

// Doc is a document: a tree of named root collections.
type Doc struct {
	opts Options
	log  *slog.Logger

	st   *store.Store
	cell *guard.Cell[*store.Store]

	// set for subdocuments
	parent  *Doc
	content *store.DocContent

	handlesMu sync.Mutex
	handles   map[*store.Branch]handle.ID

	subMu   sync.Mutex
	subdocs map[*store.Store]*Doc

	obs *hub

	undoMu sync.Mutex
	undos  []*UndoManager

	shouldLoad atomic.Bool
	destroyed  atomic.Bool
}

// New creates an empty document.
func New(opts Options) *Doc {
	st := store.New(opts.clientID(), opts.guid())
	return newDoc(st, opts, nil, nil)
}

func newDoc(st *store.Store, opts Options, parent *Doc, c *store.DocContent) *Doc {
	opts.GUID = st.GUID
	d := &Doc{
		opts:    opts,
		log:     opts.logger().With("component", "ydoc", "guid", st.GUID),
		st:      st,
		cell:    guard.New(st),
		parent:  parent,
		content: c,
		handles: map[*store.Branch]handle.ID{},
		subdocs: map[*store.Store]*Doc{},
		obs:     newHub(),
	}
	d.shouldLoad.Store(opts.ShouldLoad || opts.AutoLoad)
	return d
}

// GUID identifies the document across peers.
func (d *Doc) GUID() string { return d.st.GUID }

// ClientID is the id under which this replica writes.
func (d *Doc) ClientID() uint64 { return d.st.ClientID }

// AutoLoad reports the autoLoad option.
func (d *Doc) AutoLoad() bool { return d.opts.AutoLoad }

// ShouldLoad reports whether the document is, or was requested to be,
// loaded.
func (d *Doc) ShouldLoad() bool { return d.shouldLoad.Load() }

// ParentDoc returns the document holding d, or nil for a standalone
// document.
func (d *Doc) ParentDoc() *Doc { return d.parent }

// SameAs reports whether d and o are facades over the same document.
func (d *Doc) SameAs(o *Doc) bool {
	return o != nil && d.st == o.st
}

// Destroyed reports whether Destroy was called on d or an ancestor.
func (d *Doc) Destroyed() bool { return d.destroyed.Load() }

func (d *Doc) root(name string, k store.TypeRef) (*store.Branch, error) {
	b, err := d.st.Root(name, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTypeMismatch, err)
	}
	return b, nil
}

// GetArray returns the root array called name, creating it if needed.
// It does not wait for the document and may be called from observers.
func (d *Doc) GetArray(name string) (*Array, error) {
	b, err := d.root(name, store.TypeArray)
	if err != nil {
		return nil, err
	}
	return &Array{doc: d, id: d.handleFor(b)}, nil
}

// GetMap returns the root map called name, creating it if needed.
func (d *Doc) GetMap(name string) (*Map, error) {
	b, err := d.root(name, store.TypeMap)
	if err != nil {
		return nil, err
	}
	return &Map{doc: d, id: d.handleFor(b)}, nil
}

// GetText returns the root text called name, creating it if needed.
func (d *Doc) GetText(name string) (*Text, error) {
	b, err := d.root(name, store.TypeText)
	if err != nil {
		return nil, err
	}
	return &Text{doc: d, id: d.handleFor(b)}, nil
}

// subdoc returns the facade for the subdocument held in c. The caller
// holds d.
func (d *Doc) subdoc(c *store.DocContent) *Doc {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	if sd, ok := d.subdocs[c.Sub]; ok {
		return sd
	}
	if c.Sub.ClientID == 0 {
		c.Sub.ClientID = newClientID()
	}
	opts := Options{
		AutoLoad:   c.AutoLoad(),
		ShouldLoad: c.ShouldLoad(),
		Dispatch:   d.opts.Dispatch,
		Log:        d.opts.Log,
	}
	sd := newDoc(c.Sub, opts, d, c)
	d.subdocs[c.Sub] = sd
	return sd
}

func (d *Doc) forgetSubdoc(st *store.Store) {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	delete(d.subdocs, st)
}

// Load requests loading of the subdocument d within parentTx, a
// transaction on its parent. The request is reported to subdocs
// observers of the parent. Load is a no-op for standalone documents
// and for subdocuments already loaded.
func (d *Doc) Load(parentTx *Transaction) error {
	if d.parent == nil {
		return nil
	}
	_, release, err := parentTx.enter(d.parent, true)
	if err != nil {
		return err
	}
	defer release()
	if !d.shouldLoad.Swap(true) {
		parentTx.txn.LoadSubdoc(d.content)
	}
	return nil
}

// Destroy invalidates every handle issued for d and its subdocuments
// and notifies destroy observers. A subdocument is destroyed within
// parentTx, a transaction on its parent, which replaces it in the
// parent with a fresh, empty document of the same GUID. parentTx may be
// nil for standalone documents.
func (d *Doc) Destroy(parentTx *Transaction) error {
	if d.destroyed.Load() {
		return nil
	}
	if d.parent != nil {
		if parentTx == nil {
			return fmt.Errorf("%w: destroying subdocument %s needs a transaction on its parent", ErrWrongDocument, d.GUID())
		}
		_, release, err := parentTx.enter(d.parent, true)
		if err != nil {
			return err
		}
		fresh := store.New(newClientID(), d.GUID())
		parentTx.txn.ReplaceSubdoc(d.content, fresh, d.st.ParentItem)
		d.parent.forgetSubdoc(d.st)
		release()
	}
	var gone []*Doc
	d.destroyTree(&gone)
	n := 0
	for _, x := range gone {
		n += x.releaseHandles()
	}
	d.log.Debug("destroyed", "docs", len(gone), "handles", n)
	for _, x := range gone {
		x.obs.fireDestroy()
	}
	return nil
}

func (d *Doc) destroyTree(acc *[]*Doc) {
	if d.destroyed.Swap(true) {
		return
	}
	*acc = append(*acc, d)
	d.subMu.Lock()
	subs := make([]*Doc, 0, len(d.subdocs))
	for _, sd := range d.subdocs {
		subs = append(subs, sd)
	}
	d.subMu.Unlock()
	for _, sd := range subs {
		sd.destroyTree(acc)
	}
}
