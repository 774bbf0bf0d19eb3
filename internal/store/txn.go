package store

// Txn collects the effects of one transaction on a store: the state it
// started from, what it deleted, which branches changed and which
// subdocuments came and went.
type Txn struct {
	store  *Store
	Origin []byte

	before   StateVector
	deleted  DeleteSet
	delItems map[*Item]struct{}

	changed      map[*Branch]*changeSet
	changedOrder []*Branch

	subAdded   []*DocContent
	subRemoved []*DocContent
	subLoaded  []*DocContent
}

type changeSet struct {
	seq  bool
	keys map[string]struct{}
	ord  []string
}

// Begin opens a transaction on s.
func (s *Store) Begin(origin []byte) *Txn {
	return &Txn{
		store:    s,
		Origin:   origin,
		before:   s.StateVector(),
		deleted:  DeleteSet{},
		delItems: map[*Item]struct{}{},
		changed:  map[*Branch]*changeSet{},
	}
}

// Store returns the store of t.
func (t *Txn) Store() *Store { return t.store }

// BeforeState is the state vector at the start of t.
func (t *Txn) BeforeState() StateVector { return t.before }

// HasChanges reports whether t inserted or deleted anything.
func (t *Txn) HasChanges() bool {
	if !t.deleted.Empty() {
		return true
	}
	for c := range t.store.clients {
		if t.store.State(c) != t.before[c] {
			return true
		}
	}
	return false
}

func (t *Txn) existedBefore(it *Item) bool {
	return it.ID.Clock < t.before[it.ID.Client]
}

func (t *Txn) deletedHere(it *Item) bool {
	_, ok := t.delItems[it]
	return ok
}

func (t *Txn) markChanged(b *Branch, it *Item) {
	if b == nil {
		return
	}
	if b.Item != nil && (!t.existedBefore(b.Item) || b.Item.Deleted) {
		return
	}
	cs := t.changed[b]
	if cs == nil {
		cs = &changeSet{keys: map[string]struct{}{}}
		t.changed[b] = cs
		t.changedOrder = append(t.changedOrder, b)
	}
	if !it.Keyed {
		cs.seq = true
		return
	}
	if _, ok := cs.keys[it.Key]; !ok {
		cs.keys[it.Key] = struct{}{}
		cs.ord = append(cs.ord, it.Key)
	}
}

// Changed lists the branches changed by t in the order they were first
// touched.
func (t *Txn) Changed() []*Branch {
	return t.changedOrder
}

// deleteItem marks it deleted and deletes nested content.
func (t *Txn) deleteItem(it *Item) {
	if it.Deleted {
		return
	}
	it.Deleted = true
	t.deleted.Add(it.ID.Client, it.ID.Clock, it.Len)
	t.delItems[it] = struct{}{}
	t.markChanged(it.Parent, it)
	switch c := it.Content.(type) {
	case *TypeContent:
		for n := c.Branch.Start; n != nil; n = n.Right {
			t.deleteItem(n)
		}
		for _, n := range c.Branch.Map {
			t.deleteItem(n)
		}
	case *DocContent:
		delete(t.store.subdocs, c)
		if i := indexDoc(t.subAdded, c); i >= 0 {
			t.subAdded = append(t.subAdded[:i], t.subAdded[i+1:]...)
		} else {
			t.subRemoved = appendDoc(t.subRemoved, c)
		}
	}
}

func indexDoc(ds []*DocContent, d *DocContent) int {
	for i, x := range ds {
		if x == d {
			return i
		}
	}
	return -1
}

func appendDoc(ds []*DocContent, d *DocContent) []*DocContent {
	if indexDoc(ds, d) >= 0 {
		return ds
	}
	return append(ds, d)
}

// SubdocChanges are the subdocuments added, removed and loaded by t.
type SubdocChanges struct {
	Added, Removed, Loaded []*DocContent
}

// Subdocs returns the subdocument changes of t.
func (t *Txn) Subdocs() SubdocChanges {
	return SubdocChanges{Added: t.subAdded, Removed: t.subRemoved, Loaded: t.subLoaded}
}

// LoadSubdoc records a load request for d.
func (t *Txn) LoadSubdoc(d *DocContent) {
	t.subLoaded = appendDoc(t.subLoaded, d)
}

// ReplaceSubdoc swaps the store of d for a fresh one, as done when a
// subdocument is destroyed, and reports the swap as a removal and, if
// the holding item is live, a new addition.
func (t *Txn) ReplaceSubdoc(d *DocContent, fresh *Store, item *Item) {
	old := &DocContent{GUID: d.GUID, Opts: d.Opts, Sub: d.Sub}
	d.Sub = fresh
	fresh.ParentItem = item
	t.subRemoved = appendDoc(t.subRemoved, old)
	if item != nil && !item.Deleted {
		t.subAdded = appendDoc(t.subAdded, d)
	}
}
