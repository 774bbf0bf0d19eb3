// Package store is the document engine: it keeps the integrated structs
// of every client, resolves concurrent insertions with the YATA rules,
// encodes and applies lib0 v1 updates, and computes the changes made by
// a transaction.
//
// A Store is not safe for concurrent use, with the exception of the root
// registry (Root, LookupRoot, RootNames) which has its own lock.
package store

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	ErrMalformedUpdate = errors.New("malformed update")
	ErrOutOfBounds     = errors.New("index out of bounds")
	ErrKindMismatch    = errors.New("branch kind mismatch")
)

// Store holds the state of one document.
type Store struct {
	ClientID uint64
	GUID     string
	// ParentItem is the item holding this store when it is a
	// subdocument.
	ParentItem *Item

	clients map[uint64][]*Item

	rootsMu sync.Mutex
	roots   map[string]*Branch

	movers  map[ID][]*Item
	subdocs map[*DocContent]struct{}

	pending   map[uint64][]*pendingStruct
	pendingDS DeleteSet
}

// New returns an empty store.
func New(clientID uint64, guid string) *Store {
	return &Store{
		ClientID:  clientID,
		GUID:      guid,
		clients:   map[uint64][]*Item{},
		roots:     map[string]*Branch{},
		movers:    map[ID][]*Item{},
		subdocs:   map[*DocContent]struct{}{},
		pending:   map[uint64][]*pendingStruct{},
		pendingDS: DeleteSet{},
	}
}

// Root returns the root named name, creating it if needed. A root that
// has only been seen in updates takes kind k; ErrKindMismatch is
// returned when the root already has another kind.
func (s *Store) Root(name string, k TypeRef) (*Branch, error) {
	s.rootsMu.Lock()
	defer s.rootsMu.Unlock()
	b := s.roots[name]
	if b == nil {
		b = &Branch{Name: name, Map: map[string]*Item{}, store: s}
		b.kind.Store(uint32(k))
		s.roots[name] = b
		return b, nil
	}
	if k == TypeUndefined || b.kind.CompareAndSwap(uint32(TypeUndefined), uint32(k)) {
		return b, nil
	}
	if cur := b.Kind(); cur != k {
		return nil, fmt.Errorf("%w: root %q is %s, not %s", ErrKindMismatch, name, cur, k)
	}
	return b, nil
}

// LookupRoot returns the root named name if it exists.
func (s *Store) LookupRoot(name string) *Branch {
	s.rootsMu.Lock()
	defer s.rootsMu.Unlock()
	return s.roots[name]
}

// RootNames lists the roots in sorted order.
func (s *Store) RootNames() []string {
	s.rootsMu.Lock()
	defer s.rootsMu.Unlock()
	names := make([]string, 0, len(s.roots))
	for n := range s.roots {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// State returns the next clock of client.
func (s *Store) State(client uint64) uint32 {
	items := s.clients[client]
	if len(items) == 0 {
		return 0
	}
	last := items[len(items)-1]
	return last.ID.Clock + last.Len
}

// StateVector returns the state of every known client.
func (s *Store) StateVector() StateVector {
	sv := make(StateVector, len(s.clients))
	for c := range s.clients {
		sv[c] = s.State(c)
	}
	return sv
}

// find returns the item covering id, or nil.
func (s *Store) find(id ID) *Item {
	items := s.clients[id.Client]
	i := findIndex(items, id.Clock)
	if i < 0 {
		return nil
	}
	return items[i]
}

func findIndex(items []*Item, clock uint32) int {
	i := sort.Search(len(items), func(i int) bool {
		return items[i].ID.Clock+items[i].Len > clock
	})
	if i == len(items) || items[i].ID.Clock > clock {
		return -1
	}
	return i
}

func (s *Store) addItem(it *Item) {
	s.clients[it.ID.Client] = append(s.clients[it.ID.Client], it)
}

// split divides it so that the returned right part starts diff ticks
// into it. Only splittable items may be split.
func (s *Store) split(it *Item, diff uint32) *Item {
	c := ID{Client: it.ID.Client, Clock: it.ID.Clock + diff - 1}
	right := &Item{
		ID:          ID{Client: it.ID.Client, Clock: it.ID.Clock + diff},
		Len:         it.Len - diff,
		Origin:      &c,
		RightOrigin: it.RightOrigin,
		Left:        it,
		Right:       it.Right,
		Parent:      it.Parent,
		Key:         it.Key,
		Keyed:       it.Keyed,
		Deleted:     it.Deleted,
	}
	switch x := it.Content.(type) {
	case *DeletedContent:
		right.Content = &DeletedContent{N: x.N - diff}
		x.N = diff
	case *GCContent:
		right.Content = &GCContent{N: x.N - diff}
		x.N = diff
	}
	it.Len = diff
	if it.Parent != nil {
		if right.Right != nil {
			right.Right.Left = right
		} else if right.Keyed {
			it.Parent.Map[right.Key] = right
		}
		it.Right = right
	}
	items := s.clients[it.ID.Client]
	i := findIndex(items, it.ID.Clock)
	s.clients[it.ID.Client] = slices.Insert(items, i+1, right)
	return right
}

// itemCleanStart returns the item starting exactly at id, splitting
// when possible.
func (s *Store) itemCleanStart(id ID) *Item {
	it := s.find(id)
	if it == nil {
		return nil
	}
	if it.ID.Clock < id.Clock && it.splittable() {
		return s.split(it, id.Clock-it.ID.Clock)
	}
	return it
}

// itemCleanEnd returns the item ending exactly at id, splitting when
// possible.
func (s *Store) itemCleanEnd(id ID) *Item {
	it := s.find(id)
	if it == nil {
		return nil
	}
	if id.Clock != it.LastID().Clock && it.splittable() {
		s.split(it, id.Clock-it.ID.Clock+1)
	}
	return it
}

// DeleteSet returns every deleted range of the store.
func (s *Store) DeleteSet() DeleteSet {
	ds := DeleteSet{}
	for c, items := range s.clients {
		for _, it := range items {
			if it.Deleted {
				ds.Add(c, it.ID.Clock, it.Len)
			}
		}
	}
	ds.Normalize()
	return ds
}

// Subdocs returns the live subdocuments held in the store.
func (s *Store) Subdocs() []*DocContent {
	res := make([]*DocContent, 0, len(s.subdocs))
	for d := range s.subdocs {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].GUID < res[j].GUID })
	return res
}

// HasPending reports whether structs or deletions are waiting for
// missing dependencies.
func (s *Store) HasPending() bool {
	for _, ps := range s.pending {
		if len(ps) > 0 {
			return true
		}
	}
	return !s.pendingDS.Empty()
}

func (s *Store) adoptBranch(b *Branch) {
	b.store = s
	if b.Map == nil {
		b.Map = map[string]*Item{}
	}
}
