package store

import (
	"bytes"
	"sort"
)

// Scope is a set of branches whose content, nested content included,
// is tracked for undo.
type Scope map[*Branch]struct{}

// Covers reports whether it lives in a branch of sc or below one.
func (sc Scope) Covers(it *Item) bool {
	for b := it.Parent; b != nil; b = b.Item.Parent {
		if _, ok := sc[b]; ok {
			return true
		}
		if b.Item == nil {
			return false
		}
	}
	return false
}

// Capture returns the items t inserted and the items it deleted within
// sc. Items t both inserted and deleted appear in neither.
func (t *Txn) Capture(sc Scope) (ins, del DeleteSet) {
	s := t.store
	ins, del = DeleteSet{}, DeleteSet{}
	for c, items := range s.clients {
		from := t.before[c]
		if s.State(c) <= from {
			continue
		}
		for i := findIndex(items, from); i >= 0 && i < len(items); i++ {
			it := items[i]
			if it.Parent == nil || it.Deleted || !sc.Covers(it) {
				continue
			}
			ins.Add(c, it.ID.Clock, it.Len)
		}
	}
	for it := range t.delItems {
		if it.Parent != nil && t.existedBefore(it) && sc.Covers(it) {
			del.Add(it.ID.Client, it.ID.Clock, it.Len)
		}
	}
	ins.Normalize()
	del.Normalize()
	return ins, del
}

// eachItem calls fn for the items covering ds, by client then clock.
func (s *Store) eachItem(ds DeleteSet, fn func(*Item)) {
	clients := make([]uint64, 0, len(ds))
	for c := range ds {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	for _, c := range clients {
		items := s.clients[c]
		for _, r := range ds[c] {
			for i := findIndex(items, r.Clock); i >= 0 && i < len(items) && items[i].ID.Clock < r.End(); i++ {
				fn(items[i])
			}
		}
	}
}

// latest follows the chain of items that re-created it.
func (s *Store) latest(it *Item) *Item {
	for it.Redone != nil {
		next := s.find(*it.Redone)
		if next == nil {
			break
		}
		it = next
	}
	return it
}

// Revert reverses a capture within sc: what was inserted is deleted and
// what was deleted is created again as new items. It reports whether
// the document changed.
func (t *Txn) Revert(sc Scope, ins, del DeleteSet) bool {
	s := t.store
	var redo []*Item
	redoSet := map[*Item]struct{}{}
	s.eachItem(del, func(it *Item) {
		if it.Parent != nil && it.Deleted && sc.Covers(it) && !ins.Contains(it.ID) {
			redo = append(redo, it)
			redoSet[it] = struct{}{}
		}
	})
	var doomed []*Item
	s.eachItem(ins, func(it *Item) {
		if it.Parent == nil {
			return
		}
		it = s.latest(it)
		if !it.Deleted && sc.Covers(it) {
			doomed = append(doomed, it)
		}
	})
	changed := false
	for _, it := range redo {
		if t.redoItem(it, redoSet, ins) != nil {
			changed = true
		}
	}
	// children before the branches holding them
	for i := len(doomed) - 1; i >= 0; i-- {
		if !doomed[i].Deleted {
			t.deleteItem(doomed[i])
			changed = true
		}
	}
	return changed
}

// redoItem creates a copy of the deleted item it where it used to be.
// It returns nil when it cannot be restored: its parent is gone for
// good, or for a map entry, a later value was written by someone else.
func (t *Txn) redoItem(it *Item, redoSet map[*Item]struct{}, ins DeleteSet) *Item {
	s := t.store
	if it.Redone != nil {
		return s.find(*it.Redone)
	}
	parentItem := it.Parent.Item
	if parentItem != nil && parentItem.Deleted {
		if parentItem.Redone == nil {
			if _, ok := redoSet[parentItem]; !ok || t.redoItem(parentItem, redoSet, ins) == nil {
				return nil
			}
		}
		parentItem = s.latest(parentItem)
	}
	pb := it.Parent
	if parentItem != nil {
		tc, ok := parentItem.Content.(*TypeContent)
		if !ok {
			return nil
		}
		pb = tc.Branch
	}
	c := copyContent(it.Content)
	if c == nil {
		return nil
	}
	var redone *Item
	if it.Keyed {
		l := it
		for l.Right != nil && (l.Right.Redone != nil || ins.Contains(l.Right.ID)) {
			l = l.Right
		}
		if l.Right != nil {
			return nil
		}
		redone = t.setKey(pb, it.Key, c)
	} else {
		// nearest neighbours that live in pb, following re-created items
		trace := func(x *Item) *Item {
			for x != nil && x.Parent != pb {
				if x.Redone == nil {
					return nil
				}
				x = s.find(*x.Redone)
			}
			return x
		}
		var left, right *Item
		for l := it.Left; l != nil; l = l.Left {
			if x := trace(l); x != nil {
				left = x
				break
			}
		}
		for r := it; r != nil; r = r.Right {
			if x := trace(r); x != nil {
				right = x
				break
			}
		}
		redone = t.insert(pb, left, right, c)
	}
	id := redone.ID
	it.Redone = &id
	return redone
}

// copyContent returns fresh content equal to c. A nested branch is
// copied empty; its elements are restored on their own. Deleted and
// collected content cannot be copied.
func copyContent(c Content) Content {
	switch x := c.(type) {
	case *AnyContent:
		return &AnyContent{Value: x.Value}
	case *JSONContent:
		return &JSONContent{Value: x.Value}
	case *BinaryContent:
		return &BinaryContent{Data: bytes.Clone(x.Data)}
	case *StringContent:
		return &StringContent{Rune: x.Rune}
	case *EmbedContent:
		return &EmbedContent{Value: x.Value}
	case *FormatContent:
		return &FormatContent{Key: x.Key, Value: x.Value}
	case *TypeContent:
		b := NewBranch(x.Branch.Kind())
		b.NodeName = x.Branch.NodeName
		return &TypeContent{Branch: b}
	case *DocContent:
		return &DocContent{GUID: x.GUID, Opts: x.Opts}
	case *MoveContent:
		return &MoveContent{Target: x.Target, Priority: x.Priority}
	}
	return nil
}
