package store

import "fmt"

// view selects the phase of a transaction that liveness is judged in:
// the committed state at its start, or the current state.
type view struct {
	txn    *Txn
	before bool
}

var current = view{}

func (v view) alive(it *Item) bool {
	if !v.before {
		return !it.Deleted
	}
	if !v.txn.existedBefore(it) {
		return false
	}
	return !it.Deleted || v.txn.deletedHere(it)
}

func moveBeats(a, b *Item) bool {
	pa := a.Content.(*MoveContent).Priority
	pb := b.Content.(*MoveContent).Priority
	if pa != pb {
		return pa > pb
	}
	if a.ID.Client != b.ID.Client {
		return a.ID.Client > b.ID.Client
	}
	return a.ID.Clock > b.ID.Clock
}

// mover returns the move item that currently places target, or nil.
func (s *Store) mover(v view, target *Item) *Item {
	var best *Item
	for _, m := range s.movers[target.ID] {
		if m.Parent != target.Parent || !v.alive(m) {
			continue
		}
		if best == nil || moveBeats(m, best) {
			best = m
		}
	}
	return best
}

// slot reports whether it occupies a position of its sequence in phase
// v, and with which value. A move whose target is gone occupies an
// undefined slot.
func (s *Store) slot(v view, it *Item) (Out, bool) {
	if it.Keyed || !it.countable() {
		return Out{}, false
	}
	if c, ok := it.Content.(*MoveContent); ok {
		if !v.alive(it) {
			return Out{}, false
		}
		target := s.find(c.Target)
		if target == nil || target.Parent != it.Parent || target.ID != c.Target {
			return Out{}, false
		}
		if _, ok := target.Content.(*MoveContent); ok {
			return Out{}, false
		}
		if s.mover(v, target) != it {
			return Out{}, false
		}
		if !v.alive(target) {
			return Out{Kind: OutUndefined}, true
		}
		return target.Out(), true
	}
	if !v.alive(it) {
		return Out{}, false
	}
	if len(s.movers[it.ID]) > 0 && s.mover(v, it) != nil {
		return Out{}, false
	}
	return it.Out(), true
}

// weight is the index width of a slot: UTF-16 units for text, one
// otherwise.
func weight(b *Branch, it *Item) int {
	if b.Kind() == TypeText {
		if _, ok := it.Content.(*StringContent); ok {
			return int(it.Len)
		}
	}
	return 1
}

// Slot is one visible position of a sequence.
type Slot struct {
	Item *Item
	Out  Out
}

// Slots returns the visible elements of b in order.
func (s *Store) Slots(b *Branch) []Slot {
	var res []Slot
	for it := b.Start; it != nil; it = it.Right {
		if o, ok := s.slot(current, it); ok {
			res = append(res, Slot{Item: it, Out: o})
		}
	}
	return res
}

// Len is the length of the sequence b.
func (s *Store) Len(b *Branch) int {
	n := 0
	for it := b.Start; it != nil; it = it.Right {
		if _, ok := s.slot(current, it); ok {
			n += weight(b, it)
		}
	}
	return n
}

// At returns the slot at index i of a non-text sequence.
func (s *Store) At(b *Branch, i int) (Slot, bool) {
	if i < 0 {
		return Slot{}, false
	}
	for it := b.Start; it != nil; it = it.Right {
		o, ok := s.slot(current, it)
		if !ok {
			continue
		}
		if i == 0 {
			return Slot{Item: it, Out: o}, true
		}
		i--
	}
	return Slot{}, false
}

// leftOf returns the neighbours to insert between for position i of a
// non-text sequence.
func (s *Store) leftOf(b *Branch, i int) (left, right *Item, err error) {
	if i < 0 {
		return nil, nil, fmt.Errorf("%w: %d", ErrOutOfBounds, i)
	}
	if i == 0 {
		return nil, b.Start, nil
	}
	sl, ok := s.At(b, i-1)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d > %d", ErrOutOfBounds, i, s.Len(b))
	}
	return sl.Item, sl.Item.Right, nil
}

// Insert places cs at index i of the sequence b. Each content is one
// element.
func (t *Txn) Insert(b *Branch, i int, cs ...Content) ([]*Item, error) {
	left, right, err := t.store.leftOf(b, i)
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(cs))
	for _, c := range cs {
		left = t.insert(b, left, right, c)
		items = append(items, left)
	}
	return items, nil
}

// Remove deletes n elements of b starting at index i. Removing a moved
// element deletes the move and the element it places.
func (t *Txn) Remove(b *Branch, i, n int) error {
	if n == 0 {
		return nil
	}
	if i < 0 || n < 0 || i+n > t.store.Len(b) {
		return fmt.Errorf("%w: range %d+%d of %d", ErrOutOfBounds, i, n, t.store.Len(b))
	}
	var doomed []*Item
	pos := 0
	for it := b.Start; it != nil && pos < i+n; it = it.Right {
		if _, ok := t.store.slot(current, it); !ok {
			continue
		}
		if pos >= i {
			doomed = append(doomed, it)
		}
		pos += weight(b, it)
	}
	for _, it := range doomed {
		t.deleteItem(it)
		if c, ok := it.Content.(*MoveContent); ok {
			if target := t.store.find(c.Target); target != nil {
				t.deleteItem(target)
			}
		}
	}
	return nil
}

// Move relocates the element at source so that it lands at target,
// where target is an index into the sequence before the move.
func (t *Txn) Move(b *Branch, source, target int) error {
	return t.MoveRange(b, source, source, target)
}

// MoveRange relocates the elements start through end inclusive to
// target. A target inside the range is a no-op.
func (t *Txn) MoveRange(b *Branch, start, end, target int) error {
	s := t.store
	n := s.Len(b)
	if start < 0 || end < start || end >= n || target < 0 || target > n {
		return fmt.Errorf("%w: move %d..%d to %d of %d", ErrOutOfBounds, start, end, target, n)
	}
	if target >= start && target <= end+1 {
		return nil
	}
	var moved []Slot
	for i := start; i <= end; i++ {
		sl, _ := s.At(b, i)
		moved = append(moved, sl)
	}
	left, right, err := s.leftOf(b, target)
	if err != nil {
		return err
	}
	for _, sl := range moved {
		elem := sl.Item
		var prio int32
		if m, ok := elem.Content.(*MoveContent); ok {
			elem = s.find(m.Target)
			if elem == nil || elem.Deleted {
				// an undefined slot has nothing left to move
				continue
			}
			prio = m.Priority + 1
			t.deleteItem(sl.Item)
		}
		left = t.insert(b, left, right, &MoveContent{Target: elem.ID, Priority: prio})
	}
	return nil
}
