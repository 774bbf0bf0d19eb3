package store

import "github.com/signadot/ydoc/value"

// DeltaOp is the kind of a sequence change.
type DeltaOp int

const (
	DeltaInsert DeltaOp = iota
	DeltaDelete
	DeltaRetain
)

// Delta is one step of a sequence change. Inserts into arrays carry
// Values; inserts into text carry Text, or one embedded value in Values.
// Len counts elements for arrays and UTF-16 units for text.
type Delta struct {
	Op     DeltaOp
	Values []Out
	Text   string
	Len    int
	Attrs  Attrs
}

// KeyOp is the kind of a map key change.
type KeyOp int

const (
	KeyInserted KeyOp = iota
	KeyUpdated
	KeyRemoved
)

// KeyChange is one changed key of a map.
type KeyChange struct {
	Key string
	Op  KeyOp
	Old Out
	New Out
}

// Event is the change of one branch during a transaction.
type Event struct {
	Branch *Branch
	Delta  []Delta
	Keys   []KeyChange
}

// Events computes the change of every branch changed by t for which
// want returns true. A nil want selects every branch.
func (t *Txn) Events(want func(*Branch) bool) []Event {
	var res []Event
	for _, b := range t.changedOrder {
		if want != nil && !want(b) {
			continue
		}
		cs := t.changed[b]
		ev := Event{Branch: b}
		if cs.seq {
			ev.Delta = t.seqDelta(b)
		}
		for _, k := range cs.ord {
			if kc, ok := t.keyChange(b, k); ok {
				ev.Keys = append(ev.Keys, kc)
			}
		}
		if len(ev.Delta) == 0 && len(ev.Keys) == 0 {
			continue
		}
		res = append(res, ev)
	}
	return res
}

type deltaBuilder struct {
	text bool
	ops  []Delta
	// pending retain not yet known to be followed by a change
	retain int
}

func (d *deltaBuilder) flushRetain() {
	if d.retain > 0 {
		d.ops = append(d.ops, Delta{Op: DeltaRetain, Len: d.retain})
		d.retain = 0
	}
}

func (d *deltaBuilder) last() *Delta {
	if len(d.ops) == 0 {
		return nil
	}
	return &d.ops[len(d.ops)-1]
}

func (d *deltaBuilder) insert(o Out, str string, w int, attrs Attrs) {
	d.flushRetain()
	l := d.last()
	if d.text && str != "" {
		if l != nil && l.Op == DeltaInsert && len(l.Values) == 0 && l.Attrs.Equal(attrs) {
			l.Text += str
			l.Len += w
			return
		}
		d.ops = append(d.ops, Delta{Op: DeltaInsert, Text: str, Len: w, Attrs: attrs.clone()})
		return
	}
	if !d.text && l != nil && l.Op == DeltaInsert {
		l.Values = append(l.Values, o)
		l.Len += w
		return
	}
	d.ops = append(d.ops, Delta{Op: DeltaInsert, Values: []Out{o}, Len: w, Attrs: attrs.clone()})
}

func (d *deltaBuilder) delete(w int) {
	d.flushRetain()
	if l := d.last(); l != nil && l.Op == DeltaDelete {
		l.Len += w
		return
	}
	d.ops = append(d.ops, Delta{Op: DeltaDelete, Len: w})
}

func (d *deltaBuilder) retainAttrs(w int, attrs Attrs) {
	if len(attrs) == 0 {
		d.retain += w
		return
	}
	d.flushRetain()
	if l := d.last(); l != nil && l.Op == DeltaRetain && l.Attrs.Equal(attrs) {
		l.Len += w
		return
	}
	d.ops = append(d.ops, Delta{Op: DeltaRetain, Len: w, Attrs: attrs})
}

// attrChange lists the attributes that differ between before and after,
// with removed ones set to Null.
func attrChange(before, after Attrs) Attrs {
	var res Attrs
	for k, v := range after {
		if w, ok := before[k]; !ok || !w.Equal(v) {
			if res == nil {
				res = Attrs{}
			}
			res[k] = v
		}
	}
	for k := range before {
		if _, ok := after[k]; !ok {
			if res == nil {
				res = Attrs{}
			}
			res[k] = value.Null()
		}
	}
	return res
}

func (t *Txn) seqDelta(b *Branch) []Delta {
	s := t.store
	d := &deltaBuilder{text: b.Kind() == TypeText}
	was := view{txn: t, before: true}
	now := current
	attrsBefore, attrsAfter := Attrs{}, Attrs{}
	for it := b.Start; it != nil; it = it.Right {
		if f, ok := it.Content.(*FormatContent); ok {
			if was.alive(it) {
				attrsBefore.apply(f)
			}
			if now.alive(it) {
				attrsAfter.apply(f)
			}
			continue
		}
		_, inBefore := s.slot(was, it)
		oa, inAfter := s.slot(now, it)
		w := weight(b, it)
		switch {
		case inAfter && !inBefore:
			str := ""
			if c, ok := it.Content.(*StringContent); ok && d.text {
				str = string(c.Rune)
			}
			var attrs Attrs
			if d.text {
				attrs = attrsAfter
			}
			d.insert(oa, str, w, attrs)
		case inBefore && !inAfter:
			d.delete(w)
		case inBefore && inAfter:
			if d.text {
				d.retainAttrs(w, attrChange(attrsBefore, attrsAfter))
			} else {
				d.retain += w
			}
		}
	}
	return d.ops
}

// keyChange compares the value key held when t began with its current
// value.
func (t *Txn) keyChange(b *Branch, key string) (KeyChange, bool) {
	was := view{txn: t, before: true}
	var old *Item
	for it := b.Map[key]; it != nil; it = it.Left {
		if was.alive(it) {
			old = it
			break
		}
	}
	var cur *Item
	if it := b.Map[key]; it != nil && !it.Deleted {
		cur = it
	}
	switch {
	case old == nil && cur != nil:
		return KeyChange{Key: key, Op: KeyInserted, New: cur.Out()}, true
	case old != nil && cur == nil:
		return KeyChange{Key: key, Op: KeyRemoved, Old: old.Out()}, true
	case old != nil && cur != nil && old != cur:
		return KeyChange{Key: key, Op: KeyUpdated, Old: old.Out(), New: cur.Out()}, true
	}
	return KeyChange{}, false
}
