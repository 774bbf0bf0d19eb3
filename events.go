package ydoc

import (
	"github.com/signadot/ydoc/internal/store"
	"github.com/signadot/ydoc/value"
)

// ChangeOp is the kind of a sequence change record.
type ChangeOp int

const (
	ChangeInsert ChangeOp = iota
	ChangeDelete
	ChangeRetain
)

var changeOpNames = map[ChangeOp]string{
	ChangeInsert: "insert",
	ChangeDelete: "delete",
	ChangeRetain: "retain",
}

func (o ChangeOp) String() string {
	if s, ok := changeOpNames[o]; ok {
		return s
	}
	return "unknown"
}

// ArrayChange is one step of an array change: Values inserted, or Len
// elements deleted or retained.
type ArrayChange struct {
	Op     ChangeOp
	Values []Value
	Len    int
}

// Attrs are text formatting attributes. A null value removes the
// attribute.
type Attrs map[string]value.Any

// TextDelta is one step of a text change. An insert carries a string
// scalar for text or the embedded value; retains may carry the
// attributes that changed. Len counts UTF-16 units.
type TextDelta struct {
	Op     ChangeOp
	Insert Value
	Len    int
	Attrs  Attrs
}

// MapOp is the kind of a map key change.
type MapOp int

const (
	MapInserted MapOp = iota
	MapUpdated
	MapRemoved
)

var mapOpNames = map[MapOp]string{
	MapInserted: "inserted",
	MapUpdated:  "updated",
	MapRemoved:  "removed",
}

func (o MapOp) String() string {
	if s, ok := mapOpNames[o]; ok {
		return s
	}
	return "unknown"
}

// MapChange is the change of one key. Only scalar values are reported:
// a change whose old or new value is a nested collection, document or
// undefined slot is left out.
type MapChange struct {
	Key string
	Op  MapOp
	Old value.Any
	New value.Any
}

// SubdocsEvent lists the subdocuments a transaction added, removed and
// requested to load.
type SubdocsEvent struct {
	Added, Removed, Loaded []*Doc
}

func (d *Doc) arrayChanges(ev store.Event) []ArrayChange {
	res := make([]ArrayChange, 0, len(ev.Delta))
	for _, dl := range ev.Delta {
		c := ArrayChange{Op: changeOp(dl.Op), Len: dl.Len}
		for _, o := range dl.Values {
			c.Values = append(c.Values, d.valueOf(o))
		}
		res = append(res, c)
	}
	return res
}

func (d *Doc) textDeltas(ev store.Event) []TextDelta {
	res := make([]TextDelta, 0, len(ev.Delta))
	for _, dl := range ev.Delta {
		td := TextDelta{Op: changeOp(dl.Op), Len: dl.Len, Attrs: Attrs(dl.Attrs)}
		if dl.Op == store.DeltaInsert {
			if len(dl.Values) > 0 {
				td.Insert = d.valueOf(dl.Values[0])
			} else {
				td.Insert = Value{Kind: KindScalar, Scalar: value.String(dl.Text)}
			}
		}
		res = append(res, td)
	}
	return res
}

func changeOp(op store.DeltaOp) ChangeOp {
	switch op {
	case store.DeltaDelete:
		return ChangeDelete
	case store.DeltaRetain:
		return ChangeRetain
	}
	return ChangeInsert
}

func mapChanges(ev store.Event) []MapChange {
	var res []MapChange
	for _, kc := range ev.Keys {
		switch kc.Op {
		case store.KeyInserted:
			if kc.New.IsScalar() {
				res = append(res, MapChange{Key: kc.Key, Op: MapInserted, New: kc.New.Any})
			}
		case store.KeyUpdated:
			if kc.Old.IsScalar() && kc.New.IsScalar() {
				res = append(res, MapChange{Key: kc.Key, Op: MapUpdated, Old: kc.Old.Any, New: kc.New.Any})
			}
		case store.KeyRemoved:
			if kc.Old.IsScalar() {
				res = append(res, MapChange{Key: kc.Key, Op: MapRemoved, Old: kc.Old.Any})
			}
		}
	}
	return res
}
