package store

// Item is one integrated struct. List items are linked through Left and
// Right in document order; map items form one chain per key whose
// rightmost member is the current value.
type Item struct {
	ID  ID
	Len uint32

	Origin      *ID
	RightOrigin *ID

	Left, Right *Item
	// Parent is nil for garbage collected structs.
	Parent *Branch
	Key    string
	Keyed  bool

	Content Content
	Deleted bool
	// Redone is the item that re-created this one after an undo.
	Redone *ID
}

// LastID is the ID of the last clock tick covered by it.
func (it *Item) LastID() ID {
	return ID{Client: it.ID.Client, Clock: it.ID.Clock + it.Len - 1}
}

func (it *Item) countable() bool {
	return it.Content.countable()
}

func (it *Item) isGC() bool {
	_, ok := it.Content.(*GCContent)
	return ok
}

// splittable reports whether it may be divided at a clock boundary.
// Live elements are never split: each holds exactly one element.
func (it *Item) splittable() bool {
	switch it.Content.(type) {
	case *DeletedContent, *GCContent:
		return true
	}
	return false
}

// Out returns the element value of it.
func (it *Item) Out() Out {
	return contentOut(it.Content)
}
