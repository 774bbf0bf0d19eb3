package store

func sameID(a, b *ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// integrate links it into its parent following the YATA rules and
// registers it with the store. it.Left and it.Right must hold the
// neighbours resolved from its origins.
func (t *Txn) integrate(it *Item) {
	s := t.store
	parent := it.Parent
	if parent == nil {
		t.integrateGC(it)
		return
	}
	if (it.Left == nil && (it.Right == nil || it.Right.Left != nil)) || (it.Left != nil && it.Left.Right != it.Right) {
		left := it.Left
		var o *Item
		switch {
		case left != nil:
			o = left.Right
		case it.Keyed:
			o = parent.Map[it.Key]
			for o != nil && o.Left != nil {
				o = o.Left
			}
		default:
			o = parent.Start
		}
		conflicting := map[*Item]struct{}{}
		seen := map[*Item]struct{}{}
		for o != nil && o != it.Right {
			seen[o] = struct{}{}
			conflicting[o] = struct{}{}
			if sameID(it.Origin, o.Origin) {
				// case 1: same left origin, order by client
				if o.ID.Client < it.ID.Client {
					left = o
					clear(conflicting)
				} else if sameID(it.RightOrigin, o.RightOrigin) {
					break
				}
			} else if o.Origin != nil {
				oo := s.find(*o.Origin)
				if _, ok := seen[oo]; !ok || oo == nil {
					break
				}
				// case 2: o's origin lies between our origin and o
				if _, ok := conflicting[oo]; !ok {
					left = o
					clear(conflicting)
				}
			} else {
				break
			}
			o = o.Right
		}
		it.Left = left
	}
	if it.Left != nil {
		it.Right = it.Left.Right
		it.Left.Right = it
	} else {
		var r *Item
		if it.Keyed {
			r = parent.Map[it.Key]
			for r != nil && r.Left != nil {
				r = r.Left
			}
		} else {
			r = parent.Start
			parent.Start = it
		}
		it.Right = r
	}
	if it.Right != nil {
		it.Right.Left = it
	} else if it.Keyed {
		parent.Map[it.Key] = it
		if it.Left != nil {
			t.deleteItem(it.Left)
		}
	}
	s.addItem(it)
	t.integrateContent(it)
	t.markChanged(parent, it)
	if parent.Deleted() || (it.Keyed && it.Right != nil) {
		t.deleteItem(it)
	}
}

func (t *Txn) integrateGC(it *Item) {
	it.Content = &GCContent{N: it.Len}
	it.Deleted = true
	it.Left, it.Right = nil, nil
	it.Origin, it.RightOrigin = nil, nil
	it.Parent = nil
	t.store.addItem(it)
}

func (t *Txn) integrateContent(it *Item) {
	s := t.store
	switch c := it.Content.(type) {
	case *TypeContent:
		c.Branch.Item = it
		s.adoptBranch(c.Branch)
	case *DocContent:
		if c.Sub == nil {
			c.Sub = New(0, c.GUID)
		}
		c.Sub.ParentItem = it
		s.subdocs[c] = struct{}{}
		t.subAdded = appendDoc(t.subAdded, c)
		if c.ShouldLoad() {
			t.subLoaded = appendDoc(t.subLoaded, c)
		}
	case *MoveContent:
		s.movers[c.Target] = append(s.movers[c.Target], it)
	case *DeletedContent:
		it.Deleted = true
		t.deleted.Add(it.ID.Client, it.ID.Clock, it.Len)
	}
}

// insert creates a local item between left and right and integrates
// it.
func (t *Txn) insert(parent *Branch, left, right *Item, c Content) *Item {
	s := t.store
	it := &Item{
		ID:      ID{Client: s.ClientID, Clock: s.State(s.ClientID)},
		Len:     contentLen(c),
		Left:    left,
		Right:   right,
		Parent:  parent,
		Content: c,
	}
	if left != nil {
		lid := left.LastID()
		it.Origin = &lid
	}
	if right != nil {
		rid := right.ID
		it.RightOrigin = &rid
	}
	t.integrate(it)
	return it
}

// setKey creates a local item holding the new value of key.
func (t *Txn) setKey(parent *Branch, key string, c Content) *Item {
	s := t.store
	left := parent.Map[key]
	it := &Item{
		ID:      ID{Client: s.ClientID, Clock: s.State(s.ClientID)},
		Len:     contentLen(c),
		Left:    left,
		Parent:  parent,
		Key:     key,
		Keyed:   true,
		Content: c,
	}
	if left != nil {
		lid := left.LastID()
		it.Origin = &lid
	}
	t.integrate(it)
	return it
}
