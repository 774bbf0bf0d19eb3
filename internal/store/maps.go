package store

// Get returns the current value of key in the map b.
func (s *Store) Get(b *Branch, key string) (Out, bool) {
	it := b.Map[key]
	if it == nil || it.Deleted {
		return Out{}, false
	}
	return it.Out(), true
}

// MapLen counts the live keys of b.
func (s *Store) MapLen(b *Branch) int {
	n := 0
	for _, it := range b.Map {
		if !it.Deleted {
			n++
		}
	}
	return n
}

// Set stores c under key in the map b, replacing any current value.
func (t *Txn) Set(b *Branch, key string, c Content) *Item {
	return t.setKey(b, key, c)
}

// Delete removes key from the map b. It reports whether a live value
// was removed.
func (t *Txn) Delete(b *Branch, key string) bool {
	it := b.Map[key]
	if it == nil || it.Deleted {
		return false
	}
	t.deleteItem(it)
	return true
}

// Clear removes every key of the map b.
func (t *Txn) Clear(b *Branch) {
	for _, k := range b.Keys() {
		t.Delete(b, k)
	}
}
