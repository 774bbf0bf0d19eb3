package ydoc

import (
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
	"github.com/signadot/ydoc/value"
)

// Map is a facade over a string-keyed collection.
type Map struct {
	doc *Doc
	id  handle.ID
}

// RawHandle identifies the underlying node.
func (m *Map) RawHandle() handle.ID { return m.id }

// Doc returns the document holding m.
func (m *Map) Doc() *Doc { return m.doc }

// Len returns the number of keys.
func (m *Map) Len(tx *Transaction) (int, error) {
	s, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.MapLen(b), nil
}

func (m *Map) lookup(tx *Transaction, key string) (store.Out, bool, error) {
	s, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return store.Out{}, false, err
	}
	defer release()
	o, ok := s.Get(b, key)
	return o, ok, nil
}

// Get returns the JSON text of the scalar under key. A missing key
// fails with ErrNotFound, a nested value with ErrEncoding.
func (m *Map) Get(tx *Transaction, key string) (string, error) {
	o, ok, err := m.lookup(tx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return scalarJSON(o)
}

// Value returns the value under key; ok is false when key is absent.
func (m *Map) Value(tx *Transaction, key string) (v Value, ok bool, err error) {
	s, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return Value{}, false, err
	}
	defer release()
	o, ok := s.Get(b, key)
	if !ok {
		return Value{}, false, nil
	}
	return m.doc.valueOf(o), true, nil
}

// ContainsKey reports whether key holds a value.
func (m *Map) ContainsKey(tx *Transaction, key string) (bool, error) {
	_, ok, err := m.lookup(tx, key)
	return ok, err
}

// IsUndefined reports whether key holds an undefined value. A missing
// key fails with ErrNotFound.
func (m *Map) IsUndefined(tx *Transaction, key string) (bool, error) {
	o, ok, err := m.lookup(tx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return o.Kind == store.OutUndefined, nil
}

func (m *Map) set(tx *Transaction, key string, c store.Content) error {
	_, b, release, err := tx.open(m.doc, m.id, true)
	if err != nil {
		return err
	}
	defer release()
	tx.txn.Set(b, key, c)
	return nil
}

// Set stores the JSON value js under key.
func (m *Map) Set(tx *Transaction, key, js string) error {
	_, b, release, err := tx.open(m.doc, m.id, true)
	if err != nil {
		return err
	}
	defer release()
	v, err := decodeJSON(js)
	if err != nil {
		return err
	}
	tx.txn.Set(b, key, &store.AnyContent{Value: v})
	return nil
}

// Remove deletes key and reports whether it held a value.
func (m *Map) Remove(tx *Transaction, key string) (bool, error) {
	_, b, release, err := tx.open(m.doc, m.id, true)
	if err != nil {
		return false, err
	}
	defer release()
	return tx.txn.Delete(b, key), nil
}

// Clear removes every key.
func (m *Map) Clear(tx *Transaction) error {
	_, b, release, err := tx.open(m.doc, m.id, true)
	if err != nil {
		return err
	}
	defer release()
	tx.txn.Clear(b)
	return nil
}

// Keys returns the keys holding a value, sorted.
func (m *Map) Keys(tx *Transaction) ([]string, error) {
	_, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return b.Keys(), nil
}

// ToMap returns the JSON text of every scalar value by key. Keys holding
// nested values are skipped.
func (m *Map) ToMap(tx *Transaction) (map[string]string, error) {
	s, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	res := map[string]string{}
	for _, k := range b.Keys() {
		o, _ := s.Get(b, k)
		if !o.IsScalar() {
			continue
		}
		js, err := encodeJSON(o.Any)
		if err != nil {
			return nil, err
		}
		res[k] = js
	}
	return res, nil
}

// Each calls fn for every key holding a scalar, in key order.
func (m *Map) Each(tx *Transaction, fn func(key, js string)) error {
	kv, err := m.ToMap(tx)
	if err != nil {
		return err
	}
	keys, err := m.Keys(tx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if js, ok := kv[k]; ok {
			fn(k, js)
		}
	}
	return nil
}

// ToJSON renders m with its nested collections.
func (m *Map) ToJSON(tx *Transaction) (string, error) {
	s, b, release, err := tx.open(m.doc, m.id, false)
	if err != nil {
		return "", err
	}
	defer release()
	return encodeJSON(deepJSON(s, store.Out{Kind: store.OutBranch, Branch: b}))
}

// ApplyMergePatch applies an RFC 7386 merge patch to m. Only top-level
// keys named in the patch are written; a key whose merged value differs
// from its current one is replaced by a plain value.
func (m *Map) ApplyMergePatch(tx *Transaction, patch []byte) error {
	s, b, release, err := tx.open(m.doc, m.id, true)
	if err != nil {
		return err
	}
	defer release()
	p, err := value.FromJSON(patch)
	if err != nil {
		return fmt.Errorf("%w: merge patch: %w", ErrEncoding, err)
	}
	if p.Type != value.MapType {
		return fmt.Errorf("%w: merge patch must be an object, not %s", ErrEncoding, p.Type)
	}
	cur := deepJSON(s, store.Out{Kind: store.OutBranch, Branch: b})
	doc, err := value.ToJSON(cur)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	merged, err := jsonpatch.MergePatch(doc, patch)
	if err != nil {
		return fmt.Errorf("%w: merge patch: %w", ErrEncoding, err)
	}
	next, err := value.FromJSON(merged)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	for _, k := range p.Keys() {
		nv, ok := next.Fields[k]
		if !ok {
			tx.txn.Delete(b, k)
			continue
		}
		if old, had := cur.Fields[k]; had && old.Equal(nv) {
			continue
		}
		tx.txn.Set(b, k, &store.AnyContent{Value: nv})
	}
	return nil
}

func (m *Map) nested(tx *Transaction, key string) (Value, error) {
	v, ok, err := m.Value(tx, key)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return v, nil
}

// GetArray returns the array under key.
func (m *Map) GetArray(tx *Transaction, key string) (*Array, error) {
	v, err := m.nested(tx, key)
	if err != nil {
		return nil, err
	}
	return v.AsArray()
}

// GetMap returns the map under key.
func (m *Map) GetMap(tx *Transaction, key string) (*Map, error) {
	v, err := m.nested(tx, key)
	if err != nil {
		return nil, err
	}
	return v.AsMap()
}

// GetText returns the text under key.
func (m *Map) GetText(tx *Transaction, key string) (*Text, error) {
	v, err := m.nested(tx, key)
	if err != nil {
		return nil, err
	}
	return v.AsText()
}

// GetDoc returns the subdocument under key.
func (m *Map) GetDoc(tx *Transaction, key string) (*Doc, error) {
	v, err := m.nested(tx, key)
	if err != nil {
		return nil, err
	}
	return v.AsDoc()
}

func (m *Map) insertBranch(tx *Transaction, key string, k store.TypeRef) (Value, error) {
	br := store.NewBranch(k)
	if err := m.set(tx, key, &store.TypeContent{Branch: br}); err != nil {
		return Value{}, err
	}
	return m.doc.branchValue(br), nil
}

// InsertArray stores an empty array under key and returns it.
func (m *Map) InsertArray(tx *Transaction, key string) (*Array, error) {
	v, err := m.insertBranch(tx, key, store.TypeArray)
	return v.Array, err
}

// InsertMap stores an empty map under key and returns it.
func (m *Map) InsertMap(tx *Transaction, key string) (*Map, error) {
	v, err := m.insertBranch(tx, key, store.TypeMap)
	return v.Map, err
}

// InsertText stores an empty text under key and returns it.
func (m *Map) InsertText(tx *Transaction, key string) (*Text, error) {
	v, err := m.insertBranch(tx, key, store.TypeText)
	return v.Text, err
}

// InsertDoc stores a new subdocument configured by opts under key.
func (m *Map) InsertDoc(tx *Transaction, key string, opts Options) (*Doc, error) {
	c := newDocContent(opts)
	if err := m.set(tx, key, c); err != nil {
		return nil, err
	}
	return m.doc.subdoc(c), nil
}

// Observe registers fn for the key changes of m. Only changes between
// scalar values are reported.
func (m *Map) Observe(fn func(tx *Transaction, changes []MapChange)) *Subscription {
	return m.doc.obs.addBranch(m.id, fn)
}
