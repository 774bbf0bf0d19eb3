package ydoc

import (
	"errors"
	"fmt"

	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
)

// Array is a facade over a sequence of values.
type Array struct {
	doc *Doc
	id  handle.ID
}

// RawHandle identifies the underlying node. Facades over the same node
// report equal handles.
func (a *Array) RawHandle() handle.ID { return a.id }

// Doc returns the document holding a.
func (a *Array) Doc() *Doc { return a.doc }

func rangeErr(err error) error {
	if errors.Is(err, store.ErrOutOfBounds) {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return err
}

// Len returns the number of elements, undefined slots included.
func (a *Array) Len(tx *Transaction) (int, error) {
	s, b, release, err := tx.open(a.doc, a.id, false)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.Len(b), nil
}

func (a *Array) at(tx *Transaction, i int) (store.Out, error) {
	s, b, release, err := tx.open(a.doc, a.id, false)
	if err != nil {
		return store.Out{}, err
	}
	defer release()
	sl, ok := s.At(b, i)
	if !ok {
		return store.Out{}, fmt.Errorf("%w: %d of %d", ErrOutOfRange, i, s.Len(b))
	}
	return sl.Out, nil
}

// Get returns the JSON text of the scalar at index i. Nested values and
// undefined slots fail with ErrEncoding, a missing index with
// ErrOutOfRange.
func (a *Array) Get(tx *Transaction, i int) (string, error) {
	o, err := a.at(tx, i)
	if err != nil {
		return "", err
	}
	return scalarJSON(o)
}

// Value returns the element at index i. ok is false when i is out of
// range.
func (a *Array) Value(tx *Transaction, i int) (v Value, ok bool, err error) {
	s, b, release, err := tx.open(a.doc, a.id, false)
	if err != nil {
		return Value{}, false, err
	}
	defer release()
	sl, ok := s.At(b, i)
	if !ok {
		return Value{}, false, nil
	}
	return a.doc.valueOf(sl.Out), true, nil
}

// IsUndefined reports whether index i holds an undefined slot. A missing
// index fails with ErrOutOfRange.
func (a *Array) IsUndefined(tx *Transaction, i int) (bool, error) {
	o, err := a.at(tx, i)
	if err != nil {
		return false, err
	}
	return o.Kind == store.OutUndefined, nil
}

func (a *Array) insert(tx *Transaction, i int, cs ...store.Content) error {
	_, b, release, err := tx.open(a.doc, a.id, true)
	if err != nil {
		return err
	}
	defer release()
	if _, err := tx.txn.Insert(b, i, cs...); err != nil {
		return rangeErr(err)
	}
	return nil
}

// Insert inserts the JSON value js at index i.
func (a *Array) Insert(tx *Transaction, i int, js string) error {
	return a.InsertRange(tx, i, []string{js})
}

// InsertRange inserts the JSON values jss at index i, in order. Nothing
// is inserted when one of them does not parse.
func (a *Array) InsertRange(tx *Transaction, i int, jss []string) error {
	_, b, release, err := tx.open(a.doc, a.id, true)
	if err != nil {
		return err
	}
	defer release()
	cs := make([]store.Content, len(jss))
	for k, js := range jss {
		v, err := decodeJSON(js)
		if err != nil {
			return err
		}
		cs[k] = &store.AnyContent{Value: v}
	}
	if _, err := tx.txn.Insert(b, i, cs...); err != nil {
		return rangeErr(err)
	}
	return nil
}

// PushBack appends the JSON value js.
func (a *Array) PushBack(tx *Transaction, js string) error {
	n, err := a.Len(tx)
	if err != nil {
		return err
	}
	return a.Insert(tx, n, js)
}

// PushFront prepends the JSON value js.
func (a *Array) PushFront(tx *Transaction, js string) error {
	return a.Insert(tx, 0, js)
}

// Remove deletes the element at index i.
func (a *Array) Remove(tx *Transaction, i int) error {
	return a.RemoveRange(tx, i, 1)
}

// RemoveRange deletes n elements starting at index i.
func (a *Array) RemoveRange(tx *Transaction, i, n int) error {
	_, b, release, err := tx.open(a.doc, a.id, true)
	if err != nil {
		return err
	}
	defer release()
	return rangeErr(tx.txn.Remove(b, i, n))
}

// MoveTo moves the element at source so that it ends up before the
// element that was at target.
func (a *Array) MoveTo(tx *Transaction, source, target int) error {
	return a.MoveRangeTo(tx, source, source, target)
}

// MoveRangeTo moves the elements start through end, inclusive, before
// the element that was at target. Moving a range into itself does
// nothing.
func (a *Array) MoveRangeTo(tx *Transaction, start, end, target int) error {
	_, b, release, err := tx.open(a.doc, a.id, true)
	if err != nil {
		return err
	}
	defer release()
	return rangeErr(tx.txn.MoveRange(b, start, end, target))
}

// ToSlice returns the JSON text of every scalar element. Nested values
// and undefined slots are skipped.
func (a *Array) ToSlice(tx *Transaction) ([]string, error) {
	s, b, release, err := tx.open(a.doc, a.id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	res := []string{}
	for _, sl := range s.Slots(b) {
		if !sl.Out.IsScalar() {
			continue
		}
		js, err := encodeJSON(sl.Out.Any)
		if err != nil {
			return nil, err
		}
		res = append(res, js)
	}
	return res, nil
}

// Each calls fn with the JSON text of every scalar element, skipping
// nested values like ToSlice. fn may use tx.
func (a *Array) Each(tx *Transaction, fn func(js string)) error {
	vs, err := a.ToSlice(tx)
	if err != nil {
		return err
	}
	for _, v := range vs {
		fn(v)
	}
	return nil
}

// ToJSON renders a with its nested collections.
func (a *Array) ToJSON(tx *Transaction) (string, error) {
	s, b, release, err := tx.open(a.doc, a.id, false)
	if err != nil {
		return "", err
	}
	defer release()
	return encodeJSON(deepJSON(s, store.Out{Kind: store.OutBranch, Branch: b}))
}

func (a *Array) nested(tx *Transaction, i int) (Value, error) {
	v, ok, err := a.Value(tx, i)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	return v, nil
}

// GetArray returns the array nested at index i.
func (a *Array) GetArray(tx *Transaction, i int) (*Array, error) {
	v, err := a.nested(tx, i)
	if err != nil {
		return nil, err
	}
	return v.AsArray()
}

// GetMap returns the map nested at index i.
func (a *Array) GetMap(tx *Transaction, i int) (*Map, error) {
	v, err := a.nested(tx, i)
	if err != nil {
		return nil, err
	}
	return v.AsMap()
}

// GetText returns the text nested at index i.
func (a *Array) GetText(tx *Transaction, i int) (*Text, error) {
	v, err := a.nested(tx, i)
	if err != nil {
		return nil, err
	}
	return v.AsText()
}

// GetDoc returns the subdocument at index i.
func (a *Array) GetDoc(tx *Transaction, i int) (*Doc, error) {
	v, err := a.nested(tx, i)
	if err != nil {
		return nil, err
	}
	return v.AsDoc()
}

func (a *Array) insertBranch(tx *Transaction, i int, k store.TypeRef) (Value, error) {
	br := store.NewBranch(k)
	if err := a.insert(tx, i, &store.TypeContent{Branch: br}); err != nil {
		return Value{}, err
	}
	return a.doc.branchValue(br), nil
}

// InsertArray inserts an empty array at index i and returns it.
func (a *Array) InsertArray(tx *Transaction, i int) (*Array, error) {
	v, err := a.insertBranch(tx, i, store.TypeArray)
	return v.Array, err
}

// InsertMap inserts an empty map at index i and returns it.
func (a *Array) InsertMap(tx *Transaction, i int) (*Map, error) {
	v, err := a.insertBranch(tx, i, store.TypeMap)
	return v.Map, err
}

// InsertText inserts an empty text at index i and returns it.
func (a *Array) InsertText(tx *Transaction, i int) (*Text, error) {
	v, err := a.insertBranch(tx, i, store.TypeText)
	return v.Text, err
}

// InsertDoc inserts a new subdocument configured by opts at index i.
func (a *Array) InsertDoc(tx *Transaction, i int, opts Options) (*Doc, error) {
	c := newDocContent(opts)
	if err := a.insert(tx, i, c); err != nil {
		return nil, err
	}
	return a.doc.subdoc(c), nil
}

func newDocContent(opts Options) *store.DocContent {
	sub := store.New(opts.clientID(), opts.guid())
	return &store.DocContent{
		GUID: sub.GUID,
		Opts: store.DocOpts(opts.AutoLoad, opts.ShouldLoad),
		Sub:  sub,
	}
}

func (a *Array) push(tx *Transaction, k store.TypeRef) (Value, error) {
	n, err := a.Len(tx)
	if err != nil {
		return Value{}, err
	}
	return a.insertBranch(tx, n, k)
}

// PushArray appends an empty array and returns it.
func (a *Array) PushArray(tx *Transaction) (*Array, error) {
	v, err := a.push(tx, store.TypeArray)
	return v.Array, err
}

// PushMap appends an empty map and returns it.
func (a *Array) PushMap(tx *Transaction) (*Map, error) {
	v, err := a.push(tx, store.TypeMap)
	return v.Map, err
}

// PushText appends an empty text and returns it.
func (a *Array) PushText(tx *Transaction) (*Text, error) {
	v, err := a.push(tx, store.TypeText)
	return v.Text, err
}

// Observe registers fn for the changes of a. See Options.Dispatch for
// when and with which transaction fn runs.
func (a *Array) Observe(fn func(tx *Transaction, changes []ArrayChange)) *Subscription {
	return a.doc.obs.addBranch(a.id, fn)
}
