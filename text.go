package ydoc

import (
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
	"github.com/signadot/ydoc/value"
)

// Text is a facade over rich text. Offsets and lengths count UTF-16
// code units; embedded values count as one unit.
type Text struct {
	doc *Doc
	id  handle.ID
}

// RawHandle identifies the underlying node.
func (t *Text) RawHandle() handle.ID { return t.id }

// Doc returns the document holding t.
func (t *Text) Doc() *Doc { return t.doc }

// TextChunk is a run of text with uniform attributes, or one embedded
// value.
type TextChunk struct {
	Insert Value
	Attrs  Attrs
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// objectReplacement stands for an embed when text is compared as a
// string.
const objectReplacement = '\uFFFC'

// Len returns the length of t in UTF-16 units.
func (t *Text) Len(tx *Transaction) (int, error) {
	s, b, release, err := tx.open(t.doc, t.id, false)
	if err != nil {
		return 0, err
	}
	defer release()
	return s.Len(b), nil
}

// String returns the characters of t without embeds.
func (t *Text) String(tx *Transaction) (string, error) {
	s, b, release, err := tx.open(t.doc, t.id, false)
	if err != nil {
		return "", err
	}
	defer release()
	return s.String(b), nil
}

func (t *Text) insert(tx *Transaction, i int, str string, attrs store.Attrs) error {
	_, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	return rangeErr(tx.txn.InsertText(b, i, str, attrs))
}

// Insert inserts str at offset i with the formatting in effect there.
func (t *Text) Insert(tx *Transaction, i int, str string) error {
	return t.insert(tx, i, str, nil)
}

// InsertWithAttributes inserts str at offset i formatted with exactly
// attrs.
func (t *Text) InsertWithAttributes(tx *Transaction, i int, str string, attrs Attrs) error {
	return t.insert(tx, i, str, explicit(attrs))
}

func explicit(attrs Attrs) store.Attrs {
	if attrs == nil {
		return store.Attrs{}
	}
	return store.Attrs(attrs)
}

// Append inserts str at the end of t.
func (t *Text) Append(tx *Transaction, str string) error {
	n, err := t.Len(tx)
	if err != nil {
		return err
	}
	return t.Insert(tx, n, str)
}

func (t *Text) insertEmbed(tx *Transaction, i int, js string, attrs store.Attrs) error {
	_, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	v, err := decodeJSON(js)
	if err != nil {
		return err
	}
	return rangeErr(tx.txn.InsertEmbed(b, i, &store.EmbedContent{Value: v}, attrs))
}

// InsertEmbed inserts the JSON value js as an embed at offset i.
func (t *Text) InsertEmbed(tx *Transaction, i int, js string) error {
	return t.insertEmbed(tx, i, js, nil)
}

// InsertEmbedWithAttributes is InsertEmbed formatted with exactly attrs.
func (t *Text) InsertEmbedWithAttributes(tx *Transaction, i int, js string, attrs Attrs) error {
	return t.insertEmbed(tx, i, js, explicit(attrs))
}

// RemoveRange deletes n units starting at offset i.
func (t *Text) RemoveRange(tx *Transaction, i, n int) error {
	_, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	return rangeErr(tx.txn.RemoveText(b, i, n))
}

// Format applies attrs to n units starting at offset i. A null value
// removes an attribute.
func (t *Text) Format(tx *Transaction, i, n int, attrs Attrs) error {
	_, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	return rangeErr(tx.txn.Format(b, i, n, store.Attrs(attrs)))
}

// ApplyDelta applies a sequence of text changes, as delivered to
// observers, starting at offset 0. The deltas are checked against the
// current length first; if any is invalid nothing is applied.
func (t *Text) ApplyDelta(tx *Transaction, deltas []TextDelta) error {
	s, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	if err := checkDeltas(s.Len(b), deltas); err != nil {
		return err
	}
	pos := 0
	for k, d := range deltas {
		switch d.Op {
		case ChangeRetain:
			if len(d.Attrs) > 0 {
				err = tx.txn.Format(b, pos, d.Len, store.Attrs(d.Attrs))
			}
			pos += d.Len
		case ChangeDelete:
			err = tx.txn.RemoveText(b, pos, d.Len)
		case ChangeInsert:
			var attrs store.Attrs
			if d.Attrs != nil {
				attrs = store.Attrs(d.Attrs)
			}
			v := d.Insert
			if v.Scalar.Type == value.StringType {
				err = tx.txn.InsertText(b, pos, v.Scalar.Str, attrs)
				pos += utf16Len(v.Scalar.Str)
			} else {
				err = tx.txn.InsertEmbed(b, pos, &store.EmbedContent{Value: v.Scalar}, attrs)
				pos++
			}
		}
		if err != nil {
			return fmt.Errorf("delta %d: %w", k, rangeErr(err))
		}
	}
	return nil
}

// checkDeltas replays the offsets of deltas over a text of length n.
func checkDeltas(n int, deltas []TextDelta) error {
	pos := 0
	for k, d := range deltas {
		switch d.Op {
		case ChangeRetain, ChangeDelete:
			if d.Len < 0 || pos+d.Len > n {
				return fmt.Errorf("delta %d: %w: %s %d at %d of %d", k, ErrOutOfRange, d.Op, d.Len, pos, n)
			}
			if d.Op == ChangeRetain {
				pos += d.Len
			} else {
				n -= d.Len
			}
		case ChangeInsert:
			if d.Insert.Kind != KindScalar {
				return fmt.Errorf("delta %d: %w: cannot embed %s in text", k, ErrEncoding, d.Insert.Kind)
			}
			w := 1
			if d.Insert.Scalar.Type == value.StringType {
				w = utf16Len(d.Insert.Scalar.Str)
			}
			pos += w
			n += w
		default:
			return fmt.Errorf("delta %d: %w: unknown op %s", k, ErrEncoding, d.Op)
		}
	}
	return nil
}

// Diff splits t into chunks of uniform formatting.
func (t *Text) Diff(tx *Transaction) ([]TextChunk, error) {
	s, b, release, err := tx.open(t.doc, t.id, false)
	if err != nil {
		return nil, err
	}
	defer release()
	var res []TextChunk
	for _, c := range s.Diff(b) {
		tc := TextChunk{Attrs: Attrs(c.Attrs)}
		if c.Embed != nil {
			tc.Insert = t.doc.valueOf(*c.Embed)
		} else {
			tc.Insert = Value{Kind: KindScalar, Scalar: value.String(c.Text)}
		}
		res = append(res, tc)
	}
	return res, nil
}

// SetString replaces the content of t with str using a minimal set of
// insertions and deletions, so concurrent edits to untouched regions
// survive. Embeds are kept only where str carries U+FFFC in their place.
func (t *Text) SetString(tx *Transaction, str string) error {
	s, b, release, err := tx.open(t.doc, t.id, true)
	if err != nil {
		return err
	}
	defer release()
	var sb strings.Builder
	for _, c := range s.Diff(b) {
		if c.Embed != nil {
			sb.WriteRune(objectReplacement)
			continue
		}
		sb.WriteString(c.Text)
	}
	dmp := diffmatchpatch.New()
	pos := 0
	for _, d := range dmp.DiffMain(sb.String(), str, false) {
		n := utf16Len(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			pos += n
		case diffmatchpatch.DiffDelete:
			if err := tx.txn.RemoveText(b, pos, n); err != nil {
				return rangeErr(err)
			}
		case diffmatchpatch.DiffInsert:
			if err := tx.txn.InsertText(b, pos, d.Text, nil); err != nil {
				return rangeErr(err)
			}
			pos += n
		}
	}
	return nil
}

// Observe registers fn for the changes of t.
func (t *Text) Observe(fn func(tx *Transaction, deltas []TextDelta)) *Subscription {
	return t.doc.obs.addBranch(t.id, fn)
}
