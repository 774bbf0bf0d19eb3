package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/signadot/ydoc/value"
)

// Attrs are text formatting attributes. A Null value clears the
// attribute.
type Attrs map[string]value.Any

func (a Attrs) clone() Attrs {
	if len(a) == 0 {
		return nil
	}
	c := make(Attrs, len(a))
	for k, v := range a {
		c[k] = v
	}
	return c
}

func (a Attrs) get(k string) value.Any {
	if v, ok := a[k]; ok {
		return v
	}
	return value.Null()
}

func (a Attrs) apply(f *FormatContent) {
	if f.Value.Type == value.NullType || f.Value.Type == value.UndefinedType {
		delete(a, f.Key)
		return
	}
	a[f.Key] = f.Value
}

// Equal reports whether a and b hold the same attributes.
func (a Attrs) Equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// textPos is a cursor between two items of a text, with the attributes
// in effect at that point.
type textPos struct {
	b     *Branch
	left  *Item
	right *Item
	attrs Attrs
}

func (p *textPos) forward() {
	if p.right == nil {
		return
	}
	if f, ok := p.right.Content.(*FormatContent); ok && !p.right.Deleted {
		p.attrs.apply(f)
	}
	p.left = p.right
	p.right = p.right.Right
}

// findTextPos locates UTF-16 offset index. An offset inside a surrogate
// pair rounds down.
func (s *Store) findTextPos(b *Branch, index int) (*textPos, error) {
	if index < 0 {
		return nil, fmt.Errorf("%w: %d", ErrOutOfBounds, index)
	}
	p := &textPos{b: b, right: b.Start, attrs: Attrs{}}
	for p.right != nil && index > 0 {
		it := p.right
		if _, ok := s.slot(current, it); ok {
			w := weight(b, it)
			if index < w {
				index = 0
				break
			}
			index -= w
		}
		p.forward()
	}
	if index > 0 {
		return nil, fmt.Errorf("%w: offset past end of text", ErrOutOfBounds)
	}
	return p, nil
}

func (t *Txn) insertAt(p *textPos, c Content) {
	p.right = t.insert(p.b, p.left, p.right, c)
	p.forward()
}

// minimizeAttributeChanges skips deleted items and formats that already
// match attrs.
func (p *textPos) minimizeAttributeChanges(attrs Attrs) {
	for p.right != nil {
		if p.right.Deleted {
			p.forward()
			continue
		}
		f, ok := p.right.Content.(*FormatContent)
		if !ok || !attrs.get(f.Key).Equal(f.Value) {
			return
		}
		p.forward()
	}
}

// insertAttributes opens every attribute of attrs that differs from the
// current ones and returns the values to restore afterwards.
func (t *Txn) insertAttributes(p *textPos, attrs Attrs) Attrs {
	negated := Attrs{}
	for _, k := range sortedKeys(attrs) {
		v := attrs[k]
		cur := p.attrs.get(k)
		if cur.Equal(v) {
			continue
		}
		negated[k] = cur
		t.insertAt(p, &FormatContent{Key: k, Value: v})
	}
	return negated
}

func (t *Txn) insertNegatedAttributes(p *textPos, negated Attrs) {
	for p.right != nil {
		if !p.right.Deleted {
			f, ok := p.right.Content.(*FormatContent)
			if !ok {
				break
			}
			if nv, has := negated[f.Key]; !has || !nv.Equal(f.Value) {
				break
			}
			delete(negated, f.Key)
		}
		p.forward()
	}
	for _, k := range sortedKeys(negated) {
		t.insertAt(p, &FormatContent{Key: k, Value: negated[k]})
	}
}

func sortedKeys(a Attrs) []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	// insertion order of formats must be deterministic
	sort.Strings(keys)
	return keys
}

// InsertText inserts str at UTF-16 offset index. With nil attrs the text
// takes the formatting in effect at index; otherwise exactly attrs
// apply.
func (t *Txn) InsertText(b *Branch, index int, str string, attrs Attrs) error {
	if str == "" {
		return nil
	}
	cs := make([]Content, 0, len(str))
	for _, r := range str {
		cs = append(cs, &StringContent{Rune: r})
	}
	return t.insertTextContents(b, index, cs, attrs)
}

// InsertEmbed inserts a non-text value at UTF-16 offset index.
func (t *Txn) InsertEmbed(b *Branch, index int, c Content, attrs Attrs) error {
	return t.insertTextContents(b, index, []Content{c}, attrs)
}

func (t *Txn) insertTextContents(b *Branch, index int, cs []Content, attrs Attrs) error {
	p, err := t.store.findTextPos(b, index)
	if err != nil {
		return err
	}
	if attrs == nil {
		for _, c := range cs {
			t.insertAt(p, c)
		}
		return nil
	}
	want := attrs.clone()
	if want == nil {
		want = Attrs{}
	}
	for k := range p.attrs {
		if _, ok := want[k]; !ok {
			want[k] = value.Null()
		}
	}
	p.minimizeAttributeChanges(want)
	negated := t.insertAttributes(p, want)
	for _, c := range cs {
		t.insertAt(p, c)
	}
	t.insertNegatedAttributes(p, negated)
	return nil
}

// RemoveText deletes length UTF-16 units starting at index.
func (t *Txn) RemoveText(b *Branch, index, length int) error {
	if length == 0 {
		return nil
	}
	if length < 0 || index+length > t.store.Len(b) {
		return fmt.Errorf("%w: range %d+%d", ErrOutOfBounds, index, length)
	}
	p, err := t.store.findTextPos(b, index)
	if err != nil {
		return err
	}
	for p.right != nil && length > 0 {
		it := p.right
		if _, ok := t.store.slot(current, it); ok {
			length -= weight(b, it)
			t.deleteItem(it)
		}
		p.forward()
	}
	return nil
}

// Format applies attrs to length UTF-16 units starting at index. Null
// values remove attributes.
func (t *Txn) Format(b *Branch, index, length int, attrs Attrs) error {
	if length == 0 || len(attrs) == 0 {
		return nil
	}
	if length < 0 || index+length > t.store.Len(b) {
		return fmt.Errorf("%w: range %d+%d", ErrOutOfBounds, index, length)
	}
	p, err := t.store.findTextPos(b, index)
	if err != nil {
		return err
	}
	p.minimizeAttributeChanges(attrs)
	negated := t.insertAttributes(p, attrs)
	for p.right != nil && (length > 0 || (len(negated) > 0 && (p.right.Deleted || isFormat(p.right)))) {
		it := p.right
		if !it.Deleted {
			if f, ok := it.Content.(*FormatContent); ok {
				if want, has := attrs[f.Key]; has {
					if want.Equal(f.Value) {
						delete(negated, f.Key)
					} else {
						if length == 0 {
							break
						}
						negated[f.Key] = f.Value
					}
					t.deleteItem(it)
				}
			} else if _, ok := t.store.slot(current, it); ok {
				length -= weight(b, it)
			}
		}
		p.forward()
	}
	t.insertNegatedAttributes(p, negated)
	return nil
}

func isFormat(it *Item) bool {
	_, ok := it.Content.(*FormatContent)
	return ok
}

// String returns the characters of the text b.
func (s *Store) String(b *Branch) string {
	var sb strings.Builder
	for it := b.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		if c, ok := it.Content.(*StringContent); ok {
			sb.WriteRune(c.Rune)
		}
	}
	return sb.String()
}

// Chunk is a run of text, or one embedded value, with its attributes.
type Chunk struct {
	Text   string
	Embed  *Out
	Attrs  Attrs
	Length int
}

// Diff splits the text b into chunks of uniform formatting.
func (s *Store) Diff(b *Branch) []Chunk {
	var res []Chunk
	var sb strings.Builder
	n := 0
	attrs := Attrs{}
	flush := func() {
		if sb.Len() == 0 {
			return
		}
		res = append(res, Chunk{Text: sb.String(), Attrs: attrs.clone(), Length: n})
		sb.Reset()
		n = 0
	}
	for it := b.Start; it != nil; it = it.Right {
		if it.Deleted {
			continue
		}
		switch c := it.Content.(type) {
		case *StringContent:
			sb.WriteRune(c.Rune)
			n += int(it.Len)
		case *FormatContent:
			flush()
			attrs.apply(c)
		default:
			if _, ok := s.slot(current, it); !ok {
				continue
			}
			flush()
			o := it.Out()
			res = append(res, Chunk{Embed: &o, Attrs: attrs.clone(), Length: 1})
		}
	}
	flush()
	return res
}
