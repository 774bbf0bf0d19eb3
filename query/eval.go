package query

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/value"
)

// node is a position in the document: the document itself, or a value
// reached from it.
type node struct {
	doc bool
	v   ydoc.Value
}

type child struct {
	key any
	n   node
}

// Eval parses path and returns the JSON text of every match in
// document order.
func Eval(tx *ydoc.Transaction, path string) ([]string, error) {
	p, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return p.Eval(tx)
}

// Eval returns the JSON text of every match of p. Arrays and maps render
// their scalar entries, with nested values as null. Text renders as a
// string; documents and undefined slots as null.
func (p *Path) Eval(tx *ydoc.Transaction) ([]string, error) {
	nodes, err := p.list(tx, nil, node{doc: true})
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(nodes))
	for _, n := range nodes {
		a, err := render(tx, n)
		if err != nil {
			return nil, err
		}
		d, err := value.ToJSON(a)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ydoc.ErrEncoding, err)
		}
		res = append(res, string(d))
	}
	return res, nil
}

func (p *Path) list(tx *ydoc.Transaction, dst []node, n node) ([]node, error) {
	if p == nil {
		return append(dst, n), nil
	}
	if p.Subtree {
		var err error
		visit := func(x node) error {
			dst, err = p.Next.list(tx, dst, x)
			return err
		}
		if err := walk(tx, n, visit); err != nil {
			return nil, err
		}
		return dst, nil
	}
	switch {
	case p.Field != nil:
		c, ok, err := field(tx, n, *p.Field)
		if err != nil || !ok {
			return dst, err
		}
		return p.Next.list(tx, dst, c)
	case p.Index != nil:
		if n.doc || n.v.Kind != ydoc.KindArray {
			return dst, nil
		}
		v, ok, err := n.v.Array.Value(tx, *p.Index)
		if err != nil || !ok {
			return dst, err
		}
		return p.Next.list(tx, dst, node{v: v})
	case p.IndexAll, p.prog != nil:
		cs, err := children(tx, n)
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			if p.prog != nil {
				ok, err := p.match(tx, c)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			}
			if dst, err = p.Next.list(tx, dst, c.n); err != nil {
				return nil, err
			}
		}
		return dst, nil
	}
	return p.Next.list(tx, dst, n)
}

// match reports whether the filter of p holds for c. Evaluation errors,
// such as comparing a missing field, count as no match.
func (p *Path) match(tx *ydoc.Transaction, c child) (bool, error) {
	view, err := deep(tx, c.n)
	if err != nil {
		return false, err
	}
	it := value.ToGo(view)
	out, err := expr.Run(p.prog, map[string]any{"it": it, "key": c.key})
	if err != nil {
		return false, nil
	}
	b, _ := out.(bool)
	return b, nil
}

func field(tx *ydoc.Transaction, n node, f string) (node, bool, error) {
	if n.doc {
		v, ok, err := tx.Root(f)
		return node{v: v}, ok, err
	}
	if n.v.Kind != ydoc.KindMap {
		return node{}, false, nil
	}
	v, ok, err := n.v.Map.Value(tx, f)
	return node{v: v}, ok, err
}

func children(tx *ydoc.Transaction, n node) ([]child, error) {
	switch {
	case n.doc:
		names, err := tx.RootNames()
		if err != nil {
			return nil, err
		}
		res := make([]child, 0, len(names))
		for _, name := range names {
			v, _, err := tx.Root(name)
			if err != nil {
				return nil, err
			}
			res = append(res, child{key: name, n: node{v: v}})
		}
		return res, nil
	case n.v.Kind == ydoc.KindArray:
		l, err := n.v.Array.Len(tx)
		if err != nil {
			return nil, err
		}
		res := make([]child, 0, l)
		for i := 0; i < l; i++ {
			v, _, err := n.v.Array.Value(tx, i)
			if err != nil {
				return nil, err
			}
			res = append(res, child{key: i, n: node{v: v}})
		}
		return res, nil
	case n.v.Kind == ydoc.KindMap:
		keys, err := n.v.Map.Keys(tx)
		if err != nil {
			return nil, err
		}
		res := make([]child, 0, len(keys))
		for _, k := range keys {
			v, _, err := n.v.Map.Value(tx, k)
			if err != nil {
				return nil, err
			}
			res = append(res, child{key: k, n: node{v: v}})
		}
		return res, nil
	}
	return nil, nil
}

// walk calls fn for n and then its descendants, depth first.
func walk(tx *ydoc.Transaction, n node, fn func(node) error) error {
	if err := fn(n); err != nil {
		return err
	}
	cs, err := children(tx, n)
	if err != nil {
		return err
	}
	for _, c := range cs {
		if err := walk(tx, c.n, fn); err != nil {
			return err
		}
	}
	return nil
}

func leaf(tx *ydoc.Transaction, v ydoc.Value) (value.Any, bool, error) {
	switch v.Kind {
	case ydoc.KindScalar:
		return v.Scalar, true, nil
	case ydoc.KindText:
		s, err := v.Text.String(tx)
		return value.String(s), true, err
	case ydoc.KindArray, ydoc.KindMap:
		return value.Any{}, false, nil
	}
	return value.Null(), true, nil
}

// render is the shallow view of a match.
func render(tx *ydoc.Transaction, n node) (value.Any, error) {
	if !n.doc {
		if a, ok, err := leaf(tx, n.v); ok || err != nil {
			return a, err
		}
	}
	cs, err := children(tx, n)
	if err != nil {
		return value.Any{}, err
	}
	entry := func(c child) value.Any {
		if c.n.v.Kind == ydoc.KindScalar {
			return c.n.v.Scalar
		}
		return value.Null()
	}
	if !n.doc && n.v.Kind == ydoc.KindArray {
		vs := make([]value.Any, len(cs))
		for i, c := range cs {
			vs[i] = entry(c)
		}
		return value.Array(vs...), nil
	}
	m := make(map[string]value.Any, len(cs))
	for _, c := range cs {
		m[c.key.(string)] = entry(c)
	}
	return value.Map(m), nil
}

// deep is the full view of a node, handed to filters.
func deep(tx *ydoc.Transaction, n node) (value.Any, error) {
	if !n.doc {
		if a, ok, err := leaf(tx, n.v); ok || err != nil {
			return a, err
		}
	}
	cs, err := children(tx, n)
	if err != nil {
		return value.Any{}, err
	}
	if !n.doc && n.v.Kind == ydoc.KindArray {
		vs := make([]value.Any, len(cs))
		for i, c := range cs {
			if vs[i], err = deep(tx, c.n); err != nil {
				return value.Any{}, err
			}
		}
		return value.Array(vs...), nil
	}
	m := make(map[string]value.Any, len(cs))
	for _, c := range cs {
		if m[c.key.(string)], err = deep(tx, c.n); err != nil {
			return value.Any{}, err
		}
	}
	return value.Map(m), nil
}
