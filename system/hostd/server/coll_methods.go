package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/system/hostd/api"
	"github.com/signadot/ydoc/value"
	"go.lsp.dev/jsonrpc2"
)

func (s *session) array(p *api.CollParams) (*ydoc.Transaction, *ydoc.Array, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, nil, err
	}
	a, err := ydoc.ArrayFromHandle(handle.ID(p.Handle))
	return tx, a, err
}

func (s *session) mapOf(p *api.CollParams) (*ydoc.Transaction, *ydoc.Map, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, nil, err
	}
	m, err := ydoc.MapFromHandle(handle.ID(p.Handle))
	return tx, m, err
}

func (s *session) text(p *api.CollParams) (*ydoc.Transaction, *ydoc.Text, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, nil, err
	}
	t, err := ydoc.TextFromHandle(handle.ID(p.Handle))
	return tx, t, err
}

func arrayLen(_ context.Context, s *session, p *api.CollParams) (*api.LenResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	n, err := a.Len(tx)
	if err != nil {
		return nil, err
	}
	return &api.LenResult{Len: n}, nil
}

func arrayGet(_ context.Context, s *session, p *api.CollParams) (*api.JSONResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	js, err := a.Get(tx, p.Index)
	if err != nil {
		return nil, err
	}
	return &api.JSONResult{JSON: js}, nil
}

func arrayIsUndefined(_ context.Context, s *session, p *api.CollParams) (*api.BoolResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	u, err := a.IsUndefined(tx, p.Index)
	if err != nil {
		return nil, err
	}
	return &api.BoolResult{Value: u}, nil
}

func arrayInsertRange(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	return nil, a.InsertRange(tx, p.Index, p.Values)
}

func arrayRemoveRange(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	return nil, a.RemoveRange(tx, p.Index, p.Len)
}

func arrayMove(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	return nil, a.MoveTo(tx, p.Index, p.Target)
}

func arrayToSlice(_ context.Context, s *session, p *api.CollParams) (*api.ValuesResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	vs, err := a.ToSlice(tx)
	if err != nil {
		return nil, err
	}
	return &api.ValuesResult{Values: vs}, nil
}

func arrayToJSON(_ context.Context, s *session, p *api.CollParams) (*api.JSONResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	js, err := a.ToJSON(tx)
	if err != nil {
		return nil, err
	}
	return &api.JSONResult{JSON: js}, nil
}

func arrayInsertNested(_ context.Context, s *session, p *api.CollParams) (*api.HandleResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	var v ydoc.Value
	switch p.Kind {
	case "array":
		v.Kind = ydoc.KindArray
		v.Array, err = a.InsertArray(tx, p.Index)
	case "map":
		v.Kind = ydoc.KindMap
		v.Map, err = a.InsertMap(tx, p.Index)
	case "text":
		v.Kind = ydoc.KindText
		v.Text, err = a.InsertText(tx, p.Index)
	case "doc":
		v.Kind = ydoc.KindDoc
		v.Doc, err = a.InsertDoc(tx, p.Index, s.docOptions(p.Doc))
	default:
		return nil, badKind(p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s.nestedResult(v), nil
}

func arrayGetNested(_ context.Context, s *session, p *api.CollParams) (*api.HandleResult, error) {
	tx, a, err := s.array(p)
	if err != nil {
		return nil, err
	}
	v, ok, err := a.Value(tx, p.Index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ydoc.ErrOutOfRange, p.Index)
	}
	return nestedOnly(s, v)
}

func nestedOnly(s *session, v ydoc.Value) (*api.HandleResult, error) {
	if v.Kind == ydoc.KindScalar || v.Kind == ydoc.KindUndefined {
		return nil, fmt.Errorf("%w: %s is not nested", ydoc.ErrTypeMismatch, v.Kind)
	}
	return s.nestedResult(v), nil
}

func badKind(k string) error {
	return jsonrpc2.Errorf(jsonrpc2.InvalidParams, "unknown kind %q", k)
}

func mapLen(_ context.Context, s *session, p *api.CollParams) (*api.LenResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	n, err := m.Len(tx)
	if err != nil {
		return nil, err
	}
	return &api.LenResult{Len: n}, nil
}

func mapGet(_ context.Context, s *session, p *api.CollParams) (*api.JSONResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	js, err := m.Get(tx, p.Key)
	if err != nil {
		return nil, err
	}
	return &api.JSONResult{JSON: js}, nil
}

func mapSet(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	return nil, m.Set(tx, p.Key, p.Value)
}

func mapRemove(_ context.Context, s *session, p *api.CollParams) (*api.BoolResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	ok, err := m.Remove(tx, p.Key)
	if err != nil {
		return nil, err
	}
	return &api.BoolResult{Value: ok}, nil
}

func mapContainsKey(_ context.Context, s *session, p *api.CollParams) (*api.BoolResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	ok, err := m.ContainsKey(tx, p.Key)
	if err != nil {
		return nil, err
	}
	return &api.BoolResult{Value: ok}, nil
}

func mapKeys(_ context.Context, s *session, p *api.CollParams) (*api.ValuesResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	ks, err := m.Keys(tx)
	if err != nil {
		return nil, err
	}
	return &api.ValuesResult{Values: ks}, nil
}

func mapToMap(_ context.Context, s *session, p *api.CollParams) (*api.MapResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	vs, err := m.ToMap(tx)
	if err != nil {
		return nil, err
	}
	return &api.MapResult{Values: vs}, nil
}

func mapToJSON(_ context.Context, s *session, p *api.CollParams) (*api.JSONResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	js, err := m.ToJSON(tx)
	if err != nil {
		return nil, err
	}
	return &api.JSONResult{JSON: js}, nil
}

func mapMergePatch(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	return nil, m.ApplyMergePatch(tx, p.Patch)
}

func mapInsertNested(_ context.Context, s *session, p *api.CollParams) (*api.HandleResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	var v ydoc.Value
	switch p.Kind {
	case "array":
		v.Kind = ydoc.KindArray
		v.Array, err = m.InsertArray(tx, p.Key)
	case "map":
		v.Kind = ydoc.KindMap
		v.Map, err = m.InsertMap(tx, p.Key)
	case "text":
		v.Kind = ydoc.KindText
		v.Text, err = m.InsertText(tx, p.Key)
	case "doc":
		v.Kind = ydoc.KindDoc
		v.Doc, err = m.InsertDoc(tx, p.Key, s.docOptions(p.Doc))
	default:
		return nil, badKind(p.Kind)
	}
	if err != nil {
		return nil, err
	}
	return s.nestedResult(v), nil
}

func mapGetNested(_ context.Context, s *session, p *api.CollParams) (*api.HandleResult, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	v, ok, err := m.Value(tx, p.Key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ydoc.ErrNotFound, p.Key)
	}
	return nestedOnly(s, v)
}

func mapClear(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, m, err := s.mapOf(p)
	if err != nil {
		return nil, err
	}
	return nil, m.Clear(tx)
}

func textLen(_ context.Context, s *session, p *api.CollParams) (*api.LenResult, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	n, err := t.Len(tx)
	if err != nil {
		return nil, err
	}
	return &api.LenResult{Len: n}, nil
}

func textString(_ context.Context, s *session, p *api.CollParams) (*api.TextResult, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	str, err := t.String(tx)
	if err != nil {
		return nil, err
	}
	return &api.TextResult{Text: str}, nil
}

func decodeAttrs(raw json.RawMessage) (ydoc.Attrs, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var attrs ydoc.Attrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "attrs: %v", err)
	}
	return attrs, nil
}

func encodeAttrs(attrs ydoc.Attrs) json.RawMessage {
	if len(attrs) == 0 {
		return nil
	}
	d, err := json.Marshal(map[string]value.Any(attrs))
	if err != nil {
		return nil
	}
	return d
}

func textInsert(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttrs(p.Attrs)
	if err != nil {
		return nil, err
	}
	if attrs == nil {
		return nil, t.Insert(tx, p.Index, p.Text)
	}
	return nil, t.InsertWithAttributes(tx, p.Index, p.Text, attrs)
}

func textRemoveRange(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	return nil, t.RemoveRange(tx, p.Index, p.Len)
}

func textFormat(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	attrs, err := decodeAttrs(p.Attrs)
	if err != nil {
		return nil, err
	}
	return nil, t.Format(tx, p.Index, p.Len, attrs)
}

func textDiff(_ context.Context, s *session, p *api.CollParams) (*api.DiffResult, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	chunks, err := t.Diff(tx)
	if err != nil {
		return nil, err
	}
	res := &api.DiffResult{Chunks: make([]api.Chunk, 0, len(chunks))}
	for _, c := range chunks {
		ch := api.Chunk{Attrs: encodeAttrs(c.Attrs)}
		ch.Insert, ch.Embed = insertText(c.Insert)
		res.Chunks = append(res.Chunks, ch)
	}
	return res, nil
}

// insertText splits an inserted value into text or the JSON of an
// embed. Nested embeds appear as null.
func insertText(v ydoc.Value) (text, embed string) {
	if v.Kind == ydoc.KindScalar && v.Scalar.Type == value.StringType {
		return v.Scalar.Str, ""
	}
	return "", scalarOrNull(v)
}

func scalarOrNull(v ydoc.Value) string {
	if js, err := v.JSON(); err == nil {
		return js
	}
	return "null"
}

func textSetString(_ context.Context, s *session, p *api.CollParams) (any, error) {
	tx, t, err := s.text(p)
	if err != nil {
		return nil, err
	}
	return nil, t.SetString(tx, p.Text)
}
