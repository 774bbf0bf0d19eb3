package server

import (
	"context"
	"fmt"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/persist"
	"github.com/signadot/ydoc/query"
	"github.com/signadot/ydoc/system/hostd/api"
)

func (s *session) docOptions(p *api.NewDocParams) ydoc.Options {
	opts := ydoc.Options{
		Dispatch: s.srv.dispatch,
		Log:      s.srv.Spec.Log,
	}
	if p != nil {
		opts.GUID = p.GUID
		opts.ClientID = p.ClientID
		opts.AutoLoad = p.AutoLoad
		opts.ShouldLoad = p.ShouldLoad
	}
	return opts
}

func docNew(_ context.Context, s *session, p *api.NewDocParams) (*api.NewDocResult, error) {
	d := ydoc.New(s.docOptions(p))
	var b *persist.Binding
	if s.srv.store != nil {
		var err error
		if b, err = s.srv.store.Bind(d); err != nil {
			return nil, err
		}
	}
	id := s.addDoc(d, b)
	return &api.NewDocResult{Doc: uint64(id), GUID: d.GUID(), ClientID: d.ClientID()}, nil
}

func docGetArray(_ context.Context, s *session, p *api.RootParams) (*api.HandleResult, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	a, err := hd.doc.GetArray(p.Name)
	if err != nil {
		return nil, err
	}
	return &api.HandleResult{Kind: ydoc.KindArray.String(), Handle: uint64(a.RawHandle())}, nil
}

func docGetMap(_ context.Context, s *session, p *api.RootParams) (*api.HandleResult, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	m, err := hd.doc.GetMap(p.Name)
	if err != nil {
		return nil, err
	}
	return &api.HandleResult{Kind: ydoc.KindMap.String(), Handle: uint64(m.RawHandle())}, nil
}

func docGetText(_ context.Context, s *session, p *api.RootParams) (*api.HandleResult, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	t, err := hd.doc.GetText(p.Name)
	if err != nil {
		return nil, err
	}
	return &api.HandleResult{Kind: ydoc.KindText.String(), Handle: uint64(t.RawHandle())}, nil
}

func docBegin(ctx context.Context, s *session, p *api.BeginParams) (*api.TxnResult, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.srv.lockTimeout())
	defer cancel()
	tx, err := hd.doc.BeginContext(ctx, p.Origin)
	if err != nil {
		return nil, fmt.Errorf("begin on %s: %w", hd.doc.GUID(), err)
	}
	return &api.TxnResult{Txn: uint64(s.addTxn(tx))}, nil
}

func docDestroy(_ context.Context, s *session, p *api.SubdocParams) (any, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	tx, err := s.optTxn(p.Txn)
	if err != nil {
		return nil, err
	}
	return nil, hd.doc.Destroy(tx)
}

func docLoad(_ context.Context, s *session, p *api.SubdocParams) (any, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	tx, err := s.optTxn(p.Txn)
	if err != nil {
		return nil, err
	}
	if tx == nil && hd.doc.ParentDoc() != nil {
		return nil, fmt.Errorf("%w: loading subdocument %s needs a transaction on its parent", ydoc.ErrWrongDocument, hd.doc.GUID())
	}
	return nil, hd.doc.Load(tx)
}

func docRelease(_ context.Context, s *session, p *api.DocParams) (any, error) {
	return nil, s.releaseDoc(p.Doc)
}

func txnFree(_ context.Context, s *session, p *api.TxnParams) (any, error) {
	return nil, s.freeTxn(p.Txn)
}

func txnData(s *session, id uint64, f func(*ydoc.Transaction) ([]byte, error)) (*api.DataResult, error) {
	tx, err := s.txn(id)
	if err != nil {
		return nil, err
	}
	d, err := f(tx)
	if err != nil {
		return nil, err
	}
	return &api.DataResult{Data: d}, nil
}

func txnEncodeUpdate(_ context.Context, s *session, p *api.TxnParams) (*api.DataResult, error) {
	return txnData(s, p.Txn, (*ydoc.Transaction).EncodeUpdate)
}

func txnStateVector(_ context.Context, s *session, p *api.TxnParams) (*api.DataResult, error) {
	return txnData(s, p.Txn, (*ydoc.Transaction).StateVector)
}

func txnEncodeDiff(_ context.Context, s *session, p *api.DataParams) (*api.DataResult, error) {
	return txnData(s, p.Txn, func(tx *ydoc.Transaction) ([]byte, error) {
		return tx.EncodeDiff(p.Data)
	})
}

func txnEncodeStateAsUpdate(_ context.Context, s *session, p *api.DataParams) (*api.DataResult, error) {
	return txnData(s, p.Txn, func(tx *ydoc.Transaction) ([]byte, error) {
		return tx.EncodeStateAsUpdate(p.Data)
	})
}

func txnApplyUpdate(_ context.Context, s *session, p *api.DataParams) (any, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, err
	}
	return nil, tx.ApplyUpdate(p.Data)
}

func txnOrigin(_ context.Context, s *session, p *api.TxnParams) (*api.DataResult, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, err
	}
	return &api.DataResult{Data: tx.Origin()}, nil
}

func txnQuery(_ context.Context, s *session, p *api.QueryParams) (*api.ValuesResult, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, err
	}
	vs, err := query.Eval(tx, p.Path)
	if err != nil {
		return nil, err
	}
	return &api.ValuesResult{Values: vs}, nil
}

func txnToJSON(_ context.Context, s *session, p *api.TxnParams) (*api.JSONResult, error) {
	tx, err := s.txn(p.Txn)
	if err != nil {
		return nil, err
	}
	js, err := tx.ToJSON()
	if err != nil {
		return nil, err
	}
	return &api.JSONResult{JSON: js}, nil
}

// nestedResult registers subdocuments so that they can be addressed
// like documents the client created.
func (s *session) nestedResult(v ydoc.Value) *api.HandleResult {
	res := &api.HandleResult{Kind: v.Kind.String()}
	switch v.Kind {
	case ydoc.KindArray:
		res.Handle = uint64(v.Array.RawHandle())
	case ydoc.KindMap:
		res.Handle = uint64(v.Map.RawHandle())
	case ydoc.KindText:
		res.Handle = uint64(v.Text.RawHandle())
	case ydoc.KindDoc:
		res.Doc = uint64(s.addDoc(v.Doc, nil))
	}
	return res
}
