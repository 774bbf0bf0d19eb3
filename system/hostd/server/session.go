package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/persist"
	"go.lsp.dev/jsonrpc2"
)

// session holds what one connection created.
type session struct {
	id   string
	srv  *Server
	conn jsonrpc2.Conn
	log  *slog.Logger

	docs handle.Table[*hostedDoc]
	txns handle.Table[*ydoc.Transaction]
	subs handle.Table[*subscription]

	// must hold mu
	mu     sync.Mutex
	closed bool
	docIDs map[*ydoc.Doc]handle.ID
	txnIDs map[handle.ID]*sync.Mutex
	subIDs map[handle.ID]struct{}
}

type hostedDoc struct {
	doc     *ydoc.Doc
	binding *persist.Binding
}

type subscription struct {
	topic string
	sub   *ydoc.Subscription
}

func newSession(id string, srv *Server, conn jsonrpc2.Conn) *session {
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		log:    srv.Spec.Log.With("session", id),
		docIDs: map[*ydoc.Doc]handle.ID{},
		txnIDs: map[handle.ID]*sync.Mutex{},
		subIDs: map[handle.ID]struct{}{},
	}
}

// handle runs each request on its own goroutine so that a client may
// block in doc.begin while another request frees the transaction it
// waits for. Requests naming the same transaction run one at a time.
func (s *session) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	m, ok := methods[req.Method()]
	if !ok {
		return jsonrpc2.MethodNotFoundHandler(ctx, reply, req)
	}
	params := []byte(req.Params())
	go func() {
		if mu := s.txnLock(params); mu != nil {
			mu.Lock()
			defer mu.Unlock()
		}
		res, err := m(ctx, s, params)
		if err != nil {
			s.log.Debug("request failed", "method", req.Method(), "error", err)
		}
		if rerr := reply(ctx, res, wireError(err)); rerr != nil {
			s.log.Debug("reply failed", "method", req.Method(), "error", rerr)
		}
	}()
	return nil
}

// addDoc registers d, returning its existing handle if it has one.
func (s *session) addDoc(d *ydoc.Doc, b *persist.Binding) handle.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.docIDs[d]; ok {
		return id
	}
	id := s.docs.Alloc(&hostedDoc{doc: d, binding: b})
	s.docIDs[d] = id
	return id
}

func (s *session) doc(id uint64) (*hostedDoc, error) {
	hd, err := s.docs.Get(handle.ID(id))
	if err != nil {
		return nil, fmt.Errorf("%w: document %s", ydoc.ErrStaleHandle, handle.ID(id))
	}
	return hd, nil
}

func (s *session) releaseDoc(id uint64) error {
	hd, err := s.doc(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.docIDs, hd.doc)
	s.mu.Unlock()
	s.docs.Release(handle.ID(id))
	if hd.binding != nil {
		hd.binding.Close()
	}
	return nil
}

func (s *session) addTxn(tx *ydoc.Transaction) handle.ID {
	id := s.txns.Alloc(tx)
	s.mu.Lock()
	s.txnIDs[id] = &sync.Mutex{}
	s.mu.Unlock()
	return id
}

// txnLock returns the lock of the transaction named in params, if any.
// A Transaction must not be used by two goroutines at once.
func (s *session) txnLock(params []byte) *sync.Mutex {
	var ref struct {
		Txn uint64 `json:"txn"`
	}
	if json.Unmarshal(params, &ref) != nil || ref.Txn == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txnIDs[handle.ID(ref.Txn)]
}

// txn resolves a transaction. Handles of freed transactions no longer
// resolve and report ErrTransactionFreed.
func (s *session) txn(id uint64) (*ydoc.Transaction, error) {
	tx, err := s.txns.Get(handle.ID(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ydoc.ErrTransactionFreed, handle.ID(id))
	}
	return tx, nil
}

// optTxn is txn where 0 stands for no transaction.
func (s *session) optTxn(id uint64) (*ydoc.Transaction, error) {
	if id == 0 {
		return nil, nil
	}
	return s.txn(id)
}

func (s *session) freeTxn(id uint64) error {
	tx, err := s.txn(id)
	if err != nil {
		return err
	}
	if !s.txns.Release(handle.ID(id)) {
		return fmt.Errorf("%w: %s", ydoc.ErrTransactionFreed, handle.ID(id))
	}
	s.mu.Lock()
	delete(s.txnIDs, handle.ID(id))
	s.mu.Unlock()
	return tx.Free()
}

func (s *session) disposeSub(id uint64) error {
	sub, err := s.subs.Get(handle.ID(id))
	if err != nil {
		return fmt.Errorf("%w: subscription %s", ydoc.ErrStaleHandle, handle.ID(id))
	}
	if s.subs.Release(handle.ID(id)) {
		s.mu.Lock()
		delete(s.subIDs, handle.ID(id))
		s.mu.Unlock()
		sub.sub.Dispose()
	}
	return nil
}

// close frees the transactions still open, disposes subscriptions and
// unbinds stored documents.
func (s *session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	txns := make(map[handle.ID]*sync.Mutex, len(s.txnIDs))
	for id, mu := range s.txnIDs {
		txns[id] = mu
	}
	subs := make([]handle.ID, 0, len(s.subIDs))
	for id := range s.subIDs {
		subs = append(subs, id)
	}
	docs := make([]handle.ID, 0, len(s.docIDs))
	for _, id := range s.docIDs {
		docs = append(docs, id)
	}
	s.mu.Unlock()

	for _, id := range subs {
		_ = s.disposeSub(uint64(id))
	}
	freed := 0
	for id, mu := range txns {
		mu.Lock()
		err := s.freeTxn(uint64(id))
		mu.Unlock()
		if err == nil {
			freed++
		} else if !errors.Is(err, ydoc.ErrTransactionFreed) {
			s.log.Warn("could not free transaction", "txn", id, "error", err)
		}
	}
	for _, id := range docs {
		_ = s.releaseDoc(uint64(id))
	}
	s.log.Debug("session closed", "freed", freed, "subscriptions", len(subs), "docs", len(docs))
}
