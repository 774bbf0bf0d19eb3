package ydoc

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/signadot/ydoc/guard"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
	"github.com/signadot/ydoc/value"
)

// TxState is the lifecycle state of a Transaction.
type TxState int32

const (
	TxActive TxState = iota
	TxCommitting
	TxFreed
)

var txStateNames = map[TxState]string{
	TxActive:     "active",
	TxCommitting: "committing",
	TxFreed:      "freed",
}

func (s TxState) String() string {
	if n, ok := txStateNames[s]; ok {
		return n
	}
	return "unknown"
}

// owner is the token a transaction holds its document's guard with.
type owner struct{ _ byte }

// Transaction is a read/write window on one document. It holds the
// document from Begin until Free. A Transaction may be handed between
// goroutines but must not be used by several at once.
type Transaction struct {
	doc    *Doc
	owner  *owner
	state  *atomic.Int32
	guard  *guard.Guard[*store.Store]
	txn    *store.Txn
	origin []byte
	// delivery marks the transaction deferred observers run in.
	delivery bool

	cleanup runtime.Cleanup
}

type leaked struct {
	cell  *guard.Cell[*store.Store]
	owner *owner
	state *atomic.Int32
	log   *slog.Logger
}

func releaseLeaked(l leaked) {
	if TxState(l.state.Load()) == TxFreed {
		return
	}
	n := l.cell.Release(l.owner)
	txLeaked.Inc()
	l.log.Warn("transaction collected without Free, releasing document", "depth", n)
}

// Begin opens a transaction, waiting while another transaction holds
// the document.
func (d *Doc) Begin() *Transaction {
	return d.BeginWithOrigin(nil)
}

// BeginWithOrigin is Begin with an origin tagging every change made in
// the transaction.
func (d *Doc) BeginWithOrigin(origin []byte) *Transaction {
	tx, _ := d.BeginContext(context.Background(), origin)
	return tx
}

// BeginContext is BeginWithOrigin but gives up waiting when ctx is done.
func (d *Doc) BeginContext(ctx context.Context, origin []byte) (*Transaction, error) {
	o := &owner{}
	start := time.Now()
	g, err := d.cell.LockContext(ctx, o)
	lockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("begin transaction on %s: %w", d.GUID(), err)
	}
	origin = slices.Clone(origin)
	st := &atomic.Int32{}
	tx := &Transaction{
		doc:    d,
		owner:  o,
		state:  st,
		guard:  g,
		txn:    g.Value().Begin(origin),
		origin: origin,
	}
	tx.cleanup = runtime.AddCleanup(tx, releaseLeaked, leaked{cell: d.cell, owner: o, state: st, log: d.log})
	txBegun.Inc()
	return tx, nil
}

// Doc returns the document of tx.
func (tx *Transaction) Doc() *Doc { return tx.doc }

// Origin returns the origin tx was opened with.
func (tx *Transaction) Origin() []byte { return tx.origin }

// State returns the lifecycle state of tx.
func (tx *Transaction) State() TxState { return TxState(tx.state.Load()) }

// enter re-acquires d for tx. Every operation goes through it.
func (tx *Transaction) enter(d *Doc, write bool) (*store.Store, func(), error) {
	if tx == nil {
		return nil, nil, ErrTransactionFreed
	}
	switch TxState(tx.state.Load()) {
	case TxFreed:
		return nil, nil, ErrTransactionFreed
	case TxCommitting:
		if write {
			return nil, nil, ErrReadOnly
		}
	}
	if tx.doc != d {
		return nil, nil, fmt.Errorf("%w: %s, not %s", ErrWrongDocument, tx.doc.GUID(), d.GUID())
	}
	g := d.cell.Lock(tx.owner)
	return g.Value(), g.Unlock, nil
}

// open enters d and resolves the branch of a facade.
func (tx *Transaction) open(d *Doc, id handle.ID, write bool) (*store.Store, *store.Branch, func(), error) {
	s, release, err := tx.enter(d, write)
	if err != nil {
		return nil, nil, nil, err
	}
	ref, err := branches.Get(id)
	if err != nil {
		release()
		return nil, nil, nil, fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if ref.doc != d {
		release()
		return nil, nil, nil, fmt.Errorf("%w: handle %s", ErrStaleHandle, id)
	}
	return s, ref.b, release, nil
}

// Free commits tx: it computes the change records of the transaction,
// releases the document and delivers the records to observers. Freeing
// a transaction that is already freed, or committing, does nothing.
func (tx *Transaction) Free() error {
	if tx == nil || !tx.state.CompareAndSwap(int32(TxActive), int32(TxCommitting)) {
		return nil
	}
	d := tx.doc
	start := time.Now()
	var b *batch
	func() {
		defer tx.release()
		d.captureUndo(tx)
		b = d.collect(tx)
		if d.opts.Dispatch == DispatchInline {
			b.run(tx)
		}
	}()
	commitDuration.Observe(time.Since(start).Seconds())
	if d.opts.Dispatch == DispatchDeferred && !b.empty() {
		ftx := d.Begin()
		ftx.delivery = true
		defer ftx.Free()
		b.run(ftx)
	}
	return nil
}

func (tx *Transaction) release() {
	tx.state.Store(int32(TxFreed))
	tx.cleanup.Stop()
	tx.doc.cell.Release(tx.owner)
}

// EncodeUpdate encodes the changes made so far by tx.
func (tx *Transaction) EncodeUpdate() ([]byte, error) {
	_, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return tx.txn.EncodeUpdate(), nil
}

// StateVector encodes the state vector of the document.
func (tx *Transaction) StateVector() ([]byte, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.StateVector().Encode(), nil
}

// EncodeDiff encodes what the document holds beyond the encoded state
// vector sv.
func (tx *Transaction) EncodeDiff(sv []byte) ([]byte, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	u, err := s.EncodeDiff(sv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return u, nil
}

// EncodeStateAsUpdate encodes the document beyond the encoded state
// vector sv, or the whole document when sv is empty.
func (tx *Transaction) EncodeStateAsUpdate(sv []byte) ([]byte, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	var v store.StateVector
	if len(sv) > 0 {
		if v, err = store.DecodeStateVector(sv); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
		}
	}
	return s.EncodeStateAsUpdate(v), nil
}

// ApplyUpdate integrates an encoded update. A malformed update is
// rejected with ErrDecoding and leaves the document unchanged.
func (tx *Transaction) ApplyUpdate(update []byte) error {
	_, release, err := tx.enter(tx.doc, true)
	if err != nil {
		return err
	}
	defer release()
	if err := tx.txn.ApplyUpdate(update); err != nil {
		updatesApplied.WithLabelValues("rejected").Inc()
		return fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	updatesApplied.WithLabelValues("ok").Inc()
	return nil
}

func (tx *Transaction) lookupRoot(name string, k store.TypeRef) (*store.Branch, bool, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, false, err
	}
	defer release()
	if s.LookupRoot(name) == nil {
		return nil, false, nil
	}
	b, err := tx.doc.root(name, k)
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// GetArray returns the root array called name if it exists.
func (tx *Transaction) GetArray(name string) (*Array, bool, error) {
	b, ok, err := tx.lookupRoot(name, store.TypeArray)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &Array{doc: tx.doc, id: tx.doc.handleFor(b)}, true, nil
}

// GetMap returns the root map called name if it exists.
func (tx *Transaction) GetMap(name string) (*Map, bool, error) {
	b, ok, err := tx.lookupRoot(name, store.TypeMap)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &Map{doc: tx.doc, id: tx.doc.handleFor(b)}, true, nil
}

// GetText returns the root text called name if it exists.
func (tx *Transaction) GetText(name string) (*Text, bool, error) {
	b, ok, err := tx.lookupRoot(name, store.TypeText)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &Text{doc: tx.doc, id: tx.doc.handleFor(b)}, true, nil
}

// RootNames lists the roots of the document.
func (tx *Transaction) RootNames() ([]string, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	return s.RootNames(), nil
}

// Root returns the root called name as a Value, whatever its kind.
func (tx *Transaction) Root(name string) (Value, bool, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return Value{}, false, err
	}
	defer release()
	b := s.LookupRoot(name)
	if b == nil {
		return Value{}, false, nil
	}
	return tx.doc.branchValue(b), true, nil
}

// Subdocs returns the subdocuments currently held in the document.
func (tx *Transaction) Subdocs() ([]*Doc, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	cs := s.Subdocs()
	res := make([]*Doc, len(cs))
	for i, c := range cs {
		res[i] = tx.doc.subdoc(c)
	}
	return res, nil
}

// SubdocGUIDs returns the GUIDs of the subdocuments in the document.
func (tx *Transaction) SubdocGUIDs() ([]string, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return nil, err
	}
	defer release()
	var res []string
	for _, c := range s.Subdocs() {
		res = append(res, c.GUID)
	}
	return res, nil
}

// ToJSON renders every root of the document as one JSON object.
func (tx *Transaction) ToJSON() (string, error) {
	s, release, err := tx.enter(tx.doc, false)
	if err != nil {
		return "", err
	}
	defer release()
	m := map[string]value.Any{}
	for _, name := range s.RootNames() {
		m[name] = deepJSON(s, store.Out{Kind: store.OutBranch, Branch: s.LookupRoot(name)})
	}
	return encodeJSON(value.Map(m))
}
