package ydoc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
)

// UndoOptions configures an UndoManager.
type UndoOptions struct {
	// CaptureTimeout merges a change made within this long of the
	// previous one into the same undo step. Zero keeps every
	// transaction a step of its own.
	CaptureTimeout time.Duration
	// TrackedOrigins are the transaction origins whose changes are
	// captured besides those of transactions without origin.
	TrackedOrigins [][]byte
}

type undoMode int32

const (
	undoIdle undoMode = iota
	undoUndoing
	undoRedoing
)

// stackItem is one undo step: what it inserted and what it deleted.
type stackItem struct {
	ins, del store.DeleteSet
}

// UndoManager reverts and reapplies the changes made to a set of
// collections and everything nested in them. Its scope is given as raw
// handles, so any facade over a tracked node shares its history.
type UndoManager struct {
	doc     *Doc
	origin  []byte
	timeout time.Duration
	log     *slog.Logger

	mode atomic.Int32
	// serializes Undo and Redo
	popMu sync.Mutex

	// must hold mu
	mu      sync.Mutex
	scope   []handle.ID
	origins [][]byte
	undo    []*stackItem
	redo    []*stackItem
	last    time.Time
	stopped bool
	closed  bool
}

// NewUndoManager tracks the collections identified by scope, which must
// belong to d.
func (d *Doc) NewUndoManager(scope []handle.ID, opts UndoOptions) (*UndoManager, error) {
	if len(scope) == 0 {
		return nil, ErrEmptyScope
	}
	um := &UndoManager{
		doc:     d,
		origin:  []byte("ydoc/undo/" + uuid.NewString()),
		timeout: opts.CaptureTimeout,
		log:     d.log.With("component", "undo"),
	}
	for _, o := range opts.TrackedOrigins {
		um.origins = append(um.origins, slices.Clone(o))
	}
	for _, id := range scope {
		if err := um.ExpandScope(id); err != nil {
			return nil, err
		}
	}
	d.undoMu.Lock()
	d.undos = append(d.undos, um)
	d.undoMu.Unlock()
	return um, nil
}

// ExpandScope adds the collection id to the tracked scope.
func (um *UndoManager) ExpandScope(id handle.ID) error {
	ref, err := branches.Get(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStaleHandle, err)
	}
	if ref.doc != um.doc {
		return fmt.Errorf("%w: handle %s is in %s, not %s", ErrWrongDocument, id, ref.doc.GUID(), um.doc.GUID())
	}
	um.mu.Lock()
	defer um.mu.Unlock()
	if !slices.Contains(um.scope, id) {
		um.scope = append(um.scope, id)
	}
	return nil
}

// IncludeOrigin captures the changes of transactions opened with
// origin from now on.
func (um *UndoManager) IncludeOrigin(origin []byte) {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.origins = append(um.origins, slices.Clone(origin))
}

// Origin is the origin of the transactions Undo and Redo run in.
func (um *UndoManager) Origin() []byte { return um.origin }

func (um *UndoManager) tracks(origin []byte) bool {
	if len(origin) == 0 {
		return true
	}
	return slices.ContainsFunc(um.origins, func(o []byte) bool { return bytes.Equal(o, origin) })
}

// storeScope resolves the tracked handles. Handles gone stale, as after
// Destroy, drop out. The caller holds um.mu.
func (um *UndoManager) storeScope() store.Scope {
	sc := store.Scope{}
	for _, id := range um.scope {
		if ref, err := branches.Get(id); err == nil && ref.doc == um.doc {
			sc[ref.b] = struct{}{}
		}
	}
	return sc
}

// capture records the changes of tx. The caller holds the document.
func (um *UndoManager) capture(tx *Transaction) {
	mode := undoMode(um.mode.Load())
	own := mode != undoIdle && bytes.Equal(tx.origin, um.origin)
	um.mu.Lock()
	defer um.mu.Unlock()
	if um.closed || (!own && !um.tracks(tx.origin)) {
		return
	}
	ins, del := tx.txn.Capture(um.storeScope())
	if ins.Empty() && del.Empty() {
		return
	}
	item := &stackItem{ins: ins, del: del}
	switch {
	case own && mode == undoUndoing:
		um.redo = append(um.redo, item)
	case own && mode == undoRedoing:
		um.undo = append(um.undo, item)
	default:
		now := time.Now()
		if n := len(um.undo); n > 0 && um.timeout > 0 && !um.stopped && now.Sub(um.last) < um.timeout {
			top := um.undo[n-1]
			top.ins.Merge(ins)
			top.del.Merge(del)
			top.ins.Normalize()
			top.del.Normalize()
		} else {
			um.undo = append(um.undo, item)
		}
		um.last, um.stopped = now, false
		um.redo = nil
	}
}

// Undo reverts the latest undo step that still changes the document,
// and reports whether one did. It opens its own transaction, so the
// calling goroutine must not hold one on the document.
func (um *UndoManager) Undo(ctx context.Context) (bool, error) {
	return um.pop(ctx, undoUndoing)
}

// Redo reapplies the latest undone step.
func (um *UndoManager) Redo(ctx context.Context) (bool, error) {
	return um.pop(ctx, undoRedoing)
}

func (um *UndoManager) pop(ctx context.Context, mode undoMode) (bool, error) {
	um.popMu.Lock()
	defer um.popMu.Unlock()
	tx, err := um.doc.BeginContext(ctx, um.origin)
	if err != nil {
		return false, err
	}
	um.mode.Store(int32(mode))
	defer um.mode.Store(int32(undoIdle))

	changed := false
	um.mu.Lock()
	stack := &um.undo
	if mode == undoRedoing {
		stack = &um.redo
	}
	sc := um.storeScope()
	steps := 0
	for n := len(*stack); n > 0 && !changed; n = len(*stack) {
		item := (*stack)[n-1]
		*stack = (*stack)[:n-1]
		changed = tx.txn.Revert(sc, item.ins, item.del)
		steps++
	}
	closed := um.closed
	um.mu.Unlock()
	if closed {
		tx.Free()
		return false, nil
	}
	um.log.Debug("pop", "undo", mode == undoUndoing, "steps", steps, "changed", changed)
	return changed, tx.Free()
}

// CanUndo reports whether there are undo steps.
func (um *UndoManager) CanUndo() bool {
	um.mu.Lock()
	defer um.mu.Unlock()
	return len(um.undo) > 0
}

// CanRedo reports whether there are redo steps.
func (um *UndoManager) CanRedo() bool {
	um.mu.Lock()
	defer um.mu.Unlock()
	return len(um.redo) > 0
}

// StopCapturing makes the next change a new undo step even within the
// capture timeout.
func (um *UndoManager) StopCapturing() {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.stopped = true
}

// Clear drops both stacks.
func (um *UndoManager) Clear() {
	um.mu.Lock()
	defer um.mu.Unlock()
	um.undo, um.redo = nil, nil
}

// Close stops tracking and drops the history.
func (um *UndoManager) Close() {
	um.mu.Lock()
	um.closed = true
	um.undo, um.redo = nil, nil
	um.mu.Unlock()
	d := um.doc
	d.undoMu.Lock()
	defer d.undoMu.Unlock()
	d.undos = slices.DeleteFunc(d.undos, func(x *UndoManager) bool { return x == um })
}

// captureUndo lets every undo manager of d record tx. The caller holds
// d.
func (d *Doc) captureUndo(tx *Transaction) {
	d.undoMu.Lock()
	ums := slices.Clone(d.undos)
	d.undoMu.Unlock()
	for _, um := range ums {
		um.capture(tx)
	}
}
