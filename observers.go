package ydoc

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/internal/store"
)

type topicKind int

const (
	topicBranch topicKind = iota
	topicUpdate
	topicAfter
	topicSubdocs
	topicDestroy
)

type topic struct {
	kind topicKind
	id   handle.ID
}

type observer struct {
	fn   any
	live atomic.Bool
}

// hub holds the observers of one document in registration order.
// It is never held while observers run.
type hub struct {
	mu   sync.RWMutex
	subs map[topic][]*observer
}

func newHub() *hub {
	return &hub{subs: map[topic][]*observer{}}
}

func (h *hub) add(t topic, fn any) *Subscription {
	o := &observer{fn: fn}
	o.live.Store(true)
	h.mu.Lock()
	h.subs[t] = append(h.subs[t], o)
	h.mu.Unlock()
	observersActive.Inc()
	return newSubscription(func() { h.remove(t, o) })
}

func (h *hub) addBranch(id handle.ID, fn any) *Subscription {
	return h.add(topic{kind: topicBranch, id: id}, fn)
}

func (h *hub) remove(t topic, o *observer) {
	if !o.live.Swap(false) {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[t]
	if i := slices.Index(list, o); i >= 0 {
		list = slices.Delete(slices.Clone(list), i, i+1)
	}
	if len(list) == 0 {
		delete(h.subs, t)
	} else {
		h.subs[t] = list
	}
	observersActive.Dec()
}

func (h *hub) snapshot(t topic) []*observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.subs[t])
}

func (h *hub) has(t topic) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[t]) > 0
}

func (h *hub) fireDestroy() {
	for _, o := range h.snapshot(topic{kind: topicDestroy}) {
		if fn, ok := o.fn.(func()); ok && o.live.Load() {
			observerCalls.WithLabelValues("destroy").Inc()
			fn()
		}
	}
}

// ObserveUpdate registers fn for the encoded update of every
// transaction that changed the document, with the transaction's
// origin.
func (d *Doc) ObserveUpdate(fn func(update, origin []byte)) *Subscription {
	return d.obs.add(topic{kind: topicUpdate}, fn)
}

// ObserveAfterTransaction registers fn to run after every transaction.
func (d *Doc) ObserveAfterTransaction(fn func(tx *Transaction)) *Subscription {
	return d.obs.add(topic{kind: topicAfter}, fn)
}

// ObserveSubdocs registers fn for subdocuments added, removed or loaded
// by a transaction.
func (d *Doc) ObserveSubdocs(fn func(SubdocsEvent)) *Subscription {
	return d.obs.add(topic{kind: topicSubdocs}, fn)
}

// ObserveDestroy registers fn to run when d is destroyed.
func (d *Doc) ObserveDestroy(fn func()) *Subscription {
	return d.obs.add(topic{kind: topicDestroy}, fn)
}

// batch is the observer work of one commit. Records are converted while
// the document is held; observers run later, from run.
type batch struct {
	fns []func(tx *Transaction)
}

func (b *batch) empty() bool { return len(b.fns) == 0 }

func (b *batch) add(o *observer, kind string, fn func(tx *Transaction)) {
	b.fns = append(b.fns, func(tx *Transaction) {
		// disposed by an earlier observer of the same commit
		if !o.live.Load() {
			return
		}
		observerCalls.WithLabelValues(kind).Inc()
		fn(tx)
	})
}

func (b *batch) run(tx *Transaction) {
	for _, fn := range b.fns {
		fn(tx)
	}
}

// collect computes the observer work of tx. The caller holds d.
func (d *Doc) collect(tx *Transaction) *batch {
	h := d.obs
	t := tx.txn
	b := &batch{}

	evs := t.Events(func(br *store.Branch) bool {
		id, ok := d.observedID(br)
		return ok && h.has(topic{kind: topicBranch, id: id})
	})
	for _, ev := range evs {
		id, _ := d.observedID(ev.Branch)
		obs := h.snapshot(topic{kind: topicBranch, id: id})
		switch ev.Branch.Kind() {
		case store.TypeArray:
			changes := d.arrayChanges(ev)
			for _, o := range obs {
				if fn, ok := o.fn.(func(*Transaction, []ArrayChange)); ok {
					b.add(o, "array", func(tx *Transaction) { fn(tx, changes) })
				}
			}
		case store.TypeMap:
			changes := mapChanges(ev)
			if len(changes) == 0 {
				continue
			}
			for _, o := range obs {
				if fn, ok := o.fn.(func(*Transaction, []MapChange)); ok {
					b.add(o, "map", func(tx *Transaction) { fn(tx, changes) })
				}
			}
		case store.TypeText:
			deltas := d.textDeltas(ev)
			for _, o := range obs {
				if fn, ok := o.fn.(func(*Transaction, []TextDelta)); ok {
					b.add(o, "text", func(tx *Transaction) { fn(tx, deltas) })
				}
			}
		}
	}

	// a delivery transaction only counts when observers wrote in it
	if !tx.delivery || t.HasChanges() {
		for _, o := range h.snapshot(topic{kind: topicAfter}) {
			if fn, ok := o.fn.(func(*Transaction)); ok {
				b.add(o, "after", fn)
			}
		}
	}

	if obs := h.snapshot(topic{kind: topicUpdate}); len(obs) > 0 && t.HasChanges() {
		u, origin := t.EncodeUpdate(), tx.origin
		for _, o := range obs {
			if fn, ok := o.fn.(func(update, origin []byte)); ok {
				b.add(o, "update", func(*Transaction) { fn(u, origin) })
			}
		}
	}

	if ev, ok := d.subdocsEvent(t); ok {
		for _, o := range h.snapshot(topic{kind: topicSubdocs}) {
			if fn, ok := o.fn.(func(SubdocsEvent)); ok {
				b.add(o, "subdocs", func(*Transaction) { fn(ev) })
			}
		}
	}
	return b
}

func (d *Doc) subdocsEvent(t *store.Txn) (SubdocsEvent, bool) {
	ch := t.Subdocs()
	if len(ch.Added)+len(ch.Removed)+len(ch.Loaded) == 0 {
		return SubdocsEvent{}, false
	}
	var ev SubdocsEvent
	for _, c := range ch.Added {
		ev.Added = append(ev.Added, d.subdoc(c))
	}
	for _, c := range ch.Loaded {
		ev.Loaded = append(ev.Loaded, d.subdoc(c))
	}
	for _, c := range ch.Removed {
		ev.Removed = append(ev.Removed, d.subdoc(c))
		d.forgetSubdoc(c.Sub)
	}
	return ev, true
}
