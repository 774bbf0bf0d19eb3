package server

import (
	"context"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/system/hostd/api"
	"go.lsp.dev/jsonrpc2"
)

// observe subscribes the client to a topic. Records reach it as event
// notifications written before the reply that commits the transaction
// producing them.
func observe(_ context.Context, s *session, p *api.ObserveParams) (*api.SubscriptionParams, error) {
	hd, err := s.doc(p.Doc)
	if err != nil {
		return nil, err
	}
	d := hd.doc
	ref := &subscription{topic: p.Topic}
	id := s.subs.Alloc(ref)
	sid := uint64(id)
	notify := func(ev *api.EventParams) {
		ev.Subscription = sid
		ev.Topic = p.Topic
		s.notify(ev)
	}

	var sub *ydoc.Subscription
	switch p.Topic {
	case api.TopicUpdate:
		sub = d.ObserveUpdate(func(update, origin []byte) {
			notify(&api.EventParams{Update: update, Origin: origin})
		})
	case api.TopicAfter:
		sub = d.ObserveAfterTransaction(func(tx *ydoc.Transaction) {
			notify(&api.EventParams{Origin: tx.Origin()})
		})
	case api.TopicSubdocs:
		sub = d.ObserveSubdocs(func(ev ydoc.SubdocsEvent) {
			notify(&api.EventParams{
				Added:   guids(ev.Added),
				Removed: guids(ev.Removed),
				Loaded:  guids(ev.Loaded),
			})
		})
	case api.TopicDestroy:
		sub = d.ObserveDestroy(func() {
			notify(&api.EventParams{})
		})
	case api.TopicArray:
		var a *ydoc.Array
		if a, err = ydoc.ArrayFromHandle(handle.ID(p.Handle)); err == nil {
			sub = a.Observe(func(tx *ydoc.Transaction, changes []ydoc.ArrayChange) {
				notify(&api.EventParams{Origin: tx.Origin(), Changes: arrayChanges(changes)})
			})
		}
	case api.TopicMap:
		var m *ydoc.Map
		if m, err = ydoc.MapFromHandle(handle.ID(p.Handle)); err == nil {
			sub = m.Observe(func(tx *ydoc.Transaction, changes []ydoc.MapChange) {
				notify(&api.EventParams{Origin: tx.Origin(), Changes: mapChanges(changes)})
			})
		}
	case api.TopicText:
		var t *ydoc.Text
		if t, err = ydoc.TextFromHandle(handle.ID(p.Handle)); err == nil {
			sub = t.Observe(func(tx *ydoc.Transaction, deltas []ydoc.TextDelta) {
				notify(&api.EventParams{Origin: tx.Origin(), Changes: textChanges(deltas)})
			})
		}
	default:
		err = jsonrpc2.Errorf(jsonrpc2.InvalidParams, "unknown topic %q", p.Topic)
	}
	if err != nil {
		s.subs.Release(id)
		return nil, err
	}

	s.mu.Lock()
	ref.sub = sub
	closed := s.closed
	if !closed {
		s.subIDs[id] = struct{}{}
	}
	s.mu.Unlock()
	if closed {
		s.subs.Release(id)
		sub.Dispose()
		return nil, jsonrpc2.ErrInternal
	}
	return &api.SubscriptionParams{Subscription: sid}, nil
}

func subscriptionDispose(_ context.Context, s *session, p *api.SubscriptionParams) (any, error) {
	return nil, s.disposeSub(p.Subscription)
}

func (s *session) notify(ev *api.EventParams) {
	if err := s.conn.Notify(context.Background(), api.Event, ev); err != nil {
		s.log.Debug("could not deliver event", "topic", ev.Topic, "error", err)
	}
}

func guids(ds []*ydoc.Doc) []string {
	if len(ds) == 0 {
		return nil
	}
	res := make([]string, len(ds))
	for i, d := range ds {
		res[i] = d.GUID()
	}
	return res
}

func arrayChanges(cs []ydoc.ArrayChange) []api.Change {
	res := make([]api.Change, 0, len(cs))
	for _, c := range cs {
		ch := api.Change{Op: c.Op.String(), Len: c.Len}
		for _, v := range c.Values {
			ch.Values = append(ch.Values, scalarOrNull(v))
		}
		res = append(res, ch)
	}
	return res
}

func mapChanges(cs []ydoc.MapChange) []api.Change {
	res := make([]api.Change, 0, len(cs))
	for _, c := range cs {
		ch := api.Change{Op: c.Op.String(), Key: c.Key}
		if c.Op != ydoc.MapInserted {
			ch.Old = c.Old.String()
		}
		if c.Op != ydoc.MapRemoved {
			ch.New = c.New.String()
		}
		res = append(res, ch)
	}
	return res
}

func textChanges(ds []ydoc.TextDelta) []api.Change {
	res := make([]api.Change, 0, len(ds))
	for _, d := range ds {
		ch := api.Change{Op: d.Op.String(), Len: d.Len, Attrs: encodeAttrs(d.Attrs)}
		if d.Op == ydoc.ChangeInsert {
			ch.Insert, ch.Embed = insertText(d.Insert)
		}
		res = append(res, ch)
	}
	return res
}
