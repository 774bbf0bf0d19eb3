package persist

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/signadot/ydoc"
)

// Origin tags transactions that replay stored updates. Updates carrying
// it are not appended again.
var Origin = []byte("ydoc/persist")

// Binding keeps a document and its stored log in step. The binding must
// stay reachable for as long as updates should be stored.
type Binding struct {
	store *Store
	doc   *ydoc.Doc
	guid  string
	log   *slog.Logger
	sub   *ydoc.Subscription
}

// Bind replays what s holds for d into d, then appends every later
// update of d that did not come from s.
func (s *Store) Bind(d *ydoc.Doc) (*Binding, error) {
	guid := d.GUID()
	ups, err := s.Load(guid)
	if err != nil {
		return nil, err
	}
	if err := replay(d, ups); err != nil {
		return nil, fmt.Errorf("bind %s: %w", guid, err)
	}
	b := &Binding{
		store: s,
		doc:   d,
		guid:  guid,
		log:   s.log.With("guid", guid),
	}
	b.sub = d.ObserveUpdate(b.onUpdate)
	b.log.Debug("bound", "records", len(ups))
	return b, nil
}

func replay(d *ydoc.Doc, ups [][]byte) error {
	if len(ups) == 0 {
		return nil
	}
	tx := d.BeginWithOrigin(Origin)
	defer tx.Free()
	for i, u := range ups {
		if err := tx.ApplyUpdate(u); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}

func (b *Binding) onUpdate(update, origin []byte) {
	if bytes.Equal(origin, Origin) {
		return
	}
	if err := b.store.Append(b.guid, update); err != nil {
		b.log.Error("could not store update", "error", err)
	}
}

// Compact replaces the stored log of the document with a snapshot of
// its current state.
func (b *Binding) Compact() error {
	tx := b.doc.Begin()
	defer tx.Free()
	snap, err := tx.EncodeStateAsUpdate(nil)
	if err != nil {
		return err
	}
	return b.store.Compact(b.guid, snap)
}

// Close stops storing updates.
func (b *Binding) Close() {
	b.sub.Dispose()
}
