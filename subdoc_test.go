package ydoc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSubdocLifecycle(t *testing.T) {
	d := New(Options{})
	m := mustMap(t, d, "m")
	var events []SubdocsEvent
	sub := d.ObserveSubdocs(func(ev SubdocsEvent) { events = append(events, ev) })
	defer sub.Dispose()

	tx := d.Begin()
	sd, err := m.InsertDoc(tx, "child", Options{GUID: "child-guid"})
	check(t, err)
	check(t, tx.Free())
	if len(events) != 1 || len(events[0].Added) != 1 || events[0].Added[0] != sd {
		t.Fatalf("add event: %+v", events)
	}
	if sd.ParentDoc() != d || sd.GUID() != "child-guid" {
		t.Fatalf("subdocument %s parent %v", sd.GUID(), sd.ParentDoc())
	}
	if sd.ShouldLoad() {
		t.Error("subdocument loads without a request")
	}

	stx := sd.Begin()
	st := mustText(t, sd, "t")
	check(t, st.Insert(stx, 0, "inside"))
	check(t, stx.Free())

	tx = d.Begin()
	got, err := m.GetDoc(tx, "child")
	check(t, err)
	if !got.SameAs(sd) {
		t.Error("GetDoc returned another document")
	}
	guids, err := tx.SubdocGUIDs()
	check(t, err)
	if diff := cmp.Diff([]string{"child-guid"}, guids); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	check(t, sd.Load(tx))
	check(t, tx.Free())
	if len(events) != 2 || len(events[1].Loaded) != 1 || !events[1].Loaded[0].SameAs(sd) {
		t.Fatalf("load event: %+v", events)
	}
	if !sd.ShouldLoad() {
		t.Error("Load did not mark the subdocument")
	}

	if err := sd.Destroy(nil); !errors.Is(err, ErrWrongDocument) {
		t.Errorf("Destroy without parent transaction: %v", err)
	}
	destroyed := false
	dsub := sd.ObserveDestroy(func() { destroyed = true })
	defer dsub.Dispose()
	tx = d.Begin()
	check(t, sd.Destroy(tx))
	check(t, tx.Free())
	if !destroyed || !sd.Destroyed() {
		t.Error("destroy observers did not run")
	}
	if len(events) != 3 || len(events[2].Removed) != 1 || !events[2].Removed[0].SameAs(sd) || len(events[2].Added) != 1 {
		t.Fatalf("destroy event: %+v", events)
	}

	stx = sd.Begin()
	if _, err := st.Len(stx); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("handle into destroyed subdocument: %v", err)
	}
	check(t, stx.Free())

	tx = d.Begin()
	defer tx.Free()
	fresh, err := m.GetDoc(tx, "child")
	check(t, err)
	if fresh.SameAs(sd) || fresh.GUID() != "child-guid" {
		t.Errorf("replacement %s same=%v", fresh.GUID(), fresh.SameAs(sd))
	}
}

func TestSubdocSurvivesRoundTrip(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "docs")
	tx := d.Begin()
	_, err := a.InsertDoc(tx, 0, Options{GUID: "g1", AutoLoad: true})
	check(t, err)
	u, err := tx.EncodeStateAsUpdate(nil)
	check(t, err)
	check(t, tx.Free())

	peer := New(Options{})
	var added []*Doc
	sub := peer.ObserveSubdocs(func(ev SubdocsEvent) { added = append(added, ev.Added...) })
	defer sub.Dispose()
	ptx := peer.Begin()
	check(t, ptx.ApplyUpdate(u))
	check(t, ptx.Free())
	if len(added) != 1 || added[0].GUID() != "g1" || !added[0].AutoLoad() {
		t.Fatalf("peer subdocs: %v", added)
	}
	ptx = peer.Begin()
	defer ptx.Free()
	js, err := ptx.ToJSON()
	check(t, err)
	if js != `{"docs":[null]}` {
		t.Errorf("got %s", js)
	}
}
