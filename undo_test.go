package ydoc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/signadot/ydoc/handle"
)

func docJSON(t *testing.T, d *Doc) string {
	t.Helper()
	tx := d.Begin()
	defer tx.Free()
	js, err := tx.ToJSON()
	check(t, err)
	return js
}

func undo(t *testing.T, um *UndoManager) bool {
	t.Helper()
	ok, err := um.Undo(context.Background())
	check(t, err)
	return ok
}

func redo(t *testing.T, um *UndoManager) bool {
	t.Helper()
	ok, err := um.Redo(context.Background())
	check(t, err)
	return ok
}

func TestUndoRedoArray(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	um, err := d.NewUndoManager([]handle.ID{a.RawHandle()}, UndoOptions{})
	check(t, err)
	defer um.Close()

	tx := d.Begin()
	check(t, a.InsertRange(tx, 0, []string{"1", "2"}))
	check(t, tx.Free())
	tx = d.Begin()
	check(t, a.Remove(tx, 0))
	check(t, tx.Free())

	steps := []struct {
		name string
		op   func(*testing.T, *UndoManager) bool
		want string
	}{
		{"undo remove", undo, `{"a":[1,2]}`},
		{"redo remove", redo, `{"a":[2]}`},
		{"undo remove again", undo, `{"a":[1,2]}`},
		{"undo insert", undo, `{"a":[]}`},
		{"redo insert", redo, `{"a":[1,2]}`},
	}
	for _, st := range steps {
		if !st.op(t, um) {
			t.Fatalf("%s: nothing changed", st.name)
		}
		if got := docJSON(t, d); got != st.want {
			t.Fatalf("%s: got %s, want %s", st.name, got, st.want)
		}
	}
	if !um.CanRedo() {
		t.Error("remove cannot be redone")
	}
}

func TestUndoOnlyTrackedOrigins(t *testing.T) {
	d := New(Options{})
	m := mustMap(t, d, "m")
	um, err := d.NewUndoManager([]handle.ID{m.RawHandle()}, UndoOptions{})
	check(t, err)
	defer um.Close()

	set := func(origin, v string) {
		var tx *Transaction
		if origin == "" {
			tx = d.Begin()
		} else {
			tx = d.BeginWithOrigin([]byte(origin))
		}
		check(t, m.Set(tx, "k", v))
		check(t, tx.Free())
	}
	set("", "1")
	set("peer", "2")
	set("", "3")

	if !undo(t, um) {
		t.Fatal("nothing undone")
	}
	if got := docJSON(t, d); got != `{"m":{"k":2}}` {
		t.Errorf("after undo %s", got)
	}
	// the first value was overwritten by the peer
	if undo(t, um) {
		t.Errorf("undid an overwritten value: %s", docJSON(t, d))
	}
	if um.CanUndo() {
		t.Error("undo stack not drained")
	}

	um.IncludeOrigin([]byte("peer"))
	set("peer", "4")
	if !undo(t, um) {
		t.Fatal("tracked origin not captured")
	}
	if got := docJSON(t, d); got != `{"m":{"k":2}}` {
		t.Errorf("after undoing peer %s", got)
	}
}

func TestUndoRestoresNestedContent(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	um, err := d.NewUndoManager([]handle.ID{a.RawHandle()}, UndoOptions{})
	check(t, err)
	defer um.Close()

	tx := d.Begin()
	inner, err := a.InsertMap(tx, 0)
	check(t, err)
	check(t, inner.Set(tx, "x", "1"))
	x, err := a.InsertText(tx, 1)
	check(t, err)
	check(t, x.Insert(tx, 0, "hi"))
	check(t, tx.Free())
	tx = d.Begin()
	check(t, a.RemoveRange(tx, 0, 2))
	check(t, tx.Free())
	if got := docJSON(t, d); got != `{"a":[]}` {
		t.Fatalf("got %s", got)
	}

	if !undo(t, um) {
		t.Fatal("nothing undone")
	}
	if got := docJSON(t, d); got != `{"a":[{"x":1},"hi"]}` {
		t.Errorf("after undo %s", got)
	}
}

func TestUndoScopeByHandle(t *testing.T) {
	d := New(Options{})
	a, b := mustArray(t, d, "a"), mustArray(t, d, "b")
	um, err := d.NewUndoManager([]handle.ID{a.RawHandle()}, UndoOptions{})
	check(t, err)
	defer um.Close()

	tx := d.Begin()
	check(t, b.PushBack(tx, "1"))
	check(t, tx.Free())
	if um.CanUndo() {
		t.Fatal("change outside the scope captured")
	}

	// another facade over the same node shares the scope
	same, err := ArrayFromHandle(b.RawHandle())
	check(t, err)
	check(t, um.ExpandScope(same.RawHandle()))
	tx = d.Begin()
	check(t, b.PushBack(tx, "2"))
	check(t, tx.Free())
	if !undo(t, um) {
		t.Fatal("nothing undone")
	}
	if got := docJSON(t, d); got != `{"a":[],"b":[1]}` {
		t.Errorf("got %s", got)
	}

	other := New(Options{})
	if _, err := other.NewUndoManager([]handle.ID{a.RawHandle()}, UndoOptions{}); !errors.Is(err, ErrWrongDocument) {
		t.Errorf("foreign handle: %v", err)
	}
	if _, err := d.NewUndoManager(nil, UndoOptions{}); !errors.Is(err, ErrEmptyScope) {
		t.Errorf("empty scope: %v", err)
	}
}

func TestUndoCaptureTimeoutMergesSteps(t *testing.T) {
	d := New(Options{})
	x := mustText(t, d, "t")
	um, err := d.NewUndoManager([]handle.ID{x.RawHandle()}, UndoOptions{CaptureTimeout: time.Hour})
	check(t, err)
	defer um.Close()

	for i, s := range []string{"a", "b", "c"} {
		if i == 2 {
			um.StopCapturing()
		}
		tx := d.Begin()
		check(t, x.Insert(tx, i, s))
		check(t, tx.Free())
	}
	undo(t, um)
	if got := docJSON(t, d); got != `{"t":"ab"}` {
		t.Errorf("after first undo %s", got)
	}
	undo(t, um)
	if got := docJSON(t, d); got != `{"t":""}` {
		t.Errorf("after second undo %s", got)
	}
}
