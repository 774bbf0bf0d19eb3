package ydoc

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/ydoc/value"
)

func scalar(s string) Value {
	return Value{Kind: KindScalar, Scalar: value.String(s)}
}

func TestTextObserveAndFormat(t *testing.T) {
	d := New(Options{})
	x := mustText(t, d, "t")
	var got [][]TextDelta
	sub := x.Observe(func(_ *Transaction, ds []TextDelta) { got = append(got, ds) })
	defer sub.Dispose()

	tx := d.Begin()
	check(t, x.Insert(tx, 0, "hello world"))
	check(t, tx.Free())

	tx = d.Begin()
	check(t, x.Format(tx, 0, 5, Attrs{"bold": value.Bool(true)}))
	check(t, tx.Free())

	want := [][]TextDelta{
		{{Op: ChangeInsert, Insert: scalar("hello world"), Len: 11}},
		{{Op: ChangeRetain, Len: 5, Attrs: Attrs{"bold": value.Bool(true)}}},
	}
	if diff := cmp.Diff(want, got, anyEqual); diff != "" {
		t.Errorf("deltas (-want +got):\n%s", diff)
	}

	tx = d.Begin()
	defer tx.Free()
	chunks, err := x.Diff(tx)
	check(t, err)
	wantChunks := []TextChunk{
		{Insert: scalar("hello"), Attrs: Attrs{"bold": value.Bool(true)}},
		{Insert: scalar(" world")},
	}
	if diff := cmp.Diff(wantChunks, chunks, anyEqual); diff != "" {
		t.Errorf("chunks (-want +got):\n%s", diff)
	}
}

func TestTextApplyDelta(t *testing.T) {
	d := New(Options{})
	x := mustText(t, d, "t")
	tx := d.Begin()
	defer tx.Free()
	check(t, x.ApplyDelta(tx, []TextDelta{{Op: ChangeInsert, Insert: scalar("abc")}}))
	check(t, x.ApplyDelta(tx, []TextDelta{
		{Op: ChangeRetain, Len: 1},
		{Op: ChangeDelete, Len: 1},
		{Op: ChangeInsert, Insert: scalar("X"), Attrs: Attrs{"i": value.Bool(true)}},
	}))
	s, err := x.String(tx)
	check(t, err)
	if s != "aXc" {
		t.Fatalf("got %q", s)
	}
	chunks, err := x.Diff(tx)
	check(t, err)
	want := []TextChunk{
		{Insert: scalar("a")},
		{Insert: scalar("X"), Attrs: Attrs{"i": value.Bool(true)}},
		{Insert: scalar("c")},
	}
	if diff := cmp.Diff(want, chunks, anyEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	bad := []TextDelta{
		{Op: ChangeInsert, Insert: scalar("zz")},
		{Op: ChangeRetain, Len: 2},
		{Op: ChangeDelete, Len: 10},
	}
	if err := x.ApplyDelta(tx, bad); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("deleting past the end: %v", err)
	}
	if s, _ := x.String(tx); s != "aXc" {
		t.Errorf("rejected deltas left %q", s)
	}
}

func TestTextSetString(t *testing.T) {
	d := New(Options{})
	x := mustText(t, d, "t")
	tx := d.Begin()
	defer tx.Free()
	check(t, x.Insert(tx, 0, "hello world"))
	check(t, x.SetString(tx, "hello there world!"))
	s, err := x.String(tx)
	check(t, err)
	if s != "hello there world!" {
		t.Errorf("got %q", s)
	}
	check(t, x.SetString(tx, ""))
	n, err := x.Len(tx)
	check(t, err)
	if n != 0 {
		t.Errorf("len %d after clearing", n)
	}
}

func TestTextUTF16(t *testing.T) {
	d := New(Options{})
	x := mustText(t, d, "t")
	tx := d.Begin()
	defer tx.Free()
	check(t, x.Insert(tx, 0, "a😀b"))
	n, err := x.Len(tx)
	check(t, err)
	if n != 4 {
		t.Errorf("len %d, want 4", n)
	}
	check(t, x.Insert(tx, 3, "c"))
	check(t, x.InsertEmbed(tx, 0, `{"img":"x.png"}`))
	check(t, x.Append(tx, "!"))
	s, err := x.String(tx)
	check(t, err)
	if s != "a😀cb!" {
		t.Errorf("got %q", s)
	}
	if n, _ := x.Len(tx); n != 7 {
		t.Errorf("len %d with embed, want 7", n)
	}
	check(t, x.RemoveRange(tx, 0, 1))
	if s, _ := x.String(tx); s != "a😀cb!" {
		t.Errorf("removing the embed changed the text: %q", s)
	}
}
