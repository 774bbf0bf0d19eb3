package query

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/ydoc"
)

func fixture(t *testing.T) *ydoc.Doc {
	t.Helper()
	d := ydoc.New(ydoc.Options{})
	store, err := d.GetMap("store")
	if err != nil {
		t.Fatal(err)
	}
	notes, err := d.GetText("notes")
	if err != nil {
		t.Fatal(err)
	}
	tx := d.Begin()
	defer tx.Free()
	books, err := store.InsertArray(tx, "books")
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range []string{
		`{"title":"a","price":8}`,
		`{"title":"b","price":12}`,
		`{"title":"c","price":5}`,
	} {
		if err := books.PushBack(tx, b); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Set(tx, "owner", `"me"`); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(tx, "odd key", `1`); err != nil {
		t.Fatal(err)
	}
	if err := notes.Insert(tx, 0, "remember"); err != nil {
		t.Fatal(err)
	}
	return d
}

func TestEval(t *testing.T) {
	d := fixture(t)
	tests := []struct {
		path string
		want []string
	}{
		{"$.store.owner", []string{`"me"`}},
		{"$['store']['odd key']", []string{`1`}},
		{"$.store.'odd key'", []string{`1`}},
		{"$.notes", []string{`"remember"`}},
		{"$.store", []string{`{"books":null,"odd key":1,"owner":"me"}`}},
		{"$.store.books[1]", []string{`{"price":12,"title":"b"}`}},
		{"$.store.books[7]", []string{}},
		{"$.store.missing", []string{}},
		{"$.store.owner[0]", []string{}},
		{"$.store.books[*]", []string{
			`{"price":8,"title":"a"}`,
			`{"price":12,"title":"b"}`,
			`{"price":5,"title":"c"}`,
		}},
		{"$.store.books[?(@.price < 10)]", []string{
			`{"price":8,"title":"a"}`,
			`{"price":5,"title":"c"}`,
		}},
		{"$.store.books[?(@.title == 'b')]", []string{`{"price":12,"title":"b"}`}},
		{"$.store[?(key == 'owner')]", []string{`"me"`}},
		{"$.store.books[?(@.nope > 1)]", []string{}},
		{"$..owner", []string{`"me"`}},
		{"$[*]", []string{`"remember"`, `{"books":null,"odd key":1,"owner":"me"}`}},
	}
	tx := d.Begin()
	defer tx.Free()
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Eval(tx, tt.path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, p := range []string{
		"",
		"store",
		"$.",
		"$[",
		"$[x]",
		"$['open",
		"$[?(@.a > 1]",
		"$[?()]",
		"$[?(@.a >)]",
		"$x",
	} {
		if _, err := Parse(p); !errors.Is(err, ErrParse) {
			t.Errorf("Parse(%q): %v", p, err)
		}
	}
}

func TestPathString(t *testing.T) {
	for _, p := range []string{
		"$",
		"$.a.b",
		"$.a[3][*]",
		"$['odd key'].x",
		"$..x",
		"$.a[?(@.n > 1)]",
	} {
		parsed, err := Parse(p)
		if err != nil {
			t.Fatal(err)
		}
		if got := parsed.String(); got != p {
			t.Errorf("Parse(%q).String() = %q", p, got)
		}
	}
}

func TestEvalFreedTransaction(t *testing.T) {
	d := fixture(t)
	tx := d.Begin()
	tx.Free()
	if _, err := Eval(tx, "$.store"); !errors.Is(err, ydoc.ErrTransactionFreed) {
		t.Errorf("got %v", err)
	}
}
