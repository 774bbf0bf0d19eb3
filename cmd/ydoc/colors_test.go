package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/value"
)

func TestWriteJSONPlain(t *testing.T) {
	v, err := value.FromJSON([]byte(`{"b":[1,"x\n"],"a":{},"c":null}`))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, nil); err != nil {
		t.Fatal(err)
	}
	want := `{
  "a": {},
  "b": [
    1,
    "x\n"
  ],
  "c": null
}
`
	if got := buf.String(); got != want {
		t.Errorf("got\n%s\nwant\n%s", got, want)
	}
}

func TestDocJSONAppliesFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	d := ydoc.New(ydoc.Options{})
	m, err := d.GetMap("m")
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for i, js := range []string{"1", "2"} {
		tx := d.Begin()
		if err := m.Set(tx, "k", js); err != nil {
			t.Fatal(err)
		}
		u, err := tx.EncodeUpdate()
		if err != nil {
			t.Fatal(err)
		}
		tx.Free()
		p := filepath.Join(dir, string(rune('a'+i)))
		if err := os.WriteFile(p, u, 0o600); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, p)
	}
	js, err := docJSON(paths)
	if err != nil {
		t.Fatal(err)
	}
	if js != `{"m":{"k":2}}` {
		t.Errorf("got %s", js)
	}
}

func TestLogOmitsTimeAndInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	log := newLog(&buf, false)
	log.Info("serving", "addr", "x")
	log.Debug("hidden")
	log.Warn("careful")
	want := "msg=serving addr=x\nlevel=WARN msg=careful\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
