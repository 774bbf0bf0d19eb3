package ydoc

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/ydoc/value"
	"golang.org/x/sync/errgroup"
)

var anyEqual = cmp.Comparer(func(a, b value.Any) bool { return a.Equal(b) })

func mustArray(t *testing.T, d *Doc, name string) *Array {
	t.Helper()
	a, err := d.GetArray(name)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func mustMap(t *testing.T, d *Doc, name string) *Map {
	t.Helper()
	m, err := d.GetMap(name)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustText(t *testing.T, d *Doc, name string) *Text {
	t.Helper()
	x, err := d.GetText(name)
	if err != nil {
		t.Fatal(err)
	}
	return x
}

func check(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertRangeVisibleAfterFree(t *testing.T) {
	d := New(Options{})
	t1 := d.Begin()
	a := mustArray(t, d, "a")
	check(t, a.InsertRange(t1, 0, []string{"1", "2", "3"}))
	n, err := a.Len(t1)
	check(t, err)
	if n != 3 {
		t.Fatalf("len %d, want 3", n)
	}
	check(t, t1.Free())

	t2 := d.Begin()
	defer t2.Free()
	got, err := a.ToSlice(t2)
	check(t, err)
	if diff := cmp.Diff([]string{"1", "2", "3"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMapUpdateReachesPeer(t *testing.T) {
	d1, d2 := New(Options{}), New(Options{})
	t1 := d1.Begin()
	check(t, mustMap(t, d1, "m").Set(t1, "x", "1"))
	u, err := t1.EncodeUpdate()
	check(t, err)
	check(t, t1.Free())

	t2 := d2.Begin()
	defer t2.Free()
	check(t, t2.ApplyUpdate(u))
	m, ok, err := t2.GetMap("m")
	check(t, err)
	if !ok {
		t.Fatal("map m missing on peer")
	}
	js, err := m.ToJSON(t2)
	check(t, err)
	if js != `{"x":1}` {
		t.Errorf("got %s", js)
	}
}

func TestHandleIdentity(t *testing.T) {
	d1, d2 := New(Options{}), New(Options{})
	a1, b1 := mustArray(t, d1, "foo"), mustArray(t, d1, "foo")
	if a1.RawHandle() != b1.RawHandle() {
		t.Errorf("same root gave %s and %s", a1.RawHandle(), b1.RawHandle())
	}
	if a2 := mustArray(t, d2, "foo"); a2.RawHandle() == a1.RawHandle() {
		t.Error("different documents share a handle")
	}
	if _, err := d1.GetMap("foo"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetMap on array root: %v", err)
	}

	tx := d1.Begin()
	inner, err := a1.InsertMap(tx, 0)
	check(t, err)
	again, err := a1.GetMap(tx, 0)
	check(t, err)
	if inner.RawHandle() != again.RawHandle() {
		t.Error("nested facades over one node differ")
	}
	check(t, tx.Free())

	got, err := ArrayFromHandle(a1.RawHandle())
	check(t, err)
	if got.Doc() != d1 {
		t.Error("handle resolved to another document")
	}
	if _, err := MapFromHandle(a1.RawHandle()); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("MapFromHandle on array: %v", err)
	}

	check(t, d1.Destroy(nil))
	if _, err := ArrayFromHandle(a1.RawHandle()); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("after destroy: %v", err)
	}
	tx = d1.Begin()
	defer tx.Free()
	if _, err := a1.Len(tx); !errors.Is(err, ErrStaleHandle) {
		t.Errorf("Len after destroy: %v", err)
	}
}

func TestFreedTransaction(t *testing.T) {
	d := New(Options{})
	a, m, x := mustArray(t, d, "a"), mustMap(t, d, "m"), mustText(t, d, "t")
	tx := d.Begin()
	check(t, tx.Free())
	check(t, tx.Free())
	if tx.State() != TxFreed {
		t.Fatalf("state %s", tx.State())
	}

	ops := map[string]func() error{
		"array.Len":           func() error { _, err := a.Len(tx); return err },
		"array.Insert":        func() error { return a.Insert(tx, 0, "1") },
		"array.Get":           func() error { _, err := a.Get(tx, 0); return err },
		"map.Set":             func() error { return m.Set(tx, "k", "1") },
		"map.Keys":            func() error { _, err := m.Keys(tx); return err },
		"text.Insert":         func() error { return x.Insert(tx, 0, "a") },
		"text.String":         func() error { _, err := x.String(tx); return err },
		"EncodeUpdate":        func() error { _, err := tx.EncodeUpdate(); return err },
		"StateVector":         func() error { _, err := tx.StateVector(); return err },
		"ApplyUpdate":         func() error { return tx.ApplyUpdate([]byte{0, 0}) },
		"EncodeStateAsUpdate": func() error { _, err := tx.EncodeStateAsUpdate(nil); return err },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrTransactionFreed) {
			t.Errorf("%s: got %v, want ErrTransactionFreed", name, err)
		}
	}
	var nilTx *Transaction
	if err := nilTx.Free(); err != nil {
		t.Errorf("nil Free: %v", err)
	}
}

func TestObserverReadsPostInsertState(t *testing.T) {
	for _, dispatch := range []Dispatch{DispatchDeferred, DispatchInline} {
		t.Run(dispatch.String(), func(t *testing.T) {
			d := New(Options{Dispatch: dispatch})
			a := mustArray(t, d, "a")
			var lens []int
			var writeErr error
			sub := a.Observe(func(tx *Transaction, changes []ArrayChange) {
				n, err := a.Len(tx)
				if err != nil {
					t.Errorf("observer Len: %v", err)
				}
				lens = append(lens, n)
				if dispatch == DispatchInline {
					writeErr = a.Insert(tx, 0, "0")
				}
			})
			defer sub.Dispose()

			tx := d.Begin()
			check(t, a.Insert(tx, 0, `"x"`))
			check(t, tx.Free())
			if diff := cmp.Diff([]int{1}, lens); diff != "" {
				t.Errorf("(-want +got):\n%s", diff)
			}
			if dispatch == DispatchInline && !errors.Is(writeErr, ErrReadOnly) {
				t.Errorf("inline write: %v", writeErr)
			}
			// the document is free again
			tx = d.Begin()
			check(t, tx.Free())
		})
	}
}

func TestArrayChangeRecords(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	tx := d.Begin()
	check(t, a.InsertRange(tx, 0, []string{"1", "2", "3"}))
	check(t, tx.Free())

	var got []ArrayChange
	sub := a.Observe(func(_ *Transaction, changes []ArrayChange) { got = changes })
	defer sub.Dispose()
	tx = d.Begin()
	check(t, a.Remove(tx, 0))
	check(t, a.Insert(tx, 1, `"n"`))
	check(t, tx.Free())

	want := []ArrayChange{
		{Op: ChangeDelete, Len: 1},
		{Op: ChangeRetain, Len: 1},
		{Op: ChangeInsert, Len: 1, Values: []Value{{Kind: KindScalar, Scalar: value.String("n")}}},
	}
	if diff := cmp.Diff(want, got, anyEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestMapChangesOmitNested(t *testing.T) {
	d := New(Options{})
	m := mustMap(t, d, "m")
	var got []MapChange
	calls := 0
	sub := m.Observe(func(_ *Transaction, changes []MapChange) {
		calls++
		got = append(got, changes...)
	})
	defer sub.Dispose()

	tx := d.Begin()
	check(t, m.Set(tx, "a", "1"))
	_, err := m.InsertArray(tx, "n")
	check(t, err)
	check(t, tx.Free())

	tx = d.Begin()
	_, err = m.InsertMap(tx, "a")
	check(t, err)
	check(t, m.Set(tx, "n", "2"))
	check(t, tx.Free())

	tx = d.Begin()
	check(t, m.Set(tx, "n", "3"))
	_, err = m.Remove(tx, "a")
	check(t, err)
	check(t, tx.Free())

	want := []MapChange{
		{Key: "a", Op: MapInserted, New: value.Number(1)},
		{Key: "n", Op: MapUpdated, Old: value.Number(2), New: value.Number(3)},
	}
	if diff := cmp.Diff(want, got, anyEqual); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if calls != 2 {
		t.Errorf("observer called %d times, want 2", calls)
	}
}

func TestBulkReadersSkipNested(t *testing.T) {
	d := New(Options{})
	a, m := mustArray(t, d, "a"), mustMap(t, d, "m")
	tx := d.Begin()
	defer tx.Free()
	check(t, a.PushBack(tx, "1"))
	_, err := a.PushMap(tx)
	check(t, err)
	check(t, a.PushBack(tx, `"z"`))
	check(t, a.PushFront(tx, "true"))
	check(t, m.Set(tx, "s", `"v"`))
	_, err = m.InsertText(tx, "t")
	check(t, err)

	got, err := a.ToSlice(tx)
	check(t, err)
	if diff := cmp.Diff([]string{"true", "1", `"z"`}, got); diff != "" {
		t.Errorf("ToSlice (-want +got):\n%s", diff)
	}
	n, err := a.Len(tx)
	check(t, err)
	if n != 4 {
		t.Errorf("len %d, want 4 including the nested map", n)
	}
	var each []string
	check(t, a.Each(tx, func(js string) { each = append(each, js) }))
	if diff := cmp.Diff(got, each); diff != "" {
		t.Errorf("Each (-want +got):\n%s", diff)
	}
	if _, err := a.Get(tx, 2); !errors.Is(err, ErrEncoding) {
		t.Errorf("Get of nested: %v", err)
	}

	kv, err := m.ToMap(tx)
	check(t, err)
	if diff := cmp.Diff(map[string]string{"s": `"v"`}, kv); diff != "" {
		t.Errorf("ToMap (-want +got):\n%s", diff)
	}
	keys, err := m.Keys(tx)
	check(t, err)
	if diff := cmp.Diff([]string{"s", "t"}, keys); diff != "" {
		t.Errorf("Keys (-want +got):\n%s", diff)
	}
	js, err := a.ToJSON(tx)
	check(t, err)
	if js != `[true,1,{},"z"]` {
		t.Errorf("ToJSON %s", js)
	}
}

func TestUndefinedVersusAbsent(t *testing.T) {
	d1 := New(Options{})
	a1 := mustArray(t, d1, "a")
	tx := d1.Begin()
	check(t, a1.InsertRange(tx, 0, []string{"1", "2", "3"}))
	u, err := tx.EncodeStateAsUpdate(nil)
	check(t, err)
	check(t, tx.Free())

	d2 := New(Options{})
	tx2 := d2.Begin()
	check(t, tx2.ApplyUpdate(u))
	a2, _, err := tx2.GetArray("a")
	check(t, err)
	check(t, a2.Remove(tx2, 0))
	rm, err := tx2.EncodeUpdate()
	check(t, err)
	check(t, tx2.Free())

	tx = d1.Begin()
	defer tx.Free()
	check(t, a1.MoveTo(tx, 0, 3))
	check(t, tx.ApplyUpdate(rm))

	undef, err := a1.IsUndefined(tx, 2)
	check(t, err)
	if !undef {
		t.Error("moved element deleted by a peer should leave an undefined slot")
	}
	if _, err := a1.Get(tx, 2); !errors.Is(err, ErrEncoding) || errors.Is(err, ErrOutOfRange) {
		t.Errorf("Get of undefined slot: %v", err)
	}
	if _, err := a1.IsUndefined(tx, 3); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("IsUndefined past end: %v", err)
	}
	if _, err := a1.Get(tx, 3); !errors.Is(err, ErrOutOfRange) || !errors.Is(err, ErrEncoding) {
		t.Errorf("Get past end: %v", err)
	}
	v, ok, err := a1.Value(tx, 2)
	check(t, err)
	if !ok || !v.IsUndefined() {
		t.Errorf("Value: %+v %v", v, ok)
	}
	got, err := a1.ToSlice(tx)
	check(t, err)
	if diff := cmp.Diff([]string{"2", "3"}, got); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestSecondBeginBlocks(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	tx := d.Begin()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := d.BeginContext(ctx, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("BeginContext while held: %v", err)
	}

	var g errgroup.Group
	g.Go(func() error {
		tx2 := d.Begin()
		defer tx2.Free()
		n, err := a.Len(tx2)
		if err != nil {
			return err
		}
		if n != 1 {
			return errors.New("second transaction did not see the first one's insert: " + strconv.Itoa(n))
		}
		return nil
	})
	check(t, a.Insert(tx, 0, "1"))
	check(t, tx.Free())
	check(t, g.Wait())
}

func TestConcurrentWriters(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				tx := d.Begin()
				err := a.PushBack(tx, strconv.Itoa(i))
				tx.Free()
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	check(t, g.Wait())
	tx := d.Begin()
	defer tx.Free()
	n, err := a.Len(tx)
	check(t, err)
	if n != 200 {
		t.Errorf("len %d, want 200", n)
	}
}

func TestRoundTrip(t *testing.T) {
	d := New(Options{})
	a, m, x := mustArray(t, d, "a"), mustMap(t, d, "m"), mustText(t, d, "t")
	tx := d.Begin()
	check(t, a.InsertRange(tx, 0, []string{`{"k":[1,2]}`, "null", `"s"`}))
	inner, err := a.InsertText(tx, 1)
	check(t, err)
	check(t, inner.Insert(tx, 0, "nested"))
	check(t, m.Set(tx, "n", "1.5"))
	sub, err := m.InsertArray(tx, "list")
	check(t, err)
	check(t, sub.PushBack(tx, "false"))
	check(t, x.Insert(tx, 0, "héllo 😀"))
	check(t, a.Remove(tx, 3))
	want, err := tx.ToJSON()
	check(t, err)
	u, err := tx.EncodeStateAsUpdate(nil)
	check(t, err)
	check(t, tx.Free())

	cp := New(Options{})
	ctx := cp.Begin()
	defer ctx.Free()
	check(t, ctx.ApplyUpdate(u))
	got, err := ctx.ToJSON()
	check(t, err)
	if got != want {
		t.Errorf("round trip:\nwant %s\n got %s", want, got)
	}
	names, err := ctx.RootNames()
	check(t, err)
	if diff := cmp.Diff([]string{"a", "m", "t"}, names); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestRootsFromUpdateTakeTheirContentKind(t *testing.T) {
	d := New(Options{})
	tx := d.Begin()
	check(t, mustMap(t, d, "m").Set(tx, "x", "1"))
	check(t, mustText(t, d, "t").Insert(tx, 0, "hi"))
	check(t, mustArray(t, d, "a").PushBack(tx, "true"))
	u, err := tx.EncodeUpdate()
	check(t, err)
	check(t, tx.Free())

	cp := New(Options{})
	ctx := cp.Begin()
	defer ctx.Free()
	check(t, ctx.ApplyUpdate(u))
	js, err := ctx.ToJSON()
	check(t, err)
	if want := `{"a":[true],"m":{"x":1},"t":"hi"}`; js != want {
		t.Errorf("got %s, want %s", js, want)
	}

	kinds := map[string]Kind{}
	for _, name := range []string{"a", "m", "t"} {
		v, ok, err := ctx.Root(name)
		check(t, err)
		if !ok {
			t.Fatalf("no root %s", name)
		}
		kinds[name] = v.Kind
	}
	if diff := cmp.Diff(map[string]Kind{"a": KindArray, "m": KindMap, "t": KindText}, kinds); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if _, err := cp.GetArray("m"); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("map root as array: %v", err)
	}
	m := mustMap(t, cp, "m")
	got, err := m.Get(ctx, "x")
	check(t, err)
	if got != "1" {
		t.Errorf("m.x = %s", got)
	}
}

func TestGetRootWhileDocumentIsHeld(t *testing.T) {
	d := New(Options{})
	tx := d.Begin()
	check(t, mustMap(t, d, "m").Set(tx, "x", "1"))
	u, err := tx.EncodeUpdate()
	check(t, err)
	check(t, tx.Free())

	cp := New(Options{})
	ctx := cp.Begin()
	defer ctx.Free()
	check(t, ctx.ApplyUpdate(u))
	var g errgroup.Group
	g.Go(func() error {
		_, err := cp.GetMap("m")
		return err
	})
	for range 100 {
		if js, err := ctx.ToJSON(); err != nil || js != `{"m":{"x":1}}` {
			t.Fatalf("got %s, %v", js, err)
		}
	}
	check(t, g.Wait())
}

func TestApplyUpdateRejectsMalformed(t *testing.T) {
	d := New(Options{})
	tx := d.Begin()
	defer tx.Free()
	check(t, mustMap(t, d, "m").Set(tx, "a", "1"))
	before, err := tx.ToJSON()
	check(t, err)
	sv, err := tx.StateVector()
	check(t, err)

	for _, bad := range [][]byte{{0x01}, {0x01, 0x01, 0x80}, {0xff}} {
		if err := tx.ApplyUpdate(bad); !errors.Is(err, ErrDecoding) {
			t.Errorf("apply % x: %v", bad, err)
		}
	}
	if _, err := tx.EncodeDiff([]byte{0x80}); !errors.Is(err, ErrDecoding) {
		t.Errorf("EncodeDiff of bad state vector: %v", err)
	}
	after, err := tx.ToJSON()
	check(t, err)
	sv2, err := tx.StateVector()
	check(t, err)
	if before != after || string(sv) != string(sv2) {
		t.Errorf("rejected update changed the document: %s -> %s", before, after)
	}
}

func TestWrongDocument(t *testing.T) {
	d1, d2 := New(Options{}), New(Options{})
	a2 := mustArray(t, d2, "a")
	tx := d1.Begin()
	defer tx.Free()
	if err := a2.Insert(tx, 0, "1"); !errors.Is(err, ErrWrongDocument) {
		t.Errorf("got %v", err)
	}
}

func TestInvalidJSON(t *testing.T) {
	d := New(Options{})
	a, m := mustArray(t, d, "a"), mustMap(t, d, "m")
	tx := d.Begin()
	defer tx.Free()
	if err := a.InsertRange(tx, 0, []string{"1", "{"}); !errors.Is(err, ErrEncoding) {
		t.Errorf("InsertRange: %v", err)
	}
	if n, _ := a.Len(tx); n != 0 {
		t.Errorf("partial insert of %d elements", n)
	}
	if err := m.Set(tx, "k", "nope"); !errors.Is(err, ErrEncoding) {
		t.Errorf("Set: %v", err)
	}
	if _, err := m.Get(tx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: %v", err)
	}
	if err := a.Insert(tx, 5, "1"); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("Insert past end: %v", err)
	}
}

func TestSubscriptionDispose(t *testing.T) {
	d := New(Options{})
	a := mustArray(t, d, "a")
	calls := 0
	sub := a.Observe(func(*Transaction, []ArrayChange) { calls++ })
	upd := 0
	usub := d.ObserveUpdate(func(u, origin []byte) {
		upd++
		if string(origin) != "me" {
			t.Errorf("origin %q", origin)
		}
	})
	defer usub.Dispose()

	tx := d.BeginWithOrigin([]byte("me"))
	check(t, a.Insert(tx, 0, "1"))
	check(t, tx.Free())
	sub.Dispose()
	sub.Dispose()
	tx = d.BeginWithOrigin([]byte("me"))
	check(t, a.Insert(tx, 0, "2"))
	check(t, tx.Free())
	if calls != 1 {
		t.Errorf("array observer called %d times, want 1", calls)
	}
	if upd != 2 {
		t.Errorf("update observer called %d times, want 2", upd)
	}

	// a transaction without changes produces no update
	tx = d.Begin()
	check(t, tx.Free())
	if upd != 2 {
		t.Errorf("empty transaction produced an update")
	}
}

func TestObserversRunInRegistrationOrder(t *testing.T) {
	d := New(Options{})
	m := mustMap(t, d, "m")
	var order []string
	s1 := m.Observe(func(*Transaction, []MapChange) { order = append(order, "first") })
	s2 := m.Observe(func(*Transaction, []MapChange) { order = append(order, "second") })
	s3 := d.ObserveAfterTransaction(func(*Transaction) { order = append(order, "after") })
	defer s1.Dispose()
	defer s2.Dispose()
	defer s3.Dispose()
	tx := d.Begin()
	check(t, m.Set(tx, "k", "1"))
	check(t, tx.Free())
	if diff := cmp.Diff([]string{"first", "second", "after"}, order); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestAfterObserverRunsOncePerCommit(t *testing.T) {
	for _, dispatch := range []Dispatch{DispatchDeferred, DispatchInline} {
		t.Run(dispatch.String(), func(t *testing.T) {
			d := New(Options{Dispatch: dispatch})
			m := mustMap(t, d, "m")
			calls := 0
			sub := d.ObserveAfterTransaction(func(*Transaction) { calls++ })
			defer sub.Dispose()

			tx := d.Begin()
			check(t, m.Set(tx, "k", "1"))
			check(t, tx.Free())
			if calls != 1 {
				t.Errorf("after a write: %d calls, want 1", calls)
			}

			tx = d.Begin()
			_, err := m.Len(tx)
			check(t, err)
			check(t, tx.Free())
			if calls != 2 {
				t.Errorf("after a read: %d calls, want 2", calls)
			}
		})
	}
}

func TestMergePatch(t *testing.T) {
	d := New(Options{})
	m := mustMap(t, d, "m")
	tx := d.Begin()
	defer tx.Free()
	check(t, m.Set(tx, "a", "1"))
	check(t, m.Set(tx, "b", "2"))
	check(t, m.ApplyMergePatch(tx, []byte(`{"a":null,"c":{"d":1}}`)))
	js, err := m.ToJSON(tx)
	check(t, err)
	if js != `{"b":2,"c":{"d":1}}` {
		t.Errorf("got %s", js)
	}
	if err := m.ApplyMergePatch(tx, []byte(`[1]`)); !errors.Is(err, ErrEncoding) {
		t.Errorf("array patch: %v", err)
	}
}

func leakTransaction(d *Doc) {
	_ = d.Begin()
}

func TestLeakedTransactionIsReleased(t *testing.T) {
	d := New(Options{})
	leakTransaction(d)
	for i := 0; i < 100; i++ {
		runtime.GC()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		tx, err := d.BeginContext(ctx, nil)
		cancel()
		if err == nil {
			check(t, tx.Free())
			return
		}
	}
	t.Fatal("leaked transaction was never released")
}
