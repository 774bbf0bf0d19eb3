package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/ydoc/persist"
	"github.com/signadot/ydoc/system/hostd/api"
	"go.lsp.dev/jsonrpc2"
	"golang.org/x/sync/errgroup"
)

type client struct {
	t      *testing.T
	conn   jsonrpc2.Conn
	events chan api.EventParams
	done   chan error
}

func newServer(t *testing.T, cfg *Config) *Server {
	t.Helper()
	srv, err := New(&Spec{
		Config: cfg,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func connect(t *testing.T, srv *Server) *client {
	t.Helper()
	a, b := net.Pipe()
	c := &client{
		t:      t,
		conn:   jsonrpc2.NewConn(jsonrpc2.NewStream(b)),
		events: make(chan api.EventParams, 64),
		done:   make(chan error, 1),
	}
	go func() { c.done <- srv.ServeConn(context.Background(), "test", a) }()
	c.conn.Go(context.Background(), func(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
		if req.Method() == api.Event {
			var ev api.EventParams
			if err := json.Unmarshal([]byte(req.Params()), &ev); err != nil {
				t.Errorf("bad event: %v", err)
			}
			c.events <- ev
		}
		return reply(ctx, nil, nil)
	})
	t.Cleanup(c.close)
	return c
}

// close hangs up and waits for the server to end the session.
func (c *client) close() {
	if c.done == nil {
		return
	}
	c.conn.Close()
	<-c.conn.Done()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		c.t.Error("session did not end")
	}
	c.done = nil
}

func (c *client) call(method string, params, result any) {
	c.t.Helper()
	if _, err := c.conn.Call(context.Background(), method, params, result); err != nil {
		c.t.Fatalf("%s: %v", method, err)
	}
}

func (c *client) callErr(method string, params any) error {
	_, err := c.conn.Call(context.Background(), method, params, nil)
	return err
}

func (c *client) newDoc(guid string) uint64 {
	c.t.Helper()
	var res api.NewDocResult
	c.call(api.DocNew, api.NewDocParams{GUID: guid}, &res)
	return res.Doc
}

func (c *client) root(method string, doc uint64, name string) uint64 {
	c.t.Helper()
	var res api.HandleResult
	c.call(method, api.RootParams{Doc: doc, Name: name}, &res)
	return res.Handle
}

func (c *client) begin(doc uint64) uint64 {
	c.t.Helper()
	var res api.TxnResult
	c.call(api.DocBegin, api.BeginParams{Doc: doc}, &res)
	return res.Txn
}

func (c *client) free(txn uint64) {
	c.t.Helper()
	c.call(api.TxnFree, api.TxnParams{Txn: txn}, nil)
}

func (c *client) event() api.EventParams {
	c.t.Helper()
	select {
	case ev := <-c.events:
		return ev
	case <-time.After(5 * time.Second):
		c.t.Fatal("no event")
	}
	return api.EventParams{}
}

func code(err error) jsonrpc2.Code {
	var we *jsonrpc2.Error
	if errors.As(err, &we) {
		return we.Code
	}
	return 0
}

func TestArrayRoundTrip(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	arr := c.root(api.DocGetArr, doc, "a")

	txn := c.begin(doc)
	c.call(api.ArrayInsertRange, api.CollParams{Txn: txn, Handle: arr, Values: []string{"1", `"x"`, "true"}}, nil)
	c.call(api.ArrayMove, api.CollParams{Txn: txn, Handle: arr, Index: 0, Target: 3}, nil)
	c.free(txn)

	txn = c.begin(doc)
	defer c.free(txn)
	var vals api.ValuesResult
	c.call(api.ArrayToSlice, api.CollParams{Txn: txn, Handle: arr}, &vals)
	if diff := cmp.Diff([]string{`"x"`, "true", "1"}, vals.Values); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	var js api.JSONResult
	c.call(api.TxnToJSON, api.TxnParams{Txn: txn}, &js)
	if js.JSON != `{"a":["x",true,1]}` {
		t.Errorf("got %s", js.JSON)
	}
}

func TestNestedAndText(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	m := c.root(api.DocGetMap, doc, "m")

	txn := c.begin(doc)
	var nested api.HandleResult
	c.call(api.MapInsertNested, api.CollParams{Txn: txn, Handle: m, Key: "t", Kind: "text"}, &nested)
	if nested.Kind != "text" || nested.Handle == 0 {
		t.Fatalf("got %+v", nested)
	}
	c.call(api.TextInsert, api.CollParams{Txn: txn, Handle: nested.Handle, Text: "hello"}, nil)
	c.call(api.TextFormat, api.CollParams{Txn: txn, Handle: nested.Handle, Index: 0, Len: 1, Attrs: json.RawMessage(`{"b":true}`)}, nil)
	c.free(txn)

	txn = c.begin(doc)
	defer c.free(txn)
	var again api.HandleResult
	c.call(api.MapGetNested, api.CollParams{Txn: txn, Handle: m, Key: "t"}, &again)
	if again != nested {
		t.Errorf("got %+v, want %+v", again, nested)
	}
	var diff api.DiffResult
	c.call(api.TextDiff, api.CollParams{Txn: txn, Handle: nested.Handle}, &diff)
	want := []api.Chunk{
		{Insert: "h", Attrs: json.RawMessage(`{"b":true}`)},
		{Insert: "ello"},
	}
	if d := cmp.Diff(want, diff.Chunks); d != "" {
		t.Errorf("(-want +got):\n%s", d)
	}
	var vals api.ValuesResult
	c.call(api.TxnQuery, api.QueryParams{Txn: txn, Path: "$.m.t"}, &vals)
	if d := cmp.Diff([]string{`"hello"`}, vals.Values); d != "" {
		t.Errorf("query (-want +got):\n%s", d)
	}
}

func TestEventsPrecedeFreeReply(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	arr := c.root(api.DocGetArr, doc, "a")
	var up, ch api.SubscriptionParams
	c.call(api.Observe, api.ObserveParams{Doc: doc, Topic: api.TopicUpdate}, &up)
	c.call(api.Observe, api.ObserveParams{Doc: doc, Topic: api.TopicArray, Handle: arr}, &ch)

	var txn api.TxnResult
	c.call(api.DocBegin, api.BeginParams{Doc: doc, Origin: []byte("client")}, &txn)
	c.call(api.ArrayInsertRange, api.CollParams{Txn: txn.Txn, Handle: arr, Values: []string{"1"}}, nil)
	c.free(txn.Txn)

	var evs []api.EventParams
	for range 2 {
		select {
		case ev := <-c.events:
			evs = append(evs, ev)
		default:
			t.Fatalf("only %d events before the reply", len(evs))
		}
	}
	sort.Slice(evs, func(i, j int) bool { return evs[i].Topic < evs[j].Topic })
	if evs[0].Topic != api.TopicArray || evs[0].Subscription != ch.Subscription {
		t.Errorf("got %+v", evs[0])
	}
	if d := cmp.Diff([]api.Change{{Op: "insert", Len: 1, Values: []string{"1"}}}, evs[0].Changes); d != "" {
		t.Errorf("changes (-want +got):\n%s", d)
	}
	if evs[1].Topic != api.TopicUpdate || len(evs[1].Update) == 0 || string(evs[1].Origin) != "client" {
		t.Errorf("got %+v", evs[1])
	}

	c.call(api.SubscriptionDispose, api.SubscriptionParams{Subscription: up.Subscription}, nil)
	txn.Txn = c.begin(doc)
	c.call(api.ArrayInsertRange, api.CollParams{Txn: txn.Txn, Handle: arr, Values: []string{"2"}}, nil)
	c.free(txn.Txn)
	if ev := c.event(); ev.Topic != api.TopicArray {
		t.Errorf("disposed subscription still delivers: %+v", ev)
	}
	if err := c.callErr(api.SubscriptionDispose, api.SubscriptionParams{Subscription: up.Subscription}); code(err) != api.CodeStaleHandle {
		t.Errorf("second dispose: %v", err)
	}
}

func TestErrorCodes(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	arr := c.root(api.DocGetArr, doc, "a")
	m := c.root(api.DocGetMap, doc, "m")
	txn := c.begin(doc)
	defer c.free(txn)

	freed := c.begin(c.newDoc(""))
	c.free(freed)

	tests := []struct {
		name   string
		method string
		params any
		code   jsonrpc2.Code
	}{
		{"freed", api.ArrayLen, api.CollParams{Txn: freed, Handle: arr}, api.CodeTransactionFreed},
		{"free twice", api.TxnFree, api.TxnParams{Txn: freed}, api.CodeTransactionFreed},
		{"unknown doc", api.DocBegin, api.BeginParams{Doc: 12345}, api.CodeStaleHandle},
		{"out of range", api.ArrayGet, api.CollParams{Txn: txn, Handle: arr, Index: 3}, api.CodeOutOfRange},
		{"missing key", api.MapGet, api.CollParams{Txn: txn, Handle: m, Key: "k"}, api.CodeNotFound},
		{"bad json", api.MapSet, api.CollParams{Txn: txn, Handle: m, Key: "k", Value: "{"}, api.CodeEncoding},
		{"bad update", api.TxnApplyUpdate, api.DataParams{Txn: txn, Data: []byte{0xff}}, api.CodeDecoding},
		{"bad path", api.TxnQuery, api.QueryParams{Txn: txn, Path: "$["}, api.CodeParse},
		{"kind", api.MapLen, api.CollParams{Txn: txn, Handle: arr}, api.CodeTypeMismatch},
		{"root kind", api.DocGetMap, api.RootParams{Doc: doc, Name: "a"}, api.CodeTypeMismatch},
		{"other doc", api.ArrayLen, api.CollParams{Txn: c.begin(c.newDoc("")), Handle: arr}, api.CodeWrongDocument},
		{"topic", api.Observe, api.ObserveParams{Doc: doc, Topic: "nope"}, jsonrpc2.InvalidParams},
		{"params", api.ArrayLen, []int{1}, jsonrpc2.InvalidParams},
		{"method", "array.sort", api.CollParams{}, jsonrpc2.MethodNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.callErr(tt.method, tt.params)
			if got := code(err); got != tt.code {
				t.Errorf("code %d, want %d (%v)", got, tt.code, err)
			}
		})
	}
}

func TestBeginWaitsForFree(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LockTimeout = Duration(50 * time.Millisecond)
	c := connect(t, newServer(t, cfg))
	doc := c.newDoc("")
	c.begin(doc)
	if err := c.callErr(api.DocBegin, api.BeginParams{Doc: doc}); code(err) != api.CodeLockTimeout {
		t.Fatalf("got %v", err)
	}

	patient := *cfg
	patient.LockTimeout = Duration(5 * time.Second)
	c = connect(t, newServer(t, &patient))
	doc = c.newDoc("")
	txn := c.begin(doc)
	var g errgroup.Group
	g.Go(func() error {
		var res api.TxnResult
		if _, err := c.conn.Call(context.Background(), api.DocBegin, api.BeginParams{Doc: doc}, &res); err != nil {
			return err
		}
		_, err := c.conn.Call(context.Background(), api.TxnFree, api.TxnParams{Txn: res.Txn}, nil)
		return err
	})
	time.Sleep(20 * time.Millisecond)
	c.free(txn)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestHangupCommitsAndStores(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persist = &persist.Config{InMemory: true}
	srv := newServer(t, cfg)

	c := connect(t, srv)
	doc := c.newDoc("shared")
	m := c.root(api.DocGetMap, doc, "m")
	txn := c.begin(doc)
	c.call(api.MapSet, api.CollParams{Txn: txn, Handle: m, Key: "k", Value: "42"}, nil)
	c.close()

	c = connect(t, srv)
	doc = c.newDoc("shared")
	txn = c.begin(doc)
	defer c.free(txn)
	var js api.JSONResult
	c.call(api.TxnToJSON, api.TxnParams{Txn: txn}, &js)
	if js.JSON != `{"m":{"k":42}}` {
		t.Errorf("got %s", js.JSON)
	}
}

func TestSubdocOverRPC(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	arr := c.root(api.DocGetArr, doc, "docs")
	var sub api.SubscriptionParams
	c.call(api.Observe, api.ObserveParams{Doc: doc, Topic: api.TopicSubdocs}, &sub)

	txn := c.begin(doc)
	var sd api.HandleResult
	c.call(api.ArrayInsertNested, api.CollParams{Txn: txn, Handle: arr, Kind: "doc", Doc: &api.NewDocParams{GUID: "child"}}, &sd)
	if sd.Kind != "doc" || sd.Doc == 0 {
		t.Fatalf("got %+v", sd)
	}
	c.free(txn)
	if ev := c.event(); !cmp.Equal(ev.Added, []string{"child"}) {
		t.Errorf("got %+v", ev)
	}

	txn = c.begin(doc)
	var again api.HandleResult
	c.call(api.ArrayGetNested, api.CollParams{Txn: txn, Handle: arr, Index: 0}, &again)
	if again.Doc != sd.Doc {
		t.Errorf("subdocument handle changed: %d != %d", again.Doc, sd.Doc)
	}
	if err := c.callErr(api.DocLoad, api.SubdocParams{Doc: sd.Doc}); code(err) != api.CodeWrongDocument {
		t.Errorf("load without parent transaction: %v", err)
	}
	c.call(api.DocLoad, api.SubdocParams{Doc: sd.Doc, Txn: txn}, nil)
	c.free(txn)
	if ev := c.event(); !cmp.Equal(ev.Loaded, []string{"child"}) {
		t.Errorf("got %+v", ev)
	}
}

func TestPipelinedRequestsShareATransaction(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	arr := c.root(api.DocGetArr, doc, "a")
	txn := c.begin(doc)

	const writers, per = 20, 50
	values := make([]string, per)
	for i := range values {
		values[i] = "1"
	}
	var g errgroup.Group
	for range writers {
		g.Go(func() error {
			if err := c.callErr(api.ArrayInsertRange, api.CollParams{Txn: txn, Handle: arr, Values: values}); err != nil {
				return err
			}
			var n api.LenResult
			_, err := c.conn.Call(context.Background(), api.ArrayLen, api.CollParams{Txn: txn, Handle: arr}, &n)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	var n api.LenResult
	c.call(api.ArrayLen, api.CollParams{Txn: txn, Handle: arr}, &n)
	if n.Len != writers*per {
		t.Errorf("len %d, want %d", n.Len, writers*per)
	}
	c.free(txn)
}

func TestClearAndRelease(t *testing.T) {
	c := connect(t, newServer(t, nil))
	doc := c.newDoc("")
	m := c.root(api.DocGetMap, doc, "m")
	txn := c.begin(doc)
	for _, k := range []string{"a", "b"} {
		c.call(api.MapSet, api.CollParams{Txn: txn, Handle: m, Key: k, Value: `1`}, nil)
	}
	c.call(api.MapClear, api.CollParams{Txn: txn, Handle: m}, nil)
	var n api.LenResult
	c.call(api.MapLen, api.CollParams{Txn: txn, Handle: m}, &n)
	if n.Len != 0 {
		t.Errorf("%d entries after clear", n.Len)
	}
	c.free(txn)

	c.call(api.DocRelease, api.DocParams{Doc: doc}, nil)
	if err := c.callErr(api.DocBegin, api.BeginParams{Doc: doc}); code(err) != api.CodeStaleHandle {
		t.Errorf("begin on released document: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostd.yaml")
	err := os.WriteFile(path, []byte(`
addr: 127.0.0.1:7000
lockTimeout: 2s
dispatch: inline
persist:
  path: /var/lib/ydoc
  syncWrites: true
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		Addr:        "127.0.0.1:7000",
		LockTimeout: Duration(2 * time.Second),
		Dispatch:    "inline",
		Persist:     &persist.Config{Path: "/var/lib/ydoc", SyncWrites: true},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}

	if err := os.WriteFile(path, []byte("dispatch: eager\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("unknown dispatch accepted")
	}
}
