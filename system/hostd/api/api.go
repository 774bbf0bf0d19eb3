// Package api holds the JSON-RPC 2.0 method set of the document host.
//
// Documents, transactions and subscriptions cross the boundary as
// opaque handles issued by the host. Collections cross as the handle of
// their node, which stays valid across transactions until the document
// is destroyed. Scalars cross as JSON text; binary updates, state
// vectors and origins as base64 strings.
//
// Requests on one connection are handled concurrently; a client must
// wait for the reply of a request before sending one that depends on
// it.
package api

import "encoding/json"

// Methods.
const (
	DocNew     = "doc.new"
	DocGetArr  = "doc.getArray"
	DocGetMap  = "doc.getMap"
	DocGetText = "doc.getText"
	DocBegin   = "doc.begin"
	DocDestroy = "doc.destroy"
	DocLoad    = "doc.load"
	DocRelease = "doc.release"

	TxnFree                = "txn.free"
	TxnEncodeUpdate        = "txn.encodeUpdate"
	TxnStateVector         = "txn.stateVector"
	TxnEncodeDiff          = "txn.encodeDiff"
	TxnApplyUpdate         = "txn.applyUpdate"
	TxnEncodeStateAsUpdate = "txn.encodeStateAsUpdate"
	TxnOrigin              = "txn.origin"
	TxnQuery               = "txn.query"
	TxnToJSON              = "txn.toJSON"

	ArrayLen          = "array.len"
	ArrayGet          = "array.get"
	ArrayIsUndefined  = "array.isUndefined"
	ArrayInsertRange  = "array.insertRange"
	ArrayRemoveRange  = "array.removeRange"
	ArrayMove         = "array.move"
	ArrayToSlice      = "array.toSlice"
	ArrayToJSON       = "array.toJSON"
	ArrayInsertNested = "array.insertNested"
	ArrayGetNested    = "array.getNested"

	MapLen          = "map.len"
	MapGet          = "map.get"
	MapSet          = "map.set"
	MapRemove       = "map.remove"
	MapContainsKey  = "map.containsKey"
	MapKeys         = "map.keys"
	MapToMap        = "map.toMap"
	MapToJSON       = "map.toJSON"
	MapMergePatch   = "map.applyMergePatch"
	MapInsertNested = "map.insertNested"
	MapGetNested    = "map.getNested"
	MapClear        = "map.clear"

	TextLen         = "text.len"
	TextString      = "text.string"
	TextInsert      = "text.insert"
	TextRemoveRange = "text.removeRange"
	TextFormat      = "text.format"
	TextDiff        = "text.diff"
	TextSetString   = "text.setString"

	Observe             = "observe"
	SubscriptionDispose = "subscription.dispose"

	// Event is the notification carrying observer records.
	Event = "event"
)

// Error codes in the implementation-defined server error range.
const (
	CodeEncoding         = -32010
	CodeDecoding         = -32011
	CodeTransactionFreed = -32012
	CodeStaleHandle      = -32013
	CodeOutOfRange       = -32014
	CodeNotFound         = -32015
	CodeWrongDocument    = -32016
	CodeTypeMismatch     = -32017
	CodeReadOnly         = -32018
	CodeLockTimeout      = -32019
	CodeParse            = -32020
)

type NewDocParams struct {
	GUID       string  `json:"guid,omitempty"`
	ClientID   *uint64 `json:"clientId,omitempty"`
	AutoLoad   bool    `json:"autoLoad,omitempty"`
	ShouldLoad bool    `json:"shouldLoad,omitempty"`
}

type NewDocResult struct {
	Doc      uint64 `json:"doc"`
	GUID     string `json:"guid"`
	ClientID uint64 `json:"clientId"`
}

type DocParams struct {
	Doc uint64 `json:"doc"`
}

type RootParams struct {
	Doc  uint64 `json:"doc"`
	Name string `json:"name"`
}

type BeginParams struct {
	Doc    uint64 `json:"doc"`
	Origin []byte `json:"origin,omitempty"`
}

type TxnResult struct {
	Txn uint64 `json:"txn"`
}

// SubdocParams addresses Doc for doc.destroy and doc.load. Txn is a
// transaction on the parent when Doc is a subdocument.
type SubdocParams struct {
	Doc uint64 `json:"doc"`
	Txn uint64 `json:"txn,omitempty"`
}

type TxnParams struct {
	Txn uint64 `json:"txn"`
}

type DataParams struct {
	Txn  uint64 `json:"txn"`
	Data []byte `json:"data"`
}

type DataResult struct {
	Data []byte `json:"data"`
}

type QueryParams struct {
	Txn  uint64 `json:"txn"`
	Path string `json:"path"`
}

type ValuesResult struct {
	Values []string `json:"values"`
}

type JSONResult struct {
	JSON string `json:"json"`
}

type TextResult struct {
	Text string `json:"text"`
}

type LenResult struct {
	Len int `json:"len"`
}

type BoolResult struct {
	Value bool `json:"value"`
}

type MapResult struct {
	Values map[string]string `json:"values"`
}

// CollParams addresses a collection node within a transaction. Which
// of the remaining fields apply depends on the method.
type CollParams struct {
	Txn    uint64 `json:"txn"`
	Handle uint64 `json:"handle"`

	Index  int      `json:"index,omitempty"`
	Len    int      `json:"len,omitempty"`
	Target int      `json:"target,omitempty"`
	Key    string   `json:"key,omitempty"`
	Value  string   `json:"value,omitempty"`
	Values []string `json:"values,omitempty"`
	Text   string   `json:"text,omitempty"`
	// Kind is the kind of a nested value to insert: array, map, text or
	// doc.
	Kind  string          `json:"kind,omitempty"`
	Attrs json.RawMessage `json:"attrs,omitempty"`
	Patch json.RawMessage `json:"patch,omitempty"`
	Doc   *NewDocParams   `json:"doc,omitempty"`
}

// HandleResult is a collection node or subdocument. Doc is set for
// subdocuments, Handle for collections.
type HandleResult struct {
	Kind   string `json:"kind"`
	Handle uint64 `json:"handle,omitempty"`
	Doc    uint64 `json:"doc,omitempty"`
}

// Chunk is a run of text, or an embedded value as JSON text in Embed.
type Chunk struct {
	Insert string          `json:"insert,omitempty"`
	Embed  string          `json:"embed,omitempty"`
	Attrs  json.RawMessage `json:"attrs,omitempty"`
}

type DiffResult struct {
	Chunks []Chunk `json:"chunks"`
}

// Observe topics.
const (
	TopicUpdate  = "update"
	TopicAfter   = "after"
	TopicSubdocs = "subdocs"
	TopicDestroy = "destroy"
	TopicArray   = "array"
	TopicMap     = "map"
	TopicText    = "text"
)

// ObserveParams subscribes to Topic of Doc; the collection topics
// need Handle.
type ObserveParams struct {
	Doc    uint64 `json:"doc"`
	Topic  string `json:"topic"`
	Handle uint64 `json:"handle,omitempty"`
}

type SubscriptionParams struct {
	Subscription uint64 `json:"subscription"`
}

// Change is one change record. Values and Old/New are JSON text; nested
// values appear as null.
type Change struct {
	Op     string          `json:"op"`
	Len    int             `json:"len,omitempty"`
	Values []string        `json:"values,omitempty"`
	Key    string          `json:"key,omitempty"`
	Old    string          `json:"old,omitempty"`
	New    string          `json:"new,omitempty"`
	Insert string          `json:"insert,omitempty"`
	Embed  string          `json:"embed,omitempty"`
	Attrs  json.RawMessage `json:"attrs,omitempty"`
}

// EventParams is the payload of an Event notification.
type EventParams struct {
	Subscription uint64   `json:"subscription"`
	Topic        string   `json:"topic"`
	Update       []byte   `json:"update,omitempty"`
	Origin       []byte   `json:"origin,omitempty"`
	Changes      []Change `json:"changes,omitempty"`
	Added        []string `json:"added,omitempty"`
	Removed      []string `json:"removed,omitempty"`
	Loaded       []string `json:"loaded,omitempty"`
}
