package ydoc

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Dispatch selects when observers run relative to the commit of the
// transaction that produced their events.
type Dispatch int

const (
	// DispatchDeferred runs observers after the committing transaction
	// released the document, on the same goroutine, with a fresh
	// transaction that is freed once they return.
	DispatchDeferred Dispatch = iota
	// DispatchInline runs observers inside Free while the document is
	// still held, with the committing transaction. Writes through it
	// fail with ErrReadOnly.
	DispatchInline
)

var dispatchNames = map[Dispatch]string{
	DispatchDeferred: "deferred",
	DispatchInline:   "inline",
}

func (d Dispatch) String() string {
	if s, ok := dispatchNames[d]; ok {
		return s
	}
	return "unknown"
}

// Options configures a document.
type Options struct {
	AutoLoad bool
	// ClientID is generated when nil.
	ClientID *uint64
	// GUID is generated when empty.
	GUID       string
	ShouldLoad bool

	Dispatch Dispatch
	Log      *slog.Logger
}

const maxClientID = 1<<53 - 1

func (o Options) clientID() uint64 {
	if o.ClientID != nil {
		return *o.ClientID
	}
	return newClientID()
}

func newClientID() uint64 {
	for {
		if id := rand.Uint64() & maxClientID; id != 0 {
			return id
		}
	}
}

func (o Options) guid() string {
	if o.GUID != "" {
		return o.GUID
	}
	return uuid.NewString()
}

func (o Options) logger() *slog.Logger {
	if o.Log != nil {
		return o.Log
	}
	return slog.Default()
}

// ParseDispatch returns the Dispatch named s.
func ParseDispatch(s string) (Dispatch, error) {
	for d, n := range dispatchNames {
		if n == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown dispatch %q", s)
}
