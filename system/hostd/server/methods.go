package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/signadot/ydoc"
	"github.com/signadot/ydoc/handle"
	"github.com/signadot/ydoc/query"
	"github.com/signadot/ydoc/system/hostd/api"
	"go.lsp.dev/jsonrpc2"
)

type method func(ctx context.Context, s *session, params []byte) (any, error)

// rpc adapts a typed method body to the dispatch table.
func rpc[P, R any](f func(context.Context, *session, *P) (R, error)) method {
	return func(ctx context.Context, s *session, raw []byte) (any, error) {
		p := new(P)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, p); err != nil {
				return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err)
			}
		}
		return f(ctx, s, p)
	}
}

var methods = map[string]method{
	api.DocNew:     rpc(docNew),
	api.DocGetArr:  rpc(docGetArray),
	api.DocGetMap:  rpc(docGetMap),
	api.DocGetText: rpc(docGetText),
	api.DocBegin:   rpc(docBegin),
	api.DocDestroy: rpc(docDestroy),
	api.DocLoad:    rpc(docLoad),
	api.DocRelease: rpc(docRelease),

	api.TxnFree:                rpc(txnFree),
	api.TxnEncodeUpdate:        rpc(txnEncodeUpdate),
	api.TxnStateVector:         rpc(txnStateVector),
	api.TxnEncodeDiff:          rpc(txnEncodeDiff),
	api.TxnApplyUpdate:         rpc(txnApplyUpdate),
	api.TxnEncodeStateAsUpdate: rpc(txnEncodeStateAsUpdate),
	api.TxnOrigin:              rpc(txnOrigin),
	api.TxnQuery:               rpc(txnQuery),
	api.TxnToJSON:              rpc(txnToJSON),

	api.ArrayLen:          rpc(arrayLen),
	api.ArrayGet:          rpc(arrayGet),
	api.ArrayIsUndefined:  rpc(arrayIsUndefined),
	api.ArrayInsertRange:  rpc(arrayInsertRange),
	api.ArrayRemoveRange:  rpc(arrayRemoveRange),
	api.ArrayMove:         rpc(arrayMove),
	api.ArrayToSlice:      rpc(arrayToSlice),
	api.ArrayToJSON:       rpc(arrayToJSON),
	api.ArrayInsertNested: rpc(arrayInsertNested),
	api.ArrayGetNested:    rpc(arrayGetNested),

	api.MapLen:          rpc(mapLen),
	api.MapGet:          rpc(mapGet),
	api.MapSet:          rpc(mapSet),
	api.MapRemove:       rpc(mapRemove),
	api.MapContainsKey:  rpc(mapContainsKey),
	api.MapKeys:         rpc(mapKeys),
	api.MapToMap:        rpc(mapToMap),
	api.MapToJSON:       rpc(mapToJSON),
	api.MapMergePatch:   rpc(mapMergePatch),
	api.MapInsertNested: rpc(mapInsertNested),
	api.MapGetNested:    rpc(mapGetNested),
	api.MapClear:        rpc(mapClear),

	api.TextLen:         rpc(textLen),
	api.TextString:      rpc(textString),
	api.TextInsert:      rpc(textInsert),
	api.TextRemoveRange: rpc(textRemoveRange),
	api.TextFormat:      rpc(textFormat),
	api.TextDiff:        rpc(textDiff),
	api.TextSetString:   rpc(textSetString),

	api.Observe:             rpc(observe),
	api.SubscriptionDispose: rpc(subscriptionDispose),
}

// errCodes maps errors to wire codes. More specific errors come first.
var errCodes = []struct {
	err  error
	code jsonrpc2.Code
}{
	{ydoc.ErrTransactionFreed, api.CodeTransactionFreed},
	{ydoc.ErrStaleHandle, api.CodeStaleHandle},
	{handle.ErrStale, api.CodeStaleHandle},
	{ydoc.ErrWrongDocument, api.CodeWrongDocument},
	{ydoc.ErrTypeMismatch, api.CodeTypeMismatch},
	{ydoc.ErrReadOnly, api.CodeReadOnly},
	{ydoc.ErrOutOfRange, api.CodeOutOfRange},
	{ydoc.ErrNotFound, api.CodeNotFound},
	{ydoc.ErrDecoding, api.CodeDecoding},
	{ydoc.ErrEncoding, api.CodeEncoding},
	{context.DeadlineExceeded, api.CodeLockTimeout},
	{query.ErrParse, api.CodeParse},
}

func wireError(err error) error {
	if err == nil {
		return nil
	}
	var we *jsonrpc2.Error
	if errors.As(err, &we) {
		return we
	}
	for _, c := range errCodes {
		if errors.Is(err, c.err) {
			return jsonrpc2.NewError(c.code, err.Error())
		}
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}
