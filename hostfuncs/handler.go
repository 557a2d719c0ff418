package hostfuncs

import (
	"context"
	"encoding/json"
	"fmt"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// HostFunc is a typed message handler.
// A returned error is a protocol violation and aborts the exchange; failures the core
// should handle itself are returned as a response value (see NewErrorResponse).
type HostFunc[Req any, Resp any] func(context.Context, Req) (Resp, error)

// ByteHandler is a function that accepts a JSON document and returns a JSON document.
// This is the common interface that sandbox adapters dispatch to.
type ByteHandler func(context.Context, []byte) ([]byte, error)

// NewJSONHandler wraps a typed HostFunc into a ByteHandler.
// It handles the JSON unmarshalling of the request and marshalling of the response.
//
// Usage:
//
//	headHandler := hostfuncs.NewJSONHandler(func(ctx context.Context, req wireformat.HTTPCallHead) (any, error) {
//	    return calls.Head(ctx, req), nil
//	})
func NewJSONHandler[Req any, Resp any](fn HostFunc[Req, Resp]) ByteHandler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req Req
		if err := json.Unmarshal(payload, &req); err != nil {
			kind := ""
			if hc, ok := ctx.(HostContext); ok {
				kind = string(hc.MessageKind())
			}
			return nil, &domainerrors.ProtocolError{Kind: kind, Err: fmt.Errorf("unmarshal request: %w", err)}
		}

		resp, err := fn(ctx, req)
		if err != nil {
			return nil, err
		}
		return toJSON(resp)
	}
}

func toJSON(v any) ([]byte, error) {
	data, err := wireformat.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	return data, nil
}
