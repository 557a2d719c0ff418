package wazero

import (
	"context"
	"fmt"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
)

// contextKey is a private type for context keys.
type contextKey struct {
	name string
}

var callStateKey = &contextKey{name: "core_call_state"}

// callState is what host functions need to answer one instance.
type callState struct {
	bridge         ports.CoreBridge
	pending        *handles.Table[[]byte]
	maxMessageSize uint32
}

func newCallState(bridge ports.CoreBridge, maxMessageSize uint32) *callState {
	return &callState{
		bridge:         bridge,
		pending:        handles.NewTable[[]byte](),
		maxMessageSize: maxMessageSize,
	}
}

// withCallState adds the instance state to the context of a call into the core.
func withCallState(ctx context.Context, state *callState) context.Context {
	return context.WithValue(ctx, callStateKey, state)
}

// callStateFrom retrieves the instance state from the context.
func callStateFrom(ctx context.Context) (*callState, bool) {
	state, ok := ctx.Value(callStateKey).(*callState)
	return state, ok
}

// mustCallState aborts the core when a host function runs outside an instance call.
func mustCallState(ctx context.Context, fn string) *callState {
	state, ok := callStateFrom(ctx)
	if !ok {
		panic(&domainerrors.ProtocolError{Err: fmt.Errorf("%s called outside of a core call", fn)})
	}
	return state
}
