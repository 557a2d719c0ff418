package wazero

import (
	"context"
	"errors"

	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"github.com/tetratelabs/wazero/api"
)

// Errno values returned negated from stream and retrieve functions.
const (
	errnoIO    = 5
	errnoBadf  = 8
	errnoFault = 14
	errnoInval = 22
)

func errnoResult(errno int64) uint64 {
	return api.EncodeI64(-errno)
}

// errnoFor maps a stream failure to the errno the core sees.
func errnoFor(err error) int64 {
	switch {
	case errors.Is(err, handles.ErrInvalid), errors.Is(err, handles.ErrClosed):
		return errnoBadf
	case errors.Is(err, hostfuncs.ErrNotWritable):
		return errnoInval
	default:
		return errnoIO
	}
}

// streamRead reads from a host stream straight into guest memory.
// A result of 0 means end of stream.
func streamRead(ctx context.Context, mod api.Module, stack []uint64) {
	state := mustCallState(ctx, "stream_read")

	handle := api.DecodeU32(stack[0])
	outPtr := api.DecodeU32(stack[1])
	outLen := api.DecodeU32(stack[2])

	buf, ok := mod.Memory().Read(outPtr, outLen)
	if !ok {
		stack[0] = errnoResult(errnoFault)
		return
	}
	n, err := state.bridge.StreamRead(ctx, handle, buf)
	if err != nil {
		stack[0] = errnoResult(errnoFor(err))
		return
	}
	stack[0] = api.EncodeI64(int64(n))
}

// streamWrite writes guest memory to a host stream.
func streamWrite(ctx context.Context, mod api.Module, stack []uint64) {
	state := mustCallState(ctx, "stream_write")

	handle := api.DecodeU32(stack[0])
	inPtr := api.DecodeU32(stack[1])
	inLen := api.DecodeU32(stack[2])

	buf, ok := mod.Memory().Read(inPtr, inLen)
	if !ok {
		stack[0] = errnoResult(errnoFault)
		return
	}
	n, err := state.bridge.StreamWrite(ctx, handle, buf)
	if err != nil {
		stack[0] = errnoResult(errnoFor(err))
		return
	}
	stack[0] = api.EncodeI64(int64(n))
}

// streamClose releases a host stream. Closing twice reports a bad handle.
func streamClose(ctx context.Context, _ api.Module, stack []uint64) {
	state := mustCallState(ctx, "stream_close")

	if err := state.bridge.StreamClose(ctx, api.DecodeU32(stack[0])); err != nil {
		stack[0] = errnoResult(errnoFor(err))
		return
	}
	stack[0] = 0
}
