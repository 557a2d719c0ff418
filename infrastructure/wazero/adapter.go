package wazero

import (
	"bytes"
	"context"
	"fmt"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// DefaultHostModuleName is the import module name cores link against.
const DefaultHostModuleName = "sf_host_unstable"

// AdapterConfig holds configuration for the engine and its host module.
type AdapterConfig struct {
	// Logger receives debug output about core calls. Default is a no-op logger.
	Logger *zap.Logger

	// ModuleName is the host module name (default: "sf_host_unstable").
	ModuleName string

	// MaxMessageSize limits the size of a message read from guest memory.
	// Default is hostfuncs.DefaultMaxMessageSize.
	MaxMessageSize uint32

	// MaxStderrSize limits how much core stderr is kept for trap reports.
	MaxStderrSize int

	// MemoryLimitPages caps instance memory in 64KB pages. 0 keeps the wazero default.
	MemoryLimitPages uint32
}

// AdapterOption configures the engine.
type AdapterOption func(*AdapterConfig)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) AdapterOption {
	return func(c *AdapterConfig) {
		c.Logger = logger
	}
}

// WithModuleName sets the host module name.
func WithModuleName(name string) AdapterOption {
	return func(c *AdapterConfig) {
		c.ModuleName = name
	}
}

// WithMaxMessageSize sets the maximum message size read from guest memory.
func WithMaxMessageSize(size uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxMessageSize = size
	}
}

// WithMaxStderrSize sets how many bytes of core stderr are retained.
func WithMaxStderrSize(size int) AdapterOption {
	return func(c *AdapterConfig) {
		c.MaxStderrSize = size
	}
}

// WithMemoryLimitPages caps the memory of every instance.
func WithMemoryLimitPages(pages uint32) AdapterOption {
	return func(c *AdapterConfig) {
		c.MemoryLimitPages = pages
	}
}

// defaultAdapterConfig returns the default adapter configuration.
func defaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		Logger:         zap.NewNop(),
		ModuleName:     DefaultHostModuleName,
		MaxMessageSize: hostfuncs.DefaultMaxMessageSize,
		MaxStderrSize:  hostfuncs.DefaultMaxOutputSize,
	}
}

// registerHostModule instantiates the host import module in the runtime.
func registerHostModule(ctx context.Context, runtime wazero.Runtime, cfg AdapterConfig) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	builder := runtime.NewHostModuleBuilder(cfg.ModuleName)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(messageExchange), []api.ValueType{i32, i32, i32, i32, i32}, []api.ValueType{i32}).
		WithParameterNames("msg_ptr", "msg_len", "out_ptr", "out_len", "ret_handle_ptr").
		Export("message_exchange")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(messageExchangeRetrieve), []api.ValueType{i32, i32, i32}, []api.ValueType{i64}).
		WithParameterNames("handle", "out_ptr", "out_len").
		Export("message_exchange_retrieve")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(streamRead), []api.ValueType{i32, i32, i32}, []api.ValueType{i64}).
		WithParameterNames("handle", "out_ptr", "out_len").
		Export("stream_read")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(streamWrite), []api.ValueType{i32, i32, i32}, []api.ValueType{i64}).
		WithParameterNames("handle", "in_ptr", "in_len").
		Export("stream_write")
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(streamClose), []api.ValueType{i32}, []api.ValueType{i64}).
		WithParameterNames("handle").
		Export("stream_close")

	_, err := builder.Instantiate(ctx)
	return err
}

// messageExchange sends one message to the host and answers with the response.
// Failures here are protocol violations: the function panics and the core call aborts.
func messageExchange(ctx context.Context, mod api.Module, stack []uint64) {
	state := mustCallState(ctx, "message_exchange")

	msgPtr := api.DecodeU32(stack[0])
	msgLen := api.DecodeU32(stack[1])
	outPtr := api.DecodeU32(stack[2])
	outLen := api.DecodeU32(stack[3])
	retHandlePtr := api.DecodeU32(stack[4])

	if msgLen > state.maxMessageSize {
		panic(&domainerrors.ProtocolError{Err: fmt.Errorf("message size %d exceeds maximum %d bytes", msgLen, state.maxMessageSize)})
	}

	mem := mod.Memory()
	view, ok := mem.Read(msgPtr, msgLen)
	if !ok {
		panic(&domainerrors.ProtocolError{Err: fmt.Errorf("message at %d+%d is out of bounds", msgPtr, msgLen)})
	}
	// The view aliases guest memory; the bridge may keep the message.
	msg := bytes.Clone(view)

	resp, err := state.bridge.Exchange(ctx, msg)
	if err != nil {
		panic(err)
	}
	if uint64(len(resp)) > uint64(^uint32(0)) {
		panic(&domainerrors.ProtocolError{Err: fmt.Errorf("response of %d bytes does not fit the ABI", len(resp))})
	}
	respLen := uint32(len(resp)) //nolint:gosec // G115: bounded above

	var handle uint32
	if respLen <= outLen {
		if !mem.Write(outPtr, resp) {
			panic(&domainerrors.ProtocolError{Err: fmt.Errorf("output buffer at %d+%d is out of bounds", outPtr, outLen)})
		}
	} else {
		handle = state.pending.Insert(resp)
	}
	if !mem.WriteUint32Le(retHandlePtr, handle) {
		panic(&domainerrors.ProtocolError{Err: fmt.Errorf("return handle pointer %d is out of bounds", retHandlePtr)})
	}

	stack[0] = api.EncodeU32(respLen)
}

// messageExchangeRetrieve copies a response that did not fit into the output buffer.
// The handle is released once the copy succeeds.
func messageExchangeRetrieve(ctx context.Context, mod api.Module, stack []uint64) {
	state := mustCallState(ctx, "message_exchange_retrieve")

	handle := api.DecodeU32(stack[0])
	outPtr := api.DecodeU32(stack[1])
	outLen := api.DecodeU32(stack[2])

	resp, err := state.pending.Get(handle)
	if err != nil {
		stack[0] = errnoResult(errnoBadf)
		return
	}
	if uint64(len(resp)) > uint64(outLen) {
		stack[0] = errnoResult(errnoInval)
		return
	}
	if !mod.Memory().Write(outPtr, resp) {
		stack[0] = errnoResult(errnoFault)
		return
	}
	_, _ = state.pending.Remove(handle)

	stack[0] = api.EncodeI64(int64(len(resp)))
}

// packPtrLen packs a pointer and length into a single i64.
// Upper 32 bits: pointer, lower 32 bits: length.
func packPtrLen(ptr, length uint32) uint64 {
	return (uint64(ptr) << 32) | uint64(length)
}

// unpackPtrLen unpacks a pointer and length from a packed i64.
func unpackPtrLen(packed uint64) (ptr, length uint32) {
	ptr = uint32(packed >> 32)           //nolint:gosec // G115: Packed format stores 32-bit values
	length = uint32(packed & 0xFFFFFFFF) //nolint:gosec // G115: Packed format stores 32-bit values
	return ptr, length
}
