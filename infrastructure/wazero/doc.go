// Package wazero runs cores on the wazero WebAssembly runtime.
//
// Engine implements ports.Sandbox. It owns one wazero runtime with WASI
// instantiated and registers the host import module the core links against
// (default name "sf_host_unstable"):
//
//   - message_exchange(msg_ptr, msg_len, out_ptr, out_len, ret_handle_ptr) -> i32
//   - message_exchange_retrieve(handle, out_ptr, out_len) -> i64
//   - stream_read(handle, out_ptr, out_len) -> i64
//   - stream_write(handle, in_ptr, in_len) -> i64
//   - stream_close(handle) -> i64
//
// message_exchange returns the full response length. When the response does not
// fit the output buffer it is kept by the host and its retrieval handle is written
// to ret_handle_ptr; otherwise 0 is written there. Negative i64 results are -errno.
//
// Host functions are shared by every instance of the runtime. Each call into the
// core carries its instance state in the context, which is how a host function
// finds the bridge it answers through.
//
// # Basic Usage
//
//	engine, err := wazero.NewEngine(ctx, wazero.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	compiled, err := engine.Compile(ctx, image)
//	instance, err := compiled.Instantiate(ctx, sys, bridge)
//	err = instance.Setup(ctx)
package wazero
