package coretest

import (
	"testing"

	"github.com/wippyai/wasm-runtime/wat"
)

// Use case names the mock core recognizes in the perform-input response.
const (
	UsecaseTrue            = "CORE_PERFORM_TRUE"
	UsecasePanic           = "CORE_PERFORM_PANIC"
	UsecaseValidationError = "CORE_PERFORM_INPUT_VALIDATION_ERROR"
	UsecaseMapError        = "CORE_PERFORM_MAP_ERROR"
	UsecaseException       = "CORE_PERFORM_EXCEPTION"
	UsecaseNoOutput        = "CORE_PERFORM_NO_OUTPUT"
	UsecaseUnknownMessage  = "CORE_PERFORM_UNKNOWN_MESSAGE"
)

// MockCoreWAT is a core that requests its input and answers according to the
// use case name found in the response:
//
//   - CORE_PERFORM_TRUE: result true
//   - CORE_PERFORM_PANIC: writes "core panicked" to stderr and traps
//   - CORE_PERFORM_INPUT_VALIDATION_ERROR: InputValidationError exception
//   - CORE_PERFORM_MAP_ERROR: map error {"title":"NotFound"}
//   - CORE_PERFORM_EXCEPTION: UnexpectedError exception
//   - CORE_PERFORM_NO_OUTPUT: returns without output
//   - CORE_PERFORM_UNKNOWN_MESSAGE: sends a message of unknown kind
//
// Anything else traps. The input response is read through a 256 byte buffer so
// larger responses exercise message_exchange_retrieve. Every perform buffers the
// metric event "perform" until metrics are cleared.
const MockCoreWAT = `(module
	(import "sf_host_unstable" "message_exchange" (func $exchange (param i32 i32 i32 i32 i32) (result i32)))
	(import "sf_host_unstable" "message_exchange_retrieve" (func $retrieve (param i32 i32 i32) (result i64)))
	(import "wasi_snapshot_preview1" "fd_write" (func $fd_write (param i32 i32 i32 i32) (result i32)))

	(memory (export "memory") 1)
	(global $performs (mut i32) (i32.const 0))

	(data (i32.const 0) "{\"kind\":\"perform-input\"}")
	(data (i32.const 64) "{\"kind\":\"perform-output-result\",\"result\":true}")
	(data (i32.const 160) "{\"kind\":\"perform-output-exception\",\"exception\":{\"error_code\":\"InputValidationError\",\"message\":\"Test validation error\"}}")
	(data (i32.const 300) "{\"kind\":\"perform-output-error\",\"error\":{\"title\":\"NotFound\"}}")
	(data (i32.const 384) "{\"kind\":\"perform-output-exception\",\"exception\":{\"error_code\":\"UnexpectedError\",\"message\":\"core failed\"}}")
	(data (i32.const 528) "CORE_PERFORM_TRUE")
	(data (i32.const 560) "CORE_PERFORM_PANIC")
	(data (i32.const 592) "CORE_PERFORM_INPUT_VALIDATION_ERROR")
	(data (i32.const 640) "CORE_PERFORM_MAP_ERROR")
	(data (i32.const 672) "CORE_PERFORM_NO_OUTPUT")
	(data (i32.const 704) "CORE_PERFORM_UNKNOWN_MESSAGE")
	(data (i32.const 736) "CORE_PERFORM_EXCEPTION")
	(data (i32.const 768) "{\"kind\":\"bogus\"}")
	(data (i32.const 800) "core panicked\0a")
	(data (i32.const 6000) "[\"perform\"]")
	(data (i32.const 6016) "[\"developer dump\"]")

	(func $contains (param $h i32) (param $hl i32) (param $n i32) (param $nl i32) (result i32)
		(local $i i32) (local $j i32)
		(if (i32.lt_u (local.get $hl) (local.get $nl)) (then (return (i32.const 0))))
		(block $done
			(loop $outer
				(br_if $done (i32.gt_u (local.get $i) (i32.sub (local.get $hl) (local.get $nl))))
				(local.set $j (i32.const 0))
				(block $mismatch
					(loop $inner
						(if (i32.eq (local.get $j) (local.get $nl)) (then (return (i32.const 1))))
						(br_if $mismatch (i32.ne
							(i32.load8_u (i32.add (local.get $h) (i32.add (local.get $i) (local.get $j))))
							(i32.load8_u (i32.add (local.get $n) (local.get $j)))))
						(local.set $j (i32.add (local.get $j) (i32.const 1)))
						(br $inner)))
				(local.set $i (i32.add (local.get $i) (i32.const 1)))
				(br $outer)))
		(i32.const 0))

	(func $send (param $p i32) (param $l i32)
		(drop (call $exchange (local.get $p) (local.get $l) (i32.const 5200) (i32.const 64) (i32.const 512))))

	(func $panic
		(i32.store (i32.const 832) (i32.const 800))
		(i32.store (i32.const 836) (i32.const 14))
		(drop (call $fd_write (i32.const 2) (i32.const 832) (i32.const 1) (i32.const 840)))
		(unreachable))

	(func (export "oneclient_core_setup"))
	(func (export "oneclient_core_teardown"))

	(func (export "oneclient_core_perform")
		(local $n i32) (local $h i32)
		(global.set $performs (i32.add (global.get $performs) (i32.const 1)))
		(local.set $n (call $exchange (i32.const 0) (i32.const 24) (i32.const 1024) (i32.const 256) (i32.const 512)))
		(local.set $h (i32.load (i32.const 512)))
		(if (local.get $h) (then
			(if (i64.lt_s (call $retrieve (local.get $h) (i32.const 1024) (i32.const 4096)) (i64.const 0))
				(then (unreachable)))))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 560) (i32.const 18))
			(then (call $panic)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 592) (i32.const 35))
			(then (call $send (i32.const 160) (i32.const 119)) (return)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 640) (i32.const 22))
			(then (call $send (i32.const 300) (i32.const 60)) (return)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 736) (i32.const 22))
			(then (call $send (i32.const 384) (i32.const 104)) (return)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 672) (i32.const 22))
			(then (return)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 704) (i32.const 28))
			(then (call $send (i32.const 768) (i32.const 16)) (return)))
		(if (call $contains (i32.const 1024) (local.get $n) (i32.const 528) (i32.const 17))
			(then (call $send (i32.const 64) (i32.const 46)) (return)))
		(unreachable))

	(func (export "oneclient_core_get_metrics") (result i64)
		(if (i32.eqz (global.get $performs)) (then (return (i64.const 0))))
		(i64.or (i64.shl (i64.const 6000) (i64.const 32)) (i64.const 11)))

	(func (export "oneclient_core_clear_metrics")
		(global.set $performs (i32.const 0)))

	(func (export "oneclient_core_get_developer_dump") (result i64)
		(i64.or (i64.shl (i64.const 6016) (i64.const 32)) (i64.const 18))))
`

// StreamCoreWAT is a core whose perform copies stream 1 into stream 2, closes
// stream 1 twice expecting the second close to fail with a bad handle, and sends
// what it read as a message.
const StreamCoreWAT = `(module
	(import "sf_host_unstable" "message_exchange" (func $exchange (param i32 i32 i32 i32 i32) (result i32)))
	(import "sf_host_unstable" "stream_read" (func $stream_read (param i32 i32 i32) (result i64)))
	(import "sf_host_unstable" "stream_write" (func $stream_write (param i32 i32 i32) (result i64)))
	(import "sf_host_unstable" "stream_close" (func $stream_close (param i32) (result i64)))

	(memory (export "memory") 1)

	(func (export "oneclient_core_setup"))
	(func (export "oneclient_core_teardown"))

	(func (export "oneclient_core_perform")
		(local $n i64)
		(local.set $n (call $stream_read (i32.const 1) (i32.const 2048) (i32.const 1024)))
		(if (i64.lt_s (local.get $n) (i64.const 0)) (then (unreachable)))
		(if (i64.lt_s (call $stream_write (i32.const 2) (i32.const 2048) (i32.wrap_i64 (local.get $n))) (i64.const 0))
			(then (unreachable)))
		(if (i64.ne (call $stream_close (i32.const 1)) (i64.const 0)) (then (unreachable)))
		(if (i64.ne (call $stream_close (i32.const 1)) (i64.const -8)) (then (unreachable)))
		(if (i64.ne (call $stream_read (i32.const 1) (i32.const 2048) (i32.const 16)) (i64.const -8)) (then (unreachable)))
		(if (i64.ne (call $stream_read (i32.const 2) (i32.const 65530) (i32.const 64)) (i64.const -14)) (then (unreachable)))
		(drop (call $exchange (i32.const 2048) (i32.wrap_i64 (local.get $n)) (i32.const 4096) (i32.const 64) (i32.const 512)))))
`

// SetupTrapCoreWAT is a core whose setup traps.
const SetupTrapCoreWAT = `(module
	(memory (export "memory") 1)
	(func (export "oneclient_core_setup") (unreachable))
	(func (export "oneclient_core_teardown"))
	(func (export "oneclient_core_perform")))
`

// MustCompile compiles WAT source into a core image.
func MustCompile(t testing.TB, source string) []byte {
	t.Helper()
	image, err := wat.Compile(source)
	if err != nil {
		t.Fatalf("compile core: %v", err)
	}
	return image
}

// MockCore returns the compiled MockCoreWAT image.
func MockCore() ([]byte, error) {
	return wat.Compile(MockCoreWAT)
}
