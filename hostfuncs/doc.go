// Package hostfuncs answers the messages a core sends to the host.
// Handlers are plain Go with no WASM runtime dependency: they take a JSON document
// and return a JSON document, so any sandbox adapter can dispatch to them.
package hostfuncs
