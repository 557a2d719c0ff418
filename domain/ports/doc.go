// Package ports defines the interfaces the host runtime depends on.
// Capabilities (network, filesystem, timers, text coding, persistence) and the
// sandbox are supplied by infrastructure adapters or by the embedder.
package ports
