// Package entities provides the domain types shared by the host runtime, the protocol
// handlers and the capability adapters.
package entities
