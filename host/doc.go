// Package host runs a OneClient core inside a sandbox and drives its lifecycle.
//
// A Runtime loads a core image, instantiates it with a set of capabilities and
// executes perform requests against it. The core talks back to the host through the
// message exchange protocol (see package wireformat): it asks for the perform input,
// issues HTTP calls and file opens, and finally delivers a result, a map error or an
// exception. Traps and protocol violations poison the instance, which is replaced on
// the next perform.
//
// Metric events the core buffers are flushed to the Persistence capability shortly
// after each perform and when the runtime is destroyed.
package host
