package hostfuncs

import (
	"context"
	"fmt"
	"sort"

	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// HandlerRegistry is an immutable collection of message handlers keyed by message kind.
// Once created via NewRegistry, handlers cannot be added or removed, so lookups during
// an exchange need no locking.
type HandlerRegistry struct {
	handlers map[wireformat.Kind]ByteHandler
	kinds    []wireformat.Kind // sorted for consistent iteration
}

// registryBuilder accumulates configuration during registry construction.
type registryBuilder struct {
	handlers   map[wireformat.Kind]ByteHandler
	middleware []Middleware
	errors     []error
}

// NewRegistry creates an immutable HandlerRegistry with the given options.
// Returns an error if any kind is registered twice.
//
// Example usage:
//
//	registry, err := NewRegistry(
//	    WithMiddleware(PanicRecoveryMiddleware()),
//	    WithBundle(NewCapabilityBundle(streams, WithNetwork(network))),
//	    WithHandler(wireformat.KindPerformInput, performInput),
//	)
func NewRegistry(opts ...RegistryOption) (*HandlerRegistry, error) {
	b := &registryBuilder{
		handlers: make(map[wireformat.Kind]ByteHandler),
	}

	for _, opt := range opts {
		opt(b)
	}

	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}

	kinds := make([]wireformat.Kind, 0, len(b.handlers))
	for kind := range b.handlers {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	// First middleware wraps outermost.
	wrapped := make(map[wireformat.Kind]ByteHandler, len(b.handlers))
	for kind, handler := range b.handlers {
		h := handler
		for i := len(b.middleware) - 1; i >= 0; i-- {
			h = b.middleware[i](h)
		}
		wrapped[kind] = h
	}

	return &HandlerRegistry{
		handlers: wrapped,
		kinds:    kinds,
	}, nil
}

// Invoke dispatches a message document to the handler for kind.
// A kind without a handler is answered with an err response, not a Go error:
// the core asked for a capability the embedder did not supply.
func (r *HandlerRegistry) Invoke(ctx context.Context, kind wireformat.Kind, payload []byte) ([]byte, error) {
	handler, ok := r.handlers[kind]
	if !ok {
		return toJSON(NewNotFoundError(kind))
	}
	return handler(HostContextFrom(ctx, kind), payload)
}

// Has returns true if a handler for kind is registered.
func (r *HandlerRegistry) Has(kind wireformat.Kind) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Kinds returns a sorted list of all registered kinds.
func (r *HandlerRegistry) Kinds() []wireformat.Kind {
	result := make([]wireformat.Kind, len(r.kinds))
	copy(result, r.kinds)
	return result
}

func (b *registryBuilder) addHandler(kind wireformat.Kind, handler ByteHandler) error {
	if kind == "" {
		return fmt.Errorf("handler kind cannot be empty")
	}
	if _, exists := b.handlers[kind]; exists {
		return fmt.Errorf("duplicate handler kind: %q", kind)
	}
	b.handlers[kind] = handler
	return nil
}

// WithByteHandler registers a raw ByteHandler for kind.
// Use WithHandler for type-safe registration with automatic JSON handling.
func WithByteHandler(kind wireformat.Kind, handler ByteHandler) RegistryOption {
	return func(b *registryBuilder) {
		if err := b.addHandler(kind, handler); err != nil {
			b.errors = append(b.errors, err)
		}
	}
}

// WithHandler registers a typed handler wrapped with NewJSONHandler.
func WithHandler[Req any, Resp any](kind wireformat.Kind, fn HostFunc[Req, Resp]) RegistryOption {
	return WithByteHandler(kind, NewJSONHandler(fn))
}

// WithMiddleware adds middleware to the registry.
// Middleware executes in FIFO order (first added wraps first).
func WithMiddleware(mw ...Middleware) RegistryOption {
	return func(b *registryBuilder) {
		b.middleware = append(b.middleware, mw...)
	}
}
