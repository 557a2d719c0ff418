package hostfuncs

import (
	"context"
	"time"

	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// HostContext is the context handed to handlers and middleware.
// It carries the kind of the message being answered.
type HostContext interface {
	context.Context

	// MessageKind returns the kind of the message being handled.
	MessageKind() wireformat.Kind

	// Received returns when the registry accepted the message.
	Received() time.Time
}

type hostContext struct {
	context.Context
	received time.Time
	kind     wireformat.Kind
}

// NewHostContext creates a HostContext for a message of the given kind.
func NewHostContext(ctx context.Context, kind wireformat.Kind) HostContext {
	return &hostContext{Context: ctx, kind: kind, received: time.Now()}
}

func (c *hostContext) MessageKind() wireformat.Kind { return c.kind }

func (c *hostContext) Received() time.Time { return c.received }

// HostContextFrom returns ctx if it already is a HostContext, or wraps it.
func HostContextFrom(ctx context.Context, kind wireformat.Kind) HostContext {
	if hc, ok := ctx.(HostContext); ok {
		return hc
	}
	return NewHostContext(ctx, kind)
}
