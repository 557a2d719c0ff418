package ports

import (
	"context"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
)

// Sandbox compiles core images into instantiable modules.
type Sandbox interface {
	Compile(ctx context.Context, image []byte) (CompiledCore, error)
	Close(ctx context.Context) error
}

// CompiledCore is a validated core image that can be instantiated many times.
type CompiledCore interface {
	Instantiate(ctx context.Context, sys entities.SystemInterface, bridge CoreBridge) (CoreInstance, error)
	Close(ctx context.Context) error
}

// CoreInstance is one live copy of the core. Calls must not overlap.
// A returned error from Setup, Perform or Teardown means the core trapped.
type CoreInstance interface {
	Setup(ctx context.Context) error
	Perform(ctx context.Context) error
	Teardown(ctx context.Context) error
	// TakeMetrics returns the buffered metric events and clears them inside the core.
	TakeMetrics(ctx context.Context) ([]string, error)
	DeveloperDump(ctx context.Context) ([]string, error)
	Close(ctx context.Context) error
}

// CoreBridge is the host side of the boundary a CoreInstance calls into.
// An error returned from Exchange is a protocol violation and aborts the core.
type CoreBridge interface {
	Exchange(ctx context.Context, message []byte) ([]byte, error)
	StreamRead(ctx context.Context, handle uint32, p []byte) (int, error)
	StreamWrite(ctx context.Context, handle uint32, p []byte) (int, error)
	StreamClose(ctx context.Context, handle uint32) error
}
