package hostfuncs

import (
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// HostFuncBundle is a pre-configured set of related handlers.
// Bundles allow registering multiple handlers at once.
type HostFuncBundle interface {
	// Handlers returns the handlers keyed by message kind.
	Handlers() map[wireformat.Kind]ByteHandler
}

// CapabilityBundle answers the capability messages of one core instance:
// http-call, http-call-head and file-open.
type CapabilityBundle struct {
	network    ports.Network
	fileSystem ports.FileSystem
	streams    *StreamTable
	calls      *HTTPCalls
	opener     *FileOpener
}

// CapabilityOption configures a CapabilityBundle.
type CapabilityOption func(*CapabilityBundle)

// WithNetwork supplies the network capability.
func WithNetwork(n ports.Network) CapabilityOption {
	return func(b *CapabilityBundle) {
		b.network = n
	}
}

// WithFileSystem supplies the filesystem capability.
func WithFileSystem(fs ports.FileSystem) CapabilityOption {
	return func(b *CapabilityBundle) {
		b.fileSystem = fs
	}
}

// NewCapabilityBundle creates the capability handlers for one core instance.
// Streams they open are registered in streams. Capabilities that are not supplied
// answer with an err response.
func NewCapabilityBundle(streams *StreamTable, opts ...CapabilityOption) *CapabilityBundle {
	b := &CapabilityBundle{streams: streams}
	for _, opt := range opts {
		opt(b)
	}
	b.calls = NewHTTPCalls(b.network, streams)
	b.opener = NewFileOpener(b.fileSystem, streams)
	return b
}

// Handlers implements HostFuncBundle.
func (b *CapabilityBundle) Handlers() map[wireformat.Kind]ByteHandler {
	return map[wireformat.Kind]ByteHandler{
		wireformat.KindHTTPCall:     NewJSONHandler(b.calls.Call),
		wireformat.KindHTTPCallHead: NewJSONHandler(b.calls.Head),
		wireformat.KindFileOpen:     NewJSONHandler(b.opener.Open),
	}
}

// Close cancels pending fetches. Streams are owned by the StreamTable.
func (b *CapabilityBundle) Close() {
	b.calls.Close()
}

// WithBundle registers all handlers from a bundle.
func WithBundle(bundle HostFuncBundle) RegistryOption {
	return func(b *registryBuilder) {
		for kind, handler := range bundle.Handlers() {
			if err := b.addHandler(kind, handler); err != nil {
				b.errors = append(b.errors, err)
			}
		}
	}
}
