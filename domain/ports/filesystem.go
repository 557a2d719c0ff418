package ports

import (
	"context"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
)

// FileSystem opens and operates on files addressed by opaque handles.
// A handle is invalid after Close; using it returns an error.
type FileSystem interface {
	Open(ctx context.Context, path string, opts entities.FileOpenOptions) (uint32, error)
	// Read fills p and returns the number of bytes read. Zero means end of file.
	Read(handle uint32, p []byte) (int, error)
	Write(handle uint32, p []byte) (int, error)
	Close(handle uint32) error
}
