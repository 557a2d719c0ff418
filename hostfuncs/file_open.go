package hostfuncs

import (
	"context"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

// FileOpener handles file-open by opening the file through the FileSystem capability
// and exposing it to the core as a stream.
type FileOpener struct {
	fs      ports.FileSystem
	streams *StreamTable
}

// NewFileOpener creates a FileOpener. A nil fs answers every open with an err response.
func NewFileOpener(fs ports.FileSystem, streams *StreamTable) *FileOpener {
	return &FileOpener{fs: fs, streams: streams}
}

// Open handles file-open.
func (o *FileOpener) Open(ctx context.Context, msg wireformat.FileOpen) (any, error) {
	if o.fs == nil {
		return NewErrorResponse(&domainerrors.CapabilityError{Required: "filesystem"}), nil
	}

	handle, err := o.fs.Open(ctx, msg.Path, msg.FileOpenOptions)
	if err != nil {
		return NewErrorResponse(err), nil
	}
	return wireformat.FileOpenOk{
		Kind:   wireformat.ResponseOk,
		Stream: o.streams.Insert(FileStream(o.fs, handle)),
	}, nil
}
