package hostfuncs

import (
	"errors"
	"fmt"
	"io"

	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"go.uber.org/multierr"
)

// ErrNotWritable is returned when writing to a read-only stream such as a response body.
var ErrNotWritable = errors.New("stream is not writable")

// Stream is a byte stream the core addresses by handle.
type Stream interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// StreamTable owns the streams of one core instance.
// Handles stay unique for the life of the table; a closed handle is never reissued.
type StreamTable struct {
	streams *handles.Table[Stream]
}

// NewStreamTable creates an empty StreamTable.
func NewStreamTable() *StreamTable {
	return &StreamTable{streams: handles.NewTable[Stream]()}
}

// Insert takes ownership of s and returns its handle.
func (t *StreamTable) Insert(s Stream) uint32 {
	return t.streams.Insert(s)
}

// Read reads from the stream. End of stream is reported as 0 bytes and a nil error.
func (t *StreamTable) Read(handle uint32, p []byte) (int, error) {
	s, err := t.streams.Get(handle)
	if err != nil {
		return 0, err
	}
	n, err := s.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	return n, err
}

// Write writes p to the stream.
func (t *StreamTable) Write(handle uint32, p []byte) (int, error) {
	s, err := t.streams.Get(handle)
	if err != nil {
		return 0, err
	}
	return s.Write(p)
}

// Close closes the stream and releases its handle. Closing twice fails with handles.ErrClosed.
func (t *StreamTable) Close(handle uint32) error {
	s, err := t.streams.Remove(handle)
	if err != nil {
		return err
	}
	return s.Close()
}

// CloseAll closes every open stream.
func (t *StreamTable) CloseAll() error {
	var errs error
	for _, s := range t.streams.Drain() {
		errs = multierr.Append(errs, s.Close())
	}
	return errs
}

// Len returns the number of open streams.
func (t *StreamTable) Len() int {
	return t.streams.Len()
}

type readerStream struct {
	io.ReadCloser
}

// ReaderStream adapts a read-only body into a Stream.
func ReaderStream(rc io.ReadCloser) Stream {
	return readerStream{ReadCloser: rc}
}

func (readerStream) Write([]byte) (int, error) {
	return 0, ErrNotWritable
}

type fileStream struct {
	fs     ports.FileSystem
	handle uint32
}

// FileStream adapts an open FileSystem handle into a Stream.
func FileStream(fs ports.FileSystem, handle uint32) Stream {
	return &fileStream{fs: fs, handle: handle}
}

func (f *fileStream) Read(p []byte) (int, error) {
	n, err := f.fs.Read(f.handle, p)
	if err != nil {
		return n, fmt.Errorf("read file handle %d: %w", f.handle, err)
	}
	return n, nil
}

func (f *fileStream) Write(p []byte) (int, error) {
	n, err := f.fs.Write(f.handle, p)
	if err != nil {
		return n, fmt.Errorf("write file handle %d: %w", f.handle, err)
	}
	return n, nil
}

func (f *fileStream) Close() error {
	return f.fs.Close(f.handle)
}
