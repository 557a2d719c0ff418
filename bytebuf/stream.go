package bytebuf

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ChunkSize is the size of each read issued by ReadToEnd.
const ChunkSize = 8192

// ErrStreamClosed is returned when reading from a stream after Close.
var ErrStreamClosed = errors.New("stream closed")

// Stream is a pull-based byte source. A read of zero bytes with a nil error marks the end.
type Stream interface {
	Read(p []byte) (int, error)
	Close() error
}

// StreamSource reads and closes streams addressed by handle.
// The source tracks each stream's cursor.
type StreamSource interface {
	StreamRead(handle uint32, p []byte) (int, error)
	StreamClose(handle uint32) error
}

// HandleStream is a Stream backed by a handle on a StreamSource.
type HandleStream struct {
	source StreamSource
	handle uint32
	mu     sync.Mutex
	closed bool
}

// NewHandleStream wraps handle on source as a Stream.
func NewHandleStream(handle uint32, source StreamSource) *HandleStream {
	return &HandleStream{handle: handle, source: source}
}

// Handle returns the underlying handle.
func (s *HandleStream) Handle() uint32 { return s.handle }

// Read reads up to len(p) bytes.
func (s *HandleStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrStreamClosed
	}
	return s.source.StreamRead(s.handle, p)
}

// Close releases the handle. Subsequent calls return ErrStreamClosed.
func (s *HandleStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.closed = true
	s.mu.Unlock()
	return s.source.StreamClose(s.handle)
}

// ReadToEnd drains s into a new buffer in ChunkSize reads and closes s exactly once,
// also when a read fails or panics.
func ReadToEnd(s Stream) (out *Bytes, err error) {
	defer func() {
		closeErr := s.Close()
		if err == nil && closeErr != nil {
			err = fmt.Errorf("close stream: %w", closeErr)
		}
	}()

	out = New(ChunkSize)
	for {
		out.Reserve(ChunkSize)
		n, readErr := s.Read(out.UninitData()[:ChunkSize])
		if n > 0 {
			if err := out.Commit(n); err != nil {
				return nil, fmt.Errorf("read stream: %w", err)
			}
		}
		if errors.Is(readErr, io.EOF) {
			return out, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("read stream: %w", readErr)
		}
		if n == 0 {
			return out, nil
		}
	}
}
