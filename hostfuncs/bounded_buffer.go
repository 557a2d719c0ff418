package hostfuncs

import (
	"bytes"
	"sync"
)

// DefaultMaxOutputSize is the default limit for captured core stderr (64KB).
const DefaultMaxOutputSize = 64 * 1024

// DefaultMaxMessageSize limits the size of a single message document (4MB).
// This prevents a core from triggering OOM by claiming huge message sizes.
const DefaultMaxMessageSize = 4 * 1024 * 1024

// BoundedBuffer is an io.Writer that keeps at most limit bytes and discards the rest.
// It is safe for concurrent use.
type BoundedBuffer struct {
	mu        sync.Mutex
	buffer    bytes.Buffer
	limit     int
	truncated bool
}

// NewBoundedBuffer creates a new BoundedBuffer with the specified limit.
func NewBoundedBuffer(limit int) *BoundedBuffer {
	return &BoundedBuffer{limit: limit}
}

// Write implements io.Writer. It always reports len(p) bytes written so that
// writers such as a core's stderr never see a short write.
func (b *BoundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buffer.Len()
	if remaining <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > remaining {
		b.truncated = true
		b.buffer.Write(p[:remaining])
		return len(p), nil
	}
	b.buffer.Write(p)
	return len(p), nil
}

// String returns the buffer contents as a string.
func (b *BoundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

// Len returns the current length of the buffer.
func (b *BoundedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Len()
}

// Truncated reports whether any data was discarded.
func (b *BoundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Reset empties the buffer and clears the truncation flag.
func (b *BoundedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer.Reset()
	b.truncated = false
}
