package log

import (
	"bytes"
	"sync"

	"go.uber.org/zap"
)

// maxLineLength bounds a buffered partial line.
const maxLineLength = 16 * 1024

// GuestWriter logs each line a core writes to its stderr at debug level.
// Lines longer than 16KiB are split.
type GuestWriter struct {
	logger *zap.Logger
	mu     sync.Mutex
	line   []byte
}

// NewGuestWriter creates a GuestWriter logging to logger.
func NewGuestWriter(logger *zap.Logger) *GuestWriter {
	return &GuestWriter{logger: logger.With(zap.String("stream", "stderr"))}
}

// Write implements io.Writer. It never fails.
func (w *GuestWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rest := p
	for len(rest) > 0 {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			w.line = append(w.line, rest...)
			if len(w.line) >= maxLineLength {
				w.emit()
			}
			break
		}
		w.line = append(w.line, rest[:i]...)
		w.emit()
		rest = rest[i+1:]
	}
	return len(p), nil
}

// Flush logs a trailing partial line.
func (w *GuestWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.line) > 0 {
		w.emit()
	}
}

func (w *GuestWriter) emit() {
	w.logger.Debug("core output", zap.String("line", string(bytes.TrimRight(w.line, "\r"))))
	w.line = w.line[:0]
}
