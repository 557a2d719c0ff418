package persistence

import (
	"context"
	"sync"

	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MemoryStore keeps events in memory.
type MemoryStore struct {
	mu      sync.Mutex
	metrics []string
	dumps   [][]string
	err     error
}

var _ ports.Persistence = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// PersistMetrics records metric events.
func (s *MemoryStore) PersistMetrics(_ context.Context, events []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.metrics = append(s.metrics, events...)
	return nil
}

// PersistDeveloperDump records one dump.
func (s *MemoryStore) PersistDeveloperDump(_ context.Context, events []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.dumps = append(s.dumps, append([]string(nil), events...))
	return nil
}

// Metrics returns every metric event recorded so far.
func (s *MemoryStore) Metrics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.metrics...)
}

// DeveloperDumps returns every dump recorded so far.
func (s *MemoryStore) DeveloperDumps() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.dumps...)
}

// FailWith makes subsequent calls return err. A nil err restores normal behavior.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// LogStore writes events to a logger.
type LogStore struct {
	logger *zap.Logger
}

var _ ports.Persistence = (*LogStore)(nil)

// NewLogStore creates a LogStore.
func NewLogStore(logger *zap.Logger) *LogStore {
	return &LogStore{logger: logger}
}

// PersistMetrics logs each metric event at info level.
func (s *LogStore) PersistMetrics(_ context.Context, events []string) error {
	for _, event := range events {
		s.logger.Info("core metric", zap.String("event", event))
	}
	return nil
}

// PersistDeveloperDump logs the dump at warn level.
func (s *LogStore) PersistDeveloperDump(_ context.Context, events []string) error {
	s.logger.Warn("core developer dump", zap.Strings("events", events))
	return nil
}

// Tee writes to every store in order and reports all failures.
type Tee []ports.Persistence

var _ ports.Persistence = Tee(nil)

// PersistMetrics implements ports.Persistence.
func (t Tee) PersistMetrics(ctx context.Context, events []string) error {
	var errs error
	for _, store := range t {
		errs = multierr.Append(errs, store.PersistMetrics(ctx, events))
	}
	return errs
}

// PersistDeveloperDump implements ports.Persistence.
func (t Tee) PersistDeveloperDump(ctx context.Context, events []string) error {
	var errs error
	for _, store := range t {
		errs = multierr.Append(errs, store.PersistDeveloperDump(ctx, events))
	}
	return errs
}
