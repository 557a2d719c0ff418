// Package persistence stores core telemetry: metric events and developer dumps.
package persistence

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"go.uber.org/multierr"
)

// Kind tells metric events and developer dump lines apart.
type Kind string

const (
	KindMetric        Kind = "metric"
	KindDeveloperDump Kind = "developer_dump"
)

// Record is one persisted event.
type Record struct {
	Time  time.Time `json:"time"`
	Kind  Kind      `json:"kind"`
	Event string    `json:"event"`
}

// fileStoreConfig holds configuration for the FileStore.
type fileStoreConfig struct {
	now      func() time.Time
	dir      string      // Directory holding the JSON lines files
	dirPerm  os.FileMode // Permission for created directories
	filePerm os.FileMode // Permission for the files
}

func defaultFileStoreConfig() fileStoreConfig {
	return fileStoreConfig{
		now:      time.Now,
		dir:      filepath.Join(os.Getenv("HOME"), ".oneclient", "telemetry"),
		dirPerm:  0o755, // User config directory
		filePerm: 0o600, // User-only read/write (secure default)
	}
}

// FileStoreOption configures a FileStore instance.
type FileStoreOption func(*fileStoreConfig)

// WithDir sets the directory the files are written to.
func WithDir(dir string) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dir = dir
	}
}

// WithFilePermissions sets the permissions of the files.
// Default is 0o600 (user-only). Use with caution.
func WithFilePermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.filePerm = perm
	}
}

// WithDirPermissions sets the permissions of the directory.
// Default is 0o755.
func WithDirPermissions(perm os.FileMode) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.dirPerm = perm
	}
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) FileStoreOption {
	return func(c *fileStoreConfig) {
		c.now = now
	}
}

// FileStore appends events as JSON lines to metrics.jsonl and developer_dump.jsonl.
type FileStore struct {
	config fileStoreConfig
	mu     sync.Mutex
}

var _ ports.Persistence = (*FileStore)(nil)

// NewFileStore creates a new FileStore with the given options.
func NewFileStore(opts ...FileStoreOption) *FileStore {
	cfg := defaultFileStoreConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &FileStore{config: cfg}
}

// PersistMetrics appends metric events.
func (s *FileStore) PersistMetrics(ctx context.Context, events []string) error {
	return s.append(ctx, KindMetric, events)
}

// PersistDeveloperDump appends developer dump lines.
func (s *FileStore) PersistDeveloperDump(ctx context.Context, events []string) error {
	return s.append(ctx, KindDeveloperDump, events)
}

// Load reads back every record of a kind. A missing file yields no records.
func (s *FileStore) Load(kind Kind) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(kind))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s store: %w", kind, err)
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("failed to parse %s store: %w", kind, err)
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s store: %w", kind, err)
	}
	return records, nil
}

// Dir returns the directory of the backing files.
func (s *FileStore) Dir() string {
	return s.config.dir
}

func (s *FileStore) path(kind Kind) string {
	if kind == KindMetric {
		return filepath.Join(s.config.dir, "metrics.jsonl")
	}
	return filepath.Join(s.config.dir, "developer_dump.jsonl")
}

// append writes all events with a single write so a batch is never interleaved.
func (s *FileStore) append(ctx context.Context, kind Kind, events []string) error {
	if len(events) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := s.config.now().UTC()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, event := range events {
		if err := enc.Encode(Record{Time: now, Kind: kind, Event: event}); err != nil {
			return fmt.Errorf("failed to marshal %s record: %w", kind, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.config.dir, s.config.dirPerm); err != nil {
		return fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	f, err := os.OpenFile(s.path(kind), os.O_APPEND|os.O_CREATE|os.O_WRONLY, s.config.filePerm)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", kind, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s store: %w", kind, err)
	}
	if err := f.Sync(); err != nil {
		return multierr.Append(fmt.Errorf("failed to sync %s store: %w", kind, err), f.Close())
	}
	return f.Close()
}
