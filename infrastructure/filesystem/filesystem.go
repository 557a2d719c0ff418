// Package filesystem implements the FileSystem capability on the local disk.
package filesystem

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// config holds configuration for the FileSystem.
type config struct {
	logger   *zap.Logger
	root     string
	filePerm os.FileMode
	readOnly bool
}

func defaultConfig() config {
	return config{
		logger:   zap.NewNop(),
		filePerm: 0o644,
	}
}

// Option configures a FileSystem.
type Option func(*config)

// WithRoot confines every path to dir. Paths are resolved relative to dir and
// may not escape it, including through symlinks.
func WithRoot(dir string) Option {
	return func(c *config) {
		c.root = dir
	}
}

// WithReadOnly rejects every open that could modify a file.
func WithReadOnly() Option {
	return func(c *config) {
		c.readOnly = true
	}
}

// WithFilePermissions sets the permissions of created files. Default is 0o644.
func WithFilePermissions(perm os.FileMode) Option {
	return func(c *config) {
		c.filePerm = perm
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// FileSystem opens files on the local disk and addresses them by handle.
type FileSystem struct {
	config config
	files  *handles.Table[*os.File]
	root   *os.Root
}

var _ ports.FileSystem = (*FileSystem)(nil)

// New creates a FileSystem.
func New(opts ...Option) (*FileSystem, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	f := &FileSystem{config: cfg, files: handles.NewTable[*os.File]()}
	if cfg.root != "" {
		root, err := os.OpenRoot(cfg.root)
		if err != nil {
			return nil, &domainerrors.FileSystemError{Operation: "open_root", Path: cfg.root, Err: err}
		}
		f.root = root
	}
	return f, nil
}

// Open opens path with the given options and returns its handle.
func (f *FileSystem) Open(_ context.Context, path string, opts entities.FileOpenOptions) (uint32, error) {
	flag, err := openFlags(opts)
	if err != nil {
		return 0, &domainerrors.FileSystemError{Operation: "open", Path: path, Err: err}
	}
	if f.config.readOnly && flag != os.O_RDONLY {
		return 0, &domainerrors.FileSystemError{Operation: "open", Path: path, Err: fs.ErrPermission}
	}

	var file *os.File
	if f.root != nil {
		file, err = f.root.OpenFile(rootRelative(path), flag, f.config.filePerm)
	} else {
		file, err = os.OpenFile(path, flag, f.config.filePerm)
	}
	if err != nil {
		return 0, &domainerrors.FileSystemError{Operation: "open", Path: path, Err: err}
	}

	handle := f.files.Insert(file)
	f.config.logger.Debug("file opened", zap.String("path", path), zap.Uint32("handle", handle))
	return handle, nil
}

// Read reads from the file. End of file is a zero-length read with a nil error.
func (f *FileSystem) Read(handle uint32, p []byte) (int, error) {
	file, err := f.files.Get(handle)
	if err != nil {
		return 0, err
	}
	n, err := file.Read(p)
	if errors.Is(err, io.EOF) {
		return n, nil
	}
	if err != nil {
		return n, &domainerrors.FileSystemError{Operation: "read", Path: file.Name(), Err: err}
	}
	return n, nil
}

// Write writes p to the file.
func (f *FileSystem) Write(handle uint32, p []byte) (int, error) {
	file, err := f.files.Get(handle)
	if err != nil {
		return 0, err
	}
	n, err := file.Write(p)
	if err != nil {
		return n, &domainerrors.FileSystemError{Operation: "write", Path: file.Name(), Err: err}
	}
	return n, nil
}

// Close closes the file. The handle is invalid afterwards.
func (f *FileSystem) Close(handle uint32) error {
	file, err := f.files.Remove(handle)
	if err != nil {
		return err
	}
	return file.Close()
}

// CloseAll closes every open file and the root.
func (f *FileSystem) CloseAll() error {
	var errs error
	for _, file := range f.files.Drain() {
		errs = multierr.Append(errs, file.Close())
	}
	if f.root != nil {
		errs = multierr.Append(errs, f.root.Close())
	}
	return errs
}

// openFlags translates open options to os flags.
// A file must be opened for reading, writing or appending.
func openFlags(opts entities.FileOpenOptions) (int, error) {
	writing := opts.Write || opts.Append

	var flag int
	switch {
	case opts.Read && writing:
		flag = os.O_RDWR
	case writing:
		flag = os.O_WRONLY
	case opts.Read:
		flag = os.O_RDONLY
	default:
		return 0, fs.ErrInvalid
	}

	if (opts.Create || opts.CreateNew || opts.Truncate) && !writing {
		return 0, fs.ErrInvalid
	}
	if opts.Append {
		flag |= os.O_APPEND
	}
	if opts.Truncate {
		flag |= os.O_TRUNC
	}
	switch {
	case opts.CreateNew:
		flag |= os.O_CREATE | os.O_EXCL
	case opts.Create:
		flag |= os.O_CREATE
	}
	return flag, nil
}

// rootRelative turns a guest path into a path relative to the root.
func rootRelative(path string) string {
	cleaned := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}
