package hostfuncs

import (
	"context"
	"errors"
	"io/fs"
	"sync"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
)

type fakeFile struct {
	path   string
	data   []byte
	offset int
	write  bool
}

// fakeFileSystem keeps files in memory.
type fakeFileSystem struct {
	mu    sync.Mutex
	files map[string][]byte
	open  map[uint32]*fakeFile
	next  uint32
}

func newFakeFileSystem() *fakeFileSystem {
	return &fakeFileSystem{files: map[string][]byte{}, open: map[uint32]*fakeFile{}}
}

func readOnly() entities.FileOpenOptions {
	return entities.FileOpenOptions{Read: true}
}

func (f *fakeFileSystem) Open(_ context.Context, path string, opts entities.FileOpenOptions) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, ok := f.files[path]
	switch {
	case ok && opts.CreateNew:
		return 0, &domainerrors.FileSystemError{Operation: "open", Path: path, Err: fs.ErrExist}
	case !ok && !opts.Create && !opts.CreateNew:
		return 0, &domainerrors.FileSystemError{Operation: "open", Path: path, Err: fs.ErrNotExist}
	}
	if opts.Truncate {
		data = nil
	}
	f.next++
	f.open[f.next] = &fakeFile{path: path, data: data, write: opts.Write || opts.Append}
	return f.next, nil
}

func (f *fakeFileSystem) Read(handle uint32, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.open[handle]
	if !ok {
		return 0, fs.ErrClosed
	}
	n := copy(p, file.data[file.offset:])
	file.offset += n
	return n, nil
}

func (f *fakeFileSystem) Write(handle uint32, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	file, ok := f.open[handle]
	if !ok {
		return 0, fs.ErrClosed
	}
	if !file.write {
		return 0, errors.New("opened read-only")
	}
	file.data = append(file.data, p...)
	f.files[file.path] = file.data
	return len(p), nil
}

func (f *fakeFileSystem) Close(handle uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.open[handle]; !ok {
		return fs.ErrClosed
	}
	delete(f.open, handle)
	return nil
}

// fakeNetwork answers fetches from a function.
type fakeNetwork struct {
	fetch func(ctx context.Context, req *entities.HTTPRequest) (*entities.HTTPResponse, error)
}

func (n *fakeNetwork) Fetch(ctx context.Context, req *entities.HTTPRequest) (*entities.HTTPResponse, error) {
	return n.fetch(ctx, req)
}
