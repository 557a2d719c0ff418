package filesystem

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystem_ReadWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	fsys, err := New()
	require.NoError(t, err)
	defer fsys.CloseAll()

	h, err := fsys.Open(ctx, path, entities.FileOpenOptions{Create: true, Write: true})
	require.NoError(t, err)
	n, err := fsys.Write(h, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.NoError(t, fsys.Close(h))

	h, err = fsys.Open(ctx, path, entities.FileOpenOptions{Read: true})
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err = fsys.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = fsys.Read(h, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, fsys.Close(h))
	assert.ErrorIs(t, fsys.Close(h), handles.ErrClosed)
	_, err = fsys.Read(h, buf)
	assert.ErrorIs(t, err, handles.ErrClosed)
}

func TestFileSystem_AppendAndTruncate(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("one\n"), 0o600))

	fsys, err := New()
	require.NoError(t, err)

	h, err := fsys.Open(ctx, path, entities.FileOpenOptions{Append: true})
	require.NoError(t, err)
	_, err = fsys.Write(h, []byte("two\n"))
	require.NoError(t, err)
	require.NoError(t, fsys.Close(h))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))

	h, err = fsys.Open(ctx, path, entities.FileOpenOptions{Write: true, Truncate: true})
	require.NoError(t, err)
	require.NoError(t, fsys.Close(h))

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestFileSystem_OpenErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.txt")
	require.NoError(t, os.WriteFile(existing, nil, 0o600))

	fsys, err := New()
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		opts     entities.FileOpenOptions
		wantCode string
	}{
		{"missing", filepath.Join(dir, "missing"), entities.FileOpenOptions{Read: true}, "not_found"},
		{"create new on existing", existing, entities.FileOpenOptions{CreateNew: true, Write: true}, "already_exists"},
		{"no access mode", existing, entities.FileOpenOptions{}, "invalid_input"},
		{"create without write", existing, entities.FileOpenOptions{Read: true, Create: true}, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fsys.Open(ctx, tt.path, tt.opts)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domainerrors.ToErrorDetail(err).Code)
		})
	}
}

func TestFileSystem_ReadOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o600))

	fsys, err := New(WithReadOnly())
	require.NoError(t, err)

	_, err = fsys.Open(ctx, path, entities.FileOpenOptions{Write: true})
	assert.ErrorIs(t, err, fs.ErrPermission)

	h, err := fsys.Open(ctx, path, entities.FileOpenOptions{Read: true})
	require.NoError(t, err)
	require.NoError(t, fsys.Close(h))
}

func TestFileSystem_Root(t *testing.T) {
	ctx := context.Background()
	outside := t.TempDir()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "inside.txt"), []byte("in"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o600))

	fsys, err := New(WithRoot(root))
	require.NoError(t, err)
	defer fsys.CloseAll()

	h, err := fsys.Open(ctx, "/inside.txt", entities.FileOpenOptions{Read: true})
	require.NoError(t, err)
	require.NoError(t, fsys.Close(h))

	// Cleaning anchors ".." at the root.
	_, err = fsys.Open(ctx, "../inside.txt", entities.FileOpenOptions{Read: true})
	require.NoError(t, err)

	require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), filepath.Join(root, "link.txt")))
	_, err = fsys.Open(ctx, "link.txt", entities.FileOpenOptions{Read: true})
	assert.Error(t, err)
}

func TestRootRelative(t *testing.T) {
	assert.Equal(t, "a/b.txt", rootRelative("/a/b.txt"))
	assert.Equal(t, "a/b.txt", rootRelative("a/./b.txt"))
	assert.Equal(t, "b.txt", rootRelative("../../b.txt"))
	assert.Equal(t, ".", rootRelative("/"))
}
