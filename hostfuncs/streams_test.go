package hostfuncs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBody struct {
	io.Reader
	closed   int
	closeErr error
}

func (b *trackingBody) Close() error {
	b.closed++
	return b.closeErr
}

func TestStreamTable_ReadUntilEnd(t *testing.T) {
	table := NewStreamTable()
	body := &trackingBody{Reader: bytes.NewReader([]byte("hello"))}
	h := table.Insert(ReaderStream(body))
	assert.NotZero(t, h)

	buf := make([]byte, 3)
	n, err := table.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	n, err = table.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))

	// EOF is reported as a zero-length read
	n, err = table.Read(h, buf)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, table.Close(h))
	assert.Equal(t, 1, body.closed)
	assert.Zero(t, table.Len())
}

func TestStreamTable_ClosedHandle(t *testing.T) {
	table := NewStreamTable()
	h := table.Insert(ReaderStream(&trackingBody{Reader: bytes.NewReader(nil)}))
	require.NoError(t, table.Close(h))

	_, err := table.Read(h, make([]byte, 1))
	assert.ErrorIs(t, err, handles.ErrClosed)
	assert.ErrorIs(t, table.Close(h), handles.ErrClosed)

	_, err = table.Read(999, make([]byte, 1))
	assert.ErrorIs(t, err, handles.ErrInvalid)

	// New streams never reuse a closed handle
	assert.NotEqual(t, h, table.Insert(ReaderStream(&trackingBody{Reader: bytes.NewReader(nil)})))
}

func TestStreamTable_WriteToBody(t *testing.T) {
	table := NewStreamTable()
	h := table.Insert(ReaderStream(&trackingBody{Reader: bytes.NewReader(nil)}))

	_, err := table.Write(h, []byte("x"))
	assert.ErrorIs(t, err, ErrNotWritable)
}

func TestStreamTable_CloseAll(t *testing.T) {
	table := NewStreamTable()
	a := &trackingBody{Reader: bytes.NewReader(nil)}
	b := &trackingBody{Reader: bytes.NewReader(nil), closeErr: errors.New("close b")}
	c := &trackingBody{Reader: bytes.NewReader(nil), closeErr: errors.New("close c")}
	table.Insert(ReaderStream(a))
	table.Insert(ReaderStream(b))
	table.Insert(ReaderStream(c))

	err := table.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close b")
	assert.Contains(t, err.Error(), "close c")
	assert.Equal(t, 1, a.closed)
	assert.Equal(t, 1, b.closed)
	assert.Equal(t, 1, c.closed)
	assert.Zero(t, table.Len())

	assert.NoError(t, table.CloseAll())
}

func TestFileStream(t *testing.T) {
	fs := newFakeFileSystem()
	fs.files["/data.txt"] = []byte("file contents")

	table := NewStreamTable()
	handle, err := fs.Open(context.Background(), "/data.txt", readOnly())
	require.NoError(t, err)
	h := table.Insert(FileStream(fs, handle))

	buf := make([]byte, 64)
	n, err := table.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "file contents", string(buf[:n]))

	_, err = table.Write(h, []byte("more"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "write file handle")

	require.NoError(t, table.Close(h))
	assert.Empty(t, fs.open)
}
