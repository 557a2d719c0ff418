package bytebuf

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves a single stream and records how reads and closes arrive.
type fakeSource struct {
	data     []byte
	readErr  error
	closeErr error
	reads    []int
	closes   int
}

func (f *fakeSource) StreamRead(_ uint32, p []byte) (int, error) {
	f.reads = append(f.reads, len(p))
	if f.readErr != nil && len(f.data) == 0 {
		return 0, f.readErr
	}
	n := copy(p, f.data)
	f.data = f.data[n:]
	return n, nil
}

func (f *fakeSource) StreamClose(uint32) error {
	f.closes++
	return f.closeErr
}

func TestReadToEnd(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 2000)
	src := &fakeSource{data: append([]byte(nil), payload...)}

	out, err := ReadToEnd(NewHandleStream(7, src))
	require.NoError(t, err)
	assert.Equal(t, payload, out.Data())
	assert.Equal(t, 1, src.closes)
	for _, n := range src.reads {
		assert.Equal(t, ChunkSize, n)
	}
	// 20000 bytes is three chunks plus the terminating empty read.
	assert.Len(t, src.reads, 4)
}

func TestReadToEnd_Empty(t *testing.T) {
	src := &fakeSource{}
	out, err := ReadToEnd(NewHandleStream(1, src))
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, 1, src.closes)
}

func TestReadToEnd_ReadErrorStillCloses(t *testing.T) {
	src := &fakeSource{data: []byte("partial"), readErr: errors.New("boom"), closeErr: errors.New("ignored")}
	_, err := ReadToEnd(NewHandleStream(1, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.NotContains(t, err.Error(), "ignored")
	assert.Equal(t, 1, src.closes)
}

func TestReadToEnd_CloseError(t *testing.T) {
	src := &fakeSource{data: []byte("ok"), closeErr: errors.New("close failed")}
	_, err := ReadToEnd(NewHandleStream(1, src))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}

type panicStream struct{ closes int }

func (p *panicStream) Read([]byte) (int, error) { panic("read exploded") }
func (p *panicStream) Close() error             { p.closes++; return nil }

func TestReadToEnd_PanicStillCloses(t *testing.T) {
	s := &panicStream{}
	assert.Panics(t, func() { _, _ = ReadToEnd(s) })
	assert.Equal(t, 1, s.closes)
}

func TestHandleStream_ReadAfterClose(t *testing.T) {
	src := &fakeSource{data: []byte("abc")}
	s := NewHandleStream(3, src)
	require.NoError(t, s.Close())

	_, err := s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, ErrStreamClosed)
	assert.ErrorIs(t, s.Close(), ErrStreamClosed)
	assert.Equal(t, 1, src.closes)
	assert.Equal(t, uint32(3), s.Handle())
}
