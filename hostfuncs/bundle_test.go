package hostfuncs

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	"github.com/oneclient-dev/oneclient-host/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityBundle_Handlers(t *testing.T) {
	bundle := NewCapabilityBundle(NewStreamTable())
	defer bundle.Close()

	handlers := bundle.Handlers()
	assert.Len(t, handlers, 3)
	assert.Contains(t, handlers, wireformat.KindHTTPCall)
	assert.Contains(t, handlers, wireformat.KindHTTPCallHead)
	assert.Contains(t, handlers, wireformat.KindFileOpen)
}

func TestWithBundle_EndToEnd(t *testing.T) {
	network := &fakeNetwork{fetch: func(ctx context.Context, req *entities.HTTPRequest) (*entities.HTTPResponse, error) {
		return &entities.HTTPResponse{StatusCode: 200, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	}}
	streams := NewStreamTable()
	bundle := NewCapabilityBundle(streams, WithNetwork(network), WithFileSystem(newFakeFileSystem()))
	defer bundle.Close()

	reg, err := NewRegistry(
		WithMiddleware(PanicRecoveryMiddleware()),
		WithBundle(bundle),
	)
	require.NoError(t, err)

	resp, err := reg.Invoke(context.Background(), wireformat.KindHTTPCall,
		[]byte(`{"kind":"http-call","method":"GET","url":"https://x.test"}`))
	require.NoError(t, err)

	var started wireformat.HTTPCallOk
	require.NoError(t, json.Unmarshal(resp, &started))
	assert.Equal(t, wireformat.ResponseOk, started.Kind)

	head := []byte(`{"kind":"http-call-head","handle":` + jsonNumber(started.Handle) + `}`)
	resp, err = reg.Invoke(context.Background(), wireformat.KindHTTPCallHead, head)
	require.NoError(t, err)

	var headOk wireformat.HTTPCallHeadOk
	require.NoError(t, json.Unmarshal(resp, &headOk))
	assert.Equal(t, 200, headOk.Status)
	assert.Equal(t, 1, streams.Len())

	resp, err = reg.Invoke(context.Background(), wireformat.KindFileOpen,
		[]byte(`{"kind":"file-open","path":"/nope","read":true}`))
	require.NoError(t, err)
	assert.Contains(t, string(resp), `"error_code":"filesystem:not_found"`)
}

func TestWithBundle_Conflict(t *testing.T) {
	handler := func(ctx context.Context, payload []byte) ([]byte, error) { return nil, nil }

	_, err := NewRegistry(
		WithByteHandler(wireformat.KindFileOpen, handler),
		WithBundle(NewCapabilityBundle(NewStreamTable())),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate handler kind")
}

func jsonNumber(v uint32) string {
	data, _ := json.Marshal(v)
	return string(data)
}
