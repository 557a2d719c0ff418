package hostfuncs

import (
	"context"
	"errors"
	"testing"

	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/wireformat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONHandler(t *testing.T) {
	handler := NewJSONHandler(func(ctx context.Context, req wireformat.HTTPCallHead) (wireformat.HTTPCallOk, error) {
		if req.Handle == 0 {
			return wireformat.HTTPCallOk{}, errors.New("handle zero")
		}
		return wireformat.HTTPCallOk{Kind: wireformat.ResponseOk, Handle: req.Handle}, nil
	})

	t.Run("success", func(t *testing.T) {
		resp, err := handler(context.Background(), []byte(`{"kind":"http-call-head","handle":9}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"kind":"ok","handle":9}`, string(resp))
	})

	t.Run("handler error propagates", func(t *testing.T) {
		_, err := handler(context.Background(), []byte(`{"kind":"http-call-head","handle":0}`))
		assert.EqualError(t, err, "handle zero")
	})

	t.Run("invalid JSON is a protocol error", func(t *testing.T) {
		ctx := NewHostContext(context.Background(), wireformat.KindHTTPCallHead)
		_, err := handler(ctx, []byte("{invalid-json"))
		require.Error(t, err)

		var protoErr *domainerrors.ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, "http-call-head", protoErr.Kind)
	})
}
