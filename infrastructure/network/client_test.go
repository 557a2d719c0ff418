package network

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoopbackClient(opts ...Option) *Client {
	return NewClient(append([]Option{WithEgressFilter(WithBlockLocalhost(false))}, opts...)...)
}

func TestClient_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/things", r.URL.Path)
		assert.Equal(t, []string{"1", "2"}, r.URL.Query()["page"])
		assert.Equal(t, "abc", r.Header.Get("X-Trace"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(body))

		w.Header().Add("X-Multi", "a")
		w.Header().Add("X-Multi", "b")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer server.Close()

	client := newLoopbackClient()
	resp, err := client.Fetch(context.Background(), &entities.HTTPRequest{
		Method:  "post",
		URL:     server.URL + "/things?page=1",
		Headers: entities.Multimap{"x-trace": {"abc"}},
		Query:   entities.Multimap{"page": {"2"}},
		Body:    []byte("payload"),
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{"a", "b"}, resp.Headers["x-multi"])

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(body))
}

func TestClient_BlocksLoopbackByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer server.Close()

	_, err := NewClient().Fetch(context.Background(), &entities.HTTPRequest{Method: "GET", URL: server.URL})
	var capErr *domainerrors.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "network", capErr.Required)
}

func TestClient_AllowedHosts(t *testing.T) {
	client := NewClient(WithAllowedHosts("example.com"))

	assert.True(t, client.isHostAllowed("example.com"))
	assert.True(t, client.isHostAllowed("api.example.com"))
	assert.False(t, client.isHostAllowed("example.org"))
	assert.False(t, client.isHostAllowed("badexample.com"))

	_, err := client.Fetch(context.Background(), &entities.HTTPRequest{URL: "https://evil.test/"})
	var capErr *domainerrors.CapabilityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "evil.test", capErr.Pattern)
}

func TestClient_RejectsBadURLs(t *testing.T) {
	client := NewClient()

	tests := []string{
		"ftp://example.com/file",
		"://missing-scheme",
		"https://example.com/" + strings.Repeat("a", DefaultMaxURLLength),
	}
	for _, u := range tests {
		_, err := client.Fetch(context.Background(), &entities.HTTPRequest{URL: u})
		var netErr *domainerrors.NetworkError
		assert.ErrorAs(t, err, &netErr, u)
	}
}

func TestClient_MaxBodySize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	}))
	defer server.Close()

	resp, err := newLoopbackClient(WithMaxBodySize(10)).Fetch(context.Background(), &entities.HTTPRequest{URL: server.URL})
	require.NoError(t, err)
	defer resp.Body.Close()

	_, err = io.ReadAll(resp.Body)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	_, err := newLoopbackClient(WithTimeout(50*time.Millisecond)).Fetch(context.Background(), &entities.HTTPRequest{URL: server.URL})
	var timeoutErr *domainerrors.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "fetch", timeoutErr.Operation)
}

func TestClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := newLoopbackClient().Fetch(context.Background(), &entities.HTTPRequest{URL: url})
	var netErr *domainerrors.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "fetch", netErr.Operation)
}
