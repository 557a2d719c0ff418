package hostfuncs

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
	domainerrors "github.com/oneclient-dev/oneclient-host/domain/errors"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/internal/handles"
	"github.com/oneclient-dev/oneclient-host/wireformat"
)

type pendingCall struct {
	done chan struct{}
	resp *entities.HTTPResponse
	err  error
}

// HTTPCalls runs fetches started by http-call messages.
// The fetch runs in the background; http-call-head blocks until its head arrives.
type HTTPCalls struct {
	network ports.Network
	streams *StreamTable
	pending *handles.Table[*pendingCall]
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewHTTPCalls creates the handler state for one core instance.
// Response bodies become streams in streams.
func NewHTTPCalls(network ports.Network, streams *StreamTable) *HTTPCalls {
	ctx, cancel := context.WithCancel(context.Background())
	return &HTTPCalls{
		network: network,
		streams: streams,
		pending: handles.NewTable[*pendingCall](),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Call handles http-call.
func (c *HTTPCalls) Call(_ context.Context, msg wireformat.HTTPCall) (any, error) {
	if c.network == nil {
		return NewErrorResponse(&domainerrors.CapabilityError{Required: "network"}), nil
	}

	req := &entities.HTTPRequest{
		Method:  msg.Method,
		URL:     msg.URL,
		Headers: entities.EnsureMultimap(msg.Headers, true),
		Query:   entities.EnsureMultimap(msg.Query, false),
	}
	if msg.Body != nil {
		req.Body = []byte(*msg.Body)
	}

	call := &pendingCall{done: make(chan struct{})}
	go c.fetch(call, req)

	return wireformat.HTTPCallOk{Kind: wireformat.ResponseOk, Handle: c.pending.Insert(call)}, nil
}

func (c *HTTPCalls) fetch(call *pendingCall, req *entities.HTTPRequest) {
	defer close(call.done)
	defer func() {
		if r := recover(); r != nil {
			call.resp = nil
			call.err = &domainerrors.NetworkError{Operation: "fetch", Target: req.URL, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	call.resp, call.err = c.network.Fetch(c.ctx, req)
}

// Head handles http-call-head.
func (c *HTTPCalls) Head(ctx context.Context, msg wireformat.HTTPCallHead) (any, error) {
	call, err := c.pending.Remove(msg.Handle)
	if err != nil {
		return wireformat.Err(CodeInvalidHandle, err.Error()), nil
	}

	select {
	case <-call.done:
	case <-ctx.Done():
		go discardCall(call)
		return NewErrorResponse(&domainerrors.NetworkError{Operation: "fetch", Err: ctx.Err()}), nil
	}

	if call.err != nil {
		return NewErrorResponse(call.err), nil
	}
	if call.resp == nil {
		return NewErrorResponse(&domainerrors.NetworkError{Operation: "fetch", Err: fmt.Errorf("no response")}), nil
	}

	headers := call.resp.Headers
	if headers == nil {
		headers = entities.Multimap{}
	}
	body := call.resp.Body
	if body == nil {
		body = io.NopCloser(bytes.NewReader(nil))
	}
	return wireformat.HTTPCallHeadOk{
		Kind:       wireformat.ResponseOk,
		Status:     call.resp.StatusCode,
		Headers:    headers,
		BodyStream: c.streams.Insert(ReaderStream(body)),
	}, nil
}

// Pending returns the number of started calls whose head was not requested yet.
func (c *HTTPCalls) Pending() int {
	return c.pending.Len()
}

// Close cancels running fetches and releases responses nobody asked for.
func (c *HTTPCalls) Close() {
	c.cancel()
	for _, call := range c.pending.Drain() {
		go discardCall(call)
	}
}

func discardCall(call *pendingCall) {
	<-call.done
	if call.resp != nil && call.resp.Body != nil {
		_ = call.resp.Body.Close()
	}
}
