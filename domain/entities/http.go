package entities

import "io"

// HTTPRequest is an outgoing request issued by the core through the network capability.
type HTTPRequest struct {
	Headers Multimap
	Query   Multimap
	Method  string
	URL     string
	Body    []byte
}

// HTTPResponse is the head of a completed fetch. Body must be closed by its consumer.
type HTTPResponse struct {
	Headers    Multimap
	Body       io.ReadCloser
	StatusCode int
}
