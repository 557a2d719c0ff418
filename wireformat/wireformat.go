// Package wireformat defines the JSON documents exchanged between the host and the core.
// Every document is an object with a "kind" discriminant. The set of messages the core
// may send is closed: Decode rejects any kind it does not know. These types define the
// ABI contract and must remain stable.
package wireformat

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oneclient-dev/oneclient-host/domain/entities"
)

// Kind discriminates message documents.
type Kind string

// Message kinds sent by the core.
const (
	KindPerformInput           Kind = "perform-input"
	KindPerformOutputResult    Kind = "perform-output-result"
	KindPerformOutputError     Kind = "perform-output-error"
	KindPerformOutputException Kind = "perform-output-exception"
	KindHTTPCall               Kind = "http-call"
	KindHTTPCallHead           Kind = "http-call-head"
	KindFileOpen               Kind = "file-open"
)

var (
	// ErrMalformedMessage is returned for documents that are not JSON objects of the expected shape.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrMissingKind is returned for documents without a kind.
	ErrMissingKind = errors.New("message has no kind")

	// ErrUnknownKind is returned for documents whose kind is not part of the protocol.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Message is implemented by every document the core may send.
// The unexported method keeps the set closed to this package.
type Message interface {
	MessageKind() Kind
	isMessage()
}

// PerformInput asks the host for the input of the current perform.
type PerformInput struct {
	Kind Kind `json:"kind"`
}

// PerformOutputResult delivers a successful map result.
type PerformOutputResult struct {
	Result any  `json:"result"`
	Kind   Kind `json:"kind"`
}

// PerformOutputError delivers an error value defined by the profile.
type PerformOutputError struct {
	Error any  `json:"error"`
	Kind  Kind `json:"kind"`
}

// PerformOutputException reports a failure of the core itself, such as rejected input.
type PerformOutputException struct {
	Exception entities.Exception `json:"exception"`
	Kind      Kind               `json:"kind"`
}

// HTTPCall starts an HTTP request. Headers and Query accept any header-like shape.
type HTTPCall struct {
	Headers any     `json:"headers,omitempty"`
	Query   any     `json:"query,omitempty"`
	Body    *Buffer `json:"body,omitempty"`
	Kind    Kind    `json:"kind"`
	Method  string  `json:"method"`
	URL     string  `json:"url"`
}

// HTTPCallHead waits for the response head of a started HTTP request.
type HTTPCallHead struct {
	Kind   Kind   `json:"kind"`
	Handle uint32 `json:"handle"`
}

// FileOpen opens a file and returns a stream handle.
type FileOpen struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path"`
	entities.FileOpenOptions
}

func (PerformInput) MessageKind() Kind           { return KindPerformInput }
func (PerformOutputResult) MessageKind() Kind    { return KindPerformOutputResult }
func (PerformOutputError) MessageKind() Kind     { return KindPerformOutputError }
func (PerformOutputException) MessageKind() Kind { return KindPerformOutputException }
func (HTTPCall) MessageKind() Kind               { return KindHTTPCall }
func (HTTPCallHead) MessageKind() Kind           { return KindHTTPCallHead }
func (FileOpen) MessageKind() Kind               { return KindFileOpen }

func (PerformInput) isMessage()           {}
func (PerformOutputResult) isMessage()    {}
func (PerformOutputError) isMessage()     {}
func (PerformOutputException) isMessage() {}
func (HTTPCall) isMessage()               {}
func (HTTPCallHead) isMessage()           {}
func (FileOpen) isMessage()               {}

var messageFactories = map[Kind]func() Message{
	KindPerformInput:           func() Message { return &PerformInput{} },
	KindPerformOutputResult:    func() Message { return &PerformOutputResult{} },
	KindPerformOutputError:     func() Message { return &PerformOutputError{} },
	KindPerformOutputException: func() Message { return &PerformOutputException{} },
	KindHTTPCall:               func() Message { return &HTTPCall{} },
	KindHTTPCallHead:           func() Message { return &HTTPCallHead{} },
	KindFileOpen:               func() Message { return &FileOpen{} },
}

// Kinds returns every message kind of the protocol.
func Kinds() []Kind {
	return []Kind{
		KindPerformInput,
		KindPerformOutputResult,
		KindPerformOutputError,
		KindPerformOutputException,
		KindHTTPCall,
		KindHTTPCallHead,
		KindFileOpen,
	}
}

// New returns an empty message of the given kind, for schema generation and decoding.
func New(kind Kind) (Message, error) {
	factory, ok := messageFactories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Decode parses a document sent by the core into its concrete message type.
// The returned Message is always a pointer to one of the message structs.
func Decode(doc []byte) (Message, error) {
	var head struct {
		Kind *Kind `json:"kind"`
	}
	if err := json.Unmarshal(doc, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if head.Kind == nil || *head.Kind == "" {
		return nil, ErrMissingKind
	}

	msg, err := New(*head.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(doc, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedMessage, *head.Kind, err)
	}
	return msg, nil
}

// Encode serializes a message or response document.
func Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
