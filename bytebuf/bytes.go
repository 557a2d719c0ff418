// Package bytebuf provides the owned byte storage and chunked stream reading used to move
// data across the host/guest boundary.
package bytebuf

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// Encoding names a text encoding understood by Encode and Decode.
type Encoding string

const (
	// UTF8 encodes text as UTF-8. Invalid input sequences decode to U+FFFD.
	UTF8 Encoding = "utf8"
	// Base64 is standard padded base64.
	Base64 Encoding = "base64"
)

// ErrUnsupportedEncoding is returned for any Encoding other than UTF8 and Base64.
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// Bytes is growable byte storage with an explicit length and capacity.
// The zero value is an empty buffer ready for use.
type Bytes struct {
	data []byte // len(data) is the buffer length, cap(data) the capacity
}

// New returns an empty buffer with at least the given capacity.
func New(capacity int) *Bytes {
	return &Bytes{data: make([]byte, 0, capacity)}
}

// FromSlice returns a buffer holding a copy of p.
func FromSlice(p []byte) *Bytes {
	b := New(len(p))
	b.data = append(b.data, p...)
	return b
}

// Len returns the number of initialized bytes.
func (b *Bytes) Len() int { return len(b.data) }

// Cap returns the allocated capacity.
func (b *Bytes) Cap() int { return cap(b.data) }

// Data returns the initialized prefix. The slice aliases the buffer until the next growth.
func (b *Bytes) Data() []byte { return b.data }

// UninitData returns the spare capacity after the initialized prefix.
// Write into it and call Commit to make the bytes part of Data.
func (b *Bytes) UninitData() []byte { return b.data[len(b.data):cap(b.data)] }

// Commit extends the length by n bytes previously written into UninitData.
func (b *Bytes) Commit(n int) error {
	if n < 0 || len(b.data)+n > cap(b.data) {
		return fmt.Errorf("commit of %d bytes exceeds spare capacity %d", n, cap(b.data)-len(b.data))
	}
	b.data = b.data[:len(b.data)+n]
	return nil
}

// Reserve ensures room for at least additional more bytes.
// When growth is required the capacity becomes max(2*cap, len+additional).
func (b *Bytes) Reserve(additional int) {
	required := len(b.data) + additional
	if required <= cap(b.data) {
		return
	}
	newCap := max(cap(b.data)*2, required)
	grown := make([]byte, len(b.data), newCap)
	copy(grown, b.data)
	b.data = grown
}

// Extend appends p to the buffer.
func (b *Bytes) Extend(p []byte) {
	b.Reserve(len(p))
	b.data = append(b.data, p...)
}

// Reset truncates the buffer to zero length. Capacity is kept.
func (b *Bytes) Reset() { b.data = b.data[:0] }

// ToArray returns a copy of the initialized bytes.
func (b *Bytes) ToArray() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Decode renders the buffer as text in the given encoding.
func (b *Bytes) Decode(enc Encoding) (string, error) {
	switch enc {
	case UTF8:
		out, err := unicode.UTF8.NewDecoder().Bytes(b.data)
		if err != nil {
			return "", fmt.Errorf("decode utf8: %w", err)
		}
		return string(out), nil
	case Base64:
		return base64.StdEncoding.EncodeToString(b.data), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}

// Encode converts text in the given encoding into a new buffer.
func Encode(s string, enc Encoding) (*Bytes, error) {
	switch enc {
	case UTF8:
		return FromSlice([]byte(strings.ToValidUTF8(s, "\uFFFD"))), nil
	case Base64:
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		return &Bytes{data: raw}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
}
