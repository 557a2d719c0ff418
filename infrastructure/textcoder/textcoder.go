// Package textcoder implements the TextCoder capability on top of bytebuf.
package textcoder

import (
	"strings"

	"github.com/oneclient-dev/oneclient-host/bytebuf"
	"github.com/oneclient-dev/oneclient-host/domain/ports"
)

const replacementChar = "�"

// Coder converts between Go strings and UTF-8 bytes, replacing every invalid
// sequence with U+FFFD.
type Coder struct{}

var _ ports.TextCoder = Coder{}

// New returns a Coder.
func New() Coder {
	return Coder{}
}

// EncodeUTF8 returns the UTF-8 bytes of s. Invalid sequences in s are replaced.
func (Coder) EncodeUTF8(s string) []byte {
	buf, err := bytebuf.Encode(s, bytebuf.UTF8)
	if err != nil {
		return []byte(strings.ToValidUTF8(s, replacementChar))
	}
	return buf.Data()
}

// DecodeUTF8 decodes b, replacing each invalid sequence with U+FFFD.
func (Coder) DecodeUTF8(b []byte) string {
	out, err := bytebuf.FromSlice(b).Decode(bytebuf.UTF8)
	if err != nil {
		return strings.ToValidUTF8(string(b), replacementChar)
	}
	return out
}
