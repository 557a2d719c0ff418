package ports

// TextCoder converts between strings and UTF-8 bytes at the guest boundary.
// Invalid UTF-8 sequences are decoded to U+FFFD.
type TextCoder interface {
	EncodeUTF8(s string) []byte
	DecodeUTF8(b []byte) string
}
