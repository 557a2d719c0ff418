package wireformat

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
)

const bufferType = "Buffer"

// Buffer is binary data embedded in a document. It is encoded as
// {"type":"Buffer","data":[<byte values>]} so it survives the text representation exactly.
type Buffer []byte

type bufferShape struct {
	Type string `json:"type"`
	Data []int  `json:"data"`
}

// MarshalJSON implements json.Marshaler.
func (b Buffer) MarshalJSON() ([]byte, error) {
	data := make([]int, len(b))
	for i, v := range b {
		data[i] = int(v)
	}
	return json.Marshal(bufferShape{Type: bufferType, Data: data})
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Buffer) UnmarshalJSON(raw []byte) error {
	var shape bufferShape
	if err := json.Unmarshal(raw, &shape); err != nil {
		return fmt.Errorf("decode buffer: %w", err)
	}
	if shape.Type != bufferType {
		return fmt.Errorf("decode buffer: unexpected type %q", shape.Type)
	}
	out := make(Buffer, len(shape.Data))
	for i, v := range shape.Data {
		if v < 0 || v > 255 {
			return fmt.Errorf("decode buffer: byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Replace returns v with every byte slice turned into a Buffer, so binary values nested
// in maps, slices and structs are encoded in the tagged shape instead of base64 strings.
// Structs become maps keyed by their JSON field names. Values that marshal themselves
// are kept as they are.
func Replace(v any) any {
	switch val := v.(type) {
	case nil, Buffer, string, bool, float64, json.Number:
		return v
	case []byte:
		return Buffer(val)
	}
	return replaceValue(reflect.ValueOf(v))
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

func marshalsItself(t reflect.Type) bool {
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

func replaceValue(rv reflect.Value) any {
	if !rv.IsValid() {
		return nil
	}
	if marshalsItself(rv.Type()) {
		return rv.Interface()
	}

	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return replaceValue(rv.Elem())
	case reflect.Map:
		if rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
			return rv.Interface()
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = replaceValue(iter.Value())
		}
		return out
	case reflect.Slice:
		if rv.IsNil() {
			return rv.Interface()
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 && !marshalsItself(rv.Type().Elem()) {
			return Buffer(rv.Bytes())
		}
		return replaceElems(rv)
	case reflect.Array:
		return replaceElems(rv)
	case reflect.Struct:
		out := make(map[string]any)
		replaceFields(rv, out)
		return out
	default:
		return rv.Interface()
	}
}

func replaceElems(rv reflect.Value) []any {
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = replaceValue(rv.Index(i))
	}
	return out
}

// replaceFields copies the exported fields of rv into out under their JSON names.
// Fields of embedded structs are promoted unless an outer field already uses the name.
func replaceFields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")

		fv := rv.Field(i)
		if field.Anonymous && name == "" && field.IsExported() {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
				if fv.IsNil() {
					continue
				}
				fv = fv.Elem()
			}
			if ft.Kind() == reflect.Struct && !marshalsItself(field.Type) {
				embedded = append(embedded, fv)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if hasOption(opts, "omitempty") && isEmptyValue(fv) {
			continue
		}
		if hasOption(opts, "string") {
			if quoted, ok := quoteScalar(fv); ok {
				out[name] = quoted
				continue
			}
		}
		out[name] = replaceValue(fv)
	}

	for _, ev := range embedded {
		inner := make(map[string]any)
		replaceFields(ev, inner)
		for k, v := range inner {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var opt string
		opt, opts, _ = strings.Cut(opts, ",")
		if opt == want {
			return true
		}
	}
	return false
}

// quoteScalar renders a scalar the way encoding/json does for the ",string" option.
func quoteScalar(v reflect.Value) (string, bool) {
	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64:
		data, err := json.Marshal(v.Interface())
		if err != nil {
			return "", false
		}
		return string(data), true
	default:
		return "", false
	}
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return v.IsZero()
	}
	return false
}

// Revive returns v with every object of the tagged Buffer shape turned into a Buffer.
// It is applied to values decoded from core documents.
func Revive(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if buf, ok := asBuffer(val); ok {
			return buf
		}
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Revive(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Revive(item)
		}
		return out
	default:
		return v
	}
}

func asBuffer(m map[string]any) (Buffer, bool) {
	if len(m) != 2 || m["type"] != bufferType {
		return nil, false
	}
	data, ok := m["data"].([]any)
	if !ok {
		return nil, false
	}
	out := make(Buffer, len(data))
	for i, item := range data {
		n, ok := item.(float64)
		if !ok || n < 0 || n > 255 || n != float64(int(n)) {
			return nil, false
		}
		out[i] = byte(n)
	}
	return out, true
}
