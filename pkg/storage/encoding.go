// ABOUTME: Order-preserving encoding for composite row keys
// ABOUTME: Tagged values with escaped, null-terminated strings

package storage

import "fmt"

// Value types for composite keys
const (
	TYPE_BYTES = 1
)

// Value represents a single value in a composite key
type Value struct {
	Type uint8
	Str  []byte
}

// NewBytesValue creates a bytes value
func NewBytesValue(data []byte) Value {
	return Value{Type: TYPE_BYTES, Str: data}
}

// EncodeValues encodes multiple values in order-preserving format
// Each value is tagged with its type to prevent collisions with 0xFF
func EncodeValues(vals []Value) []byte {
	out := make([]byte, 0, 64)
	for _, v := range vals {
		out = append(out, v.Type)

		switch v.Type {
		case TYPE_BYTES:
			out = append(out, escapeString(v.Str)...)
			out = append(out, 0)

		default:
			panic(fmt.Sprintf("unknown type: %d", v.Type))
		}
	}
	return out
}

// escapeString escapes null bytes and 0xFE/0xFF for embedding in keys
func escapeString(s []byte) []byte {
	escapes := 0
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			escapes++
		}
	}
	if escapes == 0 {
		return s
	}

	out := make([]byte, 0, len(s)+escapes)
	for _, b := range s {
		if b == 0 || b == 0xFE || b == 0xFF {
			out = append(out, 0xFE, b)
		} else {
			out = append(out, b)
		}
	}
	return out
}

// DecodeValues decodes values from encoded format
func DecodeValues(data []byte) ([]Value, error) {
	vals := make([]Value, 0, 4)
	pos := 0

	for pos < len(data) {
		typ := data[pos]
		pos++

		switch typ {
		case TYPE_BYTES:
			str := make([]byte, 0, 32)
			for {
				if pos >= len(data) {
					return nil, fmt.Errorf("unterminated string at pos %d", pos)
				}
				b := data[pos]
				if b == 0 {
					pos++
					break
				}
				if b == 0xFE && pos+1 < len(data) {
					str = append(str, data[pos+1])
					pos += 2
					continue
				}
				str = append(str, b)
				pos++
			}
			vals = append(vals, NewBytesValue(str))

		default:
			return nil, fmt.Errorf("unknown type: %d at pos %d", typ, pos-1)
		}
	}

	return vals, nil
}

// EncodeRowKey encodes a row key as (id, versionId).
func EncodeRowKey(key Key) string {
	return string(EncodeValues([]Value{
		NewBytesValue([]byte(key.ID)),
		NewBytesValue([]byte(key.VersionID)),
	}))
}

// DecodeRowKey reverses EncodeRowKey.
func DecodeRowKey(encoded string) (Key, error) {
	vals, err := DecodeValues([]byte(encoded))
	if err != nil {
		return Key{}, err
	}
	if len(vals) != 2 || vals[0].Type != TYPE_BYTES || vals[1].Type != TYPE_BYTES {
		return Key{}, fmt.Errorf("malformed row key")
	}
	return Key{ID: string(vals[0].Str), VersionID: string(vals[1].Str)}, nil
}
