package payload

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimestampFormat is the textual form of normalized timestamps (ATOM).
const TimestampFormat = time.RFC3339

// Normalize converts a Value into plain data: timestamps become strings,
// sequences become []any, maps become map[string]any without falsy entries.
func Normalize(v Value) (any, error) {
	switch t := v.(type) {
	case Scalar:
		if !isScalar(t.V) {
			return nil, fmt.Errorf("%w: %T", ErrUnsupportedValueKind, t.V)
		}
		return t.V, nil
	case Timestamp:
		return t.T.Format(TimestampFormat), nil
	case Sequence:
		return normalizeSequence(t)
	case Map:
		return NormalizeMap(t)
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValueKind, v)
}

// NormalizeMap converts a Map into a plain map, dropping falsy entries.
func NormalizeMap(m Map) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		plain, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if !Truthy(plain) {
			continue
		}
		out[k] = plain
	}
	return out, nil
}

func normalizeSequence(seq Sequence) ([]any, error) {
	out := make([]any, 0, len(seq))
	for i, v := range seq {
		plain, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		out = append(out, plain)
	}
	return out, nil
}

// Truthy reports whether a plain value survives falsy filtering.
// nil, false, numeric zero, "", and empty lists or maps are falsy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case int:
		return t != 0
	case int8:
		return t != 0
	case int16:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case uint8:
		return t != 0
	case uint16:
		return t != 0
	case uint32:
		return t != 0
	case uint64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
