// ABOUTME: Closed value variant for entity payloads
// ABOUTME: Scalar, Timestamp, Sequence and Map, built from plain Go data

package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedValueKind is returned for values outside the closed variant.
var ErrUnsupportedValueKind = errors.New("payload: unsupported value kind")

// Value is one of Scalar, Timestamp, Sequence or Map.
type Value interface {
	isValue()
}

// Scalar holds a JSON scalar: nil, bool, string or a number.
type Scalar struct {
	V any
}

// Timestamp holds a date/time value.
type Timestamp struct {
	T time.Time
}

// Sequence is an ordered list of values, typically nested entities.
type Sequence []Value

// Map is a structured value, typically an entity.
type Map map[string]Value

func (Scalar) isValue()    {}
func (Timestamp) isValue() {}
func (Sequence) isValue()  {}
func (Map) isValue()       {}

// Get returns the raw scalar stored under key, or nil.
func (m Map) Get(key string) any {
	if s, ok := m[key].(Scalar); ok {
		return s.V
	}
	return nil
}

// String returns the string stored under key, or "".
func (m Map) String(key string) string {
	s, _ := m.Get(key).(string)
	return s
}

// Bool returns the bool stored under key.
func (m Map) Bool(key string) bool {
	b, _ := m.Get(key).(bool)
	return b
}

// Time returns the timestamp stored under key.
func (m Map) Time(key string) time.Time {
	if ts, ok := m[key].(Timestamp); ok {
		return ts.T
	}
	return time.Time{}
}

// Maps returns the nested maps of a sequence stored under key.
func (m Map) Maps(key string) []Map {
	seq, ok := m[key].(Sequence)
	if !ok {
		return nil
	}
	out := make([]Map, 0, len(seq))
	for _, v := range seq {
		if nested, ok := v.(Map); ok {
			out = append(out, nested)
		}
	}
	return out
}

// FromAny converts plain Go data into a Value.
func FromAny(v any) (Value, error) {
	switch t := v.(type) {
	case Value:
		return t, nil
	case time.Time:
		return Timestamp{T: t}, nil
	case *time.Time:
		if t == nil {
			return Scalar{}, nil
		}
		return Timestamp{T: *t}, nil
	case map[string]any:
		m := make(Map, len(t))
		for k, raw := range t {
			val, err := FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = val
		}
		return m, nil
	case []map[string]any:
		seq := make(Sequence, 0, len(t))
		for i, raw := range t {
			val, err := FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq = append(seq, val)
		}
		return seq, nil
	case []any:
		seq := make(Sequence, 0, len(t))
		for i, raw := range t {
			val, err := FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			seq = append(seq, val)
		}
		return seq, nil
	}

	if !isScalar(v) {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValueKind, v)
	}
	return Scalar{V: v}, nil
}

// ToAny converts a Value back into plain data without dropping any entries.
func ToAny(v Value) any {
	switch t := v.(type) {
	case Scalar:
		return t.V
	case Timestamp:
		return t.T.Format(TimestampFormat)
	case Sequence:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToAny(item)
		}
		return out
	case Map:
		return t.Plain()
	}
	return nil
}

// Plain converts the map into plain data without dropping any entries.
func (m Map) Plain() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = ToAny(v)
	}
	return out
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, bool, string, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}
