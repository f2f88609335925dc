// ABOUTME: Version field transforms over plain payloads
// ABOUTME: Strips markers before a fork, injects a target version on relocation

package payload

import (
	"fmt"

	"github.com/nainya/entityversion/pkg/metadata"
)

// StripVersionFields removes version and sub-version markers from payload and,
// recursively, from every cascade association's nested payload.
func StripVersionFields(reg *metadata.Registry, definition string, payload map[string]any) (map[string]any, error) {
	def, err := reg.Get(definition)
	if err != nil {
		return nil, err
	}

	out := Copy(payload)
	for _, f := range def.Filter(metadata.IsVersionOrSubVersion) {
		delete(out, f.Name)
	}

	for _, f := range def.Filter(metadata.IsCascadeAssociation) {
		nested, ok := out[f.Name]
		if !ok || nested == nil {
			continue
		}
		ref := f.Association.Referenced

		switch f.Association.Cardinality {
		case metadata.Many:
			items, ok := nested.([]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: expected a list, got %T", definition, f.Name, nested)
			}
			stripped := make([]any, len(items))
			for i, item := range items {
				m, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("%s.%s[%d]: expected a map, got %T", definition, f.Name, i, item)
				}
				if stripped[i], err = StripVersionFields(reg, ref, m); err != nil {
					return nil, err
				}
			}
			out[f.Name] = stripped

		default:
			m, ok := nested.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: expected a map, got %T", definition, f.Name, nested)
			}
			if out[f.Name], err = StripVersionFields(reg, ref, m); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// InjectVersionFields sets every version and reference-version field of the
// top-level payload to versionID. Nested payloads are left untouched.
func InjectVersionFields(reg *metadata.Registry, definition string, payload map[string]any, versionID string) (map[string]any, error) {
	fields, err := reg.Filter(definition, metadata.IsVersionOrReferenceVersion)
	if err != nil {
		return nil, err
	}

	out := Copy(payload)
	for _, f := range fields {
		out[f.Name] = versionID
	}
	return out, nil
}

// Copy deep-copies plain payload data.
func Copy(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Copy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}
