// ABOUTME: Engine read path: hydration of associations and criteria search
// ABOUTME: Rows are read in the context version; one-associations fall back to live

package storage

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/query"
)

func (s *session) ReadRaw(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error) {
	return s.read(ctx, "read_raw", definition, ids, wc, true)
}

func (s *session) ReadBasic(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error) {
	return s.read(ctx, "read_basic", definition, ids, wc, false)
}

func (s *session) read(ctx context.Context, operation, definition string, ids []string, wc WriteContext, all bool) (out []payload.Map, err error) {
	start := time.Now()
	defer func() { s.engine.observe(operation, definition, start, len(out), err) }()

	def, err := s.definition(definition)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		row, err := s.tx.Get(ctx, def.Name, rowKey(def, id, wc.Version()))
		if err != nil {
			return nil, err
		}
		if row == nil {
			continue
		}
		m, err := s.hydrate(ctx, def, row, wc, all, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// hydrate converts a stored row into a Map, loading associations.
// Without all, only cascade associations are loaded.
func (s *session) hydrate(ctx context.Context, def *metadata.Definition, row *Row, wc WriteContext, all bool, depth int) (payload.Map, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("association depth exceeds %d at %s", maxDepth, def.Name)
	}

	m := make(payload.Map, len(def.Fields))
	for _, f := range def.Fields {
		if metadata.IsAssociation(f) {
			if !all && !f.Association.CascadeDelete {
				continue
			}
			v, err := s.hydrateAssociation(ctx, f, row, wc, all, depth)
			if err != nil {
				return nil, err
			}
			if v != nil {
				m[f.Name] = v
			}
			continue
		}

		raw, ok := row.Data[f.Name]
		if !ok {
			continue
		}
		if f.Type == metadata.TypeDateTime {
			if text, ok := raw.(string); ok {
				if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
					m[f.Name] = payload.Timestamp{T: ts}
					continue
				}
			}
		}
		v, err := payload.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", def.Name, f.Name, err)
		}
		m[f.Name] = v
	}
	return m, nil
}

func (s *session) hydrateAssociation(ctx context.Context, f metadata.Field, owner *Row, wc WriteContext, all bool, depth int) (payload.Value, error) {
	ref, err := s.definition(f.Association.Referenced)
	if err != nil {
		return nil, err
	}

	if f.Association.Cardinality == metadata.One {
		localID, _ := owner.Data[f.Association.LocalKey].(string)
		if localID == "" {
			return nil, nil
		}
		child, err := s.lookup(ctx, ref, localID, wc.Version())
		if err != nil || child == nil {
			return nil, err
		}
		return s.hydrate(ctx, ref, child, wc, all, depth+1)
	}

	children, err := s.children(ctx, ref, f.Association, owner.Key.ID, wc.Version())
	if err != nil {
		return nil, err
	}
	seq := make(payload.Sequence, 0, len(children))
	for _, child := range children {
		m, err := s.hydrate(ctx, ref, child, wc, all, depth+1)
		if err != nil {
			return nil, err
		}
		seq = append(seq, m)
	}
	return seq, nil
}

// lookup reads a row in version, falling back to the live row.
func (s *session) lookup(ctx context.Context, def *metadata.Definition, id, version string) (*Row, error) {
	row, err := s.tx.Get(ctx, def.Name, rowKey(def, id, version))
	if err != nil || row != nil || !def.Versionable() || version == LiveVersion {
		return row, err
	}
	return s.tx.Get(ctx, def.Name, rowKey(def, id, LiveVersion))
}

// children returns the rows of def owned by ownerID in version, in sequence order.
func (s *session) children(ctx context.Context, def *metadata.Definition, assoc *metadata.Association, ownerID, version string) ([]*Row, error) {
	filter := ScanFilter{
		Versioned: def.Versionable(),
		VersionID: version,
		Equals:    map[string]string{assoc.ForeignKey: ownerID},
	}
	if assoc.ReferenceVersionKey != "" {
		filter.Equals[assoc.ReferenceVersionKey] = version
	}

	var out []*Row
	err := s.tx.Scan(ctx, def.Name, filter, func(row *Row) bool {
		out = append(out, row)
		return true
	})
	return out, err
}

func (s *session) Search(ctx context.Context, definition string, criteria *query.Criteria, wc WriteContext) (ids []string, err error) {
	start := time.Now()
	defer func() { s.engine.observe("search", definition, start, len(ids), err) }()

	def, err := s.definition(definition)
	if err != nil {
		return nil, err
	}
	if criteria == nil {
		criteria = query.NewCriteria()
	}

	type term struct {
		prop string
		want any
	}
	terms := make([]term, 0, len(criteria.Filters))
	for _, f := range criteria.Filters {
		want, err := canonicalValue(f.Value)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term{prop: query.Property(def.Name, f.Field), want: want})
	}

	filter := ScanFilter{Versioned: def.Versionable(), VersionID: wc.Version(), Equals: map[string]string{}}
	for _, t := range terms {
		if text, ok := t.want.(string); ok && t.prop != SequenceField && !strings.Contains(t.prop, ".") {
			filter.Equals[t.prop] = text
		}
	}

	var rows []*Row
	err = s.tx.Scan(ctx, def.Name, filter, func(row *Row) bool {
		for _, t := range terms {
			if !reflect.DeepEqual(fieldValue(row, t.prop), t.want) {
				return true
			}
		}
		rows = append(rows, row)
		return true
	})
	if err != nil {
		return nil, err
	}

	if len(criteria.Sortings) > 0 {
		props := make([]string, len(criteria.Sortings))
		for i, srt := range criteria.Sortings {
			props[i] = query.Property(def.Name, srt.Field)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			for _, p := range props {
				if c := compareValues(fieldValue(rows[i], p), fieldValue(rows[j], p)); c != 0 {
					return c < 0
				}
			}
			return false
		})
	}

	if criteria.Limit > 0 && len(rows) > criteria.Limit {
		rows = rows[:criteria.Limit]
	}

	ids = make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.Key.ID
	}
	return ids, nil
}

func fieldValue(row *Row, prop string) any {
	if prop == SequenceField {
		return float64(row.Seq)
	}
	return row.Data[prop]
}

// compareValues orders canonical JSON values; nil sorts first.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	switch x := a.(type) {
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
