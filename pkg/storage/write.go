// ABOUTME: Engine write path: insert/update/upsert with nested associations, cascade delete
// ABOUTME: Changesets are applied to existing rows as JSON merge patches

package storage

import (
	"context"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/uuid"

	"github.com/nainya/entityversion/pkg/metadata"
)

// maxDepth bounds association recursion on cyclic data.
const maxDepth = 32

type writeMode int

const (
	modeInsert writeMode = iota
	modeUpdate
	modeUpsert
)

func (m writeMode) String() string {
	switch m {
	case modeInsert:
		return "insert"
	case modeUpdate:
		return "update"
	}
	return "upsert"
}

func (s *session) Insert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return s.write(ctx, definition, rows, wc, modeInsert)
}

func (s *session) Update(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return s.write(ctx, definition, rows, wc, modeUpdate)
}

func (s *session) Upsert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return s.write(ctx, definition, rows, wc, modeUpsert)
}

func (s *session) write(ctx context.Context, definition string, rows []map[string]any, wc WriteContext, mode writeMode) (events WrittenEvents, err error) {
	start := time.Now()
	defer func() { s.engine.observe(mode.String(), definition, start, events.Len(), err) }()

	def, err := s.definition(definition)
	if err != nil {
		return nil, err
	}

	for i, row := range rows {
		data, err := canonical(row)
		if err != nil {
			return nil, fmt.Errorf("%s %s[%d]: %w", mode, definition, i, err)
		}
		if _, err := s.writeRow(ctx, def, data, wc, mode, &events, 0); err != nil {
			return nil, fmt.Errorf("%s %s[%d]: %w", mode, definition, i, err)
		}
	}
	return events, nil
}

// writeRow writes one canonical row and its nested associations, returning the row id.
// One-associations are written before the owner, many-associations after it.
func (s *session) writeRow(ctx context.Context, def *metadata.Definition, data map[string]any, wc WriteContext, mode writeMode, events *WrittenEvents, depth int) (string, error) {
	if depth > maxDepth {
		return "", fmt.Errorf("%w: nesting deeper than %d at %s", ErrInvalidPayload, maxDepth, def.Name)
	}
	if err := checkFields(def, data, true); err != nil {
		return "", err
	}

	id, err := rowID(data, mode)
	if err != nil {
		return "", err
	}
	version := wc.Version()

	type pending struct {
		def   *metadata.Definition
		assoc *metadata.Association
		items []any
	}
	var many []pending

	for _, f := range def.Filter(metadata.IsAssociation) {
		nested, ok := data[f.Name]
		delete(data, f.Name)
		if !ok || nested == nil {
			continue
		}
		ref, err := s.definition(f.Association.Referenced)
		if err != nil {
			return "", err
		}

		if f.Association.Cardinality == metadata.Many {
			items, ok := nested.([]any)
			if !ok {
				return "", fmt.Errorf("%w: %s.%s must be a list", ErrInvalidPayload, def.Name, f.Name)
			}
			many = append(many, pending{def: ref, assoc: f.Association, items: items})
			continue
		}

		child, ok := nested.(map[string]any)
		if !ok {
			return "", fmt.Errorf("%w: %s.%s must be an object", ErrInvalidPayload, def.Name, f.Name)
		}
		childID, err := s.writeRow(ctx, ref, child, wc, modeUpsert, events, depth+1)
		if err != nil {
			return "", err
		}
		data[f.Association.LocalKey] = childID
	}

	for _, f := range def.Filter(metadata.IsVersionOrSubVersion) {
		data[f.Name] = version
	}

	key := rowKey(def, id, version)
	existing, err := s.tx.Get(ctx, def.Name, key)
	if err != nil {
		return "", err
	}

	row := &Row{Key: key, Data: data}
	switch {
	case existing != nil && mode == modeInsert:
		return "", fmt.Errorf("%w: %s %s", ErrDuplicateKey, def.Name, id)
	case existing == nil && mode == modeUpdate:
		return "", fmt.Errorf("%w: %s %s", ErrRowNotFound, def.Name, id)
	case existing != nil:
		merged, err := mergePatch(existing.Data, data)
		if err != nil {
			return "", err
		}
		row.Data = merged
		row.Seq = existing.Seq
	default:
		for _, f := range def.Filter(isReferenceVersion) {
			if v, _ := data[f.Name].(string); v == "" {
				data[f.Name] = version
			}
		}
	}

	if err := s.tx.Put(ctx, def.Name, row); err != nil {
		return "", err
	}
	events.Add(def.Name, WrittenItem{PrimaryKey: primaryKey(def, key), Payload: data})

	for _, p := range many {
		for i, item := range p.items {
			child, ok := item.(map[string]any)
			if !ok {
				return "", fmt.Errorf("%w: %s item %d must be an object", ErrInvalidPayload, p.def.Name, i)
			}
			child[p.assoc.ForeignKey] = id
			if p.assoc.ReferenceVersionKey != "" {
				child[p.assoc.ReferenceVersionKey] = version
			}
			if _, err := s.writeRow(ctx, p.def, child, wc, modeUpsert, events, depth+1); err != nil {
				return "", err
			}
		}
	}

	return id, nil
}

func isReferenceVersion(f metadata.Field) bool {
	return f.Role == metadata.RoleReferenceVersion
}

func rowID(data map[string]any, mode writeMode) (string, error) {
	raw, present := data["id"]
	if present && raw != nil {
		id, ok := raw.(string)
		if !ok || id == "" {
			return "", fmt.Errorf("%w: id must be a non-empty string", ErrInvalidPayload)
		}
		return id, nil
	}
	if mode == modeUpdate {
		return "", fmt.Errorf("%w: update without id", ErrInvalidPayload)
	}
	id := uuid.New().String()
	data["id"] = id
	return id, nil
}

// checkFields rejects properties the definition does not declare.
func checkFields(def *metadata.Definition, data map[string]any, allowAssociations bool) error {
	for name := range data {
		f, ok := def.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s has no field %s", ErrInvalidPayload, def.Name, name)
		}
		if !allowAssociations && metadata.IsAssociation(f) {
			return fmt.Errorf("%w: %s.%s is an association", ErrInvalidPayload, def.Name, name)
		}
	}
	return nil
}

func mergePatch(doc, patch map[string]any) (map[string]any, error) {
	docJSON, err := marshal(doc)
	if err != nil {
		return nil, err
	}
	patchJSON, err := marshal(patch)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(docJSON, patchJSON)
	if err != nil {
		return nil, fmt.Errorf("%w: merge patch: %v", ErrInvalidPayload, err)
	}
	return unmarshal(merged)
}

func (s *session) Delete(ctx context.Context, definition string, keys []map[string]any, wc WriteContext) (events WrittenEvents, err error) {
	start := time.Now()
	defer func() { s.engine.observe("delete", definition, start, events.Len(), err) }()

	def, err := s.definition(definition)
	if err != nil {
		return nil, err
	}

	for i, k := range keys {
		id, _ := k["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("delete %s[%d]: %w: id is required", definition, i, ErrInvalidPayload)
		}
		if err := s.deleteRow(ctx, def, id, wc.Version(), &events, 0); err != nil {
			return nil, fmt.Errorf("delete %s[%d]: %w", definition, i, err)
		}
	}
	return events, nil
}

// deleteRow removes a row after its cascade-delete many-associations. Rows
// owned through a cascade one-association are removed after the owner.
// A missing row is not an error and produces no event.
func (s *session) deleteRow(ctx context.Context, def *metadata.Definition, id, version string, events *WrittenEvents, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("cascade deeper than %d at %s", maxDepth, def.Name)
	}

	key := rowKey(def, id, version)
	existing, err := s.tx.Get(ctx, def.Name, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	type owned struct {
		def *metadata.Definition
		id  string
	}
	var ones []owned

	for _, f := range def.Filter(metadata.IsCascadeAssociation) {
		ref, err := s.definition(f.Association.Referenced)
		if err != nil {
			return err
		}
		if f.Association.Cardinality == metadata.One {
			if localID, _ := existing.Data[f.Association.LocalKey].(string); localID != "" {
				ones = append(ones, owned{def: ref, id: localID})
			}
			continue
		}
		children, err := s.children(ctx, ref, f.Association, id, version)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := s.deleteRow(ctx, ref, child.Key.ID, version, events, depth+1); err != nil {
				return err
			}
		}
	}

	deleted, err := s.tx.Delete(ctx, def.Name, key)
	if err != nil {
		return err
	}
	if deleted {
		events.Add(def.Name, WrittenItem{PrimaryKey: primaryKey(def, key), Payload: keyPayload(def, key)})
	}

	for _, o := range ones {
		if err := s.deleteRow(ctx, o.def, o.id, version, events, depth+1); err != nil {
			return err
		}
	}
	return nil
}

// Execute inserts raw rows. A versionable row without a version is written live.
func (s *session) Execute(ctx context.Context, commands []InsertCommand) (err error) {
	start := time.Now()
	defer func() { s.engine.observe("execute", "", start, len(commands), err) }()

	for i, cmd := range commands {
		def, err := s.definition(cmd.Definition)
		if err != nil {
			return err
		}
		data, err := canonical(cmd.Payload)
		if err != nil {
			return fmt.Errorf("execute %s[%d]: %w", cmd.Definition, i, err)
		}
		if err := checkFields(def, data, false); err != nil {
			return fmt.Errorf("execute %s[%d]: %w", cmd.Definition, i, err)
		}

		id, _ := data["id"].(string)
		if id == "" {
			return fmt.Errorf("execute %s[%d]: %w: id is required", cmd.Definition, i, ErrInvalidPayload)
		}
		key := Key{ID: id}
		if vk, ok := def.VersionKey(); ok {
			v, _ := data[vk].(string)
			if v == "" {
				v = LiveVersion
				data[vk] = v
			}
			key.VersionID = v
		}

		existing, err := s.tx.Get(ctx, def.Name, key)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("execute %s[%d]: %w: %s", cmd.Definition, i, ErrDuplicateKey, id)
		}
		if err := s.tx.Put(ctx, def.Name, &Row{Key: key, Data: data}); err != nil {
			return err
		}
	}
	return nil
}
