// ABOUTME: Entity store contract used by the versioning core
// ABOUTME: Write context, written events and the reader/writer/search interfaces

package storage

import (
	"context"

	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/query"
)

// LiveVersion is the reserved version id of the canonical entity space.
const LiveVersion = "0fa91ce3e96a4bc2be4bd9ce752c3425"

// SequenceField sorts by the store's insertion sequence.
const SequenceField = "ai"

// Principal is the authenticated actor behind a write.
type Principal struct {
	Username string
	UserID   string // Used as is when set
}

// WriteContext scopes an operation to a tenant, a version and an actor.
type WriteContext struct {
	TenantID  string
	VersionID string
	Principal *Principal
}

// DefaultContext returns an anonymous context pinned to the live version.
func DefaultContext() WriteContext {
	return WriteContext{VersionID: LiveVersion}
}

// WithVersionID derives a copy of the context pinned to versionID.
func (wc WriteContext) WithVersionID(versionID string) WriteContext {
	wc.VersionID = versionID
	return wc
}

// Version returns the context version, defaulting to live.
func (wc WriteContext) Version() string {
	if wc.VersionID == "" {
		return LiveVersion
	}
	return wc.VersionID
}

// WrittenItem is one affected row.
// PrimaryKey is {id, <versionKey>} for versionable definitions and the scalar id otherwise.
type WrittenItem struct {
	PrimaryKey any
	Payload    map[string]any
}

// WrittenEvent groups the affected rows of one definition.
type WrittenEvent struct {
	Definition string
	Items      []WrittenItem
}

// WrittenEvents is the ordered description of everything a write touched.
type WrittenEvents []WrittenEvent

// Add appends an item to the group of definition, creating it on first use.
func (e *WrittenEvents) Add(definition string, item WrittenItem) {
	for i := range *e {
		if (*e)[i].Definition == definition {
			(*e)[i].Items = append((*e)[i].Items, item)
			return
		}
	}
	*e = append(*e, WrittenEvent{Definition: definition, Items: []WrittenItem{item}})
}

// Items returns the items written for definition.
func (e WrittenEvents) Items(definition string) []WrittenItem {
	for _, ev := range e {
		if ev.Definition == definition {
			return ev.Items
		}
	}
	return nil
}

// Len counts written items across definitions.
func (e WrittenEvents) Len() int {
	n := 0
	for _, ev := range e {
		n += len(ev.Items)
	}
	return n
}

// InsertCommand is a raw row insert executed by the write gateway.
type InsertCommand struct {
	Definition string
	Payload    map[string]any
}

// Writer applies audited-level writes. Nested association payloads are written too.
type Writer interface {
	Insert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error)
	Update(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error)
	Upsert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error)
	Delete(ctx context.Context, definition string, keys []map[string]any, wc WriteContext) (WrittenEvents, error)
}

// Reader loads entities by id in the context version.
type Reader interface {
	// ReadRaw hydrates every association.
	ReadRaw(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error)
	// ReadBasic hydrates cascade associations only.
	ReadBasic(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error)
}

// Searcher resolves criteria to an ordered id list.
type Searcher interface {
	Search(ctx context.Context, definition string, criteria *query.Criteria, wc WriteContext) ([]string, error)
}

// WriteGateway executes raw inserts as one atomic batch.
type WriteGateway interface {
	Execute(ctx context.Context, commands []InsertCommand) error
}

// Transactor runs fn inside one store transaction. Nested calls join the outer one.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}

// Store is the full entity store contract.
type Store interface {
	Writer
	Reader
	Searcher
	WriteGateway
	Transactor
}
