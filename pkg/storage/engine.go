// ABOUTME: Definition-aware entity store over a row backend
// ABOUTME: Every call runs in a backend transaction; nested RunInTx joins it

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nainya/entityversion/internal/logger"
	"github.com/nainya/entityversion/internal/metrics"
	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/query"
)

var (
	_ Store = (*Engine)(nil)
	_ Store = (*session)(nil)
)

// Engine implements Store for the definitions of a registry.
type Engine struct {
	backend  Backend
	registry *metadata.Registry
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the operation logger
func WithLogger(l *logger.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// NewEngine creates an entity store over backend
func NewEngine(backend Backend, registry *metadata.Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:  backend,
		registry: registry,
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the definitions the engine writes
func (e *Engine) Registry() *metadata.Registry {
	return e.registry
}

// Close closes the backend
func (e *Engine) Close() error {
	return e.backend.Close()
}

// RunInTx runs fn in one backend transaction, committing when fn succeeds.
func (e *Engine) RunInTx(ctx context.Context, fn func(Store) error) error {
	tx, err := e.backend.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&session{engine: e, tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

func inTx[T any](ctx context.Context, e *Engine, fn func(Store) (T, error)) (T, error) {
	var out T
	err := e.RunInTx(ctx, func(s Store) error {
		var err error
		out, err = fn(s)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

func (e *Engine) Insert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return inTx(ctx, e, func(s Store) (WrittenEvents, error) { return s.Insert(ctx, definition, rows, wc) })
}

func (e *Engine) Update(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return inTx(ctx, e, func(s Store) (WrittenEvents, error) { return s.Update(ctx, definition, rows, wc) })
}

func (e *Engine) Upsert(ctx context.Context, definition string, rows []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return inTx(ctx, e, func(s Store) (WrittenEvents, error) { return s.Upsert(ctx, definition, rows, wc) })
}

func (e *Engine) Delete(ctx context.Context, definition string, keys []map[string]any, wc WriteContext) (WrittenEvents, error) {
	return inTx(ctx, e, func(s Store) (WrittenEvents, error) { return s.Delete(ctx, definition, keys, wc) })
}

func (e *Engine) Execute(ctx context.Context, commands []InsertCommand) error {
	return e.RunInTx(ctx, func(s Store) error { return s.Execute(ctx, commands) })
}

func (e *Engine) ReadRaw(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error) {
	return inTx(ctx, e, func(s Store) ([]payload.Map, error) { return s.ReadRaw(ctx, definition, ids, wc) })
}

func (e *Engine) ReadBasic(ctx context.Context, definition string, ids []string, wc WriteContext) ([]payload.Map, error) {
	return inTx(ctx, e, func(s Store) ([]payload.Map, error) { return s.ReadBasic(ctx, definition, ids, wc) })
}

func (e *Engine) Search(ctx context.Context, definition string, criteria *query.Criteria, wc WriteContext) ([]string, error) {
	return inTx(ctx, e, func(s Store) ([]string, error) { return s.Search(ctx, definition, criteria, wc) })
}

func (e *Engine) observe(operation, definition string, start time.Time, count int, err error) {
	d := time.Since(start)
	e.log.LogStoreOperation(operation, definition, d, count, err)
	e.metrics.RecordStoreOperation(operation, d, err)
}

// session is the Store bound to one open backend transaction.
type session struct {
	engine *Engine
	tx     RowTx
}

func (s *session) RunInTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *session) definition(name string) (*metadata.Definition, error) {
	return s.engine.registry.Get(name)
}

func rowKey(def *metadata.Definition, id, version string) Key {
	k := Key{ID: id}
	if def.Versionable() {
		k.VersionID = version
	}
	return k
}

// primaryKey describes a row key the way written events report it.
func primaryKey(def *metadata.Definition, key Key) any {
	vk, ok := def.VersionKey()
	if !ok {
		return key.ID
	}
	return map[string]any{"id": key.ID, vk: key.VersionID}
}

func keyPayload(def *metadata.Definition, key Key) map[string]any {
	out := map[string]any{"id": key.ID}
	if vk, ok := def.VersionKey(); ok {
		out[vk] = key.VersionID
	}
	return out
}

// canonical round-trips data through JSON so stored and compared values share one shape.
func canonical(data map[string]any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	raw, err := marshal(data)
	if err != nil {
		return nil, err
	}
	return unmarshal(raw)
}

func marshal(data map[string]any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return raw, nil
}

func unmarshal(raw []byte) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func canonicalValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out, nil
}
