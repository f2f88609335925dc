// ABOUTME: Version manager front door
// ABOUTME: Audited writes, forking, merging and ledger reads over an entity store

package version

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nainya/entityversion/internal/logger"
	"github.com/nainya/entityversion/internal/metrics"
	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/storage"
)

// UserResolver maps the acting principal to a user id.
type UserResolver interface {
	Resolve(ctx context.Context, p *storage.Principal) (*string, error)
}

// Manager applies writes to the entity store and records every change in the
// audit ledger. Each public operation runs in a single store transaction.
type Manager struct {
	store    storage.Store
	registry *metadata.Registry
	users    UserResolver
	log      *logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() string
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the manager logger
func WithLogger(l *logger.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithMetrics records fork, merge and commit metrics
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock replaces the commit timestamp source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithIDGenerator replaces the id source for versions, commits and commit data
func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		m.newID = newID
	}
}

// NewManager creates a version manager. A nil resolver records anonymous commits.
func NewManager(store storage.Store, reg *metadata.Registry, users UserResolver, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		registry: reg,
		users:    users,
		log:      logger.Nop(),
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Insert creates rows and records an insert commit.
func (m *Manager) Insert(ctx context.Context, definition string, rows []map[string]any, wc storage.WriteContext) (storage.WrittenEvents, error) {
	return m.mutate(ctx, ActionInsert, wc, func(s storage.Store) (storage.WrittenEvents, error) {
		return s.Insert(ctx, definition, rows, wc)
	})
}

// Update changes existing rows and records an update commit.
func (m *Manager) Update(ctx context.Context, definition string, rows []map[string]any, wc storage.WriteContext) (storage.WrittenEvents, error) {
	return m.mutate(ctx, ActionUpdate, wc, func(s storage.Store) (storage.WrittenEvents, error) {
		return s.Update(ctx, definition, rows, wc)
	})
}

// Upsert writes rows and records an upsert commit.
func (m *Manager) Upsert(ctx context.Context, definition string, rows []map[string]any, wc storage.WriteContext) (storage.WrittenEvents, error) {
	return m.mutate(ctx, ActionUpsert, wc, func(s storage.Store) (storage.WrittenEvents, error) {
		return s.Upsert(ctx, definition, rows, wc)
	})
}

// Delete removes rows, cascading, and records a delete commit.
func (m *Manager) Delete(ctx context.Context, definition string, keys []map[string]any, wc storage.WriteContext) (storage.WrittenEvents, error) {
	return m.mutate(ctx, ActionDelete, wc, func(s storage.Store) (storage.WrittenEvents, error) {
		return s.Delete(ctx, definition, keys, wc)
	})
}

func (m *Manager) mutate(ctx context.Context, action Action, wc storage.WriteContext, apply func(storage.Store) (storage.WrittenEvents, error)) (storage.WrittenEvents, error) {
	userID, err := m.resolveUser(ctx, wc)
	if err != nil {
		return nil, err
	}

	var events storage.WrittenEvents
	err = m.store.RunInTx(ctx, func(s storage.Store) error {
		var err error
		if events, err = apply(s); err != nil {
			return err
		}
		return m.writeAuditLog(ctx, s, userID, events, wc, action, "")
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// resolveUser runs outside any transaction so the lookup never waits on the
// store lock held by the write it belongs to.
func (m *Manager) resolveUser(ctx context.Context, wc storage.WriteContext) (*string, error) {
	if m.users == nil {
		return nil, nil
	}
	return m.users.Resolve(ctx, wc.Principal)
}

func (m *Manager) timestamp() string {
	return m.now().UTC().Format(time.RFC3339)
}
