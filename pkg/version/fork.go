package version

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/storage"
)

// ForkOption configures CreateVersion
type ForkOption func(*forkOptions)

type forkOptions struct {
	name      string
	versionID string
}

// WithName names the new version record
func WithName(name string) ForkOption {
	return func(o *forkOptions) {
		o.name = name
	}
}

// WithVersionID uses a caller-chosen id for the new version
func WithVersionID(id string) ForkOption {
	return func(o *forkOptions) {
		o.versionID = id
	}
}

// CreateVersion forks the live entity id of definition into a new version and
// returns the version id. The version record, the cloned rows and a clone
// commit are written in one transaction.
func (m *Manager) CreateVersion(ctx context.Context, definition, id string, wc storage.WriteContext, opts ...ForkOption) (versionID string, err error) {
	start := time.Now()
	defer func() {
		m.metrics.RecordFork(definition, err)
		m.log.LogFork(definition, id, versionID, time.Since(start), err)
	}()

	def, err := m.registry.Get(definition)
	if err != nil {
		return "", err
	}

	o := forkOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.versionID == "" {
		o.versionID = m.newID()
	}
	if o.versionID == storage.LiveVersion {
		return "", fmt.Errorf("fork %s %s: %w", definition, id, ErrLiveVersion)
	}
	if o.name == "" {
		o.name = definition + m.timestamp()
	}

	userID, err := m.resolveUser(ctx, wc)
	if err != nil {
		return "", err
	}

	err = m.store.RunInTx(ctx, func(s storage.Store) error {
		record := map[string]any{
			"id":        o.versionID,
			"name":      o.name,
			"createdAt": m.timestamp(),
		}
		if _, err := s.Upsert(ctx, metadata.VersionEntity, []map[string]any{record}, wc); err != nil {
			return fmt.Errorf("create version record: %w", err)
		}

		events, err := m.clone(ctx, s, def, id, o.versionID, wc)
		if err != nil {
			return err
		}
		return m.writeAuditLog(ctx, s, userID, events, wc, ActionClone, o.versionID)
	})
	if err != nil {
		return "", err
	}
	return o.versionID, nil
}

// clone copies the live entity and its cascade children into versionID.
func (m *Manager) clone(ctx context.Context, s storage.Store, def *metadata.Definition, id, versionID string, wc storage.WriteContext) (storage.WrittenEvents, error) {
	rows, err := s.ReadRaw(ctx, def.Name, []string{id}, wc.WithVersionID(storage.LiveVersion))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", def.Name, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("fork %s %s: %w", def.Name, id, ErrEntityNotFound)
	}

	detail := make(payload.Map)
	for _, f := range def.Filter(metadata.IsForkable) {
		if v, ok := rows[0][f.Name]; ok {
			detail[f.Name] = v
		}
	}

	plain, err := payload.NormalizeMap(detail)
	if err != nil {
		return nil, fmt.Errorf("normalize %s %s: %w", def.Name, id, err)
	}
	plain, err = payload.StripVersionFields(m.registry, def.Name, plain)
	if err != nil {
		return nil, err
	}
	plain["id"] = id
	delete(plain, "children")

	events, err := s.Insert(ctx, def.Name, []map[string]any{plain}, wc.WithVersionID(versionID))
	if err != nil {
		return nil, fmt.Errorf("clone %s %s: %w", def.Name, id, err)
	}
	return events, nil
}
