package version

import (
	"context"
	"fmt"
	"strings"

	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/query"
	"github.com/nainya/entityversion/pkg/storage"
)

// WriteAuditLog records events as one commit against versionID, or against the
// context version when versionID is empty. Events of the version system
// definitions are never recorded; a commit without data is not written.
func (m *Manager) WriteAuditLog(ctx context.Context, events storage.WrittenEvents, wc storage.WriteContext, action Action, versionID string) error {
	userID, err := m.resolveUser(ctx, wc)
	if err != nil {
		return err
	}
	return m.store.RunInTx(ctx, func(s storage.Store) error {
		return m.writeAuditLog(ctx, s, userID, events, wc, action, versionID)
	})
}

func (m *Manager) writeAuditLog(ctx context.Context, gw storage.WriteGateway, userID *string, events storage.WrittenEvents, wc storage.WriteContext, action Action, versionID string) error {
	if versionID == "" {
		versionID = wc.Version()
	}
	commitID := m.newID()
	createdAt := m.timestamp()

	commit := map[string]any{
		"id":        commitID,
		"versionId": versionID,
		"isMerge":   false,
		"createdAt": createdAt,
	}
	setUser(commit, userID)
	commands := []storage.InsertCommand{{Definition: metadata.CommitEntity, Payload: commit}}

	for _, ev := range events {
		if strings.HasPrefix(ev.Definition, metadata.VersionEntity) {
			continue
		}
		for _, item := range ev.Items {
			entityID := primaryKeyMap(item.PrimaryKey)
			entityID["versionId"] = versionID

			data := map[string]any{
				"id":              m.newID(),
				"versionCommitId": commitID,
				"entityName":      ev.Definition,
				"entityId":        entityID,
				"payload":         payload.Copy(item.Payload),
				"action":          string(action),
				"createdAt":       createdAt,
			}
			setUser(data, userID)
			commands = append(commands, storage.InsertCommand{Definition: metadata.CommitDataEntity, Payload: data})
		}
	}

	entries := len(commands) - 1
	if entries == 0 {
		m.metrics.RecordNoopCommit()
		return nil
	}
	if err := gw.Execute(ctx, commands); err != nil {
		return fmt.Errorf("write %s commit: %w", action, err)
	}

	m.metrics.RecordCommit(string(action), entries)
	m.log.LogCommit(commitID, versionID, string(action), entries)
	return nil
}

func setUser(row map[string]any, userID *string) {
	if userID != nil {
		row["userId"] = *userID
	}
}

// primaryKeyMap copies a written primary key into map form.
func primaryKeyMap(pk any) map[string]any {
	if m, ok := pk.(map[string]any); ok {
		return payload.Copy(m)
	}
	return map[string]any{"id": pk}
}

// Commits returns the commits recorded against versionID in write order.
func (m *Manager) Commits(ctx context.Context, versionID string, wc storage.WriteContext) ([]Commit, error) {
	var commits []Commit
	err := m.store.RunInTx(ctx, func(s storage.Store) error {
		var err error
		commits, err = m.commits(ctx, s, versionID, wc)
		return err
	})
	return commits, err
}

func (m *Manager) commits(ctx context.Context, s storage.Store, versionID string, wc storage.WriteContext) ([]Commit, error) {
	criteria := query.NewCriteria().
		Where(metadata.CommitEntity+".versionId", versionID).
		OrderBy(metadata.CommitEntity + "." + storage.SequenceField)

	live := wc.WithVersionID(storage.LiveVersion)
	ids, err := s.Search(ctx, metadata.CommitEntity, criteria, live)
	if err != nil {
		return nil, fmt.Errorf("search commits of %s: %w", versionID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.ReadBasic(ctx, metadata.CommitEntity, ids, live)
	if err != nil {
		return nil, fmt.Errorf("read commits of %s: %w", versionID, err)
	}
	commits := make([]Commit, 0, len(rows))
	for _, row := range rows {
		commits = append(commits, commitFromMap(row))
	}
	return commits, nil
}

// ReadEntity returns the entity with every association hydrated as it exists in versionID.
func (m *Manager) ReadEntity(ctx context.Context, definition, id, versionID string, wc storage.WriteContext) (map[string]any, error) {
	rows, err := m.store.ReadRaw(ctx, definition, []string{id}, wc.WithVersionID(versionID))
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s %s in version %s", ErrEntityNotFound, definition, id, versionID)
	}
	return rows[0].Plain(), nil
}
