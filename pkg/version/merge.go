package version

import (
	"context"
	"fmt"
	"time"

	"github.com/nainya/entityversion/pkg/metadata"
	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/storage"
)

type affectedEntity struct {
	definition string
	entityID   map[string]any
}

// Merge replays every change recorded against versionID onto the live
// version, replaces the version's commits with a single merge commit and
// removes the version with its forked rows. Clone entries are bookkeeping and
// are not replayed. The whole merge is one transaction.
func (m *Manager) Merge(ctx context.Context, versionID string, wc storage.WriteContext) (err error) {
	if versionID == "" || versionID == storage.LiveVersion {
		return ErrLiveVersion
	}

	start := time.Now()
	var commitCount, replayed int
	defer func() {
		m.metrics.RecordMerge(err)
		m.log.LogMerge(versionID, commitCount, replayed, time.Since(start), err)
	}()

	userID, err := m.resolveUser(ctx, wc)
	if err != nil {
		return err
	}

	live := wc.WithVersionID(storage.LiveVersion)
	forked := wc.WithVersionID(versionID)

	return m.store.RunInTx(ctx, func(s storage.Store) error {
		commits, err := m.commits(ctx, s, versionID, wc)
		if err != nil {
			return err
		}
		commitCount = len(commits)

		var changes []CommitData
		var affected []affectedEntity
		for _, commit := range commits {
			for _, data := range commit.Data {
				if data.Action != ActionClone {
					changes = append(changes, data)
				}
				affected = append(affected, affectedEntity{definition: data.EntityName, entityID: data.EntityID})

				if err := m.replay(ctx, s, data, live); err != nil {
					return fmt.Errorf("replay commit %s: %w", commit.ID, err)
				}
			}

			if _, err := s.Delete(ctx, metadata.CommitEntity, []map[string]any{{"id": commit.ID}}, live); err != nil {
				return fmt.Errorf("delete commit %s: %w", commit.ID, err)
			}
		}
		replayed = len(changes)

		if len(changes) > 0 {
			if err := m.writeMergeCommit(ctx, s, userID, changes, live); err != nil {
				return err
			}
		} else {
			m.metrics.RecordNoopCommit()
		}

		if _, err := s.Delete(ctx, metadata.VersionEntity, []map[string]any{{"id": versionID}}, wc); err != nil {
			return fmt.Errorf("delete version %s: %w", versionID, err)
		}

		for _, a := range affected {
			def, err := m.registry.Get(a.definition)
			if err != nil {
				return err
			}
			// Unversioned rows are shared with live and stay.
			if !def.Versionable() {
				continue
			}
			key, err := payload.InjectVersionFields(m.registry, a.definition, a.entityID, versionID)
			if err != nil {
				return err
			}
			if _, err := s.Delete(ctx, a.definition, []map[string]any{key}, forked); err != nil {
				return fmt.Errorf("remove forked %s: %w", a.definition, err)
			}
		}
		return nil
	})
}

// replay applies one recorded change to the live version.
func (m *Manager) replay(ctx context.Context, s storage.Store, data CommitData, live storage.WriteContext) error {
	switch data.Action {
	case ActionInsert, ActionUpdate, ActionUpsert:
		row, err := payload.InjectVersionFields(m.registry, data.EntityName, data.Payload, storage.LiveVersion)
		if err != nil {
			return err
		}
		if _, err := s.Upsert(ctx, data.EntityName, []map[string]any{row}, live); err != nil {
			return err
		}
	case ActionDelete:
		key, err := payload.InjectVersionFields(m.registry, data.EntityName, data.EntityID, storage.LiveVersion)
		if err != nil {
			return err
		}
		if _, err := s.Delete(ctx, data.EntityName, []map[string]any{key}, live); err != nil {
			return err
		}
	default:
		return nil
	}
	m.metrics.RecordReplay(string(data.Action))
	return nil
}

// writeMergeCommit records the replayed changes as one live commit.
func (m *Manager) writeMergeCommit(ctx context.Context, s storage.Store, userID *string, changes []CommitData, live storage.WriteContext) error {
	now := m.timestamp()
	commitID := m.newID()

	data := make([]any, 0, len(changes))
	for _, c := range changes {
		entityID, err := payload.InjectVersionFields(m.registry, c.EntityName, c.EntityID, storage.LiveVersion)
		if err != nil {
			return err
		}
		entityID["versionId"] = storage.LiveVersion
		changeset, err := payload.InjectVersionFields(m.registry, c.EntityName, c.Payload, storage.LiveVersion)
		if err != nil {
			return err
		}
		row := map[string]any{
			"id":         m.newID(),
			"entityName": c.EntityName,
			"entityId":   entityID,
			"payload":    changeset,
			"action":     string(c.Action),
			"createdAt":  c.CreatedAt.UTC().Format(time.RFC3339),
		}
		if c.UserID != nil {
			row["userId"] = *c.UserID
		}
		data = append(data, row)
	}

	commit := map[string]any{
		"id":        commitID,
		"versionId": storage.LiveVersion,
		"isMerge":   true,
		"message":   "merge commit " + now,
		"createdAt": now,
		"data":      data,
	}
	setUser(commit, userID)

	if _, err := s.Insert(ctx, metadata.CommitEntity, []map[string]any{commit}, live); err != nil {
		return fmt.Errorf("write merge commit: %w", err)
	}
	m.metrics.RecordCommit("merge", len(data))
	m.log.LogCommit(commitID, storage.LiveVersion, "merge", len(data))
	return nil
}
