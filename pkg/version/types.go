// ABOUTME: Audit ledger data model
// ABOUTME: Commits and their per-entity change records

package version

import (
	"time"

	"github.com/nainya/entityversion/pkg/payload"
)

// Action is the kind of write a commit data entry records.
type Action string

const (
	ActionInsert Action = "insert"
	ActionUpdate Action = "update"
	ActionUpsert Action = "upsert"
	ActionDelete Action = "delete"
	ActionClone  Action = "clone" // Fork bookkeeping, never replayed
)

// Commit is one logical write against a version
type Commit struct {
	ID        string
	VersionID string
	UserID    *string
	IsMerge   bool
	Message   string
	CreatedAt time.Time
	Data      []CommitData // In write order
}

// CommitData is one affected entity within a commit
type CommitData struct {
	ID         string
	CommitID   string
	EntityName string
	EntityID   map[string]any // Primary key, always carrying versionId
	Payload    map[string]any // Changeset, or the primary key for deletes
	UserID     *string
	Action     Action
	CreatedAt  time.Time
}

func optionalString(m payload.Map, key string) *string {
	s := m.String(key)
	if s == "" {
		return nil
	}
	return &s
}

func plainMap(v payload.Value) map[string]any {
	if m, ok := payload.ToAny(v).(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func commitFromMap(m payload.Map) Commit {
	c := Commit{
		ID:        m.String("id"),
		VersionID: m.String("versionId"),
		UserID:    optionalString(m, "userId"),
		IsMerge:   m.Bool("isMerge"),
		Message:   m.String("message"),
		CreatedAt: m.Time("createdAt"),
	}
	for _, d := range m.Maps("data") {
		c.Data = append(c.Data, CommitData{
			ID:         d.String("id"),
			CommitID:   d.String("versionCommitId"),
			EntityName: d.String("entityName"),
			EntityID:   plainMap(d["entityId"]),
			Payload:    plainMap(d["payload"]),
			UserID:     optionalString(d, "userId"),
			Action:     Action(d.String("action")),
			CreatedAt:  d.Time("createdAt"),
		})
	}
	return c
}
