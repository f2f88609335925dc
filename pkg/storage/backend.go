// ABOUTME: Row backend contract below the entity engine
// ABOUTME: Keyed JSON rows with an insertion sequence, one transaction at a time

package storage

import "context"

// Key addresses a row within a definition table. VersionID is empty for
// definitions without a version field.
type Key struct {
	ID        string
	VersionID string
}

// Row is one stored entity row.
type Row struct {
	Key  Key
	Seq  int64 // Insertion sequence, assigned by the backend when zero
	Data map[string]any
}

// Backend persists rows for the engine.
type Backend interface {
	Begin(ctx context.Context) (RowTx, error)
	Close() error
}

// RowTx is a backend transaction. Rollback after Commit is a no-op.
type RowTx interface {
	// Get returns nil when the row does not exist.
	Get(ctx context.Context, table string, key Key) (*Row, error)
	// Put inserts or replaces a row, keeping the sequence of a replaced row.
	Put(ctx context.Context, table string, row *Row) error
	Delete(ctx context.Context, table string, key Key) (bool, error)
	// Scan visits the rows of table matching filter in ascending sequence
	// until fn returns false.
	Scan(ctx context.Context, table string, filter ScanFilter, fn func(*Row) bool) error
	Commit() error
	Rollback() error
}

// ScanFilter narrows a scan. The zero value matches every row.
type ScanFilter struct {
	// Versioned restricts rows to VersionID.
	Versioned bool
	VersionID string
	// Equals holds top-level string properties the payload must carry.
	Equals map[string]string
}

// Match reports whether row passes the filter.
func (f ScanFilter) Match(row *Row) bool {
	if f.Versioned && row.Key.VersionID != f.VersionID {
		return false
	}
	for prop, want := range f.Equals {
		if got, ok := row.Data[prop].(string); !ok || got != want {
			return false
		}
	}
	return true
}
