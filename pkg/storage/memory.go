// ABOUTME: In-memory row backend with copy-on-write transactions
// ABOUTME: One writer at a time; dirty tables replace the committed ones on Commit

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

type memRow struct {
	seq  int64
	data []byte // JSON, never mutated after write
}

type memTable map[string]memRow

// MemoryBackend keeps rows in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	tables map[string]memTable
	seq    int64
}

// NewMemoryBackend creates an empty memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string]memTable)}
}

// Begin starts a transaction. It blocks until the previous one finishes.
func (b *MemoryBackend) Begin(ctx context.Context) (RowTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	return &memTx{
		backend: b,
		dirty:   make(map[string]memTable),
		seq:     b.seq,
	}, nil
}

// Close releases nothing; rows live as long as the backend.
func (b *MemoryBackend) Close() error {
	return nil
}

type memTx struct {
	backend *MemoryBackend
	dirty   map[string]memTable // Tables copied on first write
	seq     int64
	done    bool
}

func (tx *memTx) table(name string) memTable {
	if t, ok := tx.dirty[name]; ok {
		return t
	}
	return tx.backend.tables[name]
}

func (tx *memTx) writable(name string) memTable {
	if t, ok := tx.dirty[name]; ok {
		return t
	}
	committed := tx.backend.tables[name]
	t := make(memTable, len(committed)+1)
	for k, v := range committed {
		t[k] = v
	}
	tx.dirty[name] = t
	return t
}

func (tx *memTx) Get(ctx context.Context, table string, key Key) (*Row, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	r, ok := tx.table(table)[EncodeRowKey(key)]
	if !ok {
		return nil, nil
	}
	return r.row(key)
}

func (tx *memTx) Put(ctx context.Context, table string, row *Row) error {
	if tx.done {
		return ErrTxDone
	}
	data, err := json.Marshal(row.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	t := tx.writable(table)
	k := EncodeRowKey(row.Key)
	seq := row.Seq
	if existing, ok := t[k]; ok {
		seq = existing.seq
	} else if seq == 0 {
		tx.seq++
		seq = tx.seq
	}
	t[k] = memRow{seq: seq, data: data}
	row.Seq = seq
	return nil
}

func (tx *memTx) Delete(ctx context.Context, table string, key Key) (bool, error) {
	if tx.done {
		return false, ErrTxDone
	}
	k := EncodeRowKey(key)
	if _, ok := tx.table(table)[k]; !ok {
		return false, nil
	}
	delete(tx.writable(table), k)
	return true, nil
}

func (tx *memTx) Scan(ctx context.Context, table string, filter ScanFilter, fn func(*Row) bool) error {
	if tx.done {
		return ErrTxDone
	}

	type entry struct {
		key string
		memRow
	}
	t := tx.table(table)
	entries := make([]entry, 0, len(t))
	for k, r := range t {
		entries = append(entries, entry{key: k, memRow: r})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, err := DecodeRowKey(e.key)
		if err != nil {
			return err
		}
		if filter.Versioned && key.VersionID != filter.VersionID {
			continue
		}
		row, err := e.row(key)
		if err != nil {
			return err
		}
		if !filter.Match(row) {
			continue
		}
		if !fn(row) {
			break
		}
	}
	return nil
}

func (tx *memTx) Commit() error {
	if tx.done {
		return ErrTxDone
	}
	for name, t := range tx.dirty {
		tx.backend.tables[name] = t
	}
	tx.backend.seq = tx.seq
	tx.finish()
	return nil
}

func (tx *memTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.finish()
	return nil
}

func (tx *memTx) finish() {
	tx.done = true
	tx.dirty = nil
	tx.backend.mu.Unlock()
}

func (r memRow) row(key Key) (*Row, error) {
	var data map[string]any
	if err := json.Unmarshal(r.data, &data); err != nil {
		return nil, fmt.Errorf("decode row %s: %w", key.ID, err)
	}
	return &Row{Key: key, Seq: r.seq, Data: data}, nil
}
