// Package sqlstore provides SQLite and Postgres row backends for the entity engine.
// Rows of every definition share one table holding JSON payloads.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/nainya/entityversion/pkg/storage"
)

// Supported database/sql driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// OverrideSQLOpen swaps the database opener and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dsn string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS entity_rows (
		entity TEXT NOT NULL,
		id TEXT NOT NULL,
		version_id TEXT NOT NULL DEFAULT '',
		seq BIGINT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (entity, id, version_id)
	)`,
	`CREATE INDEX IF NOT EXISTS entity_rows_seq ON entity_rows (entity, seq)`,
	`CREATE TABLE IF NOT EXISTS entity_sequences (
		name TEXT PRIMARY KEY,
		value BIGINT NOT NULL
	)`,
}

// Backend is a database/sql row backend.
type Backend struct {
	db     *sql.DB
	driver string
}

var _ storage.Backend = (*Backend)(nil)

// Open connects to dsn and applies the schema. driver is "sqlite", "postgres" or "pgx".
func Open(ctx context.Context, driver, dsn string) (*Backend, error) {
	switch driver {
	case DriverSQLite:
	case "postgres", DriverPostgres:
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s: dsn is required", driver)
	}

	openMu.Lock()
	db, err := sqlOpen(driver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One connection serializes writers and keeps transactions on a single handle.
		db.SetMaxOpenConns(1)
	}

	b := &Backend{db: db, driver: driver}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	if err := b.applySchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) applySchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying handle for tests.
func (b *Backend) DB() *sql.DB { return b.db }

// Close closes the database
func (b *Backend) Close() error {
	return b.db.Close()
}

// Begin starts a database transaction
func (b *Backend) Begin(ctx context.Context) (storage.RowTx, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &rowTx{tx: tx, backend: b}, nil
}

// bind rewrites ? placeholders to $n for postgres.
func (b *Backend) bind(query string) string {
	if b.driver != DriverPostgres {
		return query
	}
	return rebind(query)
}

func rebind(query string) string {
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

type rowTx struct {
	tx      *sql.Tx
	backend *Backend
}

func (t *rowTx) Get(ctx context.Context, table string, key storage.Key) (*storage.Row, error) {
	var (
		seq  int64
		data string
	)
	err := t.tx.QueryRowContext(ctx,
		t.backend.bind(`SELECT seq, data FROM entity_rows WHERE entity = ? AND id = ? AND version_id = ?`),
		table, key.ID, key.VersionID,
	).Scan(&seq, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s %s: %w", table, key.ID, err)
	}
	return decodeRow(key, seq, data)
}

func (t *rowTx) Put(ctx context.Context, table string, row *storage.Row) error {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidPayload, err)
	}

	seq := row.Seq
	if seq == 0 {
		if seq, err = t.nextSeq(ctx); err != nil {
			return err
		}
	}

	// The conflict branch keeps the stored sequence.
	err = t.tx.QueryRowContext(ctx,
		t.backend.bind(`INSERT INTO entity_rows (entity, id, version_id, seq, data) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (entity, id, version_id) DO UPDATE SET data = excluded.data
			RETURNING seq`),
		table, row.Key.ID, row.Key.VersionID, seq, string(data),
	).Scan(&row.Seq)
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", table, row.Key.ID, err)
	}
	return nil
}

func (t *rowTx) nextSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRowContext(ctx,
		t.backend.bind(`INSERT INTO entity_sequences (name, value) VALUES (?, 1)
			ON CONFLICT (name) DO UPDATE SET value = entity_sequences.value + 1
			RETURNING value`),
		"entity_rows",
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return seq, nil
}

func (t *rowTx) Delete(ctx context.Context, table string, key storage.Key) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		t.backend.bind(`DELETE FROM entity_rows WHERE entity = ? AND id = ? AND version_id = ?`),
		table, key.ID, key.VersionID,
	)
	if err != nil {
		return false, fmt.Errorf("delete %s %s: %w", table, key.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Scan reads every matching row before calling fn so fn may issue further queries.
func (t *rowTx) Scan(ctx context.Context, table string, filter storage.ScanFilter, fn func(*storage.Row) bool) error {
	where, args := t.backend.scanWhere(table, filter)
	rows, err := t.tx.QueryContext(ctx,
		t.backend.bind(`SELECT id, version_id, seq, data FROM entity_rows WHERE `+where+` ORDER BY seq`),
		args...,
	)
	if err != nil {
		return fmt.Errorf("scan %s: %w", table, err)
	}

	var out []*storage.Row
	for rows.Next() {
		var (
			key  storage.Key
			seq  int64
			data string
		)
		if err := rows.Scan(&key.ID, &key.VersionID, &seq, &data); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan %s: %w", table, err)
		}
		row, err := decodeRow(key, seq, data)
		if err != nil {
			_ = rows.Close()
			return err
		}
		if filter.Match(row) {
			out = append(out, row)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("scan %s: %w", table, err)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	for _, row := range out {
		if !fn(row) {
			break
		}
	}
	return nil
}

// scanWhere renders filter as a WHERE clause over the JSON data column.
func (b *Backend) scanWhere(table string, filter storage.ScanFilter) (string, []any) {
	conds := []string{"entity = ?"}
	args := []any{table}
	if filter.Versioned {
		conds = append(conds, "version_id = ?")
		args = append(args, filter.VersionID)
	}

	props := make([]string, 0, len(filter.Equals))
	for prop := range filter.Equals {
		props = append(props, prop)
	}
	sort.Strings(props)
	for _, prop := range props {
		if b.driver == DriverPostgres {
			conds = append(conds, "(CAST(data AS jsonb) ->> CAST(? AS TEXT)) = ?")
			args = append(args, prop, filter.Equals[prop])
			continue
		}
		conds = append(conds, "json_extract(data, ?) = ?")
		args = append(args, `$."`+prop+`"`, filter.Equals[prop])
	}
	return strings.Join(conds, " AND "), args
}

func (t *rowTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		if errors.Is(err, sql.ErrTxDone) {
			return storage.ErrTxDone
		}
		return err
	}
	return nil
}

func (t *rowTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func decodeRow(key storage.Key, seq int64, data string) (*storage.Row, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("decode row %s: %w", key.ID, err)
	}
	return &storage.Row{Key: key, Seq: seq, Data: m}, nil
}
