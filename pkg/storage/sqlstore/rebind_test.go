package sqlstore

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/entityversion/pkg/storage"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"DELETE FROM t WHERE a = ? AND b = ?", "DELETE FROM t WHERE a = $1 AND b = $2"},
		{"VALUES (?, ?, ?, ?, ?)", "VALUES ($1, $2, $3, $4, $5)"},
	}
	for _, tt := range tests {
		if got := rebind(tt.in); got != tt.want {
			t.Errorf("rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBindKeepsSQLitePlaceholders(t *testing.T) {
	b := &Backend{driver: DriverSQLite}
	if got := b.bind("a = ?"); got != "a = ?" {
		t.Errorf("Expected sqlite query unchanged, got %q", got)
	}
	b.driver = DriverPostgres
	if got := b.bind("a = ?"); got != "a = $1" {
		t.Errorf("Expected postgres placeholder, got %q", got)
	}
}

func TestScanWhere(t *testing.T) {
	filter := storage.ScanFilter{
		Versioned: true,
		VersionID: "v1",
		Equals:    map[string]string{"productVersionId": "v1", "productId": "p1"},
	}

	tests := []struct {
		driver string
		where  string
		args   []any
	}{
		{
			DriverSQLite,
			"entity = ? AND version_id = ? AND json_extract(data, ?) = ? AND json_extract(data, ?) = ?",
			[]any{"product_price", "v1", `$."productId"`, "p1", `$."productVersionId"`, "v1"},
		},
		{
			DriverPostgres,
			"entity = ? AND version_id = ? AND (CAST(data AS jsonb) ->> CAST(? AS TEXT)) = ? AND (CAST(data AS jsonb) ->> CAST(? AS TEXT)) = ?",
			[]any{"product_price", "v1", "productId", "p1", "productVersionId", "v1"},
		},
	}
	for _, tt := range tests {
		b := &Backend{driver: tt.driver}
		where, args := b.scanWhere("product_price", filter)
		if where != tt.where {
			t.Errorf("%s: where = %q, want %q", tt.driver, where, tt.where)
		}
		if diff := cmp.Diff(tt.args, args); diff != "" {
			t.Errorf("%s: args mismatch (-want +got):\n%s", tt.driver, diff)
		}
	}

	b := &Backend{driver: DriverSQLite}
	if where, args := b.scanWhere("tax", storage.ScanFilter{}); where != "entity = ?" || len(args) != 1 {
		t.Errorf("Expected entity-only clause, got %q %v", where, args)
	}
}
