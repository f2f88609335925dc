package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/nainya/entityversion/pkg/payload"
	"github.com/nainya/entityversion/pkg/query"
	"github.com/nainya/entityversion/pkg/storage"
)

// BackendFactory opens a fresh, empty backend for one test.
type BackendFactory func(t *testing.T) storage.Backend

// Engine builds an engine over the catalog registry.
func Engine(t *testing.T, open BackendFactory) *storage.Engine {
	t.Helper()

	backend := open(t)
	t.Cleanup(func() { _ = backend.Close() })
	return storage.NewEngine(backend, Registry(t))
}

// RunStoreContract exercises the entity store contract against a backend.
func RunStoreContract(t *testing.T, open BackendFactory) {
	t.Run("InsertAndRead", func(t *testing.T) { contractInsertAndRead(t, open) })
	t.Run("InsertDuplicate", func(t *testing.T) { contractInsertDuplicate(t, open) })
	t.Run("UpdateMergesChangeset", func(t *testing.T) { contractUpdate(t, open) })
	t.Run("NestedAssociations", func(t *testing.T) { contractNested(t, open) })
	t.Run("VersionIsolation", func(t *testing.T) { contractVersionIsolation(t, open) })
	t.Run("CascadeDelete", func(t *testing.T) { contractCascadeDelete(t, open) })
	t.Run("CascadeDeleteOne", func(t *testing.T) { contractCascadeDeleteOne(t, open) })
	t.Run("ScalarPrimaryKey", func(t *testing.T) { contractScalarKey(t, open) })
	t.Run("Search", func(t *testing.T) { contractSearch(t, open) })
	t.Run("ScanFilter", func(t *testing.T) { contractScanFilter(t, open) })
	t.Run("RollbackOnError", func(t *testing.T) { contractRollback(t, open) })
	t.Run("ExecuteGateway", func(t *testing.T) { contractExecute(t, open) })
	t.Run("RejectsUnknownFields", func(t *testing.T) { contractUnknownField(t, open) })
}

func readOne(t *testing.T, store storage.Reader, def, id string, wc storage.WriteContext) payload.Map {
	t.Helper()

	rows, err := store.ReadRaw(context.Background(), def, []string{id}, wc)
	if err != nil {
		t.Fatalf("ReadRaw %s/%s failed: %v", def, id, err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 %s row for %s, got %d", def, id, len(rows))
	}
	return rows[0]
}

func contractInsertAndRead(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	release := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	events, err := store.Insert(ctx, "product", []map[string]any{
		{"name": "Shirt", "stock": 10, "releaseDate": release},
	}, live)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	items := events.Items("product")
	if len(items) != 1 {
		t.Fatalf("Expected 1 product event, got %d", len(items))
	}
	pk, ok := items[0].PrimaryKey.(map[string]any)
	if !ok {
		t.Fatalf("Expected map primary key, got %T", items[0].PrimaryKey)
	}
	id, _ := pk["id"].(string)
	if id == "" || pk["versionId"] != storage.LiveVersion {
		t.Fatalf("Unexpected primary key: %v", pk)
	}
	if items[0].Payload["manufacturerVersionId"] != storage.LiveVersion {
		t.Errorf("Expected reference version to default to live, got %v", items[0].Payload["manufacturerVersionId"])
	}

	got := readOne(t, store, "product", id, live)
	if got.String("name") != "Shirt" || got.Get("stock") != float64(10) {
		t.Errorf("Unexpected product: %#v", got)
	}
	if !got.Time("releaseDate").Equal(release) {
		t.Errorf("Expected releaseDate %v, got %v", release, got.Time("releaseDate"))
	}
	if got.String("versionId") != storage.LiveVersion {
		t.Errorf("Expected live versionId, got %q", got.String("versionId"))
	}
}

func contractInsertDuplicate(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	row := map[string]any{"id": "p1", "name": "Shirt"}
	if _, err := store.Insert(ctx, "product", []map[string]any{row}, live); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	_, err := store.Insert(ctx, "product", []map[string]any{row}, live)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	_, err = store.Update(ctx, "product", []map[string]any{{"id": "missing", "name": "x"}}, live)
	if !errors.Is(err, storage.ErrRowNotFound) {
		t.Errorf("Expected ErrRowNotFound, got %v", err)
	}
}

func contractUpdate(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	if _, err := store.Insert(ctx, "product", []map[string]any{{"id": "p1", "name": "Shirt", "stock": 10}}, live); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	events, err := store.Update(ctx, "product", []map[string]any{{"id": "p1", "stock": 0}}, live)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	want := map[string]any{"id": "p1", "stock": float64(0), "versionId": storage.LiveVersion}
	if diff := cmp.Diff(want, events.Items("product")[0].Payload); diff != "" {
		t.Errorf("Update event payload mismatch (-want +got):\n%s", diff)
	}

	got := readOne(t, store, "product", "p1", live)
	if got.String("name") != "Shirt" {
		t.Errorf("Expected name to survive the update, got %q", got.String("name"))
	}
	if got.Get("stock") != float64(0) {
		t.Errorf("Expected stock 0, got %v", got.Get("stock"))
	}

	if _, err := store.Upsert(ctx, "product", []map[string]any{{"id": "p2", "name": "Hat"}}, live); err != nil {
		t.Fatalf("Upsert insert failed: %v", err)
	}
	if _, err := store.Upsert(ctx, "product", []map[string]any{{"id": "p2", "name": "Cap"}}, live); err != nil {
		t.Fatalf("Upsert update failed: %v", err)
	}
	if got := readOne(t, store, "product", "p2", live); got.String("name") != "Cap" {
		t.Errorf("Expected upserted name Cap, got %q", got.String("name"))
	}
}

func contractNested(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	events, err := store.Insert(ctx, "product", []map[string]any{{
		"id":           "p1",
		"name":         "Shirt",
		"manufacturer": map[string]any{"id": "m1", "name": "Acme"},
		"prices": []any{
			map[string]any{"id": "pr1", "quantityStart": 1, "gross": 19.99},
			map[string]any{"id": "pr2", "quantityStart": 10, "gross": 17.5},
		},
		"translations": []any{
			map[string]any{"id": "t1", "language": "de", "description": "Hemd"},
		},
	}}, live)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	order := make([]string, 0, len(events))
	for _, ev := range events {
		order = append(order, ev.Definition)
	}
	if diff := cmp.Diff([]string{"manufacturer", "product", "product_price", "product_translation"}, order); diff != "" {
		t.Errorf("Event order mismatch (-want +got):\n%s", diff)
	}
	if events.Len() != 5 {
		t.Errorf("Expected 5 written items, got %d", events.Len())
	}

	price := events.Items("product_price")[0].Payload
	if price["productId"] != "p1" || price["productVersionId"] != storage.LiveVersion {
		t.Errorf("Expected foreign keys on price, got %v", price)
	}
	if _, nested := events.Items("product")[0].Payload["prices"]; nested {
		t.Error("Nested prices must not be part of the product payload")
	}
	if events.Items("product")[0].Payload["manufacturerId"] != "m1" {
		t.Errorf("Expected local key manufacturerId=m1, got %v", events.Items("product")[0].Payload["manufacturerId"])
	}

	raw := readOne(t, store, "product", "p1", live)
	if m, ok := raw["manufacturer"].(payload.Map); !ok || m.String("name") != "Acme" {
		t.Errorf("Expected hydrated manufacturer, got %#v", raw["manufacturer"])
	}
	prices := raw.Maps("prices")
	if len(prices) != 2 || prices[0].String("id") != "pr1" || prices[1].String("id") != "pr2" {
		t.Errorf("Expected prices in write order, got %#v", prices)
	}
	if len(raw.Maps("translations")) != 1 {
		t.Errorf("Expected 1 translation, got %d", len(raw.Maps("translations")))
	}

	basic, err := store.ReadBasic(ctx, "product", []string{"p1"}, live)
	if err != nil {
		t.Fatalf("ReadBasic failed: %v", err)
	}
	if _, ok := basic[0]["manufacturer"]; ok {
		t.Error("ReadBasic must not hydrate non-cascade associations")
	}
	if len(basic[0].Maps("prices")) != 2 {
		t.Errorf("ReadBasic must hydrate cascade associations, got %#v", basic[0]["prices"])
	}
}

func contractVersionIsolation(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()
	draft := live.WithVersionID("draft")

	if _, err := store.Insert(ctx, "manufacturer", []map[string]any{{"id": "m1", "name": "Acme"}}, live); err != nil {
		t.Fatalf("Insert manufacturer failed: %v", err)
	}
	if _, err := store.Insert(ctx, "product", []map[string]any{{"id": "p1", "name": "Draft shirt", "manufacturerId": "m1"}}, draft); err != nil {
		t.Fatalf("Insert draft product failed: %v", err)
	}

	rows, err := store.ReadRaw(ctx, "product", []string{"p1"}, live)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Draft product must not be visible live, got %d rows", len(rows))
	}

	got := readOne(t, store, "product", "p1", draft)
	if got.String("versionId") != "draft" {
		t.Errorf("Expected draft versionId, got %q", got.String("versionId"))
	}
	if m, ok := got["manufacturer"].(payload.Map); !ok || m.String("name") != "Acme" {
		t.Errorf("Expected manufacturer to fall back to live, got %#v", got["manufacturer"])
	}
}

func contractCascadeDelete(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	_, err := store.Insert(ctx, "product", []map[string]any{{
		"id":     "p1",
		"name":   "Shirt",
		"prices": []any{map[string]any{"id": "pr1", "gross": 1}},
	}}, live)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	events, err := store.Delete(ctx, "product", []map[string]any{{"id": "p1"}, {"id": "missing"}}, live)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if events.Len() != 2 {
		t.Fatalf("Expected product and price deletions only, got %d", events.Len())
	}

	want := map[string]any{"id": "p1", "versionId": storage.LiveVersion}
	if diff := cmp.Diff(want, events.Items("product")[0].Payload); diff != "" {
		t.Errorf("Delete payload mismatch (-want +got):\n%s", diff)
	}

	prices, err := store.ReadRaw(ctx, "product_price", []string{"pr1"}, live)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(prices) != 0 {
		t.Error("Expected cascade delete of prices")
	}
}

func contractCascadeDeleteOne(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	_, err := store.Insert(ctx, "order", []map[string]any{{
		"id":      "o1",
		"number":  "1001",
		"address": map[string]any{"id": "a1", "street": "Main St"},
	}}, live)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if got := readOne(t, store, "order", "o1", live); got.String("addressId") != "a1" {
		t.Fatalf("Expected owned address a1, got %v", got.Get("addressId"))
	}

	events, err := store.Delete(ctx, "order", []map[string]any{{"id": "o1"}}, live)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if len(events.Items("order")) != 1 || len(events.Items("order_address")) != 1 {
		t.Fatalf("Expected order and address deletions, got %+v", events)
	}

	rows, err := store.ReadRaw(ctx, "order_address", []string{"a1"}, live)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(rows) != 0 {
		t.Error("Expected cascade delete of the owned address")
	}
}

func contractScalarKey(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)

	events, err := store.Insert(ctx, "tax", []map[string]any{{"id": "t19", "name": "Standard", "rate": 19}}, storage.DefaultContext().WithVersionID("draft"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if pk := events.Items("tax")[0].PrimaryKey; pk != "t19" {
		t.Errorf("Expected scalar primary key t19, got %#v", pk)
	}

	// Rows without a version field are shared by every version.
	got := readOne(t, store, "tax", "t19", storage.DefaultContext())
	if got.Get("rate") != float64(19) {
		t.Errorf("Expected rate 19, got %v", got.Get("rate"))
	}
}

func contractScanFilter(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	backend := open(t)
	t.Cleanup(func() { _ = backend.Close() })

	tx, err := backend.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer tx.Rollback()

	rows := []*storage.Row{
		{Key: storage.Key{ID: "pr1", VersionID: "v1"}, Data: map[string]any{"id": "pr1", "productId": "p1", "quantityStart": float64(1)}},
		{Key: storage.Key{ID: "pr2", VersionID: "v1"}, Data: map[string]any{"id": "pr2", "productId": "p2"}},
		{Key: storage.Key{ID: "pr3", VersionID: "v2"}, Data: map[string]any{"id": "pr3", "productId": "p1"}},
		{Key: storage.Key{ID: "pr4", VersionID: "v1"}, Data: map[string]any{"id": "pr4", "productId": "p1"}},
	}
	for _, row := range rows {
		if err := tx.Put(ctx, "product_price", row); err != nil {
			t.Fatalf("Put %s failed: %v", row.Key.ID, err)
		}
	}

	tests := []struct {
		name   string
		filter storage.ScanFilter
		want   []string
	}{
		{"zero value", storage.ScanFilter{}, []string{"pr1", "pr2", "pr3", "pr4"}},
		{"version", storage.ScanFilter{Versioned: true, VersionID: "v1"}, []string{"pr1", "pr2", "pr4"}},
		{"foreign key", storage.ScanFilter{Equals: map[string]string{"productId": "p1"}}, []string{"pr1", "pr3", "pr4"}},
		{"both", storage.ScanFilter{Versioned: true, VersionID: "v1", Equals: map[string]string{"productId": "p1"}}, []string{"pr1", "pr4"}},
		{"non-string property", storage.ScanFilter{Equals: map[string]string{"quantityStart": "1"}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := tx.Scan(ctx, "product_price", tt.filter, func(r *storage.Row) bool {
				got = append(got, r.Key.ID)
				return true
			})
			if err != nil {
				t.Fatalf("Scan failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Scan mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func contractSearch(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	rows := []map[string]any{
		{"id": "c", "name": "Shirt", "stock": 3},
		{"id": "a", "name": "Shirt", "stock": 1},
		{"id": "b", "name": "Hat", "stock": 2},
	}
	for _, row := range rows {
		if _, err := store.Insert(ctx, "product", []map[string]any{row}, live); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	if _, err := store.Insert(ctx, "product", []map[string]any{{"id": "d", "name": "Shirt"}}, live.WithVersionID("draft")); err != nil {
		t.Fatalf("Insert draft failed: %v", err)
	}

	tests := []struct {
		name     string
		criteria *query.Criteria
		want     []string
	}{
		{"all in insertion order", query.NewCriteria().OrderBy("product.ai"), []string{"c", "a", "b"}},
		{"term filter", query.NewCriteria().Where("product.name", "Shirt").OrderBy("ai"), []string{"c", "a"}},
		{"numeric filter", query.NewCriteria().Where("stock", 2), []string{"b"}},
		{"sorted by field", query.NewCriteria().OrderBy("product.stock"), []string{"a", "b", "c"}},
		{"limit", query.NewCriteria().OrderBy("id").WithLimit(2), []string{"a", "b"}},
		{"no match", query.NewCriteria().Where("name", "Sock"), []string{}},
	}

	for _, tt := range tests {
		got, err := store.Search(ctx, "product", tt.criteria, live)
		if err != nil {
			t.Fatalf("%s: Search failed: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: ids mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
}

func contractRollback(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(tx storage.Store) error {
		if _, err := tx.Insert(ctx, "product", []map[string]any{{"id": "p1", "name": "Shirt"}}, live); err != nil {
			return err
		}
		return tx.RunInTx(ctx, func(inner storage.Store) error {
			if _, err := inner.Insert(ctx, "manufacturer", []map[string]any{{"id": "m1"}}, live); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	ids, err := store.Search(ctx, "product", nil, live)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected rollback to discard the product, got %v", ids)
	}
	ids, err = store.Search(ctx, "manufacturer", nil, live)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Expected rollback to discard the manufacturer, got %v", ids)
	}
}

func contractExecute(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)
	live := storage.DefaultContext()

	cmds := []storage.InsertCommand{
		{Definition: "version_commit", Payload: map[string]any{"id": "c1", "versionId": "v1", "isMerge": false}},
		{Definition: "version_commit_data", Payload: map[string]any{
			"id": "d1", "versionCommitId": "c1", "entityName": "product",
			"entityId": map[string]any{"id": "p1", "versionId": "v1"}, "action": "insert",
		}},
	}
	if err := store.Execute(ctx, cmds); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	commit := readOne(t, store, "version_commit", "c1", live)
	data := commit.Maps("data")
	if len(data) != 1 || data[0].String("action") != "insert" {
		t.Fatalf("Expected commit data to hydrate, got %#v", commit["data"])
	}
	entityID, ok := data[0]["entityId"].(payload.Map)
	if !ok || entityID.String("versionId") != "v1" {
		t.Errorf("Expected structured entityId, got %#v", data[0]["entityId"])
	}

	// The whole batch fails atomically on a duplicate.
	err := store.Execute(ctx, []storage.InsertCommand{
		{Definition: "version_commit", Payload: map[string]any{"id": "c2", "versionId": "v1"}},
		{Definition: "version_commit", Payload: map[string]any{"id": "c1", "versionId": "v1"}},
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}
	rows, err := store.ReadRaw(ctx, "version_commit", []string{"c2"}, live)
	if err != nil {
		t.Fatalf("ReadRaw failed: %v", err)
	}
	if len(rows) != 0 {
		t.Error("Expected failed batch to leave no rows behind")
	}
}

func contractUnknownField(t *testing.T, open BackendFactory) {
	ctx := context.Background()
	store := Engine(t, open)

	_, err := store.Insert(ctx, "product", []map[string]any{{"name": "Shirt", "colour": "red"}}, storage.DefaultContext())
	if !errors.Is(err, storage.ErrInvalidPayload) {
		t.Errorf("Expected ErrInvalidPayload, got %v", err)
	}
}
