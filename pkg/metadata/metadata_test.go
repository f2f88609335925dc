package metadata_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	itest "github.com/nainya/entityversion/internal/testutil"
	"github.com/nainya/entityversion/pkg/metadata"
)

func TestLoadCatalog(t *testing.T) {
	reg := itest.Registry(t)

	product, err := reg.Get("product")
	if err != nil {
		t.Fatalf("Get product failed: %v", err)
	}

	prices, ok := product.Field("prices")
	if !ok {
		t.Fatal("Expected prices field")
	}
	if prices.Association.Cardinality != metadata.Many || !prices.Association.CascadeDelete {
		t.Errorf("Unexpected prices association: %+v", prices.Association)
	}
	if prices.Association.ReferenceVersionKey != "productVersionId" {
		t.Errorf("Expected reference version key, got %q", prices.Association.ReferenceVersionKey)
	}

	translations, _ := product.Field("translations")
	if translations.Role != metadata.RoleSubresource || translations.Association.Cardinality != metadata.Many {
		t.Errorf("Expected subresource to default to many, got %+v", translations)
	}

	manufacturer, _ := product.Field("manufacturer")
	if manufacturer.Association.Cardinality != metadata.One || manufacturer.Association.LocalKey != "manufacturerId" {
		t.Errorf("Unexpected manufacturer association: %+v", manufacturer.Association)
	}

	name, _ := product.Field("name")
	if name.Type != metadata.TypeString || name.Role != metadata.RolePlain {
		t.Errorf("Expected plain string default, got %+v", name)
	}
}

func TestFieldFilters(t *testing.T) {
	reg := itest.Registry(t)

	tests := []struct {
		name       string
		definition string
		pred       func(metadata.Field) bool
		want       []string
	}{
		{"association", "product", metadata.IsAssociation, []string{"manufacturer", "prices", "translations"}},
		{"cascade", "product", metadata.IsCascadeAssociation, []string{"prices", "translations"}},
		{"one cascade", "order", metadata.IsCascadeAssociation, []string{"address"}},
		{"version or sub-version", "product_translation", metadata.IsVersionOrSubVersion, []string{"versionId"}},
		{"version or reference", "product", metadata.IsVersionOrReferenceVersion, []string{"versionId", "manufacturerVersionId"}},
		{"forkable", "product", metadata.IsForkable, []string{
			"id", "versionId", "name", "stock", "active", "releaseDate",
			"manufacturerId", "manufacturerVersionId", "prices", "translations",
		}},
		{"none", "tax", metadata.IsVersionOrSubVersion, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := reg.Filter(tt.definition, tt.pred)
			if err != nil {
				t.Fatalf("Filter failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, metadata.Names(fields)); diff != "" {
				t.Errorf("Filter mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestVersionable(t *testing.T) {
	reg := itest.Registry(t)

	for name, want := range map[string]bool{
		"product":                 true,
		"product_translation":     true,
		"tax":                     false,
		metadata.CommitEntity:     false,
		metadata.CommitDataEntity: false,
	} {
		def, err := reg.Get(name)
		if err != nil {
			t.Fatalf("Get %s failed: %v", name, err)
		}
		if got := def.Versionable(); got != want {
			t.Errorf("%s: Versionable() = %v, want %v", name, got, want)
		}
	}
}

func TestRegistryUnknownDefinition(t *testing.T) {
	reg := itest.Registry(t)

	if _, err := reg.Get("ghost"); !errors.Is(err, metadata.ErrDefinitionNotRegistered) {
		t.Errorf("Expected ErrDefinitionNotRegistered, got %v", err)
	}
	if _, err := reg.Filter("ghost", metadata.IsAssociation); !errors.Is(err, metadata.ErrDefinitionNotRegistered) {
		t.Errorf("Expected ErrDefinitionNotRegistered from Filter, got %v", err)
	}
}

func TestRegistryIncludesSystemDefinitions(t *testing.T) {
	reg, err := metadata.NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	want := []string{metadata.UserEntity, metadata.VersionEntity, metadata.CommitEntity, metadata.CommitDataEntity}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown role", "definitions:\n  - name: a\n    fields:\n      - {name: id, role: primary}\n", "unknown field role"},
		{"missing references", "definitions:\n  - name: a\n    fields:\n      - {name: b, role: association}\n", "without references"},
		{"references on plain", "definitions:\n  - name: a\n    fields:\n      - {name: b, references: c}\n", "references set"},
		{"bad cardinality", "definitions:\n  - name: a\n    fields:\n      - {name: b, role: association, references: a, cardinality: few}\n", "unknown cardinality"},
		{"unknown key", "definitions:\n  - name: a\n    colour: red\n", "decode definitions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := metadata.Load(strings.NewReader(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestRegistryValidation(t *testing.T) {
	id := metadata.Field{Name: "id", Type: metadata.TypeID}

	tests := []struct {
		name string
		defs []metadata.Definition
	}{
		{"missing id", []metadata.Definition{{Name: "a", Fields: []metadata.Field{{Name: "name"}}}}},
		{"duplicate field", []metadata.Definition{{Name: "a", Fields: []metadata.Field{id, id}}}},
		{"duplicate definition", []metadata.Definition{{Name: "a", Fields: []metadata.Field{id}}, {Name: "a", Fields: []metadata.Field{id}}}},
		{"dangling reference", []metadata.Definition{{Name: "a", Fields: []metadata.Field{id, {
			Name: "b", Role: metadata.RoleAssociation,
			Association: &metadata.Association{Referenced: "nowhere", Cardinality: metadata.One, LocalKey: "bId"},
		}}}}},
		{"many without foreign key", []metadata.Definition{{Name: "a", Fields: []metadata.Field{id, {
			Name: "b", Role: metadata.RoleAssociation,
			Association: &metadata.Association{Referenced: "a", Cardinality: metadata.Many},
		}}}}},
		{"association without descriptor", []metadata.Definition{{Name: "a", Fields: []metadata.Field{id, {
			Name: "b", Role: metadata.RoleAssociation,
		}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := metadata.NewRegistry(tt.defs...); err == nil {
				t.Error("Expected registry error")
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	for _, role := range []metadata.Role{
		metadata.RolePlain, metadata.RoleVersion, metadata.RoleSubVersion,
		metadata.RoleReferenceVersion, metadata.RoleAssociation, metadata.RoleSubresource,
	} {
		got, err := metadata.ParseRole(role.String())
		if err != nil || got != role {
			t.Errorf("ParseRole(%q) = %v, %v", role.String(), got, err)
		}
	}
}
