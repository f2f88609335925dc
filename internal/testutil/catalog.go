// Package testutil provides shared definition fixtures for package tests.
package testutil

import (
	"strings"
	"testing"

	"github.com/nainya/entityversion/pkg/metadata"
)

// CatalogYAML is a small product catalog covering every field role.
const CatalogYAML = `
definitions:
  - name: product
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: name}
      - {name: stock, type: int}
      - {name: active, type: bool}
      - {name: releaseDate, type: datetime}
      - {name: manufacturerId, type: id}
      - {name: manufacturerVersionId, role: referenceVersion, type: id}
      - name: manufacturer
        role: association
        references: manufacturer
        cardinality: one
        localKey: manufacturerId
      - name: prices
        role: association
        references: product_price
        cardinality: many
        foreignKey: productId
        referenceVersionKey: productVersionId
        cascadeDelete: true
      - name: translations
        role: subresource
        references: product_translation
        foreignKey: productId
        referenceVersionKey: productVersionId
        cascadeDelete: true
  - name: product_price
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: productId, type: id}
      - {name: productVersionId, role: referenceVersion, type: id}
      - {name: quantityStart, type: int}
      - {name: gross, type: float}
  - name: product_translation
    fields:
      - {name: id, type: id}
      - {name: versionId, role: subVersion, type: id}
      - {name: productId, type: id}
      - {name: productVersionId, role: referenceVersion, type: id}
      - {name: language}
      - {name: description}
  - name: manufacturer
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: name}
  - name: category
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: parentId, type: id}
      - {name: parentVersionId, role: referenceVersion, type: id}
      - {name: name}
      - name: children
        role: association
        references: category
        cardinality: many
        foreignKey: parentId
        referenceVersionKey: parentVersionId
        cascadeDelete: true
  - name: order
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: number}
      - {name: addressId, type: id}
      - name: address
        role: association
        references: order_address
        cardinality: one
        localKey: addressId
        cascadeDelete: true
  - name: order_address
    fields:
      - {name: id, type: id}
      - {name: versionId, role: version, type: id}
      - {name: street}
  - name: tax
    fields:
      - {name: id, type: id}
      - {name: name}
      - {name: rate, type: float}
`

// Registry builds a registry holding the system definitions and the catalog.
func Registry(t testing.TB) *metadata.Registry {
	t.Helper()

	defs, err := metadata.Load(strings.NewReader(CatalogYAML))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	reg, err := metadata.NewRegistry(defs...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}
