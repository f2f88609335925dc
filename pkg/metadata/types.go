// ABOUTME: Field metadata data model for entity definitions
// ABOUTME: Closed role enum plus association descriptors

package metadata

import "fmt"

// Role classifies a field of a definition.
type Role uint8

const (
	RolePlain            Role = iota // Ordinary column
	RoleVersion                      // Version marker, part of the primary key
	RoleSubVersion                   // Version marker of an owned sub-entity
	RoleReferenceVersion             // Version of a referenced or owning entity
	RoleAssociation                  // Relation to another definition
	RoleSubresource                  // Owned nested list, always many-cardinality
)

var roleNames = map[Role]string{
	RolePlain:            "plain",
	RoleVersion:          "version",
	RoleSubVersion:       "subVersion",
	RoleReferenceVersion: "referenceVersion",
	RoleAssociation:      "association",
	RoleSubresource:      "subresource",
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", r)
}

// ParseRole maps a textual role onto the enum. Empty means plain.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return RolePlain, nil
	}
	for role, name := range roleNames {
		if name == s {
			return role, nil
		}
	}
	return 0, fmt.Errorf("unknown field role %q", s)
}

// FieldType is a storage type hint. Only datetime changes read behaviour.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeID       FieldType = "id"
	TypeInt      FieldType = "int"
	TypeFloat    FieldType = "float"
	TypeBool     FieldType = "bool"
	TypeDateTime FieldType = "datetime"
	TypeJSON     FieldType = "json"
)

// Cardinality of an association
type Cardinality uint8

const (
	One Cardinality = iota
	Many
)

// Association describes how a field links to another definition.
type Association struct {
	Referenced    string      // Referenced definition name
	Cardinality   Cardinality // One: nested map, Many: nested list
	CascadeDelete bool        // Cloned and deleted together with the owner

	// LocalKey is the owner property holding the referenced id (One).
	LocalKey string
	// ForeignKey is the referenced property holding the owner id (Many).
	ForeignKey string
	// ReferenceVersionKey is the referenced property holding the owner version (Many).
	ReferenceVersionKey string
}

// Field is one property of a definition.
type Field struct {
	Name        string
	Role        Role
	Type        FieldType
	Association *Association // set for RoleAssociation and RoleSubresource
}

// IsAssociation reports whether the field links to another definition.
func IsAssociation(f Field) bool {
	return f.Role == RoleAssociation || f.Role == RoleSubresource
}

// IsCascadeAssociation reports whether the field is an association flagged for cascade delete.
func IsCascadeAssociation(f Field) bool {
	return IsAssociation(f) && f.Association != nil && f.Association.CascadeDelete
}

// IsVersionOrSubVersion matches the fields stripped from a payload before it is forked.
func IsVersionOrSubVersion(f Field) bool {
	return f.Role == RoleVersion || f.Role == RoleSubVersion
}

// IsVersionOrReferenceVersion matches the fields overwritten when a payload is relocated.
func IsVersionOrReferenceVersion(f Field) bool {
	return f.Role == RoleVersion || f.Role == RoleReferenceVersion
}

// IsForkable matches the fields copied into a working version.
func IsForkable(f Field) bool {
	return !IsAssociation(f) || IsCascadeAssociation(f)
}

// Definition is the static description of one entity type.
type Definition struct {
	Name   string
	Fields []Field
}

// Field looks up a field by property name.
func (d *Definition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Filter returns the fields matching pred, in declaration order.
func (d *Definition) Filter(pred func(Field) bool) []Field {
	var out []Field
	for _, f := range d.Fields {
		if pred(f) {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the property names of fields.
func Names(fields []Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// VersionKey returns the field carrying the row's own version, if the definition is versionable.
func (d *Definition) VersionKey() (string, bool) {
	for _, f := range d.Fields {
		if IsVersionOrSubVersion(f) {
			return f.Name, true
		}
	}
	return "", false
}

// Versionable reports whether rows of this definition are keyed by version.
func (d *Definition) Versionable() bool {
	_, ok := d.VersionKey()
	return ok
}
