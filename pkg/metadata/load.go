package metadata

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

type fileDoc struct {
	Definitions []defDoc `yaml:"definitions"`
}

type defDoc struct {
	Name   string     `yaml:"name"`
	Fields []fieldDoc `yaml:"fields"`
}

type fieldDoc struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
	Type string `yaml:"type"`

	References          string `yaml:"references"`
	Cardinality         string `yaml:"cardinality"`
	CascadeDelete       bool   `yaml:"cascadeDelete"`
	LocalKey            string `yaml:"localKey"`
	ForeignKey          string `yaml:"foreignKey"`
	ReferenceVersionKey string `yaml:"referenceVersionKey"`
}

// Load parses YAML definitions from r.
func Load(r io.Reader) ([]Definition, error) {
	var doc fileDoc
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode definitions: %w", err)
	}

	defs := make([]Definition, 0, len(doc.Definitions))
	for _, d := range doc.Definitions {
		def := Definition{Name: d.Name}
		for _, fd := range d.Fields {
			f, err := fd.field()
			if err != nil {
				return nil, fmt.Errorf("definition %s: %w", d.Name, err)
			}
			def.Fields = append(def.Fields, f)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFile parses YAML definitions from path.
func LoadFile(path string) ([]Definition, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	return Load(fd)
}

func (fd fieldDoc) field() (Field, error) {
	role, err := ParseRole(fd.Role)
	if err != nil {
		return Field{}, fmt.Errorf("field %s: %w", fd.Name, err)
	}

	f := Field{Name: fd.Name, Role: role, Type: FieldType(fd.Type)}
	if f.Type == "" {
		f.Type = TypeString
	}
	if !IsAssociation(f) {
		if fd.References != "" {
			return Field{}, fmt.Errorf("field %s: references set on a %s field", fd.Name, role)
		}
		return f, nil
	}

	if fd.References == "" {
		return Field{}, fmt.Errorf("field %s: association without references", fd.Name)
	}

	assoc := &Association{
		Referenced:          fd.References,
		CascadeDelete:       fd.CascadeDelete,
		LocalKey:            fd.LocalKey,
		ForeignKey:          fd.ForeignKey,
		ReferenceVersionKey: fd.ReferenceVersionKey,
	}
	switch fd.Cardinality {
	case "one":
		assoc.Cardinality = One
	case "many":
		assoc.Cardinality = Many
	case "":
		assoc.Cardinality = One
		if role == RoleSubresource {
			assoc.Cardinality = Many
		}
	default:
		return Field{}, fmt.Errorf("field %s: unknown cardinality %q", fd.Name, fd.Cardinality)
	}
	f.Association = assoc
	f.Type = TypeJSON
	return f, nil
}
