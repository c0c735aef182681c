package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a schema.
//
//	table_naming: plural
//	classes:
//	  - name: Account
//	    foreign_keys:
//	      - {field: profileSpace, target: Space, nullable: true}
type Document struct {
	TableNaming string     `yaml:"table_naming,omitempty"`
	Classes     []ClassDef `yaml:"classes"`
}

// ParseYAML reads a schema document and builds it.
func ParseYAML(r io.Reader, opts ...Option) (*Schema, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("schema: empty document")
		}
		return nil, fmt.Errorf("schema: decode yaml: %w", err)
	}

	switch doc.TableNaming {
	case "", "snake":
	case "plural":
		opts = append([]Option{WithTableNamer(PluralTables)}, opts...)
	default:
		return nil, fmt.Errorf("schema: unknown table_naming %q", doc.TableNaming)
	}

	return NewBuilder(opts...).Add(doc.Classes...).Build()
}

// ParseYAMLBytes is ParseYAML over an in-memory document.
func ParseYAMLBytes(data []byte, opts ...Option) (*Schema, error) {
	return ParseYAML(bytes.NewReader(data), opts...)
}

// LoadFile parses the YAML schema stored at path.
func LoadFile(path string, opts ...Option) (*Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseYAML(f, opts...)
}
