package schema

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/goliatone/go-store-cache/internal/depgraph"
)

// ClassDef declares an entity class.
type ClassDef struct {
	Name        string          `yaml:"name" json:"name"`
	Table       string          `yaml:"table,omitempty" json:"table"`
	Fields      []string        `yaml:"fields,omitempty" json:"fields"`
	ForeignKeys []ForeignKeyDef `yaml:"foreign_keys,omitempty" json:"foreign_keys"`
}

// Validate implements validation.Validatable.
func (d ClassDef) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Fields, validation.Each(validation.Required)),
		validation.Field(&d.ForeignKeys),
	)
}

// ForeignKeyDef declares a relation field. Column defaults to the snake case
// field name with an "_id" suffix.
type ForeignKeyDef struct {
	Field    string `yaml:"field" json:"field"`
	Target   string `yaml:"target" json:"target"`
	Nullable bool   `yaml:"nullable,omitempty" json:"nullable"`
	Column   string `yaml:"column,omitempty" json:"column"`
}

// Validate implements validation.Validatable.
func (d ForeignKeyDef) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Field, validation.Required),
		validation.Field(&d.Target, validation.Required),
	)
}

// Ref declares a required relation.
func Ref(field, target string) ForeignKeyDef {
	return ForeignKeyDef{Field: field, Target: target}
}

// NullableRef declares a relation whose column accepts null.
func NullableRef(field, target string) ForeignKeyDef {
	return ForeignKeyDef{Field: field, Target: target, Nullable: true}
}

// Option configures a Builder.
type Option func(*Builder)

// WithTableNamer overrides how table names are derived for classes that do
// not set one. The default is SnakeTables.
func WithTableNamer(namer TableNamer) Option {
	return func(b *Builder) {
		if namer != nil {
			b.namer = namer
		}
	}
}

// Builder collects class definitions and produces a Schema.
type Builder struct {
	defs  []ClassDef
	namer TableNamer
}

// NewBuilder returns an empty Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{namer: SnakeTables}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add appends class definitions.
func (b *Builder) Add(defs ...ClassDef) *Builder {
	b.defs = append(b.defs, defs...)
	return b
}

// Class appends a class with the given relations.
func (b *Builder) Class(name string, fks ...ForeignKeyDef) *Builder {
	return b.Add(ClassDef{Name: name, ForeignKeys: fks})
}

// Build validates the definitions, resolves relation targets and computes
// the flush plan of the whole schema. A cycle of non-nullable relations is
// reported as a *CycleError.
func (b *Builder) Build() (*Schema, error) {
	s := &Schema{byName: make(map[string]ClassID, len(b.defs))}

	for _, def := range b.defs {
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("schema: class %q: %w", def.Name, err)
		}
		if _, dup := s.byName[def.Name]; dup {
			return nil, fmt.Errorf("schema: class %q registered twice", def.Name)
		}
		id := ClassID(len(s.classes))
		s.byName[def.Name] = id

		table := def.Table
		if table == "" {
			table = b.namer(def.Name)
		}
		s.classes = append(s.classes, &Class{
			ID:        id,
			Name:      def.Name,
			Table:     table,
			Fields:    append([]string(nil), def.Fields...),
			relations: make(map[string]int, len(def.ForeignKeys)),
			columns:   make(map[string]string),
			fields:    make(map[string]string),
		})
	}

	g := depgraph.New()
	for _, c := range s.classes {
		g.AddVertex(int(c.ID), c.Name)
	}

	for i, def := range b.defs {
		c := s.classes[i]
		for _, f := range def.Fields {
			c.columns[f] = ToSnake(f)
		}
		for _, fkDef := range def.ForeignKeys {
			target, ok := s.byName[fkDef.Target]
			if !ok {
				return nil, fmt.Errorf("schema: class %q field %q references unknown class %q", c.Name, fkDef.Field, fkDef.Target)
			}
			if c.IsRelation(fkDef.Field) {
				return nil, fmt.Errorf("schema: class %q declares relation %q twice", c.Name, fkDef.Field)
			}
			column := fkDef.Column
			if column == "" {
				column = ForeignKeyColumn(fkDef.Field)
			}
			c.relations[fkDef.Field] = len(c.ForeignKeys)
			c.columns[fkDef.Field] = column
			c.ForeignKeys = append(c.ForeignKeys, ForeignKey{
				Field:    fkDef.Field,
				Target:   fkDef.Target,
				Nullable: fkDef.Nullable,
				Column:   column,
				target:   target,
			})
			g.AddEdge(int(c.ID), int(target), fkDef.Nullable)
		}
		for field, column := range c.columns {
			c.fields[column] = field
		}
	}

	plan, err := planOf(g)
	if err != nil {
		return nil, err
	}

	s.graph = g
	s.plan = plan
	s.fingerprint = fingerprint(s.classes)
	return s, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Schema {
	s, err := b.Build()
	if err != nil {
		panic(err)
	}
	return s
}

func fingerprint(classes []*Class) uint64 {
	d := xxhash.New()
	for _, c := range classes {
		d.WriteString(c.Name)
		d.WriteString("|")
		d.WriteString(c.Table)
		for _, f := range c.Fields {
			d.WriteString("|")
			d.WriteString(f)
		}
		for _, fk := range c.ForeignKeys {
			d.WriteString("|")
			d.WriteString(fk.Field)
			d.WriteString(">")
			d.WriteString(fk.Target)
			d.WriteString(":")
			d.WriteString(strconv.FormatBool(fk.Nullable))
			d.WriteString(":")
			d.WriteString(fk.Column)
		}
		d.WriteString("\n")
	}
	return d.Sum64()
}
