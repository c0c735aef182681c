package schema

import (
	"fmt"
	"slices"
	"sort"

	"github.com/goliatone/go-store-cache/internal/depgraph"
)

// IDColumn is the primary key column every entity table carries.
const IDColumn = "id"

// ClassID identifies an entity class inside one Schema. IDs are dense and
// assigned in registration order, so engine tables can be indexed by them.
type ClassID int

// CycleError reports classes linked by a cycle of non-nullable foreign keys.
type CycleError = depgraph.CycleError

// ForeignKey declares a relation field of a class.
type ForeignKey struct {
	Field    string
	Target   string
	Nullable bool
	Column   string

	target ClassID
}

// TargetID returns the class the key points to.
func (fk ForeignKey) TargetID() ClassID {
	return fk.target
}

// Class is a registered entity class.
type Class struct {
	ID          ClassID
	Name        string
	Table       string
	ForeignKeys []ForeignKey
	Fields      []string

	relations map[string]int
	columns   map[string]string
	fields    map[string]string
}

// ForeignKey returns the relation declared on field.
func (c *Class) ForeignKey(field string) (ForeignKey, bool) {
	i, ok := c.relations[field]
	if !ok {
		return ForeignKey{}, false
	}
	return c.ForeignKeys[i], true
}

// IsRelation reports whether field is a declared foreign key.
func (c *Class) IsRelation(field string) bool {
	_, ok := c.relations[field]
	return ok
}

// NullableKeys returns the foreign keys whose column accepts null.
func (c *Class) NullableKeys() []ForeignKey {
	var out []ForeignKey
	for _, fk := range c.ForeignKeys {
		if fk.Nullable {
			out = append(out, fk)
		}
	}
	return out
}

// Column maps a field name to its column. Undeclared fields map to themselves.
func (c *Class) Column(field string) string {
	if col, ok := c.columns[field]; ok {
		return col
	}
	return field
}

// Field maps a column back to its field name.
func (c *Class) Field(column string) string {
	if f, ok := c.fields[column]; ok {
		return f
	}
	return column
}

// Plan is a flush order over a set of classes plus, for every class in the
// set, the classes it reaches through foreign keys in that order.
type Plan struct {
	Order   []ClassID
	Closure map[ClassID][]ClassID
}

// Position returns the index of id in the order, or -1.
func (p *Plan) Position(id ClassID) int {
	return slices.Index(p.Order, id)
}

// Schema is an immutable registry of entity classes and their foreign keys.
type Schema struct {
	classes     []*Class
	byName      map[string]ClassID
	graph       *depgraph.Graph
	plan        *Plan
	fingerprint uint64
}

// Len returns the number of registered classes.
func (s *Schema) Len() int {
	return len(s.classes)
}

// Classes returns the classes in registration order.
func (s *Schema) Classes() []*Class {
	return slices.Clone(s.classes)
}

// Lookup returns the class registered under name.
func (s *Schema) Lookup(name string) (*Class, bool) {
	id, ok := s.byName[name]
	if !ok {
		return nil, false
	}
	return s.classes[id], true
}

// Class returns the class with the given id. It panics on an id that does
// not belong to this schema.
func (s *Schema) Class(id ClassID) *Class {
	if int(id) < 0 || int(id) >= len(s.classes) {
		panic(fmt.Sprintf("schema: class id %d is not registered", id))
	}
	return s.classes[id]
}

// Names maps ids to class names.
func (s *Schema) Names(ids []ClassID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = s.Class(id).Name
	}
	return out
}

// Order returns the flush order of the whole schema.
func (s *Schema) Order() []ClassID {
	return slices.Clone(s.plan.Order)
}

// Closure returns the classes id depends on, in flush order.
func (s *Schema) Closure(id ClassID) []ClassID {
	s.Class(id)
	return slices.Clone(s.plan.Closure[id])
}

// FullPlan returns the plan computed for the whole schema at build time.
func (s *Schema) FullPlan() *Plan {
	return s.plan
}

// Fingerprint is a stable hash of the schema definition, usable as a cache
// namespace for anything derived from it.
func (s *Schema) Fingerprint() uint64 {
	return s.fingerprint
}

// Plan computes the flush plan of the subgraph induced by classes. The
// order only covers the given classes; closures only follow edges inside
// the set.
func (s *Schema) Plan(classes []ClassID) (*Plan, error) {
	ids := make([]int, 0, len(classes))
	seen := make(map[ClassID]bool, len(classes))
	for _, id := range classes {
		s.Class(id)
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	return planOf(s.graph.Induced(ids))
}

func planOf(g *depgraph.Graph) (*Plan, error) {
	order, err := g.FlushOrder()
	if err != nil {
		return nil, err
	}
	closure, err := g.Closure(order)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Order:   make([]ClassID, len(order)),
		Closure: make(map[ClassID][]ClassID, len(closure)),
	}
	for i, id := range order {
		plan.Order[i] = ClassID(id)
	}
	for id, deps := range closure {
		out := make([]ClassID, len(deps))
		for i, d := range deps {
			out[i] = ClassID(d)
		}
		plan.Closure[ClassID(id)] = out
	}
	return plan, nil
}
