// Package schema is the entity-class registry the store cache is driven by.
//
// A Schema interns every class under a dense ClassID and records its
// foreign keys as (field, target, nullable, column). Relation fields are
// declared, never inferred from the shape of a value: a nested object that
// happens to carry an "id" is a plain field unless the class lists it.
//
// Build computes the flush order of the whole schema once. Plan computes the
// same thing for a subset of classes, which is what a flush actually needs:
//
//	s, err := schema.NewBuilder().
//		Class("Account", schema.NullableRef("profileSpace", "Space")).
//		Class("Space", schema.Ref("createdByAccount", "Account")).
//		Build()
//
// A cycle made only of non-nullable keys cannot be persisted with ordered
// inserts and fails the build with a *CycleError. Schemas can also be
// loaded from YAML with ParseYAML or LoadFile.
package schema
