package cache

import (
	"fmt"

	"github.com/goliatone/go-store-cache/schema"
)

// Flatten normalizes the relation fields of rec. It returns a copy in which
// every declared relation holds nil or a Ref, plus the nested records that
// were found in those fields so the caller can store them under their own
// class. rec itself is left untouched. Nested records without a class take
// the relation's target class.
func Flatten(s *schema.Schema, rec *Record) (*Record, []*Record, error) {
	if rec == nil {
		return nil, nil, fmt.Errorf("%w: nil record", ErrEmptyID)
	}
	class, ok := s.Lookup(rec.Class)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownClass, rec.Class)
	}
	if rec.ID == "" {
		return nil, nil, fmt.Errorf("%w: class %s", ErrEmptyID, rec.Class)
	}

	flat := rec.Clone()
	if flat.Fields == nil {
		flat.Fields = make(map[string]any)
	}

	var children []*Record
	for _, fk := range class.ForeignKeys {
		value, present := rec.Fields[fk.Field]
		if !present {
			continue
		}

		var nested *Record
		switch v := value.(type) {
		case nil:
			continue
		case Ref:
			if v.ID == "" {
				return nil, nil, fmt.Errorf("%w: %s.%s", ErrEmptyID, rec.Class, fk.Field)
			}
			continue
		case *Ref:
			if v == nil {
				flat.Fields[fk.Field] = nil
				continue
			}
			if v.ID == "" {
				return nil, nil, fmt.Errorf("%w: %s.%s", ErrEmptyID, rec.Class, fk.Field)
			}
			flat.Fields[fk.Field] = *v
			continue
		case *Record:
			if v == nil {
				flat.Fields[fk.Field] = nil
				continue
			}
			nested = v
		case Record:
			nested = &v
		default:
			return nil, nil, fmt.Errorf("%w: %s.%s holds %T", ErrInvalidRelation, rec.Class, fk.Field, value)
		}

		if nested.Class == "" {
			c := *nested
			c.Class = fk.Target
			nested = &c
		} else if nested.Class != fk.Target {
			return nil, nil, fmt.Errorf("%w: %s.%s expects %s, got %s", ErrRelationClassMismatch, rec.Class, fk.Field, fk.Target, nested.Class)
		}
		if nested.ID == "" {
			return nil, nil, fmt.Errorf("%w: %s.%s", ErrEmptyID, rec.Class, fk.Field)
		}

		flat.Fields[fk.Field] = Ref{ID: nested.ID}
		children = append(children, nested)
	}

	return flat, children, nil
}
