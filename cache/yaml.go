package cache

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-store-cache/schema"
)

// RecordDoc is the YAML form of a record. Relation fields hold the id of
// the target record, or null.
type RecordDoc struct {
	Class  string         `yaml:"class" json:"class"`
	ID     string         `yaml:"id" json:"id"`
	Fields map[string]any `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// DecodeRecords reads a YAML list of records and turns relation fields into
// Ref values using s.
//
//   - {class: Account, id: a1, fields: {displayName: ann, profileSpace: s1}}
//   - {class: Space, id: s1, fields: {createdByAccount: a1}}
func DecodeRecords(s *schema.Schema, r io.Reader) ([]*Record, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var docs []RecordDoc
	if err := dec.Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cache: decode records: %w", err)
	}

	records := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		cls, ok := s.Lookup(doc.Class)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClass, doc.Class)
		}
		if doc.ID == "" {
			return nil, fmt.Errorf("%w in %s", ErrEmptyID, doc.Class)
		}
		rec := NewRecord(doc.Class, doc.ID, nil)
		for field, value := range doc.Fields {
			if cls.IsRelation(field) && value != nil {
				id, ok := value.(string)
				if !ok {
					return nil, fmt.Errorf("%w: %s %s.%s holds %T, want an id", ErrInvalidRelation, doc.Class, doc.ID, field, value)
				}
				value = Ref{ID: id}
			}
			rec.Set(field, value)
		}
		records = append(records, rec)
	}
	return records, nil
}

// EncodeDocs reduces records to their YAML/JSON form, relation fields
// becoming ids.
func EncodeDocs(records []*Record) []RecordDoc {
	docs := make([]RecordDoc, 0, len(records))
	for _, rec := range records {
		doc := RecordDoc{Class: rec.Class, ID: rec.ID}
		if len(rec.Fields) > 0 {
			doc.Fields = make(map[string]any, len(rec.Fields))
			for field, value := range rec.Fields {
				if id, ok := rec.RefID(field); ok {
					value = id
				}
				doc.Fields[field] = value
			}
		}
		docs = append(docs, doc)
	}
	return docs
}
