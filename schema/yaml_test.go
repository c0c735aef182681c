package schema

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestLoadFile(t *testing.T) {
	s, err := LoadFile("testdata/cyclic.yaml")
	if err != nil {
		t.Fatalf("failed to load schema: %v", err)
	}

	if got := s.Names(s.Order()); !reflect.DeepEqual(got, []string{"Account", "Post", "Space"}) {
		t.Errorf("unexpected order %v", got)
	}

	tables := map[string]string{
		"Account": "accounts",
		"Space":   "spaces",
		"Post":    "feed_post",
	}
	for name, table := range tables {
		c, ok := s.Lookup(name)
		if !ok {
			t.Fatalf("class %s missing", name)
		}
		if c.Table != table {
			t.Errorf("%s: expected table %q, got %q", name, table, c.Table)
		}
	}

	account, _ := s.Lookup("Account")
	if account.Column("displayName") != "display_name" {
		t.Errorf("expected declared field to map to snake column")
	}
}

func TestLoadFile_Cycle(t *testing.T) {
	_, err := LoadFile("testdata/deadlock.yaml")
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
}

func TestParseYAML_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name:    "empty document",
			doc:     "",
			wantErr: "empty document",
		},
		{
			name:    "unknown key",
			doc:     "classes:\n  - name: A\n    primary: uuid\n",
			wantErr: "decode yaml",
		},
		{
			name:    "unknown table naming",
			doc:     "table_naming: camel\nclasses:\n  - name: A\n",
			wantErr: `unknown table_naming "camel"`,
		},
		{
			name:    "unknown target",
			doc:     "classes:\n  - name: A\n    foreign_keys:\n      - {field: b, target: B}\n",
			wantErr: "unknown class",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAMLBytes([]byte(tt.doc))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestParseYAML_OptionsOverrideDocument(t *testing.T) {
	doc := "table_naming: plural\nclasses:\n  - name: BlogPost\n"
	s, err := ParseYAMLBytes([]byte(doc), WithTableNamer(func(name string) string { return "t_" + ToSnake(name) }))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ := s.Lookup("BlogPost")
	if c.Table != "t_blog_post" {
		t.Errorf("expected caller namer to win, got %q", c.Table)
	}
}
