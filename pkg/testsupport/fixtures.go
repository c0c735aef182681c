package testsupport

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/goliatone/go-store-cache/cache"
	"github.com/goliatone/go-store-cache/schema"
)

// LoadFixture loads test data from a fixture file.
// The path is relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}

	return data
}

// LoadSchema builds the YAML schema stored at path.
func LoadSchema(t testing.TB, path string, opts ...schema.Option) *schema.Schema {
	t.Helper()

	s, err := schema.LoadFile(path, opts...)
	if err != nil {
		t.Fatalf("failed to load schema from %s: %v", path, err)
	}

	return s
}

// LoadRecords reads a YAML list of records, see cache.DecodeRecords.
func LoadRecords(t testing.TB, s *schema.Schema, path string) []*cache.Record {
	t.Helper()

	records, err := cache.DecodeRecords(s, bytes.NewReader(LoadFixture(t, path)))
	if err != nil {
		t.Fatalf("failed to load records from %s: %v", path, err)
	}

	return records
}

// DumpRecords renders records as indented JSON, sorted by class then id,
// with relation fields reduced to ids. The output is stable and suits
// golden files.
func DumpRecords(t testing.TB, records []*cache.Record) []byte {
	t.Helper()

	docs := cache.EncodeDocs(records)
	slices.SortFunc(docs, func(a, b cache.RecordDoc) int {
		if c := strings.Compare(a.Class, b.Class); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal records: %v", err)
	}

	return append(data, '\n')
}

// LoadGolden loads expected test output from a golden file.
// The path is relative to the test package directory.
func LoadGolden(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load golden file from %s: %v", path, err)
	}

	return data
}

// WriteGolden writes test output to a golden file.
// This should typically only be called when updating golden files.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// CompareWithGolden compares actual data with expected data from a golden file.
// If the golden file doesn't exist, it creates one with the actual data.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}

	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// TempFile writes content to name in a directory removed when the test ends
// and returns the file path.
func TempFile(t testing.TB, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}

	return path
}

// FixturePath constructs a path to a fixture file relative to the testdata directory.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath constructs a path to a golden file relative to the testdata directory.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}
