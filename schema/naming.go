package schema

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableNamer derives a table name from a class name.
type TableNamer func(className string) string

// SnakeTables maps "BlogPost" to "blog_post".
func SnakeTables(className string) string {
	return ToSnake(className)
}

// PluralTables maps "BlogPost" to "blog_posts", the way bun names model tables.
func PluralTables(className string) string {
	return inflection.Plural(ToSnake(className))
}

// ForeignKeyColumn returns the default column holding the foreign key for a
// relation field: "createdByAccount" becomes "created_by_account_id".
func ForeignKeyColumn(field string) string {
	return ToSnake(field) + "_id"
}

// ToSnake converts s to snake_case using ASCII-aware rules. Punctuation and
// whitespace collapse into single underscores so the result is always a
// valid unquoted SQL identifier for ASCII input.
func ToSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := false
	underscore := func() {
		if !sep && b.Len() > 0 {
			b.WriteByte('_')
			sep = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					underscore()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			sep = false

		case unicode.IsDigit(r):
			if i > 0 && unicode.IsLetter(runes[i-1]) {
				underscore()
			}
			b.WriteRune(r)
			sep = false

		default:
			underscore()
		}
	}

	return strings.Trim(b.String(), "_")
}
