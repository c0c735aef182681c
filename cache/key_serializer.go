package cache

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// hashedKeySerializer renders args canonically and hashes them with xxhash,
// so keys stay short no matter how many classes a plan covers. The method
// name is kept in clear as the key prefix.
type hashedKeySerializer struct{}

// NewDefaultKeySerializer returns the default serializer. Keys look like
// "method::<16 hex digits>".
func NewDefaultKeySerializer() KeySerializer {
	return hashedKeySerializer{}
}

// SerializeKey implements KeySerializer.
func (hashedKeySerializer) SerializeKey(method string, args ...any) string {
	if len(args) == 0 {
		return method
	}

	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte('|')
		}
		writeCanonical(&b, reflect.ValueOf(arg))
	}

	return method + KeySeparator + fmt.Sprintf("%016x", xxhash.Sum64String(b.String()))
}

// writeCanonical renders v deterministically: map entries are sorted, and
// values are prefixed with their kind so "1" and 1 never collide.
func writeCanonical(b *strings.Builder, v reflect.Value) {
	if !v.IsValid() {
		b.WriteString("nil")
		return
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			b.WriteString("nil")
			return
		}
		writeCanonical(b, v.Elem())

	case reflect.Slice, reflect.Array:
		b.WriteByte('[')
		for i := 0; i < v.Len(); i++ {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, v.Index(i))
		}
		b.WriteByte(']')

	case reflect.Map:
		entries := make([]string, 0, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			var e strings.Builder
			writeCanonical(&e, iter.Key())
			e.WriteByte('=')
			writeCanonical(&e, iter.Value())
			entries = append(entries, e.String())
		}
		sort.Strings(entries)
		b.WriteByte('{')
		b.WriteString(strings.Join(entries, ","))
		b.WriteByte('}')

	case reflect.Struct:
		t := v.Type()
		b.WriteString(t.Name())
		b.WriteByte('{')
		for i := 0; i < v.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			b.WriteString(t.Field(i).Name)
			b.WriteByte(':')
			writeCanonical(b, v.Field(i))
			b.WriteByte(';')
		}
		b.WriteByte('}')

	case reflect.String:
		b.WriteString("s:")
		b.WriteString(strconv.Quote(v.String()))

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString("i:")
		b.WriteString(strconv.FormatInt(v.Int(), 10))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		b.WriteString("u:")
		b.WriteString(strconv.FormatUint(v.Uint(), 10))

	case reflect.Bool:
		b.WriteString("b:")
		b.WriteString(strconv.FormatBool(v.Bool()))

	case reflect.Func, reflect.Chan:
		fmt.Fprintf(b, "%s:%p", v.Kind(), v.Interface())

	default:
		fmt.Fprintf(b, "%v", v.Interface())
	}
}
