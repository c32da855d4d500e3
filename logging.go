package scex

import (
	"log/slog"
	"reflect"
	"sort"
)

// attrInt is a small convenience wrapper kept alongside the sentinel errors
// so call sites read "attrInt("offset", n)" instead of repeating
// slog.Int at every call site.
func attrInt(key string, v int) slog.Attr { return slog.Int(key, v) }

func attrString(key, v string) slog.Attr { return slog.String(key, v) }

// sortedKeys returns the keys of m in sorted order, for deterministic trace
// logging of environment/ACL maps.
func sortedKeys[T any](m map[string]T) []string {
	if len(m) == 0 {
		return nil
	}

	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// typeName renders the Go type of value for diagnostics, "nil" if value is
// nil.
func typeName(value any) string {
	if value == nil {
		return "nil"
	}

	return reflect.TypeOf(value).String()
}
