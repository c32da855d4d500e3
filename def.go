package scex

import (
	"reflect"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// ExpressionDef is the immutable key into the artifact cache (C7) and the
// on-disk signature cache (C8): spec §3 invariant 1 ("An ExpressionDef
// uniquely determines an artifact within a running process") and
// invariant 2 ("equality... ignores the diagnostic-only fields").
type ExpressionDef struct {
	Profile      string
	Template     bool
	Setter       bool
	Expression   string // preprocessed expression text, not the raw template
	Header       string
	ContextType  string
	ResultType   string
	Variables    []NamedType // ordered: map iteration would break invariant 1

	// Diagnostic-only fields, excluded from Key()/equality per invariant 2.
	OriginalSource string
	Positions      *Preprocessed
}

// NamedType is one entry of ExpressionDef.Variables: a free-variable name
// and its textual type representation (spec §3).
type NamedType struct {
	Name string
	Type string
}

// Key returns a stable identity for d suitable for cache lookup and for
// the on-disk source-file name (spec §4.8, §6 on-disk layout). Equal
// ExpressionDefs (per invariant 2) always produce equal keys.
func (d ExpressionDef) Key() string {
	h := xxh3.New()

	write := func(s string) {
		_, _ = h.WriteString(s)
		_, _ = h.WriteString("\x00")
	}

	write(d.Profile)
	write(boolString(d.Template))
	write(boolString(d.Setter))
	write(d.Expression)
	write(d.Header)
	write(d.ContextType)
	write(d.ResultType)

	for _, v := range d.Variables {
		write(v.Name)
		write(v.Type)
	}

	return "scex_" + strings.ToLower(sortableBase36(h.Sum64()))
}

func boolString(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

func sortableBase36(v uint64) string {
	const digits = "0123456789abcdefghijklmnopqrstuvwxyz"

	if v == 0 {
		return "0"
	}

	var buf [13]byte

	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v%36]
		v /= 36
	}

	return string(buf[i:])
}

// NamedTypesFromContext derives the ordered free-variable list from a
// struct's exported fields, using reflection as the stand-in for the
// host's reflective type bridge (spec §6). Field order is sorted by name
// so the same context type always yields the same ExpressionDef.Variables
// order, satisfying invariant 1.
func NamedTypesFromContext(t reflect.Type) []NamedType {
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}

	vars := make([]NamedType, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}

		vars = append(vars, NamedType{Name: f.Name, Type: f.Type.String()})
	}

	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })

	return vars
}
