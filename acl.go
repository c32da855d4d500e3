package scex

import (
	"reflect"
	"strings"
)

// Policy is the decision an ACL entry contributes for a matching access.
type Policy int

const (
	Deny Policy = iota
	Allow
)

// Wildcard expands a pattern to match more than one concrete symbol, per
// spec §4.4.
type Wildcard int

const (
	WildcardNone Wildcard = iota
	WildcardAllMembers
	WildcardAllMembersNamed
	WildcardAllConstructors
	WildcardAllStaticMembers
)

// SymbolKind distinguishes the categories of access candidate spec §4.4
// rule 1 needs ("the symbol is a method or a field... non-method/field
// selects... are exempt").
type SymbolKind int

const (
	SymbolField SymbolKind = iota
	SymbolMethod
	SymbolFunction
	SymbolModule // a selected package/module singleton; exempt unless named
)

// Pattern matches an access candidate on qualifier type, fully-qualified
// symbol, an optional implicit-conversion context, and optional wildcard
// expansion (spec §4.4).
type Pattern struct {
	// QualifierType is the static type of the qualifier expression. An
	// empty QualifierType matches any type (used by top-level/module
	// patterns). Plus marks the type parameter as covariant-widened
	// ("@plus"): it matches invariantly to any wider (assignable-to) type.
	QualifierType reflect.Type
	Plus          bool

	// Symbol is the fully-qualified member name this pattern allows/denies,
	// e.g. "strings.Builder.String" or "len". Ignored when Wildcard != 0.
	Symbol string

	// ViaImplicit, if non-empty, restricts this pattern to accesses that
	// went through the named implicit-conversion function.
	ViaImplicit string

	// Wildcard, if set, expands this pattern to every member (optionally
	// named MemberName for WildcardAllMembersNamed) of QualifierType.
	Wildcard   Wildcard
	MemberName string
}

// aclEntry is one ordered (pattern, policy) pair.
type aclEntry struct {
	pattern Pattern
	policy  Policy
	order   int
}

// ACL is an ordered, append-only sequence of access entries (spec §3, §4.4).
// The zero value, via NewACL, is a default-deny-everything ACL.
type ACL struct {
	entries []aclEntry
}

// NewACL returns an empty ACL (default deny).
func NewACL() *ACL {
	return &ACL{}
}

// Add appends one entry, assigning it the next order index (invariant 3:
// later entries override earlier ones on the same reference).
func (a *ACL) Add(policy Policy, pattern Pattern) *ACL {
	a.entries = append(a.entries, aclEntry{pattern: pattern, policy: policy, order: len(a.entries)})

	return a
}

// Concat returns a new ACL with a's entries followed by other's, each
// re-ordered to preserve the "append" semantics spec §4.4 requires of `++`.
func (a *ACL) Concat(other *ACL) *ACL {
	out := &ACL{entries: make([]aclEntry, 0, len(a.entries)+len(other.entries))}

	for _, e := range a.entries {
		out.entries = append(out.entries, aclEntry{pattern: e.pattern, policy: e.policy, order: len(out.entries)})
	}

	for _, e := range other.entries {
		out.entries = append(out.entries, aclEntry{pattern: e.pattern, policy: e.policy, order: len(out.entries)})
	}

	return out
}

// AccessCandidate is the runtime-reified tuple a single member-access site
// reduces to (spec GLOSSARY, §4.4).
type AccessCandidate struct {
	QualifierType reflect.Type
	Symbol        string // fully-qualified
	Kind          SymbolKind
	ViaImplicit   string // empty if the access is direct
}

// Decide walks entries in order and returns the policy of the last matching
// entry, or (Deny, false) if nothing matches (default deny, spec rule 2).
func (a *ACL) Decide(c AccessCandidate) (Policy, bool) {
	decided := Deny
	matched := false

	for _, e := range a.entries {
		if patternMatches(e.pattern, c) {
			decided = e.policy
			matched = true
		}
	}

	return decided, matched
}

// patternMatches implements the matching rules of spec §4.4.
func patternMatches(p Pattern, c AccessCandidate) bool {
	if p.ViaImplicit != c.ViaImplicit {
		return false
	}

	if !qualifierMatches(p, c.QualifierType) {
		return false
	}

	switch p.Wildcard {
	case WildcardAllMembers:
		return true
	case WildcardAllMembersNamed:
		return symbolBaseName(c.Symbol) == p.MemberName
	case WildcardAllConstructors:
		return c.Kind == SymbolMethod && symbolBaseName(c.Symbol) == "new"
	case WildcardAllStaticMembers:
		return c.Kind == SymbolFunction || c.Kind == SymbolField
	default:
		return symbolMatches(p.Symbol, c.Symbol)
	}
}

// qualifierMatches implements the "static type of the qualifier expression
// must be a subtype of (or existentially unify with) the pattern's
// declared type; covariant type parameters marked @plus match invariantly
// to any wider type" rule.
func qualifierMatches(p Pattern, qualifier reflect.Type) bool {
	if p.QualifierType == nil {
		return true
	}

	if qualifier == nil {
		return false
	}

	if p.Plus {
		return qualifier == p.QualifierType || qualifier.AssignableTo(p.QualifierType)
	}

	return qualifier == p.QualifierType ||
		qualifier.AssignableTo(p.QualifierType) ||
		implementsInterface(qualifier, p.QualifierType)
}

func implementsInterface(concrete, iface reflect.Type) bool {
	return iface.Kind() == reflect.Interface && concrete.Implements(iface)
}

// symbolMatches resolves method overrides: an override of an allowed
// symbol is allowed, which for a flat fully-qualified-name representation
// means matching on the trailing "Type.Member" segment as well as full
// equality, so a pattern declared against an embedded/base type still
// matches the override declared on a derived type's identical member name.
func symbolMatches(pattern, candidate string) bool {
	if pattern == candidate {
		return true
	}

	return symbolBaseName(pattern) != "" && symbolBaseName(pattern) == symbolBaseName(candidate) &&
		strings.HasSuffix(candidate, "."+symbolBaseName(pattern))
}

func symbolBaseName(fullName string) string {
	idx := strings.LastIndex(fullName, ".")
	if idx < 0 {
		return fullName
	}

	return fullName[idx+1:]
}
