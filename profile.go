package scex

import "sync"

// ExpressionProfile is an immutable security/capability domain: every
// expression compiled under a profile is validated against the same
// syntax rule set and ACL, and shares the same header and utilities block.
//
// ExpressionProfile values are safe for concurrent use once built; they are
// typically constructed once at host startup via [NewProfile] (assembling
// an [ACL] built with [NewACLBuilder] or [DecodeACLYAML]) or, for a
// declarative host, via [LoadProfileYAML], and then reused for every
// request.
type ExpressionProfile struct {
	Name string

	Syntax SyntaxRules
	ACL    *ACL

	// Attributes holds documentation and parameter-name overrides surfaced
	// by the completer (C9).
	Attributes *SymbolAttributeTable

	// Header is an expression compiled and run at most once per profile
	// value (invariant 4), with no variables in scope. When its result is a
	// map[string]any, each entry becomes a symbol visible to every
	// expression compiled under this profile (a context, declared or Extra
	// variable of the same name takes precedence); any other result adds
	// nothing. The header text is not prepended to the expressions.
	Header string

	// Utilities is an optional named source block, handled the same way as
	// Header and also compiled at most once per profile value, kept
	// separate from Header so hosts can version and diagn it independently.
	Utilities *Utility

	once     sync.Once
	compiled map[string]any // header + utilities symbols, memoized by once
	compErr  error
}

// Utility is a named source block. Its compiled form is memoized on the
// profile value (see ExpressionProfile.Utilities); neither the in-memory
// nor the on-disk cache (C8) uses Name in its keys.
type Utility struct {
	Name   string
	Source string
}

// SymbolAttribute carries documentation and parameter-name overrides for
// one fully-qualified symbol, surfaced by the completer.
type SymbolAttribute struct {
	FullName       string
	Doc            string
	ParameterNames []string
}

// SymbolAttributeTable looks up SymbolAttribute by fully-qualified name.
type SymbolAttributeTable struct {
	byName map[string]SymbolAttribute
}

// NewSymbolAttributeTable builds a table from the given attributes.
func NewSymbolAttributeTable(attrs ...SymbolAttribute) *SymbolAttributeTable {
	t := &SymbolAttributeTable{byName: make(map[string]SymbolAttribute, len(attrs))}
	for _, a := range attrs {
		t.byName[a.FullName] = a
	}

	return t
}

// Lookup returns the attribute for fullName, if any.
func (t *SymbolAttributeTable) Lookup(fullName string) (SymbolAttribute, bool) {
	if t == nil {
		return SymbolAttribute{}, false
	}

	a, ok := t.byName[fullName]

	return a, ok
}

// NewProfile constructs an ExpressionProfile. acl may be nil (default-deny
// everything); attrs may be nil.
func NewProfile(
	name string,
	syntax SyntaxRules,
	acl *ACL,
	attrs *SymbolAttributeTable,
	header string,
	utilities *Utility,
) *ExpressionProfile {
	if acl == nil {
		acl = NewACL()
	}

	return &ExpressionProfile{
		Name:       name,
		Syntax:     syntax,
		ACL:        acl,
		Attributes: attrs,
		Header:     header,
		Utilities:  utilities,
	}
}

// compiledHeader returns the header+utilities environment additions,
// compiling them at most once for the lifetime of this profile value
// (invariant 4).
func (p *ExpressionProfile) compiledHeader(compile func() (map[string]any, error)) (map[string]any, error) {
	p.once.Do(func() {
		p.compiled, p.compErr = compile()
	})

	return p.compiled, p.compErr
}
