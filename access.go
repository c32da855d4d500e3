package scex

import (
	"reflect"

	"github.com/expr-lang/expr/ast"
)

// accessVisitor is the C4 access-control engine. It runs as an expr-lang
// patch visitor (ground: teacher's hyphenPatcher in lang/patcher.go),
// inspecting every ast.MemberNode after expr-lang's checker has annotated
// the tree with types (node.Type()), and records an AccessDenied
// diagnostic for any access the profile's ACL does not allow.
//
// expr-lang re-checks the tree after each patch pass, so a visitor that
// only reads node.Type() and never mutates the tree is safe to register
// alongside a real patcher (e.g. one the host supplies of its own) without
// interfering with it.
type accessVisitor struct {
	acl         *ACL
	source      *Preprocessed
	diagnostics *CompilationFailed
}

// Visit implements ast.Visitor.
func (v *accessVisitor) Visit(node *ast.Node) {
	member, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}

	candidate, ok := memberCandidate(member)
	if !ok {
		// Computed properties (indexing such as a[0] or a[k]) carry no
		// member name to match against the ACL and are left unchecked.
		return
	}

	policy, matched := v.acl.Decide(candidate)
	if matched && policy == Allow {
		return
	}

	loc := (*node).Location()
	line, col := v.source.RemapPosition(loc.Line, loc.Column)
	v.diagnostics.add(
		line, col,
		"member `"+candidate.Symbol+"` is not allowed on `"+qualifierName(candidate.QualifierType)+"`",
	)
}

// memberCandidate reifies an ast.MemberNode into an AccessCandidate. ok is
// false only when the property is not a simple name (a computed property),
// in which case the access is left unchecked. A qualifier whose type could
// not be determined still yields a candidate, with the bare member name as
// its Symbol and a nil QualifierType.
func memberCandidate(member *ast.MemberNode) (AccessCandidate, bool) {
	prop, ok := member.Property.(*ast.StringNode)
	if !ok {
		return AccessCandidate{}, false
	}

	qualifierType := member.Node.Type()

	kind := SymbolMethod
	if !member.Method {
		kind = SymbolField
	}

	fullName := prop.Value
	if qualifierType != nil {
		fullName = qualifierType.String() + "." + prop.Value
	}

	return AccessCandidate{
		QualifierType: qualifierType,
		Symbol:        fullName,
		Kind:          kind,
	}, true
}

func qualifierName(t reflect.Type) string {
	if t == nil {
		return "<module>"
	}

	return t.String()
}
