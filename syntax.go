package scex

import (
	"github.com/expr-lang/expr/ast"
)

// NodeKind identifies a syntactic construct that a profile's SyntaxRules may
// permit or forbid. It mirrors the node kinds expr-lang's parser produces,
// not a JVM compiler's tree shape, but plays the same role spec §4.3
// describes.
type NodeKind int

const (
	NodeIdentifier NodeKind = iota
	NodeLiteral
	NodeSelect // ast.MemberNode
	NodeCall   // ast.CallNode / ast.BuiltinNode
	NodeIndex
	NodeSlice
	NodeConditional // ternary / if
	NodeBinary
	NodeUnary
	NodeArray
	NodeMap
	NodeVariableDeclaration // "let" bindings, treated like local blocks
	NodePointer             // "#" / "#.field" inside builtins
	NodeAssign              // only legal in setter mode
	NodeChain               // optional-chaining "?."
	NodeVariable
)

// DefaultSyntaxWhitelist is the recommended default node-kind set from
// spec §4.3: blocks/selects/applies/type-applies/identifiers/ifs/literals/
// new/this/ascriptions/type-trees become, in the expr-lang mapping,
// selects, calls, identifiers, conditionals, literals, arrays/maps (the
// "new" equivalent for composite literals), indexing, and chains.
// Assignment, pattern matching, while loops, throws, and try/catch are not
// in this set and are therefore forbidden by default.
func DefaultSyntaxWhitelist() SyntaxRules {
	return NewSyntaxRules(
		NodeIdentifier,
		NodeLiteral,
		NodeSelect,
		NodeCall,
		NodeIndex,
		NodeSlice,
		NodeConditional,
		NodeBinary,
		NodeUnary,
		NodeArray,
		NodeMap,
		NodeChain,
		NodeVariable,
	)
}

// SyntaxRules is the set of node kinds a profile permits.
type SyntaxRules struct {
	permitted map[NodeKind]bool
	setter    bool // allows NodeAssign at the top of a setter expression
}

// NewSyntaxRules builds a SyntaxRules permitting exactly the given kinds.
func NewSyntaxRules(kinds ...NodeKind) SyntaxRules {
	m := make(map[NodeKind]bool, len(kinds))
	for _, k := range kinds {
		m[k] = true
	}

	return SyntaxRules{permitted: m}
}

// WithSetter returns a copy of r that additionally permits NodeAssign, for
// compiling setter-mode expressions (spec §4.1, §4.3).
func (r SyntaxRules) WithSetter() SyntaxRules {
	r.setter = true

	return r
}

// Permits reports whether kind is allowed by r.
func (r SyntaxRules) Permits(kind NodeKind) bool {
	if kind == NodeAssign {
		return r.setter
	}

	return r.permitted[kind]
}

// syntaxVisitor walks the type-checked tree (expr-lang runs its checker
// before each patch visitor) and records a SyntaxForbidden diagnostic for
// every node outside the profile's whitelist. It implements ast.Visitor so
// it can be installed the same way expr-lang installs any AST patcher
// (ground: teacher's hyphenPatcher).
type syntaxVisitor struct {
	rules       SyntaxRules
	source      *Preprocessed
	diagnostics *CompilationFailed

	// rejectedString is the string node behind the most recent
	// diagnostic, if any; see Visit.
	rejectedString ast.Node
}

// Visit implements ast.Visitor.
func (v *syntaxVisitor) Visit(node *ast.Node) {
	// ast.Walk visits a member's property string node right before the
	// member itself. That string is the selected name, part of the select
	// and not a literal, so a diagnostic recorded for it is withdrawn.
	if member, isMember := (*node).(*ast.MemberNode); isMember && v.rejectedString != nil && member.Property == v.rejectedString {
		v.diagnostics.Diagnostics = v.diagnostics.Diagnostics[:len(v.diagnostics.Diagnostics)-1]
	}

	v.rejectedString = nil

	kind, ok := classifyNode(*node)
	if !ok {
		// Nodes we don't recognize (e.g. internal synthetic nodes expr-lang
		// itself introduces) are never rejected; only real syntax is policed.
		return
	}

	if v.rules.Permits(kind) {
		return
	}

	loc := (*node).Location()
	line, col := v.source.RemapPosition(loc.Line, loc.Column)
	v.diagnostics.add(line, col, "syntax not permitted by profile: "+kindName(kind))

	if _, isString := (*node).(*ast.StringNode); isString {
		v.rejectedString = *node
	}
}

// classifyNode maps an expr-lang ast.Node to the NodeKind vocabulary above.
func classifyNode(node ast.Node) (NodeKind, bool) {
	switch node.(type) {
	case *ast.IdentifierNode:
		return NodeIdentifier, true
	case *ast.IntegerNode, *ast.FloatNode, *ast.StringNode, *ast.BoolNode, *ast.NilNode:
		return NodeLiteral, true
	case *ast.MemberNode:
		return NodeSelect, true
	case *ast.CallNode, *ast.BuiltinNode:
		return NodeCall, true
	case *ast.BinaryNode:
		return NodeBinary, true
	case *ast.UnaryNode:
		return NodeUnary, true
	case *ast.ConditionalNode:
		return NodeConditional, true
	case *ast.ArrayNode:
		return NodeArray, true
	case *ast.MapNode:
		return NodeMap, true
	case *ast.SliceNode:
		return NodeSlice, true
	case *ast.VariableDeclaratorNode:
		return NodeVariableDeclaration, true
	case *ast.PointerNode:
		return NodePointer, true
	case *ast.ChainNode:
		return NodeChain, true
	case *ast.VariableNode:
		return NodeVariable, true
	default:
		return 0, false
	}
}

// parseNodeKind resolves a kind name (as produced by kindName, plus a couple
// of friendlier aliases for the declarative YAML form) back to a NodeKind.
func parseNodeKind(name string) (NodeKind, bool) {
	switch name {
	case "identifier":
		return NodeIdentifier, true
	case "literal":
		return NodeLiteral, true
	case "select", "member":
		return NodeSelect, true
	case "call":
		return NodeCall, true
	case "index":
		return NodeIndex, true
	case "slice":
		return NodeSlice, true
	case "conditional", "ternary":
		return NodeConditional, true
	case "binary":
		return NodeBinary, true
	case "unary":
		return NodeUnary, true
	case "array":
		return NodeArray, true
	case "map":
		return NodeMap, true
	case "let", "variabledeclaration":
		return NodeVariableDeclaration, true
	case "#", "pointer":
		return NodePointer, true
	case "assignment", "assign":
		return NodeAssign, true
	case "optional chain", "chain":
		return NodeChain, true
	case "variable":
		return NodeVariable, true
	default:
		return 0, false
	}
}

func kindName(k NodeKind) string {
	switch k {
	case NodeIdentifier:
		return "identifier"
	case NodeLiteral:
		return "literal"
	case NodeSelect:
		return "select"
	case NodeCall:
		return "call"
	case NodeIndex:
		return "index"
	case NodeSlice:
		return "slice"
	case NodeConditional:
		return "conditional"
	case NodeBinary:
		return "binary"
	case NodeUnary:
		return "unary"
	case NodeArray:
		return "array"
	case NodeMap:
		return "map"
	case NodeVariableDeclaration:
		return "let"
	case NodePointer:
		return "#"
	case NodeAssign:
		return "assignment"
	case NodeChain:
		return "optional chain"
	case NodeVariable:
		return "variable"
	default:
		return "unknown"
	}
}
