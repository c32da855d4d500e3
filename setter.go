package scex

import (
	"reflect"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// AssignTarget is the field/index path a setter-mode expression's root
// resolves to (spec §4.1, §4.6; GLOSSARY "setter mode": the host-side
// callable, not the compiled expression itself, performs the assignment).
// Path[0] names the top-level free variable; each subsequent entry is a
// struct field or map key selected from it.
type AssignTarget struct {
	Path []string
}

// resolveAssignTarget parses source independently of the main expr.Compile
// pass and classifies its root node as an assignable target. A second parse
// sidesteps any assumption about expr-lang's ast.Walk traversal order: the
// root of a freshly parsed tree.Node is unambiguous, where reusing the
// syntaxVisitor installed during Compile would require knowing whether it
// visits nodes pre- or post-order.
func resolveAssignTarget(source string, rules SyntaxRules) (AssignTarget, error) {
	if !rules.Permits(NodeAssign) {
		return AssignTarget{}, ErrSetterTarget
	}

	tree, err := parser.Parse(source)
	if err != nil {
		return AssignTarget{}, ErrCompilerFailure.Wrap(err)
	}

	kind, ok := classifyNode(tree.Node)
	if !ok || (kind != NodeIdentifier && kind != NodeSelect) {
		return AssignTarget{}, ErrSetterTarget
	}

	target, ok := assignTargetFromNode(tree.Node)
	if !ok {
		return AssignTarget{}, ErrSetterTarget
	}

	return target, nil
}

// assignTargetFromNode walks an identifier/member chain from its leaf back
// to the root free variable, building the root-first path a field walk
// expects. Any other node shape (a call, index, literal, ...) is not
// assignable.
func assignTargetFromNode(node ast.Node) (AssignTarget, bool) {
	var reversed []string // leaf-first as collected, reversed before return

	for {
		switch n := node.(type) {
		case *ast.IdentifierNode:
			path := make([]string, len(reversed)+1)
			path[0] = n.Value

			for i, name := range reversed {
				path[len(path)-1-i] = name
			}

			return AssignTarget{Path: path}, true

		case *ast.MemberNode:
			prop, ok := n.Property.(*ast.StringNode)
			if !ok || n.Method {
				return AssignTarget{}, false
			}

			reversed = append(reversed, prop.Value)
			node = n.Node

		default:
			return AssignTarget{}, false
		}
	}
}

// Set writes newValue into context_ at t's path (spec §4.1 "the wrapper
// compiles to a callable (context, newValue) -> unit"). context_ must be a
// pointer to a struct, or a map[string]any, at each step of the path; the
// final step sets the named field or map key to newValue.
func (t AssignTarget) Set(context_ any, newValue any) error {
	if len(t.Path) == 0 {
		return ErrSetterTarget
	}

	v := reflect.ValueOf(context_)

	for i, name := range t.Path {
		last := i == len(t.Path)-1

		next, err := stepInto(v, name, last, newValue)
		if err != nil {
			return err
		}

		v = next
	}

	return nil
}

// stepInto resolves one path segment against v. On the final segment it
// performs the assignment and returns the zero Value; on an intermediate
// segment it returns the value to continue walking from.
func stepInto(v reflect.Value, name string, last bool, newValue any) (reflect.Value, error) {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, ErrSetterTarget
		}

		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Struct:
		field := v.FieldByName(name)
		if !field.IsValid() {
			return reflect.Value{}, ErrSetterTarget
		}

		if last {
			return reflect.Value{}, setField(field, newValue)
		}

		return field, nil

	case reflect.Map:
		if !last {
			elem := v.MapIndex(reflect.ValueOf(name))
			if !elem.IsValid() {
				return reflect.Value{}, ErrSetterTarget
			}

			return elem, nil
		}

		if v.IsNil() {
			return reflect.Value{}, ErrSetterTarget
		}

		v.SetMapIndex(reflect.ValueOf(name), reflect.ValueOf(newValue))

		return reflect.Value{}, nil

	default:
		return reflect.Value{}, ErrSetterTarget
	}
}

// setField assigns newValue to field, which must be addressable and
// settable (i.e. reached through a pointer-to-struct chain).
func setField(field reflect.Value, newValue any) error {
	if !field.CanSet() {
		return ErrSetterTarget
	}

	rv := reflect.ValueOf(newValue)
	if !rv.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}

	if !rv.Type().AssignableTo(field.Type()) {
		if rv.Type().ConvertibleTo(field.Type()) {
			rv = rv.Convert(field.Type())
		} else {
			return ErrSetterTarget
		}
	}

	field.Set(rv)

	return nil
}
