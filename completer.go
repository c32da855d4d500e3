package scex

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
)

// MemberDescriptor is one completer result: a decoded member name, its
// parameter list, result type, whether it was added by an implicit view,
// and any documentation/parameter-name overrides the profile attaches
// (spec §3 "MemberDescriptor").
type MemberDescriptor struct {
	Name       string
	Parameters []ParameterDescriptor
	ResultType string
	Implicit   bool
	Doc        string
}

// ParameterDescriptor names one parameter of a MemberDescriptor.
type ParameterDescriptor struct {
	Name string
	Type string
}

// Completer is the C9 interactive query surface: getErrors,
// getScopeCompletion, and getTypeCompletion, run against a long-lived
// profile/driver pair (spec §4.9).
type Completer struct {
	driver  *Driver
	profile *ExpressionProfile

	mu    sync.Mutex
	cache map[string][]MemberDescriptor // keyed by qualifier type string
}

// NewCompleter returns a Completer bound to one profile.
func NewCompleter(driver *Driver, profile *ExpressionProfile) *Completer {
	return &Completer{driver: driver, profile: profile, cache: make(map[string][]MemberDescriptor)}
}

// GetErrors assembles and type-checks expression against contextType and
// extra free variables, returning its diagnostics without installing
// anything in the artifact cache (spec §4.9 "getErrors").
func (c *Completer) GetErrors(ctx context.Context, expression string, contextType reflect.Type, extra map[string]any) []Diagnostic {
	def := ExpressionDef{
		Profile:        c.profile.Name,
		Expression:     expression,
		OriginalSource: expression,
		ContextType:    typeStringOrEmpty(contextType),
		Variables:      NamedTypesFromContext(contextType),
	}

	req := CompileRequest{Profile: c.profile, Def: def, ContextType: contextType, Extra: extra}

	_, err := c.driver.Compile(ctx, req)
	if err == nil {
		return nil
	}

	var failure *CompilationFailed
	if asCompilationFailed(err, &failure) {
		return failure.Diagnostics
	}

	return []Diagnostic{{Line: 1, Column: 1, Message: err.Error()}}
}

func asCompilationFailed(err error, target **CompilationFailed) bool {
	if cf, ok := err.(*CompilationFailed); ok {
		*target = cf
		return true
	}

	return false
}

// GetScopeCompletion returns every term in lexical scope at pos within
// expression: the profile/context free variables that the ACL does not deny
// against a synthetic module-qualified reference site (a variable is left
// out only when the last ACL entry matching it is a deny; one no entry
// matches is offered), plus any "let" binding introduced before pos
// (spec §4.9 "getScopeCompletion",
// "every term in lexical scope at pos").
func (c *Completer) GetScopeCompletion(ctx context.Context, expression string, pos int, contextType reflect.Type, extra map[string]any) ([]MemberDescriptor, error) {
	env, err := c.driver.assembleEnv(ctx, CompileRequest{
		Profile:     c.profile,
		Def:         ExpressionDef{Profile: c.profile.Name},
		ContextType: contextType,
		Extra:       extra,
	})
	if err != nil {
		return nil, err
	}

	names := sortedKeys(env)
	out := make([]MemberDescriptor, 0, len(names)+4)
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		candidate := AccessCandidate{QualifierType: nil, Symbol: name, Kind: symbolKindOf(env[name])}

		policy, matched := c.profile.ACL.Decide(candidate)
		if matched && policy != Allow {
			continue
		}

		seen[name] = true
		out = append(out, c.describe(name, env[name], false))
	}

	for _, name := range letBindingsBefore(expression, pos) {
		if seen[name] {
			continue
		}

		seen[name] = true
		out = append(out, MemberDescriptor{Name: name})
	}

	return out, nil
}

// letBindingsBefore scans expression for "let NAME =" occurrences starting
// before pos, the plain-text stand-in for "every term in lexical scope at
// pos" restricted to local bindings (spec §4.9). It does not attempt to
// track block/conditional scoping boundaries; a let bound anywhere earlier
// in the text is offered, which only ever over-suggests, never hides a
// term a real completion engine would show.
func letBindingsBefore(expression string, pos int) []string {
	if pos < 0 || pos > len(expression) {
		pos = len(expression)
	}

	s := expression[:pos]

	const kw = "let "

	var names []string

	for i := 0; ; {
		idx := strings.Index(s[i:], kw)
		if idx < 0 {
			break
		}

		start := i + idx + len(kw)

		j := start
		for j < len(s) && isIdentByte(s[j]) {
			j++
		}

		if j > start {
			names = append(names, s[start:j])
		}

		i = j
		if i <= start {
			i = start + 1
		}
	}

	return names
}

func isIdentByte(b byte) bool {
	return b == '_' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

// GetTypeCompletion determines the qualifier type at the member-select
// ending at pos within expression (spec §4.9 "getTypeCompletion", §8
// property 7): it extracts the qualifier substring up to pos's nearest
// unbracketed "." (extractQualifier), typing it in isolation, and falls
// back to typing a shorter prefix of the qualifier if the full select is
// itself erroneous ("falling back to typing the qualifier explicitly if
// the parent select is erroneous"). Results are cached by qualifier type
// string (spec §4.9 "cached by qualifier type").
func (c *Completer) GetTypeCompletion(ctx context.Context, expression string, pos int, contextType reflect.Type, extra map[string]any) ([]MemberDescriptor, error) {
	qualifier, ok := extractQualifier(expression, pos)
	if !ok {
		return nil, ErrNoSuchMember
	}

	qualifierType, err := c.resolveQualifierType(ctx, qualifier, contextType, extra)
	if err != nil {
		return nil, err
	}

	key := qualifierType.String()

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	members := enumerateMembers(qualifierType)

	out := make([]MemberDescriptor, 0, len(members))

	for _, m := range members {
		candidate := AccessCandidate{QualifierType: qualifierType, Symbol: qualifierType.String() + "." + m.Name, Kind: m.Kind}

		policy, matched := c.profile.ACL.Decide(candidate)
		if matched && policy == Allow {
			out = append(out, c.describeMember(qualifierType, m))
		}
	}

	c.mu.Lock()
	c.cache[key] = out
	c.mu.Unlock()

	return out, nil
}

// extractQualifier returns the substring of expression ending at pos's
// nearest unbracketed "." — the member-select qualifier an IDE would type
// to recover completions for whatever comes after that dot. ok is false
// when pos has no preceding dot outside brackets/quotes (there is nothing
// to qualify against, e.g. pos sits inside the first identifier of the
// expression).
func extractQualifier(expression string, pos int) (string, bool) {
	if pos < 0 || pos > len(expression) {
		pos = len(expression)
	}

	s := expression[:pos]

	idx := lastUnbracketedDot(s)
	if idx < 0 {
		return "", false
	}

	return strings.TrimSpace(s[:idx]), true
}

// lastUnbracketedDot returns the byte offset of the last "." in s that
// sits outside any ()/[]/{} nesting and outside any quoted string, or -1.
func lastUnbracketedDot(s string) int {
	var (
		depth     int
		last      = -1
		inQuote   bool
		quoteChar byte
	)

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case inQuote:
			if c == quoteChar && (i == 0 || s[i-1] != '\\') {
				inQuote = false
			}
		case c == '\'' || c == '"':
			inQuote = true
			quoteChar = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '.' && depth == 0:
			last = i
		}
	}

	return last
}

// resolveQualifierType types qualifier, retrying against a progressively
// shorter prefix of it if the full select fails to type-check (spec §4.9
// "falling back to typing the qualifier explicitly if the parent select
// is erroneous").
func (c *Completer) resolveQualifierType(ctx context.Context, qualifier string, contextType reflect.Type, extra map[string]any) (reflect.Type, error) {
	for {
		t, err := c.typeOfExpression(ctx, qualifier, contextType, extra)
		if err == nil {
			return t, nil
		}

		shorter, ok := extractQualifier(qualifier, len(qualifier))
		if !ok || shorter == qualifier {
			return nil, err
		}

		qualifier = shorter
	}
}

// typeOfExpression compiles qualifierExpr in isolation under the shared
// driver lock to recover its static type.
func (c *Completer) typeOfExpression(ctx context.Context, qualifierExpr string, contextType reflect.Type, extra map[string]any) (reflect.Type, error) {
	env, err := c.driver.assembleEnv(ctx, CompileRequest{
		Profile:     c.profile,
		Def:         ExpressionDef{Profile: c.profile.Name},
		ContextType: contextType,
		Extra:       extra,
	})
	if err != nil {
		return nil, err
	}

	driverMu.Lock()
	defer driverMu.Unlock()

	var resultType reflect.Type

	typeCapture := typeCaptureVisitor{result: &resultType}

	_, err = expr.Compile(qualifierExpr, expr.Env(env), expr.Patch(&typeCapture), expr.AllowUndefinedVariables())
	if err != nil || resultType == nil {
		return nil, ErrTypeCheck.Wrap(err)
	}

	return resultType, nil
}

// typeCaptureVisitor records the type of the outermost node it visits,
// used to recover a qualifier expression's static type without otherwise
// touching the tree.
type typeCaptureVisitor struct {
	result *reflect.Type
}

func (v *typeCaptureVisitor) Visit(node *ast.Node) {
	if t := (*node).Type(); t != nil {
		*v.result = t
	}
}

type member struct {
	Name string
	Kind SymbolKind
}

// enumerateMembers lists a type's exported methods and fields, the
// reflective stand-in for the host's implicit-view-aware member search
// (spec §4.9; implicit-added members are out of scope for a
// reflection-only qualifier type and simply never appear, a documented
// narrowing of the original design).
func enumerateMembers(t reflect.Type) []member {
	out := make([]member, 0)

	for i := 0; i < t.NumMethod(); i++ {
		out = append(out, member{Name: t.Method(i).Name, Kind: SymbolMethod})
	}

	structType := t
	if structType.Kind() == reflect.Ptr {
		structType = structType.Elem()
	}

	if structType.Kind() == reflect.Struct {
		for i := 0; i < structType.NumField(); i++ {
			f := structType.Field(i)
			if f.IsExported() {
				out = append(out, member{Name: f.Name, Kind: SymbolField})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

func (c *Completer) describe(name string, value any, implicit bool) MemberDescriptor {
	attr, _ := c.profile.Attributes.Lookup(name)

	return MemberDescriptor{
		Name:       name,
		ResultType: typeName(value),
		Implicit:   implicit,
		Doc:        attr.Doc,
	}
}

func (c *Completer) describeMember(qualifierType reflect.Type, m member) MemberDescriptor {
	fullName := qualifierType.String() + "." + m.Name
	attr, _ := c.profile.Attributes.Lookup(fullName)

	desc := MemberDescriptor{Name: m.Name, Doc: attr.Doc}

	if m.Kind == SymbolMethod {
		method, ok := qualifierType.MethodByName(m.Name)
		if ok {
			desc.Parameters, desc.ResultType = describeFunc(method.Type, qualifierType.Kind() != reflect.Interface, attr.ParameterNames)
		}
	} else {
		if structType := derefStruct(qualifierType); structType != nil {
			if f, ok := structType.FieldByName(m.Name); ok {
				desc.ResultType = f.Type.String()
			}
		}
	}

	return desc
}

func derefStruct(t reflect.Type) *reflect.Type {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Kind() != reflect.Struct {
		return nil
	}

	return &t
}

// describeFunc renders a method's parameter list (skipping the receiver
// when hasReceiver) and result type, substituting names from override
// when provided.
func describeFunc(t reflect.Type, hasReceiver bool, override []string) ([]ParameterDescriptor, string) {
	start := 0
	if hasReceiver {
		start = 1
	}

	params := make([]ParameterDescriptor, 0, t.NumIn()-start)

	for i := start; i < t.NumIn(); i++ {
		name := ""
		if idx := i - start; idx < len(override) {
			name = override[idx]
		}

		params = append(params, ParameterDescriptor{Name: name, Type: t.In(i).String()})
	}

	results := make([]string, t.NumOut())
	for i := range results {
		results[i] = t.Out(i).String()
	}

	resultType := ""
	if len(results) > 0 {
		resultType = results[0]
	}

	return params, resultType
}

func symbolKindOf(value any) SymbolKind {
	if value == nil {
		return SymbolField
	}

	if reflect.TypeOf(value).Kind() == reflect.Func {
		return SymbolFunction
	}

	return SymbolField
}

func typeStringOrEmpty(t reflect.Type) string {
	if t == nil {
		return ""
	}

	return t.String()
}
