package scex

import (
	"context"
	"reflect"
	"testing"

	"github.com/goszjacek/scex/log"
)

type completerTarget struct {
	Name string
	Age  int
}

func (t completerTarget) Greeting() string { return "hi " + t.Name }
func (t completerTarget) Birthday() int    { return t.Age + 1 }

func completerProfile(attrs *SymbolAttributeTable, allow ...string) *ExpressionProfile {
	b := NewACLBuilder()
	for _, sym := range allow {
		b.Allow(Pattern{QualifierType: nil, Symbol: sym})
	}

	return NewProfile("completer-demo", DefaultSyntaxWhitelist(), b.Build(), attrs, "", nil)
}

func TestCompleter_GetErrors_ReportsTypeCheckDiagnostics(t *testing.T) {
	profile := completerProfile(nil, "scex.completerTarget.Greeting")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	diags := c.GetErrors(context.Background(), "t.NoSuchField", reflect.TypeOf(completerTarget{}), map[string]any{"t": completerTarget{}})
	if len(diags) == 0 {
		t.Fatalf("expected at least one diagnostic for an unknown field")
	}
}

func TestCompleter_GetErrors_NoDiagnosticsForValidExpression(t *testing.T) {
	profile := completerProfile(nil, "scex.completerTarget.Greeting")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	diags := c.GetErrors(context.Background(), "t.Greeting()", reflect.TypeOf(completerTarget{}), map[string]any{"t": completerTarget{}})
	if len(diags) != 0 {
		t.Errorf("expected no diagnostics, got %+v", diags)
	}
}

func TestCompleter_GetScopeCompletion_IncludesFreeVariablesAndLetBindings(t *testing.T) {
	profile := completerProfile(nil)
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	expression := "let total = 1; tot"
	pos := len(expression)

	members, err := c.GetScopeCompletion(context.Background(), expression, pos, nil, map[string]any{"t": completerTarget{}})
	if err != nil {
		t.Fatalf("GetScopeCompletion: %v", err)
	}

	var sawFreeVar, sawLetBinding bool

	for _, m := range members {
		switch m.Name {
		case "t":
			sawFreeVar = true
		case "total":
			sawLetBinding = true
		}
	}

	if !sawFreeVar {
		t.Errorf("expected free variable %q in scope completion, got %+v", "t", members)
	}

	if !sawLetBinding {
		t.Errorf("expected let binding %q in scope completion, got %+v", "total", members)
	}
}

func TestCompleter_GetScopeCompletion_LetBindingAfterPosIsNotOffered(t *testing.T) {
	profile := completerProfile(nil)
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	expression := "x; let total = 1"
	pos := 1 // cursor sits right after "x", before "let total" appears

	members, err := c.GetScopeCompletion(context.Background(), expression, pos, nil, nil)
	if err != nil {
		t.Fatalf("GetScopeCompletion: %v", err)
	}

	for _, m := range members {
		if m.Name == "total" {
			t.Errorf("did not expect a let binding introduced after pos to appear, got %+v", members)
		}
	}
}

func TestCompleter_GetTypeCompletion_ReturnsACLAllowedMembersOnly(t *testing.T) {
	// S7 analogue: only Greeting is allowed, Birthday and the fields stay hidden.
	profile := completerProfile(nil, "scex.completerTarget.Greeting")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	expression := "t."
	pos := len(expression)

	members, err := c.GetTypeCompletion(context.Background(), expression, pos, reflect.TypeOf(completerTarget{}), map[string]any{"t": completerTarget{}})
	if err != nil {
		t.Fatalf("GetTypeCompletion: %v", err)
	}

	if len(members) != 1 || members[0].Name != "Greeting" {
		t.Fatalf("expected only Greeting to be offered, got %+v", members)
	}
}

func TestCompleter_GetTypeCompletion_DescribesMethodSignatureAndDoc(t *testing.T) {
	attrs := NewSymbolAttributeTable(SymbolAttribute{
		FullName: "scex.completerTarget.Greeting",
		Doc:      "returns a friendly greeting",
	})

	profile := completerProfile(attrs, "scex.completerTarget.Greeting")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	members, err := c.GetTypeCompletion(context.Background(), "t.", 2, reflect.TypeOf(completerTarget{}), map[string]any{"t": completerTarget{}})
	if err != nil {
		t.Fatalf("GetTypeCompletion: %v", err)
	}

	if len(members) != 1 {
		t.Fatalf("expected exactly one member, got %+v", members)
	}

	got := members[0]
	if got.ResultType != "string" {
		t.Errorf("got result type %q, want %q", got.ResultType, "string")
	}

	if got.Doc != "returns a friendly greeting" {
		t.Errorf("got doc %q, want the attribute override", got.Doc)
	}
}

func TestCompleter_GetTypeCompletion_QualifierThatTypeChecksNeedsNoFallback(t *testing.T) {
	// "t.Greeting()." has no member after the trailing dot, so the full
	// qualifier "t.Greeting()" types fine on its own (a string), and the
	// completion should be for string's (zero, here) members rather than an
	// error. The qualifier type-checks on the first try, so
	// resolveQualifierType's shorter-prefix retry is not used here.
	profile := completerProfile(nil, "scex.completerTarget.Greeting")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	expression := "t.Greeting()."
	pos := len(expression)

	_, err := c.GetTypeCompletion(context.Background(), expression, pos, reflect.TypeOf(completerTarget{}), map[string]any{"t": completerTarget{}})
	if err != nil {
		t.Fatalf("GetTypeCompletion: %v", err)
	}
}

func TestCompleter_GetTypeCompletion_CachesByQualifierType(t *testing.T) {
	profile := completerProfile(nil, "scex.completerTarget.Greeting", "scex.completerTarget.Birthday")
	driver := NewDriver(log.Logger{})
	c := NewCompleter(driver, profile)

	extra := map[string]any{"t": completerTarget{}}

	first, err := c.GetTypeCompletion(context.Background(), "t.", 2, reflect.TypeOf(completerTarget{}), extra)
	if err != nil {
		t.Fatalf("GetTypeCompletion: %v", err)
	}

	second, err := c.GetTypeCompletion(context.Background(), "t.", 2, reflect.TypeOf(completerTarget{}), extra)
	if err != nil {
		t.Fatalf("GetTypeCompletion: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("expected the cached result to match, got %+v vs %+v", first, second)
	}

	if len(c.cache) != 1 {
		t.Errorf("expected exactly one cached qualifier type, got %d", len(c.cache))
	}
}
