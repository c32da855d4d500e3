package scex

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goszjacek/scex/log"
)

// demoGreeting stands in for the spec's string-literal member-access
// examples (S1 "hello".length, S2 "hello".toUpperCase): Go's primitive
// string type carries no methods, so a small struct with real exported
// methods is the idiomatic way to exercise the same member-access/ACL
// wiring end to end.
type demoGreeting struct {
	Text string
}

func (g demoGreeting) Length() int     { return len(g.Text) }
func (g demoGreeting) ToUpper() string { return strings.ToUpper(g.Text) }

var demoGreetingType = "scex.demoGreeting"

// demoGreetingV2 simulates S6's "replace the host type" between runs: a
// distinct Go type with its own Length method, so a disk-cache signature
// recorded against demoGreeting no longer resolves identically.
type demoGreetingV2 struct{ Text string }

func (g demoGreetingV2) Length() int { return len(g.Text) }

func demoProfile(t *testing.T, allow, deny []string) *ExpressionProfile {
	t.Helper()

	b := NewACLBuilder()

	for _, m := range allow {
		b.Allow(Pattern{QualifierType: nil, Symbol: demoGreetingType + "." + m})
	}

	for _, m := range deny {
		b.Deny(Pattern{QualifierType: nil, Symbol: demoGreetingType + "." + m})
	}

	return NewProfile("demo", DefaultSyntaxWhitelist(), b.Build(), nil, "", nil)
}

func demoReq(def ExpressionDef, profile *ExpressionProfile) CompileRequest {
	return CompileRequest{
		Profile: profile,
		Def:     def,
		Extra:   map[string]any{"g": demoGreeting{Text: "hello"}},
	}
}

func TestDriver_Compile_AllowedMember_EvaluatesEndToEnd(t *testing.T) {
	// S1 analogue: "hello".length -> 5.
	profile := demoProfile(t, []string{"Length"}, nil)
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{Profile: profile.Name, Expression: "g.Length()", OriginalSource: "g.Length()"}

	callable, err := NewCache(driver).Get(context.Background(), demoReq(def, profile))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	got, err := callable.Eval(context.Background(), map[string]any{"g": demoGreeting{Text: "hello"}})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}

	if got != 5 {
		t.Errorf("got %v, want 5", got)
	}
}

func TestDriver_Compile_DeniedMember_FailsWithAccessDenied(t *testing.T) {
	// S2 analogue: "hello".toUpperCase is compiled against a profile that
	// only allows Length; expect an AccessDenied-shaped diagnostic.
	profile := demoProfile(t, []string{"Length"}, nil)
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{Profile: profile.Name, Expression: "g.ToUpper()", OriginalSource: "g.ToUpper()"}

	_, err := driver.Compile(context.Background(), demoReq(def, profile))
	if err == nil {
		t.Fatalf("expected an error")
	}

	var failure *CompilationFailed
	if !errors.As(err, &failure) {
		t.Fatalf("expected *CompilationFailed, got %T: %v", err, err)
	}

	if len(failure.Diagnostics) == 0 || !strings.Contains(failure.Diagnostics[0].Message, "not allowed") {
		t.Errorf("expected an access-denied diagnostic, got %+v", failure.Diagnostics)
	}
}

func TestDriver_Compile_ACLLastMatchWins_ThroughRealCompile(t *testing.T) {
	// S4 analogue: allow then deny of the same member; deny must win.
	profile := demoProfile(t, []string{"Length"}, []string{"Length"})
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{Profile: profile.Name, Expression: "g.Length()", OriginalSource: "g.Length()"}

	_, err := driver.Compile(context.Background(), demoReq(def, profile))

	var failure *CompilationFailed
	if !errors.As(err, &failure) {
		t.Fatalf("expected the later Deny to win and reject the compile, got %v", err)
	}
}

func TestDriver_Compile_ForbiddenSyntax_FailsWithSyntaxForbidden(t *testing.T) {
	rules := NewSyntaxRules(NodeLiteral, NodeBinary)
	profile := NewProfile("narrow", rules, NewACL(), nil, "", nil)
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{Profile: profile.Name, Expression: "1 > 0 ? 1 : 2", OriginalSource: "1 > 0 ? 1 : 2"}

	_, err := driver.Compile(context.Background(), CompileRequest{Profile: profile, Def: def})

	var failure *CompilationFailed
	if !errors.As(err, &failure) {
		t.Fatalf("expected a syntax-forbidden diagnostic, got %v", err)
	}

	if len(failure.Diagnostics) == 0 || !strings.Contains(failure.Diagnostics[0].Message, "syntax not permitted") {
		t.Errorf("expected a syntax-forbidden diagnostic, got %+v", failure.Diagnostics)
	}
}

func TestDriver_Compile_Template_EvaluatesEndToEnd(t *testing.T) {
	// S3: template mode, profile allows arithmetic on int literals.
	profile := NewProfile("templates", DefaultSyntaxWhitelist(), NewACL(), nil, "", nil)
	driver := NewDriver(log.Logger{})

	pre, err := Preprocess("x=${1+2}, y=${3*4}", true)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}

	def := ExpressionDef{
		Profile:        profile.Name,
		Template:       true,
		Expression:     pre.Source,
		OriginalSource: "x=${1+2}, y=${3*4}",
	}

	callable, err := NewCache(driver).Get(context.Background(), CompileRequest{Profile: profile, Def: def})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	got, err := callable.Eval(context.Background(), map[string]any{})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}

	if got != "x=3, y=12" {
		t.Errorf("got %q, want %q", got, "x=3, y=12")
	}
}

func TestDriver_Compile_SetterMode_EndToEnd(t *testing.T) {
	type target struct{ Name string }

	rules := NewSyntaxRules(NodeIdentifier, NodeSelect).WithSetter()
	acl := NewACL().Add(Allow, Pattern{Wildcard: WildcardAllMembers})
	profile := NewProfile("setters", rules, acl, nil, "", nil)
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{
		Profile:        profile.Name,
		Setter:         true,
		Expression:     "t.Name",
		OriginalSource: "t.Name",
	}

	callable, err := NewCache(driver).Get(context.Background(), CompileRequest{
		Profile: profile,
		Def:     def,
		Extra:   map[string]any{"t": &target{}},
	})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ctx := &target{}
	if err := callable.Assign(context.Background(), map[string]any{"t": ctx}, "renamed"); err != nil {
		t.Fatalf("Assign: %v", err)
	}

	if ctx.Name != "renamed" {
		t.Errorf("got %q, want %q", ctx.Name, "renamed")
	}
}

func TestDriver_Compile_SetterMode_RejectedWhenProfileDoesNotPermitAssign(t *testing.T) {
	profile := NewProfile("no-setters", DefaultSyntaxWhitelist(), NewACL(), nil, "", nil)
	driver := NewDriver(log.Logger{})

	def := ExpressionDef{Profile: profile.Name, Setter: true, Expression: "t.Name", OriginalSource: "t.Name"}

	_, err := driver.Compile(context.Background(), CompileRequest{Profile: profile, Def: def})
	if !errors.Is(err, ErrSetterTarget) {
		t.Fatalf("expected ErrSetterTarget, got %v", err)
	}
}

func TestDriver_Compile_DiskCache_HitSkipsRevalidation_MismatchTriggersRecompile(t *testing.T) {
	dir := t.TempDir()

	disk, err := NewDiskCache(dir)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}

	allowProfile := demoProfile(t, []string{"Length"}, nil)
	driver := NewDriver(log.Logger{}).WithDiskCache(disk)

	def := ExpressionDef{Profile: allowProfile.Name, Expression: "g.Length()", OriginalSource: "g.Length()"}

	if _, err := driver.Compile(context.Background(), demoReq(def, allowProfile)); err != nil {
		t.Fatalf("initial compile: %v", err)
	}

	// S5: a profile that would now deny Length still succeeds, because a
	// genuine disk-cache hit (identical ExpressionDef, identical env
	// signatures) skips re-running the syntax/ACL visitors entirely.
	denyProfile := demoProfile(t, nil, []string{"Length"})

	artifact, err := driver.Compile(context.Background(), demoReq(def, denyProfile))
	if err != nil {
		t.Fatalf("expected the disk-cache hit to skip ACL revalidation, got %v", err)
	}

	if artifact.Program == nil {
		t.Fatalf("expected a compiled program from the cache hit")
	}

	// S6: a changed host type changes the env's signatures (a distinct Go
	// type has a distinct reflect.TypeOf(...).String()), so the record no
	// longer validates; recompile runs for real this time, against the
	// current (denying) profile, and must fail since nothing in denyProfile
	// allows the new type's Length method.
	req2 := demoReq(def, denyProfile)
	req2.Extra = map[string]any{"g": demoGreetingV2{Text: "hello"}}

	_, err = driver.Compile(context.Background(), req2)

	var failure *CompilationFailed
	if !errors.As(err, &failure) {
		t.Fatalf("expected recompile against the new signature to re-run ACL validation and fail, got %v", err)
	}
}
