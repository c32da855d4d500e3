package scex

import (
	"errors"
	"testing"
)

func TestPreprocess_ExpressionMode_PassesThrough(t *testing.T) {
	pre, err := Preprocess(`1 + 2`, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pre.Source != `1 + 2` {
		t.Errorf("expected source unchanged, got %q", pre.Source)
	}

	if pre.Template {
		t.Errorf("expected Template=false")
	}
}

func TestPreprocess_SoleHole_UnwrapsToExpression(t *testing.T) {
	pre, err := Preprocess(`${1 + 2}`, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pre.Source != `1 + 2` {
		t.Errorf("expected unwrapped hole, got %q", pre.Source)
	}
}

func TestPreprocess_TemplateMode_Concatenates(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"literal only", "hello", `"hello"`},
		{"two holes mid text", "x=${1+2}, y=${3*4}", `"x=" + string(1+2) + ", y=" + string(3*4)`},
		{"leading hole", "${a}b", `string(a) + "b"`},
		{"empty", "", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pre, err := Preprocess(tt.input, true)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if pre.Source != tt.want {
				t.Errorf("expected %q, got %q", tt.want, pre.Source)
			}
		})
	}
}

func TestPreprocess_EscapedDollar_IsLiteral(t *testing.T) {
	pre, err := Preprocess(`\$5 and ${1}`, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pre.Source != `"$5 and " + string(1)` {
		t.Errorf("got %q", pre.Source)
	}
}

func TestPreprocess_UnbalancedHole_ReturnsErrParseHole(t *testing.T) {
	_, err := Preprocess(`hello ${1 + `, true)
	if err == nil {
		t.Fatalf("expected error")
	}

	if !errors.Is(err, ErrParseHole) {
		t.Errorf("expected ErrParseHole, got %v", err)
	}
}

func TestValidateSetterTemplate_AdjacentHoles_RejectsArity(t *testing.T) {
	pre, err := Preprocess(`${x}${y}`, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pre.HoleCount != 2 {
		t.Fatalf("expected HoleCount=2 for two adjacent holes, got %d", pre.HoleCount)
	}

	if err := validateSetterTemplate(pre); !errors.Is(err, ErrSetterArity) {
		t.Errorf("expected ErrSetterArity for two adjacent holes, got %v", err)
	}
}

func TestValidateSetterTemplate_HoleWithSurroundingLiteral_RejectsArity(t *testing.T) {
	pre, err := Preprocess(`x=${y}`, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pre.HoleCount != 1 {
		t.Fatalf("expected HoleCount=1, got %d", pre.HoleCount)
	}

	if err := validateSetterTemplate(pre); !errors.Is(err, ErrSetterArity) {
		t.Errorf("expected ErrSetterArity for a hole with surrounding literal text, got %v", err)
	}
}

func TestValidateSetterTemplate_SoleHole_Accepted(t *testing.T) {
	pre, err := Preprocess(`${ctx.Name}`, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := validateSetterTemplate(pre); err != nil {
		t.Errorf("expected a sole hole to pass arity validation, got %v", err)
	}
}

func TestRemapPosition_SingleLineTemplate_RecoversOriginalColumn(t *testing.T) {
	pre, err := Preprocess("x=${1+2}", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// pre.Source is `"x=" + string(1+2)`; the "1" inside the parens is at
	// column 15 there and at column 5 in the original template.
	line, col := pre.RemapPosition(1, 15)
	if line != 1 {
		t.Errorf("expected line 1, got %d", line)
	}

	if col != 5 {
		t.Errorf("expected column 5, got %d", col)
	}
}

