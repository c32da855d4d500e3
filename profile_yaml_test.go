package scex

import (
	"testing"
)

func TestLoadProfileYAML_BuildsProfileFromDocument(t *testing.T) {
	types := TypeRegistry{"string": stringType}

	doc := []byte(`
name: greeter
syntax: [identifier, literal, select, call]
setter: false
acl:
  allow:
    - type: string
      member: string.Len
  deny:
    - type: string
      member: string.Split
header: "let greeting = \"hi\""
utilities:
  name: util
  source: "let shout = upper"
attributes:
  - fullName: string.Len
    doc: "length of the string"
    parameterNames: []
`)

	profile, err := LoadProfileYAML(doc, types)
	if err != nil {
		t.Fatalf("LoadProfileYAML: %v", err)
	}

	if profile.Name != "greeter" {
		t.Errorf("Name = %q, want %q", profile.Name, "greeter")
	}

	if !profile.Syntax.Permits(NodeCall) {
		t.Errorf("expected NodeCall to be permitted")
	}

	if profile.Syntax.Permits(NodeBinary) {
		t.Errorf("expected NodeBinary to be forbidden (not listed)")
	}

	policy, matched := profile.ACL.Decide(AccessCandidate{QualifierType: stringType, Symbol: "string.Len"})
	if !matched || policy != Allow {
		t.Fatalf("expected string.Len to be allowed, got matched=%v policy=%v", matched, policy)
	}

	if profile.Header == "" {
		t.Errorf("expected header to be populated")
	}

	if profile.Utilities == nil || profile.Utilities.Name != "util" {
		t.Fatalf("expected utilities block named %q", "util")
	}

	attr, ok := profile.Attributes.Lookup("string.Len")
	if !ok {
		t.Fatalf("expected an attribute for string.Len")
	}

	if attr.Doc != "length of the string" {
		t.Errorf("Doc = %q, want %q", attr.Doc, "length of the string")
	}
}

func TestLoadProfileYAML_OmittedSyntax_UsesDefaultWhitelist(t *testing.T) {
	profile, err := LoadProfileYAML([]byte(`name: bare`), nil)
	if err != nil {
		t.Fatalf("LoadProfileYAML: %v", err)
	}

	want := DefaultSyntaxWhitelist()
	for kind := NodeIdentifier; kind <= NodeVariable; kind++ {
		if profile.Syntax.Permits(kind) != want.Permits(kind) {
			t.Errorf("kind %v: permitted=%v, want %v", kind, profile.Syntax.Permits(kind), want.Permits(kind))
		}
	}
}

func TestLoadProfileYAML_UnknownSyntaxKind_ReturnsError(t *testing.T) {
	_, err := LoadProfileYAML([]byte(`
name: bad
syntax: [identifier, nonsense]
`), nil)
	if err == nil {
		t.Fatalf("expected an error for an unrecognized syntax kind")
	}
}

func TestLoadProfileYAML_SetterTrue_PermitsAssign(t *testing.T) {
	profile, err := LoadProfileYAML([]byte(`
name: setter
syntax: [identifier, select]
setter: true
`), nil)
	if err != nil {
		t.Fatalf("LoadProfileYAML: %v", err)
	}

	if !profile.Syntax.Permits(NodeAssign) {
		t.Errorf("expected setter: true to permit NodeAssign")
	}
}

func TestDecodeACLYAML_UnknownType_ReturnsError(t *testing.T) {
	_, err := DecodeACLYAML([]byte(`
allow:
  - type: missing
    member: x.Y
`), TypeRegistry{})
	if err == nil {
		t.Fatalf("expected an error for an unregistered type name")
	}
}
