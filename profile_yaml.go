package scex

import (
	"gopkg.in/yaml.v3"
)

// --- Declarative profile YAML (SPEC_FULL.md §1 Configuration) -------------
//
// LoadProfileYAML lets a host check a profile's allow/deny lists, syntax
// whitelist, header, utilities, and completer attributes into source
// control as a single "*.profile.yaml" file instead of wiring an
// ExpressionProfile together by hand with NewProfile. Grounded on the same
// gopkg.in/yaml.v3 declarative pattern DecodeACLYAML already uses for the
// ACL section alone.

// profileDocument is the top-level shape of a "*.profile.yaml" file.
type profileDocument struct {
	Name       string              `yaml:"name"`
	Syntax     []string            `yaml:"syntax"` // node-kind names; omit for DefaultSyntaxWhitelist
	Setter     bool                `yaml:"setter"` // permit NodeAssign at top level
	ACL        aclDocument         `yaml:"acl"`
	Header     string              `yaml:"header"`
	Utilities  *utilityDocument    `yaml:"utilities"`
	Attributes []attributeDocument `yaml:"attributes"`
}

type utilityDocument struct {
	Name   string `yaml:"name"`
	Source string `yaml:"source"`
}

type attributeDocument struct {
	FullName       string   `yaml:"fullName"`
	Doc            string   `yaml:"doc"`
	ParameterNames []string `yaml:"parameterNames"`
}

// LoadProfileYAML parses a declarative profile document and builds the
// ExpressionProfile it describes, resolving the "acl.allow[].type"/
// "acl.deny[].type" names against types (no other section refers to
// types). A missing "syntax:" block falls back to [DefaultSyntaxWhitelist];
// NewProfile itself has no such default and permits exactly the rules it
// is given.
func LoadProfileYAML(data []byte, types TypeRegistry) (*ExpressionProfile, error) {
	var doc profileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ErrCompilerFailure.Wrap(err)
	}

	syntax, err := decodeSyntaxRules(doc.Syntax, doc.Setter)
	if err != nil {
		return nil, err
	}

	acl, err := decodeACLDocument(doc.ACL, types)
	if err != nil {
		return nil, err
	}

	var utilities *Utility
	if doc.Utilities != nil {
		utilities = &Utility{Name: doc.Utilities.Name, Source: doc.Utilities.Source}
	}

	attrs := make([]SymbolAttribute, len(doc.Attributes))
	for i, a := range doc.Attributes {
		attrs[i] = SymbolAttribute{
			FullName:       a.FullName,
			Doc:            a.Doc,
			ParameterNames: a.ParameterNames,
		}
	}

	return NewProfile(doc.Name, syntax, acl, NewSymbolAttributeTable(attrs...), doc.Header, utilities), nil
}

// decodeSyntaxRules resolves a list of node-kind names to a SyntaxRules,
// defaulting to DefaultSyntaxWhitelist when kinds is empty so an omitted
// "syntax:" block yields the recommended default set.
func decodeSyntaxRules(kinds []string, setter bool) (SyntaxRules, error) {
	if len(kinds) == 0 {
		rules := DefaultSyntaxWhitelist()
		if setter {
			rules = rules.WithSetter()
		}

		return rules, nil
	}

	parsed := make([]NodeKind, 0, len(kinds))

	for _, name := range kinds {
		kind, ok := parseNodeKind(name)
		if !ok {
			return SyntaxRules{}, ErrUnknownProfile.With(attrString("syntax", name))
		}

		parsed = append(parsed, kind)
	}

	rules := NewSyntaxRules(parsed...)
	if setter {
		rules = rules.WithSetter()
	}

	return rules, nil
}

// decodeACLDocument is DecodeACLYAML's pattern-building half, reused here so
// a profile document's embedded "acl:" block doesn't need its own
// yaml.Unmarshal pass.
func decodeACLDocument(doc aclDocument, types TypeRegistry) (*ACL, error) {
	b := NewACLBuilder()

	for _, pd := range doc.Allow {
		p, err := pd.toPattern(types)
		if err != nil {
			return nil, err
		}

		b.Allow(p)
	}

	for _, pd := range doc.Deny {
		p, err := pd.toPattern(types)
		if err != nil {
			return nil, err
		}

		b.Deny(p)
	}

	return b.Build(), nil
}
