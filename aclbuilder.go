package scex

import (
	"reflect"

	"gopkg.in/yaml.v3"
)

// ACLBuilder provides a programmatic API for constructing an ACL from
// allow/deny blocks, mirroring the "allow { on { x: T => x.member } }"
// surface spec §4.5 describes. Hosts embedding scex call Allow/Deny once
// per pattern; the builder assigns the monotonic order itself.
//
// Example:
//
//	b := scex.NewACLBuilder()
//	b.Allow(scex.On[string]().Member("Len"))
//	b.Deny(scex.On[string]().Member("Split"))
//	acl := b.Build()
type ACLBuilder struct {
	acl                  *ACL
	referencesModuleName map[string]bool
}

// NewACLBuilder returns an empty builder.
func NewACLBuilder() *ACLBuilder {
	return &ACLBuilder{acl: NewACL(), referencesModuleName: make(map[string]bool)}
}

// On starts a pattern example bound to type T (the "on { x: T => ... }"
// binder from spec §4.5).
func On[T any]() PatternBuilder {
	var zero T

	t := reflect.TypeOf(zero)
	if t == nil {
		t = reflect.TypeOf((*T)(nil)).Elem()
	}

	return PatternBuilder{p: Pattern{QualifierType: t}}
}

// OnType starts a pattern example bound to an explicit reflect.Type, for
// hosts that only have a runtime type descriptor (e.g. from the reflective
// bridge, spec §6).
func OnType(t reflect.Type) PatternBuilder {
	return PatternBuilder{p: Pattern{QualifierType: t}}
}

// PatternBuilder accumulates the chain of selects/applies captured by one
// "on" example.
type PatternBuilder struct {
	p Pattern
}

// Member names the single symbol this pattern matches.
func (pb PatternBuilder) Member(fullName string) Pattern {
	pb.p.Symbol = fullName

	return pb.p
}

// Plus marks the qualifier type covariant (spec's "@plus").
func (pb PatternBuilder) Plus() PatternBuilder {
	pb.p.Plus = true

	return pb
}

// ViaImplicit restricts the pattern to accesses through the named implicit
// conversion (spec's "implicitlyAs[T].*").
func (pb PatternBuilder) ViaImplicit(conversion, fullName string) Pattern {
	pb.p.ViaImplicit = conversion
	pb.p.Symbol = fullName

	return pb.p
}

// AllMembers is the "all.members" wildcard.
func (pb PatternBuilder) AllMembers() Pattern {
	pb.p.Wildcard = WildcardAllMembers

	return pb.p
}

// AllMembersNamed is the "all.membersNamed(n)" wildcard.
func (pb PatternBuilder) AllMembersNamed(name string) Pattern {
	pb.p.Wildcard = WildcardAllMembersNamed
	pb.p.MemberName = name

	return pb.p
}

// AllConstructors is the "all.constructors" wildcard.
func (pb PatternBuilder) AllConstructors() Pattern {
	pb.p.Wildcard = WildcardAllConstructors

	return pb.p
}

// AllStaticMembers is the "allStatic[T].members" wildcard.
func (pb PatternBuilder) AllStaticMembers() Pattern {
	pb.p.Wildcard = WildcardAllStaticMembers

	return pb.p
}

// Allow adds pattern as an allow entry.
func (b *ACLBuilder) Allow(pattern Pattern) *ACLBuilder {
	b.acl.Add(Allow, pattern)
	b.trackModule(pattern)

	return b
}

// Deny adds pattern as a deny entry.
func (b *ACLBuilder) Deny(pattern Pattern) *ACLBuilder {
	b.acl.Add(Deny, pattern)
	b.trackModule(pattern)

	return b
}

// trackModule sets the "referencesModuleMember" completer flag (spec §4.5)
// whenever an entry names a module member directly (qualifier type nil,
// i.e. a bare top-level/static-module symbol).
func (b *ACLBuilder) trackModule(p Pattern) {
	if p.QualifierType == nil && p.Symbol != "" {
		b.referencesModuleName[p.Symbol] = true
	}
}

// ReferencesModuleMember reports whether any entry added so far names
// fullName as a module member.
func (b *ACLBuilder) ReferencesModuleMember(fullName string) bool {
	return b.referencesModuleName[fullName]
}

// Build finalizes the ACL. The builder remains usable afterward; further
// Allow/Deny calls continue appending (order is monotonic for the
// builder's lifetime, not just per Build call).
func (b *ACLBuilder) Build() *ACL {
	return b.acl
}

// --- YAML declarative form (SPEC_FULL.md §1 Configuration) ---------------

// aclDocument is the YAML shape a host-authored "*.profile.yaml" ACL
// section decodes into.
type aclDocument struct {
	Allow []patternDocument `yaml:"allow"`
	Deny  []patternDocument `yaml:"deny"`
}

type patternDocument struct {
	Type        string `yaml:"type"` // resolved via a caller-supplied type registry
	Plus        bool   `yaml:"plus"`
	Member      string `yaml:"member"`
	ViaImplicit string `yaml:"viaImplicit"`
	Wildcard    string `yaml:"wildcard"` // "members" | "membersNamed" | "constructors" | "static"
	Named       string `yaml:"named"`    // argument to membersNamed
}

// TypeRegistry resolves the "type:" field of a YAML pattern document to a
// reflect.Type, since YAML has no notion of a host's Go types.
type TypeRegistry map[string]reflect.Type

// DecodeACLYAML parses a YAML ACL document (the "allow:"/"deny:" lists
// produced by the ACL builder DSL's declarative form) using types to
// resolve qualifier type names.
func DecodeACLYAML(data []byte, types TypeRegistry) (*ACL, error) {
	var doc aclDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ErrCompilerFailure.Wrap(err)
	}

	return decodeACLDocument(doc, types)
}

func (pd patternDocument) toPattern(types TypeRegistry) (Pattern, error) {
	var qualifier reflect.Type

	if pd.Type != "" {
		t, ok := types[pd.Type]
		if !ok {
			return Pattern{}, ErrUnknownProfile.With(attrString("type", pd.Type))
		}

		qualifier = t
	}

	p := Pattern{QualifierType: qualifier, Plus: pd.Plus, Symbol: pd.Member, ViaImplicit: pd.ViaImplicit}

	switch pd.Wildcard {
	case "":
	case "members":
		p.Wildcard = WildcardAllMembers
	case "membersNamed":
		p.Wildcard = WildcardAllMembersNamed
		p.MemberName = pd.Named
	case "constructors":
		p.Wildcard = WildcardAllConstructors
	case "static":
		p.Wildcard = WildcardAllStaticMembers
	default:
		return Pattern{}, ErrUnknownProfile.With(attrString("wildcard", pd.Wildcard))
	}

	return p, nil
}
