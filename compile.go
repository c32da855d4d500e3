package scex

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/goszjacek/scex/log"
)

// driverMu serializes access to expr-lang's compile pipeline, per spec
// §4.6/§5 ("the driver must serialize access to the underlying compiler
// instance: it is assumed single-threaded"). Cache reads, callable
// invocation, and ACL pattern matching against pre-built ACLs happen
// without this lock (spec §5); only the parse/check/compile sequence does.
var driverMu sync.Mutex

// Driver is the C6 code generator & compiler driver. It owns the shared
// lock around expr-lang and the logger used to trace every stage.
type Driver struct {
	Logger log.Logger

	// Disk, if non-nil, is consulted before every compile and updated after
	// every successful one (C8, spec §4.8).
	Disk *DiskCache
}

// NewDriver returns a Driver with the given logger (zero-valued discards
// all trace output, matching the teacher's WithLogger default).
func NewDriver(logger log.Logger) *Driver {
	return &Driver{Logger: logger}
}

// WithDiskCache attaches an on-disk signature cache to d.
func (d *Driver) WithDiskCache(disk *DiskCache) *Driver {
	d.Disk = disk

	return d
}

// CompileRequest bundles everything C2 needs to assemble an environment
// and C6 needs to drive the compile.
type CompileRequest struct {
	Profile     *ExpressionProfile
	Def         ExpressionDef
	ContextType reflect.Type
	Extra       map[string]any // additional free variables beyond ContextType's fields
}

// Artifact is a compiled callable plus its recorded signatures (C8), and,
// for a setter-mode compile, the field/index path its expression names
// (spec §4.6, GLOSSARY "setter mode").
type Artifact struct {
	Program      *vm.Program
	Signatures   []SignatureRecord
	AssignTarget *AssignTarget
}

// Compile assembles the environment (C2), installs the syntax (C3) and
// access-control (C4) visitors as expr-lang patch hooks, and drives the
// expr-lang compiler (C6) under the shared lock. On success it also
// computes the signature record set for C8.
func (d *Driver) Compile(ctx context.Context, req CompileRequest) (*Artifact, error) {
	d.Logger.DebugContext(ctx, "compile start",
		slog.String("profile", req.Def.Profile),
		slog.Bool("template", req.Def.Template),
		slog.Bool("setter", req.Def.Setter),
	)

	pre, err := Preprocess(req.Def.OriginalSource, req.Def.Template)
	if err != nil {
		return nil, err
	}

	req.Def.Positions = pre

	if req.Def.Setter {
		if !req.Profile.Syntax.Permits(NodeAssign) {
			return nil, ErrSetterTarget.With(attrString("profile", req.Profile.Name))
		}

		if err := validateSetterTemplate(pre); err != nil {
			return nil, err
		}
	}

	env, err := d.assembleEnv(ctx, req)
	if err != nil {
		return nil, err
	}

	if d.Disk != nil {
		if artifact, hit := d.tryDiskCache(ctx, req, env); hit {
			return artifact, nil
		}
	}

	failure := &CompilationFailed{}
	syn := &syntaxVisitor{rules: req.Profile.Syntax, source: pre, diagnostics: failure}
	acc := &accessVisitor{acl: req.Profile.ACL, source: pre, diagnostics: failure}

	driverMu.Lock()
	program, compileErr := expr.Compile(
		pre.Source,
		expr.Env(env),
		expr.Patch(syn),
		expr.Patch(acc),
		expr.AllowUndefinedVariables(),
	)
	driverMu.Unlock()

	if len(failure.Diagnostics) > 0 {
		d.Logger.DebugContext(ctx, "compile rejected",
			slog.Int("diagnostic_count", len(failure.Diagnostics)))

		return nil, failure
	}

	if compileErr != nil {
		d.Logger.DebugContext(ctx, "compile type error", slog.String("error", compileErr.Error()))

		return nil, ErrTypeCheck.Wrap(compileErr)
	}

	sigs := computeSignatures(env)

	d.Logger.DebugContext(ctx, "compile ok", slog.Int("signature_count", len(sigs)))

	if d.Disk != nil {
		if err := d.Disk.Store(req.Def, pre.Source, sigs); err != nil {
			d.Logger.WarnContext(ctx, "disk cache store failed", slog.Any("error", err))
		}
	}

	var target *AssignTarget

	if req.Def.Setter {
		t, err := resolveAssignTarget(pre.Source, req.Profile.Syntax)
		if err != nil {
			return nil, err
		}

		target = &t
	}

	return &Artifact{Program: program, Signatures: sigs, AssignTarget: target}, nil
}

// tryDiskCache consults the on-disk signature cache (C8, spec §8 property
// 6 / S5-S6): if def's retained source and recorded signatures are
// present and every signature still resolves identically against env,
// the retained source is recompiled without re-running the syntax/ACL
// visitors (already proven sound when the record was written) and
// returned directly, skipping C3/C4/C6's diagnostic bookkeeping.
func (d *Driver) tryDiskCache(ctx context.Context, req CompileRequest, env map[string]any) (*Artifact, bool) {
	source, sigs, ok, err := d.Disk.Load(req.Def)
	if err != nil || !ok {
		return nil, false
	}

	if !StillValid(sigs, DefaultResolver(env)) {
		d.Logger.DebugContext(ctx, "disk cache signature mismatch, recompiling", slog.String("key", req.Def.Key()))
		return nil, false
	}

	driverMu.Lock()
	program, err := expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
	driverMu.Unlock()

	if err != nil {
		return nil, false
	}

	var target *AssignTarget

	if req.Def.Setter {
		t, err := resolveAssignTarget(source, req.Profile.Syntax)
		if err != nil {
			d.Logger.DebugContext(ctx, "disk cache setter target no longer resolves, recompiling", slog.String("key", req.Def.Key()))
			return nil, false
		}

		target = &t
	}

	d.Logger.DebugContext(ctx, "disk cache hit", slog.String("key", req.Def.Key()))

	return &Artifact{Program: program, Signatures: sigs, AssignTarget: target}, true
}

// assembleEnv builds the expr.Env map for one request: the context type's
// exported fields, the def's declared variables, any extra free variables
// (later sources win on a name clash), and the profile's header/utilities
// symbols (compiled at most once per profile, invariant 4).
func (d *Driver) assembleEnv(ctx context.Context, req CompileRequest) (map[string]any, error) {
	env := make(map[string]any, len(req.Def.Variables)+len(req.Extra)+4)

	for _, v := range NamedTypesFromContext(req.ContextType) {
		env[v.Name] = typeExemplar(v.Type)
	}

	for _, v := range req.Def.Variables {
		env[v.Name] = typeExemplar(v.Type)
	}

	for k, v := range req.Extra {
		env[k] = v
	}

	header, err := d.compileProfileHeader(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	for k, v := range header {
		if _, exists := env[k]; !exists {
			env[k] = v
		}
	}

	d.Logger.TraceContext(ctx, "assembled env", slog.Any("env_keys", sortedKeys(env)))

	return env, nil
}

// compileProfileHeader compiles profile.Header and profile.Utilities
// exactly once for the lifetime of the profile value (invariant 4),
// ground: teacher's envCacheOnce / sync.Once singleton pattern.
func (d *Driver) compileProfileHeader(ctx context.Context, profile *ExpressionProfile) (map[string]any, error) {
	return profile.compiledHeader(func() (map[string]any, error) {
		out := make(map[string]any)

		for name, src := range map[string]string{"header": profile.Header, "utilities": utilitySource(profile.Utilities)} {
			if src == "" {
				continue
			}

			driverMu.Lock()
			program, err := expr.Compile(src, expr.AllowUndefinedVariables())
			driverMu.Unlock()

			if err != nil {
				return nil, ErrCompilerFailure.Wrap(err).With(attrString("block", name))
			}

			out2, err := expr.Run(program, map[string]any{})
			if err != nil {
				return nil, ErrCompilerFailure.Wrap(err).With(attrString("block", name))
			}

			if m, ok := out2.(map[string]any); ok {
				for k, v := range m {
					out[k] = v
				}
			}
		}

		d.Logger.TraceContext(ctx, "profile header compiled",
			slog.String("profile", profile.Name), slog.Int("symbol_count", len(out)))

		return out, nil
	})
}

func utilitySource(u *Utility) string {
	if u == nil {
		return ""
	}

	return u.Source
}

// typeExemplar maps a textual type representation to a Go zero-value
// exemplar for expr-lang's type checker, mirroring the teacher's
// inferTypeExemplar. Unrecognized names degrade to untyped any, which
// expr-lang treats as "unknown, check at runtime" via
// AllowUndefinedVariables/any typing — acceptable since the host's real
// reflective type bridge (spec §6) supplies concrete types in production.
func typeExemplar(typeName string) any {
	switch typeName {
	case "string":
		return ""
	case "bool":
		return false
	case "int", "int64":
		return int64(0)
	case "float64":
		return float64(0)
	default:
		return any(nil)
	}
}

// validateSetterTemplate enforces "a setter template must contain exactly
// one hole, pointing at an assignable expression" (spec §4.1). Arity is
// checked directly against HoleCount; a lone hole with surrounding
// literal text (e.g. "x=${y}") would concatenate to a string and could
// never be an assignable target, so it must also have taken the
// sole-hole fast path (no offset marks) rather than assembleConcat's
// general path. The assignable-target half of this check — is the hole's
// expression itself a selectable path, not a call or literal — is
// completed by resolveAssignTarget at compile time (NodeAssign only
// permitted in setter mode).
func validateSetterTemplate(pre *Preprocessed) error {
	if !pre.Template {
		return nil
	}

	if pre.HoleCount != 1 || len(pre.offsets) != 0 {
		return ErrSetterArity
	}

	return nil
}
