package scex

import (
	"errors"
	"log/slog"
	"strings"
)

// Predefined sentinel errors. Callers match against these with errors.Is.
var (
	ErrParseHole          = NewError("unbalanced template hole")
	ErrSetterArity        = NewError("setter template must contain exactly one hole")
	ErrSetterTarget       = NewError("setter expression is not assignable")
	ErrSyntaxForbidden    = NewError("syntactic construct not permitted by profile")
	ErrAccessDenied       = NewError("member access denied by profile ACL")
	ErrTypeCheck          = NewError("expression failed type checking")
	ErrCompilerFailure    = NewError("internal compiler failure")
	ErrIOFailure          = NewError("classfile directory I/O failure")
	ErrSignatureMismatch  = NewError("signature record no longer resolves identically")
	ErrCacheVersion       = NewError("on-disk cache version mismatch")
	ErrUnknownProfile     = NewError("unknown profile")
	ErrNoSuchMember       = NewError("member not found on qualifier type")
)

// Error is the single error type produced by this package. It carries an
// optional wrapped cause and structured attributes for logging, and
// implements slog.LogValuer so a *Error can be logged directly as a group.
type Error struct {
	msg   string
	err   error
	attrs []slog.Attr
}

// NewError creates a root Error with the given message.
func NewError(msg string) *Error {
	return &Error{msg: msg}
}

// WrapError coerces any error into a *Error, unwrapping if it already is one.
func WrapError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return &Error{err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	part := make([]string, 0, 2)

	if e.msg != "" {
		part = append(part, e.msg)
	}

	if e.err != nil {
		part = append(part, e.err.Error())
	}

	return strings.Join(part, ": ")
}

// Unwrap implements error unwrapping for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.err }

// Is implements sentinel matching by message identity, so a *Error created
// fresh (via With/Wrap) still errors.Is against the sentinel it derived
// from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return e.msg != "" && e.msg == t.msg
}

// Wrap returns a copy of e with err attached as the cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{msg: e.msg, err: err, attrs: e.attrs}
}

// With returns a copy of e with additional structured attributes attached.
func (e *Error) With(attrs ...slog.Attr) *Error {
	merged := make([]slog.Attr, len(e.attrs)+len(attrs))
	copy(merged, e.attrs)
	copy(merged[len(e.attrs):], attrs)

	return &Error{msg: e.msg, err: e.err, attrs: merged}
}

// LogValue implements slog.LogValuer.
func (e *Error) LogValue() slog.Value {
	attrs := make([]slog.Attr, 0, len(e.attrs)+2)

	if e.msg != "" {
		attrs = append(attrs, slog.String("error", e.msg))
	}

	if e.err != nil {
		attrs = append(attrs, slog.String("cause", e.err.Error()))
	}

	return slog.GroupValue(append(attrs, e.attrs...)...)
}

// Diagnostic is one compile-time finding, positioned against the original
// (pre-preprocessing) source text per spec §6.
type Diagnostic struct {
	Line    int    // 1-based source line
	Column  int    // 1-based column
	Message string
}

// CompilationFailed aggregates every SyntaxForbidden/AccessDenied diagnostic
// produced while compiling one expression. Parse and type errors are not
// collected here: an unbalanced template hole is returned by Preprocess as
// ErrParseHole, and expr-lang's own parse and type errors are returned as
// ErrTypeCheck.
type CompilationFailed struct {
	Diagnostics []Diagnostic
}

func (e *CompilationFailed) Error() string {
	if len(e.Diagnostics) == 0 {
		return "compilation failed"
	}

	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.Message
	}

	return strings.Join(parts, "; ")
}

// add appends a diagnostic built from a remapped position and message.
func (e *CompilationFailed) add(line, col int, msg string) {
	e.Diagnostics = append(e.Diagnostics, Diagnostic{Line: line, Column: col, Message: msg})
}
