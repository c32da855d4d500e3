// Package scex implements an embedded, sandboxed expression evaluator.
//
// A host application supplies short textual expressions, or string
// templates containing embedded expressions, together with a context type
// describing what is visible to them. scex parses, type-checks, and
// security-validates each expression against a per-profile allow/deny
// policy before compiling it to a cheap, repeatedly invocable callable.
// Compiled callables are cached in memory and, optionally, signed and
// persisted to disk so they survive process restarts.
//
// # Pipeline
//
// One evaluation request travels through:
//
//	Profile + source text
//	    -> Preprocess       (C1: template holes -> one expression + position map)
//	    -> assembleEnv       (C2: build the expr-lang environment for this context)
//	    -> Compile           (C6: parse, validate (C3/C4), compile, cache (C7/C8))
//	    -> Callable.Eval     (hot path, independent of the pipeline above)
//
// # Security model
//
// Every member access an expression performs is checked against the
// profile's [ACL] (C4). Unlisted members are denied by default; ACL entries
// are evaluated in order and the last matching entry wins, so a later
// "deny" shadows an earlier "allow" for the same pattern and vice versa.
//
// # Completion
//
// [Completer] answers IDE-style "what can I type here" queries over the
// same profile and ACL, so suggested completions are always accesses that
// would actually be allowed to compile.
package scex
