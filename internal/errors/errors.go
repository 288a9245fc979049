// Package errors defines the error kinds shared across the engine (§7).
// Kinds are semantic, not Go types with distinct layouts: every engine
// error is a *Error carrying a Kind, so dependents can switch on Kind
// without type-asserting through package boundaries.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for propagation and recovery policy.
type Kind int

const (
	// Input covers malformed markdown, template parse errors, bad frontmatter.
	Input Kind = iota
	// Lookup covers unknown filter/test/macro/variable/field/route.
	Lookup
	// Type covers a value used incompatibly (e.g. iterating a number).
	Type
	// Transient covers I/O failure, closed sessions, rate limiting. Never cached.
	Transient
	// Resource covers slot exhaustion, full peer tables, output size limits.
	Resource
	// Protocol covers corrupt frames, unknown methods, orphan responses.
	Protocol
	// Internal covers invariant violations in the core, e.g. query cycles.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Input:
		return "input"
	case Lookup:
		return "lookup"
	case Type:
		return "type"
	case Transient:
		return "transient"
	case Resource:
		return "resource"
	case Protocol:
		return "protocol"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Span locates an error in source text.
type Span struct {
	Source string // logical source name, e.g. a file path or template name
	Offset int    // byte offset into Source's text
	Length int    // byte length of the offending range
	Line   int    // 1-based line number, 0 if unknown
	Column int    // 1-based column number, 0 if unknown
}

// Error is the engine-wide error value. Every subsystem wraps failures
// in an *Error so callers can branch on Kind without caring which
// package produced it.
type Error struct {
	Kind         Kind
	Message      string
	Span         *Span    // optional: where in source this occurred
	Alternatives []string // optional: ranked suggestions for Lookup errors
	Help         string   // optional: one-line remediation hint
	Cause        error
}

func (e *Error) Error() string {
	if e.Span != nil {
		return fmt.Sprintf("%s: %s (%s:%d:%d)", e.Kind, e.Message, e.Span.Source, e.Span.Line, e.Span.Column)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of the given kind, preserving cause for errors.Unwrap.
func Wrap(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithSpan attaches a source span and returns the same *Error for chaining.
func (e *Error) WithSpan(span Span) *Error {
	e.Span = &span
	return e
}

// WithHelp attaches a remediation hint and returns the same *Error for chaining.
func (e *Error) WithHelp(help string) *Error {
	e.Help = help
	return e
}

// WithAlternatives attaches ranked suggestions (for Lookup errors) and
// returns the same *Error for chaining.
func (e *Error) WithAlternatives(alts []string) *Error {
	e.Alternatives = alts
	return e
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
// Unrecognized errors are reported as Internal, since an un-kinded failure
// reaching the top of the stack is itself a gap in error classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsTransient reports whether err should be retried on the next revision
// rather than cached as a permanent failure.
func IsTransient(err error) bool {
	return KindOf(err) == Transient
}

// DepError wraps an error produced by a dependency query, so a dependent
// can distinguish "my own computation failed" from "a dependency failed".
type DepError struct {
	Key   string
	Cause error
}

func (e *DepError) Error() string {
	return fmt.Sprintf("dependency %q failed: %v", e.Key, e.Cause)
}

func (e *DepError) Unwrap() error { return e.Cause }
