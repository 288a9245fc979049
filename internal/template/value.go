// Package template implements the Jinja-like rendering language
// (spec.md §4.H): lexer, parser, and evaluator for a small expression
// and statement language with template inheritance, macros, and lazy
// values.
package template

import (
	"fmt"
	"sort"
)

// Value is the runtime's universal datum (spec.md §3 Value). Go's `any`
// backs it directly rather than a hand-rolled tagged union: Go already
// gives us type switches and nil-handling for free, and the pack
// consistently prefers plain interfaces over reinvented sum types
// (e.g. the teacher's own `map[string]any` JSON config blobs).
type Value = any

// Lazy defers resolution of a Value until first access (spec.md §4.H
// "Lazy values"). Resolve is called at most once; its result is cached.
type Lazy struct {
	resolve func() (Value, error)
	done    bool
	value   Value
	err     error
}

// NewLazy wraps resolve as a Lazy value.
func NewLazy(resolve func() (Value, error)) *Lazy {
	return &Lazy{resolve: resolve}
}

// Force resolves the lazy value, memoizing the result.
func (l *Lazy) Force() (Value, error) {
	if !l.done {
		l.value, l.err = l.resolve()
		l.done = true
	}
	return l.value, l.err
}

// Safe marks a string as pre-escaped HTML (spec.md §4.H "auto-escapes
// unless the value is flagged safe"). The flag travels with the value,
// not the variable name.
type Safe string

// Force resolves v if it is a *Lazy, otherwise returns it unchanged.
// Any operation that inspects content (print, field access, iteration)
// must call this first.
func Force(v Value) (Value, error) {
	if l, ok := v.(*Lazy); ok {
		return l.Force()
	}
	return v, nil
}

// Truthy implements §4.H's truthiness rule: None, false, 0, and empty
// string/array/object/bytes are false; everything else is true.
func Truthy(v Value) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int:
		return x != 0
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case Safe:
		return x != ""
	case []byte:
		return len(x) != 0
	case []Value:
		return len(x) != 0
	case map[string]Value:
		return len(x) != 0
	default:
		return true
	}
}

// TypeName reports a human name for error messages.
func TypeName(v Value) string {
	switch v.(type) {
	case nil:
		return "none"
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case string, Safe:
		return "string"
	case []byte:
		return "bytes"
	case []Value:
		return "array"
	case map[string]Value:
		return "object"
	case *Lazy:
		return "lazy"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// ToString renders v for `{{ }}` output and string-context operations
// (concat, comparisons). It does not escape — escaping happens once, at
// the final print site, so concatenation of an already-safe value
// doesn't get mangled.
func ToString(v Value) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case Safe:
		return string(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	case []byte:
		return string(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// IsSafe reports whether v is already escaped HTML.
func IsSafe(v Value) bool {
	_, ok := v.(Safe)
	return ok
}

// sortedKeys returns m's keys sorted, for deterministic iteration over
// object values (spec.md §8 "same inputs produce the same dep set" —
// determinism extends to rendering order).
func sortedKeys(m map[string]Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
