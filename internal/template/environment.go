package template

import (
	"fmt"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Loader resolves a template name to its source text (file, embedded
// asset, or query-engine-backed content cell).
type Loader func(name string) (string, error)

// FilterFunc implements a `| name(args...)` pipeline stage.
type FilterFunc func(target Value, args []Value, kwargs map[string]Value) (Value, error)

// TestFunc implements an `is name(args...)` predicate.
type TestFunc func(target Value, args []Value) (bool, error)

// Environment owns the parsed-template cache and the filter/test
// catalog. The build pipeline creates a fresh Environment for each page
// render. Get fills the parsed-template cache without locking, so one
// Environment is not safe for concurrent renders.
type Environment struct {
	load      Loader
	templates map[string]*Template
	filters   map[string]FilterFunc
	tests     map[string]TestFunc
	globals   map[string]Value
}

// NewEnvironment builds an Environment with the built-in filter/test
// catalog already registered (spec.md §4.H built-ins); callers add more
// via RegisterFilter/RegisterTest.
func NewEnvironment(load Loader) *Environment {
	env := &Environment{
		load:      load,
		templates: make(map[string]*Template),
		filters:   make(map[string]FilterFunc),
		tests:     make(map[string]TestFunc),
		globals:   make(map[string]Value),
	}
	registerBuiltinFilters(env)
	registerBuiltinTests(env)
	return env
}

func (env *Environment) RegisterFilter(name string, fn FilterFunc) { env.filters[name] = fn }
func (env *Environment) RegisterTest(name string, fn TestFunc)     { env.tests[name] = fn }
func (env *Environment) SetGlobal(name string, v Value)            { env.globals[name] = v }

// Get returns a parsed template, parsing and caching it on first use.
func (env *Environment) Get(name string) (*Template, error) {
	if t, ok := env.templates[name]; ok {
		return t, nil
	}
	src, err := env.load(name)
	if err != nil {
		return nil, dodecaerr.Wrap(dodecaerr.Lookup, err, fmt.Sprintf("template %q not found", name))
	}
	t, err := Parse(name, src)
	if err != nil {
		return nil, err
	}
	env.templates[name] = t
	return t, nil
}

// chain returns [root, ..., leaf] by following Extends links, leaf last.
func (env *Environment) chain(t *Template) ([]*Template, error) {
	chain := []*Template{t}
	cur := t
	seen := map[string]bool{t.Name: true}
	for cur.Extends != "" {
		parent, err := env.Get(cur.Extends)
		if err != nil {
			return nil, err
		}
		if seen[parent.Name] {
			return nil, dodecaerr.New(dodecaerr.Input, fmt.Sprintf("template inheritance cycle at %q", parent.Name))
		}
		seen[parent.Name] = true
		chain = append([]*Template{parent}, chain...)
		cur = parent
	}
	return chain, nil
}

// resolveBlock returns the body of `name`, preferring the most-derived
// (last) override in the chain — the inheritance algorithm's "leaf
// wins" rule.
func resolveBlock(chain []*Template, name string) ([]Node, bool) {
	for i := len(chain) - 1; i >= 0; i-- {
		if body, ok := chain[i].Blocks[name]; ok {
			return body, true
		}
	}
	return nil, false
}
