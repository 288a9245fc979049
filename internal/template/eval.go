package template

import (
	"fmt"
	"html"
	"strings"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// breakSignal and continueSignal unwind exactly one enclosing for-loop;
// they are plain sentinel errors rather than panics, since every eval
// function already threads error returns and this keeps control flow
// inspectable without a recover().
type breakSignal struct{}
type continueSignal struct{}

func (breakSignal) Error() string    { return "break outside a loop" }
func (continueSignal) Error() string { return "continue outside a loop" }

// macroValue is a macro bound to the scope it was defined in, so it can
// see the variables visible at its `{% macro %}` site. definingMacros
// is that same site's macro table, so that while the macro's body is
// running, `self::` refers to its own namespace's siblings rather than
// whichever namespace happened to be calling it (spec.md §4.H macro
// rule 5, §9).
type macroValue struct {
	name           string
	params         []MacroParam
	body           []Node
	closure        *scope
	definingMacros map[string]*macroValue
}

type renderState struct {
	env        *Environment
	chain      []*Template
	out        *strings.Builder
	selfMacros map[string]*macroValue
}

// Render executes `name` against data, resolving its extends chain and
// rendering the root ancestor's body with block overrides from more
// derived templates substituted in (spec.md §4.H inheritance algorithm).
func (env *Environment) Render(name string, data map[string]Value) (string, error) {
	t, err := env.Get(name)
	if err != nil {
		return "", err
	}
	chain, err := env.chain(t)
	if err != nil {
		return "", err
	}

	rs := &renderState{env: env, chain: chain, out: &strings.Builder{}, selfMacros: make(map[string]*macroValue)}
	root := newScope(nil)
	for k, v := range env.globals {
		root.define(k, v)
	}
	for k, v := range data {
		root.define(k, v)
	}

	// Collect macro definitions from every template in the chain first,
	// so a parent's block can call a macro defined in a child and vice
	// versa (self:: sees the whole chain, not just one file).
	for _, tpl := range chain {
		collectMacros(tpl.Body, rs, root)
	}

	// The root ancestor supplies the page's overall structure; every
	// Block node it contains is resolved against the most-derived
	// override in the chain (see evalNode's *Block case). A template
	// with no Extends is its own root, so this also covers that case.
	base := chain[0]
	if err := rs.evalNodes(base.Body, root); err != nil {
		return "", err
	}
	return rs.out.String(), nil
}

func collectMacros(nodes []Node, rs *renderState, sc *scope) {
	for _, n := range nodes {
		switch x := n.(type) {
		case *Macro:
			rs.selfMacros[x.Name] = &macroValue{name: x.Name, params: x.Params, body: x.Body, closure: sc, definingMacros: rs.selfMacros}
		case *Block:
			collectMacros(x.Body, rs, sc)
		case *If:
			for _, br := range x.Branches {
				collectMacros(br.Body, rs, sc)
			}
		case *For:
			collectMacros(x.Body, rs, sc)
			collectMacros(x.ElseBody, rs, sc)
		}
	}
}

func (rs *renderState) evalNodes(nodes []Node, sc *scope) error {
	for _, n := range nodes {
		if err := rs.evalNode(n, sc); err != nil {
			return err
		}
	}
	return nil
}

func (rs *renderState) evalNode(n Node, sc *scope) error {
	switch x := n.(type) {
	case *RawText:
		rs.out.WriteString(x.Text)
		return nil

	case *Print:
		v, err := rs.evalExpr(x.Expr, sc)
		if err != nil {
			return err
		}
		rs.writeEscaped(v)
		return nil

	case *If:
		for _, br := range x.Branches {
			if br.Cond == nil {
				return rs.evalNodes(br.Body, sc)
			}
			v, err := rs.evalExpr(br.Cond, sc)
			if err != nil {
				return err
			}
			if Truthy(v) {
				return rs.evalNodes(br.Body, sc)
			}
		}
		return nil

	case *For:
		return rs.evalFor(x, sc)

	case *Set:
		v, err := rs.evalExpr(x.Expr, sc)
		if err != nil {
			return err
		}
		sc.set(x.Name, v)
		return nil

	case *Block:
		body, ok := resolveBlock(rs.chain, x.Name)
		if !ok {
			body = x.Body
		}
		return rs.evalNodes(body, newScope(sc))

	case *Include:
		name, err := rs.evalExpr(x.Name, sc)
		if err != nil {
			return err
		}
		return rs.evalInclude(ToString(name), sc)

	case *Import:
		ns, err := rs.buildImportNamespace(x.Name)
		if err != nil {
			return err
		}
		sc.define(x.Namespace, ns)
		return nil

	case *Macro:
		// Already hoisted by collectMacros; nothing to do at the node's
		// own position in the body (macros don't emit output in place).
		return nil

	case *Call:
		_, err := rs.evalExpr(x.Expr, sc)
		return err

	case *Continue:
		return continueSignal{}

	case *Break:
		return breakSignal{}

	default:
		return dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("unhandled node type %T", n)).WithSpan(n.Span())
	}
}

func (rs *renderState) evalFor(x *For, sc *scope) error {
	iterVal, err := rs.evalExpr(x.Iter, sc)
	if err != nil {
		return err
	}
	iterVal, err = Force(iterVal)
	if err != nil {
		return err
	}

	type item struct {
		key string
		val Value
	}
	var items []item
	switch v := iterVal.(type) {
	case []Value:
		for _, e := range v {
			items = append(items, item{val: e})
		}
	case map[string]Value:
		for _, k := range sortedKeys(v) {
			items = append(items, item{key: k, val: v[k]})
		}
	case nil:
		// zero items, falls through to else-body below
	default:
		return dodecaerr.New(dodecaerr.Type, fmt.Sprintf("cannot iterate over %s", TypeName(v))).WithSpan(x.Span())
	}

	if len(items) == 0 {
		return rs.evalNodes(x.ElseBody, sc)
	}

	for i, it := range items {
		loopSc := newScope(sc)
		loopSc.define(x.VarName, it.val)
		if x.KeyName != "" {
			loopSc.define(x.KeyName, it.key)
		}
		loopSc.define("loop", map[string]Value{
			"index":  i + 1,
			"index0": i,
			"first":  i == 0,
			"last":   i == len(items)-1,
			"length": len(items),
		})
		err := rs.evalNodes(x.Body, loopSc)
		if _, ok := err.(continueSignal); ok {
			continue
		}
		if _, ok := err.(breakSignal); ok {
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (rs *renderState) evalInclude(name string, sc *scope) error {
	t, err := rs.env.Get(name)
	if err != nil {
		return err
	}
	chain, err := rs.env.chain(t)
	if err != nil {
		return err
	}
	sub := &renderState{env: rs.env, chain: chain, out: rs.out, selfMacros: make(map[string]*macroValue)}
	for _, tpl := range chain {
		collectMacros(tpl.Body, sub, sc)
	}
	return sub.evalNodes(chain[0].Body, newScope(sc))
}

func (rs *renderState) buildImportNamespace(name string) (map[string]Value, error) {
	t, err := rs.env.Get(name)
	if err != nil {
		return nil, err
	}
	tmp := &renderState{env: rs.env, chain: []*Template{t}, out: &strings.Builder{}, selfMacros: make(map[string]*macroValue)}
	root := newScope(nil)
	collectMacros(t.Body, tmp, root)
	ns := make(map[string]Value, len(tmp.selfMacros))
	for name, m := range tmp.selfMacros {
		ns[name] = m
	}
	return ns, nil
}

func (rs *renderState) writeEscaped(v Value) {
	switch x := v.(type) {
	case Safe:
		rs.out.WriteString(string(x))
	default:
		rs.out.WriteString(html.EscapeString(ToString(x)))
	}
}

func (rs *renderState) callMacro(m *macroValue, args []Expr, kwargs map[string]Expr, sc *scope) (Value, error) {
	callSc := newScope(m.closure)
	for i, p := range m.params {
		switch {
		case i < len(args):
			v, err := rs.evalExpr(args[i], sc)
			if err != nil {
				return nil, err
			}
			callSc.define(p.Name, v)
		case kwargs[p.Name] != nil:
			v, err := rs.evalExpr(kwargs[p.Name], sc)
			if err != nil {
				return nil, err
			}
			callSc.define(p.Name, v)
		case p.Default != nil:
			v, err := rs.evalExpr(p.Default, callSc)
			if err != nil {
				return nil, err
			}
			callSc.define(p.Name, v)
		default:
			callSc.define(p.Name, nil)
		}
	}

	selfMacros := m.definingMacros
	if selfMacros == nil {
		selfMacros = rs.selfMacros
	}
	sub := &renderState{env: rs.env, chain: rs.chain, out: &strings.Builder{}, selfMacros: selfMacros}
	if err := sub.evalNodes(m.body, callSc); err != nil {
		return nil, err
	}
	return Safe(sub.out.String()), nil
}
