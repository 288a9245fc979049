package template

import dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"

// Node is any statement-level AST node.
type Node interface {
	Span() dodecaerr.Span
}

type baseNode struct {
	span dodecaerr.Span
}

func (b baseNode) Span() dodecaerr.Span { return b.span }

// RawText is a literal run of template text.
type RawText struct {
	baseNode
	Text string
}

// Print is a `{{ expr }}` output statement.
type Print struct {
	baseNode
	Expr Expr
}

// If is `{% if %}...{% elif %}...{% else %}...{% endif %}`.
type If struct {
	baseNode
	Branches []IfBranch // the last branch may have Cond == nil (else)
}

type IfBranch struct {
	Cond Expr // nil for else
	Body []Node
}

// For is `{% for %}...{% else %}...{% endfor %}`.
type For struct {
	baseNode
	VarName  string
	KeyName  string // set when iterating "for k, v in ..."
	Iter     Expr
	Body     []Node
	ElseBody []Node // rendered when Iter yields zero items
}

// Set is `{% set name = expr %}`.
type Set struct {
	baseNode
	Name string
	Expr Expr
}

// Block is `{% block name %}...{% endblock %}`.
type Block struct {
	baseNode
	Name string
	Body []Node
}

// Extends is `{% extends "name" %}`, only valid as the template's first statement.
type Extends struct {
	baseNode
	Name string
}

// Include is `{% include "name" %}`.
type Include struct {
	baseNode
	Name Expr
}

// Import is `{% import "name" as ns %}`.
type Import struct {
	baseNode
	Name      string
	Namespace string
}

// Macro is `{% macro name(params) %}...{% endmacro %}`.
type Macro struct {
	baseNode
	Name   string
	Params []MacroParam
	Body   []Node
}

type MacroParam struct {
	Name    string
	Default Expr // nil if required
}

// Call is a macro-call statement when its result is discarded (the
// expression form is used for printed results via Print).
type Call struct {
	baseNode
	Expr Expr
}

// Continue / Break short-circuit the enclosing for-loop (spec.md §4.H).
type Continue struct{ baseNode }
type Break struct{ baseNode }

// --- Expressions ---

type Expr interface {
	Node
	exprNode()
}

type baseExpr struct{ baseNode }

func (baseExpr) exprNode() {}

type NilLit struct{ baseExpr }
type BoolLit struct {
	baseExpr
	Value bool
}
type IntLit struct {
	baseExpr
	Value int64
}
type FloatLit struct {
	baseExpr
	Value float64
}
type StringLit struct {
	baseExpr
	Value string
}
type ListLit struct {
	baseExpr
	Items []Expr
}
type DictLit struct {
	baseExpr
	Keys   []string
	Values []Expr
}

type Ident struct {
	baseExpr
	Name string
}

type FieldAccess struct {
	baseExpr
	Target Expr
	Name   string
}

type IndexAccess struct {
	baseExpr
	Target Expr
	Index  Expr
}

type UnaryOp struct {
	baseExpr
	Op string // "+", "-", "not"
	X  Expr
}

type BinaryOp struct {
	baseExpr
	Op   string // arithmetic, comparison, logical, "~", "in", "not in"
	X, Y Expr
}

type Ternary struct {
	baseExpr
	Cond, Then, Else Expr
}

type FilterExpr struct {
	baseExpr
	Target Expr
	Name   string
	Args   []Expr
	Kwargs map[string]Expr
}

type TestExpr struct {
	baseExpr
	Target Expr
	Name   string
	Negate bool
	Args   []Expr
}

// MacroCall is `ns::name(args…, kw=…)`.
type MacroCall struct {
	baseExpr
	Namespace string
	Name      string
	Args      []Expr
	Kwargs    map[string]Expr
}
