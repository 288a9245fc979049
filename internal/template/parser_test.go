package template

import "testing"

func TestParseRawTextAndPrint(t *testing.T) {
	tmpl, err := Parse("t", "hello {{ name }}!")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(tmpl.Body) != 3 {
		t.Fatalf("expected 3 nodes, got %d: %+v", len(tmpl.Body), tmpl.Body)
	}
	if _, ok := tmpl.Body[0].(*RawText); !ok {
		t.Fatalf("expected RawText first, got %T", tmpl.Body[0])
	}
	p, ok := tmpl.Body[1].(*Print)
	if !ok {
		t.Fatalf("expected Print second, got %T", tmpl.Body[1])
	}
	if _, ok := p.Expr.(*Ident); !ok {
		t.Fatalf("expected Ident expr, got %T", p.Expr)
	}
}

func TestParseIfElifElse(t *testing.T) {
	src := "{% if a %}A{% elif b %}B{% else %}C{% endif %}"
	tmpl, err := Parse("t", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ifNode, ok := tmpl.Body[0].(*If)
	if !ok {
		t.Fatalf("expected If, got %T", tmpl.Body[0])
	}
	if len(ifNode.Branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(ifNode.Branches))
	}
	if ifNode.Branches[2].Cond != nil {
		t.Fatal("expected else branch to have nil condition")
	}
}

func TestParseForWithKeyValueAndElse(t *testing.T) {
	src := "{% for k, v in items %}{{ k }}={{ v }}{% else %}empty{% endfor %}"
	tmpl, err := Parse("t", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f, ok := tmpl.Body[0].(*For)
	if !ok {
		t.Fatalf("expected For, got %T", tmpl.Body[0])
	}
	if f.KeyName != "k" || f.VarName != "v" {
		t.Fatalf("unexpected key/value names: %q/%q", f.KeyName, f.VarName)
	}
	if len(f.ElseBody) == 0 {
		t.Fatal("expected non-empty else body")
	}
}

func TestParseExtendsMustBeFirstStatement(t *testing.T) {
	tmpl, err := Parse("child", `{% extends "base.html" %}{% block content %}hi{% endblock %}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if tmpl.Extends != "base.html" {
		t.Fatalf("expected extends base.html, got %q", tmpl.Extends)
	}
	if _, ok := tmpl.Blocks["content"]; !ok {
		t.Fatal("expected content block to be collected")
	}
}

func TestParseMacroDefinitionAndSelfCall(t *testing.T) {
	src := `{% macro greet(name, greeting="hi") %}{{ greeting }}, {{ name }}{% endmacro %}{{ self::greet("world") }}`
	tmpl, err := Parse("t", src)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var foundMacro bool
	var foundCall bool
	for _, n := range tmpl.Body {
		if _, ok := n.(*Macro); ok {
			foundMacro = true
		}
		if p, ok := n.(*Print); ok {
			if mc, ok := p.Expr.(*MacroCall); ok && mc.Namespace == "self" && mc.Name == "greet" {
				foundCall = true
			}
		}
	}
	if !foundMacro || !foundCall {
		t.Fatalf("expected macro def and self:: call, got body %+v", tmpl.Body)
	}
}

func TestParseOperatorPrecedence(t *testing.T) {
	tmpl, err := Parse("t", "{{ 1 + 2 * 3 == 7 and not false }}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := tmpl.Body[0].(*Print)
	top, ok := p.Expr.(*BinaryOp)
	if !ok || top.Op != "and" {
		t.Fatalf("expected top-level 'and', got %+v", p.Expr)
	}
}

func TestParseFilterAndTestPostfix(t *testing.T) {
	tmpl, err := Parse("t", `{{ name | default("x") | upper is string }}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := tmpl.Body[0].(*Print)
	top, ok := p.Expr.(*TestExpr)
	if !ok || top.Name != "string" {
		t.Fatalf("expected top-level test, got %+v", p.Expr)
	}
	filter, ok := top.Target.(*FilterExpr)
	if !ok || filter.Name != "upper" {
		t.Fatalf("expected upper filter directly under test, got %+v", top.Target)
	}
}

func TestParseListAndDictLiterals(t *testing.T) {
	tmpl, err := Parse("t", `{{ [1, 2, 3] }}{{ {"a": 1, "b": 2} }}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	list, ok := tmpl.Body[0].(*Print).Expr.(*ListLit)
	if !ok || len(list.Items) != 3 {
		t.Fatalf("expected 3-item list, got %+v", tmpl.Body[0])
	}
	dict, ok := tmpl.Body[1].(*Print).Expr.(*DictLit)
	if !ok || len(dict.Keys) != 2 {
		t.Fatalf("expected 2-key dict, got %+v", tmpl.Body[1])
	}
}

func TestParseMissingEndifReportsError(t *testing.T) {
	_, err := Parse("t", "{% if a %}oops")
	if err == nil {
		t.Fatal("expected a parse error for unclosed if")
	}
}
