package template

import (
	"fmt"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// Template is a parsed template: its own statement tree, plus the name
// of the parent it extends, if any (spec.md §4.H inheritance algorithm
// step 1).
type Template struct {
	Name    string
	Extends string // "" if this template doesn't extend another
	Body    []Node

	Blocks  map[string][]Node // name -> body, collected at parse time
	Imports []Import
}

// Parse lexes and parses source into a Template. Inheritance resolution
// (loading the parent chain) happens later, in the Environment, since it
// requires looking up other named templates.
func Parse(name, source string) (*Template, error) {
	toks, err := newLexer(name, source).tokenize()
	if err != nil {
		return nil, err
	}
	p := &parser{name: name, tokens: toks}

	tmpl := &Template{Name: name, Blocks: make(map[string][]Node)}

	if p.peekIsStmt("extends") {
		p.pos++ // stmt start
		p.pos++ // "extends" ident
		nameExpr, err := p.expectString()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		tmpl.Extends = nameExpr
	}

	body, _, err := p.parseUntil()
	if err != nil {
		return nil, err
	}
	tmpl.Body = body
	collectBlocksAndImports(body, tmpl)
	return tmpl, nil
}

func collectBlocksAndImports(nodes []Node, tmpl *Template) {
	for _, n := range nodes {
		switch x := n.(type) {
		case *Block:
			tmpl.Blocks[x.Name] = x.Body
			collectBlocksAndImports(x.Body, tmpl)
		case *Import:
			tmpl.Imports = append(tmpl.Imports, *x)
		case *If:
			for _, br := range x.Branches {
				collectBlocksAndImports(br.Body, tmpl)
			}
		case *For:
			collectBlocksAndImports(x.Body, tmpl)
			collectBlocksAndImports(x.ElseBody, tmpl)
		}
	}
}

type parser struct {
	name   string
	tokens []token
	pos    int
}

func (p *parser) cur() token { return p.tokens[p.pos] }

func (p *parser) errAt(tok token, msg string) error {
	return dodecaerr.New(dodecaerr.Input, msg).WithSpan(dodecaerr.Span{Source: p.name, Offset: tok.offset})
}

func (p *parser) expect(kind tokenKind) error {
	if p.cur().kind != kind {
		return p.errAt(p.cur(), fmt.Sprintf("unexpected token %q", p.cur().value))
	}
	p.pos++
	return nil
}

func (p *parser) expectPunct(val string) error {
	if p.cur().kind != tokPunct || p.cur().value != val {
		return p.errAt(p.cur(), fmt.Sprintf("expected %q, got %q", val, p.cur().value))
	}
	p.pos++
	return nil
}

func (p *parser) expectIdent(val string) error {
	if p.cur().kind != tokIdent || p.cur().value != val {
		return p.errAt(p.cur(), fmt.Sprintf("expected %q, got %q", val, p.cur().value))
	}
	p.pos++
	return nil
}

func (p *parser) expectIdentAny() (string, error) {
	if p.cur().kind != tokIdent {
		return "", p.errAt(p.cur(), "expected an identifier")
	}
	name := p.cur().value
	p.pos++
	return name, nil
}

func (p *parser) expectString() (string, error) {
	if p.cur().kind != tokString {
		return "", p.errAt(p.cur(), "expected a string literal")
	}
	v := p.cur().value
	p.pos++
	return v, nil
}

// peekIsStmt reports whether the upcoming tag is `{% keyword`, without
// consuming anything.
func (p *parser) peekIsStmt(keyword string) bool {
	return p.cur().kind == tokStmtStart &&
		p.pos+1 < len(p.tokens) &&
		p.tokens[p.pos+1].kind == tokIdent &&
		p.tokens[p.pos+1].value == keyword
}

// parseUntil consumes nodes until EOF or a statement tag whose keyword
// is in `stops`. On a stop match, the `{% keyword` tokens are consumed
// and the keyword returned so the caller can parse that clause's header.
func (p *parser) parseUntil(stops ...string) ([]Node, string, error) {
	stopWanted := make(map[string]bool, len(stops))
	for _, s := range stops {
		stopWanted[s] = true
	}

	var out []Node
	for {
		tok := p.cur()
		switch tok.kind {
		case tokEOF:
			return out, "", nil
		case tokRaw:
			out = append(out, &RawText{baseNode{dodecaerr.Span{Source: p.name, Offset: tok.offset}}, tok.value})
			p.pos++
		case tokExprStart:
			p.pos++
			expr, err := p.parseExpr()
			if err != nil {
				return nil, "", err
			}
			if err := p.expect(tokExprEnd); err != nil {
				return nil, "", err
			}
			out = append(out, &Print{baseNode{tok.spanOf(p.name)}, expr})
		case tokStmtStart:
			if p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].kind == tokIdent && stopWanted[p.tokens[p.pos+1].value] {
				kw := p.tokens[p.pos+1].value
				p.pos += 2
				return out, kw, nil
			}
			node, err := p.parseStatement()
			if err != nil {
				return nil, "", err
			}
			out = append(out, node)
		default:
			return nil, "", p.errAt(tok, "unexpected token")
		}
	}
}

func (t token) spanOf(source string) dodecaerr.Span {
	return dodecaerr.Span{Source: source, Offset: t.offset, Line: t.line, Column: t.column}
}

// parseStatement parses one `{% ... %}` tag whose keyword is not a stop
// word for the enclosing context (i.e. it opens a new construct).
func (p *parser) parseStatement() (Node, error) {
	startTok := p.cur()
	p.pos++ // consume stmt-start
	keyword, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	span := startTok.spanOf(p.name)

	switch keyword {
	case "if":
		return p.parseIf(span)
	case "for":
		return p.parseFor(span)
	case "set":
		return p.parseSet(span)
	case "block":
		return p.parseBlock(span)
	case "include":
		return p.parseInclude(span)
	case "import":
		return p.parseImport(span)
	case "macro":
		return p.parseMacro(span)
	case "call":
		return p.parseCall(span)
	case "continue":
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		return &Continue{baseNode{span}}, nil
	case "break":
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		return &Break{baseNode{span}}, nil
	default:
		return nil, p.errAt(startTok, fmt.Sprintf("unknown statement %q", keyword))
	}
}

func (p *parser) parseIf(span dodecaerr.Span) (Node, error) {
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	body, kw, err := p.parseUntil("elif", "else", "endif")
	if err != nil {
		return nil, err
	}
	branches := []IfBranch{{Cond: cond, Body: body}}

	for kw == "elif" {
		c, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		b, nextKw, err := p.parseUntil("elif", "else", "endif")
		if err != nil {
			return nil, err
		}
		branches = append(branches, IfBranch{Cond: c, Body: b})
		kw = nextKw
	}
	if kw == "else" {
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		b, nextKw, err := p.parseUntil("endif")
		if err != nil {
			return nil, err
		}
		branches = append(branches, IfBranch{Cond: nil, Body: b})
		kw = nextKw
	}
	if kw != "endif" {
		return nil, p.errAt(p.cur(), "missing endif")
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &If{baseNode{span}, branches}, nil
}

func (p *parser) parseFor(span dodecaerr.Span) (Node, error) {
	varName, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	keyName := ""
	if p.cur().kind == tokPunct && p.cur().value == "," {
		p.pos++
		second, err := p.expectIdentAny()
		if err != nil {
			return nil, err
		}
		keyName, varName = varName, second
	}
	if err := p.expectIdent("in"); err != nil {
		return nil, err
	}
	iter, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	body, kw, err := p.parseUntil("else", "endfor")
	if err != nil {
		return nil, err
	}
	var elseBody []Node
	if kw == "else" {
		if err := p.expect(tokStmtEnd); err != nil {
			return nil, err
		}
		b, nextKw, err := p.parseUntil("endfor")
		if err != nil {
			return nil, err
		}
		elseBody = b
		kw = nextKw
	}
	if kw != "endfor" {
		return nil, p.errAt(p.cur(), "missing endfor")
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &For{baseNode{span}, varName, keyName, iter, body, elseBody}, nil
}

func (p *parser) parseSet(span dodecaerr.Span) (Node, error) {
	name, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Set{baseNode{span}, name, expr}, nil
}

func (p *parser) parseBlock(span dodecaerr.Span) (Node, error) {
	name, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	body, kw, err := p.parseUntil("endblock")
	if err != nil {
		return nil, err
	}
	if kw != "endblock" {
		return nil, p.errAt(p.cur(), "missing endblock")
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Block{baseNode{span}, name, body}, nil
}

func (p *parser) parseInclude(span dodecaerr.Span) (Node, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Include{baseNode{span}, expr}, nil
}

func (p *parser) parseImport(span dodecaerr.Span) (Node, error) {
	name, err := p.expectString()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("as"); err != nil {
		return nil, err
	}
	ns, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Import{baseNode{span}, name, ns}, nil
}

func (p *parser) parseMacro(span dodecaerr.Span) (Node, error) {
	name, err := p.expectIdentAny()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var params []MacroParam
	for !(p.cur().kind == tokPunct && p.cur().value == ")") {
		pname, err := p.expectIdentAny()
		if err != nil {
			return nil, err
		}
		param := MacroParam{Name: pname}
		if p.cur().kind == tokPunct && p.cur().value == "=" {
			p.pos++
			def, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			param.Default = def
		}
		params = append(params, param)
		if p.cur().kind == tokPunct && p.cur().value == "," {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	body, kw, err := p.parseUntil("endmacro")
	if err != nil {
		return nil, err
	}
	if kw != "endmacro" {
		return nil, p.errAt(p.cur(), "missing endmacro")
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Macro{baseNode{span}, name, params, body}, nil
}

func (p *parser) parseCall(span dodecaerr.Span) (Node, error) {
	expr, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.expect(tokStmtEnd); err != nil {
		return nil, err
	}
	return &Call{baseNode{span}, expr}, nil
}

// --- expressions ---

func (p *parser) parseExpr() (Expr, error) { return p.parseTernary() }

func (p *parser) parseTernary() (Expr, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur().kind == tokIdent && p.cur().value == "if" {
		p.pos++
		cond, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expectIdent("else"); err != nil {
			return nil, err
		}
		elseExpr, err := p.parseTernary()
		if err != nil {
			return nil, err
		}
		return &Ternary{baseExpr{baseNode{then.Span()}}, cond, then, elseExpr}, nil
	}
	return then, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokIdent && p.cur().value == "or" {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{baseExpr{left.Span()}, "or", left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokIdent && p.cur().value == "and" {
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{baseExpr{left.Span()}, "and", left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (Expr, error) {
	if p.cur().kind == tokIdent && p.cur().value == "not" {
		tok := p.cur()
		p.pos++
		x, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{baseExpr{tok.spanOf(p.name)}, "not", x}, nil
	}
	return p.parseComparison()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	for {
		if p.cur().kind == tokPunct && compareOps[p.cur().value] {
			op := p.cur().value
			p.pos++
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &BinaryOp{baseExpr{left.Span()}, op, left, right}
			continue
		}
		if p.cur().kind == tokIdent && p.cur().value == "in" {
			p.pos++
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &BinaryOp{baseExpr{left.Span()}, "in", left, right}
			continue
		}
		if p.cur().kind == tokIdent && p.cur().value == "not" && p.pos+1 < len(p.tokens) && p.tokens[p.pos+1].value == "in" {
			p.pos += 2
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			left = &BinaryOp{baseExpr{left.Span()}, "not in", left, right}
			continue
		}
		break
	}
	return left, nil
}

func (p *parser) parseConcat() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPunct && p.cur().value == "~" {
		p.pos++
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{baseExpr{left.Span()}, "~", left, right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPunct && (p.cur().value == "+" || p.cur().value == "-") {
		op := p.cur().value
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{baseExpr{left.Span()}, op, left, right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur().kind == tokPunct && (p.cur().value == "*" || p.cur().value == "/" || p.cur().value == "%") {
		op := p.cur().value
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryOp{baseExpr{left.Span()}, op, left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.cur().kind == tokPunct && (p.cur().value == "+" || p.cur().value == "-") {
		op := p.cur().value
		tok := p.cur()
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &UnaryOp{baseExpr{tok.spanOf(p.name)}, op, x}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.cur().kind == tokPunct && p.cur().value == ".":
			p.pos++
			name, err := p.expectIdentAny()
			if err != nil {
				return nil, err
			}
			x = &FieldAccess{baseExpr{x.Span()}, x, name}
		case p.cur().kind == tokPunct && p.cur().value == "[":
			p.pos++
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			x = &IndexAccess{baseExpr{x.Span()}, x, idx}
		case p.cur().kind == tokPunct && p.cur().value == "|":
			p.pos++
			name, err := p.expectIdentAny()
			if err != nil {
				return nil, err
			}
			args, kwargs, err := p.parseOptionalArgs()
			if err != nil {
				return nil, err
			}
			x = &FilterExpr{baseExpr{x.Span()}, x, name, args, kwargs}
		case p.cur().kind == tokIdent && p.cur().value == "is":
			p.pos++
			negate := false
			if p.cur().kind == tokIdent && p.cur().value == "not" {
				negate = true
				p.pos++
			}
			name, err := p.expectIdentAny()
			if err != nil {
				return nil, err
			}
			args, _, err := p.parseOptionalArgs()
			if err != nil {
				return nil, err
			}
			x = &TestExpr{baseExpr{x.Span()}, x, name, negate, args}
		default:
			return x, nil
		}
	}
}

// parseOptionalArgs parses `(args…)` if present; otherwise returns no args.
func (p *parser) parseOptionalArgs() ([]Expr, map[string]Expr, error) {
	if !(p.cur().kind == tokPunct && p.cur().value == "(") {
		return nil, nil, nil
	}
	return p.parseArgList()
}

func (p *parser) parseArgList() ([]Expr, map[string]Expr, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, nil, err
	}
	var args []Expr
	var kwargs map[string]Expr
	for !(p.cur().kind == tokPunct && p.cur().value == ")") {
		if p.cur().kind == tokIdent && p.pos+1 < len(p.tokens) &&
			p.tokens[p.pos+1].kind == tokPunct && p.tokens[p.pos+1].value == "=" {
			name := p.cur().value
			p.pos += 2
			val, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			if kwargs == nil {
				kwargs = make(map[string]Expr)
			}
			kwargs[name] = val
		} else {
			val, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			args = append(args, val)
		}
		if p.cur().kind == tokPunct && p.cur().value == "," {
			p.pos++
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}

func (p *parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	span := tok.spanOf(p.name)
	switch tok.kind {
	case tokInt:
		p.pos++
		var v int64
		fmt.Sscanf(tok.value, "%d", &v)
		return &IntLit{baseExpr{span}, v}, nil
	case tokFloat:
		p.pos++
		var v float64
		fmt.Sscanf(tok.value, "%g", &v)
		return &FloatLit{baseExpr{span}, v}, nil
	case tokString:
		p.pos++
		return &StringLit{baseExpr{span}, tok.value}, nil
	case tokIdent:
		switch tok.value {
		case "true":
			p.pos++
			return &BoolLit{baseExpr{span}, true}, nil
		case "false":
			p.pos++
			return &BoolLit{baseExpr{span}, false}, nil
		case "none", "None", "null":
			p.pos++
			return &NilLit{baseExpr{span}}, nil
		}
		p.pos++
		if p.cur().kind == tokPunct && p.cur().value == "::" {
			p.pos++
			name, err := p.expectIdentAny()
			if err != nil {
				return nil, err
			}
			args, kwargs, err := p.parseArgList()
			if err != nil {
				return nil, err
			}
			return &MacroCall{baseExpr{span}, tok.value, name, args, kwargs}, nil
		}
		return &Ident{baseExpr{span}, tok.value}, nil
	case tokPunct:
		switch tok.value {
		case "(":
			p.pos++
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			p.pos++
			var items []Expr
			for !(p.cur().kind == tokPunct && p.cur().value == "]") {
				item, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if p.cur().kind == tokPunct && p.cur().value == "," {
					p.pos++
					continue
				}
				break
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			return &ListLit{baseExpr{span}, items}, nil
		case "{":
			p.pos++
			var keys []string
			var values []Expr
			for !(p.cur().kind == tokPunct && p.cur().value == "}") {
				var key string
				if p.cur().kind == tokString {
					key = p.cur().value
					p.pos++
				} else {
					k, err := p.expectIdentAny()
					if err != nil {
						return nil, err
					}
					key = k
				}
				if err := p.expectPunct(":"); err != nil {
					return nil, err
				}
				val, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				keys = append(keys, key)
				values = append(values, val)
				if p.cur().kind == tokPunct && p.cur().value == "," {
					p.pos++
					continue
				}
				break
			}
			if err := p.expectPunct("}"); err != nil {
				return nil, err
			}
			return &DictLit{baseExpr{span}, keys, values}, nil
		}
	}
	return nil, p.errAt(tok, fmt.Sprintf("unexpected token %q", tok.value))
}
