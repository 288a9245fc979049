package template

import (
	"fmt"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

func (rs *renderState) evalExpr(e Expr, sc *scope) (Value, error) {
	switch x := e.(type) {
	case *NilLit:
		return nil, nil
	case *BoolLit:
		return x.Value, nil
	case *IntLit:
		return x.Value, nil
	case *FloatLit:
		return x.Value, nil
	case *StringLit:
		return x.Value, nil

	case *ListLit:
		out := make([]Value, len(x.Items))
		for i, item := range x.Items {
			v, err := rs.evalExpr(item, sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *DictLit:
		out := make(map[string]Value, len(x.Keys))
		for i, k := range x.Keys {
			v, err := rs.evalExpr(x.Values[i], sc)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case *Ident:
		v, ok := sc.get(x.Name)
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("undefined variable %q", x.Name)).WithSpan(x.Span())
		}
		return Force(v)

	case *FieldAccess:
		target, err := rs.evalExpr(x.Target, sc)
		if err != nil {
			return nil, err
		}
		target, err = Force(target)
		if err != nil {
			return nil, err
		}
		return fieldAccess(target, x.Name, x.Span())

	case *IndexAccess:
		target, err := rs.evalExpr(x.Target, sc)
		if err != nil {
			return nil, err
		}
		target, err = Force(target)
		if err != nil {
			return nil, err
		}
		idx, err := rs.evalExpr(x.Index, sc)
		if err != nil {
			return nil, err
		}
		return indexAccess(target, idx, x.Span())

	case *UnaryOp:
		return rs.evalUnary(x, sc)

	case *BinaryOp:
		return rs.evalBinary(x, sc)

	case *Ternary:
		cond, err := rs.evalExpr(x.Cond, sc)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return rs.evalExpr(x.Then, sc)
		}
		return rs.evalExpr(x.Else, sc)

	case *FilterExpr:
		return rs.evalFilter(x, sc)

	case *TestExpr:
		return rs.evalTest(x, sc)

	case *MacroCall:
		return rs.evalMacroCall(x, sc)

	default:
		return nil, dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("unhandled expr type %T", e)).WithSpan(e.Span())
	}
}

func fieldAccess(target Value, name string, span dodecaerr.Span) (Value, error) {
	if m, ok := target.(map[string]Value); ok {
		v, ok := m[name]
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("no field %q", name)).WithSpan(span)
		}
		return Force(v)
	}
	return nil, dodecaerr.New(dodecaerr.Type, fmt.Sprintf("cannot access field %q on %s", name, TypeName(target))).WithSpan(span)
}

func indexAccess(target, idx Value, span dodecaerr.Span) (Value, error) {
	switch t := target.(type) {
	case []Value:
		i, ok := asInt(idx)
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Type, "array index must be an int").WithSpan(span)
		}
		if i < 0 {
			i += int64(len(t))
		}
		if i < 0 || i >= int64(len(t)) {
			return nil, dodecaerr.New(dodecaerr.Lookup, "array index out of range").WithSpan(span)
		}
		return Force(t[i])
	case map[string]Value:
		key := ToString(idx)
		v, ok := t[key]
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("no key %q", key)).WithSpan(span)
		}
		return Force(v)
	default:
		return nil, dodecaerr.New(dodecaerr.Type, fmt.Sprintf("cannot index into %s", TypeName(target))).WithSpan(span)
	}
}

func (rs *renderState) evalUnary(x *UnaryOp, sc *scope) (Value, error) {
	v, err := rs.evalExpr(x.X, sc)
	if err != nil {
		return nil, err
	}
	switch x.Op {
	case "not":
		return !Truthy(v), nil
	case "-":
		if f, ok := asFloat(v); ok {
			if i, isInt := v.(int64); isInt {
				return -i, nil
			}
			return -f, nil
		}
		return nil, dodecaerr.New(dodecaerr.Type, fmt.Sprintf("cannot negate %s", TypeName(v))).WithSpan(x.Span())
	case "+":
		return v, nil
	default:
		return nil, dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("unknown unary operator %q", x.Op)).WithSpan(x.Span())
	}
}

func (rs *renderState) evalBinary(x *BinaryOp, sc *scope) (Value, error) {
	if x.Op == "and" {
		l, err := rs.evalExpr(x.X, sc)
		if err != nil {
			return nil, err
		}
		if !Truthy(l) {
			return l, nil
		}
		return rs.evalExpr(x.Y, sc)
	}
	if x.Op == "or" {
		l, err := rs.evalExpr(x.X, sc)
		if err != nil {
			return nil, err
		}
		if Truthy(l) {
			return l, nil
		}
		return rs.evalExpr(x.Y, sc)
	}

	l, err := rs.evalExpr(x.X, sc)
	if err != nil {
		return nil, err
	}
	r, err := rs.evalExpr(x.Y, sc)
	if err != nil {
		return nil, err
	}

	switch x.Op {
	case "~":
		return ToString(l) + ToString(r), nil
	case "in":
		return containsValue(r, l), nil
	case "not in":
		return !containsValue(r, l), nil
	case "==":
		return valuesEqual(l, r), nil
	case "!=":
		return !valuesEqual(l, r), nil
	case "<", "<=", ">", ">=":
		lf, lok := asFloat(l)
		rf, rok := asFloat(r)
		if !lok || !rok {
			return nil, dodecaerr.New(dodecaerr.Type, "comparison requires numeric operands").WithSpan(x.Span())
		}
		switch x.Op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		default:
			return lf >= rf, nil
		}
	case "+", "-", "*", "/", "%":
		return arith(x.Op, l, r, x.Span())
	default:
		return nil, dodecaerr.New(dodecaerr.Internal, fmt.Sprintf("unknown binary operator %q", x.Op)).WithSpan(x.Span())
	}
}

func arith(op string, l, r Value, span dodecaerr.Span) (Value, error) {
	li, liok := l.(int64)
	ri, riok := r.(int64)
	if liok && riok && op != "/" {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "%":
			if ri == 0 {
				return nil, dodecaerr.New(dodecaerr.Input, "modulo by zero").WithSpan(span)
			}
			return li % ri, nil
		}
	}
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if !lok || !rok {
		return nil, dodecaerr.New(dodecaerr.Type, fmt.Sprintf("arithmetic requires numeric operands, got %s and %s", TypeName(l), TypeName(r))).WithSpan(span)
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, dodecaerr.New(dodecaerr.Input, "division by zero").WithSpan(span)
		}
		return lf / rf, nil
	case "%":
		return nil, dodecaerr.New(dodecaerr.Type, "modulo requires integer operands").WithSpan(span)
	}
	return nil, dodecaerr.New(dodecaerr.Internal, "unreachable arith operator").WithSpan(span)
}

func containsValue(container, needle Value) bool {
	switch c := container.(type) {
	case []Value:
		for _, v := range c {
			if valuesEqual(v, needle) {
				return true
			}
		}
		return false
	case map[string]Value:
		_, ok := c[ToString(needle)]
		return ok
	case string:
		return len(c) > 0 && needle != nil && stringsContains(c, ToString(needle))
	default:
		return false
	}
}

func stringsContains(haystack, needle string) bool {
	return needle == "" || indexOfSubstr(haystack, needle) >= 0
}

func indexOfSubstr(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	if m > n {
		return -1
	}
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func valuesEqual(a, b Value) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

func asInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func (rs *renderState) evalFilter(x *FilterExpr, sc *scope) (Value, error) {
	fn, ok := rs.env.filters[x.Name]
	if !ok {
		return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("unknown filter %q", x.Name)).WithSpan(x.Span())
	}
	target, err := rs.evalExpr(x.Target, sc)
	if err != nil {
		return nil, err
	}
	args, kwargs, err := rs.evalArgs(x.Args, x.Kwargs, sc)
	if err != nil {
		return nil, err
	}
	v, err := fn(target, args, kwargs)
	if err != nil {
		if de, ok := err.(*dodecaerr.Error); ok {
			return nil, de
		}
		return nil, dodecaerr.Wrap(dodecaerr.Type, err, fmt.Sprintf("filter %q failed", x.Name)).WithSpan(x.Span())
	}
	return v, nil
}

func (rs *renderState) evalTest(x *TestExpr, sc *scope) (Value, error) {
	fn, ok := rs.env.tests[x.Name]
	if !ok {
		return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("unknown test %q", x.Name)).WithSpan(x.Span())
	}
	target, err := rs.evalExpr(x.Target, sc)
	if err != nil {
		return nil, err
	}
	args, _, err := rs.evalArgs(x.Args, nil, sc)
	if err != nil {
		return nil, err
	}
	result, err := fn(target, args)
	if err != nil {
		return nil, err
	}
	if x.Negate {
		return !result, nil
	}
	return result, nil
}

func (rs *renderState) evalArgs(argExprs []Expr, kwargExprs map[string]Expr, sc *scope) ([]Value, map[string]Value, error) {
	args := make([]Value, len(argExprs))
	for i, a := range argExprs {
		v, err := rs.evalExpr(a, sc)
		if err != nil {
			return nil, nil, err
		}
		args[i] = v
	}
	var kwargs map[string]Value
	if len(kwargExprs) > 0 {
		kwargs = make(map[string]Value, len(kwargExprs))
		for k, e := range kwargExprs {
			v, err := rs.evalExpr(e, sc)
			if err != nil {
				return nil, nil, err
			}
			kwargs[k] = v
		}
	}
	return args, kwargs, nil
}

func (rs *renderState) evalMacroCall(x *MacroCall, sc *scope) (Value, error) {
	var m *macroValue
	if x.Namespace == "self" {
		m = rs.selfMacros[x.Name]
	} else {
		nsVal, ok := sc.get(x.Namespace)
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("undefined namespace %q", x.Namespace)).WithSpan(x.Span())
		}
		ns, ok := nsVal.(map[string]Value)
		if !ok {
			return nil, dodecaerr.New(dodecaerr.Type, fmt.Sprintf("%q is not an importable namespace", x.Namespace)).WithSpan(x.Span())
		}
		if mv, ok := ns[x.Name]; ok {
			m, _ = mv.(*macroValue)
		}
	}
	if m == nil {
		return nil, dodecaerr.New(dodecaerr.Lookup, fmt.Sprintf("undefined macro %q::%q", x.Namespace, x.Name)).WithSpan(x.Span())
	}
	return rs.callMacro(m, x.Args, x.Kwargs, sc)
}
