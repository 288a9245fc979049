package template

import (
	"fmt"
	"strings"
	"time"
)

// registerBuiltinFilters installs the baseline `| name(...)` catalog
// (spec.md §4.H built-ins). Registered as a plain map on the
// Environment rather than package-level globals, so multiple
// Environments (e.g. concurrent builds with different custom filters)
// never share mutable state.
func registerBuiltinFilters(env *Environment) {
	env.RegisterFilter("upper", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		return strings.ToUpper(ToString(target)), nil
	})
	env.RegisterFilter("lower", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		return strings.ToLower(ToString(target)), nil
	})
	env.RegisterFilter("trim", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		return strings.TrimSpace(ToString(target)), nil
	})
	env.RegisterFilter("default", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		if target == nil || target == "" {
			if len(args) > 0 {
				return args[0], nil
			}
			return "", nil
		}
		return target, nil
	})
	env.RegisterFilter("length", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		switch x := target.(type) {
		case string:
			return int64(len(x)), nil
		case []Value:
			return int64(len(x)), nil
		case map[string]Value:
			return int64(len(x)), nil
		case nil:
			return int64(0), nil
		default:
			return nil, fmt.Errorf("length: unsupported type %s", TypeName(target))
		}
	})
	env.RegisterFilter("join", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		sep := ","
		if len(args) > 0 {
			sep = ToString(args[0])
		}
		items, ok := target.([]Value)
		if !ok {
			return nil, fmt.Errorf("join: target is not an array")
		}
		parts := make([]string, len(items))
		for i, v := range items {
			parts[i] = ToString(v)
		}
		return strings.Join(parts, sep), nil
	})
	env.RegisterFilter("slice", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("slice: requires start and end arguments")
		}
		start, _ := asInt(args[0])
		end, _ := asInt(args[1])
		switch x := target.(type) {
		case []Value:
			start, end = clampRange(start, end, int64(len(x)))
			return append([]Value{}, x[start:end]...), nil
		case string:
			start, end = clampRange(start, end, int64(len(x)))
			return x[start:end], nil
		default:
			return nil, fmt.Errorf("slice: unsupported type %s", TypeName(target))
		}
	})
	env.RegisterFilter("date", func(target Value, args []Value, kwargs map[string]Value) (Value, error) {
		t, ok := target.(time.Time)
		if !ok {
			return nil, fmt.Errorf("date: target is not a timestamp")
		}
		layout := "2006-01-02"
		if len(args) > 0 {
			layout = ToString(args[0])
		}
		return t.Format(layout), nil
	})
}

func clampRange(start, end, length int64) (int64, int64) {
	if start < 0 {
		start = 0
	}
	if end > length {
		end = length
	}
	if start > end {
		start = end
	}
	return start, end
}
