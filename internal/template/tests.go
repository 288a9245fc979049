package template

// registerBuiltinTests installs the baseline `is name` predicate
// catalog (spec.md §4.H built-ins).
func registerBuiltinTests(env *Environment) {
	env.RegisterTest("defined", func(target Value, args []Value) (bool, error) {
		return target != nil, nil
	})
	env.RegisterTest("none", func(target Value, args []Value) (bool, error) {
		return target == nil, nil
	})
	env.RegisterTest("string", func(target Value, args []Value) (bool, error) {
		switch target.(type) {
		case string, Safe:
			return true, nil
		default:
			return false, nil
		}
	})
	env.RegisterTest("number", func(target Value, args []Value) (bool, error) {
		switch target.(type) {
		case int, int64, float64:
			return true, nil
		default:
			return false, nil
		}
	})
	env.RegisterTest("iterable", func(target Value, args []Value) (bool, error) {
		switch target.(type) {
		case []Value, map[string]Value, string:
			return true, nil
		default:
			return false, nil
		}
	})
}
