package formula

import (
	"fmt"
	"math"
	"strings"

	"github.com/cascadehq/cascade/internal/value"
)

// builtin is one allowlisted callable primitive. The evaluator exposes
// nothing else: no ambient state, no I/O, no way to define or mutate
// anything outside the expression scope.
type builtin struct {
	minArgs int
	maxArgs int // -1 for variadic
	apply   func(args []value.Value) (value.Value, *EvalError)
}

func (b builtin) checkArity(n int) error {
	if n < b.minArgs {
		return fmt.Errorf("too few arguments (want at least %d, got %d)", b.minArgs, n)
	}
	if b.maxArgs >= 0 && n > b.maxArgs {
		return fmt.Errorf("too many arguments (want at most %d, got %d)", b.maxArgs, n)
	}
	return nil
}

// builtins is the approved function allowlist: arithmetic helpers,
// comparisons via operators, and basic statistics over columns.
var builtins = map[string]builtin{
	"sum":    {0, -1, applySum},
	"avg":    {1, -1, applyAvg},
	"min":    {1, -1, applyMin},
	"max":    {1, -1, applyMax},
	"count":  {0, -1, applyCount},
	"abs":    {1, 1, numeric1("abs", math.Abs)},
	"ceil":   {1, 1, numeric1("ceil", math.Ceil)},
	"floor":  {1, 1, numeric1("floor", math.Floor)},
	"round":  {1, 1, numeric1("round", math.Round)},
	"sqrt":   {1, 1, applySqrt},
	"pow":    {2, 2, applyPow},
	"pi":     {0, 0, applyPi},
	"if":     {3, 3, applyIf},
	"not":    {1, 1, applyNot},
	"and":    {1, -1, applyAnd},
	"or":     {1, -1, applyOr},
	"concat": {1, -1, applyConcat},
}

// asNumber coerces a scalar argument to float64.
func asNumber(fn string, v value.Value) (float64, *EvalError) {
	n, ok := v.(value.Number)
	if !ok {
		return 0, typeMismatch("%s: expected number, got %s", fn, value.Display(v))
	}
	return float64(n), nil
}

// numericArgs flattens arguments into a number series. Lists (whole
// column bindings) are walked in row order; null cells are skipped.
func numericArgs(fn string, args []value.Value) ([]float64, *EvalError) {
	var nums []float64
	var walk func(v value.Value) *EvalError
	walk = func(v value.Value) *EvalError {
		switch val := v.(type) {
		case nil, value.Null:
			return nil
		case value.Number:
			nums = append(nums, float64(val))
			return nil
		case value.List:
			for _, elem := range val {
				if err := walk(elem); err != nil {
					return err
				}
			}
			return nil
		default:
			return typeMismatch("%s: expected number, got %s", fn, value.Display(v))
		}
	}
	for _, a := range args {
		if err := walk(a); err != nil {
			return nil, err
		}
	}
	return nums, nil
}

func applySum(args []value.Value) (value.Value, *EvalError) {
	nums, err := numericArgs("sum", args)
	if err != nil {
		return nil, err
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return value.Number(total), nil
}

func applyAvg(args []value.Value) (value.Value, *EvalError) {
	nums, err := numericArgs("avg", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, runtimeFault("avg: no values")
	}
	total := 0.0
	for _, n := range nums {
		total += n
	}
	return value.Number(total / float64(len(nums))), nil
}

func applyMin(args []value.Value) (value.Value, *EvalError) {
	nums, err := numericArgs("min", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, runtimeFault("min: no values")
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Min(m, n)
	}
	return value.Number(m), nil
}

func applyMax(args []value.Value) (value.Value, *EvalError) {
	nums, err := numericArgs("max", args)
	if err != nil {
		return nil, err
	}
	if len(nums) == 0 {
		return nil, runtimeFault("max: no values")
	}
	m := nums[0]
	for _, n := range nums[1:] {
		m = math.Max(m, n)
	}
	return value.Number(m), nil
}

// applyCount counts non-null scalars; lists count their non-null
// elements.
func applyCount(args []value.Value) (value.Value, *EvalError) {
	count := 0
	var walk func(v value.Value)
	walk = func(v value.Value) {
		switch val := v.(type) {
		case nil, value.Null:
		case value.List:
			for _, elem := range val {
				walk(elem)
			}
		default:
			count++
		}
	}
	for _, a := range args {
		walk(a)
	}
	return value.Number(float64(count)), nil
}

func numeric1(name string, f func(float64) float64) func([]value.Value) (value.Value, *EvalError) {
	return func(args []value.Value) (value.Value, *EvalError) {
		n, err := asNumber(name, args[0])
		if err != nil {
			return nil, err
		}
		return value.Number(f(n)), nil
	}
}

func applySqrt(args []value.Value) (value.Value, *EvalError) {
	n, err := asNumber("sqrt", args[0])
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, runtimeFault("sqrt: negative argument %s", value.FormatNumber(n))
	}
	return value.Number(math.Sqrt(n)), nil
}

func applyPow(args []value.Value) (value.Value, *EvalError) {
	base, err := asNumber("pow", args[0])
	if err != nil {
		return nil, err
	}
	exp, err := asNumber("pow", args[1])
	if err != nil {
		return nil, err
	}
	r := math.Pow(base, exp)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil, runtimeFault("pow: non-finite result")
	}
	return value.Number(r), nil
}

func applyPi(_ []value.Value) (value.Value, *EvalError) {
	return value.Number(math.Pi), nil
}

func applyIf(args []value.Value) (value.Value, *EvalError) {
	cond, ok := args[0].(value.Bool)
	if !ok {
		return nil, typeMismatch("if: condition must be bool, got %s", value.Display(args[0]))
	}
	if cond {
		return args[1], nil
	}
	return args[2], nil
}

func applyNot(args []value.Value) (value.Value, *EvalError) {
	b, ok := args[0].(value.Bool)
	if !ok {
		return nil, typeMismatch("not: expected bool, got %s", value.Display(args[0]))
	}
	return value.Bool(!b), nil
}

func applyAnd(args []value.Value) (value.Value, *EvalError) {
	for _, a := range args {
		b, ok := a.(value.Bool)
		if !ok {
			return nil, typeMismatch("and: expected bool, got %s", value.Display(a))
		}
		if !b {
			return value.Bool(false), nil
		}
	}
	return value.Bool(true), nil
}

func applyOr(args []value.Value) (value.Value, *EvalError) {
	for _, a := range args {
		b, ok := a.(value.Bool)
		if !ok {
			return nil, typeMismatch("or: expected bool, got %s", value.Display(a))
		}
		if b {
			return value.Bool(true), nil
		}
	}
	return value.Bool(false), nil
}

func applyConcat(args []value.Value) (value.Value, *EvalError) {
	var sb strings.Builder
	for _, a := range args {
		switch val := a.(type) {
		case value.String:
			sb.WriteString(string(val))
		case value.Number, value.Bool:
			sb.WriteString(value.Display(val))
		case nil, value.Null:
		default:
			return nil, typeMismatch("concat: expected scalar, got %s", value.Display(a))
		}
	}
	return value.String(sb.String()), nil
}
