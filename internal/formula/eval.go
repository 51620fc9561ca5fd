package formula

import (
	"fmt"
	"math"
	"time"

	"github.com/cascadehq/cascade/internal/value"
)

// Context is the read-only mapping of referenced names to values bound
// for one evaluation. Row-trigger formulas see same-row cells and
// aggregate scalars; sheet aggregates see whole columns as lists.
type Context map[string]value.Value

// Budget bounds one evaluation. Exceeding either limit fails with
// CodeTimeout; evaluation never partially writes anything, so hitting
// the budget is always safe.
type Budget struct {
	MaxSteps int           // interpreter steps; 0 means DefaultMaxSteps
	Timeout  time.Duration // wall clock; 0 means no deadline
}

// DefaultMaxSteps bounds a single evaluation. Workbook formulas are
// small; anything approaching this is runaway input.
const DefaultMaxSteps = 10000

// deadlineCheckInterval controls how often the wall clock is consulted.
const deadlineCheckInterval = 64

// EvalError is a contained, per-cell evaluation failure. It becomes an
// error-valued cell, never a crashed pass.
type EvalError struct {
	Code    value.ErrorCode
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Value converts the failure to its error-as-data form.
func (e *EvalError) Value() value.Error {
	return value.Error{Code: e.Code, Message: e.Message}
}

func typeMismatch(format string, args ...any) *EvalError {
	return &EvalError{Code: value.CodeTypeMismatch, Message: fmt.Sprintf(format, args...)}
}

func runtimeFault(format string, args ...any) *EvalError {
	return &EvalError{Code: value.CodeRuntimeFault, Message: fmt.Sprintf(format, args...)}
}

// Eval executes a compiled formula against a bound context. It is a
// pure function of (formula, context, budget): identical inputs always
// produce identical output. The environment exposes only the builtin
// allowlist and the bound reference values.
//
// An error-valued reference propagates: the evaluation's result is
// that same error.
func Eval(p *Parsed, ctx Context, budget Budget) (value.Value, *EvalError) {
	maxSteps := budget.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	ev := &evaluator{ctx: ctx, maxSteps: maxSteps}
	if budget.Timeout > 0 {
		ev.deadline = time.Now().Add(budget.Timeout)
	}

	v, err := ev.eval(p.Expr)
	if err != nil {
		return nil, err
	}
	if n, ok := v.(value.Number); ok {
		f := float64(n)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, runtimeFault("non-finite result")
		}
	}
	return v, nil
}

type evaluator struct {
	ctx      Context
	steps    int
	maxSteps int
	deadline time.Time
}

func (ev *evaluator) step() *EvalError {
	ev.steps++
	if ev.steps > ev.maxSteps {
		return &EvalError{Code: value.CodeTimeout, Message: fmt.Sprintf("step budget exhausted (%d steps)", ev.maxSteps)}
	}
	if !ev.deadline.IsZero() && ev.steps%deadlineCheckInterval == 0 && time.Now().After(ev.deadline) {
		return &EvalError{Code: value.CodeTimeout, Message: "evaluation deadline exceeded"}
	}
	return nil
}

func (ev *evaluator) eval(e Expr) (value.Value, *EvalError) {
	if err := ev.step(); err != nil {
		return nil, err
	}

	switch n := e.(type) {
	case *Literal:
		return n.Val, nil

	case *Ref:
		v, ok := ev.ctx[n.Name]
		if !ok {
			// The dependency graph binds every declared reference, so a
			// miss here is an internal-consistency fault, not user error.
			return nil, &EvalError{
				Code:    value.CodeUnknownReference,
				Message: fmt.Sprintf("reference %q not bound", n.Name),
			}
		}
		if errVal, ok := v.(value.Error); ok {
			return nil, &EvalError{Code: errVal.Code, Message: errVal.Message}
		}
		return v, nil

	case *Call:
		args := make([]value.Value, len(n.Args))
		for i, argExpr := range n.Args {
			v, err := ev.eval(argExpr)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		if err := firstErrorValue(args); err != nil {
			return nil, err
		}
		return builtins[n.Func].apply(args)

	case *Unary:
		v, err := ev.eval(n.X)
		if err != nil {
			return nil, err
		}
		f, err := asNumber("negate", v)
		if err != nil {
			return nil, err
		}
		return value.Number(-f), nil

	case *Binary:
		left, err := ev.eval(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(n.Right)
		if err != nil {
			return nil, err
		}
		return applyBinary(n.Op, left, right)
	}
	return nil, runtimeFault("unknown expression node %T", e)
}

// firstErrorValue surfaces an error value found among call arguments,
// scanning lists in row order so propagation is deterministic.
func firstErrorValue(args []value.Value) *EvalError {
	var find func(v value.Value) *value.Error
	find = func(v value.Value) *value.Error {
		switch val := v.(type) {
		case value.Error:
			return &val
		case value.List:
			for _, elem := range val {
				if e := find(elem); e != nil {
					return e
				}
			}
		}
		return nil
	}
	for _, a := range args {
		if e := find(a); e != nil {
			return &EvalError{Code: e.Code, Message: e.Message}
		}
	}
	return nil
}

func applyBinary(op string, left, right value.Value) (value.Value, *EvalError) {
	switch op {
	case "+", "-", "*", "/", "%", "^":
		l, err := asNumber(op, left)
		if err != nil {
			return nil, err
		}
		r, err := asNumber(op, right)
		if err != nil {
			return nil, err
		}
		return applyArithmetic(op, l, r)

	case "==":
		return value.Bool(value.Equal(left, right)), nil
	case "!=":
		return value.Bool(!value.Equal(left, right)), nil

	case "<", "<=", ">", ">=":
		return applyOrdering(op, left, right)
	}
	return nil, runtimeFault("unknown operator %q", op)
}

func applyArithmetic(op string, l, r float64) (value.Value, *EvalError) {
	var result float64
	switch op {
	case "+":
		result = l + r
	case "-":
		result = l - r
	case "*":
		result = l * r
	case "/":
		if r == 0 {
			return nil, runtimeFault("division by zero")
		}
		result = l / r
	case "%":
		if r == 0 {
			return nil, runtimeFault("modulo by zero")
		}
		result = math.Mod(l, r)
	case "^":
		result = math.Pow(l, r)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return nil, runtimeFault("non-finite result of %s", op)
	}
	return value.Number(result), nil
}

// applyOrdering compares numbers numerically and strings
// lexicographically; mixed or unordered types are a type mismatch,
// never a silent coercion.
func applyOrdering(op string, left, right value.Value) (value.Value, *EvalError) {
	var cmp int
	switch l := left.(type) {
	case value.Number:
		r, ok := right.(value.Number)
		if !ok {
			return nil, typeMismatch("%s: cannot compare number with %s", op, value.Display(right))
		}
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	case value.String:
		r, ok := right.(value.String)
		if !ok {
			return nil, typeMismatch("%s: cannot compare string with %s", op, value.Display(right))
		}
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	default:
		return nil, typeMismatch("%s: cannot order %s", op, value.Display(left))
	}

	switch op {
	case "<":
		return value.Bool(cmp < 0), nil
	case "<=":
		return value.Bool(cmp <= 0), nil
	case ">":
		return value.Bool(cmp > 0), nil
	default:
		return value.Bool(cmp >= 0), nil
	}
}
