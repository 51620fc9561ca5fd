package formula

import (
	"slices"

	"github.com/cascadehq/cascade/internal/value"
)

// Expr is a parsed formula expression node. Formulas are represented
// as a small expression tree evaluated by an explicit interpreter with
// an injected allowlist of callable primitives; this is what makes the
// budget and capability restrictions enforceable.
type Expr interface {
	expr()
}

// Literal is a constant number, string, or boolean.
type Literal struct {
	Val value.Value
}

func (*Literal) expr() {}

// Ref reads a bound reference: a column in the same row (row-trigger
// formulas), a whole column (sheet aggregates), or an aggregate name.
type Ref struct {
	Name string
}

func (*Ref) expr() {}

// Call invokes an allowlisted function.
type Call struct {
	Func string
	Args []Expr
}

func (*Call) expr() {}

// Binary applies an arithmetic or comparison operator.
type Binary struct {
	Op    string // + - * / % ^ == != < <= > >=
	Left  Expr
	Right Expr
}

func (*Binary) expr() {}

// Unary applies negation.
type Unary struct {
	Op string // -
	X  Expr
}

func (*Unary) expr() {}

// Parsed is a compiled formula: the expression tree plus the declared
// dependency set extracted once at save time.
type Parsed struct {
	Source string
	Expr   Expr
	Refs   []string // referenced names, sorted, deduplicated
}

// collectRefs walks an expression gathering referenced names.
func collectRefs(e Expr, into map[string]bool) {
	switch n := e.(type) {
	case *Literal:
	case *Ref:
		into[n.Name] = true
	case *Call:
		for _, a := range n.Args {
			collectRefs(a, into)
		}
	case *Binary:
		collectRefs(n.Left, into)
		collectRefs(n.Right, into)
	case *Unary:
		collectRefs(n.X, into)
	}
}

func sortedRefs(set map[string]bool) []string {
	refs := make([]string, 0, len(set))
	for name := range set {
		refs = append(refs, name)
	}
	slices.Sort(refs)
	return refs
}
