package formula

import (
	"fmt"
	"strconv"

	"github.com/cascadehq/cascade/internal/value"
)

// Parse compiles a formula source into an expression tree and its
// declared dependency set. Parsing happens once at formula-save time;
// a formula that parses never fails structurally at recompute time.
func Parse(src string) (*Parsed, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("parse formula: %w", err)
	}
	p := &parser{toks: toks}
	expr, err := p.parseExpr()
	if err != nil {
		return nil, fmt.Errorf("parse formula: %w", err)
	}
	if p.peek().kind != tokEOF {
		t := p.peek()
		return nil, fmt.Errorf("parse formula: position %d: unexpected %q after expression", t.pos, t.text)
	}

	refSet := make(map[string]bool)
	collectRefs(expr, refSet)

	return &Parsed{Source: src, Expr: expr, Refs: sortedRefs(refSet)}, nil
}

// parser is a recursive-descent parser with precedence climbing.
// Precedence, low to high: comparison, additive, multiplicative,
// power (right-associative), unary minus, primary.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (Expr, error) {
	return p.parseComparison()
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokCmp {
		op := p.next().text
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (Expr, error) {
	left, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOp && (p.peek().text == "*" || p.peek().text == "/" || p.peek().text == "%") {
		op := p.next().text
		right, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parsePower() (Expr, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokOp && p.peek().text == "^" {
		p.next()
		// Right-associative: a^b^c parses as a^(b^c).
		exp, err := p.parsePower()
		if err != nil {
			return nil, err
		}
		return &Binary{Op: "^", Left: base, Right: exp}, nil
	}
	return base, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.peek().kind == tokOp && p.peek().text == "-" {
		p.next()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &Unary{Op: "-", X: x}, nil
	}
	if p.peek().kind == tokOp && p.peek().text == "+" {
		p.next()
		return p.parseUnary()
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.peek()
	switch t.kind {
	case tokNumber:
		p.next()
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("position %d: invalid number %q", t.pos, t.text)
		}
		return &Literal{Val: value.Number(f)}, nil

	case tokString:
		p.next()
		return &Literal{Val: value.String(t.text)}, nil

	case tokIdent:
		p.next()
		switch t.text {
		case "true":
			return &Literal{Val: value.Bool(true)}, nil
		case "false":
			return &Literal{Val: value.Bool(false)}, nil
		}
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return &Ref{Name: t.text}, nil

	case tokLParen:
		p.next()
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, fmt.Errorf("position %d: missing closing parenthesis", p.peek().pos)
		}
		p.next()
		return inner, nil
	}
	return nil, fmt.Errorf("position %d: unexpected %q", t.pos, t.text)
}

func (p *parser) parseCall(name token) (Expr, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, fmt.Errorf("position %d: unknown function %q", name.pos, name.text)
	}

	p.next() // consume (
	var args []Expr
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
	}
	if p.peek().kind != tokRParen {
		return nil, fmt.Errorf("position %d: missing closing parenthesis in call to %s", p.peek().pos, name.text)
	}
	p.next()

	if err := fn.checkArity(len(args)); err != nil {
		return nil, fmt.Errorf("position %d: %w", name.pos, err)
	}
	return &Call{Func: name.text, Args: args}, nil
}
