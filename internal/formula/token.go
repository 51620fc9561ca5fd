package formula

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp     // + - * / % ^
	tokCmp    // == != < <= > >=
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes a formula source string. The language is a single
// expression: literals, references, calls, and operators. Anything
// else is a parse error at save time, never at recompute time.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9' || c == '.' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			seenDot := false
			for i < len(src) {
				d := src[i]
				if d >= '0' && d <= '9' {
					i++
					continue
				}
				if d == '.' && !seenDot {
					seenDot = true
					i++
					continue
				}
				if (d == 'e' || d == 'E') && i+1 < len(src) {
					next := src[i+1]
					if next >= '0' && next <= '9' || (next == '+' || next == '-') && i+2 < len(src) && src[i+2] >= '0' && src[i+2] <= '9' {
						i += 2
						for i < len(src) && src[i] >= '0' && src[i] <= '9' {
							i++
						}
					}
				}
				break
			}
			toks = append(toks, token{tokNumber, src[start:i], start})

		case c == '"':
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					switch src[i+1] {
					case '"':
						sb.WriteByte('"')
					case '\\':
						sb.WriteByte('\\')
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						return nil, fmt.Errorf("position %d: unknown escape \\%c", i, src[i+1])
					}
					i += 2
					continue
				}
				if src[i] == '"' {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("position %d: unterminated string", start)
			}
			toks = append(toks, token{tokString, sb.String(), start})

		case isIdentStart(rune(c)):
			start := i
			for i < len(src) && isIdentPart(rune(src[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})

		case c == '+' || c == '-' || c == '*' || c == '/' || c == '%' || c == '^':
			toks = append(toks, token{tokOp, string(c), i})
			i++

		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{tokCmp, src[i : i+2], start})
				i += 2
			} else if c == '<' || c == '>' {
				toks = append(toks, token{tokCmp, string(c), start})
				i++
			} else {
				return nil, fmt.Errorf("position %d: unexpected %q", i, string(c))
			}

		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++

		default:
			return nil, fmt.Errorf("position %d: unexpected character %q", i, string(c))
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
