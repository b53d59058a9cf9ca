package formula

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// ErrSyntax is returned (wrapped) for malformed formula text.
var ErrSyntax = errors.New("formula syntax error")

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := rune(src[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '{':
			end := strings.IndexByte(src[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated { at %d", ErrSyntax, i)
			}
			name := strings.TrimSpace(src[i+1 : i+end])
			if name == "" {
				return nil, fmt.Errorf("%w: empty {} at %d", ErrSyntax, i)
			}
			toks = append(toks, token{tokIdent, name, i})
			i += end + 1
		case unicode.IsDigit(c) || (c == '.' && i+1 < len(src) && unicode.IsDigit(rune(src[i+1]))):
			start := i
			for i < len(src) && (unicode.IsDigit(rune(src[i])) || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case unicode.IsLetter(c) || c == '_':
			start := i
			for i < len(src) {
				r := rune(src[i])
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
					break
				}
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			op := src[i : i+1]
			if i+1 < len(src) {
				switch two := src[i : i+2]; two {
				case "<=", ">=", "==", "!=", "&&", "||":
					op = two
				}
			}
			switch op {
			case "+", "-", "*", "/", "<", ">", "!", "<=", ">=", "==", "!=", "&&", "||":
			default:
				return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, op, i)
			}
			toks = append(toks, token{tokOp, op, i})
			i += len(op)
		}
	}
	return append(toks, token{tokEOF, "", len(src)}), nil
}

// binary operator precedence, higher binds tighter
var precedence = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6,
}

type parser struct {
	toks []token
	pos  int
}

// Parse parses formula text into a Node.
func Parse(src string) (Node, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.expr(1)
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
	}
	return n, nil
}

// MustParse is Parse for formulas known to be valid; it panics otherwise.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) expr(minPrec int) (Node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		prec, ok := precedence[t.text]
		if t.kind != tokOp || !ok || prec < minPrec {
			return left, nil
		}
		p.next()
		right, err := p.expr(prec + 1)
		if err != nil {
			return nil, err
		}
		left = Binary{Op: Op(t.text), L: left, R: right}
	}
}

func (p *parser) unary() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "!" || t.text == "-") {
		p.next()
		x, err := p.unary()
		if err != nil {
			return nil, err
		}
		return Unary{Op: Op(t.text), X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		if !strings.Contains(t.text, ".") {
			i, err := strconv.ParseInt(t.text, 10, 64)
			if err == nil {
				return Const{Val: Int(i)}, nil
			}
		}
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at %d", ErrSyntax, t.text, t.pos)
		}
		return Const{Val: Real(f)}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return Lit(true), nil
		case "false":
			return Lit(false), nil
		}
		if p.peek().kind == tokLParen {
			return p.call(t.text)
		}
		return Var{Name: t.text}, nil
	case tokLParen:
		n, err := p.expr(1)
		if err != nil {
			return nil, err
		}
		if c := p.next(); c.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ) at %d", ErrSyntax, c.pos)
		}
		return n, nil
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at %d", ErrSyntax, t.text, t.pos)
}

func (p *parser) call(fn string) (Node, error) {
	p.next() // (
	c := Call{Fn: fn}
	if p.peek().kind == tokRParen {
		p.next()
		return c, nil
	}
	for {
		arg, err := p.expr(1)
		if err != nil {
			return nil, err
		}
		c.Args = append(c.Args, arg)
		switch t := p.next(); t.kind {
		case tokComma:
		case tokRParen:
			return c, nil
		default:
			return nil, fmt.Errorf("%w: expected , or ) at %d", ErrSyntax, t.pos)
		}
	}
}
