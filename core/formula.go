/*
formula.go - Sandboxed arithmetic formula parser and evaluator

PURPOSE:
  Derived indicators are defined by user-supplied formula text such as

      (@GDP - 900) / 900 * 100

  The only variable form is @CODE (one '@' prefix, alphanumeric code);
  everything else is a numeric literal, one of + - * / ^, or
  parentheses. '^' is exponentiation. The text is parsed into an AST by
  a recursive-descent parser over this restricted token set - formulas
  are user input and must never reach a general code-execution path.

NULL PROPAGATION:
  Evaluation never errors. If a referenced code is absent from the
  value map or maps to null, or the arithmetic has no finite result
  (division by zero, 0^-1, ...), the result is null: "cannot compute",
  not a failure.

GRAMMAR:
  expr    := term (('+'|'-') term)*
  term    := unary (('*'|'/') unary)*
  unary   := '-' unary | power
  power   := primary ('^' unary)?          # right-associative
  primary := NUMBER | '@'CODE | '(' expr ')'

SEE ALSO:
  - engine.go: Calls Eval during propagation
  - graph.go: Edge sets come from Codes()
*/
package core

import (
	"math"
	"strconv"
	"strings"
)

// =============================================================================
// EXPRESSION - Parsed formula
// =============================================================================

// Expr is an immutable parsed formula. Safe for concurrent use.
type Expr struct {
	text  string
	root  node
	codes []Code
}

// ParseFormula parses formula text into an expression, or returns a
// FormulaError (unwrapping to ErrInvalidFormula).
func ParseFormula(text string) (*Expr, error) {
	toks, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{text: text, toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, &FormulaError{Formula: text, Position: p.peek().pos, Message: "unexpected trailing input"}
	}
	e := &Expr{text: text, root: root}
	seen := map[Code]bool{}
	collectCodes(root, seen, &e.codes)
	return e, nil
}

// String returns the original formula text.
func (e *Expr) String() string { return e.text }

// Codes returns the referenced indicator codes in first-appearance
// order, deduplicated.
func (e *Expr) Codes() []Code {
	out := make([]Code, len(e.codes))
	copy(out, e.codes)
	return out
}

// Eval computes the formula over the given values. Any missing or null
// reference, and any non-finite arithmetic result, yields null.
func (e *Expr) Eval(values map[Code]Value) Value {
	f, ok := e.root.eval(values)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return Null()
	}
	return ValueFromFloat(f)
}

// =============================================================================
// AST
// =============================================================================

type node interface {
	eval(values map[Code]Value) (float64, bool)
}

type numNode struct{ val float64 }

func (n numNode) eval(map[Code]Value) (float64, bool) { return n.val, true }

type refNode struct{ code Code }

func (n refNode) eval(values map[Code]Value) (float64, bool) {
	v, ok := values[n.code]
	if !ok {
		return 0, false
	}
	return v.Float()
}

type negNode struct{ operand node }

func (n negNode) eval(values map[Code]Value) (float64, bool) {
	f, ok := n.operand.eval(values)
	return -f, ok
}

type binNode struct {
	op          byte
	left, right node
}

func (n binNode) eval(values map[Code]Value) (float64, bool) {
	l, ok := n.left.eval(values)
	if !ok {
		return 0, false
	}
	r, ok := n.right.eval(values)
	if !ok {
		return 0, false
	}
	switch n.op {
	case '+':
		return l + r, true
	case '-':
		return l - r, true
	case '*':
		return l * r, true
	case '/':
		if r == 0 {
			return 0, false
		}
		return l / r, true
	default: // '^'
		return math.Pow(l, r), true
	}
}

func collectCodes(n node, seen map[Code]bool, out *[]Code) {
	switch t := n.(type) {
	case refNode:
		if !seen[t.code] {
			seen[t.code] = true
			*out = append(*out, t.code)
		}
	case negNode:
		collectCodes(t.operand, seen, out)
	case binNode:
		collectCodes(t.left, seen, out)
		collectCodes(t.right, seen, out)
	}
}

// =============================================================================
// TOKENIZER
// =============================================================================

type tokKind int

const (
	tokEOF tokKind = iota
	tokNum
	tokRef
	tokOp     // + - * / ^
	tokLParen
	tokRParen
)

type token struct {
	kind tokKind
	pos  int
	op   byte
	num  float64
	code Code
}

func isCodeChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

func tokenize(text string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+' || c == '-' || c == '*' || c == '/' || c == '^':
			toks = append(toks, token{kind: tokOp, pos: i, op: c})
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, pos: i})
			i++
		case c == '@':
			start := i
			i++
			for i < len(text) && isCodeChar(text[i]) {
				i++
			}
			if i == start+1 {
				return nil, &FormulaError{Formula: text, Position: start, Message: "'@' must be followed by an indicator code"}
			}
			toks = append(toks, token{kind: tokRef, pos: start, code: Code(text[start+1 : i])})
		case c >= '0' && c <= '9' || c == '.':
			start := i
			for i < len(text) && (text[i] >= '0' && text[i] <= '9' || text[i] == '.') {
				i++
			}
			lit := text[start:i]
			if strings.Count(lit, ".") > 1 {
				return nil, &FormulaError{Formula: text, Position: start, Message: "malformed number " + strconv.Quote(lit)}
			}
			f, err := strconv.ParseFloat(lit, 64)
			if err != nil {
				return nil, &FormulaError{Formula: text, Position: start, Message: "malformed number " + strconv.Quote(lit)}
			}
			toks = append(toks, token{kind: tokNum, pos: start, num: f})
		default:
			return nil, &FormulaError{Formula: text, Position: i, Message: "unexpected character " + strconv.QuoteRune(rune(c))}
		}
	}
	toks = append(toks, token{kind: tokEOF, pos: len(text)})
	return toks, nil
}

// =============================================================================
// PARSER - Recursive descent
// =============================================================================

type parser struct {
	text string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) parseExpr() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '+' && t.op != '-') {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = binNode{op: t.op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.op != '*' && t.op != '/') {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binNode{op: t.op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	t := p.peek()
	if t.kind == tokOp && t.op == '-' {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return negNode{operand: operand}, nil
	}
	return p.parsePower()
}

func (p *parser) parsePower() (node, error) {
	base, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp && t.op == '^' {
		p.next()
		// Right-associative: 2^3^2 == 2^(3^2).
		exp, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return binNode{op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokNum:
		return numNode{val: t.num}, nil
	case tokRef:
		return refNode{code: t.code}, nil
	case tokLParen:
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		closing := p.next()
		if closing.kind != tokRParen {
			return nil, &FormulaError{Formula: p.text, Position: closing.pos, Message: "missing closing parenthesis"}
		}
		return inner, nil
	case tokEOF:
		return nil, &FormulaError{Formula: p.text, Position: t.pos, Message: "unexpected end of formula"}
	default:
		return nil, &FormulaError{Formula: p.text, Position: t.pos, Message: "unexpected token"}
	}
}
