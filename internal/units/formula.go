package units

import (
	"fmt"
	"math"
	"strconv"
)

// Formula grammar limits. Formulas arrive from the network, so both the
// input size and the parser recursion are bounded.
const (
	// maxFormulaLength is the maximum accepted formula string length.
	maxFormulaLength = 512

	// maxFormulaDepth is the maximum nesting depth of the parsed
	// expression (parentheses, chained unary minus, exponents).
	maxFormulaDepth = 32

	// variableName is the single identifier a formula may reference.
	variableName = "value"
)

// Formula is a compiled conversion expression with a single free variable.
//
// Supported grammar: real-number literals (scientific notation allowed),
// the identifier "value", binary + - * /, exponentiation with ^
// (right-associative), unary minus, and parentheses. Nothing else.
//
// A compiled Formula is immutable and safe for concurrent use.
type Formula struct {
	src  string
	root node
}

// Compile parses a formula string into an evaluable Formula.
//
// Parameters:
//   - src: Expression text, e.g. "value * 1.94384" or
//     "(value - 273.15) * 9/5 + 32"
//
// Returns:
//   - *Formula: Compiled expression
//   - error: ErrFormulaSyntax if src is empty, too long, or not valid
//     under the supported grammar
func Compile(src string) (*Formula, error) {
	if src == "" {
		return nil, fmt.Errorf("%w: empty formula", ErrFormulaSyntax)
	}
	if len(src) > maxFormulaLength {
		return nil, fmt.Errorf("%w: formula exceeds %d bytes", ErrFormulaSyntax, maxFormulaLength)
	}

	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrFormulaSyntax, tok.text, tok.pos)
	}

	return &Formula{src: src, root: root}, nil
}

// Evaluate compiles and evaluates a formula in one call.
//
// Intended for one-off use; callers evaluating the same formula repeatedly
// should Compile once and reuse the Formula.
func Evaluate(src string, value float64) (float64, error) {
	f, err := Compile(src)
	if err != nil {
		return 0, err
	}
	return f.Eval(value)
}

// Eval evaluates the formula against a single input value.
//
// Parameters:
//   - value: The number bound to the "value" identifier
//
// Returns:
//   - float64: Result of the expression
//   - error: ErrFormulaEvaluation on division by zero or a non-finite
//     result (NaN, ±Inf)
func (f *Formula) Eval(value float64) (float64, error) {
	result, err := f.root.eval(value)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: non-finite result from %q", ErrFormulaEvaluation, f.src)
	}
	return result, nil
}

// String returns the original formula source.
func (f *Formula) String() string {
	return f.src
}

// ─── AST ─────────────────────────────────────────────────────────────────────

// node is one evaluable expression node.
type node interface {
	eval(value float64) (float64, error)
}

// literalNode is a numeric constant.
type literalNode float64

func (n literalNode) eval(float64) (float64, error) {
	return float64(n), nil
}

// variableNode is the single bound input variable.
type variableNode struct{}

func (variableNode) eval(value float64) (float64, error) {
	return value, nil
}

// negateNode is unary minus.
type negateNode struct {
	operand node
}

func (n negateNode) eval(value float64) (float64, error) {
	v, err := n.operand.eval(value)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

// binaryNode is one of the binary operators + - * / ^.
type binaryNode struct {
	op    byte
	left  node
	right node
}

func (n binaryNode) eval(value float64) (float64, error) {
	left, err := n.left.eval(value)
	if err != nil {
		return 0, err
	}
	right, err := n.right.eval(value)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case '+':
		return left + right, nil
	case '-':
		return left - right, nil
	case '*':
		return left * right, nil
	case '/':
		if right == 0 {
			return 0, fmt.Errorf("%w: division by zero", ErrFormulaEvaluation)
		}
		return left / right, nil
	case '^':
		return math.Pow(left, right), nil
	default:
		// Unreachable: the parser only emits the operators above.
		return 0, fmt.Errorf("%w: unknown operator %q", ErrFormulaEvaluation, n.op)
	}
}

// ─── Lexer ───────────────────────────────────────────────────────────────────

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokVariable
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokCaret
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	pos  int
	text string
	num  float64
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
}

// tokenize splits a formula string into tokens. Whitespace separates
// tokens and is otherwise ignored.
func tokenize(src string) ([]token, error) {
	toks := make([]token, 0, 16)
	i := 0

	for i < len(src) {
		c := src[i]

		switch {
		case c == ' ' || c == '\t':
			i++

		case isDigit(c) || c == '.':
			start := i
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				i++
			}
			// Optional exponent part: e or E, optional sign, digits.
			if i < len(src) && (src[i] == 'e' || src[i] == 'E') {
				j := i + 1
				if j < len(src) && (src[j] == '+' || src[j] == '-') {
					j++
				}
				if j < len(src) && isDigit(src[j]) {
					i = j
					for i < len(src) && isDigit(src[i]) {
						i++
					}
				}
			}
			text := src[start:i]
			num, err := strconv.ParseFloat(text, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number %q at offset %d", ErrFormulaSyntax, text, start)
			}
			toks = append(toks, token{kind: tokNumber, pos: start, text: text, num: num})

		case isIdentChar(c):
			start := i
			for i < len(src) && (isIdentChar(src[i]) || isDigit(src[i])) {
				i++
			}
			word := src[start:i]
			if word != variableName {
				return nil, fmt.Errorf("%w: unknown identifier %q at offset %d", ErrFormulaSyntax, word, start)
			}
			toks = append(toks, token{kind: tokVariable, pos: start, text: word})

		default:
			var kind tokenKind
			switch c {
			case '+':
				kind = tokPlus
			case '-':
				kind = tokMinus
			case '*':
				kind = tokStar
			case '/':
				kind = tokSlash
			case '^':
				kind = tokCaret
			case '(':
				kind = tokLParen
			case ')':
				kind = tokRParen
			default:
				return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrFormulaSyntax, string(c), i)
			}
			toks = append(toks, token{kind: kind, pos: i, text: string(c)})
			i++
		}
	}

	toks = append(toks, token{kind: tokEOF, pos: len(src), text: "end of formula"})
	return toks, nil
}

// ─── Parser ──────────────────────────────────────────────────────────────────

// parser is a recursive-descent parser over the token stream.
//
// Precedence, loosest to tightest: additive (+ -), multiplicative (* /),
// unary minus, exponent (^, right-associative), primary. Unary minus binds
// looser than ^, so "-value^2" parses as "-(value^2)" and "2^-3" is valid.
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

func (p *parser) parseExpr(depth int) (node, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokPlus:
			p.next()
			right, err := p.parseTerm(depth)
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '+', left: left, right: right}
		case tokMinus:
			p.next()
			right, err := p.parseTerm(depth)
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '-', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		switch p.peek().kind {
		case tokStar:
			p.next()
			right, err := p.parseUnary(depth)
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '*', left: left, right: right}
		case tokSlash:
			p.next()
			right, err := p.parseUnary(depth)
			if err != nil {
				return nil, err
			}
			left = binaryNode{op: '/', left: left, right: right}
		default:
			return left, nil
		}
	}
}

func (p *parser) parseUnary(depth int) (node, error) {
	if depth > maxFormulaDepth {
		return nil, fmt.Errorf("%w: formula nested deeper than %d levels", ErrFormulaSyntax, maxFormulaDepth)
	}
	if p.peek().kind == tokMinus {
		p.next()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return negateNode{operand: operand}, nil
	}
	return p.parsePower(depth)
}

func (p *parser) parsePower(depth int) (node, error) {
	base, err := p.parsePrimary(depth)
	if err != nil {
		return nil, err
	}
	if p.peek().kind == tokCaret {
		p.next()
		// Right-associative: the exponent re-enters at unary level so
		// "2^-3" and "2^3^2" both parse.
		exp, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return binaryNode{op: '^', left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePrimary(depth int) (node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokNumber:
		p.next()
		return literalNode(tok.num), nil
	case tokVariable:
		p.next()
		return variableNode{}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: expected ')' but found %q at offset %d", ErrFormulaSyntax, closing.text, closing.pos)
		}
		return inner, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrFormulaSyntax, tok.text, tok.pos)
	}
}
