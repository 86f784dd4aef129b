package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/meshkit-ai/meshkit/core"
)

type calculatorArgs struct {
	Expression string `json:"expression" description:"Arithmetic expression to evaluate, e.g. (2+3)*sqrt(16)"`
}

// NewCalculator returns a tool that evaluates arithmetic expressions with
// +, -, *, /, %, ^, parentheses and a small set of functions. Evaluation is
// local and deterministic; no code is executed.
func NewCalculator() *FunctionTool {
	return NewFunctionToolFromStruct(
		"calculator",
		"Evaluate an arithmetic expression and return the numeric result.",
		calculatorArgs{},
		func(toolCtx *core.ToolContext, args map[string]any) (any, error) {
			expr, _ := args["expression"].(string)
			result, err := evalExpression(expr)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"expression": expr,
				"result":     result,
			}, nil
		},
	)
}

// evalExpression parses and evaluates expr with a recursive descent parser.
//
// Grammar:
//
//	expr   := term (('+' | '-') term)*
//	term   := unary (('*' | '/' | '%') unary)*
//	unary  := '-' unary | power
//	power  := atom ('^' unary)?
//	atom   := number | ident '(' expr ')' | ident | '(' expr ')'
func evalExpression(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseExpr()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected character %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("expression does not evaluate to a finite number")
	}
	return v, nil
}

type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *exprParser) parseExpr() (float64, error) {
	left, err := p.parseTerm()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseTerm()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseTerm() (float64, error) {
	left, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		case '%':
			p.pos++
			right, err := p.parseUnary()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("modulo by zero")
			}
			left = math.Mod(left, right)
		default:
			return left, nil
		}
	}
}

func (p *exprParser) parseUnary() (float64, error) {
	if p.peek() == '-' {
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	}
	return p.parsePower()
}

func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseAtom()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parseUnary() // right associative
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

func (p *exprParser) parseAtom() (float64, error) {
	c := p.peek()

	switch {
	case c == '(':
		p.pos++
		v, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil

	case c >= '0' && c <= '9' || c == '.':
		start := p.pos
		for p.pos < len(p.input) {
			ch := p.input[p.pos]
			if ch >= '0' && ch <= '9' || ch == '.' || ch == 'e' || ch == 'E' {
				p.pos++
				continue
			}
			// Exponent sign only directly after e/E.
			if (ch == '+' || ch == '-') && p.pos > start {
				prev := p.input[p.pos-1]
				if prev == 'e' || prev == 'E' {
					p.pos++
					continue
				}
			}
			break
		}
		v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
		}
		return v, nil

	case isAlpha(c):
		start := p.pos
		for p.pos < len(p.input) && (isAlpha(p.input[p.pos]) || p.input[p.pos] >= '0' && p.input[p.pos] <= '9') {
			p.pos++
		}
		name := strings.ToLower(p.input[start:p.pos])

		switch name {
		case "pi":
			return math.Pi, nil
		case "e":
			return math.E, nil
		}

		if p.peek() != '(' {
			return 0, fmt.Errorf("unknown identifier %q", name)
		}
		p.pos++
		arg, err := p.parseExpr()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis after %s", name)
		}
		p.pos++

		return applyFunc(name, arg)

	case c == 0:
		return 0, fmt.Errorf("unexpected end of expression")

	default:
		return 0, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}

func applyFunc(name string, arg float64) (float64, error) {
	switch name {
	case "sqrt":
		if arg < 0 {
			return 0, fmt.Errorf("sqrt of negative number")
		}
		return math.Sqrt(arg), nil
	case "abs":
		return math.Abs(arg), nil
	case "ln":
		if arg <= 0 {
			return 0, fmt.Errorf("ln of non-positive number")
		}
		return math.Log(arg), nil
	case "log":
		if arg <= 0 {
			return 0, fmt.Errorf("log of non-positive number")
		}
		return math.Log10(arg), nil
	case "exp":
		return math.Exp(arg), nil
	case "sin":
		return math.Sin(arg), nil
	case "cos":
		return math.Cos(arg), nil
	case "tan":
		return math.Tan(arg), nil
	case "floor":
		return math.Floor(arg), nil
	case "ceil":
		return math.Ceil(arg), nil
	case "round":
		return math.Round(arg), nil
	default:
		return 0, fmt.Errorf("unknown function %q", name)
	}
}

func isAlpha(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
