package fingerprint

import (
	"fmt"
	"math"
	"strings"

	"github.com/Knetic/govaluate"
)

// calcVariable names the value read by a ByteJump inside a calc expression
const calcVariable = "x"

// Operator precedence; shifts bind loosest, unary minus tightest
var calcPrecedence = map[string]int{
	"<<": 1, ">>": 1,
	"+": 2, "-": 2,
	"*": 3, "/": 3, "%": 3,
	"neg": 4,
}

type calcStepKind int

const (
	calcLiteral calcStepKind = iota
	calcVar
	calcOperator
	calcOpenParen
)

type calcStep struct {
	kind  calcStepKind
	value int64
	op    string
}

// Calc is a compiled ByteJump arithmetic transform over the read value x.
// Steps are kept in postfix order and evaluated with int64 arithmetic, so
// every division truncates toward zero.
type Calc struct {
	Source string
	steps  []calcStep
}

// CompileCalc parses a ByteJump transform. The grammar is restricted to
// integer literals, the variable x, the operators + - * / % << >> and
// parentheses. An expression that starts with an operator ("/2") is applied
// to x.
func CompileCalc(source string) (*Calc, error) {
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	for _, r := range src {
		switch {
		case r >= '0' && r <= '9', r == 'x', r == 'X':
		case strings.ContainsRune("+-*/%()<> \t", r):
		default:
			return nil, fmt.Errorf("%w: %q contains %q", ErrInvalidExpression, source, r)
		}
	}
	src = strings.ReplaceAll(src, "X", calcVariable)
	first := rune(src[0])
	if strings.ContainsRune("*/%<>", first) || (strings.ContainsRune("+-", first) && !strings.Contains(src, calcVariable)) {
		src = calcVariable + src
	}

	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, source, err)
	}
	steps, err := toPostfix(expr.Tokens())
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, source, err)
	}
	return &Calc{Source: source, steps: steps}, nil
}

// toPostfix orders tokens for a stack machine and checks that the result is
// a single arithmetic value
func toPostfix(tokens []govaluate.ExpressionToken) ([]calcStep, error) {
	var out, ops []calcStep

	pushOperator := func(op string) {
		p := calcPrecedence[op]
		for len(ops) > 0 {
			top := ops[len(ops)-1]
			// unary minus is right-associative, binary operators left
			if top.kind != calcOperator || calcPrecedence[top.op] < p || (op == "neg" && top.op == "neg") {
				break
			}
			out = append(out, top)
			ops = ops[:len(ops)-1]
		}
		ops = append(ops, calcStep{kind: calcOperator, op: op})
	}

	for _, tok := range tokens {
		switch tok.Kind {
		case govaluate.NUMERIC:
			f, ok := tok.Value.(float64)
			if !ok || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
				return nil, fmt.Errorf("literal %v is not an integer", tok.Value)
			}
			out = append(out, calcStep{kind: calcLiteral, value: int64(f)})
		case govaluate.VARIABLE:
			if tok.Value != calcVariable {
				return nil, fmt.Errorf("unknown variable %v", tok.Value)
			}
			out = append(out, calcStep{kind: calcVar})
		case govaluate.PREFIX:
			if tok.Value != "-" {
				return nil, fmt.Errorf("operator %v not allowed", tok.Value)
			}
			pushOperator("neg")
		case govaluate.MODIFIER:
			op, _ := tok.Value.(string)
			if _, ok := calcPrecedence[op]; !ok || op == "neg" {
				return nil, fmt.Errorf("operator %v not allowed", tok.Value)
			}
			pushOperator(op)
		case govaluate.CLAUSE:
			ops = append(ops, calcStep{kind: calcOpenParen})
		case govaluate.CLAUSE_CLOSE:
			for len(ops) > 0 && ops[len(ops)-1].kind != calcOpenParen {
				out = append(out, ops[len(ops)-1])
				ops = ops[:len(ops)-1]
			}
			if len(ops) == 0 {
				return nil, fmt.Errorf("unbalanced parenthesis")
			}
			ops = ops[:len(ops)-1]
		default:
			return nil, fmt.Errorf("%v %v not allowed", tok.Kind.String(), tok.Value)
		}
	}
	for len(ops) > 0 {
		top := ops[len(ops)-1]
		if top.kind == calcOpenParen {
			return nil, fmt.Errorf("unbalanced parenthesis")
		}
		out = append(out, top)
		ops = ops[:len(ops)-1]
	}

	depth := 0
	for _, s := range out {
		switch {
		case s.kind != calcOperator:
			depth++
		case s.op == "neg":
			if depth < 1 {
				return nil, fmt.Errorf("missing operand")
			}
		default:
			if depth < 2 {
				return nil, fmt.Errorf("missing operand")
			}
			depth--
		}
	}
	if depth != 1 {
		return nil, fmt.Errorf("expression does not yield one value")
	}
	return out, nil
}

// Apply evaluates the transform for x. Every intermediate result is an
// int64; division truncates toward zero. Division or modulo by zero and
// shift counts outside 0..63 are errors.
func (c *Calc) Apply(x int64) (int64, error) {
	if c == nil || len(c.steps) == 0 {
		return x, nil
	}

	stack := make([]int64, 0, len(c.steps))
	for _, s := range c.steps {
		switch s.kind {
		case calcLiteral:
			stack = append(stack, s.value)
		case calcVar:
			stack = append(stack, x)
		case calcOperator:
			if s.op == "neg" {
				stack[len(stack)-1] = -stack[len(stack)-1]
				continue
			}
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			stack = stack[:len(stack)-2]
			v, err := applyOperator(s.op, a, b)
			if err != nil {
				return 0, fmt.Errorf("calc %q: %w", c.Source, err)
			}
			stack = append(stack, v)
		}
	}
	return stack[0], nil
}

func applyOperator(op string, a, b int64) (int64, error) {
	switch op {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return a % b, nil
	case "<<":
		if b < 0 || b > 63 {
			return 0, fmt.Errorf("shift count %d out of range", b)
		}
		return a << uint(b), nil
	case ">>":
		if b < 0 || b > 63 {
			return 0, fmt.Errorf("shift count %d out of range", b)
		}
		return a >> uint(b), nil
	default:
		return 0, fmt.Errorf("unknown operator %s", op)
	}
}
