package formula

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
)

type evaluator struct {
	ctx   context.Context
	total float64
}

func (ev *evaluator) check() error {
	if err := ev.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	}
	return nil
}

type node interface {
	eval(ev *evaluator) (float64, error)
}

type numberNode float64

func (n numberNode) eval(*evaluator) (float64, error) { return float64(n), nil }

type totalNode struct{}

func (totalNode) eval(ev *evaluator) (float64, error) { return ev.total, nil }

type negNode struct {
	operand node
}

func (n *negNode) eval(ev *evaluator) (float64, error) {
	v, err := n.operand.eval(ev)
	if err != nil {
		return 0, err
	}
	return -v, nil
}

type binaryNode struct {
	op          byte
	left, right node
}

func (n *binaryNode) eval(ev *evaluator) (float64, error) {
	if err := ev.check(); err != nil {
		return 0, err
	}

	l, err := n.left.eval(ev)
	if err != nil {
		return 0, err
	}
	r, err := n.right.eval(ev)
	if err != nil {
		return 0, err
	}

	switch n.op {
	case '+':
		return l + r, nil
	case '-':
		return l - r, nil
	case '*':
		return l * r, nil
	case '/':
		if r == 0 {
			return 0, ErrDivisionByZero
		}
		return l / r, nil
	}
	return 0, fmt.Errorf("%w: unknown operator %q", ErrSyntax, n.op)
}

type callNode struct {
	name string
	fn   function
	args []node
}

func (n *callNode) eval(ev *evaluator) (float64, error) {
	if err := ev.check(); err != nil {
		return 0, err
	}

	values := make([]float64, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ev)
		if err != nil {
			return 0, err
		}
		values[i] = v
	}

	v, err := n.fn.apply(values)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", n.name, err)
	}
	return v, nil
}

type function struct {
	minArgs int
	maxArgs int // 0 means variadic
	apply   func(args []float64) (float64, error)
}

func (f function) arity() string {
	switch {
	case f.maxArgs == 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs:
		if f.minArgs == 1 {
			return "1 argument"
		}
		return strconv.Itoa(f.minArgs) + " arguments"
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

var functions = map[string]function{
	"abs": {minArgs: 1, maxArgs: 1, apply: func(args []float64) (float64, error) {
		return math.Abs(args[0]), nil
	}},
	"min": {minArgs: 2, apply: func(args []float64) (float64, error) {
		m := args[0]
		for _, v := range args[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	}},
	"max": {minArgs: 2, apply: func(args []float64) (float64, error) {
		m := args[0]
		for _, v := range args[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	}},
	"round": {minArgs: 1, maxArgs: 2, apply: roundHalfEven},
}

// roundHalfEven implements round(x) and round(x, digits). Ties go to the even neighbour.
func roundHalfEven(args []float64) (float64, error) {
	if len(args) == 1 {
		return math.RoundToEven(args[0]), nil
	}

	digits := args[1]
	if digits != math.Trunc(digits) {
		return 0, fmt.Errorf("%w: digits must be a whole number", ErrSyntax)
	}
	if digits < -15 || digits > 15 {
		return 0, fmt.Errorf("%w: digits must be between -15 and 15", ErrSyntax)
	}

	scale := math.Pow(10, digits)
	return math.RoundToEven(args[0]*scale) / scale, nil
}
