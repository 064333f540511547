// Package formula implements the restricted arithmetic language administrators use to
// define a custom quote price formula.
//
// An expression may reference a single variable, total, numeric literals, the operators
// + - * / with parentheses, and the functions abs, min, max and round. Anything else is a
// syntax error: there is no name lookup beyond that fixed set, so the language cannot
// reach the host program.
package formula

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

const (
	// MaxLength is the longest expression accepted, in bytes.
	MaxLength = 500
	// MaxDepth bounds the nesting of parentheses, unary signs and calls.
	MaxDepth = 32
	// DefaultTimeout bounds a single evaluation when the caller sets no deadline.
	DefaultTimeout = 50 * time.Millisecond
	// SampleTotal is the value of total used when validating an expression.
	SampleTotal = 100.0
)

var (
	ErrEmpty          = errors.New("formula is empty")
	ErrTooLong        = errors.New("formula is too long")
	ErrForbiddenToken = errors.New("formula contains a forbidden token")
	ErrSyntax         = errors.New("formula syntax error")
	ErrTooDeep        = errors.New("formula is nested too deeply")
	ErrDivisionByZero = errors.New("division by zero")
	ErrNotFinite      = errors.New("formula result is not a finite number")
	ErrNegativeResult = errors.New("formula result is negative")
	ErrTimeout        = errors.New("formula evaluation timed out")
)

// forbiddenPattern matches tokens that have no business in a price formula. The parser
// would reject them anyway; matching them first gives the editor a precise message.
var forbiddenPattern = regexp.MustCompile(`(?i)__|\b(import|exec|eval|open|file|compile|globals|locals|vars|dir|getattr|setattr|delattr)\b`)

// Expr is a parsed expression, safe for concurrent evaluation.
type Expr struct {
	src  string
	root node
}

// String returns the source text the expression was parsed from.
func (e *Expr) String() string { return e.src }

// CheckForbidden reports the first deny-listed token found in the raw expression text.
func CheckForbidden(src string) error {
	if m := forbiddenPattern.FindString(src); m != "" {
		return fmt.Errorf("%w: %q", ErrForbiddenToken, m)
	}
	return nil
}

// Parse checks the raw text and builds an expression tree.
func Parse(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmpty
	}
	if len(src) > MaxLength {
		return nil, fmt.Errorf("%w: %d characters, limit is %d", ErrTooLong, len(src), MaxLength)
	}
	if err := CheckForbidden(src); err != nil {
		return nil, err
	}

	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{tokens: tokens}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at position %d", ErrSyntax, tok.text, tok.pos)
	}

	return &Expr{src: src, root: root}, nil
}

// Eval evaluates the expression with the given total. When ctx carries no deadline,
// DefaultTimeout applies.
func (e *Expr) Eval(ctx context.Context, total float64) (float64, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	ev := &evaluator{ctx: ctx, total: total}
	v, err := e.root.eval(ev)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// CheckResult rejects values that cannot be used as a price.
func CheckResult(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ErrNotFinite
	}
	if v < 0 {
		return fmt.Errorf("%w: %g", ErrNegativeResult, v)
	}
	return nil
}

// Evaluate parses src, evaluates it with total and checks the result is a usable price.
func Evaluate(ctx context.Context, src string, total float64) (float64, error) {
	expr, err := Parse(src)
	if err != nil {
		return 0, err
	}
	v, err := expr.Eval(ctx, total)
	if err != nil {
		return 0, err
	}
	if err := CheckResult(v); err != nil {
		return 0, err
	}
	return v, nil
}

// Validate reports whether src is an acceptable formula by parsing it and evaluating it
// once against SampleTotal.
func Validate(src string) error {
	_, err := Evaluate(context.Background(), src, SampleTotal)
	return err
}
