package pricing

import (
	"context"
	"fmt"
	"math"

	"github.com/Simplici0/glassquote/internal/formula"
)

const defaultFormulaTimeout = formula.DefaultTimeout

// ValidateCustomFormula reports whether expr is acceptable as a custom formula. A nil
// error means the expression parsed and produced a non-negative number for a sample
// total.
func ValidateCustomFormula(expr string) error {
	return formula.Validate(expr)
}

// applyFormula maps the pre-formula total to the quote price. A formula that cannot be
// applied never blocks a quote: it is replaced by the default divisor formula and the
// reason is returned alongside.
func (c *Calculator) applyFormula(ctx context.Context, total float64) (float64, FormulaMode, string) {
	cfg := c.snap.Formula

	switch cfg.Mode {
	case ModeDivisor:
		if !usableFactor(cfg.DivisorValue) {
			return c.defaultFormula(total, fmt.Sprintf("divisor %v is not usable", cfg.DivisorValue))
		}
		return total / cfg.DivisorValue, ModeDivisor, ""

	case ModeMultiplier:
		if !usableFactor(cfg.MultiplierValue) {
			return c.defaultFormula(total, fmt.Sprintf("multiplier %v is not usable", cfg.MultiplierValue))
		}
		return total * cfg.MultiplierValue, ModeMultiplier, ""

	case ModeCustom:
		price, err := c.evaluateCustom(ctx, total)
		if err != nil {
			return c.defaultFormula(total, fmt.Sprintf("custom formula rejected: %v", err))
		}
		return price, ModeCustom, ""
	}

	return c.defaultFormula(total, fmt.Sprintf("unknown formula mode %q", cfg.Mode))
}

// evaluateCustom runs the sample check and the real evaluation under one formula
// deadline, so an expression that misbehaves for the sample total is never applied.
func (c *Calculator) evaluateCustom(ctx context.Context, total float64) (float64, error) {
	if c.customErr != nil {
		return 0, c.customErr
	}

	ctx, cancel := context.WithTimeout(ctx, c.formulaTimeout)
	defer cancel()

	if _, err := evalPrice(ctx, c.custom, formula.SampleTotal); err != nil {
		return 0, fmt.Errorf("sample total: %w", err)
	}
	return evalPrice(ctx, c.custom, total)
}

func evalPrice(ctx context.Context, expr *formula.Expr, total float64) (float64, error) {
	v, err := expr.Eval(ctx, total)
	if err != nil {
		return 0, err
	}
	if err := formula.CheckResult(v); err != nil {
		return 0, err
	}
	return v, nil
}

// defaultFormula is total / MarkupDivisor, or total / 0.28 when the configured divisor
// is itself unusable.
func (c *Calculator) defaultFormula(total float64, reason string) (float64, FormulaMode, string) {
	divisor := c.snap.Settings.MarkupDivisor
	if !usableFactor(divisor) {
		divisor = DefaultMarkupDivisor
	}
	return total / divisor, ModeDivisor, reason
}

func usableFactor(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
