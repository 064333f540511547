package formula

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_Arithmetic(t *testing.T) {
	tests := []struct {
		expr  string
		total float64
		want  float64
	}{
		{"total * 3.5", 100, 350},
		{"total / 0.28", 238.95, 853.3928571428571},
		{"total + 10 * 2", 5, 25},
		{"(total + 10) * 2", 5, 30},
		{"-total + 200", 50, 150},
		{"--total", 7, 7},
		{"+total", 7, 7},
		{"total - 2 - 3", 10, 5},
		{"total / 4 / 5", 100, 5},
		{".5 * total", 10, 5},
		{"1e2 + total", 1, 101},
		{"abs(total - 150)", 100, 50},
		{"min(total, 80)", 100, 80},
		{"max(total, 80, 120)", 100, 120},
		{"round(total / 3, 2)", 100, 33.33},
		{"round(2.5)", 0, 2},
		{"round(3.5)", 0, 4},
		{"max(total * 1.1, total + 25)", 100, 125},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Evaluate(context.Background(), tt.expr, tt.total)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestValidate_AcceptsAndRejects(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr error
	}{
		{name: "multiplier", expr: "total * 3.5"},
		{name: "functions", expr: "round(max(total / 0.28, 50), 2)"},
		{name: "import", expr: "import os", wantErr: ErrForbiddenToken},
		{name: "dunder", expr: "total.__class__", wantErr: ErrForbiddenToken},
		{name: "eval call", expr: "eval('1')", wantErr: ErrForbiddenToken},
		{name: "getattr", expr: "getattr(total, 'real')", wantErr: ErrForbiddenToken},
		{name: "open", expr: "open('/etc/passwd')", wantErr: ErrForbiddenToken},
		{name: "division by zero", expr: "total / 0", wantErr: ErrDivisionByZero},
		{name: "division by zero expression", expr: "total / (total - 100)", wantErr: ErrDivisionByZero},
		{name: "string literal", expr: "'hello'", wantErr: ErrSyntax},
		{name: "negative result", expr: "total - 1000", wantErr: ErrNegativeResult},
		{name: "empty", expr: "   ", wantErr: ErrEmpty},
		{name: "unknown name", expr: "price * 2", wantErr: ErrSyntax},
		{name: "power operator", expr: "total ** 2", wantErr: ErrSyntax},
		{name: "attribute access", expr: "total.real", wantErr: ErrSyntax},
		{name: "dangling operator", expr: "total *", wantErr: ErrSyntax},
		{name: "unbalanced paren", expr: "(total * 2", wantErr: ErrSyntax},
		{name: "function without call", expr: "abs", wantErr: ErrSyntax},
		{name: "min with one arg", expr: "min(total)", wantErr: ErrSyntax},
		{name: "abs with two args", expr: "abs(total, 1)", wantErr: ErrSyntax},
		{name: "fractional round digits", expr: "round(total, 1.5)", wantErr: ErrSyntax},
		{name: "overflow", expr: "total * 1e308 * 10", wantErr: ErrNotFinite},
		{name: "too long", expr: strings.Repeat("1+", MaxLength) + "1", wantErr: ErrTooLong},
		{name: "too deep", expr: strings.Repeat("(", MaxDepth+1) + "total" + strings.Repeat(")", MaxDepth+1), wantErr: ErrTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCheckForbidden_ReportsToken(t *testing.T) {
	err := CheckForbidden("total + __import__('os')")
	require.ErrorIs(t, err, ErrForbiddenToken)
	assert.Contains(t, err.Error(), `"__"`)

	assert.NoError(t, CheckForbidden("total * 2 + directory_fee"), "word boundaries keep longer identifiers out of the deny-list")
}

func TestExpr_EvalHonoursDeadline(t *testing.T) {
	expr, err := Parse("total * 2 + 1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err = expr.Eval(ctx, 10)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExpr_ReusableAcrossTotals(t *testing.T) {
	expr, err := Parse("total * 2")
	require.NoError(t, err)
	assert.Equal(t, "total * 2", expr.String())

	for _, total := range []float64{0, 1, 12.5, 1000} {
		got, err := expr.Eval(context.Background(), total)
		require.NoError(t, err)
		assert.Equal(t, total*2, got)
	}
}
