// Package pricing computes glass quotes from piece dimensions, edge treatments and an
// administrator-configured rate snapshot.
package pricing

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/glassquote/internal/formula"
)

// QuoteRequest describes one line of a glass quote. Dimensions are in inches.
type QuoteRequest struct {
	Width     float64   `json:"width"`
	Height    float64   `json:"height"`
	Diameter  float64   `json:"diameter,omitempty"`
	Thickness Thickness `json:"thickness"`
	GlassType GlassType `json:"glass_type"`
	Quantity  int       `json:"quantity"`

	IsPolished       bool `json:"is_polished"`
	IsBeveled        bool `json:"is_beveled"`
	IsTempered       bool `json:"is_tempered"`
	IsNonRectangular bool `json:"is_non_rectangular"`
	IsCircular       bool `json:"is_circular"`
	IsContractor     bool `json:"is_contractor"`

	NumClippedCorners int      `json:"num_clipped_corners"`
	ClipSize          ClipSize `json:"clip_size,omitempty"`
}

// diameter falls back to the width when a circular piece carries no explicit diameter.
func (r QuoteRequest) diameter() float64 {
	if r.Diameter > 0 {
		return r.Diameter
	}
	return r.Width
}

// QuoteResult is the price breakdown of a quote line. When Error is set the request was
// rejected and every numeric field is zero.
type QuoteResult struct {
	SqFt         float64 `json:"sq_ft"`
	BillableSqFt float64 `json:"billable_sq_ft"`
	Perimeter    float64 `json:"perimeter"`

	BasePrice           float64 `json:"base_price,omitempty"`
	PolishPrice         float64 `json:"polish_price,omitempty"`
	BeveledPrice        float64 `json:"beveled_price,omitempty"`
	ClippedCornersPrice float64 `json:"clipped_corners_price,omitempty"`
	BeforeMarkups       float64 `json:"before_markups"`

	TemperedPrice      float64 `json:"tempered_price,omitempty"`
	ShapePrice         float64 `json:"shape_price,omitempty"`
	Subtotal           float64 `json:"subtotal"`
	ContractorDiscount float64 `json:"contractor_discount,omitempty"`

	Quantity   int     `json:"quantity"`
	Total      float64 `json:"total"`
	QuotePrice float64 `json:"quote_price"`

	FormulaMode     FormulaMode `json:"formula_mode,omitempty"`
	FormulaFallback string      `json:"formula_fallback,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// Rejected reports whether the request failed validation.
func (r QuoteResult) Rejected() bool { return r.Error != "" }

func rejectedResult(code, msg string) QuoteResult {
	return QuoteResult{Error: msg, ErrorCode: code}
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithFormulaTimeout bounds the evaluation of a custom formula.
func WithFormulaTimeout(d time.Duration) Option {
	return func(c *Calculator) {
		if d > 0 {
			c.formulaTimeout = d
		}
	}
}

// Calculator prices quotes against a single snapshot. It holds no other state and is
// safe for concurrent use.
type Calculator struct {
	snap           Snapshot
	formulaTimeout time.Duration

	// custom is the parsed custom expression; customErr is set when it does not parse.
	custom    *formula.Expr
	customErr error
}

// NewCalculator returns a Calculator for snap. Missing tables are treated as empty and
// zero-value settings or formula sections take their defaults.
func NewCalculator(snap Snapshot, opts ...Option) (*Calculator, error) {
	normalized, err := snap.normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid pricing snapshot: %w", err)
	}

	c := &Calculator{snap: normalized, formulaTimeout: defaultFormulaTimeout}
	for _, opt := range opts {
		opt(c)
	}
	if normalized.Formula.Mode == ModeCustom {
		c.custom, c.customErr = formula.Parse(normalized.Formula.CustomExpression)
	}
	return c, nil
}

// Snapshot returns the configuration the calculator prices against.
func (c *Calculator) Snapshot() Snapshot { return c.snap }

// CalculateQuote validates and prices req. It never fails: rule violations and internal
// faults come back as a rejected result.
func (c *Calculator) CalculateQuote(ctx context.Context, req QuoteRequest) (result QuoteResult) {
	defer func() {
		if r := recover(); r != nil {
			result = rejectedResult(CodeInternal, fmt.Sprintf("internal pricing error: %v", r))
		}
	}()

	if verr := Validate(req); verr != nil {
		return rejectedResult(verr.Code, verr.Message)
	}

	b := c.breakdown(req)
	if !b.finite() {
		return rejectedResult(CodeInvalidConfig, "pricing configuration produced a non-numeric amount")
	}

	price, mode, fallback := c.applyFormula(ctx, b.total)
	if math.IsNaN(price) || math.IsInf(price, 0) {
		return rejectedResult(CodeInvalidConfig, "pricing formula produced a non-numeric amount")
	}

	return QuoteResult{
		SqFt:                roundTo(b.geometry.SqFt, 4),
		BillableSqFt:        roundTo(b.geometry.BillableSqFt, 4),
		Perimeter:           roundTo(b.geometry.Perimeter, 4),
		BasePrice:           roundMoney(b.base),
		PolishPrice:         roundMoney(b.polish),
		BeveledPrice:        roundMoney(b.beveled),
		ClippedCornersPrice: roundMoney(b.clipped),
		BeforeMarkups:       roundMoney(b.beforeMarkups),
		TemperedPrice:       roundMoney(b.tempered),
		ShapePrice:          roundMoney(b.shape),
		Subtotal:            roundMoney(b.subtotal),
		ContractorDiscount:  roundMoney(b.discount),
		Quantity:            req.Quantity,
		Total:               roundMoney(b.total),
		QuotePrice:          roundMoney(price),
		FormulaMode:         mode,
		FormulaFallback:     fallback,
	}
}

type breakdown struct {
	geometry Geometry

	base, polish, beveled, clipped float64
	beforeMarkups                  float64
	tempered, shape                float64
	subtotal, discount, total      float64
}

func (b breakdown) finite() bool {
	for _, v := range []float64{
		b.geometry.SqFt, b.geometry.BillableSqFt, b.geometry.Perimeter,
		b.base, b.polish, b.beveled, b.clipped,
		b.tempered, b.shape, b.discount, b.total,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (c *Calculator) breakdown(req QuoteRequest) breakdown {
	cfg := c.snap.Formula
	b := breakdown{geometry: Measure(req, c.snap.Settings.MinimumSqFt)}

	if cfg.EnableBasePrice {
		b.base = c.basePrice(req, b.geometry)
	}
	if cfg.EnablePolish && req.IsPolished {
		b.polish = c.polishPrice(req, b.geometry)
	}
	if cfg.EnableBeveled && req.IsBeveled {
		b.beveled = c.beveledPrice(req, b.geometry)
	}
	if cfg.EnableClippedCorners && req.NumClippedCorners > 0 {
		b.clipped = c.clippedCornersPrice(req)
	}
	b.beforeMarkups = b.base + b.polish + b.beveled + b.clipped

	if cfg.EnableTemperedMarkup && req.IsTempered && req.GlassType != GlassMirror {
		b.tempered = percentOf(b.beforeMarkups, c.snap.MarkupPercent(MarkupTempered))
	}
	if cfg.EnableShapeMarkup && (req.IsNonRectangular || req.IsCircular) {
		b.shape = percentOf(b.beforeMarkups, c.snap.MarkupPercent(MarkupShape))
	}
	b.subtotal = b.beforeMarkups + b.tempered + b.shape

	if cfg.EnableContractorDiscount && req.IsContractor {
		b.discount = b.subtotal * c.snap.Settings.ContractorDiscount
	}
	b.total = (b.subtotal - b.discount) * float64(req.Quantity)

	return b
}

func (c *Calculator) basePrice(req QuoteRequest, g Geometry) float64 {
	return g.BillableSqFt * c.snap.BaseRate(req.Thickness, req.GlassType)
}

// polishPrice charges mirrors the flat mirror rate regardless of thickness.
func (c *Calculator) polishPrice(req QuoteRequest, g Geometry) float64 {
	if req.GlassType == GlassMirror {
		return g.Perimeter * c.snap.Settings.MirrorPolishRate
	}
	return g.Perimeter * c.snap.PolishRate(req.Thickness, req.GlassType)
}

func (c *Calculator) beveledPrice(req QuoteRequest, g Geometry) float64 {
	if req.Thickness.Thinnest() {
		return 0
	}
	return g.Perimeter * c.snap.BevelRate(req.Thickness)
}

func (c *Calculator) clippedCornersPrice(req QuoteRequest) float64 {
	return float64(req.NumClippedCorners) * c.snap.ClipRate(req.Thickness, req.ClipSize)
}

func percentOf(amount, pct float64) float64 {
	return amount * (pct / 100.0)
}

func roundMoney(v float64) float64 { return roundTo(v, 2) }

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
