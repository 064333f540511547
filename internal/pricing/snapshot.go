package pricing

import (
	"fmt"
	"math"
)

// Thickness is a glass thickness bucket, written as a fraction of an inch.
type Thickness string

const (
	Thickness1_8  Thickness = "1/8"
	Thickness3_16 Thickness = "3/16"
	Thickness1_4  Thickness = "1/4"
	Thickness3_8  Thickness = "3/8"
	Thickness1_2  Thickness = "1/2"
	Thickness5_8  Thickness = "5/8"
	Thickness3_4  Thickness = "3/4"
	Thickness1    Thickness = "1"
)

// Thinnest reports whether t is the thinnest bucket, where tempering, polishing,
// beveling and mirror are not offered.
func (t Thickness) Thinnest() bool { return t == Thickness1_8 }

// GlassType names a glass product line. The set is open; only mirror carries rules.
type GlassType string

const (
	GlassClear   GlassType = "clear"
	GlassBronze  GlassType = "bronze"
	GlassGray    GlassType = "gray"
	GlassLowIron GlassType = "low_iron"
	GlassFrosted GlassType = "frosted"
	GlassMirror  GlassType = "mirror"
)

// ClipSize is the clipped-corner size bucket.
type ClipSize string

const (
	ClipUnder1 ClipSize = "under_1"
	ClipOver1  ClipSize = "over_1"
)

// Markup names used in Snapshot.Markups.
const (
	MarkupTempered = "tempered"
	MarkupShape    = "shape"
)

// GlassKey identifies a row of the glass rate table.
type GlassKey struct {
	Thickness Thickness
	GlassType GlassType
}

// ClipKey identifies a row of the clipped-corner rate table.
type ClipKey struct {
	Thickness Thickness
	ClipSize  ClipSize
}

// GlassRate holds the per-square-foot base price and per-inch polish price for a
// thickness and glass type.
type GlassRate struct {
	BasePrice   float64 `json:"base_price" yaml:"base_price"`
	PolishPrice float64 `json:"polish_price" yaml:"polish_price"`
}

const (
	DefaultMinimumSqFt        = 3.0
	DefaultMarkupDivisor      = 0.28
	DefaultContractorDiscount = 0.15
	DefaultMirrorPolishRate   = 0.27
)

// Settings are the scalar constants of the pricing system.
type Settings struct {
	// MinimumSqFt is the smallest billable area.
	MinimumSqFt float64 `json:"minimum_sq_ft" yaml:"minimum_sq_ft"`
	// MarkupDivisor is the divisor of the default formula, total / MarkupDivisor.
	MarkupDivisor float64 `json:"markup_divisor" yaml:"markup_divisor"`
	// ContractorDiscount is a fraction, 0.15 means 15% off.
	ContractorDiscount float64 `json:"contractor_discount" yaml:"contractor_discount"`
	// MirrorPolishRate is the flat per-inch polish price for mirrors.
	MirrorPolishRate float64 `json:"mirror_polish_rate" yaml:"mirror_polish_rate"`
}

// DefaultSettings returns the shop-standard constants.
func DefaultSettings() Settings {
	return Settings{
		MinimumSqFt:        DefaultMinimumSqFt,
		MarkupDivisor:      DefaultMarkupDivisor,
		ContractorDiscount: DefaultContractorDiscount,
		MirrorPolishRate:   DefaultMirrorPolishRate,
	}
}

// Validate rejects negative or non-finite constants.
func (s Settings) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"minimum_sq_ft", s.MinimumSqFt},
		{"markup_divisor", s.MarkupDivisor},
		{"contractor_discount", s.ContractorDiscount},
		{"mirror_polish_rate", s.MirrorPolishRate},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value < 0 {
			return fmt.Errorf("setting %s must be a finite number >= 0, got %v", f.name, f.value)
		}
	}
	if s.ContractorDiscount > 1 {
		return fmt.Errorf("setting contractor_discount must be a fraction between 0 and 1, got %v", s.ContractorDiscount)
	}
	return nil
}

// FormulaMode selects how the pre-formula total becomes the quote price.
type FormulaMode string

const (
	ModeDivisor    FormulaMode = "divisor"
	ModeMultiplier FormulaMode = "multiplier"
	ModeCustom     FormulaMode = "custom"
)

// Valid reports whether m is a known mode.
func (m FormulaMode) Valid() bool {
	switch m {
	case ModeDivisor, ModeMultiplier, ModeCustom:
		return true
	}
	return false
}

// FormulaConfig is the administrator-editable shape of the pricing formula. The Enable
// flags switch whole pricing dimensions off without touching call sites.
type FormulaConfig struct {
	Mode             FormulaMode `json:"mode" yaml:"mode"`
	DivisorValue     float64     `json:"divisor_value" yaml:"divisor_value"`
	MultiplierValue  float64     `json:"multiplier_value" yaml:"multiplier_value"`
	CustomExpression string      `json:"custom_expression,omitempty" yaml:"custom_expression,omitempty"`

	EnableBasePrice          bool `json:"enable_base_price" yaml:"enable_base_price"`
	EnablePolish             bool `json:"enable_polish" yaml:"enable_polish"`
	EnableBeveled            bool `json:"enable_beveled" yaml:"enable_beveled"`
	EnableClippedCorners     bool `json:"enable_clipped_corners" yaml:"enable_clipped_corners"`
	EnableTemperedMarkup     bool `json:"enable_tempered_markup" yaml:"enable_tempered_markup"`
	EnableShapeMarkup        bool `json:"enable_shape_markup" yaml:"enable_shape_markup"`
	EnableContractorDiscount bool `json:"enable_contractor_discount" yaml:"enable_contractor_discount"`
}

// DefaultFormulaConfig is divisor mode with every pricing dimension enabled.
func DefaultFormulaConfig() FormulaConfig {
	return FormulaConfig{
		Mode:                     ModeDivisor,
		DivisorValue:             DefaultMarkupDivisor,
		MultiplierValue:          1 / DefaultMarkupDivisor,
		EnableBasePrice:          true,
		EnablePolish:             true,
		EnableBeveled:            true,
		EnableClippedCorners:     true,
		EnableTemperedMarkup:     true,
		EnableShapeMarkup:        true,
		EnableContractorDiscount: true,
	}
}

// Snapshot is the rate tables and constants one calculation runs against.
type Snapshot struct {
	Glass          map[GlassKey]GlassRate
	Markups        map[string]float64
	Beveled        map[Thickness]float64
	ClippedCorners map[ClipKey]float64
	Settings       Settings
	Formula        FormulaConfig
}

// normalize fills missing tables and zero-value sections with their defaults.
func (s Snapshot) normalize() (Snapshot, error) {
	if s.Glass == nil {
		s.Glass = map[GlassKey]GlassRate{}
	}
	if s.Markups == nil {
		s.Markups = map[string]float64{}
	}
	if s.Beveled == nil {
		s.Beveled = map[Thickness]float64{}
	}
	if s.ClippedCorners == nil {
		s.ClippedCorners = map[ClipKey]float64{}
	}
	if s.Settings == (Settings{}) {
		s.Settings = DefaultSettings()
	}
	if s.Formula == (FormulaConfig{}) {
		s.Formula = DefaultFormulaConfig()
	}

	if err := s.Settings.Validate(); err != nil {
		return Snapshot{}, err
	}
	if !s.Formula.Mode.Valid() {
		return Snapshot{}, fmt.Errorf("unknown formula mode %q", s.Formula.Mode)
	}
	return s, nil
}

// The lookups below return 0 for a missing row: an unconfigured combination prices that
// component at zero instead of failing the quote.

// BaseRate returns the per-square-foot price for thickness and glass type, or 0.
func (s Snapshot) BaseRate(t Thickness, g GlassType) float64 {
	rate, ok := s.Glass[GlassKey{Thickness: t, GlassType: g}]
	if !ok {
		return 0
	}
	return rate.BasePrice
}

// PolishRate returns the per-inch polish price for thickness and glass type, or 0.
func (s Snapshot) PolishRate(t Thickness, g GlassType) float64 {
	rate, ok := s.Glass[GlassKey{Thickness: t, GlassType: g}]
	if !ok {
		return 0
	}
	return rate.PolishPrice
}

// BevelRate returns the per-inch bevel price for thickness, or 0.
func (s Snapshot) BevelRate(t Thickness) float64 {
	rate, ok := s.Beveled[t]
	if !ok {
		return 0
	}
	return rate
}

// ClipRate returns the per-corner price for thickness and clip size, or 0.
func (s Snapshot) ClipRate(t Thickness, size ClipSize) float64 {
	rate, ok := s.ClippedCorners[ClipKey{Thickness: t, ClipSize: size}]
	if !ok {
		return 0
	}
	return rate
}

// MarkupPercent returns the named markup percentage, or 0.
func (s Snapshot) MarkupPercent(name string) float64 {
	pct, ok := s.Markups[name]
	if !ok {
		return 0
	}
	return pct
}
