package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Simplici0/glassquote/internal/pricing"
)

// ImportResult reports what an Import changed.
type ImportResult struct {
	GlassRates     int         `json:"glass_rates"`
	Markups        int         `json:"markups"`
	BeveledRates   int         `json:"beveled_rates"`
	ClippedCorners int         `json:"clipped_corner_rates"`
	FormulaAudit   *AuditEntry `json:"formula_audit,omitempty"`
}

// Import replaces the rate tables with snap. Zero-value settings keep the stored
// settings. A formula section that differs from the stored one is saved through
// SaveFormulaConfig on behalf of actor, so it is validated and audited.
func (s *Store) Import(ctx context.Context, snap pricing.Snapshot, actor string) (ImportResult, error) {
	if snap.Formula != (pricing.FormulaConfig{}) {
		if err := CheckFormulaConfig(snap.Formula); err != nil {
			return ImportResult{}, err
		}
	}

	if snap.Settings == (pricing.Settings{}) {
		current, err := s.Settings(ctx)
		switch {
		case errors.Is(err, ErrNotFound):
			current = pricing.DefaultSettings()
		case err != nil:
			return ImportResult{}, err
		}
		snap.Settings = current
	}

	if err := s.ReplaceRates(ctx, snap); err != nil {
		return ImportResult{}, fmt.Errorf("replace rates: %w", err)
	}

	res := ImportResult{
		GlassRates:     len(snap.Glass),
		Markups:        len(snap.Markups),
		BeveledRates:   len(snap.Beveled),
		ClippedCorners: len(snap.ClippedCorners),
	}
	if snap.Formula == (pricing.FormulaConfig{}) {
		return res, nil
	}

	current, err := s.FormulaConfig(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return ImportResult{}, err
	}
	if current == snap.Formula {
		return res, nil
	}
	entry, err := s.SaveFormulaConfig(ctx, snap.Formula, actor)
	if err != nil {
		return ImportResult{}, err
	}
	res.FormulaAudit = &entry
	return res, nil
}
