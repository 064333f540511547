// Package seed loads the starting pricing configuration into an empty database.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Simplici0/glassquote/internal/pricing"
)

const (
	starterThickness = pricing.Thickness1_4
	starterGlassType = pricing.GlassClear
	starterBasePrice = 12.50
	starterPolish    = 0.85

	defaultTemperedMarkup = 35.0
	defaultShapeMarkup    = 25.0
)

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
}

// Run executes the startup seed in an idempotent way. Rows that already exist are left
// as the administrator configured them.
func Run(ctx context.Context, db *sql.DB) (Stats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}
	steps := []func(context.Context, *sql.Tx, *Stats) error{
		ensureSettings,
		ensureFormulaConfig,
		ensureMarkups,
		ensureStarterGlassRate,
	}
	for _, step := range steps {
		if err := step(ctx, tx, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

// insertIfMissing runs insert when exists reports no rows.
func insertIfMissing(ctx context.Context, tx *sql.Tx, what, exists, insert string, existsArgs, insertArgs []any, stats *Stats) error {
	var found bool
	if err := tx.QueryRowContext(ctx, exists, existsArgs...).Scan(&found); err != nil {
		return fmt.Errorf("check %s existence: %w", what, err)
	}
	if found {
		return nil
	}

	if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return fmt.Errorf("insert %s: %w", what, err)
	}
	stats.Inserts++
	return nil
}

func ensureSettings(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	st := pricing.DefaultSettings()
	return insertIfMissing(ctx, tx, "settings singleton",
		`SELECT EXISTS(SELECT 1 FROM settings WHERE id = 1)`,
		`INSERT INTO settings (id, minimum_sq_ft, markup_divisor, contractor_discount, mirror_polish_rate)
		VALUES (1, ?, ?, ?, ?)`,
		nil,
		[]any{st.MinimumSqFt, st.MarkupDivisor, st.ContractorDiscount, st.MirrorPolishRate},
		stats,
	)
}

func ensureFormulaConfig(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	cfg := pricing.DefaultFormulaConfig()
	return insertIfMissing(ctx, tx, "formula config singleton",
		`SELECT EXISTS(SELECT 1 FROM formula_config WHERE id = 1)`,
		`INSERT INTO formula_config (
			id, mode, divisor_value, multiplier_value,
			enable_base_price, enable_polish, enable_beveled, enable_clipped_corners,
			enable_tempered_markup, enable_shape_markup, enable_contractor_discount
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nil,
		[]any{
			cfg.Mode, cfg.DivisorValue, cfg.MultiplierValue,
			cfg.EnableBasePrice, cfg.EnablePolish, cfg.EnableBeveled, cfg.EnableClippedCorners,
			cfg.EnableTemperedMarkup, cfg.EnableShapeMarkup, cfg.EnableContractorDiscount,
		},
		stats,
	)
}

func ensureMarkups(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	markups := []struct {
		name string
		pct  float64
	}{
		{pricing.MarkupTempered, defaultTemperedMarkup},
		{pricing.MarkupShape, defaultShapeMarkup},
	}
	for _, m := range markups {
		if err := insertIfMissing(ctx, tx, "markup "+m.name,
			`SELECT EXISTS(SELECT 1 FROM markups WHERE name = ? LIMIT 1)`,
			`INSERT INTO markups (name, percent) VALUES (?, ?)`,
			[]any{m.name},
			[]any{m.name, m.pct},
			stats,
		); err != nil {
			return err
		}
	}
	return nil
}

func ensureStarterGlassRate(ctx context.Context, tx *sql.Tx, stats *Stats) error {
	return insertIfMissing(ctx, tx, "starter glass rate",
		`SELECT EXISTS(SELECT 1 FROM glass_rates WHERE thickness = ? AND glass_type = ? LIMIT 1)`,
		`INSERT INTO glass_rates (thickness, glass_type, base_price, polish_price) VALUES (?, ?, ?, ?)`,
		[]any{starterThickness, starterGlassType},
		[]any{starterThickness, starterGlassType, starterBasePrice, starterPolish},
		stats,
	)
}
