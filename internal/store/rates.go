package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/Simplici0/glassquote/internal/pricing"
)

// LoadSnapshot materializes the current pricing configuration. A missing settings or
// formula row yields the zero value, which the calculator replaces with defaults.
func (s *Store) LoadSnapshot(ctx context.Context) (pricing.Snapshot, error) {
	snap := pricing.Snapshot{
		Glass:          map[pricing.GlassKey]pricing.GlassRate{},
		Markups:        map[string]float64{},
		Beveled:        map[pricing.Thickness]float64{},
		ClippedCorners: map[pricing.ClipKey]float64{},
	}

	if err := s.loadGlassRates(ctx, snap.Glass); err != nil {
		return pricing.Snapshot{}, err
	}
	if err := s.loadMarkups(ctx, snap.Markups); err != nil {
		return pricing.Snapshot{}, err
	}
	if err := s.loadBeveledRates(ctx, snap.Beveled); err != nil {
		return pricing.Snapshot{}, err
	}
	if err := s.loadClippedCornerRates(ctx, snap.ClippedCorners); err != nil {
		return pricing.Snapshot{}, err
	}

	settings, err := s.Settings(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return pricing.Snapshot{}, err
	}
	snap.Settings = settings

	formula, err := s.FormulaConfig(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return pricing.Snapshot{}, err
	}
	snap.Formula = formula

	return snap, nil
}

func (s *Store) loadGlassRates(ctx context.Context, into map[pricing.GlassKey]pricing.GlassRate) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thickness, glass_type, base_price, polish_price
		FROM glass_rates
	`)
	if err != nil {
		return fmt.Errorf("query glass rates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key pricing.GlassKey
		var rate pricing.GlassRate
		if err := rows.Scan(&key.Thickness, &key.GlassType, &rate.BasePrice, &rate.PolishPrice); err != nil {
			return fmt.Errorf("scan glass rate: %w", err)
		}
		into[key] = rate
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate glass rates: %w", err)
	}
	return nil
}

func (s *Store) loadMarkups(ctx context.Context, into map[string]float64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name, percent FROM markups`)
	if err != nil {
		return fmt.Errorf("query markups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var pct float64
		if err := rows.Scan(&name, &pct); err != nil {
			return fmt.Errorf("scan markup: %w", err)
		}
		into[name] = pct
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate markups: %w", err)
	}
	return nil
}

func (s *Store) loadBeveledRates(ctx context.Context, into map[pricing.Thickness]float64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT thickness, price FROM beveled_rates`)
	if err != nil {
		return fmt.Errorf("query beveled rates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var thickness pricing.Thickness
		var price float64
		if err := rows.Scan(&thickness, &price); err != nil {
			return fmt.Errorf("scan beveled rate: %w", err)
		}
		into[thickness] = price
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate beveled rates: %w", err)
	}
	return nil
}

func (s *Store) loadClippedCornerRates(ctx context.Context, into map[pricing.ClipKey]float64) error {
	rows, err := s.db.QueryContext(ctx, `SELECT thickness, clip_size, price FROM clipped_corner_rates`)
	if err != nil {
		return fmt.Errorf("query clipped corner rates: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key pricing.ClipKey
		var price float64
		if err := rows.Scan(&key.Thickness, &key.ClipSize, &price); err != nil {
			return fmt.Errorf("scan clipped corner rate: %w", err)
		}
		into[key] = price
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate clipped corner rates: %w", err)
	}
	return nil
}

// Settings returns the settings singleton.
func (s *Store) Settings(ctx context.Context) (pricing.Settings, error) {
	var st pricing.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT minimum_sq_ft, markup_divisor, contractor_discount, mirror_polish_rate
		FROM settings
		WHERE id = 1
	`).Scan(&st.MinimumSqFt, &st.MarkupDivisor, &st.ContractorDiscount, &st.MirrorPolishRate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pricing.Settings{}, fmt.Errorf("settings singleton: %w", ErrNotFound)
		}
		return pricing.Settings{}, fmt.Errorf("query settings: %w", err)
	}
	return st, nil
}

// UpdateSettings replaces the settings singleton.
func (s *Store) UpdateSettings(ctx context.Context, st pricing.Settings) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	return upsertSettings(ctx, s.db, st)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSettings(ctx context.Context, db execer, st pricing.Settings) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (id, minimum_sq_ft, markup_divisor, contractor_discount, mirror_polish_rate)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			minimum_sq_ft = excluded.minimum_sq_ft,
			markup_divisor = excluded.markup_divisor,
			contractor_discount = excluded.contractor_discount,
			mirror_polish_rate = excluded.mirror_polish_rate,
			updated_at = CURRENT_TIMESTAMP
	`, st.MinimumSqFt, st.MarkupDivisor, st.ContractorDiscount, st.MirrorPolishRate)
	if err != nil {
		return fmt.Errorf("upsert settings: %w", err)
	}
	return nil
}

// UpsertGlassRate creates or replaces one row of the glass rate table.
func (s *Store) UpsertGlassRate(ctx context.Context, key pricing.GlassKey, rate pricing.GlassRate) error {
	if key.Thickness == "" || key.GlassType == "" {
		return fmt.Errorf("%w: thickness and glass type are required", ErrInvalidRate)
	}
	if !validAmount(rate.BasePrice) || !validAmount(rate.PolishPrice) {
		return fmt.Errorf("%w: prices must be finite and >= 0", ErrInvalidRate)
	}
	return upsertGlassRate(ctx, s.db, key, rate)
}

func upsertGlassRate(ctx context.Context, db execer, key pricing.GlassKey, rate pricing.GlassRate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO glass_rates (thickness, glass_type, base_price, polish_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(thickness, glass_type) DO UPDATE SET
			base_price = excluded.base_price,
			polish_price = excluded.polish_price,
			updated_at = CURRENT_TIMESTAMP
	`, key.Thickness, key.GlassType, rate.BasePrice, rate.PolishPrice)
	if err != nil {
		return fmt.Errorf("upsert glass rate %s/%s: %w", key.Thickness, key.GlassType, err)
	}
	return nil
}

// SetMarkup creates or replaces a named markup percentage.
func (s *Store) SetMarkup(ctx context.Context, name string, pct float64) error {
	if name == "" {
		return fmt.Errorf("%w: markup name is required", ErrInvalidRate)
	}
	if !validAmount(pct) || pct > 100 {
		return fmt.Errorf("%w: markup %s must be between 0 and 100", ErrInvalidRate, name)
	}
	return upsertMarkup(ctx, s.db, name, pct)
}

func upsertMarkup(ctx context.Context, db execer, name string, pct float64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO markups (name, percent) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET percent = excluded.percent, updated_at = CURRENT_TIMESTAMP
	`, name, pct)
	if err != nil {
		return fmt.Errorf("upsert markup %s: %w", name, err)
	}
	return nil
}

// ReplaceRates replaces every rate table and the settings singleton with the contents
// of snap in one transaction. The formula configuration is left untouched; it changes
// only through SaveFormulaConfig so every change is audited.
func (s *Store) ReplaceRates(ctx context.Context, snap pricing.Snapshot) error {
	if err := snap.Settings.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRate, err)
	}
	if err := checkRates(snap); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"glass_rates", "markups", "beveled_rates", "clipped_corner_rates"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for key, rate := range snap.Glass {
			if err := upsertGlassRate(ctx, tx, key, rate); err != nil {
				return err
			}
		}
		for name, pct := range snap.Markups {
			if err := upsertMarkup(ctx, tx, name, pct); err != nil {
				return err
			}
		}
		for thickness, price := range snap.Beveled {
			if _, err := tx.ExecContext(ctx, `INSERT INTO beveled_rates (thickness, price) VALUES (?, ?)`, thickness, price); err != nil {
				return fmt.Errorf("insert beveled rate %s: %w", thickness, err)
			}
		}
		for key, price := range snap.ClippedCorners {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO clipped_corner_rates (thickness, clip_size, price) VALUES (?, ?, ?)
			`, key.Thickness, key.ClipSize, price); err != nil {
				return fmt.Errorf("insert clipped corner rate %s/%s: %w", key.Thickness, key.ClipSize, err)
			}
		}

		return upsertSettings(ctx, tx, snap.Settings)
	})
}

// checkRates applies the single-row checks of UpsertGlassRate and SetMarkup to every
// row of snap.
func checkRates(snap pricing.Snapshot) error {
	for key, rate := range snap.Glass {
		if key.Thickness == "" || key.GlassType == "" {
			return fmt.Errorf("%w: thickness and glass type are required", ErrInvalidRate)
		}
		if !validAmount(rate.BasePrice) || !validAmount(rate.PolishPrice) {
			return fmt.Errorf("%w: glass rate %s %s must be finite and >= 0", ErrInvalidRate, key.Thickness, key.GlassType)
		}
	}
	for name, pct := range snap.Markups {
		if name == "" || !validAmount(pct) || pct > 100 {
			return fmt.Errorf("%w: markup %q must be between 0 and 100", ErrInvalidRate, name)
		}
	}
	for thickness, price := range snap.Beveled {
		if !validAmount(price) {
			return fmt.Errorf("%w: beveled rate %s must be finite and >= 0", ErrInvalidRate, thickness)
		}
	}
	for key, price := range snap.ClippedCorners {
		if !validAmount(price) {
			return fmt.Errorf("%w: clipped corner rate %s %s must be finite and >= 0", ErrInvalidRate, key.Thickness, key.ClipSize)
		}
	}
	return nil
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
