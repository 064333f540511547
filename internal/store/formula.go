package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Simplici0/glassquote/internal/pricing"
)

// AuditEntry records one change to the formula configuration.
type AuditEntry struct {
	ID        uuid.UUID             `json:"id"`
	ChangedBy string                `json:"changed_by"`
	ChangedAt time.Time             `json:"changed_at"`
	Old       pricing.FormulaConfig `json:"old_config"`
	New       pricing.FormulaConfig `json:"new_config"`
}

const defaultAuditLimit = 50

type rowScanner interface {
	Scan(dest ...any) error
}

// FormulaConfig returns the formula singleton, or ErrNotFound when none was saved.
func (s *Store) FormulaConfig(ctx context.Context) (pricing.FormulaConfig, error) {
	row := s.db.QueryRowContext(ctx, formulaSelect)
	cfg, err := scanFormulaConfig(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pricing.FormulaConfig{}, fmt.Errorf("formula config singleton: %w", ErrNotFound)
		}
		return pricing.FormulaConfig{}, fmt.Errorf("query formula config: %w", err)
	}
	return cfg, nil
}

const formulaSelect = `
	SELECT mode, divisor_value, multiplier_value, custom_expression,
		enable_base_price, enable_polish, enable_beveled, enable_clipped_corners,
		enable_tempered_markup, enable_shape_markup, enable_contractor_discount
	FROM formula_config
	WHERE id = 1
`

func scanFormulaConfig(row rowScanner) (pricing.FormulaConfig, error) {
	var cfg pricing.FormulaConfig
	var expr sql.NullString
	err := row.Scan(
		&cfg.Mode, &cfg.DivisorValue, &cfg.MultiplierValue, &expr,
		&cfg.EnableBasePrice, &cfg.EnablePolish, &cfg.EnableBeveled, &cfg.EnableClippedCorners,
		&cfg.EnableTemperedMarkup, &cfg.EnableShapeMarkup, &cfg.EnableContractorDiscount,
	)
	if err != nil {
		return pricing.FormulaConfig{}, err
	}
	cfg.CustomExpression = expr.String
	return cfg, nil
}

// CheckFormulaConfig reports why cfg cannot be saved, wrapping ErrInvalidFormula.
func CheckFormulaConfig(cfg pricing.FormulaConfig) error {
	switch cfg.Mode {
	case pricing.ModeDivisor:
		if !(cfg.DivisorValue > 0) || !validAmount(cfg.DivisorValue) {
			return fmt.Errorf("%w: divisor must be greater than 0", ErrInvalidFormula)
		}
	case pricing.ModeMultiplier:
		if !(cfg.MultiplierValue > 0) || !validAmount(cfg.MultiplierValue) {
			return fmt.Errorf("%w: multiplier must be greater than 0", ErrInvalidFormula)
		}
	case pricing.ModeCustom:
		if err := pricing.ValidateCustomFormula(cfg.CustomExpression); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidFormula, err)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidFormula, cfg.Mode)
	}
	if !cfg.EnableBasePrice && !cfg.EnablePolish && !cfg.EnableBeveled && !cfg.EnableClippedCorners {
		return fmt.Errorf("%w: at least one price component must be enabled", ErrInvalidFormula)
	}
	return nil
}

// SaveFormulaConfig validates and stores cfg, appending an audit row that records the
// previous configuration. A first save records the defaults as the previous value.
func (s *Store) SaveFormulaConfig(ctx context.Context, cfg pricing.FormulaConfig, changedBy string) (AuditEntry, error) {
	if err := CheckFormulaConfig(cfg); err != nil {
		return AuditEntry{}, err
	}
	if changedBy == "" {
		changedBy = "system"
	}

	entry := AuditEntry{
		ID:        uuid.New(),
		ChangedBy: changedBy,
		ChangedAt: s.now(),
		New:       cfg,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		old, err := scanFormulaConfig(tx.QueryRowContext(ctx, formulaSelect))
		switch {
		case errors.Is(err, sql.ErrNoRows):
			old = pricing.DefaultFormulaConfig()
		case err != nil:
			return fmt.Errorf("query formula config: %w", err)
		}
		entry.Old = old

		var expr sql.NullString
		if cfg.CustomExpression != "" {
			expr = sql.NullString{String: cfg.CustomExpression, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO formula_config (
				id, mode, divisor_value, multiplier_value, custom_expression,
				enable_base_price, enable_polish, enable_beveled, enable_clipped_corners,
				enable_tempered_markup, enable_shape_markup, enable_contractor_discount
			) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				mode = excluded.mode,
				divisor_value = excluded.divisor_value,
				multiplier_value = excluded.multiplier_value,
				custom_expression = excluded.custom_expression,
				enable_base_price = excluded.enable_base_price,
				enable_polish = excluded.enable_polish,
				enable_beveled = excluded.enable_beveled,
				enable_clipped_corners = excluded.enable_clipped_corners,
				enable_tempered_markup = excluded.enable_tempered_markup,
				enable_shape_markup = excluded.enable_shape_markup,
				enable_contractor_discount = excluded.enable_contractor_discount,
				updated_at = CURRENT_TIMESTAMP
		`,
			cfg.Mode, cfg.DivisorValue, cfg.MultiplierValue, expr,
			cfg.EnableBasePrice, cfg.EnablePolish, cfg.EnableBeveled, cfg.EnableClippedCorners,
			cfg.EnableTemperedMarkup, cfg.EnableShapeMarkup, cfg.EnableContractorDiscount,
		); err != nil {
			return fmt.Errorf("upsert formula config: %w", err)
		}

		oldJSON, err := json.Marshal(entry.Old)
		if err != nil {
			return fmt.Errorf("encode previous formula config: %w", err)
		}
		newJSON, err := json.Marshal(entry.New)
		if err != nil {
			return fmt.Errorf("encode formula config: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO formula_config_audit (id, changed_by, changed_at, old_config, new_config)
			VALUES (?, ?, ?, ?, ?)
		`, entry.ID.String(), entry.ChangedBy, entry.ChangedAt, string(oldJSON), string(newJSON)); err != nil {
			return fmt.Errorf("insert formula audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return AuditEntry{}, err
	}
	return entry, nil
}

// FormulaAudit returns the most recent formula changes, newest first.
func (s *Store) FormulaAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, changed_by, changed_at, old_config, new_config
		FROM formula_config_audit
		ORDER BY changed_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query formula audit: %w", err)
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var (
			e                AuditEntry
			id               string
			oldJSON, newJSON string
		)
		if err := rows.Scan(&id, &e.ChangedBy, &e.ChangedAt, &oldJSON, &newJSON); err != nil {
			return nil, fmt.Errorf("scan formula audit: %w", err)
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse audit id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(oldJSON), &e.Old); err != nil {
			return nil, fmt.Errorf("decode previous formula config: %w", err)
		}
		if err := json.Unmarshal([]byte(newJSON), &e.New); err != nil {
			return nil, fmt.Errorf("decode formula config: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate formula audit: %w", err)
	}
	return entries, nil
}
