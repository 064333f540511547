package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Simplici0/glassquote/internal/db"
	"github.com/Simplici0/glassquote/internal/migrations"
	"github.com/Simplici0/glassquote/internal/pricing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, filepath.Join(t.TempDir(), "store-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, migrations.Up(ctx, database, "../../migrations"))
	return New(database)
}

func TestLoadSnapshot_EmptyDatabase(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	snap, err := s.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Glass)
	assert.Empty(t, snap.Markups)
	assert.Equal(t, pricing.Settings{}, snap.Settings)
	assert.Equal(t, pricing.FormulaConfig{}, snap.Formula)

	// The zero-value sections must still produce a usable calculator.
	_, err = pricing.NewCalculator(snap)
	require.NoError(t, err)
}

func TestReplaceRates_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	want := pricing.Snapshot{
		Glass: map[pricing.GlassKey]pricing.GlassRate{
			{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}:  {BasePrice: 12.5, PolishPrice: 0.85},
			{Thickness: pricing.Thickness3_8, GlassType: pricing.GlassBronze}: {BasePrice: 18.25, PolishPrice: 1.1},
		},
		Markups: map[string]float64{
			pricing.MarkupTempered: 35,
			pricing.MarkupShape:    25,
		},
		Beveled: map[pricing.Thickness]float64{
			pricing.Thickness1_4: 2.25,
		},
		ClippedCorners: map[pricing.ClipKey]float64{
			{Thickness: pricing.Thickness1_4, ClipSize: pricing.ClipUnder1}: 4,
		},
		Settings: pricing.DefaultSettings(),
	}
	require.NoError(t, s.ReplaceRates(ctx, want))

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Glass, got.Glass)
	assert.Equal(t, want.Markups, got.Markups)
	assert.Equal(t, want.Beveled, got.Beveled)
	assert.Equal(t, want.ClippedCorners, got.ClippedCorners)
	assert.Equal(t, want.Settings, got.Settings)

	// A second replace drops rows that are no longer present.
	want.Glass = map[pricing.GlassKey]pricing.GlassRate{
		{Thickness: pricing.Thickness1_2, GlassType: pricing.GlassGray}: {BasePrice: 30, PolishPrice: 2},
	}
	require.NoError(t, s.ReplaceRates(ctx, want))
	got, err = s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.Glass, got.Glass)
}

func TestReplaceRates_RejectsInvalidSettings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	settings := pricing.DefaultSettings()
	settings.ContractorDiscount = 1.5
	err := s.ReplaceRates(context.Background(), pricing.Snapshot{Settings: settings})
	require.ErrorIs(t, err, ErrInvalidRate)
}

func TestReplaceRates_RejectsInvalidAmounts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	good := pricing.Snapshot{
		Glass: map[pricing.GlassKey]pricing.GlassRate{
			{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}: {BasePrice: 12.5, PolishPrice: 0.85},
		},
		Settings: pricing.DefaultSettings(),
	}
	require.NoError(t, s.ReplaceRates(ctx, good))

	cases := map[string]func(*pricing.Snapshot){
		"negative base price": func(snap *pricing.Snapshot) {
			snap.Glass = map[pricing.GlassKey]pricing.GlassRate{
				{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}: {BasePrice: -12.5},
			}
		},
		"NaN polish price": func(snap *pricing.Snapshot) {
			snap.Glass = map[pricing.GlassKey]pricing.GlassRate{
				{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}: {BasePrice: 1, PolishPrice: math.NaN()},
			}
		},
		"markup over 100": func(snap *pricing.Snapshot) {
			snap.Markups = map[string]float64{pricing.MarkupTempered: 135}
		},
		"negative bevel": func(snap *pricing.Snapshot) {
			snap.Beveled = map[pricing.Thickness]float64{pricing.Thickness1_4: -1}
		},
		"infinite clip": func(snap *pricing.Snapshot) {
			snap.ClippedCorners = map[pricing.ClipKey]float64{
				{Thickness: pricing.Thickness1_4, ClipSize: pricing.ClipUnder1}: math.Inf(1),
			}
		},
	}
	for name, modify := range cases {
		snap := good
		modify(&snap)
		assert.ErrorIs(t, s.ReplaceRates(ctx, snap), ErrInvalidRate, name)
		_, err := s.Import(ctx, snap, "ops@example.com")
		assert.ErrorIs(t, err, ErrInvalidRate, name)
	}

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.Glass, got.Glass, "rejected replaces leave the stored rates alone")
}

func TestUpsertGlassRateAndMarkup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	key := pricing.GlassKey{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}
	require.NoError(t, s.UpsertGlassRate(ctx, key, pricing.GlassRate{BasePrice: 10, PolishPrice: 0.5}))
	require.NoError(t, s.UpsertGlassRate(ctx, key, pricing.GlassRate{BasePrice: 11, PolishPrice: 0.75}))
	require.NoError(t, s.SetMarkup(ctx, pricing.MarkupTempered, 40))

	snap, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, pricing.GlassRate{BasePrice: 11, PolishPrice: 0.75}, snap.Glass[key])
	assert.InDelta(t, 40, snap.Markups[pricing.MarkupTempered], 1e-9)

	require.ErrorIs(t, s.UpsertGlassRate(ctx, key, pricing.GlassRate{BasePrice: -1}), ErrInvalidRate)
	require.ErrorIs(t, s.SetMarkup(ctx, pricing.MarkupShape, 120), ErrInvalidRate)
	require.ErrorIs(t, s.SetMarkup(ctx, "", 10), ErrInvalidRate)
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Settings(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	settings := pricing.DefaultSettings()
	settings.MinimumSqFt = 4
	require.NoError(t, s.UpdateSettings(ctx, settings))

	got, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got)
}

func TestSaveFormulaConfig_WritesAudit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	first := pricing.DefaultFormulaConfig()
	first.Mode = pricing.ModeMultiplier
	first.MultiplierValue = 3.5
	entry, err := s.SaveFormulaConfig(ctx, first, "admin@example.com")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.Equal(t, pricing.DefaultFormulaConfig(), entry.Old)

	second := first
	second.Mode = pricing.ModeCustom
	second.CustomExpression = "total * 3.2"
	second.EnableBeveled = false
	_, err = s.SaveFormulaConfig(ctx, second, "")
	require.NoError(t, err)

	got, err := s.FormulaConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	audit, err := s.FormulaAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, audit, 2)
	assert.Equal(t, "system", audit[0].ChangedBy)
	assert.Equal(t, first, audit[0].Old)
	assert.Equal(t, second, audit[0].New)
	assert.Equal(t, "admin@example.com", audit[1].ChangedBy)
	assert.True(t, audit[0].ChangedAt.After(audit[1].ChangedAt))

	limited, err := s.FormulaAudit(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSaveFormulaConfig_RejectsInvalid(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	cases := map[string]pricing.FormulaConfig{
		"forbidden token": {Mode: pricing.ModeCustom, CustomExpression: "__import__('os')"},
		"syntax error":    {Mode: pricing.ModeCustom, CustomExpression: "total *"},
		"zero divisor":    {Mode: pricing.ModeDivisor, DivisorValue: 0},
		"neg multiplier":  {Mode: pricing.ModeMultiplier, MultiplierValue: -2},
		"unknown mode":    {Mode: "percent"},
		"nothing priced":  {Mode: pricing.ModeDivisor, DivisorValue: 0.28, EnableTemperedMarkup: true},
	}
	for name, cfg := range cases {
		_, err := s.SaveFormulaConfig(ctx, cfg, "admin@example.com")
		assert.ErrorIs(t, err, ErrInvalidFormula, name)
	}

	audit, err := s.FormulaAudit(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, audit)
}

func TestQuotes_SaveGetList(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	req := pricing.QuoteRequest{
		Width: 24, Height: 36, Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear,
		Quantity: 1, IsPolished: true,
	}
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	older, err := s.SaveQuote(ctx, Quote{
		CreatedAt: base,
		Title:     "Bathroom mirror",
		Notes:     "Client: Rivera",
		Request:   req,
		Result:    pricing.QuoteResult{Quantity: 1, Total: 120, QuotePrice: 428.57},
	})
	require.NoError(t, err)
	newer, err := s.SaveQuote(ctx, Quote{
		CreatedAt: base.Add(time.Hour),
		Title:     "Table top",
		Request:   req,
		Result:    pricing.QuoteResult{Error: "rejected", ErrorCode: pricing.CodeThinTempered},
	})
	require.NoError(t, err)

	got, err := s.GetQuote(ctx, older.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bathroom mirror", got.Title)
	assert.Equal(t, req, got.Request)
	assert.InDelta(t, 428.57, got.Result.QuotePrice, 1e-9)
	assert.True(t, got.CreatedAt.Equal(base))

	all, err := s.ListQuotes(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.True(t, all[0].Rejected)
	assert.Equal(t, older.ID, all[1].ID)

	filtered, err := s.ListQuotes(ctx, "rivera")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, older.ID, filtered[0].ID)

	_, err = s.GetQuote(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestImport(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	settings := pricing.DefaultSettings()
	settings.MinimumSqFt = 5
	require.NoError(t, s.UpdateSettings(ctx, settings))

	formula := pricing.DefaultFormulaConfig()
	formula.Mode = pricing.ModeMultiplier
	formula.MultiplierValue = 3

	snap := pricing.Snapshot{
		Glass: map[pricing.GlassKey]pricing.GlassRate{
			{Thickness: pricing.Thickness1_4, GlassType: pricing.GlassClear}: {BasePrice: 12.5, PolishPrice: 0.85},
		},
		Markups: map[string]float64{pricing.MarkupTempered: 35},
		Formula: formula,
	}

	res, err := s.Import(ctx, snap, "ops@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, res.GlassRates)
	require.NotNil(t, res.FormulaAudit)
	assert.Equal(t, "ops@example.com", res.FormulaAudit.ChangedBy)

	got, err := s.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings, got.Settings, "zero settings keep the stored values")
	assert.Equal(t, formula, got.Formula)

	// Importing the same formula again does not add an audit row.
	res, err = s.Import(ctx, snap, "ops@example.com")
	require.NoError(t, err)
	assert.Nil(t, res.FormulaAudit)
	audit, err := s.FormulaAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)

	bad := snap
	bad.Formula = pricing.FormulaConfig{Mode: pricing.ModeCustom, CustomExpression: "exec(total)"}
	_, err = s.Import(ctx, bad, "ops@example.com")
	require.ErrorIs(t, err, ErrInvalidFormula)
}
