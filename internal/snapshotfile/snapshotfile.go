// Package snapshotfile reads and writes pricing snapshots as YAML documents, so rate
// tables can be reviewed, versioned and imported in bulk.
package snapshotfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Simplici0/glassquote/internal/pricing"
)

type document struct {
	Settings       *pricing.Settings  `yaml:"settings,omitempty"`
	Formula        *formulaSection    `yaml:"formula,omitempty"`
	GlassRates     []glassRateRow     `yaml:"glass_rates"`
	Markups        map[string]float64 `yaml:"markups"`
	BeveledRates   map[string]float64 `yaml:"beveled_rates"`
	ClippedCorners []clippedCornerRow `yaml:"clipped_corner_rates"`
}

// formulaSection decodes a formula block on top of the default configuration, so keys
// left out of the file keep their default value.
type formulaSection pricing.FormulaConfig

func (f *formulaSection) UnmarshalYAML(value *yaml.Node) error {
	raw, err := yaml.Marshal(value)
	if err != nil {
		return err
	}

	cfg := pricing.DefaultFormulaConfig()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("formula: %w", err)
	}
	*f = formulaSection(cfg)
	return nil
}

type glassRateRow struct {
	Thickness   pricing.Thickness `yaml:"thickness"`
	GlassType   pricing.GlassType `yaml:"glass_type"`
	BasePrice   float64           `yaml:"base_price"`
	PolishPrice float64           `yaml:"polish_price"`
}

type clippedCornerRow struct {
	Thickness pricing.Thickness `yaml:"thickness"`
	ClipSize  pricing.ClipSize  `yaml:"clip_size"`
	Price     float64           `yaml:"price"`
}

// Decode parses a YAML snapshot. Unknown keys, duplicate rows and negative prices are
// rejected. Sections left out of the document stay at their zero value.
func Decode(r io.Reader) (pricing.Snapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return pricing.Snapshot{}, errors.New("decode snapshot: empty document")
		}
		return pricing.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return doc.snapshot()
}

func (d document) snapshot() (pricing.Snapshot, error) {
	snap := pricing.Snapshot{
		Glass:          make(map[pricing.GlassKey]pricing.GlassRate, len(d.GlassRates)),
		Markups:        make(map[string]float64, len(d.Markups)),
		Beveled:        make(map[pricing.Thickness]float64, len(d.BeveledRates)),
		ClippedCorners: make(map[pricing.ClipKey]float64, len(d.ClippedCorners)),
	}

	for i, row := range d.GlassRates {
		if row.Thickness == "" || row.GlassType == "" {
			return pricing.Snapshot{}, fmt.Errorf("glass_rates[%d]: thickness and glass_type are required", i)
		}
		if err := checkPrice(row.BasePrice, row.PolishPrice); err != nil {
			return pricing.Snapshot{}, fmt.Errorf("glass_rates[%d]: %w", i, err)
		}
		key := pricing.GlassKey{Thickness: row.Thickness, GlassType: row.GlassType}
		if _, dup := snap.Glass[key]; dup {
			return pricing.Snapshot{}, fmt.Errorf("glass_rates[%d]: duplicate row %s %s", i, row.Thickness, row.GlassType)
		}
		snap.Glass[key] = pricing.GlassRate{BasePrice: row.BasePrice, PolishPrice: row.PolishPrice}
	}

	for name, pct := range d.Markups {
		if err := checkPrice(pct); err != nil || pct > 100 {
			return pricing.Snapshot{}, fmt.Errorf("markups.%s: must be between 0 and 100", name)
		}
		snap.Markups[name] = pct
	}

	for thickness, price := range d.BeveledRates {
		if err := checkPrice(price); err != nil {
			return pricing.Snapshot{}, fmt.Errorf("beveled_rates.%s: %w", thickness, err)
		}
		snap.Beveled[pricing.Thickness(thickness)] = price
	}

	for i, row := range d.ClippedCorners {
		if row.ClipSize != pricing.ClipUnder1 && row.ClipSize != pricing.ClipOver1 {
			return pricing.Snapshot{}, fmt.Errorf("clipped_corner_rates[%d]: unknown clip_size %q", i, row.ClipSize)
		}
		if err := checkPrice(row.Price); err != nil {
			return pricing.Snapshot{}, fmt.Errorf("clipped_corner_rates[%d]: %w", i, err)
		}
		key := pricing.ClipKey{Thickness: row.Thickness, ClipSize: row.ClipSize}
		if _, dup := snap.ClippedCorners[key]; dup {
			return pricing.Snapshot{}, fmt.Errorf("clipped_corner_rates[%d]: duplicate row %s %s", i, row.Thickness, row.ClipSize)
		}
		snap.ClippedCorners[key] = row.Price
	}

	if d.Settings != nil {
		if err := d.Settings.Validate(); err != nil {
			return pricing.Snapshot{}, fmt.Errorf("settings: %w", err)
		}
		snap.Settings = *d.Settings
	}
	if d.Formula != nil {
		if !d.Formula.Mode.Valid() {
			return pricing.Snapshot{}, fmt.Errorf("formula: unknown mode %q", d.Formula.Mode)
		}
		snap.Formula = pricing.FormulaConfig(*d.Formula)
	}
	return snap, nil
}

func checkPrice(values ...float64) error {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("price must be a finite number >= 0, got %v", v)
		}
	}
	return nil
}

// Encode writes snap as a YAML document with rows in a stable order.
func Encode(w io.Writer, snap pricing.Snapshot) error {
	doc := document{
		Markups:      map[string]float64{},
		BeveledRates: map[string]float64{},
	}
	if snap.Settings != (pricing.Settings{}) {
		st := snap.Settings
		doc.Settings = &st
	}
	if snap.Formula != (pricing.FormulaConfig{}) {
		f := formulaSection(snap.Formula)
		doc.Formula = &f
	}

	for key, rate := range snap.Glass {
		doc.GlassRates = append(doc.GlassRates, glassRateRow{
			Thickness:   key.Thickness,
			GlassType:   key.GlassType,
			BasePrice:   rate.BasePrice,
			PolishPrice: rate.PolishPrice,
		})
	}
	sort.Slice(doc.GlassRates, func(i, j int) bool {
		a, b := doc.GlassRates[i], doc.GlassRates[j]
		if a.Thickness != b.Thickness {
			return a.Thickness < b.Thickness
		}
		return a.GlassType < b.GlassType
	})

	for name, pct := range snap.Markups {
		doc.Markups[name] = pct
	}
	for thickness, price := range snap.Beveled {
		doc.BeveledRates[string(thickness)] = price
	}

	for key, price := range snap.ClippedCorners {
		doc.ClippedCorners = append(doc.ClippedCorners, clippedCornerRow{
			Thickness: key.Thickness,
			ClipSize:  key.ClipSize,
			Price:     price,
		})
	}
	sort.Slice(doc.ClippedCorners, func(i, j int) bool {
		a, b := doc.ClippedCorners[i], doc.ClippedCorners[j]
		if a.Thickness != b.Thickness {
			return a.Thickness < b.Thickness
		}
		return a.ClipSize < b.ClipSize
	})

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	return nil
}

// LoadFile decodes the snapshot stored at path.
func LoadFile(path string) (pricing.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return pricing.Snapshot{}, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	snap, err := Decode(f)
	if err != nil {
		return pricing.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}
