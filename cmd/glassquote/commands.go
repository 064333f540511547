package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Simplici0/glassquote/internal/db"
	"github.com/Simplici0/glassquote/internal/formula"
	"github.com/Simplici0/glassquote/internal/migrations"
	"github.com/Simplici0/glassquote/internal/pricing"
	"github.com/Simplici0/glassquote/internal/seed"
	"github.com/Simplici0/glassquote/internal/snapshotfile"
	"github.com/Simplici0/glassquote/internal/store"
)

// Exit codes for scripted use.
const (
	exitRejected      = 2
	exitInvalidFormat = 3
)

const cliActor = "cli"

func openDB(c *cli.Context) (*sql.DB, error) {
	database, err := db.Open(c.Context, c.String("db"))
	if err != nil {
		return nil, err
	}
	return database, nil
}

// =============================================================================
// QUOTE COMMAND
// =============================================================================

func quoteCommand() *cli.Command {
	return &cli.Command{
		Name:  "quote",
		Usage: "Price one quote line",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "width", Aliases: []string{"w"}, Usage: "Width in inches"},
			&cli.Float64Flag{Name: "height", Usage: "Height in inches"},
			&cli.Float64Flag{Name: "diameter", Usage: "Diameter in inches for circular pieces (defaults to width)"},
			&cli.StringFlag{Name: "thickness", Aliases: []string{"t"}, Usage: "Thickness bucket, e.g. 1/4", Required: true},
			&cli.StringFlag{Name: "glass-type", Aliases: []string{"g"}, Usage: "Glass type, e.g. clear", Required: true},
			&cli.IntFlag{Name: "quantity", Aliases: []string{"q"}, Value: 1, Usage: "Number of pieces"},
			&cli.BoolFlag{Name: "polished", Usage: "Polish the edges"},
			&cli.BoolFlag{Name: "beveled", Usage: "Bevel the edges"},
			&cli.BoolFlag{Name: "tempered", Usage: "Temper the glass"},
			&cli.BoolFlag{Name: "shaped", Usage: "Non-rectangular piece"},
			&cli.BoolFlag{Name: "circular", Usage: "Circular piece"},
			&cli.BoolFlag{Name: "contractor", Usage: "Apply the contractor discount"},
			&cli.IntFlag{Name: "clipped-corners", Usage: "Number of clipped corners (0-4)"},
			&cli.StringFlag{Name: "clip-size", Value: string(pricing.ClipUnder1), Usage: "Clip size (under_1, over_1)"},
			&cli.StringFlag{Name: "snapshot", Aliases: []string{"s"}, Usage: "Price against a YAML snapshot file instead of the database"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: "text", Usage: "Output format (text, json)"},
			&cli.BoolFlag{Name: "save", Usage: "Record the quote in the database quote log"},
			&cli.StringFlag{Name: "title", Usage: "Title stored with --save"},
		},
		Action: runQuote,
	}
}

func quoteRequestFromFlags(c *cli.Context) pricing.QuoteRequest {
	req := pricing.QuoteRequest{
		Width:             c.Float64("width"),
		Height:            c.Float64("height"),
		Diameter:          c.Float64("diameter"),
		Thickness:         pricing.Thickness(c.String("thickness")),
		GlassType:         pricing.GlassType(c.String("glass-type")),
		Quantity:          c.Int("quantity"),
		IsPolished:        c.Bool("polished"),
		IsBeveled:         c.Bool("beveled"),
		IsTempered:        c.Bool("tempered"),
		IsNonRectangular:  c.Bool("shaped"),
		IsCircular:        c.Bool("circular"),
		IsContractor:      c.Bool("contractor"),
		NumClippedCorners: c.Int("clipped-corners"),
	}
	if req.NumClippedCorners > 0 {
		req.ClipSize = pricing.ClipSize(c.String("clip-size"))
	}
	return req
}

func runQuote(c *cli.Context) error {
	format := c.String("format")
	if format != "text" && format != "json" {
		return cli.Exit(fmt.Sprintf("unknown format %q (text, json)", format), exitInvalidFormat)
	}
	if c.Bool("save") && c.String("snapshot") != "" {
		return cli.Exit("--save records to the database and cannot be combined with --snapshot", exitInvalidFormat)
	}

	var (
		snap     pricing.Snapshot
		st       *store.Store
		database *sql.DB
		err      error
	)
	if path := c.String("snapshot"); path != "" {
		snap, err = snapshotfile.LoadFile(path)
		if err != nil {
			return err
		}
	} else {
		database, err = openDB(c)
		if err != nil {
			return err
		}
		defer database.Close()
		st = store.New(database)
		if snap, err = st.LoadSnapshot(c.Context); err != nil {
			return err
		}
	}

	calc, err := pricing.NewCalculator(snap)
	if err != nil {
		return err
	}

	req := quoteRequestFromFlags(c)
	res := calc.CalculateQuote(c.Context, req)
	if res.FormulaFallback != "" {
		log.Warn().Str("reason", res.FormulaFallback).Msg("formula fell back to default divisor")
	}

	if err := writeQuote(c.App.Writer, format, req, res); err != nil {
		return err
	}

	if c.Bool("save") {
		saved, err := st.SaveQuote(c.Context, store.Quote{Title: c.String("title"), Request: req, Result: res})
		if err != nil {
			return err
		}
		log.Info().Str("id", saved.ID.String()).Msg("quote saved")
	}

	if res.Rejected() {
		return cli.Exit("quote rejected: "+res.ErrorCode, exitRejected)
	}
	return nil
}

func writeQuote(w io.Writer, format string, req pricing.QuoteRequest, res pricing.QuoteResult) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return pricing.WriteText(w, req, res)
}

// =============================================================================
// VALIDATE-FORMULA COMMAND
// =============================================================================

func validateFormulaCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate-formula",
		Usage:     "Check a custom formula expression",
		ArgsUsage: "EXPRESSION",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("expected exactly one expression argument", exitInvalidFormat)
			}

			v, err := formula.Evaluate(c.Context, c.Args().First(), formula.SampleTotal)
			if err != nil {
				return cli.Exit(fmt.Sprintf("invalid formula: %v", err), 1)
			}
			fmt.Fprintf(c.App.Writer, "ok: total=%g gives %g\n", formula.SampleTotal, v)
			return nil
		},
	}
}

// =============================================================================
// MIGRATE AND SEED COMMANDS
// =============================================================================

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Value:   "migrations",
				Usage:   "Directory holding the goose SQL migrations",
				EnvVars: []string{"MIGRATIONS_DIR"},
			},
		},
		Action: func(c *cli.Context) error {
			database, err := openDB(c)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := migrations.Up(c.Context, database, c.String("dir")); err != nil {
				return err
			}
			v, err := migrations.Version(c.Context, database)
			if err != nil {
				return err
			}
			log.Info().Int64("version", v).Msg("database migrated")
			return nil
		},
	}
}

func seedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Insert the starting pricing configuration (idempotent)",
		Action: func(c *cli.Context) error {
			database, err := openDB(c)
			if err != nil {
				return err
			}
			defer database.Close()

			stats, err := seed.Run(c.Context, database)
			if err != nil {
				return err
			}
			log.Info().Int("inserts", stats.Inserts).Msg("seed complete")
			return nil
		},
	}
}

// =============================================================================
// SNAPSHOT COMMAND
// =============================================================================

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Export or import the pricing configuration as YAML",
		Subcommands: []*cli.Command{
			{
				Name:  "export",
				Usage: "Write the current configuration as YAML",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
				},
				Action: runSnapshotExport,
			},
			{
				Name:      "import",
				Usage:     "Replace the rate tables with a YAML snapshot",
				ArgsUsage: "FILE",
				Action:    runSnapshotImport,
			},
		},
	}
}

func runSnapshotExport(c *cli.Context) (err error) {
	database, err := openDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	snap, err := store.New(database).LoadSnapshot(c.Context)
	if err != nil {
		return err
	}

	w := c.App.Writer
	if path := c.String("out"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		w = f
	}
	return snapshotfile.Encode(w, snap)
}

func runSnapshotImport(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one snapshot file", exitInvalidFormat)
	}

	snap, err := snapshotfile.LoadFile(c.Args().First())
	if err != nil {
		return err
	}

	database, err := openDB(c)
	if err != nil {
		return err
	}
	defer database.Close()

	res, err := store.New(database).Import(c.Context, snap, cliActor)
	if err != nil {
		if errors.Is(err, store.ErrInvalidFormula) || errors.Is(err, store.ErrInvalidRate) {
			return cli.Exit(err.Error(), exitInvalidFormat)
		}
		return err
	}
	log.Info().
		Int("glass_rates", res.GlassRates).
		Int("markups", res.Markups).
		Bool("formula_changed", res.FormulaAudit != nil).
		Msg("snapshot imported")
	return nil
}
