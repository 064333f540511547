// Command glassquote prices glass quotes and manages the pricing database from the
// command line.
//
// Usage:
//
//	glassquote quote --thickness 1/4 --glass-type clear --width 24 --height 36 --polished
//	glassquote validate-formula "round(total / 0.3, 2)"
//	glassquote snapshot export --out rates.yaml
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Simplici0/glassquote/internal/logging"
)

var version = "dev"

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := 1
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		os.Exit(code)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "glassquote",
		Usage:   "Glass pricing and quoting engine",
		Version: version,
		Writer:  out,

		// Exit codes are handled in main so the app can run inside tests.
		ExitErrHandler: func(*cli.Context, error) {},

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db",
				Value:   "./dev.db",
				Usage:   "Path to the SQLite database",
				EnvVars: []string{"DB_PATH"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},

		Before: func(c *cli.Context) error {
			logging.Setup(c.String("log-level"), true)
			log.Debug().Str("db", c.String("db")).Msg("glassquote starting")
			return nil
		},

		Commands: []*cli.Command{
			quoteCommand(),
			validateFormulaCommand(),
			migrateCommand(),
			seedCommand(),
			snapshotCommand(),
		},
	}
}
