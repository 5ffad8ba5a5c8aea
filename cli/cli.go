package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/qaflow/qaflow/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

const AppName = "qaflow"

type App struct {
	logger zerolog.Logger
	cli    *cli.App

	// Populated by the Before hook
	cfg config.Config
}

func New() *App {

	// Set default log level to info
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logger :=
		log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339Nano,
		})

	app := &App{
		logger: logger,
		cli: &cli.App{
			Name:  AppName,
			Usage: "Drive an AI test-generation pipeline and run the browser tests it writes",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "verbose",
					Usage: "Enable verbose (debug) logging",
				},
				&cli.StringFlag{
					Name:    "config",
					Aliases: []string{"c"},
					Usage:   "YAML configuration file",
					EnvVars: []string{"QAFLOW_CONFIG"},
				},
				&cli.StringFlag{
					Name:    "root",
					Usage:   "Project root holding tests/, output/ and data/ (default: current directory)",
					EnvVars: []string{"QAFLOW_ROOT"},
				},
			},
		},
	}
	app.cli.Before = app.before

	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "serve",
		Usage:  "Serve the HTTP API",
		Action: app.serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Address to listen on (default: :8000)",
			},
			&cli.DurationFlag{
				Name:  "run-timeout",
				Usage: "Kill pipeline runs that take longer than this (0 disables)",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "run",
		Usage:  "Run the pipeline for a test and print its output",
		Action: app.run,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "url",
				Aliases:  []string{"u"},
				Usage:    "Application URL to test",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "Test name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "description",
				Aliases:  []string{"d"},
				Usage:    "What the test should verify",
				Required: true,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:      "run-spec",
		Usage:     "Run one browser test spec and wait for the result",
		ArgsUsage: "SPEC",
		Action:    app.runSpec,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "headed",
				Usage: "Show the browser while the test runs",
			},
		},
		Description: `Run one browser test spec synchronously.

SPEC may be a path relative to the project root or a bare test name:
  login                    resolves tests/login.spec.ts
  tests/cart/add.spec.ts   used as is`,
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "scenarios",
		Usage:  "Print the scenario set of a test, generating it when missing",
		Action: app.scenarios,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "name",
				Aliases:  []string{"n"},
				Usage:    "Test name",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "Application URL (required to generate)",
			},
			&cli.StringFlag{
				Name:    "description",
				Aliases: []string{"d"},
				Usage:   "Test description (required to generate)",
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:   "tests",
		Usage:  "List known tests, most recently run first",
		Action: app.tests,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Limit number of results (default: 20)",
				Value:   20,
			},
		},
	})
	app.cli.Commands = append(app.cli.Commands, &cli.Command{
		Name:            "report",
		Usage:           "Print the report of a test run",
		ArgsUsage:       "[NAME|INDEX]",
		Action:          app.report,
		SkipFlagParsing: true,
		Description: `Print a report.

Arguments:
  (none)      Print the pipeline's latest report (output/final_report.md)
  0           Report of the most recently run test
  -1          Report of the 2nd most recently run test
  <name>      Report of the last run of the named test`,
	})
	return app
}

func (a *App) before(ctx *cli.Context) error {
	if ctx.Bool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return err
	}
	if root := ctx.String("root"); root != "" {
		cfg.Root = root
	}
	a.cfg = cfg
	return nil
}

func (a *App) Run(args []string) error {
	return a.cli.Run(args)
}

// SetVersion sets the version information for the CLI application
func (a *App) SetVersion(version, commit, date string) {
	a.cli.Version = version
	if commit != "none" && len(commit) >= 8 {
		a.cli.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit[:8], date)
	}
}
