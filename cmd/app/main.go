package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "sddbundle",
		Usage:   "Load, validate and change spec-driven bundles of linked YAML/JSON entities",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "bundle",
				Aliases: []string{"b"},
				Usage:   "Bundle root directory (overrides bundle.path)",
				Sources: cli.EnvVars("SDD_BUNDLE_PATH"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API and watch the bundle for changes",
				Action: serve,
			},
			{
				Name:      "validate",
				Usage:     "Validate the bundle and print its diagnostics (exit status 1 on errors)",
				ArgsUsage: "[bundle-dir]",
				Action:    validate,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print diagnostics as JSON"},
					&cli.BoolFlag{Name: "errors-only", Usage: "Hide warnings"},
				},
			},
			{
				Name:      "apply",
				Usage:     "Apply a batch of proposed changes from a YAML or JSON file ('-' reads JSON from stdin)",
				ArgsUsage: "<batch-file>",
				Action:    apply,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "dry-run", Usage: "Validate the batch in memory without writing"},
					&cli.BoolFlag{Name: "json", Usage: "Print the outcome as JSON"},
				},
			},
			{
				Name:   "mcp",
				Usage:  "Serve the MCP tools on stdin/stdout",
				Action: serveMCP,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
