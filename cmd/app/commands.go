package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"

	"github.com/starford/sddbundle/internal"
	"github.com/starford/sddbundle/internal/changes"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
	pkgconfig "github.com/starford/sddbundle/pkg/config"
)

// loadConfig reads the config file (if present) and applies command line overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if p := cmd.String("bundle"); p != "" {
		cfg.Bundle.Path = p
	}
	if p := cmd.Args().First(); p != "" && cmd.Name == "validate" {
		cfg.Bundle.Path = p
	}
	return cfg, nil
}

// openOneShot opens the engine for a single command: no index, quiet logs on stderr.
func openOneShot(ctx context.Context, cmd *cli.Command) (*internal.Runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cfg.SQLite.Path = ""
	return internal.Open(ctx, internal.WithConfig(cfg), internal.WithLogOutput(io.Discard), internal.WithVersion(version))
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr), internal.WithVersion(version))
}

func validate(ctx context.Context, cmd *cli.Command) error {
	rt, err := openOneShot(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	diags := rt.Engine.Diagnostics(engineFilter(cmd.Bool("errors-only")))
	if cmd.Bool("json") {
		if err := printJSON(os.Stdout, diags); err != nil {
			return err
		}
	} else {
		printDiagnostics(os.Stdout, diags)
	}
	if models.HasErrors(diags) {
		return cli.Exit("", 1)
	}
	return nil
}

func apply(ctx context.Context, cmd *cli.Command) error {
	src := cmd.Args().First()
	if src == "" {
		return cli.Exit("apply: a batch file is required", 2)
	}
	batch, err := readBatch(src)
	if err != nil {
		return err
	}

	rt, err := openOneShot(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cmd.Bool("dry-run") {
		p := rt.Engine.Preview(ctx, batch)
		if cmd.Bool("json") {
			return printJSON(os.Stdout, p)
		}
		printDiagnostics(os.Stdout, p.Diagnostics)
		if !p.Result.Success || !p.Valid {
			return cli.Exit(color.RedString("dry run: batch would be rejected"), 1)
		}
		fmt.Fprintln(os.Stdout, color.GreenString("dry run: batch is valid (%d change(s))", len(p.Result.Applied)))
		return nil
	}

	out, err := rt.Engine.Apply(ctx, batch)
	if cmd.Bool("json") && out != nil {
		if perr := printJSON(os.Stdout, out); perr != nil {
			return perr
		}
	} else if out != nil {
		printDiagnostics(os.Stdout, out.Diagnostics)
	}
	switch {
	case err != nil:
		return err
	case out.Reverted:
		return cli.Exit(color.RedString("batch %s reverted", out.BatchID), 1)
	}
	if !cmd.Bool("json") {
		fmt.Fprintln(os.Stdout, color.GreenString("batch %s committed: %d file(s) written", out.BatchID, len(out.Result.ModifiedFiles)))
	}
	return nil
}

func readBatch(src string) ([]models.ProposedChange, error) {
	var (
		data []byte
		err  error
	)
	format := parser.FormatJSON
	if src == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(src)
		if f, ok := parser.FormatFor(filepath.Base(src)); ok {
			format = f
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}
	return changes.DecodeBatch(data, format)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
