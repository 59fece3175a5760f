package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/starford/sddbundle/internal/engine"
	"github.com/starford/sddbundle/internal/models"
)

var (
	errorLabel   = color.New(color.FgRed, color.Bold).SprintFunc()
	warningLabel = color.New(color.FgYellow, color.Bold).SprintFunc()
	codeLabel    = color.New(color.FgCyan).SprintFunc()
	dim          = color.New(color.Faint).SprintFunc()
)

func engineFilter(errorsOnly bool) engine.DiagnosticFilter {
	if errorsOnly {
		return engine.DiagnosticFilter{Severity: models.SeverityError}
	}
	return engine.DiagnosticFilter{}
}

// printDiagnostics writes one line per diagnostic followed by a summary.
func printDiagnostics(w io.Writer, diags []models.Diagnostic) {
	for _, d := range diags {
		label := warningLabel("warning")
		if d.Severity == models.SeverityError {
			label = errorLabel("error  ")
		}
		subject := ""
		if d.EntityID != "" {
			subject = d.EntityType + "/" + d.EntityID
			if d.Path != "" {
				subject += " " + d.Path
			}
			subject += ": "
		}
		line := fmt.Sprintf("%s %s %s%s", label, codeLabel("["+d.Code+"]"), subject, d.Message)
		if d.File != "" {
			line += " " + dim("("+d.File+")")
		}
		fmt.Fprintln(w, line)
	}

	errs, warns := models.Count(diags)
	summary := fmt.Sprintf("%d error(s), %d warning(s)", errs, warns)
	switch {
	case errs > 0:
		fmt.Fprintln(w, color.RedString(summary))
	case warns > 0:
		fmt.Fprintln(w, color.YellowString(summary))
	default:
		fmt.Fprintln(w, color.GreenString("bundle is valid"))
	}
}
