package engine

import (
	"context"

	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/changes"
	"github.com/starford/sddbundle/internal/lint"
	"github.com/starford/sddbundle/internal/metrics"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/validate"
)

// Preview is the outcome of a dry run.
type Preview struct {
	Result      *changes.Result     `json:"result"`
	Valid       bool                `json:"valid"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// Apply runs a batch through the commit protocol. When the batch commits,
// the reloaded snapshot is installed before Apply returns.
func (s *Service) Apply(ctx context.Context, batch []models.ProposedChange) (*changes.Outcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var fresh *Snapshot
	reload := func(ctx context.Context) (*bundle.Bundle, []models.Diagnostic, error) {
		snap, err := s.load(ctx)
		if err != nil {
			return nil, nil, err
		}
		fresh = snap
		return snap.Bundle, snap.Diagnostics, nil
	}

	committer := changes.NewCommitter(s.store, s.reverter, reload, s.logger, s.opts.Metrics)
	out, err := committer.Commit(ctx, s.Snapshot().Bundle, batch)
	if err != nil {
		return out, err
	}
	if out.Committed && fresh != nil {
		s.install(fresh, out.BatchID)
	}
	if out.Diagnostics == nil {
		out.Diagnostics = []models.Diagnostic{}
	}
	return out, nil
}

// Preview applies a batch to a copy of the current snapshot and validates
// it in memory. Nothing is written to disk.
func (s *Service) Preview(_ context.Context, batch []models.ProposedChange) *Preview {
	snap := s.Snapshot()
	work := snap.Bundle.Clone()
	res := changes.Apply(work, batch)
	s.opts.Metrics.ObserveBatch(metrics.OutcomePreview)
	if !res.Success {
		return &Preview{Result: res, Diagnostics: []models.Diagnostic{}}
	}

	edges := work.Edges()
	diags := loadDiagnostics(snap.Diagnostics)
	diags = append(diags, validate.Check(work, snap.Schemas, edges)...)
	diags = append(diags, lint.Run(snap.Lint, validate.LintSnapshot(work, edges))...)
	models.SortDiagnostics(diags)
	return &Preview{
		Result:      res,
		Valid:       !models.HasErrors(diags),
		Diagnostics: nonNil(diags),
	}
}

// loadDiagnostics keeps the diagnostics produced while reading files and
// schemas, which a dry run cannot recompute from memory.
func loadDiagnostics(diags []models.Diagnostic) []models.Diagnostic {
	var out []models.Diagnostic
	for _, d := range diags {
		switch d.Code {
		case bundle.CodeParseError, bundle.CodeMissingID, bundle.CodeDuplicateID,
			bundle.CodeDirReadError, bundle.CodeSchemaLoadError:
			out = append(out, d)
		}
	}
	return out
}
