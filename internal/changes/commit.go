package changes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/checksum"
	"github.com/starford/sddbundle/internal/metrics"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/storage"
	"github.com/starford/sddbundle/internal/vcs"
)

// Gate diagnostic codes.
const (
	CodeBatchReverted = "batch-reverted"
	CodeApplyFailed   = "apply-failed"
)

// ValidateFunc reloads the bundle from disk and returns its full
// diagnostics (load, schema, checks and lint).
type ValidateFunc func(ctx context.Context) (*bundle.Bundle, []models.Diagnostic, error)

// Outcome is the result of one committed or reverted batch.
type Outcome struct {
	BatchID     string              `json:"batchId"`
	Result      *Result             `json:"result"`
	Committed   bool                `json:"committed"`
	Reverted    bool                `json:"reverted"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`

	// Bundle is the reloaded snapshot after a successful commit.
	Bundle *bundle.Bundle `json:"-"`
}

// Committer runs the commit protocol: apply to a clone, write the touched
// files, reload and revalidate from disk, and revert every touched file
// if any error diagnostic remains.
type Committer struct {
	store    storage.Provider
	reverter vcs.Reverter
	validate ValidateFunc
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewCommitter creates a Committer. metrics may be nil.
func NewCommitter(store storage.Provider, reverter vcs.Reverter, validate ValidateFunc, logger *slog.Logger, m *metrics.Metrics) *Committer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Committer{store: store, reverter: reverter, validate: validate, logger: logger, metrics: m}
}

// Commit applies changes to a clone of b and runs the commit protocol.
// b itself is never modified. An apply failure returns the outcome and an
// error wrapping the cause, with nothing written to disk.
func (c *Committer) Commit(ctx context.Context, b *bundle.Bundle, changes []models.ProposedChange) (*Outcome, error) {
	out := &Outcome{BatchID: uuid.NewString()}
	log := c.logger.With(slog.String("batch_id", out.BatchID))

	work := b.Clone()
	res := Apply(work, changes)
	out.Result = res
	if !res.Success {
		out.Diagnostics = []models.Diagnostic{gateDiag(CodeApplyFailed, fmt.Sprintf("batch %s not applied: %s", out.BatchID, res.Failed.Error))}
		c.metrics.ObserveBatch(metrics.OutcomeFailed)
		log.Warn("changes: apply failed", slog.String("error", res.err.Error()))
		return out, fmt.Errorf("changes: apply: %w", res.err)
	}
	if len(res.ModifiedFiles) == 0 {
		out.Committed = true
		out.Bundle = b
		return out, nil
	}

	if i, err := checkNewFiles(c.store, b, changes, res); err != nil {
		res.fail(i, changes[i], err)
		out.Diagnostics = []models.Diagnostic{gateDiag(CodeApplyFailed, fmt.Sprintf("batch %s not applied: %v", out.BatchID, err))}
		c.metrics.ObserveBatch(metrics.OutcomeFailed)
		log.Warn("changes: apply failed", slog.String("error", err.Error()))
		return out, fmt.Errorf("changes: apply: %w", err)
	}

	if s, ok := c.reverter.(vcs.Snapshotter); ok {
		if err := s.Snapshot(ctx, res.ModifiedFiles); err != nil {
			c.metrics.ObserveBatch(metrics.OutcomeFailed)
			return out, fmt.Errorf("changes: snapshot: %w", err)
		}
	}

	if err := Persist(c.store, work, res); err != nil {
		log.Error("changes: persist failed, reverting", slog.String("error", err.Error()))
		if rerr := vcs.Revert(ctx, c.reverter, res.ModifiedFiles); rerr != nil {
			err = errors.Join(err, rerr)
		}
		c.metrics.ObserveBatch(metrics.OutcomeFailed)
		return out, fmt.Errorf("changes: persist: %w", err)
	}

	reloaded, diags, err := c.validate(ctx)
	if err != nil || models.HasErrors(diags) {
		if rerr := vcs.Revert(ctx, c.reverter, res.ModifiedFiles); rerr != nil {
			log.Error("changes: revert failed", slog.String("error", rerr.Error()))
			c.metrics.ObserveBatch(metrics.OutcomeFailed)
			return out, fmt.Errorf("changes: revert: %w", rerr)
		}
		out.Reverted = true
		c.metrics.ObserveBatch(metrics.OutcomeReverted)
		if err != nil {
			log.Warn("changes: reload failed, batch reverted", slog.String("error", err.Error()))
			return out, fmt.Errorf("changes: reload: %w", err)
		}
		errs, _ := models.Count(diags)
		out.Diagnostics = append(diags, gateDiag(CodeBatchReverted,
			fmt.Sprintf("batch %s reverted: %d error(s) after applying %d change(s)", out.BatchID, errs, len(res.Applied))))
		log.Info("changes: batch reverted", slog.Int("errors", errs), slog.Int("files", len(res.ModifiedFiles)))
		return out, nil
	}

	out.Committed = true
	out.Bundle = reloaded
	out.Diagnostics = diags
	c.metrics.ObserveBatch(metrics.OutcomeCommitted)
	log.Info("changes: batch committed",
		slog.Int("changes", len(res.Applied)),
		slog.Int("files", len(res.ModifiedFiles)))
	return out, nil
}

// checkNewFiles refuses to write a created entity over a file that exists
// on disk but backs no entity of the original bundle, such as a file that
// failed to parse. It returns the index of the offending change.
func checkNewFiles(store storage.Provider, orig *bundle.Bundle, changes []models.ProposedChange, res *Result) (int, error) {
	known := make(map[string]bool)
	for _, e := range orig.All() {
		known[e.Path] = true
	}
	for _, i := range res.Applied {
		ch := changes[i]
		if ch.Kind() != models.OpCreate {
			continue
		}
		p, err := orig.EntityPath(ch.EntityType, ch.EntityID)
		if err != nil || known[p] {
			continue
		}
		exists, err := store.Exists(p)
		if err != nil {
			return i, err
		}
		if exists {
			return i, fmt.Errorf("changes: create %s/%s: file %s already exists: %w", ch.EntityType, ch.EntityID, p, apperr.ErrAlreadyExists)
		}
	}
	return 0, nil
}

// Persist writes every touched entity of b in its original format and
// deletes the files of removed entities.
func Persist(store storage.Provider, b *bundle.Bundle, res *Result) error {
	byPath := make(map[string]*models.Entity)
	for _, e := range b.All() {
		byPath[e.Path] = e
	}
	for _, p := range res.ModifiedFiles {
		e, ok := byPath[p]
		if !ok {
			exists, err := store.Exists(p)
			if err != nil {
				return err
			}
			if exists {
				if err := store.Delete(p); err != nil {
					return err
				}
			}
			continue
		}
		data, err := e.Doc.Encode()
		if err != nil {
			return fmt.Errorf("changes: encode %s: %w", e.Key(), err)
		}
		if err := store.Write(p, data); err != nil {
			return err
		}
		e.Checksum = checksum.Sum(data)
	}
	return nil
}

func gateDiag(code, msg string) models.Diagnostic {
	return models.Diagnostic{
		Severity: models.SeverityError,
		Message:  msg,
		Source:   models.SourceGate,
		Code:     code,
	}
}
