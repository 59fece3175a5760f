// Package engine holds the live bundle snapshot and coordinates loading,
// validation, change batches, indexing and notifications for the front ends.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/index"
	"github.com/starford/sddbundle/internal/lint"
	"github.com/starford/sddbundle/internal/metrics"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/schema"
	"github.com/starford/sddbundle/internal/sse"
	"github.com/starford/sddbundle/internal/storage"
	"github.com/starford/sddbundle/internal/validate"
	"github.com/starford/sddbundle/internal/vcs"
)

// Notifier receives snapshot change notifications. *sse.Broker implements it.
type Notifier interface {
	PublishReload(s sse.ReloadSummary)
	PublishEntityEvent(kind string, key models.EntityKey)
}

// Options configures a Service.
type Options struct {
	Root        string
	Concurrency int
	// Backend names the vcs backend used to revert rejected batches.
	Backend  string
	Index    index.EntityIndex
	Notifier Notifier
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Snapshot is one fully validated view of the bundle on disk.
type Snapshot struct {
	Bundle      *bundle.Bundle
	Schemas     *schema.Set
	Lint        *lint.Config
	Edges       []models.Edge
	Diagnostics []models.Diagnostic
	LoadedAt    time.Time
}

// Service serializes change batches and serves reads from the current snapshot.
type Service struct {
	opts     Options
	store    storage.Provider
	reverter vcs.Reverter
	logger   *slog.Logger

	writeMu sync.Mutex // held for the duration of a batch or reload

	mu   sync.RWMutex
	snap *Snapshot
}

// New opens the bundle at opts.Root and loads the first snapshot.
func New(ctx context.Context, opts Options) (*Service, error) {
	store, err := storage.NewFS(opts.Root)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reverter, err := vcs.New(ctx, opts.Backend, store)
	if err != nil {
		return nil, fmt.Errorf("engine: vcs backend: %w", err)
	}
	s := &Service{opts: opts, store: store, reverter: reverter, logger: logger}
	if _, err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the bundle root directory.
func (s *Service) Root() string { return s.store.Root() }

// Snapshot returns the current snapshot. Callers must not mutate it.
func (s *Service) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// load runs the whole read pipeline against disk without installing the result.
func (s *Service) load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	b, diags, err := bundle.Load(ctx, s.store.Root(),
		bundle.WithStore(s.store),
		bundle.WithConcurrency(s.opts.Concurrency),
		bundle.WithLogger(s.logger))
	if err != nil {
		s.opts.Metrics.ObserveLoad(false, time.Since(start))
		return nil, err
	}

	lintCfg, err := s.loadLintConfig(b)
	if err != nil {
		s.opts.Metrics.ObserveLoad(false, time.Since(start))
		return nil, err
	}

	set, sdiags := schema.Compile(s.store, b.SchemaPaths())
	diags = append(diags, sdiags...)

	edges := b.Edges()
	diags = append(diags, validate.Check(b, set, edges)...)
	diags = append(diags, lint.Run(lintCfg, validate.LintSnapshot(b, edges))...)
	models.SortDiagnostics(diags)

	s.opts.Metrics.ObserveLoad(true, time.Since(start))
	return &Snapshot{
		Bundle:      b,
		Schemas:     set,
		Lint:        lintCfg,
		Edges:       edges,
		Diagnostics: diags,
		LoadedAt:    time.Now().UTC(),
	}, nil
}

func (s *Service) loadLintConfig(b *bundle.Bundle) (*lint.Config, error) {
	if b.Manifest.LintConfig == "" {
		return &lint.Config{Rules: map[string]lint.Rule{}}, nil
	}
	data, err := s.store.Read(b.Manifest.LintConfig)
	if errors.Is(err, fs.ErrNotExist) {
		return &lint.Config{Rules: map[string]lint.Rule{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("engine: read lint config: %w", err)
	}
	return lint.ParseConfig(data)
}

// Reload rereads the bundle from disk, installs the new snapshot and
// publishes the differences.
func (s *Service) Reload(ctx context.Context) (*Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	snap, err := s.load(ctx)
	if err != nil {
		s.logger.Error("engine: reload failed", slog.String("error", err.Error()))
		return nil, err
	}
	s.install(snap, "")
	return snap, nil
}

// install swaps in snap, refreshes the index and metrics and notifies subscribers.
func (s *Service) install(snap *Snapshot, batchID string) {
	s.mu.Lock()
	prev := s.snap
	s.snap = snap
	s.mu.Unlock()

	errs, warns := models.Count(snap.Diagnostics)
	s.opts.Metrics.SetSnapshot(snap.Bundle.Len(), snap.Diagnostics)

	if s.opts.Index != nil {
		if err := index.Sync(s.opts.Index, snap.Bundle, snap.Edges, snap.Diagnostics, s.logger); err != nil {
			s.logger.Warn("engine: index sync failed", slog.String("error", err.Error()))
		}
	}

	if n := s.opts.Notifier; n != nil {
		for _, ch := range diffEntities(prev, snap) {
			n.PublishEntityEvent(ch.kind, ch.key)
		}
		n.PublishReload(sse.ReloadSummary{
			Entities: snap.Bundle.Len(),
			Errors:   errs,
			Warnings: warns,
			BatchID:  batchID,
		})
	}

	s.logger.Info("engine: snapshot installed",
		slog.Int("entities", snap.Bundle.Len()),
		slog.Int("errors", errs),
		slog.Int("warnings", warns))
}

type entityChange struct {
	kind string
	key  models.EntityKey
}

// diffEntities compares two snapshots by entity checksum.
func diffEntities(prev, next *Snapshot) []entityChange {
	if prev == nil {
		return nil
	}
	var out []entityChange
	old := prev.Bundle.All()
	seen := make(map[models.EntityKey]string, len(old))
	for _, e := range old {
		seen[e.Key()] = e.Checksum
	}
	for _, e := range next.Bundle.All() {
		cs, ok := seen[e.Key()]
		switch {
		case !ok:
			out = append(out, entityChange{"created", e.Key()})
		case cs != e.Checksum:
			out = append(out, entityChange{"updated", e.Key()})
		}
		delete(seen, e.Key())
	}
	for _, e := range old {
		if _, gone := seen[e.Key()]; gone {
			out = append(out, entityChange{"deleted", e.Key()})
		}
	}
	return out
}

// DomainKnowledge returns the manifest's domain knowledge document.
func (s *Service) DomainKnowledge() (string, string, error) {
	snap := s.Snapshot()
	p := snap.Bundle.Manifest.DomainKnowledge
	if p == "" {
		return "", "", fmt.Errorf("engine: no domain knowledge configured: %w", apperr.ErrNotFound)
	}
	data, err := s.store.Read(path.Clean(p))
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("engine: domain knowledge %s: %w", p, apperr.ErrNotFound)
	}
	if err != nil {
		return "", "", err
	}
	return p, string(data), nil
}

// Watch reloads the snapshot whenever bundle files change on disk, until
// ctx is cancelled.
func (s *Service) Watch(ctx context.Context, debounce time.Duration) error {
	return index.Watch(ctx, s.Root(), debounce, s.logger, func(paths []string) {
		s.logger.Debug("engine: files changed", slog.Int("files", len(paths)))
		_, _ = s.Reload(ctx)
	})
}
