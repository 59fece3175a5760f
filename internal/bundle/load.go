package bundle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/checksum"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
	"github.com/starford/sddbundle/internal/storage"
)

// ManifestNames are the manifest file names probed at the bundle root, in order.
var ManifestNames = []string{"sdd-bundle.yaml", "sdd-bundle.yml", "sdd-bundle.json"}

// Diagnostic codes produced while loading.
const (
	CodeParseError      = "parse-error"
	CodeMissingID       = "missing-id"
	CodeDuplicateID     = "duplicate-id"
	CodeDirReadError    = "dir-read-error"
	CodeSchemaLoadError = "schema-load-error"
)

type loadOptions struct {
	store       storage.Provider
	concurrency int
	logger      *slog.Logger
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithStore loads from an existing storage provider instead of opening root.
func WithStore(s storage.Provider) LoadOption {
	return func(o *loadOptions) { o.store = s }
}

// WithConcurrency bounds the number of files read in parallel.
func WithConcurrency(n int) LoadOption {
	return func(o *loadOptions) { o.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) LoadOption {
	return func(o *loadOptions) { o.logger = l }
}

// LoadManifest reads and validates the bundle manifest. It returns the
// manifest and its root-relative path.
func LoadManifest(store storage.Provider) (*models.Manifest, string, error) {
	for _, name := range ManifestNames {
		ok, err := store.Exists(name)
		if err != nil {
			return nil, "", fmt.Errorf("bundle: manifest: %w", err)
		}
		if !ok {
			continue
		}
		data, err := store.Read(name)
		if err != nil {
			return nil, "", fmt.Errorf("bundle: manifest: %w", err)
		}
		var m models.Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, "", fmt.Errorf("bundle: manifest %s: %v: %w", name, err, apperr.ErrInvalidManifest)
		}
		if err := m.Validate(); err != nil {
			return nil, "", fmt.Errorf("bundle: manifest %s: %v: %w", name, err, apperr.ErrInvalidManifest)
		}
		return &m, name, nil
	}
	return nil, "", fmt.Errorf("bundle: %s: %w", store.Root(), apperr.ErrManifestNotFound)
}

// LoadDefinition reads and validates the bundle-type definition the manifest points to.
func LoadDefinition(store storage.Provider, m *models.Manifest) (*models.BundleTypeDefinition, error) {
	data, err := store.Read(m.BundleTypeDefinition)
	if err != nil {
		return nil, fmt.Errorf("bundle: definition: %v: %w", err, apperr.ErrInvalidDefinition)
	}
	var def models.BundleTypeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("bundle: definition %s: %v: %w", m.BundleTypeDefinition, err, apperr.ErrInvalidDefinition)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("bundle: definition %s: %v: %w", m.BundleTypeDefinition, err, apperr.ErrInvalidDefinition)
	}
	return &def, nil
}

// fileResult is the per-file outcome of discovery. Errors are captured
// per item so one bad file never aborts its siblings.
type fileResult struct {
	spec     TypeSpec
	path     string
	doc      *parser.Document
	checksum string
	err      error
}

// Load reads the bundle rooted at root. Hard failures (missing manifest,
// invalid definition) are returned as errors; everything else is reported
// as diagnostics. Load never writes to disk.
func Load(ctx context.Context, root string, opts ...LoadOption) (*Bundle, []models.Diagnostic, error) {
	o := loadOptions{concurrency: runtime.NumCPU(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.store == nil {
		s, err := storage.NewFS(root)
		if err != nil {
			return nil, nil, fmt.Errorf("bundle: %w", err)
		}
		o.store = s
	}
	start := time.Now()

	m, manifestPath, err := LoadManifest(o.store)
	if err != nil {
		return nil, nil, err
	}
	def, err := LoadDefinition(o.store, m)
	if err != nil {
		return nil, nil, err
	}
	b := newBundle(o.store, m, manifestPath, def)

	var diags []models.Diagnostic
	var results []fileResult
	for _, spec := range b.specs {
		files, err := o.store.Glob(spec.Dir, globPattern(spec.Pattern))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			diags = append(diags, models.Diagnostic{
				Severity:   models.SeverityError,
				Message:    fmt.Sprintf("cannot read directory %s: %v", spec.Dir, err),
				EntityType: spec.EntityType,
				File:       spec.Dir,
				Source:     models.SourceSchema,
				Code:       CodeDirReadError,
			})
			continue
		}
		for _, f := range files {
			results = append(results, fileResult{spec: spec, path: f})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i := range results {
		r := &results[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r.doc, r.checksum, r.err = readEntity(o.store, r.path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("bundle: load: %w", err)
	}

	// Fan-in is sequential and ordered so that "first wins" on duplicate ids
	// is deterministic: definition order, then sorted file path.
	for _, r := range results {
		diags = append(diags, b.register(r)...)
	}

	errs, warns := models.Count(diags)
	o.logger.Info("bundle: loaded",
		slog.String("root", o.store.Root()),
		slog.Int("entities", len(b.registry)),
		slog.Int("errors", errs),
		slog.Int("warnings", warns),
		slog.Duration("took", time.Since(start)))
	return b, diags, nil
}

func readEntity(store storage.Provider, p string) (*parser.Document, string, error) {
	format, ok := parser.FormatFor(p)
	if !ok {
		return nil, "", fmt.Errorf("unsupported file extension %q", path.Ext(p))
	}
	data, err := store.Read(p)
	if err != nil {
		return nil, "", err
	}
	doc, err := parser.Parse(data, format)
	if err != nil {
		return nil, "", err
	}
	return doc, checksum.Sum(data), nil
}

func (b *Bundle) register(r fileResult) []models.Diagnostic {
	diag := func(code, msg string) []models.Diagnostic {
		return []models.Diagnostic{{
			Severity:   models.SeverityError,
			Message:    msg,
			EntityType: r.spec.EntityType,
			File:       r.path,
			Source:     models.SourceSchema,
			Code:       code,
		}}
	}
	if r.err != nil {
		return diag(CodeParseError, fmt.Sprintf("cannot parse %s: %v", r.path, r.err))
	}
	raw, present := r.doc.Data[r.spec.IDField]
	id, isString := raw.(string)
	switch {
	case !present || raw == nil:
		return diag(CodeMissingID, fmt.Sprintf("%s: missing id field %q", r.path, r.spec.IDField))
	case !isString:
		return diag(CodeMissingID, fmt.Sprintf("%s: id field %q must be a string, got %T", r.path, r.spec.IDField, raw))
	case strings.TrimSpace(id) == "":
		return diag(CodeMissingID, fmt.Sprintf("%s: id field %q is empty", r.path, r.spec.IDField))
	}
	if prev, dup := b.registry[id]; dup {
		d := diag(CodeDuplicateID, fmt.Sprintf("duplicate id %q in %s: already defined as %s in %s", id, r.path, prev.Type, prev.Path))
		d[0].EntityID = id
		return d
	}
	e := &models.Entity{
		Type:     r.spec.EntityType,
		ID:       id,
		Path:     r.path,
		Checksum: r.checksum,
		Doc:      r.doc,
	}
	b.entities[e.Type][id] = e
	b.registry[id] = models.RegistryEntry{Type: e.Type, Path: e.Path}
	return nil
}

// globPattern turns a file pattern into a doublestar glob.
func globPattern(pattern string) string {
	return strings.ReplaceAll(pattern, "{id}", "*")
}
