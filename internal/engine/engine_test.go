package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/index"
	"github.com/starford/sddbundle/internal/metrics"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/sse"
	"github.com/starford/sddbundle/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingNotifier struct {
	mu      sync.Mutex
	reloads []sse.ReloadSummary
	events  []string
}

func (n *recordingNotifier) PublishReload(s sse.ReloadSummary) {
	n.mu.Lock()
	n.reloads = append(n.reloads, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) PublishEntityEvent(kind string, key models.EntityKey) {
	n.mu.Lock()
	n.events = append(n.events, kind+":"+key.String())
	n.mu.Unlock()
}

func (n *recordingNotifier) snapshot() ([]sse.ReloadSummary, []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sse.ReloadSummary(nil), n.reloads...), append([]string(nil), n.events...)
}

func newService(t *testing.T, root string, opts Options) *Service {
	t.Helper()
	opts.Root = root
	opts.Logger = quiet
	s, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_LoadsSnapshot(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})
	snap := s.Snapshot()
	if snap.Bundle.Len() != 4 {
		t.Errorf("entities = %d, want 4", snap.Bundle.Len())
	}
	if len(snap.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %+v", snap.Diagnostics)
	}
	if got := s.Types(); len(got) != 4 || got[0] != "Feature" {
		t.Errorf("Types = %v", got)
	}
}

func TestNew_MissingManifest(t *testing.T) {
	_, err := New(context.Background(), Options{Root: t.TempDir(), Logger: quiet})
	if !errors.Is(err, apperr.ErrManifestNotFound) {
		t.Fatalf("expected ErrManifestNotFound, got %v", err)
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Root: testutil.SampleBundle(t, nil), Backend: "svn", Logger: quiet})
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestEntities(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})

	all, err := s.Entities("")
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("all entities = %d", len(all))
	}

	reqs, err := s.Entities("Requirement")
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(reqs) != 1 || reqs[0].ID != "REQ-001" || reqs[0].Title != "Password login" {
		t.Errorf("requirements = %+v", reqs)
	}

	if _, err := s.Entities("Epic"); !errors.Is(err, apperr.ErrUnknownType) {
		t.Errorf("expected ErrUnknownType, got %v", err)
	}
}

func TestEntity(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})

	d, err := s.Entity("Requirement", "REQ-001")
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	if len(d.Outgoing) != 1 || d.Outgoing[0].ToID != "FEAT-001" {
		t.Errorf("outgoing = %+v", d.Outgoing)
	}
	if len(d.Incoming) != 1 || d.Incoming[0].FromID != "TASK-001" {
		t.Errorf("incoming = %+v", d.Incoming)
	}
	if d.Data["status"] != "draft" {
		t.Errorf("data = %+v", d.Data)
	}

	if _, err := s.Entity("Requirement", "REQ-404"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestBacklinksAndGraph(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})

	bl, err := s.Backlinks("FEAT-001")
	if err != nil {
		t.Fatalf("Backlinks: %v", err)
	}
	if len(bl) != 1 || bl[0].FromID != "REQ-001" {
		t.Errorf("backlinks = %+v", bl)
	}
	if _, err := s.Backlinks("NOPE"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	g := s.Graph()
	if len(g.Nodes) != 4 || len(g.Edges) != 2 {
		t.Errorf("graph = %d nodes, %d edges", len(g.Nodes), len(g.Edges))
	}
	for _, n := range g.Nodes {
		if n.ID == "REQ-001" && n.Degree != 2 {
			t.Errorf("REQ-001 degree = %d, want 2", n.Degree)
		}
	}
}

func TestDiagnosticsFilter(t *testing.T) {
	root := testutil.SampleBundle(t, map[string]string{
		"bundle/tasks/TASK-002.yaml": "id: TASK-002\ntitle: Orphan work\nrequirementId: REQ-404\n",
	})
	s := newService(t, root, Options{})

	all := s.Diagnostics(DiagnosticFilter{})
	if len(all) == 0 {
		t.Fatal("expected diagnostics")
	}
	broken := s.Diagnostics(DiagnosticFilter{Code: "broken-ref"})
	if len(broken) != 1 || broken[0].EntityID != "TASK-002" {
		t.Errorf("broken-ref = %+v", broken)
	}
	if got := s.Diagnostics(DiagnosticFilter{EntityID: "FEAT-001"}); len(got) != 0 {
		t.Errorf("FEAT-001 diagnostics = %+v", got)
	}
}

func TestSearch_InMemory(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})
	res, err := s.Search(context.Background(), "login", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 3 {
		t.Fatalf("expected 3 results, got %+v", res)
	}
	if res[0].ID != "FEAT-001" {
		t.Errorf("first result = %+v", res[0])
	}
	empty, _ := s.Search(context.Background(), "  ", 10)
	if len(empty) != 0 {
		t.Errorf("blank query returned %+v", empty)
	}
}

func TestSearch_Index(t *testing.T) {
	db, err := index.Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := newService(t, testutil.SampleBundle(t, nil), Options{Index: db})
	res, err := s.Search(context.Background(), "password", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res) != 1 || res[0].ID != "REQ-001" {
		t.Errorf("results = %+v", res)
	}
}

func TestApply_CommitInstallsSnapshot(t *testing.T) {
	root := testutil.SampleBundle(t, nil)
	n := &recordingNotifier{}
	s := newService(t, root, Options{Notifier: n, Metrics: metrics.New()})

	out, err := s.Apply(context.Background(), []models.ProposedChange{
		{EntityType: "Task", EntityID: "TASK-002", NewValue: map[string]any{"title": "Lockout counter", "requirementId": "REQ-001"}},
		{EntityType: "Requirement", EntityID: "REQ-001", FieldPath: "status", NewValue: "approved"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !out.Committed || out.Reverted {
		t.Fatalf("outcome = %+v", out)
	}

	d, err := s.Entity("Task", "TASK-002")
	if err != nil {
		t.Fatalf("new task not in snapshot: %v", err)
	}
	if d.Path != "bundle/tasks/TASK-002.yaml" {
		t.Errorf("path = %q", d.Path)
	}
	if !strings.Contains(testutil.ReadFile(t, root, "bundle/requirements/REQ-001.yaml"), "status: approved") {
		t.Error("REQ-001 not persisted")
	}

	reloads, events := n.snapshot()
	if len(reloads) == 0 || reloads[len(reloads)-1].BatchID != out.BatchID {
		t.Errorf("reloads = %+v", reloads)
	}
	want := map[string]bool{"created:Task/TASK-002": true, "updated:Requirement/REQ-001": true}
	for _, e := range events {
		delete(want, e)
	}
	if len(want) != 0 {
		t.Errorf("missing entity events %v in %v", want, events)
	}
}

func TestApply_InvalidBatchKeepsSnapshot(t *testing.T) {
	root := testutil.SampleBundle(t, nil)
	s := newService(t, root, Options{})
	before := testutil.ReadFile(t, root, "bundle/tasks/TASK-001.yaml")

	out, err := s.Apply(context.Background(), []models.ProposedChange{
		{EntityType: "Task", EntityID: "TASK-001", FieldPath: "requirementId", NewValue: "REQ-404"},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Committed || !out.Reverted {
		t.Fatalf("expected reverted batch, got %+v", out)
	}
	if got := testutil.ReadFile(t, root, "bundle/tasks/TASK-001.yaml"); got != before {
		t.Errorf("file not restored:\n%s", got)
	}
	d, _ := s.Entity("Task", "TASK-001")
	if d.Data["requirementId"] != "REQ-001" {
		t.Errorf("snapshot changed: %+v", d.Data)
	}
}

func TestApply_ClientError(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})
	_, err := s.Apply(context.Background(), []models.ProposedChange{
		{EntityType: "Task", EntityID: "TASK-404", FieldPath: "title", NewValue: "x"},
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPreview_NoDiskWrites(t *testing.T) {
	root := testutil.SampleBundle(t, nil)
	s := newService(t, root, Options{})
	before := testutil.ReadFile(t, root, "bundle/tasks/TASK-001.yaml")

	p := s.Preview(context.Background(), []models.ProposedChange{
		{EntityType: "Task", EntityID: "TASK-001", FieldPath: "requirementId", NewValue: "REQ-404"},
	})
	if !p.Result.Success {
		t.Fatalf("apply failed: %+v", p.Result)
	}
	if p.Valid {
		t.Error("preview with a broken reference should be invalid")
	}
	if len(models.FilterCode(p.Diagnostics, "broken-ref")) != 1 {
		t.Errorf("diagnostics = %+v", p.Diagnostics)
	}
	if got := testutil.ReadFile(t, root, "bundle/tasks/TASK-001.yaml"); got != before {
		t.Error("preview wrote to disk")
	}
	if d, _ := s.Entity("Task", "TASK-001"); d.Data["requirementId"] != "REQ-001" {
		t.Error("preview modified the live snapshot")
	}
}

func TestDomainKnowledge(t *testing.T) {
	s := newService(t, testutil.SampleBundle(t, nil), Options{})
	p, body, err := s.DomainKnowledge()
	if err != nil {
		t.Fatalf("DomainKnowledge: %v", err)
	}
	if p != "docs/domain.md" || !strings.Contains(body, "Login flows") {
		t.Errorf("got %q %q", p, body)
	}

	root := testutil.SampleBundle(t, nil)
	if err := os.Remove(filepath.Join(root, "docs", "domain.md")); err != nil {
		t.Fatal(err)
	}
	s = newService(t, root, Options{})
	if _, _, err := s.DomainKnowledge(); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLintConfigFromManifest(t *testing.T) {
	root := testutil.SampleBundle(t, map[string]string{
		"sdd-bundle.yaml": `name: Sample bundle
bundleType: sdd-core
bundleTypeDefinition: bundle-type.yaml
lintConfig: lint.yaml
`,
		"lint.yaml": `rules:
  feature-description:
    kind: required-field
    entities: Feature
    field: summary
`,
	})
	s := newService(t, root, Options{})
	got := s.Diagnostics(DiagnosticFilter{Source: models.SourceLint})
	if len(got) != 1 || got[0].Code != "feature-description" || got[0].EntityID != "FEAT-001" {
		t.Errorf("lint diagnostics = %+v", got)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	root := testutil.SampleBundle(t, nil)
	n := &recordingNotifier{}
	s := newService(t, root, Options{Notifier: n})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, 50*time.Millisecond) //nolint:errcheck
	time.Sleep(100 * time.Millisecond)

	testutil.WriteFiles(t, root, map[string]string{
		"bundle/features/FEAT-002.yaml": "id: FEAT-002\ntitle: Logout\n",
	})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := s.Entity("Feature", "FEAT-002"); err == nil {
			_, events := n.snapshot()
			for _, e := range events {
				if e == "created:Feature/FEAT-002" {
					return
				}
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("watcher did not reload the new feature")
}
