package lint

import (
	"strings"
	"testing"

	"github.com/starford/sddbundle/internal/models"
)

func snapshot() Snapshot {
	return Snapshot{
		Entities: map[string]map[string]map[string]any{
			"Feature": {
				"FEAT-001": {"id": "FEAT-001", "title": "Login", "requirementIds": []any{"REQ-001"}},
				"FEAT-002": {"id": "FEAT-002", "title": "  "},
			},
			"Requirement": {
				"REQ-001": {"id": "REQ-001", "status": "draft", "realizesFeatureIds": []any{"FEAT-001"}, "acceptanceCriteria": []any{"works"}},
				"req-2":   {"id": "req-2", "status": "bogus", "description": strings.Repeat("x", 501)},
			},
			"Task": {
				"TASK-001": {"id": "TASK-001", "requirementId": "REQ-404"},
			},
		},
		Registry: map[string]string{
			"FEAT-001": "Feature", "FEAT-002": "Feature",
			"REQ-001": "Requirement", "req-2": "Requirement",
			"TASK-001": "Task",
		},
		Edges: []models.Edge{
			{FromType: "Feature", FromID: "FEAT-001", FromField: "requirementIds", ToType: "Requirement", ToID: "REQ-001"},
			{FromType: "Requirement", FromID: "REQ-001", FromField: "realizesFeatureIds", ToType: "Feature", ToID: "FEAT-001"},
			{FromType: "Task", FromID: "TASK-001", FromField: "requirementId", ToType: "Requirement", ToID: "REQ-404"},
		},
	}
}

func run(t *testing.T, yamlCfg string) []models.Diagnostic {
	t.Helper()
	cfg, err := ParseConfig([]byte(yamlCfg))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	return Run(cfg, snapshot())
}

func ids(diags []models.Diagnostic) []string {
	out := make([]string, len(diags))
	for i, d := range diags {
		out[i] = d.EntityID
	}
	return out
}

func TestRegex(t *testing.T) {
	diags := run(t, `
rules:
  req-id:
    kind: regex
    entities: Requirement
    field: id
    pattern: "^REQ-[0-9]{3}$"
`)
	if len(diags) != 1 || diags[0].EntityID != "req-2" || diags[0].Severity != models.SeverityError {
		t.Errorf("diags = %+v", diags)
	}
	if diags[0].Code != "req-id" || diags[0].Source != models.SourceLint || diags[0].Path != "/id" {
		t.Errorf("diag metadata = %+v", diags[0])
	}
}

func TestHasLink(t *testing.T) {
	diags := run(t, `
rules:
  feature-links:
    kind: has-link
    entities: [Feature]
    field: requirementIds
    severity: warning
`)
	if len(diags) != 1 || diags[0].EntityID != "FEAT-002" || diags[0].Severity != models.SeverityWarning {
		t.Errorf("diags = %+v", diags)
	}
}

func TestCoverage(t *testing.T) {
	diags := run(t, `
rules:
  feature-covered:
    kind: coverage
    entities: Feature
    source: Requirement
    field: realizesFeatureIds
    min: 1
`)
	if got := ids(diags); len(got) != 1 || got[0] != "FEAT-002" {
		t.Errorf("ids = %v", got)
	}
	if diags[0].EntityType != "Feature" {
		t.Errorf("coverage should report on the target: %+v", diags[0])
	}
}

func TestNoBrokenRef(t *testing.T) {
	diags := run(t, "rules:\n  refs:\n    kind: no-broken-ref\n")
	if len(diags) != 1 {
		t.Fatalf("diags = %+v", diags)
	}
	d := diags[0]
	if d.EntityID != "TASK-001" || !strings.Contains(d.Message, "REQ-404") {
		t.Errorf("diag = %+v", d)
	}
}

func TestRedundantBidirectionalLink_ReportedOnce(t *testing.T) {
	diags := run(t, "rules:\n  redundant:\n    kind: redundant-bidirectional-link\n")
	if len(diags) != 1 {
		t.Fatalf("diags = %+v, want exactly 1", diags)
	}
	if diags[0].Severity != models.SeverityWarning {
		t.Errorf("default severity = %q, want warning", diags[0].Severity)
	}
}

func TestRequiredField(t *testing.T) {
	diags := run(t, `
rules:
  title-required:
    kind: required-field
    entities: [Feature, Task]
    field: title
    message: every entity needs a title
`)
	got := ids(diags)
	if len(got) != 2 || got[0] != "FEAT-002" || got[1] != "TASK-001" {
		t.Errorf("ids = %v", got)
	}
	if diags[0].Message != "every entity needs a title" {
		t.Errorf("message override not applied: %q", diags[0].Message)
	}
}

func TestEnumValue(t *testing.T) {
	diags := run(t, `
rules:
  status:
    kind: enum-value
    entities: Requirement
    field: status
    values: [draft, approved]
`)
	if len(diags) != 1 || diags[0].EntityID != "req-2" {
		t.Fatalf("diags = %+v", diags)
	}
	if !strings.Contains(diags[0].Message, "draft, approved") {
		t.Errorf("message should list allowed values: %q", diags[0].Message)
	}

	// absent values are left to required-field
	diags = run(t, `
rules:
  status:
    kind: enum-value
    entities: Feature
    field: status
    values: [draft]
`)
	if len(diags) != 0 {
		t.Errorf("absent field reported: %+v", diags)
	}
}

func TestQualityCheck(t *testing.T) {
	diags := run(t, `
rules:
  quality:
    kind: quality-check
    entities: Requirement
    expectedFields: [status, description]
`)
	codes := map[string][]string{}
	for _, d := range diags {
		codes[d.Code] = append(codes[d.Code], d.EntityID)
	}
	if got := codes["quality.atomic"]; len(got) != 1 || got[0] != "req-2" {
		t.Errorf("atomic = %v", got)
	}
	if got := codes["quality.traceable"]; len(got) != 1 || got[0] != "req-2" {
		t.Errorf("traceable = %v", got)
	}
	if got := codes["quality.complete"]; len(got) != 1 || got[0] != "REQ-001" {
		t.Errorf("complete = %v", got)
	}
	if got := codes["quality.verifiable"]; len(got) != 1 || got[0] != "req-2" {
		t.Errorf("verifiable = %v", got)
	}
	for _, d := range diags {
		if d.Severity != models.SeverityWarning {
			t.Errorf("quality default severity = %q", d.Severity)
		}
	}

	withMessage := run(t, `
rules:
  quality:
    kind: quality-check
    entities: Requirement
    expectedFields: [status, description]
    message: fix requirement quality
`)
	msgs := map[string]bool{}
	for _, d := range withMessage {
		msgs[d.Message] = true
		if d.Message == "fix requirement quality" {
			t.Errorf("message override replaced %s text", d.Code)
		}
	}
	if len(withMessage) != len(diags) || len(msgs) != len(diags) {
		t.Errorf("sub-check messages = %v, want %d distinct", msgs, len(diags))
	}

	only := run(t, `
rules:
  quality:
    kind: quality-check
    entities: Requirement
    checks: [atomic]
`)
	if len(only) != 1 || only[0].Code != "quality.atomic" {
		t.Errorf("atomic-only = %+v", only)
	}
}

func TestRuleFailureIsolated(t *testing.T) {
	diags := run(t, `
rules:
  a-bad-regex:
    kind: regex
    field: id
    pattern: "("
  b-unknown:
    kind: nonsense
  c-refs:
    kind: no-broken-ref
`)
	if len(diags) != 3 {
		t.Fatalf("diags = %+v", diags)
	}
	if diags[0].Code != "a-bad-regex" || diags[1].Code != "b-unknown" {
		t.Errorf("config failures = %+v", diags[:2])
	}
	if diags[2].Code != "c-refs" || diags[2].EntityID != "TASK-001" {
		t.Errorf("later rule did not run: %+v", diags[2])
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir() + "/none.yaml")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if len(cfg.Rules) != 0 {
		t.Errorf("rules = %v", cfg.Rules)
	}
	if diags := Run(cfg, snapshot()); len(diags) != 0 {
		t.Errorf("empty config produced %v", diags)
	}
}
