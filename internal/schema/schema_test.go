package schema

import (
	"reflect"
	"testing"

	"github.com/starford/sddbundle/internal/storage"
	"github.com/starford/sddbundle/internal/testutil"
)

func sampleSet(t *testing.T, extra map[string]string, paths map[string]string) (*Set, int) {
	t.Helper()
	root := testutil.SampleBundle(t, extra)
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	s, diags := Compile(store, paths)
	return s, len(diags)
}

var samplePaths = map[string]string{
	"Feature":     "schemas/Feature.schema.json",
	"Requirement": "schemas/Requirement.schema.json",
	"Task":        "schemas/Task.schema.json",
	"Glossary":    "",
}

func TestCompile(t *testing.T) {
	s, n := sampleSet(t, nil, samplePaths)
	if n != 0 {
		t.Fatalf("unexpected diagnostics: %d", n)
	}
	for _, typ := range []string{"Feature", "Requirement", "Task"} {
		if !s.Has(typ) {
			t.Errorf("missing compiled schema for %s", typ)
		}
	}
	if s.Has("Glossary") {
		t.Error("Glossary has no schema")
	}
}

func TestCompile_BadSchemaIsDiagnostic(t *testing.T) {
	s, n := sampleSet(t, map[string]string{
		"schemas/Feature.schema.json": `{"type": 12}`,
		"schemas/Broken.schema.json":  `{not json`,
	}, map[string]string{
		"Feature": "schemas/Feature.schema.json",
		"Broken":  "schemas/Broken.schema.json",
		"Missing": "schemas/Missing.schema.json",
		"Task":    "schemas/Task.schema.json",
	})
	if n != 3 {
		t.Errorf("diagnostics = %d, want 3", n)
	}
	if !s.Has("Task") {
		t.Error("valid schema should still compile")
	}
}

func TestValidate(t *testing.T) {
	s, _ := sampleSet(t, nil, samplePaths)

	if v := s.Validate("Feature", map[string]any{"id": "FEAT-001", "title": "ok"}); len(v) != 0 {
		t.Errorf("valid payload: %v", v)
	}

	v := s.Validate("Feature", map[string]any{"id": "bad", "title": "x", "requirementIds": []any{"REQ-001", 3}})
	paths := map[string]bool{}
	for _, x := range v {
		paths[x.Path] = true
	}
	if !paths["/id"] || !paths["/requirementIds/1"] {
		t.Errorf("violations = %+v", v)
	}

	v = s.Validate("Feature", map[string]any{"id": "FEAT-001"})
	if len(v) != 1 || v[0].Path != "/" {
		t.Errorf("missing required = %+v", v)
	}

	if v := s.Validate("Glossary", map[string]any{}); v != nil {
		t.Errorf("type without schema: %v", v)
	}
}

func TestValidate_IntegersAccepted(t *testing.T) {
	s, _ := sampleSet(t, map[string]string{
		"schemas/Feature.schema.json": `{"type":"object","properties":{"n":{"type":"integer"}}}`,
	}, map[string]string{"Feature": "schemas/Feature.schema.json"})
	if v := s.Validate("Feature", map[string]any{"n": 3}); len(v) != 0 {
		t.Errorf("int payload: %v", v)
	}
	if v := s.Validate("Feature", map[string]any{"n": 2.5}); len(v) != 1 || v[0].Path != "/n" {
		t.Errorf("fractional payload = %+v, want one violation at /n", v)
	}
	if v := s.Validate("Feature", map[string]any{"n": "3"}); len(v) != 1 {
		t.Errorf("string payload = %+v, want one violation", v)
	}
}

func TestAnnotations(t *testing.T) {
	s, _ := sampleSet(t, nil, samplePaths)

	got, ok := s.RefTargets("Requirement", "realizesFeatureIds")
	if !ok || !reflect.DeepEqual(got, []string{"Feature"}) {
		t.Errorf("items refTargets = %v, %v", got, ok)
	}
	got, ok = s.RefTargets("Task", "requirementId")
	if !ok || !reflect.DeepEqual(got, []string{"Requirement"}) {
		t.Errorf("property refTargets = %v, %v", got, ok)
	}
	if _, ok := s.RefTargets("Task", "title"); ok {
		t.Error("title is not a reference")
	}
	if got := s.RefFields("Feature"); !reflect.DeepEqual(got, []string{"requirementIds"}) {
		t.Errorf("RefFields = %v", got)
	}
	if !s.IsRequired("Task", "requirementId") {
		t.Error("Task.requirementId should be required")
	}
	if s.IsRequired("Requirement", "realizesFeatureIds") {
		t.Error("Requirement.realizesFeatureIds is not required")
	}
}
