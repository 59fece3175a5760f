// Package testutil provides shared test helpers for setting up bundle fixtures.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/sddbundle/internal/storage"
)

// TestBundleDir creates a temporary bundle directory with a storage.Provider.
func TestBundleDir(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// WriteFiles writes slash-separated relative paths under root.
func WriteFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

// ReadFile returns the content of a bundle file, failing the test on error.
func ReadFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// SampleBundle writes a small valid bundle (Feature, Requirement, Task and a
// meta Glossary type) and returns its root. extra files are written last and
// may override sample files.
func SampleBundle(t *testing.T, extra map[string]string) string {
	t.Helper()
	root := t.TempDir()
	WriteFiles(t, root, SampleFiles())
	if extra != nil {
		WriteFiles(t, root, extra)
	}
	return root
}

// SampleFiles returns the files of the sample bundle.
func SampleFiles() map[string]string {
	return map[string]string{
		"sdd-bundle.yaml": `name: Sample bundle
bundleType: sdd-core
bundleTypeDefinition: bundle-type.yaml
domainKnowledge: docs/domain.md
`,
		"bundle-type.yaml": `bundleType: sdd-core
version: 1.0.0
entities:
  - entityType: Feature
    schema: schemas/Feature.schema.json
    directory: bundle/features
    filePattern: "{id}.yaml"
  - entityType: Requirement
    schema: schemas/Requirement.schema.json
    directory: bundle/requirements
    filePattern: "{id}.yaml"
  - entityType: Task
    schema: schemas/Task.schema.json
    directory: bundle/tasks
    filePattern: "{id}.yaml"
  - entityType: Glossary
    directory: bundle/meta
    filePattern: "{id}.yaml"
    role: meta
relations:
  - name: requirement-realizes-feature
    fromEntity: Requirement
    fromField: realizesFeatureIds
    toEntity: Feature
    multiplicity: many
  - name: feature-has-requirement
    fromEntity: Feature
    fromField: requirementIds
    toEntity: Requirement
    multiplicity: many
  - name: task-implements-requirement
    fromEntity: Task
    fromField: requirementId
    toEntity: Requirement
    multiplicity: one
`,
		"schemas/Feature.schema.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title"],
  "properties": {
    "id": {"type": "string", "pattern": "^FEAT-[0-9]{3}$"},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "requirementIds": {
      "type": "array",
      "items": {"type": "string", "format": "sdd-ref", "x-sdd-refTargets": ["Requirement"]}
    }
  }
}
`,
		"schemas/Requirement.schema.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title"],
  "properties": {
    "id": {"type": "string", "pattern": "^REQ-[0-9]{3}$"},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "status": {"type": "string"},
    "acceptanceCriteria": {"type": "array", "items": {"type": "string"}},
    "realizesFeatureIds": {
      "type": "array",
      "items": {"type": "string", "format": "sdd-ref", "x-sdd-refTargets": ["Feature"]}
    }
  }
}
`,
		"schemas/Task.schema.json": `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "title", "requirementId"],
  "properties": {
    "id": {"type": "string", "pattern": "^TASK-[0-9]{3}$"},
    "title": {"type": "string", "minLength": 1},
    "requirementId": {
      "anyOf": [
        {"type": "string", "format": "sdd-ref"},
        {"type": "array", "items": {"type": "string"}}
      ],
      "x-sdd-refTargets": ["Requirement"]
    }
  }
}
`,
		"bundle/features/FEAT-001.yaml": `id: FEAT-001
title: User login
description: Users can sign in.
`,
		"bundle/requirements/REQ-001.yaml": `id: REQ-001
title: Password login
description: Accept email and password.
status: draft
acceptanceCriteria:
  - Valid credentials sign the user in
realizesFeatureIds:
  - FEAT-001
`,
		"bundle/tasks/TASK-001.yaml": `id: TASK-001
title: Build login form
requirementId: REQ-001
`,
		"bundle/meta/GLOSSARY.yaml": `id: GLOSSARY
terms:
  - SDD
`,
		"docs/domain.md": "# Domain\n\nLogin flows.\n",
	}
}
