// Package validate is the constraint checker: schema conformance,
// reference typing, broken references, orphans and multiplicity.
package validate

import (
	"fmt"
	"strings"

	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/graph"
	"github.com/starford/sddbundle/internal/lint"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/schema"
)

// Diagnostic codes.
const (
	CodeSchemaViolation     = "schema-violation"
	CodeRefTypeMismatch     = "ref-type-mismatch"
	CodeBrokenRef           = "broken-ref"
	CodeOrphanEntity        = "orphan-entity"
	CodeMultiplicityTooMany = "multiplicity-too-many"
	CodeMultiplicityMissing = "multiplicity-missing"
)

// Check runs every structural check over the bundle and its edge set.
func Check(b *bundle.Bundle, schemas *schema.Set, edges []models.Edge) []models.Diagnostic {
	var out []models.Diagnostic
	out = append(out, CheckSchemas(b, schemas)...)
	out = append(out, CheckReferenceTypes(b, schemas, edges)...)
	out = append(out, CheckBrokenReferences(b, edges)...)
	out = append(out, CheckOrphans(b, edges)...)
	out = append(out, CheckMultiplicity(b, schemas)...)
	return out
}

// Run checks the bundle and evaluates the lint rules against the same
// edge set, returning the merged diagnostics.
func Run(b *bundle.Bundle, schemas *schema.Set, lintCfg *lint.Config) []models.Diagnostic {
	edges := b.Edges()
	out := Check(b, schemas, edges)
	return append(out, lint.Run(lintCfg, LintSnapshot(b, edges))...)
}

// LintSnapshot adapts a bundle to the lint engine's minimal shape.
func LintSnapshot(b *bundle.Bundle, edges []models.Edge) lint.Snapshot {
	snap := lint.Snapshot{
		Entities: make(map[string]map[string]map[string]any),
		Registry: make(map[string]string),
		Edges:    edges,
	}
	for typ, byID := range b.EntityMap() {
		m := make(map[string]map[string]any, len(byID))
		for id, e := range byID {
			m[id] = e.Data()
		}
		snap.Entities[typ] = m
	}
	for id, r := range b.Registry() {
		snap.Registry[id] = r.Type
	}
	return snap
}

func nonMeta(b *bundle.Bundle) []*models.Entity {
	var out []*models.Entity
	for _, s := range b.Types() {
		if s.Meta {
			continue
		}
		out = append(out, b.Entities(s.EntityType)...)
	}
	return out
}

// CheckSchemas validates every non-meta entity against its type schema.
func CheckSchemas(b *bundle.Bundle, schemas *schema.Set) []models.Diagnostic {
	var out []models.Diagnostic
	for _, e := range nonMeta(b) {
		for _, v := range schemas.Validate(e.Type, e.Data()) {
			out = append(out, models.Diagnostic{
				Severity:   models.SeverityError,
				Message:    fmt.Sprintf("%s %s: %s: %s", e.Type, e.ID, v.Path, v.Message),
				EntityType: e.Type,
				EntityID:   e.ID,
				Path:       v.Path,
				File:       e.Path,
				Source:     models.SourceSchema,
				Code:       CodeSchemaViolation,
			})
		}
	}
	return out
}

// CheckReferenceTypes reports edges whose resolved target type is not in
// the field's annotated target list. Unresolved targets are skipped.
func CheckReferenceTypes(b *bundle.Bundle, schemas *schema.Set, edges []models.Edge) []models.Diagnostic {
	var out []models.Diagnostic
	for _, edge := range edges {
		targets, ok := schemas.RefTargets(edge.FromType, edge.FromField)
		if !ok {
			continue
		}
		if _, known := b.Lookup(edge.ToID); !known {
			continue
		}
		if contains(targets, edge.ToType) {
			continue
		}
		out = append(out, models.Diagnostic{
			Severity: models.SeverityError,
			Message: fmt.Sprintf("%s %s: field %s references %s %s, expected %s",
				edge.FromType, edge.FromID, edge.FromField, edge.ToType, edge.ToID, strings.Join(targets, " or ")),
			EntityType: edge.FromType,
			EntityID:   edge.FromID,
			Path:       "/" + edge.FromField,
			File:       entityFile(b, edge.FromID),
			Source:     models.SourceSchema,
			Code:       CodeRefTypeMismatch,
		})
	}
	return out
}

// CheckBrokenReferences reports edges pointing at ids absent from the registry.
func CheckBrokenReferences(b *bundle.Bundle, edges []models.Edge) []models.Diagnostic {
	var out []models.Diagnostic
	for _, edge := range edges {
		if _, ok := b.Lookup(edge.ToID); ok {
			continue
		}
		out = append(out, models.Diagnostic{
			Severity: models.SeverityError,
			Message: fmt.Sprintf("%s %s: field %s references missing %s %s",
				edge.FromType, edge.FromID, edge.FromField, edge.ToType, edge.ToID),
			EntityType: edge.FromType,
			EntityID:   edge.FromID,
			Path:       "/" + edge.FromField,
			File:       entityFile(b, edge.FromID),
			Source:     models.SourceSchema,
			Code:       CodeBrokenRef,
		})
	}
	return out
}

// CheckOrphans warns about non-meta entities with no edges at all.
func CheckOrphans(b *bundle.Bundle, edges []models.Edge) []models.Diagnostic {
	connected := graph.Participants(edges)
	var out []models.Diagnostic
	for _, e := range nonMeta(b) {
		if connected[e.ID] {
			continue
		}
		out = append(out, models.Diagnostic{
			Severity:   models.SeverityWarning,
			Message:    fmt.Sprintf("%s %s has no references to or from other entities", e.Type, e.ID),
			EntityType: e.Type,
			EntityID:   e.ID,
			File:       e.Path,
			Source:     models.SourceSchema,
			Code:       CodeOrphanEntity,
		})
	}
	return out
}

// CheckMultiplicity enforces the upper bound of "one" relations. A missing
// value is only reported when the schema marks the field required.
func CheckMultiplicity(b *bundle.Bundle, schemas *schema.Set) []models.Diagnostic {
	var out []models.Diagnostic
	for _, rel := range b.Relations() {
		if rel.Multiplicity != models.MultiplicityOne {
			continue
		}
		for _, e := range b.Entities(rel.FromEntity) {
			n := len(graph.RefValues(e.Data()[rel.FromField]))
			d := models.Diagnostic{
				EntityType: e.Type,
				EntityID:   e.ID,
				Path:       "/" + rel.FromField,
				File:       e.Path,
				Source:     models.SourceSchema,
			}
			switch {
			case n > 1:
				d.Severity = models.SeverityError
				d.Code = CodeMultiplicityTooMany
				d.Message = fmt.Sprintf("%s %s: field %s holds %d references, at most one allowed", e.Type, e.ID, rel.FromField, n)
			case n == 0 && schemas.IsRequired(e.Type, rel.FromField):
				d.Severity = models.SeverityWarning
				d.Code = CodeMultiplicityMissing
				d.Message = fmt.Sprintf("%s %s: required field %s holds no reference", e.Type, e.ID, rel.FromField)
			default:
				continue
			}
			out = append(out, d)
		}
	}
	return out
}

func entityFile(b *bundle.Bundle, id string) string {
	r, _ := b.Lookup(id)
	return r.Path
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
