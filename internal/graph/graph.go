// Package graph derives the reference graph of a bundle from relation
// declarations and raw field values.
package graph

import (
	"sort"

	"github.com/starford/sddbundle/internal/models"
)

// Build derives every edge. For each relation in declaration order and
// each source entity in id order, a string field yields at most one edge
// and an array yields one edge per non-empty string element. Other shapes
// yield nothing. The target type comes from the registry when the id is
// known, else from the relation. Build is pure and deterministic.
func Build(entities map[string]map[string]*models.Entity, registry models.Registry, relations []models.Relation) []models.Edge {
	var edges []models.Edge
	for _, rel := range relations {
		byID := entities[rel.FromEntity]
		ids := make([]string, 0, len(byID))
		for id := range byID {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, to := range RefValues(byID[id].Data()[rel.FromField]) {
				toType := rel.ToEntity
				if r, ok := registry[to]; ok {
					toType = r.Type
				}
				edges = append(edges, models.Edge{
					FromType:  rel.FromEntity,
					FromID:    id,
					FromField: rel.FromField,
					ToType:    toType,
					ToID:      to,
				})
			}
		}
	}
	return edges
}

// RefValues returns the non-empty reference strings held by a field value.
func RefValues(v any) []string {
	switch x := v.(type) {
	case string:
		if x == "" {
			return nil
		}
		return []string{x}
	case []any:
		var out []string
		for _, e := range x {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		var out []string
		for _, s := range x {
			if s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Participants returns the ids that appear as source or target of any edge.
func Participants(edges []models.Edge) map[string]bool {
	out := make(map[string]bool, 2*len(edges))
	for _, e := range edges {
		out[e.FromID] = true
		out[e.ToID] = true
	}
	return out
}

// Outgoing returns the edges leaving id.
func Outgoing(edges []models.Edge, id string) []models.Edge {
	var out []models.Edge
	for _, e := range edges {
		if e.FromID == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges pointing at id.
func Incoming(edges []models.Edge, id string) []models.Edge {
	var out []models.Edge
	for _, e := range edges {
		if e.ToID == id {
			out = append(out, e)
		}
	}
	return out
}

// Degree returns the number of edges touching id.
func Degree(edges []models.Edge, id string) int {
	n := 0
	for _, e := range edges {
		if e.FromID == id || e.ToID == id {
			n++
		}
	}
	return n
}
