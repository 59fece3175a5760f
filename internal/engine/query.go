package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/graph"
	"github.com/starford/sddbundle/internal/index"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// EntitySummary is a lightweight entity listing item.
type EntitySummary struct {
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	Checksum   string `json:"checksum"`
}

// EntityDetail is the full representation of an entity.
type EntityDetail struct {
	EntitySummary
	Format      parser.Format       `json:"format"`
	Data        map[string]any      `json:"data"`
	Outgoing    []models.Edge       `json:"outgoing"`
	Incoming    []models.Edge       `json:"incoming"`
	Diagnostics []models.Diagnostic `json:"diagnostics"`
}

// DiagnosticFilter narrows a diagnostics listing. Empty fields match everything.
type DiagnosticFilter struct {
	Severity   models.Severity
	Source     models.Source
	Code       string
	EntityType string
	EntityID   string
}

func (f DiagnosticFilter) match(d models.Diagnostic) bool {
	return (f.Severity == "" || d.Severity == f.Severity) &&
		(f.Source == "" || d.Source == f.Source) &&
		(f.Code == "" || d.Code == f.Code) &&
		(f.EntityType == "" || d.EntityType == f.EntityType) &&
		(f.EntityID == "" || d.EntityID == f.EntityID)
}

// GraphNode is one entity in the graph view.
type GraphNode struct {
	ID         string `json:"id"`
	EntityType string `json:"entityType"`
	Title      string `json:"title"`
	Degree     int    `json:"degree"`
}

// GraphView is the node/edge view of the current snapshot.
type GraphView struct {
	Nodes []GraphNode   `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// Types lists the entity types of the bundle in definition order.
func (s *Service) Types() []string {
	snap := s.Snapshot()
	specs := snap.Bundle.Types()
	out := make([]string, len(specs))
	for i, t := range specs {
		out[i] = t.EntityType
	}
	return out
}

// Entities lists entities of one type, or of every type when entityType is empty.
func (s *Service) Entities(entityType string) ([]EntitySummary, error) {
	snap := s.Snapshot()
	var list []*models.Entity
	if entityType == "" {
		list = snap.Bundle.All()
	} else {
		if _, ok := snap.Bundle.Spec(entityType); !ok {
			return nil, fmt.Errorf("engine: %s: %w", entityType, apperr.ErrUnknownType)
		}
		list = snap.Bundle.Entities(entityType)
	}
	out := make([]EntitySummary, len(list))
	for i, e := range list {
		out[i] = summarize(e)
	}
	return out, nil
}

func summarize(e *models.Entity) EntitySummary {
	return EntitySummary{
		EntityType: e.Type,
		ID:         e.ID,
		Title:      parser.Title(e.Data(), e.ID),
		Path:       e.Path,
		Checksum:   e.Checksum,
	}
}

// Entity returns one entity with its edges and diagnostics.
func (s *Service) Entity(entityType, id string) (*EntityDetail, error) {
	snap := s.Snapshot()
	if _, ok := snap.Bundle.Spec(entityType); !ok {
		return nil, fmt.Errorf("engine: %s: %w", entityType, apperr.ErrUnknownType)
	}
	e, ok := snap.Bundle.Entity(entityType, id)
	if !ok {
		return nil, fmt.Errorf("engine: %s/%s: %w", entityType, id, apperr.ErrNotFound)
	}
	return &EntityDetail{
		EntitySummary: summarize(e),
		Format:        e.Doc.Format,
		Data:          e.Data(),
		Outgoing:      nonNil(graph.Outgoing(snap.Edges, id)),
		Incoming:      nonNil(graph.Incoming(snap.Edges, id)),
		Diagnostics:   nonNil(filterDiagnostics(snap.Diagnostics, DiagnosticFilter{EntityType: entityType, EntityID: id})),
	}, nil
}

// Backlinks returns the edges that point at id.
func (s *Service) Backlinks(id string) ([]models.Edge, error) {
	snap := s.Snapshot()
	if _, ok := snap.Bundle.Lookup(id); !ok {
		return nil, fmt.Errorf("engine: %s: %w", id, apperr.ErrNotFound)
	}
	return nonNil(graph.Incoming(snap.Edges, id)), nil
}

// Diagnostics returns the current diagnostics matching f.
func (s *Service) Diagnostics(f DiagnosticFilter) []models.Diagnostic {
	return nonNil(filterDiagnostics(s.Snapshot().Diagnostics, f))
}

func filterDiagnostics(diags []models.Diagnostic, f DiagnosticFilter) []models.Diagnostic {
	var out []models.Diagnostic
	for _, d := range diags {
		if f.match(d) {
			out = append(out, d)
		}
	}
	return out
}

// Graph returns every entity as a node together with the edge set.
func (s *Service) Graph() GraphView {
	snap := s.Snapshot()
	all := snap.Bundle.All()
	view := GraphView{Nodes: make([]GraphNode, len(all)), Edges: nonNil(snap.Edges)}
	for i, e := range all {
		view.Nodes[i] = GraphNode{
			ID:         e.ID,
			EntityType: e.Type,
			Title:      parser.Title(e.Data(), e.ID),
			Degree:     graph.Degree(snap.Edges, e.ID),
		}
	}
	return view
}

// Search finds entities matching query. It uses the sqlite index when one
// is configured and a case-insensitive scan of ids and titles otherwise.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return []index.SearchResult{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if s.opts.Index != nil {
		res, err := s.opts.Index.Search(query, limit)
		if err != nil {
			return nil, err
		}
		return nonNil(res), nil
	}

	q := strings.ToLower(query)
	out := []index.SearchResult{}
	for _, e := range s.Snapshot().Bundle.All() {
		title := parser.Title(e.Data(), e.ID)
		if strings.Contains(strings.ToLower(e.ID), q) || strings.Contains(strings.ToLower(title), q) {
			out = append(out, index.SearchResult{ID: e.ID, Type: e.Type, Title: title})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
