package api

import (
	"github.com/starford/sddbundle/internal/changes"
	"github.com/starford/sddbundle/internal/engine"
	"github.com/starford/sddbundle/internal/index"
	"github.com/starford/sddbundle/internal/models"
)

// EntityDetail is the full entity response type (aliased from the engine).
type EntityDetail = engine.EntityDetail

// EntitySummary is a lightweight item in a list response (aliased from the engine).
type EntitySummary = engine.EntitySummary

// EntityListResponse wraps entity listings.
type EntityListResponse struct {
	Entities []EntitySummary `json:"entities" validate:"required"`
	Total    int             `json:"total" example:"42" validate:"required"`
}

// TypesResponse lists the bundle's entity types.
type TypesResponse struct {
	Types []string `json:"types" example:"Feature,Requirement" validate:"required"`
}

// BacklinksResponse wraps the edges pointing at an entity.
type BacklinksResponse struct {
	ID        string        `json:"id" example:"REQ-001" validate:"required"`
	Backlinks []models.Edge `json:"backlinks" validate:"required"`
}

// DiagnosticsResponse wraps a diagnostics listing with its counts.
type DiagnosticsResponse struct {
	Diagnostics []models.Diagnostic `json:"diagnostics" validate:"required"`
	Errors      int                 `json:"errors" example:"0"`
	Warnings    int                 `json:"warnings" example:"3"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// GraphResponse is the graph view of the snapshot.
type GraphResponse = engine.GraphView

// ApplyChangesRequest is the request body for POST /changes.
type ApplyChangesRequest struct {
	Changes []models.ProposedChange `json:"changes" validate:"required"`
}

// ApplyChangesResponse is returned by POST /changes.
type ApplyChangesResponse = changes.Outcome

// PreviewResponse is returned by POST /changes?dry_run=true.
type PreviewResponse = engine.Preview

// ReloadResponse summarizes a reload.
type ReloadResponse struct {
	Entities int `json:"entities" example:"12"`
	Errors   int `json:"errors" example:"0"`
	Warnings int `json:"warnings" example:"1"`
}

// DomainKnowledgeResponse carries the manifest's domain knowledge document.
type DomainKnowledgeResponse struct {
	Path    string `json:"path" example:"docs/domain.md"`
	Content string `json:"content"`
}
