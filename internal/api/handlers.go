package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/changes"
	"github.com/starford/sddbundle/internal/engine"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// Handler holds API route handlers.
type Handler struct {
	svc *engine.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *engine.Service) *Handler {
	return &Handler{svc: svc}
}

// ListTypes handles GET /api/types.
//
//	@Summary		List entity types
//	@Tags			entities
//	@Produce		json
//	@Success		200	{object}	TypesResponse
//	@Security		BearerAuth
//	@Router			/types [get]
func (h *Handler) ListTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TypesResponse{Types: h.svc.Types()})
}

// ListEntities handles GET /api/entities.
//
//	@Summary		List entities, optionally of one type
//	@Tags			entities
//	@Produce		json
//	@Param			type	query		string	false	"Entity type"
//	@Success		200		{object}	EntityListResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Entities(r.URL.Query().Get("type"))
	if err != nil {
		writeError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: items, Total: len(items)})
}

// GetEntity handles GET /api/entities/{type}/{id}.
//
//	@Summary		Get a single entity
//	@Tags			entities
//	@Produce		json
//	@Param			type	path		string	true	"Entity type"
//	@Param			id		path		string	true	"Entity id"
//	@Success		200		{object}	EntityDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{type}/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Entity(chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get entity", err)
		return
	}
	w.Header().Set("ETag", `"`+d.Checksum+`"`)
	writeJSON(w, http.StatusOK, d)
}

// Backlinks handles GET /api/entities/{type}/{id}/backlinks.
//
//	@Summary		List references pointing at an entity
//	@Tags			entities
//	@Produce		json
//	@Success		200		{object}	BacklinksResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{type}/{id}/backlinks [get]
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	typ, id := chi.URLParam(r, "type"), chi.URLParam(r, "id")
	if _, err := h.svc.Entity(typ, id); err != nil {
		writeError(w, "backlinks", err)
		return
	}
	edges, err := h.svc.Backlinks(id)
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, BacklinksResponse{ID: id, Backlinks: edges})
}

// Diagnostics handles GET /api/diagnostics.
//
//	@Summary		List diagnostics of the current snapshot
//	@Tags			validation
//	@Produce		json
//	@Param			severity	query		string	false	"error or warning"
//	@Param			source		query		string	false	"schema, lint or gate"
//	@Param			code		query		string	false	"Diagnostic code"
//	@Param			entityType	query		string	false	"Entity type"
//	@Param			entityId	query		string	false	"Entity id"
//	@Success		200			{object}	DiagnosticsResponse
//	@Security		BearerAuth
//	@Router			/diagnostics [get]
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	diags := h.svc.Diagnostics(engine.DiagnosticFilter{
		Severity:   models.Severity(q.Get("severity")),
		Source:     models.Source(q.Get("source")),
		Code:       q.Get("code"),
		EntityType: q.Get("entityType"),
		EntityID:   q.Get("entityId"),
	})
	errs, warns := models.Count(diags)
	writeJSON(w, http.StatusOK, DiagnosticsResponse{Diagnostics: diags, Errors: errs, Warnings: warns})
}

// Search handles GET /api/search.
//
//	@Summary		Search entities
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the entity graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Graph())
}

// DomainKnowledge handles GET /api/domain-knowledge.
func (h *Handler) DomainKnowledge(w http.ResponseWriter, _ *http.Request) {
	p, body, err := h.svc.DomainKnowledge()
	if err != nil {
		writeError(w, "domain knowledge", err)
		return
	}
	writeJSON(w, http.StatusOK, DomainKnowledgeResponse{Path: p, Content: body})
}

// ApplyChanges handles POST /api/changes.
//
//	@Summary		Apply a batch of proposed changes
//	@Description	The batch is written, reloaded and validated; it is reverted when any error remains. With dry_run=true it is only validated in memory.
//	@Tags			changes
//	@Accept			json
//	@Produce		json
//	@Param			dry_run	query		bool				false	"Validate without writing"
//	@Param			body	body		ApplyChangesRequest	true	"Batch"
//	@Success		200		{object}	ApplyChangesResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	ApplyChangesResponse
//	@Security		BearerAuth
//	@Router			/changes [post]
func (h *Handler) ApplyChanges(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	batch, err := changes.DecodeBatch(body, parser.FormatJSON)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if len(batch) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("changes are required"))
		return
	}

	if dry, _ := strconv.ParseBool(r.URL.Query().Get("dry_run")); dry {
		writeJSON(w, http.StatusOK, h.svc.Preview(r.Context(), batch))
		return
	}

	out, err := h.svc.Apply(r.Context(), batch)
	if err != nil {
		if out != nil && changes.IsClientError(err) {
			status := http.StatusBadRequest
			if errors.Is(err, apperr.ErrAlreadyExists) {
				status = http.StatusConflict
			}
			writeJSON(w, status, out)
			return
		}
		writeError(w, "apply changes", err)
		return
	}
	status := http.StatusOK
	if out.Reverted {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, out)
}

// Reload handles POST /api/reload.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Reload(r.Context())
	if err != nil {
		writeError(w, "reload", err)
		return
	}
	errs, warns := models.Count(snap.Diagnostics)
	writeJSON(w, http.StatusOK, ReloadResponse{Entities: snap.Bundle.Len(), Errors: errs, Warnings: warns})
}
