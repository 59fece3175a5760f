package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/sddbundle/internal/engine"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *engine.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Snapshot reads.
	r.Get("/types", h.ListTypes)
	r.Get("/entities", h.ListEntities)
	r.Get("/entities/{type}/{id}", h.GetEntity)
	r.Get("/entities/{type}/{id}/backlinks", h.Backlinks)
	r.Get("/diagnostics", h.Diagnostics)
	r.Get("/graph", h.Graph)
	r.Get("/search", h.Search)
	r.Get("/domain-knowledge", h.DomainKnowledge)

	// Writes.
	r.Post("/changes", h.ApplyChanges)
	r.Post("/reload", h.Reload)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
