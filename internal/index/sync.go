package index

import (
	"encoding/json"
	"log/slog"

	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// Sync brings the index up to date with a loaded bundle snapshot:
//   - new/changed entities are upserted
//   - entities no longer in the bundle are deleted
//   - edges and diagnostics are replaced wholesale
func Sync(db EntityIndex, b *bundle.Bundle, edges []models.Edge, diags []models.Diagnostic, logger *slog.Logger) error {
	stored, err := db.AllEntities()
	if err != nil {
		return err
	}

	live := make(map[string]struct{}, b.Len())
	for _, e := range b.All() {
		live[e.ID] = struct{}{}

		if row, ok := stored[e.ID]; ok && row.Checksum == e.Checksum && row.Path == e.Path && row.Type == e.Type {
			continue
		}
		if err := indexEntity(db, e); err != nil {
			logger.Warn("sync: index failed", slog.String("id", e.ID), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("id", e.ID))
		}
	}

	// Remove stale entries.
	for id := range stored {
		if _, ok := live[id]; !ok {
			if err := db.DeleteEntity(id); err != nil {
				logger.Warn("sync: delete failed", slog.String("id", id), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("id", id))
			}
		}
	}

	if err := db.ReplaceEdges(edges); err != nil {
		return err
	}
	return db.ReplaceDiagnostics(diags)
}

// indexEntity encodes the entity payload and upserts it into the DB.
func indexEntity(db EntityIndex, e *models.Entity) error {
	data := e.Data()
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	row := EntityRow{
		ID:       e.ID,
		Type:     e.Type,
		Path:     e.Path,
		Title:    parser.Title(data, e.ID),
		Checksum: e.Checksum,
	}
	return db.UpsertEntity(row, string(body))
}
