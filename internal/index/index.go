package index

import "github.com/starford/sddbundle/internal/models"

// EntityIndex defines the interface for bundle snapshot indexing.
// Consumers should depend on this interface rather than the concrete *DB type.
type EntityIndex interface {
	UpsertEntity(row EntityRow, body string) error
	DeleteEntity(id string) error
	GetChecksum(id string) (string, error)
	AllEntities() (map[string]EntityRow, error)
	ReplaceEdges(edges []models.Edge) error
	ReplaceDiagnostics(diags []models.Diagnostic) error
	Backlinks(id string) ([]models.Edge, error)
	Search(query string, limit int) ([]SearchResult, error)
	DiagnosticCounts() (errs, warns int, err error)
	Close() error
}

// Verify *DB satisfies EntityIndex at compile time.
var _ EntityIndex = (*DB)(nil)
