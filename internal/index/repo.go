package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/sddbundle/internal/models"
)

// EntityRow represents a row in the entities table.
type EntityRow struct {
	ID        string
	Type      string
	Path      string
	Title     string
	Checksum  string
	UpdatedAt time.Time
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Type    string `json:"entityType"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// UpsertEntity inserts or replaces an entity and its FTS entry within a transaction.
// body is the JSON encoding of the payload.
func (db *DB) UpsertEntity(r EntityRow, body string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err = tx.Exec(`
		INSERT INTO entities (id, entity_type, path, title, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entity_type = excluded.entity_type,
			path        = excluded.path,
			title       = excluded.title,
			checksum    = excluded.checksum,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, r.ID, r.Type, r.Path, r.Title, r.Checksum, body, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entity: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, r.ID, r.Type, r.Title, body); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEntity removes an entity and its FTS entry.
func (db *DB) DeleteEntity(id string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	if _, err := tx.Exec(`DELETE FROM entities WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete entity: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for an entity, or empty string if not found.
func (db *DB) GetChecksum(id string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM entities WHERE id = ?`, id).Scan(&cs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get checksum: %w", err)
	}
	return cs, nil
}

// AllEntities returns every indexed entity keyed by id.
func (db *DB) AllEntities() (map[string]EntityRow, error) {
	rows, err := db.conn.Query(`SELECT id, entity_type, path, title, checksum, updated_at FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("index: all entities: %w", err)
	}
	defer rows.Close()
	out := make(map[string]EntityRow)
	for rows.Next() {
		var r EntityRow
		if err := rows.Scan(&r.ID, &r.Type, &r.Path, &r.Title, &r.Checksum, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out[r.ID] = r
	}
	return out, rows.Err()
}

// ReplaceEdges replaces the whole edge table.
func (db *DB) ReplaceEdges(edges []models.Edge) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM edges`); err != nil {
		return fmt.Errorf("index: clear edges: %w", err)
	}
	if len(edges) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO edges (from_type, from_id, from_field, to_type, to_id) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare edge insert: %w", err)
		}
		defer stmt.Close()
		for _, e := range edges {
			if _, err := stmt.Exec(e.FromType, e.FromID, e.FromField, e.ToType, e.ToID); err != nil {
				return fmt.Errorf("index: insert edge: %w", err)
			}
		}
	}
	return tx.Commit()
}

// ReplaceDiagnostics replaces the whole diagnostics table.
func (db *DB) ReplaceDiagnostics(diags []models.Diagnostic) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM diagnostics`); err != nil {
		return fmt.Errorf("index: clear diagnostics: %w", err)
	}
	if len(diags) > 0 {
		stmt, err := tx.Prepare(`INSERT INTO diagnostics (severity, source, code, entity_type, entity_id, path, file, message) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare diagnostic insert: %w", err)
		}
		defer stmt.Close()
		for _, d := range diags {
			if _, err := stmt.Exec(string(d.Severity), string(d.Source), d.Code, d.EntityType, d.EntityID, d.Path, d.File, d.Message); err != nil {
				return fmt.Errorf("index: insert diagnostic: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Backlinks returns the edges pointing at id, ordered by source.
func (db *DB) Backlinks(id string) ([]models.Edge, error) {
	rows, err := db.conn.Query(`
		SELECT from_type, from_id, from_field, to_type, to_id
		FROM edges
		WHERE to_id = ?
		ORDER BY from_type, from_id, from_field
	`, id)
	if err != nil {
		return nil, fmt.Errorf("index: backlinks: %w", err)
	}
	defer rows.Close()

	var out []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.FromType, &e.FromID, &e.FromField, &e.ToType, &e.ToID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DiagnosticCounts returns the number of stored errors and warnings.
func (db *DB) DiagnosticCounts() (errs, warns int, err error) {
	err = db.conn.QueryRow(`
		SELECT
			COALESCE(SUM(CASE WHEN severity = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN severity = 'warning' THEN 1 ELSE 0 END), 0)
		FROM diagnostics
	`).Scan(&errs, &warns)
	if err != nil {
		return 0, 0, fmt.Errorf("index: diagnostic counts: %w", err)
	}
	return errs, warns, nil
}
