package models

import (
	"github.com/starford/sddbundle/internal/parser"
)

// Entity is one identified, typed document in a bundle.
type Entity struct {
	Type     string
	ID       string
	Path     string // bundle-relative, slash-separated
	Checksum string // of the bytes last read from or written to Path
	Doc      *parser.Document
}

// Data returns the entity payload.
func (e *Entity) Data() map[string]any {
	if e.Doc == nil {
		return nil
	}
	return e.Doc.Data
}

// Key returns the entity key.
func (e *Entity) Key() EntityKey {
	return EntityKey{Type: e.Type, ID: e.ID}
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Doc != nil {
		c.Doc = e.Doc.Clone()
	}
	return &c
}

// EntityKey identifies an entity.
type EntityKey struct {
	Type string `json:"entityType"`
	ID   string `json:"entityId"`
}

// String returns "Type/ID".
func (k EntityKey) String() string {
	return k.Type + "/" + k.ID
}

// RegistryEntry records where a registered id lives.
type RegistryEntry struct {
	Type string `json:"entityType"`
	Path string `json:"path"`
}

// Registry maps every id in a bundle to its type and file. Ids are unique
// across all types.
type Registry map[string]RegistryEntry

// Edge is a derived reference from one entity field to another entity.
type Edge struct {
	FromType  string `json:"fromEntityType"`
	FromID    string `json:"fromId"`
	FromField string `json:"fromField"`
	ToType    string `json:"toEntityType"`
	ToID      string `json:"toId"`
}
