// Package bundle is the document store: it loads a bundle's manifest,
// bundle-type definition and entity files into an in-memory graph with a
// global id registry.
package bundle

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/graph"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
	"github.com/starford/sddbundle/internal/storage"
)

// TypeSpec is the effective configuration of one entity type after the
// manifest's schema and layout overrides are applied to the definition.
type TypeSpec struct {
	EntityType string `json:"entityType"`
	IDField    string `json:"idField"`
	Schema     string `json:"schema,omitempty"`
	Dir        string `json:"dir"`
	Pattern    string `json:"filePattern"`
	Meta       bool   `json:"meta,omitempty"`
}

// Bundle is one loaded snapshot. It is not safe for concurrent mutation;
// callers own a snapshot exclusively or serialize access.
type Bundle struct {
	Manifest     *models.Manifest
	ManifestPath string
	Definition   *models.BundleTypeDefinition

	store    storage.Provider
	specs    []TypeSpec
	byType   map[string]int
	entities map[string]map[string]*models.Entity
	registry models.Registry
}

func newBundle(store storage.Provider, m *models.Manifest, manifestPath string, def *models.BundleTypeDefinition) *Bundle {
	b := &Bundle{
		Manifest:     m,
		ManifestPath: manifestPath,
		Definition:   def,
		store:        store,
		byType:       make(map[string]int, len(def.Entities)),
		entities:     make(map[string]map[string]*models.Entity, len(def.Entities)),
		registry:     make(models.Registry),
	}
	for _, e := range def.Entities {
		spec := TypeSpec{
			EntityType: e.EntityType,
			IDField:    e.IDField,
			Schema:     e.Schema,
			Dir:        e.Directory,
			Pattern:    e.FilePattern,
			Meta:       e.Role == models.RoleMeta,
		}
		if s, ok := m.Schemas[e.EntityType]; ok && s != "" {
			spec.Schema = s
		}
		if l, ok := m.Layout[e.EntityType]; ok {
			if l.Dir != "" {
				spec.Dir = l.Dir
			}
			if l.FilePattern != "" {
				spec.Pattern = l.FilePattern
			}
		}
		if spec.Dir == "" {
			spec.Dir = path.Join("bundle", strings.ToLower(e.EntityType))
		}
		if spec.Pattern == "" {
			spec.Pattern = "{id}.yaml"
		}
		b.byType[spec.EntityType] = len(b.specs)
		b.specs = append(b.specs, spec)
		b.entities[spec.EntityType] = make(map[string]*models.Entity)
	}
	return b
}

// Root returns the absolute bundle root.
func (b *Bundle) Root() string { return b.store.Root() }

// Store returns the storage provider the bundle was loaded from.
func (b *Bundle) Store() storage.Provider { return b.store }

// Types returns the entity type specs in definition order.
func (b *Bundle) Types() []TypeSpec {
	out := make([]TypeSpec, len(b.specs))
	copy(out, b.specs)
	return out
}

// Spec returns the spec of an entity type.
func (b *Bundle) Spec(entityType string) (TypeSpec, bool) {
	i, ok := b.byType[entityType]
	if !ok {
		return TypeSpec{}, false
	}
	return b.specs[i], true
}

// SchemaPaths returns entity type -> schema path for types with a schema.
func (b *Bundle) SchemaPaths() map[string]string {
	out := make(map[string]string, len(b.specs))
	for _, s := range b.specs {
		if s.Schema != "" {
			out[s.EntityType] = s.Schema
		}
	}
	return out
}

// Relations returns the declared relations.
func (b *Bundle) Relations() []models.Relation {
	return b.Definition.Relations
}

// Entities returns the entities of one type sorted by id.
func (b *Bundle) Entities(entityType string) []*models.Entity {
	m := b.entities[entityType]
	out := make([]*models.Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every entity, grouped in definition type order and sorted by id.
func (b *Bundle) All() []*models.Entity {
	var out []*models.Entity
	for _, s := range b.specs {
		out = append(out, b.Entities(s.EntityType)...)
	}
	return out
}

// Len returns the number of loaded entities.
func (b *Bundle) Len() int { return len(b.registry) }

// Entity returns the entity with the given type and id.
func (b *Bundle) Entity(entityType, id string) (*models.Entity, bool) {
	e, ok := b.entities[entityType][id]
	return e, ok
}

// Lookup resolves an id through the registry.
func (b *Bundle) Lookup(id string) (models.RegistryEntry, bool) {
	r, ok := b.registry[id]
	return r, ok
}

// Registry returns a copy of the id registry.
func (b *Bundle) Registry() models.Registry {
	out := make(models.Registry, len(b.registry))
	for k, v := range b.registry {
		out[k] = v
	}
	return out
}

// EntityMap exposes the type -> id -> entity map. Callers must not mutate it.
func (b *Bundle) EntityMap() map[string]map[string]*models.Entity {
	return b.entities
}

// Edges derives the reference graph of the current entity state.
func (b *Bundle) Edges() []models.Edge {
	return graph.Build(b.entities, b.registry, b.Definition.Relations)
}

// AddEntity registers a new entity in both the type map and the registry.
func (b *Bundle) AddEntity(e *models.Entity) error {
	if _, ok := b.byType[e.Type]; !ok {
		return fmt.Errorf("bundle: add %s: %w", e.Key(), apperr.ErrUnknownType)
	}
	if e.ID == "" {
		return fmt.Errorf("bundle: add %s: empty id: %w", e.Type, apperr.ErrInvalidChange)
	}
	if r, ok := b.registry[e.ID]; ok {
		return fmt.Errorf("bundle: add %s: id already used by %s: %w", e.Key(), r.Type, apperr.ErrAlreadyExists)
	}
	b.entities[e.Type][e.ID] = e
	b.registry[e.ID] = models.RegistryEntry{Type: e.Type, Path: e.Path}
	return nil
}

// RemoveEntity removes an entity from both the type map and the registry
// and returns it.
func (b *Bundle) RemoveEntity(entityType, id string) (*models.Entity, error) {
	m, ok := b.entities[entityType]
	if !ok {
		return nil, fmt.Errorf("bundle: remove %s/%s: %w", entityType, id, apperr.ErrUnknownType)
	}
	e, ok := m[id]
	if !ok {
		return nil, fmt.Errorf("bundle: remove %s/%s: %w", entityType, id, apperr.ErrNotFound)
	}
	delete(m, id)
	delete(b.registry, id)
	return e, nil
}

// EntityPath synthesizes the file path of a new entity from the type's
// directory and file pattern. Patterns without a plain {id} placeholder
// fall back to "<dir>/<id>.yaml".
func (b *Bundle) EntityPath(entityType, id string) (string, error) {
	spec, ok := b.Spec(entityType)
	if !ok {
		return "", fmt.Errorf("bundle: path for %s/%s: %w", entityType, id, apperr.ErrUnknownType)
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("bundle: path for %s/%q: %w", entityType, id, apperr.ErrInvalidChange)
	}
	name := strings.ReplaceAll(spec.Pattern, "{id}", id)
	if !strings.Contains(spec.Pattern, "{id}") || strings.ContainsAny(strings.ReplaceAll(spec.Pattern, "{id}", ""), "*?[{") {
		ext := ".yaml"
		if f, ok := parser.FormatFor(spec.Pattern); ok {
			ext = f.Ext()
		}
		name = id + ext
	}
	return path.Join(spec.Dir, name), nil
}

// Clone returns a deep copy sharing only the immutable manifest,
// definition and store.
func (b *Bundle) Clone() *Bundle {
	c := &Bundle{
		Manifest:     b.Manifest,
		ManifestPath: b.ManifestPath,
		Definition:   b.Definition,
		store:        b.store,
		specs:        b.specs,
		byType:       b.byType,
		entities:     make(map[string]map[string]*models.Entity, len(b.entities)),
		registry:     b.Registry(),
	}
	for t, m := range b.entities {
		cm := make(map[string]*models.Entity, len(m))
		for id, e := range m {
			cm[id] = e.Clone()
		}
		c.entities[t] = cm
	}
	return c
}
