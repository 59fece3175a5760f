// Package models defines the shared bundle, entity, diagnostic and change types.
package models

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Manifest is the bundle root metadata file.
type Manifest struct {
	Name                 string            `yaml:"name" json:"name"`
	BundleType           string            `yaml:"bundleType" json:"bundleType"`
	BundleTypeDefinition string            `yaml:"bundleTypeDefinition" json:"bundleTypeDefinition"`
	Schemas              map[string]string `yaml:"schemas,omitempty" json:"schemas,omitempty"`
	Layout               map[string]Layout `yaml:"layout,omitempty" json:"layout,omitempty"`
	LintConfig           string            `yaml:"lintConfig,omitempty" json:"lintConfig,omitempty"`
	DomainKnowledge      string            `yaml:"domainKnowledge,omitempty" json:"domainKnowledge,omitempty"`
}

// Validate validates the manifest.
func (m *Manifest) Validate() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Name, validation.Required),
		validation.Field(&m.BundleType, validation.Required),
		validation.Field(&m.BundleTypeDefinition, validation.Required),
	)
}

// Layout is the storage location of one entity type.
type Layout struct {
	Dir         string `yaml:"dir" json:"dir"`
	FilePattern string `yaml:"filePattern,omitempty" json:"filePattern,omitempty"`
}

// Multiplicity bounds the number of references a relation field may hold.
type Multiplicity string

const (
	MultiplicityOne  Multiplicity = "one"
	MultiplicityMany Multiplicity = "many"
)

// Role marks entity types with special handling.
const RoleMeta = "meta"

// BundleTypeDefinition declares entity types and the relations between them.
type BundleTypeDefinition struct {
	BundleType string          `yaml:"bundleType" json:"bundleType"`
	Version    string          `yaml:"version,omitempty" json:"version,omitempty"`
	Entities   []EntityTypeDef `yaml:"entities" json:"entities"`
	Relations  []Relation      `yaml:"relations,omitempty" json:"relations,omitempty"`
}

// Validate checks the definition structure and that every relation names
// declared entity types. It also fills in defaults.
func (d *BundleTypeDefinition) Validate() error {
	for i := range d.Entities {
		if d.Entities[i].IDField == "" {
			d.Entities[i].IDField = "id"
		}
	}
	if err := validation.ValidateStruct(d,
		validation.Field(&d.BundleType, validation.Required),
		validation.Field(&d.Entities, validation.Required),
	); err != nil {
		return err
	}
	declared := make(map[string]bool, len(d.Entities))
	for i := range d.Entities {
		e := &d.Entities[i]
		if err := e.Validate(); err != nil {
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
		if declared[e.EntityType] {
			return fmt.Errorf("entities[%d]: entity type %q declared twice", i, e.EntityType)
		}
		declared[e.EntityType] = true
	}
	for i := range d.Relations {
		r := &d.Relations[i]
		if r.Multiplicity == "" {
			r.Multiplicity = MultiplicityMany
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("relations[%d]: %w", i, err)
		}
		if !declared[r.FromEntity] {
			return fmt.Errorf("relations[%d]: unknown fromEntity %q", i, r.FromEntity)
		}
		if !declared[r.ToEntity] {
			return fmt.Errorf("relations[%d]: unknown toEntity %q", i, r.ToEntity)
		}
	}
	return nil
}

// EntityTypeDef declares one entity type.
type EntityTypeDef struct {
	EntityType  string `yaml:"entityType" json:"entityType"`
	IDField     string `yaml:"idField,omitempty" json:"idField,omitempty"`
	Schema      string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Directory   string `yaml:"directory,omitempty" json:"directory,omitempty"`
	FilePattern string `yaml:"filePattern,omitempty" json:"filePattern,omitempty"`
	Role        string `yaml:"role,omitempty" json:"role,omitempty"`
}

// Validate validates the entity type declaration.
func (e *EntityTypeDef) Validate() error {
	return validation.ValidateStruct(e,
		validation.Field(&e.EntityType, validation.Required),
		validation.Field(&e.IDField, validation.Required),
		validation.Field(&e.Role, validation.In(RoleMeta)),
	)
}

// Relation declares that FromField on FromEntity references ToEntity ids.
type Relation struct {
	Name         string       `yaml:"name,omitempty" json:"name,omitempty"`
	FromEntity   string       `yaml:"fromEntity" json:"fromEntity"`
	FromField    string       `yaml:"fromField" json:"fromField"`
	ToEntity     string       `yaml:"toEntity" json:"toEntity"`
	Multiplicity Multiplicity `yaml:"multiplicity,omitempty" json:"multiplicity,omitempty"`
}

// Validate validates the relation declaration.
func (r *Relation) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.FromEntity, validation.Required),
		validation.Field(&r.FromField, validation.Required),
		validation.Field(&r.ToEntity, validation.Required),
		validation.Field(&r.Multiplicity, validation.In(MultiplicityOne, MultiplicityMany)),
	)
}
