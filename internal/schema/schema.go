// Package schema compiles per-type JSON Schemas and exposes both the
// validator and the raw annotations the constraint checker reads.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
	"github.com/starford/sddbundle/internal/storage"
)

// Annotation keys understood on property schemas.
const (
	RefTargetsKey = "x-sdd-refTargets"
	RefFormat     = "sdd-ref"
)

// CodeSchemaLoadError is reported when a schema file cannot be read or compiled.
const CodeSchemaLoadError = "schema-load-error"

// Violation is one schema validation failure.
type Violation struct {
	Path    string // JSON pointer into the payload, "/" for the root
	Message string
}

// Set holds the compiled and raw schema of each entity type.
type Set struct {
	compiled map[string]*jsonschema.Schema
	raw      map[string]map[string]any
}

// Compile reads and compiles the schema of every type in paths (type ->
// bundle-relative path). Types whose schema cannot be loaded are reported
// as diagnostics and left without a validator.
func Compile(store storage.Provider, paths map[string]string) (*Set, []models.Diagnostic) {
	s := &Set{
		compiled: make(map[string]*jsonschema.Schema, len(paths)),
		raw:      make(map[string]map[string]any, len(paths)),
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	types := make([]string, 0, len(paths))
	for t, p := range paths {
		if p != "" {
			types = append(types, t)
		}
	}
	sort.Strings(types)

	var diags []models.Diagnostic
	fail := func(t, p string, err error) {
		diags = append(diags, models.Diagnostic{
			Severity:   models.SeverityError,
			Message:    fmt.Sprintf("cannot load schema %s for %s: %v", p, t, err),
			EntityType: t,
			File:       p,
			Source:     models.SourceSchema,
			Code:       CodeSchemaLoadError,
		})
	}
	for _, t := range types {
		p := paths[t]
		data, err := store.Read(p)
		if err != nil {
			fail(t, p, err)
			continue
		}
		v, err := parser.DecodeJSONValue(data)
		if err != nil {
			fail(t, p, err)
			continue
		}
		raw, ok := v.(map[string]any)
		if !ok {
			fail(t, p, errors.New("schema is not an object"))
			continue
		}
		sch, err := c.Compile(filepath.Join(store.Root(), filepath.FromSlash(p)))
		if err != nil {
			fail(t, p, err)
			continue
		}
		s.raw[t] = raw
		s.compiled[t] = sch
	}
	return s, diags
}

// Has reports whether a compiled schema exists for the type.
func (s *Set) Has(entityType string) bool {
	_, ok := s.compiled[entityType]
	return ok
}

// Raw returns the raw schema document of a type.
func (s *Set) Raw(entityType string) (map[string]any, bool) {
	r, ok := s.raw[entityType]
	return r, ok
}

// Validate validates a payload. Types without a schema always pass.
func (s *Set) Validate(entityType string, data map[string]any) []Violation {
	sch, ok := s.compiled[entityType]
	if !ok {
		return nil
	}
	// Round-trip through JSON so numbers reach the validator as json.Number.
	b, err := json.Marshal(data)
	if err != nil {
		return []Violation{{Path: "/", Message: fmt.Sprintf("payload is not JSON-serializable: %v", err)}}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return []Violation{{Path: "/", Message: err.Error()}}
	}
	var out []Violation
	collect(verr, &out)
	return out
}

// collect flattens a validation error tree into its leaf causes.
func collect(e *jsonschema.ValidationError, out *[]Violation) {
	if len(e.Causes) == 0 {
		p := e.InstanceLocation
		if p == "" {
			p = "/"
		}
		*out = append(*out, Violation{Path: p, Message: e.Message})
		return
	}
	for _, c := range e.Causes {
		collect(c, out)
	}
}

// property returns the property schema of a top-level field.
func (s *Set) property(entityType, field string) (map[string]any, bool) {
	props, _ := s.raw[entityType]["properties"].(map[string]any)
	p, ok := props[field].(map[string]any)
	return p, ok
}

// RefTargets returns the allowed reference target types annotated on a
// field, either on the property itself or on its items. The second result
// is false when the field carries no annotation.
func (s *Set) RefTargets(entityType, field string) ([]string, bool) {
	p, ok := s.property(entityType, field)
	if !ok {
		return nil, false
	}
	if t, ok := stringList(p[RefTargetsKey]); ok {
		return t, true
	}
	if items, ok := p["items"].(map[string]any); ok {
		if t, ok := stringList(items[RefTargetsKey]); ok {
			return t, true
		}
	}
	return nil, false
}

// RefFields returns the top-level fields of a type that carry reference
// annotations, sorted.
func (s *Set) RefFields(entityType string) []string {
	props, _ := s.raw[entityType]["properties"].(map[string]any)
	var out []string
	for name := range props {
		if _, ok := s.RefTargets(entityType, name); ok {
			out = append(out, name)
			continue
		}
		if p, ok := props[name].(map[string]any); ok && isRefFormat(p) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func isRefFormat(p map[string]any) bool {
	if f, _ := p["format"].(string); f == RefFormat {
		return true
	}
	items, _ := p["items"].(map[string]any)
	f, _ := items["format"].(string)
	return f == RefFormat
}

// IsRequired reports whether the type's schema lists field as required.
// Required-ness is only ever sourced from the schema.
func (s *Set) IsRequired(entityType, field string) bool {
	req, _ := s.raw[entityType]["required"].([]any)
	for _, r := range req {
		if r == field {
			return true
		}
	}
	return false
}

func stringList(v any) ([]string, bool) {
	switch x := v.(type) {
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out, true
	case string:
		return []string{x}, true
	default:
		return nil, false
	}
}
