// Package changes applies batches of proposed field-level edits to an
// in-memory bundle and wraps them in the write, reload, validate and
// revert commit protocol.
package changes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/starford/sddbundle/internal/apperr"
	"github.com/starford/sddbundle/internal/bundle"
	"github.com/starford/sddbundle/internal/models"
	"github.com/starford/sddbundle/internal/parser"
)

// FailedChange describes the change that stopped a batch.
type FailedChange struct {
	Index  int                   `json:"index"`
	Change models.ProposedChange `json:"change"`
	Error  string                `json:"error"`
}

// Result reports what an Apply touched.
type Result struct {
	Success          bool               `json:"success"`
	Applied          []int              `json:"applied"`
	Failed           *FailedChange      `json:"failed,omitempty"`
	ModifiedFiles    []string           `json:"modifiedFiles"`
	ModifiedEntities []models.EntityKey `json:"modifiedEntities"`
	DeletedFiles     []string           `json:"deletedFiles,omitempty"`
	Errors           []string           `json:"errors,omitempty"`

	err error
}

// Err returns the error that stopped the batch, if any.
func (r *Result) Err() error { return r.err }

// Apply applies changes in order to b, which is mutated in place; callers
// that need the original should pass a Clone. Apply stops at the first
// failure and leaves b partially applied. It performs no disk I/O.
func Apply(b *bundle.Bundle, changes []models.ProposedChange) *Result {
	res := &Result{Applied: []int{}}
	files := make(map[string]bool)
	keys := make(map[models.EntityKey]bool)

	for i, c := range changes {
		var touched []string
		var err error
		switch c.Kind() {
		case models.OpUpdate:
			touched, err = applyUpdate(b, c)
		case models.OpCreate:
			touched, err = applyCreate(b, c)
		case models.OpDelete:
			touched, err = applyDelete(b, c)
		default:
			err = fmt.Errorf("changes: unknown operation %q: %w", c.Operation, apperr.ErrInvalidChange)
		}
		if err != nil {
			res.fail(i, c, err)
			break
		}
		res.Applied = append(res.Applied, i)
		keys[models.EntityKey{Type: c.EntityType, ID: c.EntityID}] = true
		for _, f := range touched {
			files[f] = true
		}
	}

	live := make(map[string]bool)
	for _, e := range b.All() {
		live[e.Path] = true
	}
	for f := range files {
		res.ModifiedFiles = append(res.ModifiedFiles, f)
		if !live[f] {
			res.DeletedFiles = append(res.DeletedFiles, f)
		}
	}
	sort.Strings(res.ModifiedFiles)
	sort.Strings(res.DeletedFiles)
	for k := range keys {
		res.ModifiedEntities = append(res.ModifiedEntities, k)
	}
	sort.Slice(res.ModifiedEntities, func(i, j int) bool {
		return res.ModifiedEntities[i].String() < res.ModifiedEntities[j].String()
	})
	res.Success = res.err == nil
	return res
}

func (r *Result) fail(i int, c models.ProposedChange, err error) {
	r.err = err
	r.Success = false
	applied := r.Applied[:0]
	for _, j := range r.Applied {
		if j < i {
			applied = append(applied, j)
		}
	}
	r.Applied = applied
	r.Failed = &FailedChange{Index: i, Change: c, Error: err.Error()}
	r.Errors = append(r.Errors, fmt.Sprintf("change %d (%s %s/%s): %v", i, c.Kind(), c.EntityType, c.EntityID, err))
}

func lookup(b *bundle.Bundle, c models.ProposedChange) (*models.Entity, error) {
	if _, ok := b.Spec(c.EntityType); !ok {
		return nil, fmt.Errorf("changes: entity type %q: %w", c.EntityType, apperr.ErrUnknownType)
	}
	e, ok := b.Entity(c.EntityType, c.EntityID)
	if !ok {
		return nil, fmt.Errorf("changes: entity %s/%s: %w", c.EntityType, c.EntityID, apperr.ErrNotFound)
	}
	return e, nil
}

func applyUpdate(b *bundle.Bundle, c models.ProposedChange) ([]string, error) {
	e, err := lookup(b, c)
	if err != nil {
		return nil, err
	}
	segs, err := ParsePath(c.FieldPath)
	if err != nil {
		return nil, err
	}
	spec, _ := b.Spec(c.EntityType)
	if segs[0] == spec.IDField {
		return nil, fmt.Errorf("changes: %s/%s: id field %q cannot be changed: %w", c.EntityType, c.EntityID, spec.IDField, apperr.ErrInvalidChange)
	}
	if err := SetPath(e.Data(), segs, parser.CloneValue(c.NewValue)); err != nil {
		return nil, err
	}
	return []string{e.Path}, nil
}

func applyCreate(b *bundle.Bundle, c models.ProposedChange) ([]string, error) {
	spec, ok := b.Spec(c.EntityType)
	if !ok {
		return nil, fmt.Errorf("changes: entity type %q: %w", c.EntityType, apperr.ErrUnknownType)
	}
	if r, exists := b.Lookup(c.EntityID); exists {
		return nil, fmt.Errorf("changes: duplicate id %q (already a %s): %w", c.EntityID, r.Type, apperr.ErrAlreadyExists)
	}
	var payload map[string]any
	switch v := c.NewValue.(type) {
	case nil:
		payload = map[string]any{}
	case map[string]any:
		payload = parser.CloneValue(v).(map[string]any)
	default:
		return nil, fmt.Errorf("changes: create %s/%s: payload must be an object, got %T: %w", c.EntityType, c.EntityID, c.NewValue, apperr.ErrInvalidChange)
	}
	if id, ok := payload[spec.IDField]; ok && id != c.EntityID {
		return nil, fmt.Errorf("changes: create %s/%s: payload %s %v does not match: %w", c.EntityType, c.EntityID, spec.IDField, id, apperr.ErrInvalidChange)
	}
	payload[spec.IDField] = c.EntityID

	p, err := b.EntityPath(c.EntityType, c.EntityID)
	if err != nil {
		return nil, err
	}
	for _, other := range b.All() {
		if other.Path == p {
			return nil, fmt.Errorf("changes: create %s/%s: file %s already holds %s: %w", c.EntityType, c.EntityID, p, other.Key(), apperr.ErrAlreadyExists)
		}
	}
	format, ok := parser.FormatFor(p)
	if !ok {
		format = parser.FormatYAML
	}
	e := &models.Entity{
		Type: c.EntityType,
		ID:   c.EntityID,
		Path: p,
		Doc:  parser.NewDocument(format, payload, spec.IDField),
	}
	if err := b.AddEntity(e); err != nil {
		return nil, err
	}
	return []string{p}, nil
}

func applyDelete(b *bundle.Bundle, c models.ProposedChange) ([]string, error) {
	if _, err := lookup(b, c); err != nil {
		return nil, err
	}
	e, err := b.RemoveEntity(c.EntityType, c.EntityID)
	if err != nil {
		return nil, err
	}
	return []string{e.Path}, nil
}

// IsClientError reports whether err was caused by the batch itself rather
// than by I/O.
func IsClientError(err error) bool {
	return errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrUnknownType) ||
		errors.Is(err, apperr.ErrAlreadyExists) ||
		errors.Is(err, apperr.ErrInvalidChange)
}
