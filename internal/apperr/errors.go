// Package apperr holds the sentinel errors shared across the engine and its front ends.
package apperr

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnknownType       = errors.New("unknown entity type")
	ErrManifestNotFound  = errors.New("manifest not found")
	ErrInvalidManifest   = errors.New("invalid manifest")
	ErrInvalidDefinition = errors.New("invalid bundle-type definition")
	ErrInvalidChange     = errors.New("invalid change")
)
