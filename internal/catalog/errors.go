package catalog

import "errors"

var (
	// ErrBuildNotFound indicates the requested build has not been imported.
	ErrBuildNotFound = errors.New("build not found")
	// ErrInvalidBuild indicates an import document failed validation.
	ErrInvalidBuild = errors.New("invalid build")
	// ErrInvalidFrame indicates a frame document failed validation.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrLocked indicates another process holds the catalog lock.
	ErrLocked = errors.New("catalog is locked by another process")
	// ErrSchemaMismatch indicates the database schema version doesn't match.
	ErrSchemaMismatch = errors.New("schema version mismatch")
)
