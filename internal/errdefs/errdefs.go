// Package errdefs defines the error kinds shared across the core services.
// Callers match them with errors.Is; services attach context with
// fmt.Errorf("...: %w", ...).
package errdefs

import "errors"

var (
	// ErrConflict is returned when an ingestion is already in flight for a
	// document, or a unique name constraint is violated.
	ErrConflict = errors.New("conflict")

	// ErrDimensionMismatch is returned when a vector's width or a page's
	// patch count disagrees with the configured model shape.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrUnsupportedFormat is returned by the rasterizer for file types it
	// cannot convert to page images.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrFetchError is returned when a document source cannot be retrieved.
	ErrFetchError = errors.New("fetch error")

	// ErrTimeout is returned when an embedding gateway call exceeds its
	// deadline.
	ErrTimeout = errors.New("timeout")

	// ErrModelError is returned when the embedding gateway answers with a
	// non-success status.
	ErrModelError = errors.New("model error")

	// ErrInvalidFilter is returned for malformed metadata predicates.
	ErrInvalidFilter = errors.New("invalid filter")

	// ErrInvalidArgument is returned for invalid caller input, e.g. a
	// non-positive top_k.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound is returned for unknown users, collections, documents or
	// pages.
	ErrNotFound = errors.New("not found")
)
