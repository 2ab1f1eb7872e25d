// Package store holds the storage error kinds shared by every backend.
//
// Backends translate driver-specific failures into these kinds once, so callers
// never inspect vendor error codes.
package store

import "errors"

var (
	ErrNotFound   = errors.New("store: not found")
	ErrDuplicate  = errors.New("store: duplicate key")
	ErrReferenced = errors.New("store: row is referenced by other records")
	ErrConflict   = errors.New("store: concurrent modification")
)
