// Package storage defines the content store interface and common types for all storage
// backends in the package registry.
//
// New backends are added by implementing the Storage interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// Adding a new backend requires no changes to the factory or main package, only a
// blank import in cmd/server/main.go.
//
// Objects are write-once. Put never replaces an existing object: it relies on the
// backend's own create-if-absent primitive so concurrent writers racing on one path
// see exactly one PutSuccess.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when no object exists at the path.
var ErrNotFound = errors.New("storage: object not found")

// PutResult is the outcome of a Put call
type PutResult int

const (
	// PutSuccess means the object was created
	PutSuccess PutResult = iota
	// PutConflict means an object already existed at the path and was left untouched
	PutConflict
)

func (r PutResult) String() string {
	switch r {
	case PutSuccess:
		return "success"
	case PutConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Storage defines the interface for all content store backends
type Storage interface {
	// Get streams the object at path. Returns ErrNotFound if absent.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Put creates the object at path. If an object already exists it returns
	// PutConflict and leaves the existing object unchanged.
	Put(ctx context.Context, path string, content io.Reader, contentType string) (PutResult, error)

	// Delete removes the object at path. Deleting an absent object is not an error.
	Delete(ctx context.Context, path string) error

	// Exists checks if an object exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)
}
