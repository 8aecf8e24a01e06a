// Package packages defines the metadata store contract shared by every backend.
//
// The metadata record, not the presence of content, is the sole authority on whether a
// package version exists. Backends implement Add with a native conditional insert so that
// concurrent adds of one identity resolve to exactly one AddSuccess.
package packages

import (
	"context"
	"errors"
	"sort"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/version"
)

// ErrNotFound is returned by FindOne when no matching (visible) version exists.
var ErrNotFound = errors.New("package not found")

// AddResult is the outcome of Database.Add
type AddResult int

const (
	// AddSuccess means the record was inserted
	AddSuccess AddResult = iota
	// AddAlreadyExists means a record with the same id and version already existed
	AddAlreadyExists
)

func (r AddResult) String() string {
	switch r {
	case AddSuccess:
		return "success"
	case AddAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Database is the package metadata store.
type Database interface {
	// Add inserts the package; AddAlreadyExists when its id and version are taken.
	Add(ctx context.Context, pkg *models.Package) (AddResult, error)

	ExistsByID(ctx context.Context, id string) (bool, error)
	ExistsByIDVersion(ctx context.Context, id, version string) (bool, error)

	// Find returns every version of id in ascending version order. The slice is
	// never nil. Unlisted versions are only included when includeUnlisted is set.
	Find(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error)

	// FindOne returns ErrNotFound when the version is absent, or unlisted and
	// includeUnlisted is false.
	FindOne(ctx context.Context, id, version string, includeUnlisted bool) (*models.Package, error)

	// AddDownload increments the download counter. Missing packages are ignored.
	AddDownload(ctx context.Context, id, version string) error

	// Unlist and Relist flip the listed flag and report whether the version exists.
	Unlist(ctx context.Context, id, version string) (bool, error)
	Relist(ctx context.Context, id, version string) (bool, error)

	// HardDelete removes the record and reports whether it existed.
	HardDelete(ctx context.Context, id, version string) (bool, error)
}

// Sort orders packages by ascending version precedence.
func Sort(pkgs []*models.Package) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return version.Compare(pkgs[i].Version, pkgs[j].Version) < 0
	})
}
