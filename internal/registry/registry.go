// Package registry implements the read side of the feed: version listings, registration
// metadata, search responses and content streams. Every lookup goes through the metadata
// store first, so content left behind by a failed push is never served.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/safego"
	"github.com/nuget-registry/nuget-registry/internal/version"
)

// ErrNotFound is returned when the requested id or version is not in the feed
var ErrNotFound = errors.New("registry: package not found")

const downloadTimeout = 10 * time.Second

// PackageService answers existence and version queries against the metadata store
type PackageService struct {
	db packages.Database
}

// NewPackageService creates a package service
func NewPackageService(db packages.Database) *PackageService {
	return &PackageService{db: db}
}

// GetVersions returns the versions of id in ascending order, or ErrNotFound when none
// qualify.
func (s *PackageService) GetVersions(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error) {
	pkgs, err := s.db.Find(ctx, id, includeUnlisted)
	if err != nil {
		return nil, fmt.Errorf("failed to find package versions: %w", err)
	}
	if len(pkgs) == 0 {
		return nil, ErrNotFound
	}
	return pkgs, nil
}

// Get returns one version, listed or not. Unparseable versions are reported as
// ErrNotFound.
func (s *PackageService) Get(ctx context.Context, id, rawVersion string) (*models.Package, error) {
	ver, err := version.Normalize(rawVersion)
	if err != nil {
		return nil, ErrNotFound
	}
	pkg, err := s.db.FindOne(ctx, id, ver, true)
	if errors.Is(err, packages.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find package: %w", err)
	}
	return pkg, nil
}

// Exists reports whether the version is in the feed, listed or not
func (s *PackageService) Exists(ctx context.Context, id, rawVersion string) (bool, error) {
	ver, err := version.Normalize(rawVersion)
	if err != nil {
		return false, nil
	}
	exists, err := s.db.ExistsByIDVersion(ctx, id, ver)
	if err != nil {
		return false, fmt.Errorf("failed to check package existence: %w", err)
	}
	return exists, nil
}

// AddDownload increments the download counter in the background. The count is
// best effort: failures are logged and never reach the caller.
func (s *PackageService) AddDownload(id, ver string) {
	safego.Detached("add-download", downloadTimeout, func(ctx context.Context) error {
		return s.db.AddDownload(ctx, id, ver)
	})
}
