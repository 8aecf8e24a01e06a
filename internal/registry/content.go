package registry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nuget-registry/nuget-registry/internal/protocol"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
)

// ContentService streams stored package content
type ContentService struct {
	packages *PackageService
	storage  storage.Storage
}

// NewContentService creates a content service
func NewContentService(pkgs *PackageService, store storage.Storage) *ContentService {
	return &ContentService{packages: pkgs, storage: store}
}

// GetVersions returns the flat version list of id, unlisted versions included
func (s *ContentService) GetVersions(ctx context.Context, id string) (*protocol.VersionsResponse, error) {
	pkgs, err := s.packages.GetVersions(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return protocol.NewVersionsResponse(pkgs), nil
}

// GetPackage streams the .nupkg and counts the download
func (s *ContentService) GetPackage(ctx context.Context, id, rawVersion string) (io.ReadCloser, error) {
	pkg, err := s.packages.Get(ctx, id, rawVersion)
	if err != nil {
		return nil, err
	}
	rc, err := s.open(ctx, storage.PackagePath(pkg.ID, pkg.Version))
	if err != nil {
		return nil, err
	}

	telemetry.PackageDownloadsTotal.Inc()
	s.packages.AddDownload(pkg.ID, pkg.Version)
	return rc, nil
}

// GetManifest streams the .nuspec
func (s *ContentService) GetManifest(ctx context.Context, id, rawVersion string) (io.ReadCloser, error) {
	pkg, err := s.packages.Get(ctx, id, rawVersion)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, storage.ManifestPath(pkg.ID, pkg.Version))
}

// GetReadme streams the embedded readme; ErrNotFound when the package has none
func (s *ContentService) GetReadme(ctx context.Context, id, rawVersion string) (io.ReadCloser, error) {
	pkg, err := s.packages.Get(ctx, id, rawVersion)
	if err != nil {
		return nil, err
	}
	if !pkg.HasReadme {
		return nil, ErrNotFound
	}
	return s.open(ctx, storage.ReadmePath(pkg.ID, pkg.Version))
}

// GetIcon streams the embedded icon; ErrNotFound when the package has none
func (s *ContentService) GetIcon(ctx context.Context, id, rawVersion string) (io.ReadCloser, error) {
	pkg, err := s.packages.Get(ctx, id, rawVersion)
	if err != nil {
		return nil, err
	}
	if !pkg.HasEmbeddedIcon {
		return nil, ErrNotFound
	}
	return s.open(ctx, storage.IconPath(pkg.ID, pkg.Version))
}

func (s *ContentService) open(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := s.storage.Get(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return rc, nil
}
