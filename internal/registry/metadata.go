package registry

import (
	"context"
	"errors"

	"github.com/nuget-registry/nuget-registry/internal/protocol"
)

// MetadataService serves the registration (package metadata) resource
type MetadataService struct {
	packages *PackageService
	urls     *protocol.URLGenerator
}

// NewMetadataService creates a metadata service
func NewMetadataService(pkgs *PackageService, urls *protocol.URLGenerator) *MetadataService {
	return &MetadataService{packages: pkgs, urls: urls}
}

// GetRegistrationIndex returns the registration index of id. An id whose versions
// are all unlisted has no index and yields ErrNotFound.
func (s *MetadataService) GetRegistrationIndex(ctx context.Context, id string) (*protocol.RegistrationIndex, error) {
	pkgs, err := s.packages.GetVersions(ctx, id, false)
	if err != nil {
		return nil, err
	}
	return s.urls.RegistrationIndex(pkgs), nil
}

// GetRegistrationLeaf returns the leaf of one version, listed or not.
func (s *MetadataService) GetRegistrationLeaf(ctx context.Context, id, rawVersion string) (*protocol.RegistrationLeaf, error) {
	pkg, err := s.packages.Get(ctx, id, rawVersion)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.urls.RegistrationLeaf(pkg), nil
}
