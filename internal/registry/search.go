package registry

import (
	"context"
	"errors"

	"github.com/nuget-registry/nuget-registry/internal/protocol"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// SearchService shapes search backend results into protocol responses
type SearchService struct {
	search   *search.Service
	packages *PackageService
	urls     *protocol.URLGenerator
}

// NewSearchService creates a search service
func NewSearchService(svc *search.Service, pkgs *PackageService, urls *protocol.URLGenerator) *SearchService {
	return &SearchService{search: svc, packages: pkgs, urls: urls}
}

// Search runs a search query
func (s *SearchService) Search(ctx context.Context, req search.Request) (*protocol.SearchResponse, error) {
	page, total, err := s.search.Search(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.urls.SearchResponse(page, total), nil
}

// Autocomplete returns package ids matching the query prefix
func (s *SearchService) Autocomplete(ctx context.Context, req search.Request) (*protocol.AutocompleteResponse, error) {
	ids, total, err := s.search.Autocomplete(ctx, req)
	if err != nil {
		return nil, err
	}
	return protocol.NewAutocompleteResponse(ids, total), nil
}

// ListVersions enumerates the listed versions of id visible under the prerelease and
// SemVer 2.0 flags. An unknown id yields an empty response.
func (s *SearchService) ListVersions(ctx context.Context, id string, includePrerelease, includeSemVer2 bool) (*protocol.AutocompleteResponse, error) {
	pkgs, err := s.packages.GetVersions(ctx, id, false)
	if errors.Is(err, ErrNotFound) {
		return protocol.NewAutocompleteResponse(nil, 0), nil
	}
	if err != nil {
		return nil, err
	}

	versions := make([]string, 0, len(pkgs))
	for _, p := range pkgs {
		if p.IsPrerelease && !includePrerelease {
			continue
		}
		if p.SemVerLevel == 2 && !includeSemVer2 {
			continue
		}
		versions = append(versions, protocol.DisplayVersion(p))
	}
	return protocol.NewAutocompleteResponse(versions, len(versions)), nil
}
