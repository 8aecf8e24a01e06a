// builders.go shapes package records into protocol documents.
package protocol

import (
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/search"
	"github.com/nuget-registry/nuget-registry/internal/version"
)

const schemaVocab = "http://schema.nuget.org/schema#"

var (
	registrationIndexTypes = []string{"catalog:CatalogRoot", "PackageRegistration", "catalog:Permalink"}
	registrationLeafTypes  = []string{"Package", "http://schema.nuget.org/catalog#Permalink"}
)

// ServiceIndex advertises every resource the registry serves
func (u *URLGenerator) ServiceIndex() *ServiceIndex {
	resources := []Resource{
		{ID: u.PackagePublishResourceURL(), Type: ResourceTypePackagePublish},
		{ID: u.PackageContentResourceURL(), Type: ResourceTypePackageBaseAddress},
	}
	for _, t := range []string{"", "/3.0.0-beta", "/3.0.0-rc"} {
		resources = append(resources, Resource{ID: u.SearchResourceURL(), Type: ResourceTypeSearchQueryService + t})
	}
	for _, t := range []string{"", "/3.0.0-beta", "/3.0.0-rc"} {
		resources = append(resources, Resource{ID: u.AutocompleteResourceURL(), Type: ResourceTypeSearchAutocompleteService + t})
	}
	for _, t := range []string{"", "/3.0.0-beta", "/3.0.0-rc", "/3.4.0", "/3.6.0"} {
		resources = append(resources, Resource{ID: u.PackageMetadataResourceURL() + "/", Type: ResourceTypeRegistrationsBaseURL + t})
	}
	return &ServiceIndex{Version: "3.0.0", Resources: resources}
}

// RegistrationIndex builds the index for versions, which must be non-empty, share
// one id and be sorted ascending.
func (u *URLGenerator) RegistrationIndex(versions []*models.Package) *RegistrationIndex {
	latest := versions[len(versions)-1]
	indexURL := u.RegistrationIndexURL(latest.ID)

	items := make([]RegistrationPageItem, len(versions))
	var downloads int64
	for i, p := range versions {
		downloads += p.Downloads
		items[i] = RegistrationPageItem{
			RegistrationLeafURL: u.RegistrationLeafURL(p.ID, p.Version),
			PackageContentURL:   u.PackageDownloadURL(p.ID, p.Version),
			CatalogEntry:        u.catalogEntry(p),
		}
	}

	return &RegistrationIndex{
		RegistrationIndexURL: indexURL,
		Type:                 registrationIndexTypes,
		Count:                1,
		TotalDownloads:       downloads,
		Pages: []RegistrationPage{{
			PageURL: indexURL,
			Count:   len(items),
			Items:   items,
			Lower:   DisplayVersion(versions[0]),
			Upper:   DisplayVersion(latest),
		}},
	}
}

// RegistrationLeaf builds the leaf document of one version
func (u *URLGenerator) RegistrationLeaf(p *models.Package) *RegistrationLeaf {
	return &RegistrationLeaf{
		RegistrationLeafURL:  u.RegistrationLeafURL(p.ID, p.Version),
		Type:                 registrationLeafTypes,
		Listed:               p.Listed,
		PackageContentURL:    u.PackageDownloadURL(p.ID, p.Version),
		Published:            p.Published,
		RegistrationIndexURL: u.RegistrationIndexURL(p.ID),
	}
}

func (u *URLGenerator) catalogEntry(p *models.Package) *CatalogEntry {
	return &CatalogEntry{
		CatalogLeafURL:           u.RegistrationLeafURL(p.ID, p.Version),
		PackageID:                p.ID,
		Version:                  DisplayVersion(p),
		Authors:                  strings.Join(p.Authors, ", "),
		DependencyGroups:         u.dependencyGroups(p.Dependencies),
		Description:              p.Description,
		IconURL:                  u.iconURL(p),
		Language:                 p.Language,
		LicenseURL:               p.LicenseURL,
		Listed:                   p.Listed,
		MinClientVersion:         p.MinClientVersion,
		PackageContentURL:        u.PackageDownloadURL(p.ID, p.Version),
		PackageTypes:             packageTypes(p.PackageTypes),
		ProjectURL:               p.ProjectURL,
		Published:                p.Published,
		ReleaseNotes:             p.ReleaseNotes,
		RepositoryURL:            p.RepositoryURL,
		RequireLicenseAcceptance: p.RequireLicenseAcceptance,
		Summary:                  p.Summary,
		Tags:                     nonNil(p.Tags),
		Title:                    p.Title,
		Downloads:                p.Downloads,
	}
}

// SearchResponse shapes a page of grouped search results
func (u *URLGenerator) SearchResponse(page []search.Registration, totalHits int) *SearchResponse {
	data := make([]SearchResult, 0, len(page))
	for _, r := range page {
		latest := r.Latest()
		versions := make([]SearchVersion, len(r.Packages))
		for i, p := range r.Packages {
			versions[i] = SearchVersion{
				RegistrationLeafURL: u.RegistrationLeafURL(p.ID, p.Version),
				Version:             DisplayVersion(p),
				Downloads:           p.Downloads,
			}
		}

		data = append(data, SearchResult{
			RegistrationIndexURL: u.RegistrationIndexURL(r.ID),
			Type:                 "Package",
			Registration:         u.RegistrationIndexURL(r.ID),
			PackageID:            r.ID,
			Version:              DisplayVersion(latest),
			Description:          latest.Description,
			Authors:              nonNil(latest.Authors),
			IconURL:              u.iconURL(latest),
			LicenseURL:           latest.LicenseURL,
			ProjectURL:           latest.ProjectURL,
			PackageTypes:         packageTypes(latest.PackageTypes),
			Summary:              latest.Summary,
			Tags:                 nonNil(latest.Tags),
			Title:                latest.Title,
			TotalDownloads:       r.TotalDownloads(),
			Versions:             versions,
		})
	}

	return &SearchResponse{
		Context:   Context{Vocab: schemaVocab, Base: u.PackageMetadataResourceURL()},
		TotalHits: totalHits,
		Data:      data,
	}
}

// NewAutocompleteResponse wraps ids or versions returned by an autocomplete query
func NewAutocompleteResponse(data []string, totalHits int) *AutocompleteResponse {
	return &AutocompleteResponse{
		Context:   Context{Vocab: schemaVocab},
		TotalHits: totalHits,
		Data:      nonNil(data),
	}
}

// NewVersionsResponse lists the lowercase normalized versions of pkgs in order
func NewVersionsResponse(pkgs []*models.Package) *VersionsResponse {
	versions := make([]string, len(pkgs))
	for i, p := range pkgs {
		versions[i] = strings.ToLower(p.Version)
	}
	return &VersionsResponse{Versions: versions}
}

// DisplayVersion is the full normalized version including build metadata, falling
// back to the stored key when the original string no longer parses.
func DisplayVersion(p *models.Package) string {
	if v, err := version.Parse(p.OriginalVersion); err == nil {
		return v.Full()
	}
	return p.Version
}

// iconURL prefers the embedded icon over the deprecated iconUrl element
func (u *URLGenerator) iconURL(p *models.Package) string {
	if p.HasEmbeddedIcon {
		return u.PackageIconURL(p.ID, p.Version)
	}
	return p.IconURL
}

// dependencyGroups regroups the flattened dependency list by target framework,
// keeping first-seen order. Entries without an id mark a group with no dependencies.
func (u *URLGenerator) dependencyGroups(deps models.Dependencies) []DependencyGroup {
	groups := []DependencyGroup{}
	index := map[string]int{}
	for _, d := range deps {
		key := strings.ToLower(d.TargetFramework)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, DependencyGroup{TargetFramework: d.TargetFramework})
		}
		if d.ID == "" {
			continue
		}
		groups[i].Dependencies = append(groups[i].Dependencies, Dependency{
			ID:           d.ID,
			Range:        d.VersionRange,
			Registration: u.RegistrationIndexURL(d.ID),
		})
	}
	return groups
}

func packageTypes(types models.PackageTypes) []PackageType {
	if len(types) == 0 {
		return []PackageType{{Name: "Dependency"}}
	}
	out := make([]PackageType, len(types))
	for i, t := range types {
		out[i] = PackageType{Name: t.Name, Version: t.Version}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
