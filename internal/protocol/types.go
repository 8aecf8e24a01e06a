// Package protocol defines the JSON documents of the NuGet v3 protocol served by the
// registry and the builders that shape package records into them.
//
// See https://learn.microsoft.com/nuget/api/overview for the resource definitions.
package protocol

import "time"

// Resource types advertised in the service index
const (
	ResourceTypePackagePublish            = "PackagePublish/2.0.0"
	ResourceTypeSearchQueryService        = "SearchQueryService"
	ResourceTypeSearchAutocompleteService = "SearchAutocompleteService"
	ResourceTypeRegistrationsBaseURL      = "RegistrationsBaseUrl"
	ResourceTypePackageBaseAddress        = "PackageBaseAddress/3.0.0"
)

// ServiceIndex is the entry point document served at /v3/index.json
type ServiceIndex struct {
	Version   string     `json:"version"`
	Resources []Resource `json:"resources"`
}

// Resource is one endpoint advertised by the service index
type Resource struct {
	ID      string `json:"@id"`
	Type    string `json:"@type"`
	Comment string `json:"comment,omitempty"`
}

// Context is the JSON-LD context attached to search and autocomplete responses
type Context struct {
	Vocab string `json:"@vocab"`
	Base  string `json:"@base,omitempty"`
}

// SearchResponse is the body of GET /v3/search
type SearchResponse struct {
	Context   Context        `json:"@context"`
	TotalHits int            `json:"totalHits"`
	Data      []SearchResult `json:"data"`
}

// SearchResult describes one package id with all of its matching versions
type SearchResult struct {
	RegistrationIndexURL string          `json:"@id"`
	Type                 string          `json:"@type"`
	Registration         string          `json:"registration"`
	PackageID            string          `json:"id"`
	Version              string          `json:"version"`
	Description          string          `json:"description"`
	Authors              []string        `json:"authors"`
	IconURL              string          `json:"iconUrl,omitempty"`
	LicenseURL           string          `json:"licenseUrl,omitempty"`
	ProjectURL           string          `json:"projectUrl,omitempty"`
	PackageTypes         []PackageType   `json:"packageTypes"`
	Summary              string          `json:"summary,omitempty"`
	Tags                 []string        `json:"tags"`
	Title                string          `json:"title,omitempty"`
	TotalDownloads       int64           `json:"totalDownloads"`
	Verified             bool            `json:"verified"`
	Versions             []SearchVersion `json:"versions"`
}

// SearchVersion is one version of a search result
type SearchVersion struct {
	RegistrationLeafURL string `json:"@id"`
	Version             string `json:"version"`
	Downloads           int64  `json:"downloads"`
}

// AutocompleteResponse is the body of GET /v3/autocomplete. Data holds package ids,
// or the versions of one id when the request names it.
type AutocompleteResponse struct {
	Context   Context  `json:"@context"`
	TotalHits int      `json:"totalHits"`
	Data      []string `json:"data"`
}

// VersionsResponse is the body of GET /v3/package/{id}/index.json
type VersionsResponse struct {
	Versions []string `json:"versions"`
}

// RegistrationIndex lists every listed version of a package id in a single inlined page
type RegistrationIndex struct {
	RegistrationIndexURL string             `json:"@id"`
	Type                 []string           `json:"@type"`
	Count                int                `json:"count"`
	TotalDownloads       int64              `json:"totalDownloads"`
	Pages                []RegistrationPage `json:"items"`
}

// RegistrationPage is a range of versions, lower and upper inclusive
type RegistrationPage struct {
	PageURL string                 `json:"@id"`
	Count   int                    `json:"count"`
	Items   []RegistrationPageItem `json:"items"`
	Lower   string                 `json:"lower"`
	Upper   string                 `json:"upper"`
}

// RegistrationPageItem is the inlined form of a registration leaf
type RegistrationPageItem struct {
	RegistrationLeafURL string        `json:"@id"`
	PackageContentURL   string        `json:"packageContent"`
	CatalogEntry        *CatalogEntry `json:"catalogEntry"`
}

// CatalogEntry holds the full metadata of one package version
type CatalogEntry struct {
	CatalogLeafURL           string            `json:"@id"`
	PackageID                string            `json:"id"`
	Version                  string            `json:"version"`
	Authors                  string            `json:"authors"`
	DependencyGroups         []DependencyGroup `json:"dependencyGroups"`
	Description              string            `json:"description"`
	IconURL                  string            `json:"iconUrl,omitempty"`
	Language                 string            `json:"language,omitempty"`
	LicenseURL               string            `json:"licenseUrl,omitempty"`
	Listed                   bool              `json:"listed"`
	MinClientVersion         string            `json:"minClientVersion,omitempty"`
	PackageContentURL        string            `json:"packageContent"`
	PackageTypes             []PackageType     `json:"packageTypes"`
	ProjectURL               string            `json:"projectUrl,omitempty"`
	Published                time.Time         `json:"published"`
	ReleaseNotes             string            `json:"releaseNotes,omitempty"`
	RepositoryURL            string            `json:"repositoryUrl,omitempty"`
	RequireLicenseAcceptance bool              `json:"requireLicenseAcceptance"`
	Summary                  string            `json:"summary,omitempty"`
	Tags                     []string          `json:"tags"`
	Title                    string            `json:"title,omitempty"`
	Downloads                int64             `json:"downloads"`
}

// RegistrationLeaf is the body of GET /v3/registration/{id}/{version}.json
type RegistrationLeaf struct {
	RegistrationLeafURL  string    `json:"@id"`
	Type                 []string  `json:"@type"`
	Listed               bool      `json:"listed"`
	PackageContentURL    string    `json:"packageContent"`
	Published            time.Time `json:"published"`
	RegistrationIndexURL string    `json:"registration"`
}

// DependencyGroup lists the dependencies declared for one target framework. An empty
// TargetFramework is the framework-agnostic group.
type DependencyGroup struct {
	TargetFramework string       `json:"targetFramework,omitempty"`
	Dependencies    []Dependency `json:"dependencies,omitempty"`
}

// Dependency is a dependency on another package id
type Dependency struct {
	ID           string `json:"id"`
	Range        string `json:"range,omitempty"`
	Registration string `json:"registration,omitempty"`
}

// PackageType is a declared package type
type PackageType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}
