package protocol

import (
	"net/url"
	"strings"
)

// URLGenerator builds the absolute links embedded in protocol documents. Ids and
// versions are lowercased so links match the content store's keys.
type URLGenerator struct {
	base string
}

// NewURLGenerator creates a generator rooted at baseURL, e.g. https://nuget.example.com
func NewURLGenerator(baseURL string) *URLGenerator {
	return &URLGenerator{base: strings.TrimRight(baseURL, "/")}
}

func (u *URLGenerator) abs(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return u.base + "/" + strings.Join(escaped, "/")
}

// PackageContentResourceURL is the PackageBaseAddress root
func (u *URLGenerator) PackageContentResourceURL() string {
	return u.base + "/v3/package"
}

// PackageMetadataResourceURL is the RegistrationsBaseUrl root
func (u *URLGenerator) PackageMetadataResourceURL() string {
	return u.base + "/v3/registration"
}

// PackagePublishResourceURL is the push endpoint
func (u *URLGenerator) PackagePublishResourceURL() string {
	return u.base + "/api/v2/package"
}

// SearchResourceURL is the search endpoint
func (u *URLGenerator) SearchResourceURL() string {
	return u.base + "/v3/search"
}

// AutocompleteResourceURL is the autocomplete endpoint
func (u *URLGenerator) AutocompleteResourceURL() string {
	return u.base + "/v3/autocomplete"
}

// RegistrationIndexURL links the registration index of id
func (u *URLGenerator) RegistrationIndexURL(id string) string {
	return u.abs("v3", "registration", strings.ToLower(id), "index.json")
}

// RegistrationLeafURL links the registration leaf of one version
func (u *URLGenerator) RegistrationLeafURL(id, version string) string {
	return u.abs("v3", "registration", strings.ToLower(id), strings.ToLower(version)+".json")
}

// PackageVersionsURL links the flat version list of id
func (u *URLGenerator) PackageVersionsURL(id string) string {
	return u.abs("v3", "package", strings.ToLower(id), "index.json")
}

// PackageDownloadURL links the .nupkg of one version
func (u *URLGenerator) PackageDownloadURL(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return u.abs("v3", "package", id, version, id+"."+version+".nupkg")
}

// PackageManifestURL links the .nuspec of one version
func (u *URLGenerator) PackageManifestURL(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return u.abs("v3", "package", id, version, id+".nuspec")
}

// PackageReadmeURL links the embedded readme of one version
func (u *URLGenerator) PackageReadmeURL(id, version string) string {
	return u.abs("v3", "package", strings.ToLower(id), strings.ToLower(version), "readme")
}

// PackageIconURL links the embedded icon of one version
func (u *URLGenerator) PackageIconURL(id, version string) string {
	return u.abs("v3", "package", strings.ToLower(id), strings.ToLower(version), "icon")
}
