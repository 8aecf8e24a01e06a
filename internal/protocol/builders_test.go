package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

const base = "https://nuget.example.com"

func pkg(id, ver string, downloads int64) *models.Package {
	return &models.Package{
		ID:              id,
		Version:         ver,
		OriginalVersion: ver,
		Listed:          true,
		Description:     id + " " + ver,
		Authors:         models.StringList{"alice", "bob"},
		Downloads:       downloads,
		Published:       time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Service index
// ---------------------------------------------------------------------------

func TestServiceIndex(t *testing.T) {
	idx := NewURLGenerator(base).ServiceIndex()
	assert.Equal(t, "3.0.0", idx.Version)

	byType := map[string]string{}
	for _, r := range idx.Resources {
		byType[r.Type] = r.ID
	}
	assert.Equal(t, base+"/api/v2/package", byType["PackagePublish/2.0.0"])
	assert.Equal(t, base+"/v3/package", byType["PackageBaseAddress/3.0.0"])
	assert.Equal(t, base+"/v3/search", byType["SearchQueryService/3.0.0-rc"])
	assert.Equal(t, base+"/v3/autocomplete", byType["SearchAutocompleteService"])
	assert.Equal(t, base+"/v3/registration/", byType["RegistrationsBaseUrl/3.6.0"])
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegistrationIndex(t *testing.T) {
	u := NewURLGenerator(base)
	idx := u.RegistrationIndex([]*models.Package{pkg("Foo", "1.0.0", 3), pkg("Foo", "2.0.0", 4)})

	assert.Equal(t, base+"/v3/registration/foo/index.json", idx.RegistrationIndexURL)
	assert.Equal(t, 1, idx.Count)
	assert.Equal(t, int64(7), idx.TotalDownloads)
	require.Len(t, idx.Pages, 1)

	page := idx.Pages[0]
	assert.Equal(t, 2, page.Count)
	assert.Equal(t, "1.0.0", page.Lower)
	assert.Equal(t, "2.0.0", page.Upper)

	item := page.Items[1]
	assert.Equal(t, base+"/v3/registration/foo/2.0.0.json", item.RegistrationLeafURL)
	assert.Equal(t, base+"/v3/package/foo/2.0.0/foo.2.0.0.nupkg", item.PackageContentURL)
	assert.Equal(t, "alice, bob", item.CatalogEntry.Authors)
	assert.Equal(t, []PackageType{{Name: "Dependency"}}, item.CatalogEntry.PackageTypes)
	assert.Equal(t, []string{}, item.CatalogEntry.Tags)
}

func TestRegistrationLeaf(t *testing.T) {
	p := pkg("Foo", "1.0.0", 0)
	p.Listed = false
	leaf := NewURLGenerator(base).RegistrationLeaf(p)

	assert.False(t, leaf.Listed)
	assert.Equal(t, base+"/v3/registration/foo/index.json", leaf.RegistrationIndexURL)
	assert.Equal(t, p.Published, leaf.Published)

	body, err := json.Marshal(leaf)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"@type":["Package","http://schema.nuget.org/catalog#Permalink"]`)
}

func TestCatalogEntry_DependencyGroups(t *testing.T) {
	p := pkg("Foo", "1.0.0", 0)
	p.Dependencies = models.Dependencies{
		{ID: "Bar", VersionRange: "[1.0.0, )", TargetFramework: "net8.0"},
		{TargetFramework: "netstandard2.0"},
		{ID: "Baz", VersionRange: "2.0.0", TargetFramework: "net8.0"},
	}

	groups := NewURLGenerator(base).catalogEntry(p).DependencyGroups
	require.Len(t, groups, 2)
	assert.Equal(t, "net8.0", groups[0].TargetFramework)
	assert.Equal(t, []Dependency{
		{ID: "Bar", Range: "[1.0.0, )", Registration: base + "/v3/registration/bar/index.json"},
		{ID: "Baz", Range: "2.0.0", Registration: base + "/v3/registration/baz/index.json"},
	}, groups[0].Dependencies)
	assert.Equal(t, "netstandard2.0", groups[1].TargetFramework)
	assert.Empty(t, groups[1].Dependencies)
}

func TestCatalogEntry_IconURL(t *testing.T) {
	u := NewURLGenerator(base)

	p := pkg("Foo", "1.0.0", 0)
	p.IconURL = "https://cdn.example.com/icon.png"
	assert.Equal(t, "https://cdn.example.com/icon.png", u.catalogEntry(p).IconURL)

	p.HasEmbeddedIcon = true
	assert.Equal(t, base+"/v3/package/foo/1.0.0/icon", u.catalogEntry(p).IconURL)
}

// ---------------------------------------------------------------------------
// Search / autocomplete / versions
// ---------------------------------------------------------------------------

func TestSearchResponse(t *testing.T) {
	u := NewURLGenerator(base)
	regs := []search.Registration{
		{ID: "Foo", Packages: []*models.Package{pkg("Foo", "1.0.0", 1), pkg("Foo", "2.0.0", 2)}},
	}

	resp := u.SearchResponse(regs, 5)
	assert.Equal(t, 5, resp.TotalHits)
	require.Len(t, resp.Data, 1)

	r := resp.Data[0]
	assert.Equal(t, "Foo", r.PackageID)
	assert.Equal(t, "2.0.0", r.Version)
	assert.Equal(t, "Foo 2.0.0", r.Description)
	assert.Equal(t, int64(3), r.TotalDownloads)
	assert.Equal(t, base+"/v3/registration/foo/index.json", r.Registration)
	require.Len(t, r.Versions, 2)
	assert.Equal(t, SearchVersion{RegistrationLeafURL: base + "/v3/registration/foo/1.0.0.json", Version: "1.0.0", Downloads: 1}, r.Versions[0])
}

func TestSearchResponse_EmptyDataIsArray(t *testing.T) {
	body, err := json.Marshal(NewURLGenerator(base).SearchResponse(nil, 0))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"data":[]`)
}

func TestNewAutocompleteResponse(t *testing.T) {
	body, err := json.Marshal(NewAutocompleteResponse(nil, 0))
	require.NoError(t, err)
	assert.JSONEq(t, `{"@context":{"@vocab":"http://schema.nuget.org/schema#"},"totalHits":0,"data":[]}`, string(body))
}

func TestNewVersionsResponse(t *testing.T) {
	resp := NewVersionsResponse([]*models.Package{pkg("Foo", "1.0.0-Beta", 0), pkg("Foo", "1.0.0", 0)})
	assert.Equal(t, []string{"1.0.0-beta", "1.0.0"}, resp.Versions)
}

func TestDisplayVersion(t *testing.T) {
	p := pkg("Foo", "1.0.0", 0)
	p.OriginalVersion = "1.0.0+build.5"
	assert.Equal(t, "1.0.0+build.5", DisplayVersion(p))

	p.OriginalVersion = ""
	assert.Equal(t, "1.0.0", DisplayVersion(p))
}
