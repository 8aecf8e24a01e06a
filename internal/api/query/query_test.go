package query

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	pkgmemory "github.com/nuget-registry/nuget-registry/internal/packages/memory"
	"github.com/nuget-registry/nuget-registry/internal/packages/packagestest"
	"github.com/nuget-registry/nuget-registry/internal/protocol"
	"github.com/nuget-registry/nuget-registry/internal/registry"
	"github.com/nuget-registry/nuget-registry/internal/search"
	searchmemory "github.com/nuget-registry/nuget-registry/internal/search/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	db := pkgmemory.New()
	add := func(id, ver string, mutate func(*models.Package)) {
		p := packagestest.NewPackage(id, ver)
		if mutate != nil {
			mutate(p)
		}
		_, err := db.Add(context.Background(), p)
		require.NoError(t, err)
	}
	add("Contoso.Utils", "1.0.0", nil)
	add("Contoso.Utils", "2.0.0-beta", func(p *models.Package) { p.IsPrerelease = true })
	add("Contoso.Utils", "3.0.0", func(p *models.Package) {
		p.OriginalVersion = "3.0.0+build"
		p.SemVerLevel = 2
	})
	add("Contoso.Logging", "1.0.0", nil)
	add("Fabrikam.Core", "1.0.0", nil)

	urls := protocol.NewURLGenerator("https://nuget.example.com")
	svc := registry.NewSearchService(search.NewService(searchmemory.New(db), "memory", 0), registry.NewPackageService(db), urls)

	r := gin.New()
	r.GET("/v3/search", SearchHandler(svc))
	r.GET("/v3/autocomplete", AutocompleteHandler(svc))
	return r
}

func get(t *testing.T, r *gin.Engine, path string, out interface{}) int {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && w.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w.Code
}

// ---------------------------------------------------------------------------
// SearchHandler
// ---------------------------------------------------------------------------

func TestSearchHandler(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name      string
		path      string
		wantTotal int
		wantIDs   []string
	}{
		{"everything", "/v3/search", 3, nil},
		{"prefix query", "/v3/search?q=contoso", 2, nil},
		{"paging", "/v3/search?skip=1&take=1", 3, nil},
		{"no match", "/v3/search?q=nothing-matches", 0, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp protocol.SearchResponse
			require.Equal(t, http.StatusOK, get(t, r, tt.path, &resp))
			assert.Equal(t, tt.wantTotal, resp.TotalHits)
			if tt.wantIDs != nil {
				assert.Len(t, resp.Data, len(tt.wantIDs))
			}
		})
	}
}

func TestSearchHandler_TakeLimitsPage(t *testing.T) {
	r := newTestRouter(t)
	var resp protocol.SearchResponse
	require.Equal(t, http.StatusOK, get(t, r, "/v3/search?take=1", &resp))
	assert.Len(t, resp.Data, 1)
	assert.Equal(t, 3, resp.TotalHits)
}

func TestSearchHandler_TakeZeroReturnsTotalOnly(t *testing.T) {
	r := newTestRouter(t)
	var resp protocol.SearchResponse
	require.Equal(t, http.StatusOK, get(t, r, "/v3/search?take=0", &resp))
	assert.Empty(t, resp.Data)
	assert.Equal(t, 3, resp.TotalHits)
}

func TestSearchHandler_VersionFilters(t *testing.T) {
	r := newTestRouter(t)

	versionsOf := func(resp protocol.SearchResponse, id string) []string {
		for _, d := range resp.Data {
			if d.PackageID == id {
				var out []string
				for _, v := range d.Versions {
					out = append(out, v.Version)
				}
				return out
			}
		}
		return nil
	}

	var stable protocol.SearchResponse
	require.Equal(t, http.StatusOK, get(t, r, "/v3/search?q=contoso.utils", &stable))
	assert.Equal(t, []string{"1.0.0"}, versionsOf(stable, "Contoso.Utils"))

	var all protocol.SearchResponse
	require.Equal(t, http.StatusOK, get(t, r, "/v3/search?q=contoso.utils&prerelease=true&semVerLevel=2.0.0", &all))
	assert.Len(t, versionsOf(all, "Contoso.Utils"), 3)
}

func TestSearchHandler_BadParams(t *testing.T) {
	r := newTestRouter(t)
	for _, path := range []string{
		"/v3/search?skip=abc",
		"/v3/search?take=-1",
		"/v3/search?prerelease=maybe",
	} {
		assert.Equal(t, http.StatusBadRequest, get(t, r, path, nil), path)
	}
}

// ---------------------------------------------------------------------------
// AutocompleteHandler
// ---------------------------------------------------------------------------

func TestAutocompleteHandler_IDs(t *testing.T) {
	r := newTestRouter(t)

	var resp protocol.AutocompleteResponse
	require.Equal(t, http.StatusOK, get(t, r, "/v3/autocomplete?q=contoso", &resp))
	assert.Equal(t, 2, resp.TotalHits)
	assert.ElementsMatch(t, []string{"Contoso.Utils", "Contoso.Logging"}, resp.Data)
}

func TestAutocompleteHandler_Versions(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name string
		path string
		want []string
	}{
		{"stable only", "/v3/autocomplete?id=contoso.utils", []string{"1.0.0"}},
		{"with prerelease", "/v3/autocomplete?id=contoso.utils&prerelease=true", []string{"1.0.0", "2.0.0-beta"}},
		{"unknown id", "/v3/autocomplete?id=missing", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp protocol.AutocompleteResponse
			require.Equal(t, http.StatusOK, get(t, r, tt.path, &resp))
			assert.Equal(t, tt.want, resp.Data)
			assert.Equal(t, len(tt.want), resp.TotalHits)
		})
	}
}
