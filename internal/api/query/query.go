// Package query serves the SearchQueryService and SearchAutocompleteService resources.
package query

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/registry"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// semVer2Level is the only semVerLevel value that enables SemVer 2.0.0 results
const semVer2Level = "2.0.0"

// @Summary      Search packages
// @Description  Matches package ids that start with q, case-insensitively. Results are grouped by id, most recently modified first.
// @Tags         Search
// @Produce      json
// @Param        q            query  string  false  "Search terms"
// @Param        skip         query  int     false  "Results to skip"
// @Param        take         query  int     false  "Results to return"
// @Param        prerelease   query  bool    false  "Include prerelease versions"
// @Param        semVerLevel  query  string  false  "2.0.0 to include SemVer 2.0.0 versions"
// @Param        packageType  query  string  false  "Package type filter"
// @Param        framework    query  string  false  "Target framework filter"
// @Success      200  {object}  protocol.SearchResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid query parameter"
// @Router       /v3/search [get]
// SearchHandler runs a package search
// Implements: GET /v3/search
func SearchHandler(svc *registry.SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := parseRequest(c)
		if !ok {
			return
		}

		resp, err := svc.Search(c.Request.Context(), req)
		if err != nil {
			slog.Error("search failed", "query", req.Query, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Search failed",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// @Summary      Autocomplete
// @Description  Without id, returns package ids matching q. With id, returns the listed versions of that package.
// @Tags         Search
// @Produce      json
// @Param        q            query  string  false  "Id prefix or terms"
// @Param        id           query  string  false  "Package id whose versions are listed"
// @Param        skip         query  int     false  "Results to skip"
// @Param        take         query  int     false  "Results to return"
// @Param        prerelease   query  bool    false  "Include prerelease versions"
// @Param        semVerLevel  query  string  false  "2.0.0 to include SemVer 2.0.0 versions"
// @Param        packageType  query  string  false  "Package type filter"
// @Success      200  {object}  protocol.AutocompleteResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid query parameter"
// @Router       /v3/autocomplete [get]
// AutocompleteHandler returns package ids, or the versions of one id
// Implements: GET /v3/autocomplete
func AutocompleteHandler(svc *registry.SearchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := parseRequest(c)
		if !ok {
			return
		}

		if id := c.Query("id"); id != "" {
			resp, err := svc.ListVersions(c.Request.Context(), id, req.IncludePrerelease, req.IncludeSemVer2)
			if err != nil {
				slog.Error("version autocomplete failed", "id", id, "error", err)
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Autocomplete failed",
				})
				return
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		resp, err := svc.Autocomplete(c.Request.Context(), req)
		if err != nil {
			slog.Error("autocomplete failed", "query", req.Query, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Autocomplete failed",
			})
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// parseRequest reads the shared query parameters. It writes a 400 and returns
// false when a numeric or boolean parameter is malformed.
func parseRequest(c *gin.Context) (search.Request, bool) {
	req := search.Request{
		Query:          c.Query("q"),
		IncludeSemVer2: c.Query("semVerLevel") == semVer2Level,
		PackageType:    c.Query("packageType"),
		Framework:      c.Query("framework"),
	}

	var err error
	if req.Skip, err = intParam(c, "skip", 0); err != nil {
		badParam(c, "skip")
		return req, false
	}
	if req.Take, err = intParam(c, "take", search.DefaultTake); err != nil {
		badParam(c, "take")
		return req, false
	}
	if v := c.Query("prerelease"); v != "" {
		if req.IncludePrerelease, err = strconv.ParseBool(v); err != nil {
			badParam(c, "prerelease")
			return req, false
		}
	}
	return req, true
}

func intParam(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}

func badParam(c *gin.Context, name string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": "Invalid query parameter: " + name,
	})
}
