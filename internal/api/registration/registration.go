// Package registration serves the package metadata (RegistrationsBaseUrl) resource.
package registration

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/registry"
)

// @Summary      Registration index
// @Description  Returns the registration index of a package id with its listed versions inlined in a single page.
// @Tags         Metadata
// @Produce      json
// @Param        id  path  string  true  "Package id"
// @Success      200  {object}  protocol.RegistrationIndex
// @Failure      404  {object}  map[string]interface{}  "Package not found"
// @Router       /v3/registration/{id}/index.json [get]
// IndexHandler returns the registration index of a package
// Implements: GET /v3/registration/:id/index.json
func IndexHandler(metadata *registry.MetadataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		index, err := metadata.GetRegistrationIndex(c.Request.Context(), c.Param("id"))
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package not found",
			})
			return
		}
		if err != nil {
			slog.Error("failed to build registration index", "id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load package metadata",
			})
			return
		}
		c.JSON(http.StatusOK, index)
	}
}

// @Summary      Registration leaf
// @Tags         Metadata
// @Produce      json
// @Param        id       path  string  true  "Package id"
// @Param        version  path  string  true  "Package version followed by .json"
// @Success      200  {object}  protocol.RegistrationLeaf
// @Failure      404  {object}  map[string]interface{}  "Package version not found"
// @Router       /v3/registration/{id}/{version}.json [get]
// LeafHandler returns the registration leaf of one version
// Implements: GET /v3/registration/:id/:version.json
func LeafHandler(metadata *registry.MetadataService) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("version")
		if !strings.HasSuffix(strings.ToLower(raw), ".json") {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		raw = raw[:len(raw)-len(".json")]

		leaf, err := metadata.GetRegistrationLeaf(c.Request.Context(), c.Param("id"), raw)
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		if err != nil {
			slog.Error("failed to build registration leaf", "id", c.Param("id"), "version", raw, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to load package metadata",
			})
			return
		}
		c.JSON(http.StatusOK, leaf)
	}
}
