// Package packages implements the package publish and package content resources:
// push, delete and relist under /api/v2/package, and version listing and downloads
// under /v3/package.
package packages

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/indexing"
	"github.com/nuget-registry/nuget-registry/internal/middleware"
)

// @Summary      Push package
// @Description  Upload a .nupkg as a multipart file or as the raw request body. Requires the X-NuGet-ApiKey header.
// @Tags         Publish
// @Accept       multipart/form-data
// @Param        X-NuGet-ApiKey  header    string  true   "API key"
// @Param        package         formData  file    false  "Package archive"
// @Success      201  "Package created"
// @Failure      400  {object}  map[string]interface{}  "Invalid package"
// @Failure      401  {object}  map[string]interface{}  "Missing or invalid API key, or server is read-only"
// @Failure      409  {object}  map[string]interface{}  "Package version already exists"
// @Failure      500  {object}  map[string]interface{}  "Internal server error"
// @Router       /api/v2/package [put]
// PushHandler handles package uploads
// Implements: PUT /api/v2/package
func PushHandler(indexer *indexing.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, err := uploadStream(c.Request)
		if err != nil || upload == nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Request does not contain a package",
			})
			return
		}

		result, pkg, err := indexer.Index(c.Request.Context(), upload)
		if err != nil {
			slog.Error("package push failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to index package",
			})
			return
		}

		switch result {
		case indexing.Success:
			c.Set(middleware.PackageIDKey, pkg.ID)
			c.Set(middleware.PackageVersionKey, pkg.Version)
			c.JSON(http.StatusCreated, gin.H{
				"id":      pkg.ID,
				"version": pkg.Version,
			})
		case indexing.PackageAlreadyExists:
			c.JSON(http.StatusConflict, gin.H{
				"error": "Package version already exists",
			})
		default:
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid package",
			})
		}
	}
}

// @Summary      Delete package version
// @Description  Unlists or permanently deletes a version, depending on registry.package_deletion_behavior.
// @Tags         Publish
// @Param        X-NuGet-ApiKey  header  string  true  "API key"
// @Param        id              path    string  true  "Package id"
// @Param        version         path    string  true  "Package version"
// @Success      204  "Deleted"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Package version not found"
// @Router       /api/v2/package/{id}/{version} [delete]
// DeleteHandler handles package deletion
// Implements: DELETE /api/v2/package/:id/:version
func DeleteHandler(indexer *indexing.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		found, err := indexer.Delete(c.Request.Context(), c.Param("id"), c.Param("version"))
		if err != nil {
			slog.Error("package delete failed", "id", c.Param("id"), "version", c.Param("version"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to delete package",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// @Summary      Relist package version
// @Tags         Publish
// @Param        X-NuGet-ApiKey  header  string  true  "API key"
// @Param        id              path    string  true  "Package id"
// @Param        version         path    string  true  "Package version"
// @Success      200  "Relisted"
// @Failure      401  {object}  map[string]interface{}  "Unauthorized"
// @Failure      404  {object}  map[string]interface{}  "Package version not found"
// @Router       /api/v2/package/{id}/{version} [post]
// RelistHandler makes an unlisted version visible again
// Implements: POST /api/v2/package/:id/:version
func RelistHandler(indexer *indexing.Indexer) gin.HandlerFunc {
	return func(c *gin.Context) {
		found, err := indexer.Relist(c.Request.Context(), c.Param("id"), c.Param("version"))
		if err != nil {
			slog.Error("package relist failed", "id", c.Param("id"), "version", c.Param("version"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to relist package",
			})
			return
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package version not found",
			})
			return
		}
		c.Status(http.StatusOK)
	}
}

// uploadStream returns the first file of a multipart body, or the raw body otherwise.
// It returns nil when a multipart body carries no file.
func uploadStream(r *http.Request) (io.Reader, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "multipart/") {
		return r.Body, nil
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, err
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if part.FileName() != "" {
			return part, nil
		}
	}
}
