package packages

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/nuget-registry/nuget-registry/internal/registry"
)

// iconSniffLen is how much of an icon is read ahead for content type detection
const iconSniffLen = 3072

// @Summary      List package versions
// @Description  Lists every version of a package id, unlisted versions included. Implements the PackageBaseAddress resource.
// @Tags         Content
// @Produce      json
// @Param        id  path  string  true  "Package id"
// @Success      200  {object}  protocol.VersionsResponse
// @Failure      404  {object}  map[string]interface{}  "Package not found"
// @Router       /v3/package/{id}/index.json [get]
// VersionsHandler lists the versions of a package
// Implements: GET /v3/package/:id/index.json
func VersionsHandler(content *registry.ContentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		versions, err := content.GetVersions(c.Request.Context(), c.Param("id"))
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Package not found",
			})
			return
		}
		if err != nil {
			slog.Error("failed to list package versions", "id", c.Param("id"), "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to list package versions",
			})
			return
		}
		c.JSON(http.StatusOK, versions)
	}
}

// @Summary      Download package content
// @Description  Streams the .nupkg ({id}.{version}.nupkg), the manifest ({id}.nuspec), the embedded readme (readme) or icon (icon).
// @Tags         Content
// @Param        id       path  string  true  "Package id"
// @Param        version  path  string  true  "Package version"
// @Param        file     path  string  true  "{id}.{version}.nupkg, {id}.nuspec, readme or icon"
// @Success      200  {file}  binary
// @Failure      404  {object}  map[string]interface{}  "Not found"
// @Router       /v3/package/{id}/{version}/{file} [get]
// DownloadHandler streams one kind of package content
// Implements: GET /v3/package/:id/:version/:file
func DownloadHandler(content *registry.ContentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, ver := c.Param("id"), c.Param("version")
		file := strings.ToLower(c.Param("file"))

		var (
			rc          io.ReadCloser
			err         error
			contentType string
		)
		switch {
		case strings.HasSuffix(file, ".nupkg"):
			rc, err = content.GetPackage(ctx, id, ver)
			contentType = "application/octet-stream"
		case strings.HasSuffix(file, ".nuspec"):
			rc, err = content.GetManifest(ctx, id, ver)
			contentType = "text/xml"
		case file == "readme":
			rc, err = content.GetReadme(ctx, id, ver)
			contentType = "text/markdown"
		case file == "icon":
			rc, err = content.GetIcon(ctx, id, ver)
		default:
			err = registry.ErrNotFound
		}

		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Not found",
			})
			return
		}
		if err != nil {
			slog.Error("failed to read package content", "id", id, "version", ver, "file", file, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to read package content",
			})
			return
		}
		defer rc.Close()

		if contentType == "" {
			serveIcon(c, rc)
			return
		}
		c.DataFromReader(http.StatusOK, -1, contentType, rc, nil)
	}
}

// serveIcon sniffs the content type from the head of the icon and streams the rest
func serveIcon(c *gin.Context, rc io.Reader) {
	head := make([]byte, iconSniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		slog.Error("failed to read package icon", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read package content",
		})
		return
	}
	head = head[:n]
	c.DataFromReader(http.StatusOK, -1, mimetype.Detect(head).String(),
		io.MultiReader(bytes.NewReader(head), rc), nil)
}
