// Package indexing implements the push pipeline: validate the uploaded archive, write
// its content, then commit the metadata record and refresh the search index.
//
// The metadata record is the only authority on whether a version exists. Content is
// written first and is never rolled back, so a push that dies between the two steps
// leaves unreferenced objects that are invisible to readers. Concurrent pushes of one
// identity are resolved by the stores' own atomic create primitives.
package indexing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/search"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	"github.com/nuget-registry/nuget-registry/internal/telemetry"
	"github.com/nuget-registry/nuget-registry/internal/validation"
	"github.com/nuget-registry/nuget-registry/internal/version"
	"github.com/nuget-registry/nuget-registry/pkg/checksum"
)

const (
	packageContentType  = "binary/octet-stream"
	manifestContentType = "text/xml"
	readmeContentType   = "text/markdown"
)

// Result is the terminal state of a push
type Result int

const (
	// Success means content and metadata were committed
	Success Result = iota
	// InvalidPackage means the upload was rejected before anything was written
	InvalidPackage
	// PackageAlreadyExists means the id and version are taken
	PackageAlreadyExists
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case InvalidPackage:
		return "invalid_package"
	case PackageAlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Options are fixed when the indexer is built
type Options struct {
	AllowOverwrites  bool
	DeletionBehavior string // config.DeletionUnlist or config.DeletionHardDelete
	MaxPackageSize   int64
}

// OptionsFromConfig extracts the indexing options from the registry configuration
func OptionsFromConfig(cfg *config.RegistryConfig) Options {
	return Options{
		AllowOverwrites:  cfg.AllowPackageOverwrites,
		DeletionBehavior: cfg.PackageDeletionBehavior,
		MaxPackageSize:   cfg.MaxPackageSize,
	}
}

// Indexer runs pushes, deletes and relists
type Indexer struct {
	storage storage.Storage
	db      packages.Database
	search  search.Indexer // nil when search reads the metadata store directly
	opts    Options
	now     func() time.Time
}

// New creates an indexer. searchIndex may be nil.
func New(store storage.Storage, db packages.Database, searchIndex search.Indexer, opts Options) *Indexer {
	if opts.MaxPackageSize <= 0 {
		opts.MaxPackageSize = validation.MaxPackageSize
	}
	if opts.DeletionBehavior == "" {
		opts.DeletionBehavior = config.DeletionUnlist
	}
	return &Indexer{
		storage: store,
		db:      db,
		search:  searchIndex,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Index runs the push pipeline on an uploaded archive. The returned package is nil
// when the upload is invalid. Backend failures are returned as errors.
func (x *Indexer) Index(ctx context.Context, upload io.Reader) (Result, *models.Package, error) {
	result, pkg, err := x.index(ctx, upload)
	if err != nil {
		telemetry.PackagePushesTotal.WithLabelValues("error").Inc()
		return result, pkg, err
	}
	telemetry.PackagePushesTotal.WithLabelValues(result.String()).Inc()
	return result, pkg, nil
}

func (x *Indexer) index(ctx context.Context, upload io.Reader) (Result, *models.Package, error) {
	hashed := checksum.NewReader(io.LimitReader(upload, x.opts.MaxPackageSize+1))
	data, err := io.ReadAll(hashed)
	if err != nil {
		return InvalidPackage, nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if hashed.Size() > x.opts.MaxPackageSize {
		slog.Info("rejected package upload", "reason", "too large", "max_bytes", x.opts.MaxPackageSize)
		return InvalidPackage, nil, nil
	}

	contents, err := validation.ReadPackage(data)
	if errors.Is(err, validation.ErrInvalidPackage) {
		slog.Info("rejected package upload", "reason", err.Error())
		return InvalidPackage, nil, nil
	}
	if err != nil {
		return InvalidPackage, nil, err
	}

	pkg := contents.Package
	pkg.Hash = hashed.Sum()
	pkg.Size = hashed.Size()
	log := slog.With("id", pkg.ID, "version", pkg.Version)

	exists, err := x.db.ExistsByIDVersion(ctx, pkg.ID, pkg.Version)
	if err != nil {
		return PackageAlreadyExists, pkg, err
	}
	if exists {
		if !x.opts.AllowOverwrites {
			log.Warn("package already exists")
			return PackageAlreadyExists, pkg, nil
		}
		if err := x.remove(ctx, pkg.ID, pkg.Version); err != nil {
			return PackageAlreadyExists, pkg, fmt.Errorf("failed to replace existing package: %w", err)
		}
		log.Info("replacing existing package")
	}

	conflict, err := x.writeContent(ctx, contents)
	if err != nil {
		return PackageAlreadyExists, pkg, err
	}
	if conflict {
		log.Warn("package content already exists")
		return PackageAlreadyExists, pkg, nil
	}

	now := x.now()
	pkg.Published = now
	pkg.LastModified = now

	added, err := x.db.Add(ctx, pkg)
	if err != nil {
		return PackageAlreadyExists, pkg, err
	}
	if added == packages.AddAlreadyExists {
		log.Warn("package metadata already exists")
		return PackageAlreadyExists, pkg, nil
	}

	x.refresh(ctx, pkg.ID, pkg.Version)
	log.Info("package indexed", "size", pkg.Size)
	return Success, pkg, nil
}

// writeContent stores the archive, then the manifest, readme and icon. It reports
// a conflict as soon as any object already exists; objects written before that are
// left in place.
func (x *Indexer) writeContent(ctx context.Context, c *validation.PackageContents) (bool, error) {
	id, ver := c.Package.ID, c.Package.Version

	type object struct {
		path        string
		data        []byte
		contentType string
	}
	objects := []object{
		{storage.PackagePath(id, ver), c.Archive, packageContentType},
		{storage.ManifestPath(id, ver), c.Manifest, manifestContentType},
	}
	if c.Readme != nil {
		objects = append(objects, object{storage.ReadmePath(id, ver), c.Readme, readmeContentType})
	}
	if c.Icon != nil {
		objects = append(objects, object{storage.IconPath(id, ver), c.Icon, mimetype.Detect(c.Icon).String()})
	}

	for _, o := range objects {
		result, err := x.storage.Put(ctx, o.path, bytes.NewReader(o.data), o.contentType)
		if err != nil {
			return false, fmt.Errorf("failed to store %s: %w", o.path, err)
		}
		if result == storage.PutConflict {
			return true, nil
		}
	}
	return false, nil
}

// Delete unlists or hard deletes a version according to the deletion behavior.
// It reports false when the version does not exist.
func (x *Indexer) Delete(ctx context.Context, id, rawVersion string) (bool, error) {
	ver, err := version.Normalize(rawVersion)
	if err != nil {
		return false, nil
	}

	var found bool
	if x.opts.DeletionBehavior == config.DeletionHardDelete {
		found, err = x.db.HardDelete(ctx, id, ver)
		if err == nil && found {
			x.deleteContent(ctx, id, ver)
		}
	} else {
		found, err = x.db.Unlist(ctx, id, ver)
	}
	if err != nil {
		return false, err
	}
	if found {
		telemetry.PackageDeletesTotal.WithLabelValues(x.opts.DeletionBehavior).Inc()
		x.refresh(ctx, id, ver)
		slog.Info("package deleted", "id", id, "version", ver, "behavior", x.opts.DeletionBehavior)
	}
	return found, nil
}

// Relist makes an unlisted version visible again
func (x *Indexer) Relist(ctx context.Context, id, rawVersion string) (bool, error) {
	ver, err := version.Normalize(rawVersion)
	if err != nil {
		return false, nil
	}

	found, err := x.db.Relist(ctx, id, ver)
	if err != nil {
		return false, err
	}
	if found {
		x.refresh(ctx, id, ver)
		slog.Info("package relisted", "id", id, "version", ver)
	}
	return found, nil
}

// remove deletes an existing version ahead of an overwrite
func (x *Indexer) remove(ctx context.Context, id, ver string) error {
	if _, err := x.db.HardDelete(ctx, id, ver); err != nil {
		return err
	}
	for _, p := range storage.PackageArtifactPaths(id, ver) {
		if err := x.storage.Delete(ctx, p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	return nil
}

// deleteContent removes a version's objects. Leftovers are unreferenced and harmless,
// so failures are only logged.
func (x *Indexer) deleteContent(ctx context.Context, id, ver string) {
	for _, p := range storage.PackageArtifactPaths(id, ver) {
		if err := x.storage.Delete(ctx, p); err != nil {
			slog.Warn("failed to delete package content", "path", p, "error", err)
		}
	}
}

// refresh brings a separate search index in line with the metadata store. The
// index is a read optimisation, so failures are logged and counted, never returned.
func (x *Indexer) refresh(ctx context.Context, id, ver string) {
	if x.search == nil {
		return
	}

	pkg, err := x.db.FindOne(ctx, id, ver, true)
	switch {
	case err == nil:
		err = x.search.Index(ctx, pkg)
	case errors.Is(err, packages.ErrNotFound):
		err = x.search.Remove(ctx, id, ver)
	}
	if err != nil {
		telemetry.SearchIndexRefreshErrorsTotal.Inc()
		slog.Warn("failed to refresh search index", "id", id, "version", ver, "error", err)
	}
}
