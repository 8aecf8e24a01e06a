// package_repository.go implements PackageRepository, the PostgreSQL metadata store.
// Rows are keyed by (id_lower, version_lower) so identity is case-insensitive, and Add
// relies on ON CONFLICT DO NOTHING to resolve concurrent pushes of one version.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

// packageColumns lists every column mapped onto models.Package
const packageColumns = `
	id, version, original_version, listed, is_prerelease, semver_level,
	has_readme, has_embedded_icon, require_license_acceptance, is_development_dependency,
	title, description, summary, authors, tags, icon_url, license_url, project_url,
	repository_url, repository_type, release_notes, language, min_client_version,
	dependencies, package_types, target_frameworks, downloads, hash, size,
	published, last_modified`

// PackageRepository handles database operations for package versions
type PackageRepository struct {
	db       *sqlx.DB
	pageSize int
}

var _ packages.Database = (*PackageRepository)(nil)

// NewPackageRepository creates a new package repository. Find reads versions in
// pages of pageSize rows.
func NewPackageRepository(db *sqlx.DB, pageSize int) *PackageRepository {
	if pageSize < 1 {
		pageSize = 1000
	}
	return &PackageRepository{db: db, pageSize: pageSize}
}

// Add inserts a package version unless its identity is already taken
func (r *PackageRepository) Add(ctx context.Context, pkg *models.Package) (packages.AddResult, error) {
	query := `
		INSERT INTO packages (
			id_lower, version_lower, ` + packageColumns + `
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33
		)
		ON CONFLICT (id_lower, version_lower) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		pkg.LowerID(), pkg.LowerVersion(),
		pkg.ID, pkg.Version, pkg.OriginalVersion, pkg.Listed, pkg.IsPrerelease, pkg.SemVerLevel,
		pkg.HasReadme, pkg.HasEmbeddedIcon, pkg.RequireLicenseAcceptance, pkg.IsDevelopmentDependency,
		pkg.Title, pkg.Description, pkg.Summary, pkg.Authors, pkg.Tags, pkg.IconURL, pkg.LicenseURL, pkg.ProjectURL,
		pkg.RepositoryURL, pkg.RepositoryType, pkg.ReleaseNotes, pkg.Language, pkg.MinClientVersion,
		pkg.Dependencies, pkg.PackageTypes, pkg.TargetFrameworks, pkg.Downloads, pkg.Hash, pkg.Size,
		pkg.Published, pkg.LastModified,
	)
	if err != nil {
		return packages.AddAlreadyExists, fmt.Errorf("failed to add package: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return packages.AddAlreadyExists, fmt.Errorf("failed to add package: %w", err)
	}
	if n == 0 {
		return packages.AddAlreadyExists, nil
	}
	return packages.AddSuccess, nil
}

// ExistsByID reports whether any version of the package exists
func (r *PackageRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM packages WHERE id_lower = $1)`
	if err := r.db.GetContext(ctx, &exists, query, strings.ToLower(id)); err != nil {
		return false, fmt.Errorf("failed to check package: %w", err)
	}
	return exists, nil
}

// ExistsByIDVersion reports whether the package version exists, listed or not
func (r *PackageRepository) ExistsByIDVersion(ctx context.Context, id, version string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM packages WHERE id_lower = $1 AND version_lower = $2)`
	if err := r.db.GetContext(ctx, &exists, query, strings.ToLower(id), strings.ToLower(version)); err != nil {
		return false, fmt.Errorf("failed to check package version: %w", err)
	}
	return exists, nil
}

// Find returns all versions of a package in ascending version order.
// Rows are read with keyset pagination on version_lower.
func (r *PackageRepository) Find(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error) {
	query := `SELECT ` + packageColumns + `
		FROM packages
		WHERE id_lower = $1 AND version_lower > $2`
	if !includeUnlisted {
		query += ` AND listed`
	}
	query += ` ORDER BY version_lower LIMIT $3`

	result := []*models.Package{}
	after := ""
	for {
		var page []*models.Package
		if err := r.db.SelectContext(ctx, &page, query, strings.ToLower(id), after, r.pageSize); err != nil {
			return nil, fmt.Errorf("failed to list package versions: %w", err)
		}
		result = append(result, page...)
		if len(page) < r.pageSize {
			break
		}
		after = page[len(page)-1].LowerVersion()
	}

	packages.Sort(result)
	return result, nil
}

// FindOne returns a single package version
func (r *PackageRepository) FindOne(ctx context.Context, id, version string, includeUnlisted bool) (*models.Package, error) {
	query := `SELECT ` + packageColumns + `
		FROM packages
		WHERE id_lower = $1 AND version_lower = $2`
	if !includeUnlisted {
		query += ` AND listed`
	}

	var pkg models.Package
	err := r.db.GetContext(ctx, &pkg, query, strings.ToLower(id), strings.ToLower(version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, packages.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get package: %w", err)
	}
	return &pkg, nil
}

// AddDownload increments the download counter of a package version
func (r *PackageRepository) AddDownload(ctx context.Context, id, version string) error {
	query := `UPDATE packages SET downloads = downloads + 1 WHERE id_lower = $1 AND version_lower = $2`
	if _, err := r.db.ExecContext(ctx, query, strings.ToLower(id), strings.ToLower(version)); err != nil {
		return fmt.Errorf("failed to record download: %w", err)
	}
	return nil
}

// Unlist hides a package version from search and version listings
func (r *PackageRepository) Unlist(ctx context.Context, id, version string) (bool, error) {
	return r.setListed(ctx, id, version, false)
}

// Relist makes an unlisted package version visible again
func (r *PackageRepository) Relist(ctx context.Context, id, version string) (bool, error) {
	return r.setListed(ctx, id, version, true)
}

func (r *PackageRepository) setListed(ctx context.Context, id, version string, listed bool) (bool, error) {
	query := `
		UPDATE packages SET listed = $3, last_modified = NOW()
		WHERE id_lower = $1 AND version_lower = $2`
	res, err := r.db.ExecContext(ctx, query, strings.ToLower(id), strings.ToLower(version), listed)
	if err != nil {
		return false, fmt.Errorf("failed to update package listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to update package listing: %w", err)
	}
	return n > 0, nil
}

// HardDelete removes a package version record
func (r *PackageRepository) HardDelete(ctx context.Context, id, version string) (bool, error) {
	query := `DELETE FROM packages WHERE id_lower = $1 AND version_lower = $2`
	res, err := r.db.ExecContext(ctx, query, strings.ToLower(id), strings.ToLower(version))
	if err != nil {
		return false, fmt.Errorf("failed to delete package: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete package: %w", err)
	}
	return n > 0, nil
}
