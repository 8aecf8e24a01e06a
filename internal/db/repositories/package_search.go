// package_search.go implements PackageSearchRepository, the database search backend.
// The filter is compiled into a single WHERE clause over the packages table.
package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// PackageSearchRepository runs search queries against the packages table
type PackageSearchRepository struct {
	db *sqlx.DB
}

var _ search.Backend = (*PackageSearchRepository)(nil)

// NewPackageSearchRepository creates a new package search repository
func NewPackageSearchRepository(db *sqlx.DB) *PackageSearchRepository {
	return &PackageSearchRepository{db: db}
}

// Candidates returns up to limit matching package versions, most recently modified first
func (r *PackageSearchRepository) Candidates(ctx context.Context, f search.Filter, limit int) ([]*models.Package, error) {
	where, args := buildSearchWhere(f)
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s
		FROM packages
		WHERE %s
		ORDER BY last_modified DESC, id_lower, version_lower
		LIMIT $%d`, packageColumns, where, len(args))

	result := []*models.Package{}
	if err := r.db.SelectContext(ctx, &result, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search packages: %w", err)
	}
	return result, nil
}

// buildSearchWhere compiles the filter into SQL conditions and positional args.
// The pattern operators compare bytewise, matching the prefix range of search.Filter.
func buildSearchWhere(f search.Filter) (string, []interface{}) {
	conditions := []string{"listed"}
	args := []interface{}{}
	argCount := 0

	if f.HasPrefix() {
		argCount++
		conditions = append(conditions, fmt.Sprintf("id_lower ~>=~ $%d", argCount))
		args = append(args, f.Prefix)
		argCount++
		conditions = append(conditions, fmt.Sprintf("id_lower ~<~ $%d", argCount))
		args = append(args, f.UpperBound())
	}
	if !f.IncludePrerelease {
		conditions = append(conditions, "NOT is_prerelease")
	}
	if !f.IncludeSemVer2 {
		conditions = append(conditions, "semver_level = 0")
	}
	if f.PackageType != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf(`(
			EXISTS (SELECT 1 FROM jsonb_array_elements(package_types) t WHERE lower(t->>'name') = lower($%[1]d))
			OR (jsonb_array_length(package_types) = 0 AND lower($%[1]d) = 'dependency'))`, argCount))
		args = append(args, f.PackageType)
	}
	if f.Framework != "" {
		argCount++
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM jsonb_array_elements_text(target_frameworks) fw WHERE lower(fw) = lower($%d))", argCount))
		args = append(args, f.Framework)
	}

	return strings.Join(conditions, " AND "), args
}
