// Package memory implements the search backend by scanning the in-memory metadata store.
package memory

import (
	"context"
	"sort"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	pkgmemory "github.com/nuget-registry/nuget-registry/internal/packages/memory"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// Backend scans a memory metadata store snapshot on every query
type Backend struct {
	db *pkgmemory.Database
}

var _ search.Backend = (*Backend)(nil)

// New creates a search backend over db
func New(db *pkgmemory.Database) *Backend {
	return &Backend{db: db}
}

// Candidates returns up to limit matching packages, most recently modified first.
// Ties break on lowercase id then version, the same order the SQL backend uses.
func (b *Backend) Candidates(ctx context.Context, f search.Filter, limit int) ([]*models.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*models.Package
	for _, p := range b.db.All() {
		if f.Matches(p) {
			result = append(result, p)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.LastModified.Equal(b.LastModified) {
			return a.LastModified.After(b.LastModified)
		}
		if a.LowerID() != b.LowerID() {
			return a.LowerID() < b.LowerID()
		}
		return a.LowerVersion() < b.LowerVersion()
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
