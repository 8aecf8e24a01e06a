// Package memory implements the package metadata store in process memory. It is the
// reference backend for tests and for single-instance deployments that can afford to
// lose their metadata on restart.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

type key struct {
	id      string
	version string
}

func keyOf(id, version string) key {
	return key{id: strings.ToLower(id), version: strings.ToLower(version)}
}

// Database is a mutex-guarded map keyed by lowercase id and version
type Database struct {
	mu   sync.RWMutex
	rows map[key]*models.Package
	now  func() time.Time
}

// New creates an empty in-memory metadata store
func New() *Database {
	return &Database{
		rows: make(map[key]*models.Package),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ packages.Database = (*Database)(nil)

// Add inserts a copy of pkg unless the identity is already taken
func (d *Database) Add(ctx context.Context, pkg *models.Package) (packages.AddResult, error) {
	if err := ctx.Err(); err != nil {
		return packages.AddAlreadyExists, err
	}

	k := keyOf(pkg.ID, pkg.Version)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[k]; ok {
		return packages.AddAlreadyExists, nil
	}
	d.rows[k] = pkg.Clone()
	return packages.AddSuccess, nil
}

// ExistsByID reports whether any version of id exists, listed or not
func (d *Database) ExistsByID(ctx context.Context, id string) (bool, error) {
	lower := strings.ToLower(id)
	d.mu.RLock()
	defer d.mu.RUnlock()
	for k := range d.rows {
		if k.id == lower {
			return true, nil
		}
	}
	return false, nil
}

// ExistsByIDVersion reports whether the exact version exists, listed or not
func (d *Database) ExistsByIDVersion(ctx context.Context, id, version string) (bool, error) {
	d.mu.RLock()
	_, ok := d.rows[keyOf(id, version)]
	d.mu.RUnlock()
	return ok, nil
}

// Find returns all versions of id ordered by version
func (d *Database) Find(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error) {
	lower := strings.ToLower(id)
	result := []*models.Package{}

	d.mu.RLock()
	for k, p := range d.rows {
		if k.id != lower || (!includeUnlisted && !p.Listed) {
			continue
		}
		result = append(result, p.Clone())
	}
	d.mu.RUnlock()

	packages.Sort(result)
	return result, nil
}

// FindOne returns the exact version of id
func (d *Database) FindOne(ctx context.Context, id, version string, includeUnlisted bool) (*models.Package, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.rows[keyOf(id, version)]
	if !ok || (!includeUnlisted && !p.Listed) {
		return nil, packages.ErrNotFound
	}
	return p.Clone(), nil
}

// AddDownload increments the download counter
func (d *Database) AddDownload(ctx context.Context, id, version string) error {
	d.mu.Lock()
	if p, ok := d.rows[keyOf(id, version)]; ok {
		p.Downloads++
	}
	d.mu.Unlock()
	return nil
}

// Unlist hides a version from search and listing
func (d *Database) Unlist(ctx context.Context, id, version string) (bool, error) {
	return d.setListed(id, version, false), nil
}

// Relist makes an unlisted version visible again
func (d *Database) Relist(ctx context.Context, id, version string) (bool, error) {
	return d.setListed(id, version, true), nil
}

func (d *Database) setListed(id, version string, listed bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.rows[keyOf(id, version)]
	if !ok {
		return false
	}
	if p.Listed != listed {
		p.Listed = listed
		p.LastModified = d.now()
	}
	return true
}

// HardDelete removes the record
func (d *Database) HardDelete(ctx context.Context, id, version string) (bool, error) {
	k := keyOf(id, version)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[k]; !ok {
		return false, nil
	}
	delete(d.rows, k)
	return true, nil
}

// All returns a copy of every stored record in no particular order.
// The in-memory search backend scans this snapshot.
func (d *Database) All() []*models.Package {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]*models.Package, 0, len(d.rows))
	for _, p := range d.rows {
		result = append(result, p.Clone())
	}
	return result
}
