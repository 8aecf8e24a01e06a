// Package packagestest holds the behavioural test suite every packages.Database backend
// must pass. Backend test files call Run with a constructor for a fresh, empty store.
package packagestest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

// NewPackage builds a listed package with the fields a manifest would populate.
func NewPackage(id, ver string) *models.Package {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return &models.Package{
		ID:               id,
		Version:          ver,
		OriginalVersion:  ver,
		Listed:           true,
		Description:      "Test package " + id,
		Authors:          models.StringList{"alice", "bob"},
		Tags:             models.StringList{"json", "test"},
		Dependencies:     models.Dependencies{{ID: "Bar", VersionRange: "[1.0.0, )", TargetFramework: "net8.0"}},
		PackageTypes:     models.PackageTypes{{Name: "Dependency"}},
		TargetFrameworks: models.StringList{"net8.0"},
		Hash:             "abc123",
		Size:             42,
		Published:        now,
		LastModified:     now,
	}
}

// Run executes the suite. newDB must return an empty store.
func Run(t *testing.T, newDB func(t *testing.T) packages.Database) {
	ctx := context.Background()

	t.Run("add then find one round trips", func(t *testing.T) {
		db := newDB(t)
		in := NewPackage("Foo", "1.0.0")
		res, err := db.Add(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, packages.AddSuccess, res)

		got, err := db.FindOne(ctx, "foo", "1.0.0", false)
		require.NoError(t, err)
		assert.Equal(t, in.ID, got.ID)
		assert.Equal(t, in.Version, got.Version)
		assert.Equal(t, in.Description, got.Description)
		assert.Equal(t, in.Authors, got.Authors)
		assert.Equal(t, in.Tags, got.Tags)
		assert.Equal(t, in.Dependencies, got.Dependencies)
		assert.Equal(t, in.PackageTypes, got.PackageTypes)
		assert.Equal(t, in.TargetFrameworks, got.TargetFrameworks)
		assert.Equal(t, in.Hash, got.Hash)
		assert.True(t, in.Published.Equal(got.Published))
	})

	t.Run("duplicate add is already exists", func(t *testing.T) {
		db := newDB(t)
		_, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)

		dup := NewPackage("FOO", "1.0.0")
		dup.Description = "different"
		res, err := db.Add(ctx, dup)
		require.NoError(t, err)
		assert.Equal(t, packages.AddAlreadyExists, res)

		got, err := db.FindOne(ctx, "foo", "1.0.0", true)
		require.NoError(t, err)
		assert.Equal(t, "Test package Foo", got.Description)
	})

	t.Run("concurrent adds yield exactly one success", func(t *testing.T) {
		db := newDB(t)
		const n = 10
		results := make([]packages.AddResult, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
				assert.NoError(t, err)
				results[i] = res
			}(i)
		}
		wg.Wait()

		successes := 0
		for _, r := range results {
			if r == packages.AddSuccess {
				successes++
			}
		}
		assert.Equal(t, 1, successes)

		all, err := db.Find(ctx, "foo", true)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("exists checks", func(t *testing.T) {
		db := newDB(t)
		_, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)

		ok, err := db.ExistsByID(ctx, "FOO")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.ExistsByIDVersion(ctx, "foo", "1.0.0")
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = db.ExistsByIDVersion(ctx, "foo", "2.0.0")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = db.ExistsByID(ctx, "bar")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("find orders by version and never returns nil", func(t *testing.T) {
		db := newDB(t)
		for _, v := range []string{"10.0.0", "2.0.0", "2.0.0-beta", "1.0.0"} {
			_, err := db.Add(ctx, NewPackage("Foo", v))
			require.NoError(t, err)
		}

		got, err := db.Find(ctx, "foo", false)
		require.NoError(t, err)
		var versions []string
		for _, p := range got {
			versions = append(versions, p.Version)
		}
		assert.Equal(t, []string{"1.0.0", "2.0.0-beta", "2.0.0", "10.0.0"}, versions)

		none, err := db.Find(ctx, "unknown", true)
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})

	t.Run("unlisted versions are hidden by default", func(t *testing.T) {
		db := newDB(t)
		_, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)
		_, err = db.Add(ctx, NewPackage("Foo", "2.0.0"))
		require.NoError(t, err)

		found, err := db.Unlist(ctx, "foo", "2.0.0")
		require.NoError(t, err)
		assert.True(t, found)

		listed, err := db.Find(ctx, "foo", false)
		require.NoError(t, err)
		require.Len(t, listed, 1)
		assert.Equal(t, "1.0.0", listed[0].Version)

		all, err := db.Find(ctx, "foo", true)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		_, err = db.FindOne(ctx, "foo", "2.0.0", false)
		assert.ErrorIs(t, err, packages.ErrNotFound)

		p, err := db.FindOne(ctx, "foo", "2.0.0", true)
		require.NoError(t, err)
		assert.False(t, p.Listed)

		found, err = db.Relist(ctx, "foo", "2.0.0")
		require.NoError(t, err)
		assert.True(t, found)
		_, err = db.FindOne(ctx, "foo", "2.0.0", false)
		assert.NoError(t, err)
	})

	t.Run("unlist of unknown version reports not found", func(t *testing.T) {
		db := newDB(t)
		found, err := db.Unlist(ctx, "nope", "1.0.0")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("find one of unknown version", func(t *testing.T) {
		db := newDB(t)
		_, err := db.FindOne(ctx, "foo", "1.0.0", true)
		assert.ErrorIs(t, err, packages.ErrNotFound)
	})

	t.Run("add download increments counter", func(t *testing.T) {
		db := newDB(t)
		_, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			require.NoError(t, db.AddDownload(ctx, "FOO", "1.0.0"))
		}
		p, err := db.FindOne(ctx, "foo", "1.0.0", false)
		require.NoError(t, err)
		assert.Equal(t, int64(3), p.Downloads)

		assert.NoError(t, db.AddDownload(ctx, "missing", "1.0.0"))
	})

	t.Run("hard delete removes the record", func(t *testing.T) {
		db := newDB(t)
		_, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)

		found, err := db.HardDelete(ctx, "foo", "1.0.0")
		require.NoError(t, err)
		assert.True(t, found)

		ok, err := db.ExistsByIDVersion(ctx, "foo", "1.0.0")
		require.NoError(t, err)
		assert.False(t, ok)

		found, err = db.HardDelete(ctx, "foo", "1.0.0")
		require.NoError(t, err)
		assert.False(t, found)

		// the identity can be pushed again
		res, err := db.Add(ctx, NewPackage("Foo", "1.0.0"))
		require.NoError(t, err)
		assert.Equal(t, packages.AddSuccess, res)
	})

	t.Run("many versions are fully materialized", func(t *testing.T) {
		db := newDB(t)
		const n = 25
		for i := 0; i < n; i++ {
			_, err := db.Add(ctx, NewPackage("Many", fmt.Sprintf("1.0.%d", i)))
			require.NoError(t, err)
		}
		got, err := db.Find(ctx, "many", false)
		require.NoError(t, err)
		require.Len(t, got, n)
		assert.Equal(t, "1.0.0", got[0].Version)
		assert.Equal(t, "1.0.24", got[n-1].Version)
	})
}
