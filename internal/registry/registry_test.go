package registry

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	pkgmemory "github.com/nuget-registry/nuget-registry/internal/packages/memory"
	"github.com/nuget-registry/nuget-registry/internal/protocol"
	"github.com/nuget-registry/nuget-registry/internal/search"
	searchmemory "github.com/nuget-registry/nuget-registry/internal/search/memory"
	"github.com/nuget-registry/nuget-registry/internal/storage"
	storagememory "github.com/nuget-registry/nuget-registry/internal/storage/memory"
	"github.com/nuget-registry/nuget-registry/internal/version"
)

const base = "https://nuget.example.com"

type fixture struct {
	db       *pkgmemory.Database
	store    *storagememory.MemoryStorage
	packages *PackageService
	metadata *MetadataService
	search   *SearchService
	content  *ContentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: pkgmemory.New(), store: storagememory.New()}
	urls := protocol.NewURLGenerator(base)
	f.packages = NewPackageService(f.db)
	f.metadata = NewMetadataService(f.packages, urls)
	f.search = NewSearchService(search.NewService(searchmemory.New(f.db), "memory", 0), f.packages, urls)
	f.content = NewContentService(f.packages, f.store)
	return f
}

// seed adds a listed version with its package and manifest content
func (f *fixture) seed(t *testing.T, id, raw string, mutate ...func(*models.Package)) *models.Package {
	t.Helper()
	v := version.MustParse(raw)
	p := &models.Package{
		ID:              id,
		Version:         v.Normalized(),
		OriginalVersion: raw,
		Listed:          true,
		IsPrerelease:    v.IsPrerelease(),
		SemVerLevel:     v.SemVerLevel(),
		Description:     "test",
		Published:       time.Now().UTC(),
		LastModified:    time.Now().UTC(),
	}
	for _, m := range mutate {
		m(p)
	}
	_, err := f.db.Add(context.Background(), p)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = f.store.Put(ctx, storage.PackagePath(id, p.Version), strings.NewReader("nupkg:"+id+"@"+p.Version), "")
	require.NoError(t, err)
	_, err = f.store.Put(ctx, storage.ManifestPath(id, p.Version), strings.NewReader("<package/>"), "")
	require.NoError(t, err)
	return p
}

func unlisted(p *models.Package) { p.Listed = false }

func readAll(t *testing.T, rc io.ReadCloser) string {
	t.Helper()
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

// ---------------------------------------------------------------------------
// PackageService
// ---------------------------------------------------------------------------

func TestGetVersions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "2.0.0")
	f.seed(t, "Foo", "1.0.0")
	f.seed(t, "Foo", "1.5.0", unlisted)

	pkgs, err := f.packages.GetVersions(context.Background(), "foo", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "2.0.0"}, []string{pkgs[0].Version, pkgs[1].Version})

	pkgs, err = f.packages.GetVersions(context.Background(), "FOO", true)
	require.NoError(t, err)
	assert.Len(t, pkgs, 3)

	_, err = f.packages.GetVersions(context.Background(), "missing", true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExists(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0", unlisted)

	tests := []struct {
		id, version string
		want        bool
	}{
		{"foo", "1.0.0", true},
		{"FOO", "1.0", true},
		{"foo", "2.0.0", false},
		{"foo", "garbage", false},
	}
	for _, tt := range tests {
		got, err := f.packages.Exists(context.Background(), tt.id, tt.version)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s@%s", tt.id, tt.version)
	}
}

// ---------------------------------------------------------------------------
// MetadataService
// ---------------------------------------------------------------------------

func TestGetRegistrationIndex(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")
	f.seed(t, "Foo", "2.0.0", unlisted)

	idx, err := f.metadata.GetRegistrationIndex(context.Background(), "foo")
	require.NoError(t, err)
	require.Len(t, idx.Pages, 1)
	assert.Equal(t, 1, idx.Pages[0].Count, "unlisted versions are left out")
	assert.Equal(t, "1.0.0", idx.Pages[0].Upper)
}

func TestGetRegistrationIndex_NotFound(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Hidden", "1.0.0", unlisted)

	for _, id := range []string{"missing", "hidden"} {
		_, err := f.metadata.GetRegistrationIndex(context.Background(), id)
		assert.ErrorIs(t, err, ErrNotFound, id)
	}
}

func TestGetRegistrationLeaf(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0", unlisted)

	leaf, err := f.metadata.GetRegistrationLeaf(context.Background(), "Foo", "1.0.0")
	require.NoError(t, err)
	assert.False(t, leaf.Listed)
	assert.Equal(t, base+"/v3/package/foo/1.0.0/foo.1.0.0.nupkg", leaf.PackageContentURL)

	for _, v := range []string{"2.0.0", "not-a-version"} {
		_, err = f.metadata.GetRegistrationLeaf(context.Background(), "Foo", v)
		assert.ErrorIs(t, err, ErrNotFound, v)
	}
}

// ---------------------------------------------------------------------------
// SearchService
// ---------------------------------------------------------------------------

func TestSearch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")
	f.seed(t, "Foo", "2.0.0-beta")

	resp, err := f.search.Search(context.Background(), search.Request{Query: "foo", Take: search.DefaultTake})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "1.0.0", resp.Data[0].Version)

	resp, err = f.search.Search(context.Background(), search.Request{Query: "foo", Take: search.DefaultTake, IncludePrerelease: true})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "2.0.0-beta", resp.Data[0].Version)
	assert.Len(t, resp.Data[0].Versions, 2)
}

func TestAutocomplete(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")
	f.seed(t, "FooBar", "1.0.0")
	f.seed(t, "Other", "1.0.0")

	resp, err := f.search.Autocomplete(context.Background(), search.Request{Query: "fo", Take: search.DefaultTake})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.TotalHits)
	assert.ElementsMatch(t, []string{"Foo", "FooBar"}, resp.Data)
}

func TestListVersions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")
	f.seed(t, "Foo", "1.1.0-beta")
	f.seed(t, "Foo", "1.2.0-beta.1")
	f.seed(t, "Foo", "1.3.0", unlisted)

	resp, err := f.search.ListVersions(context.Background(), "foo", false, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, resp.Data)

	resp, err = f.search.ListVersions(context.Background(), "foo", true, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0", "1.1.0-beta", "1.2.0-beta.1"}, resp.Data)

	resp, err = f.search.ListVersions(context.Background(), "missing", true, true)
	require.NoError(t, err)
	assert.Empty(t, resp.Data)
}

// ---------------------------------------------------------------------------
// ContentService
// ---------------------------------------------------------------------------

func TestGetPackage_CountsDownload(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")

	rc, err := f.content.GetPackage(context.Background(), "FOO", "1.0")
	require.NoError(t, err)
	assert.Equal(t, "nupkg:Foo@1.0.0", readAll(t, rc))

	assert.Eventually(t, func() bool {
		p, err := f.db.FindOne(context.Background(), "foo", "1.0.0", true)
		return err == nil && p.Downloads == 1
	}, time.Second, 10*time.Millisecond)
}

// Downloads are counted in the background while other requests read the same record.
func TestGetPackage_CountsDownloadsDuringReads(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")
	ctx := context.Background()

	const downloads = 50
	var wg sync.WaitGroup
	for range downloads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rc, err := f.content.GetPackage(ctx, "foo", "1.0.0")
			if assert.NoError(t, err) {
				rc.Close()
			}
			_, _ = f.metadata.GetRegistrationIndex(ctx, "foo")
			_, _ = f.content.GetVersions(ctx, "foo")
		}()
	}
	wg.Wait()

	assert.Eventually(t, func() bool {
		p, err := f.db.FindOne(ctx, "foo", "1.0.0", true)
		return err == nil && p.Downloads == downloads
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGetPackage_OrphanContentIsNotServed(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(context.Background(), storage.PackagePath("ghost", "1.0.0"), bytes.NewReader([]byte("x")), "")
	require.NoError(t, err)

	_, err = f.content.GetPackage(context.Background(), "ghost", "1.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetManifest(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0")

	rc, err := f.content.GetManifest(context.Background(), "foo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "<package/>", readAll(t, rc))
}

func TestGetReadmeAndIcon(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Plain", "1.0.0")
	f.seed(t, "Rich", "1.0.0", func(p *models.Package) {
		p.HasReadme = true
		p.HasEmbeddedIcon = true
	})
	ctx := context.Background()
	_, err := f.store.Put(ctx, storage.ReadmePath("rich", "1.0.0"), strings.NewReader("# Rich"), "")
	require.NoError(t, err)
	_, err = f.store.Put(ctx, storage.IconPath("rich", "1.0.0"), strings.NewReader("png"), "")
	require.NoError(t, err)

	rc, err := f.content.GetReadme(ctx, "rich", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "# Rich", readAll(t, rc))
	rc, err = f.content.GetIcon(ctx, "rich", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "png", readAll(t, rc))

	_, err = f.content.GetReadme(ctx, "plain", "1.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.content.GetIcon(ctx, "plain", "1.0.0")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestContentVersions(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "Foo", "1.0.0-Beta")
	f.seed(t, "Foo", "1.0.0", unlisted)

	resp, err := f.content.GetVersions(context.Background(), "foo")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0-beta", "1.0.0"}, resp.Versions)

	_, err = f.content.GetVersions(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
