package local

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/storage"
)

// newTestStorage creates a LocalStorage backed by a temporary directory.
func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := New(&config.LocalStorageConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatal("New:", err)
	}
	return s
}

func readAll(t *testing.T, s *LocalStorage, path string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get(%q) error: %v", path, err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll error: %v", err)
	}
	return string(b)
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_CreatesDirectory(t *testing.T) {
	subDir := filepath.Join(t.TempDir(), "a", "b", "c")
	if _, err := New(&config.LocalStorageConfig{BasePath: subDir}); err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := os.Stat(subDir); os.IsNotExist(err) {
		t.Error("New() did not create base directory")
	}
}

// ---------------------------------------------------------------------------
// Put / Get
// ---------------------------------------------------------------------------

func TestPut_ThenGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	res, err := s.Put(ctx, "packages/foo/1.0.0/foo.1.0.0.nupkg", strings.NewReader("archive"), "application/octet-stream")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if res != storage.PutSuccess {
		t.Fatalf("Put() = %v, want success", res)
	}
	if got := readAll(t, s, "packages/foo/1.0.0/foo.1.0.0.nupkg"); got != "archive" {
		t.Errorf("Get() = %q, want %q", got, "archive")
	}
}

func TestPut_ExistingObjectConflicts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "a/b.txt", strings.NewReader("first"), "text/plain"); err != nil {
		t.Fatal(err)
	}
	res, err := s.Put(ctx, "a/b.txt", strings.NewReader("second"), "text/plain")
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if res != storage.PutConflict {
		t.Errorf("Put() = %v, want conflict", res)
	}
	if got := readAll(t, s, "a/b.txt"); got != "first" {
		t.Errorf("existing object was modified: got %q", got)
	}
}

func TestPut_ConcurrentWritersOneWins(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	const writers = 8
	results := make([]storage.PutResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := s.Put(ctx, "race/obj", strings.NewReader("same bytes"), "")
			if err != nil {
				t.Errorf("Put() error: %v", err)
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, r := range results {
		if r == storage.PutSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
}

func TestPut_RejectsTraversal(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Put(context.Background(), "../escape.txt", strings.NewReader("x"), ""); err == nil {
		t.Error("Put() expected error for path outside the storage root")
	}
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	s := newTestStorage(t)
	if _, err := s.Put(context.Background(), "dir/file", strings.NewReader("x"), ""); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(s.basePath, "dir"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Delete / Exists
// ---------------------------------------------------------------------------

func TestDelete_RemovesFileAndEmptyParents(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "packages/foo/1.0.0/icon", strings.NewReader("png"), "image/png"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "packages/foo/1.0.0/icon"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.basePath, "packages")); !os.IsNotExist(err) {
		t.Error("Delete() did not clean up empty parent directories")
	}
}

func TestDelete_MissingIsNotError(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Delete(context.Background(), "never/written"); err != nil {
		t.Errorf("Delete() error = %v, want nil", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "x")
	if err != nil || ok {
		t.Fatalf("Exists() = %v, %v; want false, nil", ok, err)
	}
	if _, err := s.Put(ctx, "x", strings.NewReader("1"), ""); err != nil {
		t.Fatal(err)
	}
	ok, err = s.Exists(ctx, "x")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v; want true, nil", ok, err)
	}
}
