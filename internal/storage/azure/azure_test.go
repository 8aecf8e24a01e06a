package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/storage"
)

// newTestStorage creates a storage pointed at an httptest server imitating enough of the
// Azure Blob REST API for tests, including the If-None-Match: * upload condition.
func newTestStorage(t *testing.T) *AzureStorage {
	t.Helper()

	var mu sync.Mutex
	store := map[string][]byte{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, "/")

		mu.Lock()
		defer mu.Unlock()

		switch r.Method {
		case http.MethodPut:
			data, _ := io.ReadAll(r.Body)
			if _, exists := store[key]; exists && r.Header.Get("If-None-Match") == "*" {
				w.Header().Set("x-ms-error-code", "BlobAlreadyExists")
				w.WriteHeader(http.StatusConflict)
				return
			}
			store[key] = data
			w.WriteHeader(http.StatusCreated)

		case http.MethodGet, http.MethodHead:
			b, ok := store[key]
			if !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprintf("%d", len(b)))
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(b)
			}

		case http.MethodDelete:
			if _, ok := store[key]; !ok {
				w.Header().Set("x-ms-error-code", "BlobNotFound")
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(store, key)
			w.WriteHeader(http.StatusAccepted)

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	client, err := azblob.NewClientWithNoCredential(srv.URL, nil)
	if err != nil {
		t.Fatalf("failed to create azblob client: %v", err)
	}

	return &AzureStorage{client: client, containerName: "packages"}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.AzureStorageConfig
	}{
		{"missing account", config.AzureStorageConfig{AccountKey: "a2V5", ContainerName: "c"}},
		{"missing key", config.AzureStorageConfig{AccountName: "acct", ContainerName: "c"}},
		{"missing container", config.AzureStorageConfig{AccountName: "acct", AccountKey: "a2V5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.cfg); err == nil {
				t.Error("New() = nil error, want validation error")
			}
		})
	}
}

func TestNew_CustomServiceURL(t *testing.T) {
	s, err := New(&config.AzureStorageConfig{
		AccountName:   "devstoreaccount1",
		AccountKey:    "a2V5",
		ContainerName: "packages",
		ServiceURL:    "http://127.0.0.1:10000/devstoreaccount1",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if s.containerName != "packages" {
		t.Errorf("containerName = %q, want packages", s.containerName)
	}
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

func TestPutGetDeleteAndExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()
	data := []byte("hello azure")

	res, err := s.Put(ctx, "foo/1.0.0/foo.nuspec", bytes.NewReader(data), "text/xml")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if res != storage.PutSuccess {
		t.Fatalf("Put = %v, want success", res)
	}

	rc, err := s.Get(ctx, "foo/1.0.0/foo.nuspec")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(got, data) {
		t.Fatalf("content mismatch: %q", string(got))
	}

	exists, err := s.Exists(ctx, "foo/1.0.0/foo.nuspec")
	if err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true, nil", exists, err)
	}

	if err := s.Delete(ctx, "foo/1.0.0/foo.nuspec"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = s.Exists(ctx, "foo/1.0.0/foo.nuspec")
	if err != nil || exists {
		t.Fatalf("Exists after delete = %v, %v; want false, nil", exists, err)
	}
}

func TestPut_ConflictLeavesExisting(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.Put(ctx, "k", strings.NewReader("first"), ""); err != nil {
		t.Fatal(err)
	}
	res, err := s.Put(ctx, "k", strings.NewReader("second"), "")
	if err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if res != storage.PutConflict {
		t.Fatalf("Put = %v, want conflict", res)
	}

	rc, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != "first" {
		t.Errorf("content = %q, want first", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDelete_MissingIsNotError(t *testing.T) {
	s := newTestStorage(t)
	if err := s.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("Delete error = %v, want nil", err)
	}
}
