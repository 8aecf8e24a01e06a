// Package memory implements an in-process content store. Contents are lost on restart;
// it backs tests and throwaway single-instance deployments.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/storage"
)

func init() {
	storage.Register("memory", func(_ *config.Config) (storage.Storage, error) {
		return New(), nil
	})
}

// MemoryStorage implements the Storage interface over a map guarded by a mutex
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// New creates an empty in-memory store
func New() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

// Put stores a copy of the content if nothing exists at path yet
func (s *MemoryStorage) Put(ctx context.Context, path string, content io.Reader, contentType string) (storage.PutResult, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return storage.PutConflict, fmt.Errorf("failed to read content: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[path]; ok {
		return storage.PutConflict, nil
	}
	s.objects[path] = data
	return storage.PutSuccess, nil
}

// Get returns a reader over the stored bytes
func (s *MemoryStorage) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[path]
	s.mu.RUnlock()
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes the object at path
func (s *MemoryStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	delete(s.objects, path)
	s.mu.Unlock()
	return nil
}

// Exists checks if an object exists at path
func (s *MemoryStorage) Exists(ctx context.Context, path string) (bool, error) {
	s.mu.RLock()
	_, ok := s.objects[path]
	s.mu.RUnlock()
	return ok, nil
}

// Len returns the number of stored objects
func (s *MemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
