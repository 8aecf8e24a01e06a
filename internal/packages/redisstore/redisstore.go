// Package redisstore implements the package metadata store on Redis.
//
// Layout, with every key under the configured prefix:
//
//	pkg:{id}:{version}       immutable JSON document written once with SETNX
//	state:{id}:{version}     hash of the mutable fields: listed, downloads, last_modified
//	versions:{id}            sorted set of every version of id (all scores 0)
//
// Add writes all three keys in one Lua script guarded by SETNX on the document key, so
// exactly one concurrent Add wins and a version is never visible half-written.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

const (
	fieldListed       = "listed"
	fieldDownloads    = "downloads"
	fieldLastModified = "last_modified"
)

// Store implements packages.Database on a Redis client
type Store struct {
	rdb      redis.UniversalClient
	prefix   string
	pageSize int
	now      func() time.Time
}

var _ packages.Database = (*Store)(nil)

// New creates a Redis-backed metadata store. pageSize bounds the number of keys
// fetched per MGET when materializing a version list.
func New(rdb redis.UniversalClient, prefix string, pageSize int) *Store {
	if pageSize < 1 {
		pageSize = 1000
	}
	return &Store{
		rdb:      rdb,
		prefix:   prefix,
		pageSize: pageSize,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) docKey(id, version string) string {
	return s.prefix + "pkg:" + strings.ToLower(id) + ":" + strings.ToLower(version)
}

func (s *Store) stateKey(id, version string) string {
	return s.prefix + "state:" + strings.ToLower(id) + ":" + strings.ToLower(version)
}

func (s *Store) versionsKey(id string) string {
	return s.prefix + "versions:" + strings.ToLower(id)
}

// addScript inserts a version atomically.
// KEYS: doc, state, versions. ARGV: doc JSON, listed, downloads, last_modified, version.
var addScript = redis.NewScript(`
if redis.call('SETNX', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[2], 'listed', ARGV[2], 'downloads', ARGV[3], 'last_modified', ARGV[4])
redis.call('ZADD', KEYS[3], 0, ARGV[5])
return 1
`)

// Add stores the document, its mutable state and its version index entry in one step
func (s *Store) Add(ctx context.Context, pkg *models.Package) (packages.AddResult, error) {
	doc, err := json.Marshal(pkg)
	if err != nil {
		return packages.AddAlreadyExists, fmt.Errorf("failed to encode package: %w", err)
	}

	keys := []string{
		s.docKey(pkg.ID, pkg.Version),
		s.stateKey(pkg.ID, pkg.Version),
		s.versionsKey(pkg.ID),
	}
	created, err := addScript.Run(ctx, s.rdb, keys,
		doc,
		boolString(pkg.Listed),
		pkg.Downloads,
		pkg.LastModified.UTC().Format(time.RFC3339Nano),
		strings.ToLower(pkg.Version),
	).Int()
	if err != nil {
		return packages.AddAlreadyExists, fmt.Errorf("failed to add package: %w", err)
	}
	if created == 0 {
		return packages.AddAlreadyExists, nil
	}
	return packages.AddSuccess, nil
}

// ExistsByID reports whether any version of id exists
func (s *Store) ExistsByID(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.ZCard(ctx, s.versionsKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check package existence: %w", err)
	}
	return n > 0, nil
}

// ExistsByIDVersion reports whether the exact version exists
func (s *Store) ExistsByIDVersion(ctx context.Context, id, version string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.docKey(id, version)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check package existence: %w", err)
	}
	return n > 0, nil
}

// Find loads every version of id in pages of pageSize keys
func (s *Store) Find(ctx context.Context, id string, includeUnlisted bool) ([]*models.Package, error) {
	versions, err := s.rdb.ZRange(ctx, s.versionsKey(id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list package versions: %w", err)
	}

	result := []*models.Package{}
	for start := 0; start < len(versions); start += s.pageSize {
		end := start + s.pageSize
		if end > len(versions) {
			end = len(versions)
		}
		page, err := s.load(ctx, id, versions[start:end])
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			if includeUnlisted || p.Listed {
				result = append(result, p)
			}
		}
	}

	packages.Sort(result)
	return result, nil
}

// FindOne loads a single version
func (s *Store) FindOne(ctx context.Context, id, version string, includeUnlisted bool) (*models.Package, error) {
	page, err := s.load(ctx, id, []string{version})
	if err != nil {
		return nil, err
	}
	if len(page) == 0 || (!includeUnlisted && !page[0].Listed) {
		return nil, packages.ErrNotFound
	}
	return page[0], nil
}

// load fetches documents and state hashes for the given versions in one round trip.
// Versions whose document is missing are skipped.
func (s *Store) load(ctx context.Context, id string, versions []string) ([]*models.Package, error) {
	docKeys := make([]string, len(versions))
	for i, v := range versions {
		docKeys[i] = s.docKey(id, v)
	}

	pipe := s.rdb.Pipeline()
	docsCmd := pipe.MGet(ctx, docKeys...)
	stateCmds := make([]*redis.MapStringStringCmd, len(versions))
	for i, v := range versions {
		stateCmds[i] = pipe.HGetAll(ctx, s.stateKey(id, v))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}

	docs, err := docsCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}

	result := make([]*models.Package, 0, len(versions))
	for i, raw := range docs {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var pkg models.Package
		if err := json.Unmarshal([]byte(str), &pkg); err != nil {
			return nil, fmt.Errorf("failed to decode package %s: %w", docKeys[i], err)
		}
		applyState(&pkg, stateCmds[i].Val())
		result = append(result, &pkg)
	}
	return result, nil
}

func applyState(pkg *models.Package, state map[string]string) {
	if v, ok := state[fieldListed]; ok {
		pkg.Listed = v == "1"
	}
	if v, ok := state[fieldDownloads]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			pkg.Downloads = n
		}
	}
	if v, ok := state[fieldLastModified]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			pkg.LastModified = t
		}
	}
}

// AddDownload increments the download counter of an existing version
func (s *Store) AddDownload(ctx context.Context, id, version string) error {
	ok, err := s.ExistsByIDVersion(ctx, id, version)
	if err != nil || !ok {
		return err
	}
	if err := s.rdb.HIncrBy(ctx, s.stateKey(id, version), fieldDownloads, 1).Err(); err != nil {
		return fmt.Errorf("failed to increment downloads: %w", err)
	}
	return nil
}

// Unlist hides a version from search and listing
func (s *Store) Unlist(ctx context.Context, id, version string) (bool, error) {
	return s.setListed(ctx, id, version, false)
}

// Relist makes a version visible again
func (s *Store) Relist(ctx context.Context, id, version string) (bool, error) {
	return s.setListed(ctx, id, version, true)
}

func (s *Store) setListed(ctx context.Context, id, version string, listed bool) (bool, error) {
	ok, err := s.ExistsByIDVersion(ctx, id, version)
	if err != nil || !ok {
		return false, err
	}
	err = s.rdb.HSet(ctx, s.stateKey(id, version),
		fieldListed, boolString(listed),
		fieldLastModified, s.now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return false, fmt.Errorf("failed to update listing: %w", err)
	}
	return true, nil
}

// HardDelete removes the document, its state and its version index entry
func (s *Store) HardDelete(ctx context.Context, id, version string) (bool, error) {
	var delCmd *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, s.docKey(id, version))
		pipe.Del(ctx, s.stateKey(id, version))
		pipe.ZRem(ctx, s.versionsKey(id), strings.ToLower(version))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete package: %w", err)
	}
	return delCmd.Val() > 0, nil
}

func boolString(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
