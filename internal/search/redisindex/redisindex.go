// Package redisindex implements a search index on a Redis sorted set of lowercase
// package ids. All members share score 0, so ZRANGEBYLEX turns the prefix filter into a
// single range scan. Package documents are hydrated from the metadata store.
package redisindex

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	"github.com/nuget-registry/nuget-registry/internal/search"
)

// Index implements search.Backend and search.Indexer
type Index struct {
	rdb redis.UniversalClient
	db  packages.Database
	key string
}

var (
	_ search.Backend = (*Index)(nil)
	_ search.Indexer = (*Index)(nil)
)

// New creates a Redis search index. db is used to load the versions of matched ids.
func New(rdb redis.UniversalClient, db packages.Database, prefix string) *Index {
	return &Index{rdb: rdb, db: db, key: prefix + "search:ids"}
}

// Index adds the package id to the index
func (x *Index) Index(ctx context.Context, pkg *models.Package) error {
	if err := x.rdb.ZAdd(ctx, x.key, redis.Z{Score: 0, Member: strings.ToLower(pkg.ID)}).Err(); err != nil {
		return fmt.Errorf("failed to index package %s: %w", pkg.ID, err)
	}
	return nil
}

// Remove drops the id once no version of it remains in the metadata store
func (x *Index) Remove(ctx context.Context, id, version string) error {
	exists, err := x.db.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	if err := x.rdb.ZRem(ctx, x.key, strings.ToLower(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove package %s from index: %w", id, err)
	}
	return nil
}

// Candidates scans ids in the filter's lexical range and loads their listed versions
func (x *Index) Candidates(ctx context.Context, f search.Filter, limit int) ([]*models.Package, error) {
	min, max := "-", "+"
	if f.HasPrefix() {
		min, max = "["+f.Prefix, "("+f.UpperBound()
	}

	ids, err := x.rdb.ZRangeByLex(ctx, x.key, &redis.ZRangeBy{
		Min:   min,
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan search index: %w", err)
	}

	var result []*models.Package
	for _, id := range ids {
		versions, err := x.db.Find(ctx, id, false)
		if err != nil {
			return nil, err
		}
		for _, p := range versions {
			if f.Matches(p) {
				result = append(result, p)
			}
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].LastModified.After(result[j].LastModified)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
