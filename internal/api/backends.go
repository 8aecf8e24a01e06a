package api

import (
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/nuget-registry/nuget-registry/internal/audit"
	"github.com/nuget-registry/nuget-registry/internal/config"
	"github.com/nuget-registry/nuget-registry/internal/db/repositories"
	"github.com/nuget-registry/nuget-registry/internal/packages"
	pkgmemory "github.com/nuget-registry/nuget-registry/internal/packages/memory"
	"github.com/nuget-registry/nuget-registry/internal/packages/redisstore"
	"github.com/nuget-registry/nuget-registry/internal/search"
	searchmemory "github.com/nuget-registry/nuget-registry/internal/search/memory"
	"github.com/nuget-registry/nuget-registry/internal/search/redisindex"
	"github.com/nuget-registry/nuget-registry/internal/storage"

	// Import storage backends to register them
	_ "github.com/nuget-registry/nuget-registry/internal/storage/azure"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/gcs"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/local"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/memory"
	_ "github.com/nuget-registry/nuget-registry/internal/storage/s3"
)

// Backends holds the content store, metadata store and search backend selected
// at startup. They never change for the life of the process.
type Backends struct {
	Storage  storage.Storage
	Packages packages.Database
	Search   search.Backend
	// SearchIndexer is nil when search queries the metadata store directly
	SearchIndexer search.Indexer
	SearchName    string

	// DB and Redis are nil when no configured backend needs them
	DB    *sqlx.DB
	Redis *redis.Client

	// Audit is nil when no audit destination is configured
	Audit *audit.MultiShipper
}

// NewBackends builds the backends named in cfg. db must be non-nil when
// cfg.UsesPostgres() and rdb when cfg.UsesRedis().
func NewBackends(cfg *config.Config, db *sqlx.DB, rdb *redis.Client) (*Backends, error) {
	store, err := storage.NewStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	b := &Backends{Storage: store, DB: db, Redis: rdb, SearchName: cfg.Search.Backend}

	var memDB *pkgmemory.Database
	switch cfg.Metadata.Backend {
	case "postgres":
		if db == nil {
			return nil, fmt.Errorf("metadata backend postgres requires a database connection")
		}
		b.Packages = repositories.NewPackageRepository(db, cfg.Metadata.PageSize)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("metadata backend redis requires a redis client")
		}
		b.Packages = redisstore.New(rdb, cfg.Redis.KeyPrefix, cfg.Metadata.PageSize)
	case "memory":
		memDB = pkgmemory.New()
		b.Packages = memDB
	default:
		return nil, fmt.Errorf("unsupported metadata backend: %s", cfg.Metadata.Backend)
	}

	switch cfg.Search.Backend {
	case "database":
		if db == nil {
			return nil, fmt.Errorf("search backend database requires a database connection")
		}
		b.Search = repositories.NewPackageSearchRepository(db)
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("search backend redis requires a redis client")
		}
		index := redisindex.New(rdb, b.Packages, cfg.Redis.KeyPrefix)
		b.Search = index
		b.SearchIndexer = index
	case "memory":
		if memDB == nil {
			return nil, fmt.Errorf("search backend memory requires metadata backend memory")
		}
		b.Search = searchmemory.New(memDB)
	default:
		return nil, fmt.Errorf("unsupported search backend: %s", cfg.Search.Backend)
	}

	if cfg.Audit.Enabled() {
		shipper, err := audit.NewMultiShipper(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit shipper: %w", err)
		}
		b.Audit = shipper
	}

	slog.Info("backends initialized",
		"storage", cfg.Storage.DefaultBackend,
		"metadata", cfg.Metadata.Backend,
		"search", cfg.Search.Backend,
		"audit", b.Audit != nil)
	return b, nil
}
