package database

import (
	"fmt"
	"os"
	"path/filepath"

	"carphoto/internal/carphoto"
	"carphoto/internal/config"
)

// CacheFile is the cache database file name inside the data directory.
const CacheFile = "cache.db"

// NewCacheFromConfig creates a Cache implementation based on the database config type.
func NewCacheFromConfig(cfg config.DatabaseConfig) (carphoto.Cache, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLiteCache(filepath.Join(cfg.DataDir, CacheFile))
	case "memory":
		return NewSQLiteCache(":memory:")
	case "none", "":
		return carphoto.NopCache{}, nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
