package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/cache"
	"github.com/sells-group/siterisk/internal/config"
	"github.com/sells-group/siterisk/internal/db"
	"github.com/sells-group/siterisk/internal/overlay"
)

// openPool connects to the configured database and logs the PostGIS version.
func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Open(ctx, cfg.Store.DatabaseURL, db.PoolConfig{
		MaxConns:        cfg.Store.MaxConns,
		MinConns:        cfg.Store.MinConns,
		ApplicationName: "siterisk",
	})
	if err != nil {
		return nil, err
	}

	version, err := db.PostGISVersion(ctx, pool)
	if err != nil {
		zap.L().Warn("postgis extension not available", zap.Error(err))
	} else {
		zap.L().Debug("connected to database", zap.String("postgis", version))
	}
	return pool, nil
}

func newEngine(pool db.Pool) *overlay.Engine {
	catalog := overlay.NewCatalog(pool, cfg.Catalog.Schema, cfg.Catalog.Exclude)
	return overlay.New(pool, catalog, engineOptions(cfg))
}

func engineOptions(c *config.Config) overlay.Options {
	return overlay.Options{
		Schema:            c.Catalog.Schema,
		GeomColumn:        c.Analysis.GeomColumn,
		FeatureLimit:      c.Analysis.FeatureLimit,
		LayerTimeout:      c.Analysis.LayerTimeout,
		Concurrency:       c.Analysis.Concurrency,
		DisplaySRID:       c.Analysis.DisplaySRID,
		NameAttribute:     c.Analysis.NameAttribute,
		SliverToleranceM2: c.Analysis.SliverToleranceM2,
		MaxAreaHa:         c.Analysis.MaxAreaHa,
	}
}

// newCache builds the result cache tiers. It returns nil when caching is
// disabled. The returned func releases any client connections.
func newCache(c config.CacheConfig) (cache.Cache, func()) {
	if c.TTL <= 0 {
		return nil, func() {}
	}

	memory := cache.NewMemory(c.MaxEntries, c.TTL)
	if c.RedisAddr == "" {
		return memory, func() {}
	}

	shared, client := cache.NewRedis(cache.RedisOptions{
		Addr:      c.RedisAddr,
		Password:  c.RedisPassword,
		DB:        c.RedisDB,
		KeyPrefix: c.KeyPrefix,
		TTL:       c.TTL,
	})
	return cache.Chain{memory, shared}, func() {
		if err := client.Close(); err != nil {
			zap.L().Debug("close redis client", zap.Error(err))
		}
	}
}
