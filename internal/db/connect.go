package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// PoolConfig sizes the connection pool. Zero values use the defaults.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

// Open creates a pgx pool for dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	pgxCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: parse config")
	}
	configure(pgxCfg, cfg)

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "db: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "db: ping")
	}
	return pool, nil
}

func configure(pgxCfg *pgxpool.Config, cfg PoolConfig) {
	maxConns := int32(10)
	minConns := int32(2)
	if cfg.MaxConns > 0 {
		maxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		minConns = cfg.MinConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	if cfg.ApplicationName != "" {
		pgxCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
}

// PostGISVersion returns the server's PostGIS version string. It fails when
// the extension is not installed.
func PostGISVersion(ctx context.Context, pool Pool) (string, error) {
	var version string
	if err := pool.QueryRow(ctx, "SELECT postgis_lib_version()").Scan(&version); err != nil {
		return "", eris.Wrap(err, "db: postgis version")
	}
	return version, nil
}
