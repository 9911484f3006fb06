package layerload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/db"
)

// ErrTableExists is returned when the target table exists and Replace is off.
var ErrTableExists = eris.New("layer table already exists")

// Options controls Load.
type Options struct {
	Schema     string
	Name       string // table name; defaults to the file's base name
	SRID       int    // SRID of the source coordinates
	GeomColumn string
	BatchSize  int
	Replace    bool
}

func (o Options) withDefaults(path string) Options {
	if o.Schema == "" {
		o.Schema = "public"
	}
	if o.Name == "" {
		base := filepath.Base(path)
		o.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if o.SRID <= 0 {
		o.SRID = 4326
	}
	if o.GeomColumn == "" {
		o.GeomColumn = "geom"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = db.DefaultBatchSize
	}
	return o
}

// Result summarizes a load.
type Result struct {
	Schema  string        `json:"schema"`
	Table   string        `json:"table"`
	Columns []string      `json:"columns"`
	Rows    int64         `json:"rows"`
	Skipped int           `json:"skipped"`
	Elapsed time.Duration `json:"elapsed"`
}

// Load reads the shapefile at path and writes it to a new table with a
// serial gid, one text column per attribute and a spatially indexed
// geometry column.
func Load(ctx context.Context, pool db.Pool, path string, opts Options) (*Result, error) {
	opts = opts.withDefaults(path)
	if len(opts.Name) > 63 || strings.ContainsRune(opts.Name, 0) {
		return nil, eris.Errorf("layerload: invalid table name %q", opts.Name)
	}

	start := time.Now()
	log := zap.L().With(
		zap.String("component", "layerload"),
		zap.String("table", opts.Schema+"."+opts.Name),
	)

	ds, err := ReadShapefile(path, opts.SRID, "gid", opts.GeomColumn)
	if err != nil {
		return nil, err
	}
	log.Info("shapefile decoded", zap.Int("records", len(ds.Rows)), zap.Int("skipped", ds.Skipped))

	table := pgx.Identifier{opts.Schema, opts.Name}
	if opts.Replace {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table.Sanitize()); err != nil {
			return nil, eris.Wrapf(err, "layerload: drop %s", opts.Name)
		}
	}

	if _, err := pool.Exec(ctx, createTableSQL(table, ds.Columns, opts.GeomColumn, opts.SRID)); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P07" {
			return nil, eris.Wrapf(ErrTableExists, "%s.%s", opts.Schema, opts.Name)
		}
		return nil, eris.Wrapf(err, "layerload: create %s", opts.Name)
	}

	cols := append(append([]string{}, ds.Columns...), opts.GeomColumn)
	n, err := db.CopyBatches(ctx, pool, table, cols, ds.Rows, opts.BatchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "layerload: load %s", opts.Name)
	}

	indexSQL := fmt.Sprintf("CREATE INDEX ON %s USING GIST (%s)", table.Sanitize(), pgx.Identifier{opts.GeomColumn}.Sanitize())
	if _, err := pool.Exec(ctx, indexSQL); err != nil {
		return nil, eris.Wrapf(err, "layerload: index %s", opts.Name)
	}
	if _, err := pool.Exec(ctx, "ANALYZE "+table.Sanitize()); err != nil {
		return nil, eris.Wrapf(err, "layerload: analyze %s", opts.Name)
	}

	res := &Result{
		Schema:  opts.Schema,
		Table:   opts.Name,
		Columns: ds.Columns,
		Rows:    n,
		Skipped: ds.Skipped,
		Elapsed: time.Since(start),
	}
	log.Info("layer loaded", zap.Int64("rows", n), zap.Duration("elapsed", res.Elapsed))
	return res, nil
}

func createTableSQL(table pgx.Identifier, columns []string, geomColumn string, srid int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (gid serial PRIMARY KEY", table.Sanitize())
	for _, c := range columns {
		fmt.Fprintf(&b, ", %s text", pgx.Identifier{c}.Sanitize())
	}
	fmt.Fprintf(&b, ", %s geometry(Geometry, %d))", pgx.Identifier{geomColumn}.Sanitize(), srid)
	return b.String()
}
