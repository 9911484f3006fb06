package overlay

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/db"
	"github.com/sells-group/siterisk/internal/resilience"
)

const listLayersSQL = `
	SELECT table_name
	FROM information_schema.tables
	WHERE table_schema = $1 AND table_type = 'BASE TABLE'
	ORDER BY table_name`

// Catalog enumerates the tables that can be analyzed.
type Catalog struct {
	pool    db.Pool
	schema  string
	exclude map[string]bool
	retry   resilience.Policy
}

// NewCatalog creates a Catalog over schema. Tables named in exclude (system
// tables such as spatial_ref_sys) are never listed.
func NewCatalog(pool db.Pool, schema string, exclude []string) *Catalog {
	if schema == "" {
		schema = "public"
	}
	ex := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		ex[name] = true
	}
	retry := resilience.DefaultPolicy()
	retry.Notify = resilience.LogRetries("overlay.catalog", "list_layers")
	return &Catalog{pool: pool, schema: schema, exclude: ex, retry: retry}
}

// Schema returns the schema the catalog reads.
func (c *Catalog) Schema() string { return c.schema }

// ListLayers returns the layer names ordered by name. Transient connection
// failures are retried; a final failure wraps ErrCatalogUnavailable.
func (c *Catalog) ListLayers(ctx context.Context) ([]string, error) {
	layers, err := resilience.Retry(ctx, c.retry, c.listLayers)
	if err != nil {
		zap.L().Error("catalog: list layers failed",
			zap.String("component", "overlay.catalog"),
			zap.String("schema", c.schema),
			zap.Error(err),
		)
		return nil, eris.Wrapf(ErrCatalogUnavailable, "list layers in schema %q: %v", c.schema, err)
	}
	return layers, nil
}

func (c *Catalog) listLayers(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, listLayersSQL, c.schema)
	if err != nil {
		return nil, eris.Wrap(err, "catalog: query tables")
	}
	defer rows.Close()

	layers := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "catalog: scan table row")
		}
		if c.exclude[name] {
			continue
		}
		layers = append(layers, name)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "catalog: iterate table rows")
	}
	return layers, nil
}

// LayerInfo describes one layer's storage.
type LayerInfo struct {
	Name            string `json:"name"`
	Schema          string `json:"schema"`
	GeomColumn      string `json:"geom_column,omitempty"`
	SRID            int    `json:"srid,omitempty"`
	GeometryType    string `json:"geometry_type,omitempty"`
	RowCount        int64  `json:"row_count"`
	TotalSize       string `json:"total_size"`
	IndexSize       string `json:"index_size"`
	HasSpatialIndex bool   `json:"has_spatial_index"`
}

const describeTableSQL = `
	SELECT pg_size_pretty(pg_total_relation_size(c.oid)),
	       pg_size_pretty(pg_indexes_size(c.oid))
	FROM pg_class c
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')`

// Prefer the configured geometry column when a table has several.
const describeGeometrySQL = `
	SELECT f_geometry_column, srid, type
	FROM geometry_columns
	WHERE f_table_schema = $1 AND f_table_name = $2
	ORDER BY (f_geometry_column = $3) DESC, f_geometry_column
	LIMIT 1`

const spatialIndexSQL = `
	SELECT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = $1 AND tablename = $2 AND indexdef ILIKE '%USING gist%'
	)`

// Describe reports geometry metadata, row count and size for one layer.
// geomColumn is the preferred geometry column name.
func (c *Catalog) Describe(ctx context.Context, layer, geomColumn string) (*LayerInfo, error) {
	if err := checkIdentifier("layer", layer); err != nil {
		return nil, err
	}
	if c.exclude[layer] {
		return nil, eris.Wrapf(ErrLayerNotFound, "layer %q", layer)
	}

	info := &LayerInfo{Name: layer, Schema: c.schema}

	err := c.pool.QueryRow(ctx, describeTableSQL, c.schema, layer).Scan(&info.TotalSize, &info.IndexSize)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrLayerNotFound, "layer %q", layer)
		}
		return nil, eris.Wrapf(err, "catalog: describe %s", layer)
	}

	var srid int32
	err = c.pool.QueryRow(ctx, describeGeometrySQL, c.schema, layer, geomColumn).
		Scan(&info.GeomColumn, &srid, &info.GeometryType)
	if err != nil && !eris.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(err, "catalog: geometry columns for %s", layer)
	}
	info.SRID = int(srid)

	if err := c.pool.QueryRow(ctx, spatialIndexSQL, c.schema, layer).Scan(&info.HasSpatialIndex); err != nil {
		return nil, eris.Wrapf(err, "catalog: spatial index for %s", layer)
	}

	countSQL := "SELECT COUNT(*) FROM " + pgx.Identifier{c.schema, layer}.Sanitize()
	if err := c.pool.QueryRow(ctx, countSQL).Scan(&info.RowCount); err != nil {
		return nil, eris.Wrapf(err, "catalog: count rows in %s", layer)
	}

	return info, nil
}
