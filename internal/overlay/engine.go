// Package overlay intersects a site polygon with PostGIS layers and derives
// area and proximity summaries from the matches.
//
// Every layer is queried independently: a failing layer never aborts the
// others, and results come back in the order the layers were requested.
// The engine holds no per-request state; everything a call needs is passed in.
package overlay

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/db"
	"github.com/sells-group/siterisk/internal/polygon"
)

// maxIdentifierLen is PostgreSQL's NAMEDATALEN - 1.
const maxIdentifierLen = 63

// Options tunes query behavior.
type Options struct {
	Schema            string
	GeomColumn        string
	FeatureLimit      int
	LayerTimeout      time.Duration
	Concurrency       int
	DisplaySRID       int
	NameAttribute     string
	SliverToleranceM2 float64
	MaxAreaHa         float64
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		Schema:        "public",
		GeomColumn:    "geom",
		FeatureLimit:  100,
		LayerTimeout:  15 * time.Second,
		Concurrency:   8,
		DisplaySRID:   4326,
		NameAttribute: "name",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Schema == "" {
		o.Schema = def.Schema
	}
	if o.GeomColumn == "" {
		o.GeomColumn = def.GeomColumn
	}
	if o.FeatureLimit <= 0 {
		o.FeatureLimit = def.FeatureLimit
	}
	if o.LayerTimeout <= 0 {
		o.LayerTimeout = def.LayerTimeout
	}
	if o.Concurrency <= 0 {
		o.Concurrency = def.Concurrency
	}
	if o.DisplaySRID <= 0 {
		o.DisplaySRID = def.DisplaySRID
	}
	if o.NameAttribute == "" {
		o.NameAttribute = def.NameAttribute
	}
	if o.SliverToleranceM2 < 0 {
		o.SliverToleranceM2 = 0
	}
	return o
}

// Engine runs overlay and summary queries against a PostGIS pool.
type Engine struct {
	pool    db.Pool
	catalog *Catalog
	opts    Options
}

// New creates an Engine. Zero-valued options fall back to DefaultOptions.
func New(pool db.Pool, catalog *Catalog, opts Options) *Engine {
	return &Engine{pool: pool, catalog: catalog, opts: opts.withDefaults()}
}

// Catalog returns the engine's layer catalog.
func (e *Engine) Catalog() *Catalog { return e.catalog }

// Options returns the effective options.
func (e *Engine) Options() Options { return e.opts }

// ListLayers returns the catalog's layer names.
func (e *Engine) ListLayers(ctx context.Context) ([]string, error) {
	return e.catalog.ListLayers(ctx)
}

// DescribeLayer reports metadata for one layer using the configured
// geometry column.
func (e *Engine) DescribeLayer(ctx context.Context, layer string) (*LayerInfo, error) {
	return e.catalog.Describe(ctx, layer, e.opts.GeomColumn)
}

func (e *Engine) log() *zap.Logger {
	return zap.L().With(zap.String("component", "overlay"))
}

func (e *Engine) checkPolygon(p *polygon.Polygon) error {
	if p == nil {
		return eris.Wrap(ErrInvalidPolygon, "polygon is required")
	}
	return p.CheckMaxArea(e.opts.MaxAreaHa)
}

// layerTable returns the quoted, schema-qualified table for layer.
func (e *Engine) layerTable(layer string) (string, error) {
	if err := checkIdentifier("layer", layer); err != nil {
		return "", err
	}
	return pgx.Identifier{e.opts.Schema, layer}.Sanitize(), nil
}

// quoteColumn returns the quoted column name.
func quoteColumn(kind, name string) (string, error) {
	if err := checkIdentifier(kind, name); err != nil {
		return "", err
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

func checkIdentifier(kind, name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return eris.Wrapf(ErrInvalidArgument, "%s name is required", kind)
	case len(name) > maxIdentifierLen:
		return eris.Wrapf(ErrInvalidArgument, "%s name %q is longer than %d bytes", kind, name, maxIdentifierLen)
	case strings.ContainsRune(name, 0):
		return eris.Wrapf(ErrInvalidArgument, "%s name contains a NUL byte", kind)
	}
	return nil
}

// dedupe drops blank and repeated names, keeping first occurrences.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// roundTo rounds half away from zero on the shortest decimal form of v, so
// 2.675 becomes 2.68 the way NUMERIC rounding does.
func roundTo(v float64, places int) float64 {
	if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(v, 'e', -1, 64), "e")
	e, err := strconv.Atoi(exp)
	if err != nil {
		p := math.Pow10(places)
		return math.Round(v*p) / p
	}
	shifted, err := strconv.ParseFloat(mant+"e"+strconv.Itoa(e+places), 64)
	if err != nil {
		p := math.Pow10(places)
		return math.Round(v*p) / p
	}
	return math.Round(shifted) / math.Pow10(places)
}

// percentOf returns part/total*100 rounded to one decimal, or nil when the
// reported total is zero.
func percentOf(part, total, reportedTotal float64) *float64 {
	if reportedTotal == 0 || total == 0 {
		return nil
	}
	p := roundTo(part/total*100, 1)
	return &p
}

func m2ToHa(m2 float64) float64 { return m2 / 10000 }

// layerCtx bounds one layer query by the configured timeout.
func (e *Engine) layerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.opts.LayerTimeout)
}

func (e *Engine) layerError(layer string, err error) *LayerQueryError {
	return &LayerQueryError{Layer: layer, Err: err, Timeout: e.opts.LayerTimeout}
}
