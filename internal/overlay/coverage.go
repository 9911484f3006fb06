package overlay

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/siterisk/internal/metrics"
	"github.com/sells-group/siterisk/internal/polygon"
)

// layerCoverageSQL returns the covered area and the covered geometry so the
// caller can union several layers without double counting overlaps. The
// aggregate always yields one row; both columns are NULL-safe.
const layerCoverageSQL = `
	WITH site AS (
		SELECT ST_GeomFromEWKB($1) AS geom
	),
	covered AS (
		SELECT ST_Union(ST_CollectionExtract(ST_Intersection(ST_Transform(t.%[2]s, 4326), site.geom), 3)) AS g
		FROM %[1]s AS t, site
		WHERE ST_Intersects(t.%[2]s, ST_Transform(site.geom, ST_SRID(t.%[2]s)))
	)
	SELECT COALESCE(ST_Area(g::geography), 0), ST_AsEWKB(g)
	FROM covered`

const unionAreaSQL = `
	SELECT COALESCE(ST_Area(ST_Union(ST_GeomFromEWKB(b))::geography), 0)
	FROM unnest($1::bytea[]) AS b`

type layerCover struct {
	m2   float64
	ewkb []byte
	err  error
}

// Coverage reports how much of the site is covered by any of layers.
// Layers are queried concurrently and fail independently.
func (e *Engine) Coverage(ctx context.Context, poly *polygon.Polygon, layers []string) (*CoverageSummary, error) {
	if err := e.checkPolygon(poly); err != nil {
		return nil, err
	}
	layers = dedupe(layers)
	if len(layers) == 0 {
		return nil, eris.Wrap(ErrInvalidArgument, "at least one layer is required")
	}

	var siteM2 float64
	if err := e.pool.QueryRow(ctx, siteAreaSQL, poly.EWKB()).Scan(&siteM2); err != nil {
		return nil, eris.Wrap(err, "overlay: site area")
	}

	covers := make([]layerCover, len(layers))
	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)
	for i, layer := range layers {
		g.Go(func() error {
			start := time.Now()
			m2, data, err := e.layerCoverage(ctx, poly, layer)
			metrics.ObserveLayerQuery("coverage", start, err)
			if err != nil {
				e.log().Warn("coverage layer failed", zap.String("layer", layer), zap.Error(err))
			}
			covers[i] = layerCover{m2: m2, ewkb: data, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "overlay: coverage cancelled")
	}

	siteHa := m2ToHa(siteM2)
	summary := &CoverageSummary{
		TotalAreaHa: roundTo(siteHa, 2),
		ByLayer:     make([]LayerCoverage, len(layers)),
	}

	var pieces [][]byte
	var singleM2 float64
	for i, c := range covers {
		lc := LayerCoverage{Layer: layers[i]}
		if c.err != nil {
			lc.Error = e.layerError(layers[i], c.err).Message()
		} else {
			ha := m2ToHa(c.m2)
			lc.AreaHa = roundTo(ha, 2)
			lc.Percent = percentOf(ha, siteHa, summary.TotalAreaHa)
			if len(c.ewkb) > 0 {
				pieces = append(pieces, c.ewkb)
				singleM2 = c.m2
			}
		}
		summary.ByLayer[i] = lc
	}

	coveredM2, err := e.unionArea(ctx, pieces, singleM2)
	if err != nil {
		return nil, err
	}
	coveredHa := m2ToHa(coveredM2)
	summary.CoveredAreaHa = roundTo(coveredHa, 2)
	summary.Percent = percentOf(coveredHa, siteHa, summary.TotalAreaHa)
	return summary, nil
}

func (e *Engine) layerCoverage(ctx context.Context, poly *polygon.Polygon, layer string) (float64, []byte, error) {
	table, err := e.layerTable(layer)
	if err != nil {
		return 0, nil, err
	}
	geomCol, err := quoteColumn("geometry column", e.opts.GeomColumn)
	if err != nil {
		return 0, nil, err
	}

	ctx, cancel := e.layerCtx(ctx)
	defer cancel()

	var m2 float64
	var data []byte
	sql := fmt.Sprintf(layerCoverageSQL, table, geomCol)
	if err := e.pool.QueryRow(ctx, sql, poly.EWKB()).Scan(&m2, &data); err != nil {
		return 0, nil, eris.Wrapf(err, "overlay: coverage of %s", layer)
	}
	return m2, data, nil
}

// unionArea measures the union of the covered pieces. With zero or one
// piece no query is needed.
func (e *Engine) unionArea(ctx context.Context, pieces [][]byte, singleM2 float64) (float64, error) {
	switch len(pieces) {
	case 0:
		return 0, nil
	case 1:
		return singleM2, nil
	}

	ctx, cancel := e.layerCtx(ctx)
	defer cancel()

	var m2 float64
	if err := e.pool.QueryRow(ctx, unionAreaSQL, pieces).Scan(&m2); err != nil {
		return 0, eris.Wrap(err, "overlay: union coverage")
	}
	return m2, nil
}
