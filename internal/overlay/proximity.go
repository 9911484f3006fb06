package overlay

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/metrics"
	"github.com/sells-group/siterisk/internal/polygon"
)

// Distances are geodesic, measured from each feature to the site polygon;
// a feature inside the site is at distance 0.
// %[1]s is the table, %[2]s the geometry column, %[3]s the name attribute.
const (
	withinDistanceSQL = `
	WITH site AS (
		SELECT ST_GeomFromEWKB($1)::geography AS geog
	)
	SELECT COUNT(*)
	FROM %[1]s AS t, site
	WHERE ST_DWithin(ST_Transform(t.%[2]s, 4326)::geography, site.geog, $2)`

	nearestFeatureSQL = `
	WITH site AS (
		SELECT ST_GeomFromEWKB($1)::geography AS geog
	)
	SELECT COALESCE(t.%[3]s::text, '') AS name,
	       ST_Distance(ST_Transform(t.%[2]s, 4326)::geography, site.geog) AS distance_m
	FROM %[1]s AS t, site
	ORDER BY distance_m
	LIMIT 1`
)

// Proximity counts features on layer within distanceM metres of the site and
// finds the nearest one. An empty nameAttribute uses Options.NameAttribute.
func (e *Engine) Proximity(ctx context.Context, poly *polygon.Polygon, layer string, distanceM float64, nameAttribute string) (*ProximitySummary, error) {
	if err := e.checkPolygon(poly); err != nil {
		return nil, err
	}
	if math.IsNaN(distanceM) || math.IsInf(distanceM, 0) || distanceM < 0 {
		return nil, eris.Wrapf(ErrInvalidArgument, "distance must be a non-negative number of metres, got %v", distanceM)
	}
	if nameAttribute == "" {
		nameAttribute = e.opts.NameAttribute
	}
	table, err := e.layerTable(layer)
	if err != nil {
		return nil, err
	}
	nameCol, err := quoteColumn("name attribute", nameAttribute)
	if err != nil {
		return nil, err
	}
	geomCol, err := quoteColumn("geometry column", e.opts.GeomColumn)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary, err := e.proximity(ctx, poly, table, geomCol, nameCol, distanceM)
	metrics.ObserveLayerQuery("proximity", start, err)
	if err != nil {
		e.log().Warn("proximity failed", zap.String("layer", layer), zap.Error(err))
		return nil, e.layerError(layer, err)
	}
	summary.Layer = layer
	summary.DistanceM = distanceM
	return summary, nil
}

func (e *Engine) proximity(ctx context.Context, poly *polygon.Polygon, table, geomCol, nameCol string, distanceM float64) (*ProximitySummary, error) {
	ctx, cancel := e.layerCtx(ctx)
	defer cancel()

	summary := &ProximitySummary{}

	countSQL := fmt.Sprintf(withinDistanceSQL, table, geomCol)
	if err := e.pool.QueryRow(ctx, countSQL, poly.EWKB(), distanceM).Scan(&summary.WithinDistance); err != nil {
		return nil, eris.Wrap(err, "overlay: count within distance")
	}

	var name string
	var distM float64
	nearestSQL := fmt.Sprintf(nearestFeatureSQL, table, geomCol, nameCol)
	err := e.pool.QueryRow(ctx, nearestSQL, poly.EWKB()).Scan(&name, &distM)
	switch {
	case eris.Is(err, pgx.ErrNoRows):
		// empty layer
	case err != nil:
		return nil, eris.Wrap(err, "overlay: nearest feature")
	default:
		summary.Nearest = &Nearest{Name: name, DistanceKm: roundTo(distM/1000, 2)}
	}
	return summary, nil
}
