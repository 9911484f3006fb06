package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/metrics"
	"github.com/sells-group/siterisk/internal/polygon"
)

// overlaySQL matches features against the site. The polygon is moved into
// the layer's SRID so the predicate can use the layer's spatial index.
// $2 is one more than the feature limit so truncation can be detected.
// %[1]s is the table, %[2]s the geometry column.
const overlaySQL = `
	SELECT to_jsonb(t) - $3::text AS properties,
	       ST_AsGeoJSON(ST_Transform(t.%[2]s, $4::integer)) AS geometry
	FROM %[1]s AS t
	WHERE ST_Intersects(t.%[2]s, ST_Transform(ST_GeomFromEWKB($1), ST_SRID(t.%[2]s)))
	LIMIT $2`

// Overlay intersects poly with one layer. It never returns an error: any
// failure is reported in LayerResult.Error.
func (e *Engine) Overlay(ctx context.Context, poly *polygon.Polygon, layer string) LayerResult {
	start := time.Now()
	features, err := e.overlay(ctx, poly, layer)
	metrics.ObserveLayerQuery("overlay", start, err)
	truncated := len(features) > e.opts.FeatureLimit
	if truncated {
		features = features[:e.opts.FeatureLimit]
	}

	if err != nil {
		lqe := e.layerError(layer, err)
		e.log().Warn("layer query failed",
			zap.String("layer", layer),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return LayerResult{Features: []Feature{}, Error: lqe.Message()}
	}

	e.log().Debug("layer query complete",
		zap.String("layer", layer),
		zap.Int("features", len(features)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return LayerResult{
		Count:     len(features),
		Features:  features,
		Truncated: truncated,
	}
}

func (e *Engine) overlay(ctx context.Context, poly *polygon.Polygon, layer string) ([]Feature, error) {
	if poly == nil {
		return nil, eris.Wrap(ErrInvalidPolygon, "polygon is required")
	}
	table, err := e.layerTable(layer)
	if err != nil {
		return nil, err
	}
	geomCol, err := quoteColumn("geometry column", e.opts.GeomColumn)
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.layerCtx(ctx)
	defer cancel()

	sql := fmt.Sprintf(overlaySQL, table, geomCol)
	rows, err := e.pool.Query(ctx, sql, poly.EWKB(), e.opts.FeatureLimit+1, e.opts.GeomColumn, e.opts.DisplaySRID)
	if err != nil {
		return nil, eris.Wrapf(err, "overlay: query %s", layer)
	}
	defer rows.Close()

	features := []Feature{}
	for rows.Next() {
		var props []byte
		var geometry string
		if err := rows.Scan(&props, &geometry); err != nil {
			return nil, eris.Wrapf(err, "overlay: scan %s row", layer)
		}
		f, err := decodeFeature(props, geometry)
		if err != nil {
			return nil, eris.Wrapf(err, "overlay: decode %s row", layer)
		}
		features = append(features, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "overlay: iterate %s rows", layer)
	}
	return features, nil
}

func decodeFeature(props []byte, geometry string) (Feature, error) {
	f := Feature{Type: "Feature", Properties: map[string]any{}}
	if len(props) > 0 {
		dec := json.NewDecoder(bytes.NewReader(props))
		dec.UseNumber()
		if err := dec.Decode(&f.Properties); err != nil {
			return Feature{}, err
		}
		if f.Properties == nil {
			f.Properties = map[string]any{}
		}
	}
	if geometry == "" {
		f.Geometry = json.RawMessage("null")
	} else {
		f.Geometry = json.RawMessage(geometry)
	}
	return f, nil
}
