package overlay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/siterisk/internal/metrics"
	"github.com/sells-group/siterisk/internal/polygon"
)

const siteAreaSQL = `SELECT ST_Area(ST_GeomFromEWKB($1)::geography)`

// areaByCategorySQL clips candidates to the site in EPSG:4326, drops empty
// pieces and slivers under $2 m², and unions each category so overlapping
// features of one category are counted once. Where categories overlap each
// other, the shared area goes to the category that sorts first (NULL last),
// so the categories never sum to more than the site.
// %[1]s is the table, %[2]s the geometry column, %[3]s the group attribute.
const areaByCategorySQL = `
	WITH site AS (
		SELECT ST_GeomFromEWKB($1) AS geom
	),
	candidates AS (
		SELECT t.%[3]s::text AS category, t.%[2]s AS geom
		FROM %[1]s AS t, site
		WHERE ST_Intersects(t.%[2]s, ST_Transform(site.geom, ST_SRID(t.%[2]s)))
	),
	pieces AS (
		SELECT c.category,
		       ST_CollectionExtract(ST_Intersection(ST_Transform(c.geom, 4326), site.geom), 3) AS g
		FROM candidates AS c, site
	),
	kept AS (
		SELECT category, g
		FROM pieces
		WHERE NOT ST_IsEmpty(g) AND ST_Area(g::geography) >= $2
	),
	merged AS (
		SELECT category, ST_Union(g) AS g,
		       ROW_NUMBER() OVER (ORDER BY category NULLS LAST) AS pos
		FROM kept
		GROUP BY category
	),
	exclusive AS (
		SELECT m.category,
		       CASE WHEN earlier.g IS NULL THEN m.g ELSE ST_Difference(m.g, earlier.g) END AS g
		FROM merged AS m
		LEFT JOIN LATERAL (
			SELECT ST_Union(p.g) AS g FROM merged AS p WHERE p.pos < m.pos
		) AS earlier ON true
	)
	SELECT category, ST_Area(g::geography) AS area_m2
	FROM exclusive
	WHERE NOT ST_IsEmpty(g)`

type categoryArea struct {
	category *string
	m2       float64
}

// AreaSummary reports how much of the site falls in each value of
// groupAttribute on layer, in hectares and as a percentage of the site.
func (e *Engine) AreaSummary(ctx context.Context, poly *polygon.Polygon, layer, groupAttribute string) (*AreaSummary, error) {
	if err := e.checkPolygon(poly); err != nil {
		return nil, err
	}
	table, err := e.layerTable(layer)
	if err != nil {
		return nil, err
	}
	groupCol, err := quoteColumn("group attribute", groupAttribute)
	if err != nil {
		return nil, err
	}
	geomCol, err := quoteColumn("geometry column", e.opts.GeomColumn)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	siteM2, rows, err := e.areaByCategory(ctx, poly, table, geomCol, groupCol)
	metrics.ObserveLayerQuery("area_summary", start, err)
	if err != nil {
		lqe := e.layerError(layer, err)
		e.log().Warn("area summary failed", zap.String("layer", layer), zap.Error(err))
		return nil, lqe
	}

	summary := buildAreaSummary(siteM2, rows)
	summary.Layer = layer
	summary.GroupAttribute = groupAttribute
	return summary, nil
}

func (e *Engine) areaByCategory(ctx context.Context, poly *polygon.Polygon, table, geomCol, groupCol string) (float64, []categoryArea, error) {
	ctx, cancel := e.layerCtx(ctx)
	defer cancel()

	var siteM2 float64
	if err := e.pool.QueryRow(ctx, siteAreaSQL, poly.EWKB()).Scan(&siteM2); err != nil {
		return 0, nil, eris.Wrap(err, "overlay: site area")
	}

	sql := fmt.Sprintf(areaByCategorySQL, table, geomCol, groupCol)
	rows, err := e.pool.Query(ctx, sql, poly.EWKB(), e.opts.SliverToleranceM2)
	if err != nil {
		return 0, nil, eris.Wrap(err, "overlay: area by category")
	}
	defer rows.Close()

	var out []categoryArea
	for rows.Next() {
		var c categoryArea
		if err := rows.Scan(&c.category, &c.m2); err != nil {
			return 0, nil, eris.Wrap(err, "overlay: scan area row")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return 0, nil, eris.Wrap(err, "overlay: iterate area rows")
	}
	return siteM2, out, nil
}

// buildAreaSummary converts raw square-metre figures into the rounded,
// sorted summary. Percentages are computed from unrounded areas.
func buildAreaSummary(siteM2 float64, rows []categoryArea) *AreaSummary {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].m2 != rows[j].m2 {
			return rows[i].m2 > rows[j].m2
		}
		return categoryKey(rows[i].category) < categoryKey(rows[j].category)
	})

	siteHa := m2ToHa(siteM2)
	summary := &AreaSummary{
		TotalAreaHa: roundTo(siteHa, 2),
		ByCategory:  make([]CategoryArea, 0, len(rows)),
	}
	for _, r := range rows {
		ha := m2ToHa(r.m2)
		summary.ByCategory = append(summary.ByCategory, CategoryArea{
			Category: r.category,
			AreaHa:   roundTo(ha, 2),
			Percent:  percentOf(ha, siteHa, summary.TotalAreaHa),
		})
	}
	return summary
}

func categoryKey(c *string) string {
	if c == nil {
		return ""
	}
	return *c
}
