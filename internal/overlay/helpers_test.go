package overlay

import (
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/siterisk/internal/polygon"
)

// A small site near Banbury.
const siteGeoJSON = `{"type":"Polygon","coordinates":[[[-1.5,52.0],[-1.49,52.0],[-1.49,52.01],[-1.5,52.01],[-1.5,52.0]]]}`

func testPolygon(t *testing.T) *polygon.Polygon {
	t.Helper()
	p, err := polygon.Parse([]byte(siteGeoJSON))
	require.NoError(t, err)
	return p
}

func newMockEngine(t *testing.T, opts Options) (*Engine, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	catalog := NewCatalog(mock, "public", []string{"spatial_ref_sys"})
	catalog.retry.Base = time.Millisecond
	catalog.retry.Cap = time.Millisecond
	return New(mock, catalog, opts), mock
}

func quoted(s string) string { return regexp.QuoteMeta(s) }

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

var (
	featureCols  = []string{"properties", "geometry"}
	siteAreaExpr = quoted("SELECT ST_Area(ST_GeomFromEWKB($1)::geography)")
)
