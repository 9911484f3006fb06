package polygon

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const squareGeometry = `{"type":"Polygon","coordinates":[[[0,0],[0.01,0],[0.01,0.01],[0,0.01],[0,0]]]}`

func TestParse_BareGeometry(t *testing.T) {
	p, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	poly, ok := p.Geom().(*geom.Polygon)
	require.True(t, ok)
	assert.Equal(t, SRID, poly.SRID())
	assert.Equal(t, 1, poly.NumLinearRings())
}

func TestParse_Feature(t *testing.T) {
	raw := `{"type":"Feature","properties":{"name":"site"},"geometry":` + squareGeometry + `}`
	p, err := Parse([]byte(raw))
	require.NoError(t, err)
	_, ok := p.Geom().(*geom.Polygon)
	assert.True(t, ok)
}

func TestParse_MultiPolygon(t *testing.T) {
	raw := `{"type":"MultiPolygon","coordinates":[
		[[[0,0],[1,0],[1,1],[0,1],[0,0]]],
		[[[2,2],[3,2],[3,3],[2,3],[2,2]]]
	]}`
	p, err := Parse([]byte(raw))
	require.NoError(t, err)

	mp, ok := p.Geom().(*geom.MultiPolygon)
	require.True(t, ok)
	assert.Equal(t, 2, mp.NumPolygons())
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		msg  string
	}{
		{"empty", ``, "polygon is required"},
		{"null", `null`, "polygon is required"},
		{"not json", `{not json`, "decode geojson"},
		{"missing type", `{"coordinates":[]}`, "type is missing"},
		{"feature without geometry", `{"type":"Feature","geometry":null}`, "feature has no geometry"},
		{"point", `{"type":"Point","coordinates":[0,0]}`, `unsupported geojson type "Point"`},
		{"feature with point", `{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]}}`, "unsupported geometry"},
		{"feature collection", `{"type":"FeatureCollection","features":[]}`, "unsupported geojson type"},
		{"short ring", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[0,0]]]}`, "need at least 4"},
		{"open ring", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1]]]}`, "not closed"},
		{"out of range", `{"type":"Polygon","coordinates":[[[0,0],[200,0],[200,1],[0,1],[0,0]]]}`, "outside EPSG:4326 bounds"},
		{"no rings", `{"type":"Polygon","coordinates":[]}`, ""},
		{"empty multipolygon", `{"type":"MultiPolygon","coordinates":[]}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, eris.Is(err, ErrInvalidPolygon), "expected ErrInvalidPolygon, got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestEWKB_CarriesSRID(t *testing.T) {
	p, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	data := p.EWKB()
	require.GreaterOrEqual(t, len(data), 9)
	// NDR byte order, Polygon type with the SRID flag, SRID 4326.
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x20, 0xE6, 0x10, 0x00, 0x00}, data[:9])

	g, err := ewkb.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, 4326, g.SRID())
	assert.Equal(t, p.Geom().FlatCoords(), g.FlatCoords())
}

func TestFingerprint_StableAcrossEncodings(t *testing.T) {
	a, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)
	b, err := Parse([]byte(`{"type":"Feature","properties":{},"geometry":` + squareGeometry + `}`))
	require.NoError(t, err)
	c, err := Parse([]byte(`{"type":"Polygon","coordinates":[[[0,0],[0.02,0],[0.02,0.02],[0,0.02],[0,0]]]}`))
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Len(t, a.Fingerprint(), 64)
}

func TestMarshalJSON(t *testing.T) {
	p, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	out, err := p.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, squareGeometry, string(out))
}

func TestAreaHa_Square(t *testing.T) {
	p, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	// 0.01° x 0.01° at the equator is about 1112 m x 1112 m.
	assert.InEpsilon(t, 123.64, p.AreaHa(), 0.01)
}

func TestAreaHa_WindingIndependent(t *testing.T) {
	cw, err := Parse([]byte(`{"type":"Polygon","coordinates":[[[0,0],[0,0.01],[0.01,0.01],[0.01,0],[0,0]]]}`))
	require.NoError(t, err)
	ccw, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	assert.InDelta(t, ccw.AreaHa(), cw.AreaHa(), 0.01)
}

func TestAreaHa_HoleSubtracted(t *testing.T) {
	raw := `{"type":"Polygon","coordinates":[
		[[0,0],[0.01,0],[0.01,0.01],[0,0.01],[0,0]],
		[[0.0025,0.0025],[0.0075,0.0025],[0.0075,0.0075],[0.0025,0.0075],[0.0025,0.0025]]
	]}`
	p, err := Parse([]byte(raw))
	require.NoError(t, err)

	// The hole is a quarter of the outer ring.
	assert.InEpsilon(t, 123.64*0.75, p.AreaHa(), 0.01)
}

func TestAreaHa_DegenerateRing(t *testing.T) {
	// Collapsed ring: valid GeoJSON, zero area.
	p, err := Parse([]byte(`{"type":"Polygon","coordinates":[[[0,0],[0,0],[0,0],[0,0]]]}`))
	require.NoError(t, err)
	assert.Equal(t, 0.0, p.AreaHa())
}

func TestCheckMaxArea(t *testing.T) {
	p, err := Parse([]byte(squareGeometry))
	require.NoError(t, err)

	assert.NoError(t, p.CheckMaxArea(0))
	assert.NoError(t, p.CheckMaxArea(500))

	err = p.CheckMaxArea(100)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidPolygon))
	assert.Contains(t, err.Error(), "exceeds the 100.0 ha limit")
}
