// Package polygon parses and encodes the site polygon submitted for analysis.
//
// Input is GeoJSON in EPSG:4326, either a Feature wrapping a geometry or a
// bare geometry. Only Polygon and MultiPolygon are accepted. The parsed
// polygon is carried to PostGIS as EWKB with SRID 4326.
package polygon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// SRID of every polygon handled by this package.
const SRID = 4326

// ErrInvalidPolygon is returned for input that is missing, malformed, or
// not a polygonal geometry.
var ErrInvalidPolygon = eris.New("invalid polygon")

// Polygon is a validated site polygon.
type Polygon struct {
	g    geom.T
	ewkb []byte
}

// Parse decodes a GeoJSON Feature or Geometry into a Polygon.
func Parse(raw []byte) (*Polygon, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, eris.Wrap(ErrInvalidPolygon, "polygon is required")
	}

	var probe struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, eris.Wrapf(ErrInvalidPolygon, "decode geojson: %v", err)
	}

	switch probe.Type {
	case "":
		return nil, eris.Wrap(ErrInvalidPolygon, "geojson type is missing")
	case "Feature":
		geometry := bytes.TrimSpace(probe.Geometry)
		if len(geometry) == 0 || bytes.Equal(geometry, []byte("null")) {
			return nil, eris.Wrap(ErrInvalidPolygon, "feature has no geometry")
		}
		raw = geometry
	case "Polygon", "MultiPolygon":
	default:
		return nil, eris.Wrapf(ErrInvalidPolygon, "unsupported geojson type %q", probe.Type)
	}

	var g geom.T
	if err := geojson.Unmarshal(raw, &g); err != nil {
		return nil, eris.Wrapf(ErrInvalidPolygon, "decode geometry: %v", err)
	}
	return FromGeom(g)
}

// FromGeom validates g and builds a Polygon from it. g is assumed to be in
// EPSG:4326; its SRID is set in place.
func FromGeom(g geom.T) (*Polygon, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		if err := validatePolygon(t); err != nil {
			return nil, err
		}
		g = t.SetSRID(SRID)
	case *geom.MultiPolygon:
		if t.NumPolygons() == 0 {
			return nil, eris.Wrap(ErrInvalidPolygon, "multipolygon has no polygons")
		}
		for i := 0; i < t.NumPolygons(); i++ {
			if err := validatePolygon(t.Polygon(i)); err != nil {
				return nil, err
			}
		}
		g = t.SetSRID(SRID)
	case nil:
		return nil, eris.Wrap(ErrInvalidPolygon, "geometry is empty")
	default:
		return nil, eris.Wrapf(ErrInvalidPolygon, "unsupported geometry %T", g)
	}

	data, err := ewkb.Marshal(g, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "polygon: encode EWKB")
	}
	return &Polygon{g: g, ewkb: data}, nil
}

func validatePolygon(p *geom.Polygon) error {
	if p.NumLinearRings() == 0 {
		return eris.Wrap(ErrInvalidPolygon, "polygon has no rings")
	}
	stride := p.Stride()
	for i := 0; i < p.NumLinearRings(); i++ {
		flat := p.LinearRing(i).FlatCoords()
		n := len(flat) / stride
		if n < 4 {
			return eris.Wrapf(ErrInvalidPolygon, "ring %d has %d positions, need at least 4", i, n)
		}
		for j := 0; j < n; j++ {
			lon, lat := flat[j*stride], flat[j*stride+1]
			if math.IsNaN(lon) || math.IsNaN(lat) || math.IsInf(lon, 0) || math.IsInf(lat, 0) {
				return eris.Wrapf(ErrInvalidPolygon, "ring %d has a non-finite coordinate", i)
			}
			if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
				return eris.Wrapf(ErrInvalidPolygon, "ring %d coordinate (%g, %g) is outside EPSG:4326 bounds", i, lon, lat)
			}
		}
		last := (n - 1) * stride
		if flat[0] != flat[last] || flat[1] != flat[last+1] {
			return eris.Wrapf(ErrInvalidPolygon, "ring %d is not closed", i)
		}
	}
	return nil
}

// Geom returns the underlying geometry (SRID 4326).
func (p *Polygon) Geom() geom.T { return p.g }

// EWKB returns the little-endian EWKB encoding, suitable for ST_GeomFromEWKB.
func (p *Polygon) EWKB() []byte { return p.ewkb }

// Fingerprint is a stable hex digest of the encoded geometry.
func (p *Polygon) Fingerprint() string {
	sum := sha256.Sum256(p.ewkb)
	return hex.EncodeToString(sum[:])
}

// MarshalJSON encodes the polygon as a GeoJSON geometry.
func (p *Polygon) MarshalJSON() ([]byte, error) {
	return geojson.Marshal(p.g)
}
