package layerload

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"
)

// EncodeShape converts a shapefile record to little-endian EWKB tagged with
// srid. Z and M values are dropped. It returns nil, nil for null or
// unsupported shapes.
func EncodeShape(shape shp.Shape, srid int) ([]byte, error) {
	var g geom.T

	switch s := shape.(type) {
	case *shp.Point:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		g = geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		g = multiPoint(s.Points)
	case *shp.PolyLine:
		g = multiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		g = multiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		g = multiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		g = multiPolygon(s.Parts, s.Points)
	default:
		return nil, nil
	}
	if g == nil {
		return nil, nil
	}

	data, err := ewkb.Marshal(withSRID(g, srid), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "layerload: encode EWKB")
	}
	return data, nil
}

func withSRID(g geom.T, srid int) geom.T {
	switch t := g.(type) {
	case *geom.Point:
		return t.SetSRID(srid)
	case *geom.MultiPoint:
		return t.SetSRID(srid)
	case *geom.MultiLineString:
		return t.SetSRID(srid)
	case *geom.MultiPolygon:
		return t.SetSRID(srid)
	}
	return g
}

func multiPoint(points []shp.Point) geom.T {
	if len(points) == 0 {
		return nil
	}
	return geom.NewMultiPointFlat(geom.XY, flatPoints(points))
}

func multiLineString(parts []int32, points []shp.Point) geom.T {
	mls := geom.NewMultiLineString(geom.XY)
	for i, pts := range splitParts(parts, points) {
		if len(pts) < 2 {
			zap.L().Debug("layerload: skipping short linestring part", zap.Int("part", i))
			continue
		}
		if err := mls.Push(geom.NewLineStringFlat(geom.XY, flatPoints(pts))); err != nil {
			zap.L().Debug("layerload: skipping malformed linestring part", zap.Int("part", i), zap.Error(err))
		}
	}
	if mls.NumLineStrings() == 0 {
		return nil
	}
	return mls
}

// multiPolygon groups rings into polygons. Rings wound the same way as the
// first ring are exteriors; rings wound the other way are holes of the
// preceding exterior. This accepts both the clockwise-exterior convention
// and files written the other way round.
func multiPolygon(parts []int32, points []shp.Point) geom.T {
	mp := geom.NewMultiPolygon(geom.XY)
	var current *geom.Polygon
	var outerCW, seen bool

	flush := func() {
		if current == nil {
			return
		}
		if err := mp.Push(current); err != nil {
			zap.L().Debug("layerload: skipping malformed polygon", zap.Error(err))
		}
		current = nil
	}

	for i, pts := range splitParts(parts, points) {
		if len(pts) < 4 {
			zap.L().Debug("layerload: skipping degenerate ring", zap.Int("part", i))
			continue
		}
		cw := signedArea(pts) < 0
		ring := geom.NewLinearRingFlat(geom.XY, flatPoints(pts))

		if !seen {
			outerCW, seen = cw, true
		}
		if cw == outerCW {
			flush()
			current = geom.NewPolygon(geom.XY)
		}
		if err := current.Push(ring); err != nil {
			zap.L().Debug("layerload: skipping malformed ring", zap.Int("part", i), zap.Error(err))
		}
	}
	flush()

	if mp.NumPolygons() == 0 {
		return nil
	}
	return mp
}

func splitParts(parts []int32, points []shp.Point) [][]shp.Point {
	if len(parts) == 0 || len(points) == 0 {
		return nil
	}
	out := make([][]shp.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || end > int32(len(points)) || start >= end {
			continue
		}
		out = append(out, points[start:end])
	}
	return out
}

// signedArea is the shoelace sum; negative means clockwise.
func signedArea(pts []shp.Point) float64 {
	var sum float64
	for i := 0; i < len(pts)-1; i++ {
		sum += pts[i].X*pts[i+1].Y - pts[i+1].X*pts[i].Y
	}
	return sum / 2
}

func flatPoints(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}
