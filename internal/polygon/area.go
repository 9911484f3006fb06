package polygon

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// earthRadiusM is the IUGG mean Earth radius.
const earthRadiusM = 6371008.8

// AreaHa approximates the polygon's area on the sphere, in hectares. It is
// used for input guards only; reported areas come from PostGIS geography.
func (p *Polygon) AreaHa() float64 {
	var m2 float64
	switch t := p.g.(type) {
	case *geom.Polygon:
		m2 = polygonAreaM2(t)
	case *geom.MultiPolygon:
		for i := 0; i < t.NumPolygons(); i++ {
			m2 += polygonAreaM2(t.Polygon(i))
		}
	}
	return m2 / 10000
}

// CheckMaxArea rejects polygons larger than maxHa. A non-positive maxHa
// disables the check.
func (p *Polygon) CheckMaxArea(maxHa float64) error {
	if maxHa <= 0 {
		return nil
	}
	if area := p.AreaHa(); area > maxHa {
		return eris.Wrapf(ErrInvalidPolygon, "polygon area %.1f ha exceeds the %.1f ha limit", area, maxHa)
	}
	return nil
}

func polygonAreaM2(p *geom.Polygon) float64 {
	var area float64
	for i := 0; i < p.NumLinearRings(); i++ {
		ring := ringAreaM2(p.LinearRing(i).FlatCoords(), p.Stride())
		if i == 0 {
			area += ring
		} else {
			area -= ring
		}
	}
	return math.Max(area, 0)
}

// ringAreaM2 returns the spherical area enclosed by a closed ring regardless
// of its winding order.
func ringAreaM2(flat []float64, stride int) float64 {
	n := len(flat) / stride
	if n < 4 {
		return 0
	}

	pts := make([]s2.Point, 0, n-1)
	for i := 0; i < n-1; i++ {
		pt := s2.PointFromLatLng(s2.LatLngFromDegrees(flat[i*stride+1], flat[i*stride]))
		if len(pts) > 0 && pts[len(pts)-1] == pt {
			continue
		}
		pts = append(pts, pt)
	}
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}
	if len(pts) < 3 {
		return 0
	}

	steradians := s2.LoopFromPoints(pts).Area()
	if steradians > 2*math.Pi {
		steradians = 4*math.Pi - steradians
	}
	return steradians * earthRadiusM * earthRadiusM
}
