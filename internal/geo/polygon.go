package geo

import (
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// County is a county boundary loaded from the topology fixture, keyed by
// FIPS (disambiguates same-named counties across or within states).
type County struct {
	FIPS      string
	State     string // two-letter
	Name      string
	Polygon   *geom.MultiPolygon
	MinLat    float64
	MaxLat    float64
	MinLng    float64
	MaxLng    float64
}

// BBoxWithBuffer returns the county's bounding box expanded by buffer
// degrees on each side, matching §4.E's 0.05° candidate-selection buffer.
func (c County) BBoxWithBuffer(buffer float64) (minLat, maxLat, minLng, maxLng float64) {
	return c.MinLat - buffer, c.MaxLat + buffer, c.MinLng - buffer, c.MaxLng + buffer
}

// Contains reports whether (lat, lng) falls inside the county polygon.
// Falls back to the bounding box when no polygon was decoded for this
// county (a fixture that only carries FIPS + name + bbox, no geometry).
func (c County) Contains(lat, lng float64) bool {
	if c.Polygon == nil {
		return lat >= c.MinLat && lat <= c.MaxLat && lng >= c.MinLng && lng <= c.MaxLng
	}
	point := geom.NewPointFlat(geom.XY, []float64{lng, lat})
	for i := 0; i < c.Polygon.NumPolygons(); i++ {
		if polygonContainsPoint(c.Polygon.Polygon(i), point) {
			return true
		}
	}
	return false
}

// polygonContainsPoint tests containment against a single polygon's outer
// ring (county fixtures in this pipeline carry no interior holes).
func polygonContainsPoint(poly *geom.Polygon, point *geom.Point) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	ring := poly.LinearRing(0)
	coords := ring.Coords()
	return pointInRing(point.Coords(), coords)
}

// pointInRing implements the standard ray-casting point-in-polygon test.
func pointInRing(p geom.Coord, ring []geom.Coord) bool {
	inside := false
	n := len(ring)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > p[1]) != (yj > p[1]) {
			slope := (xj - xi) / (yj - yi)
			xIntersect := xi + slope*(p[1]-yi)
			if p[0] < xIntersect {
				inside = !inside
			}
		}
	}
	return inside
}

// LoadCountyFixture decodes a shapefile of county boundaries. The DBF
// attribute table must carry GEOID (5-digit county FIPS), STATE (two-letter)
// and NAME fields, matching the Census TIGER/Line county fixture's schema.
func LoadCountyFixture(path string) ([]County, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geo: open shapefile %s", path)
	}
	defer reader.Close()

	fields := reader.Fields()
	fieldIdx := make(map[string]int, len(fields))
	for i, f := range fields {
		name := strings.ToUpper(strings.TrimRight(f.String(), "\x00"))
		fieldIdx[name] = i
	}

	var counties []County
	for reader.Next() {
		_, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok {
			continue
		}

		geoid := attrString(reader, fieldIdx, "GEOID")
		state := attrString(reader, fieldIdx, "STATE")
		name := attrString(reader, fieldIdx, "NAME")

		if err := ValidateCountyFIPS(geoid); err != nil {
			continue
		}

		mp, minLat, maxLat, minLng, maxLng := shapefilePolygonToMultiPolygon(poly)
		counties = append(counties, County{
			FIPS:    geoid,
			State:   state,
			Name:    name,
			Polygon: mp,
			MinLat:  minLat,
			MaxLat:  maxLat,
			MinLng:  minLng,
			MaxLng:  maxLng,
		})
	}

	return counties, nil
}

func attrString(reader *shp.Reader, fieldIdx map[string]int, name string) string {
	idx, ok := fieldIdx[name]
	if !ok {
		return ""
	}
	return strings.TrimSpace(strings.TrimRight(reader.Attribute(idx), "\x00"))
}

// shapefilePolygonToMultiPolygon converts a go-shp polygon (lng/lat points,
// rings delimited by Parts) into a geom.MultiPolygon plus its bbox.
func shapefilePolygonToMultiPolygon(p *shp.Polygon) (*geom.MultiPolygon, float64, float64, float64, float64) {
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)

	minLat, maxLat := 90.0, -90.0
	minLng, maxLng := 180.0, -180.0

	numParts := int(p.NumParts)
	for i := 0; i < numParts; i++ {
		start := p.Parts[i]
		var end int32
		if i+1 < numParts {
			end = p.Parts[i+1]
		} else {
			end = int32(len(p.Points))
		}

		flat := make([]float64, 0, (end-start)*2)
		for j := start; j < end; j++ {
			pt := p.Points[j]
			flat = append(flat, pt.X, pt.Y)
			if pt.Y < minLat {
				minLat = pt.Y
			}
			if pt.Y > maxLat {
				maxLat = pt.Y
			}
			if pt.X < minLng {
				minLng = pt.X
			}
			if pt.X > maxLng {
				maxLng = pt.X
			}
		}

		ring := geom.NewLinearRingFlat(geom.XY, flat)
		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			continue
		}
		_ = mp.Push(poly)
	}

	return mp, minLat, maxLat, minLng, maxLng
}

// Area approximates a polygon's planar area in square degrees via the
// shoelace formula over each polygon's outer ring. No county pass or
// scoring computation calls it.
func Area(mp *geom.MultiPolygon) float64 {
	var total float64
	for i := 0; i < mp.NumPolygons(); i++ {
		ring := mp.Polygon(i).LinearRing(0)
		coords := ring.Coords()
		n := len(coords)
		var sum float64
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			sum += coords[i][0]*coords[j][1] - coords[j][0]*coords[i][1]
		}
		total += sum / 2
	}
	if total < 0 {
		total = -total
	}
	return total
}
