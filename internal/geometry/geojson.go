package geometry

import (
	"fmt"

	geojson "github.com/paulmach/go.geojson"
)

// LineString encodes points as a GeoJSON LineString geometry.
func LineString(points []Point) *geojson.Geometry {
	return geojson.NewLineStringGeometry(toCoordinates(points))
}

// Polygon encodes a single closed ring as a GeoJSON Polygon geometry.
func Polygon(ring []Point) *geojson.Geometry {
	return geojson.NewPolygonGeometry([][][]float64{toCoordinates(ring)})
}

// DecodeLineString parses a GeoJSON LineString geometry into points.
func DecodeLineString(raw []byte) ([]Point, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	if !g.IsLineString() {
		return nil, fmt.Errorf("expected LineString geometry, got %s", g.Type)
	}
	return fromCoordinates(g.LineString), nil
}

// DecodePolygonRing parses a GeoJSON Polygon geometry and returns its outer ring.
func DecodePolygonRing(raw []byte) ([]Point, error) {
	g, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, err
	}
	if !g.IsPolygon() {
		return nil, fmt.Errorf("expected Polygon geometry, got %s", g.Type)
	}
	if len(g.Polygon) == 0 {
		return nil, nil
	}
	return fromCoordinates(g.Polygon[0]), nil
}

// FeatureCollection bundles a track and optional loop polygon into a collection
// suitable for archival. Properties are attached to the track feature.
func FeatureCollection(track, ring []Point, properties map[string]interface{}) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := geojson.NewFeature(LineString(track))
	for k, v := range properties {
		line.SetProperty(k, v)
	}
	line.SetProperty("kind", "track")
	fc.AddFeature(line)

	if len(ring) > 0 {
		poly := geojson.NewFeature(Polygon(ring))
		poly.SetProperty("kind", "loop")
		fc.AddFeature(poly)
	}
	return fc
}

func toCoordinates(points []Point) [][]float64 {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lng(), p.Lat()})
	}
	return coords
}

func fromCoordinates(coords [][]float64) []Point {
	points := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		points = append(points, Point{c[0], c[1]})
	}
	return points
}
