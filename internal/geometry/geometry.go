// Package geometry implements the pure coordinate math used to score walk sessions.
//
// All inputs are (longitude, latitude) pairs in decimal degrees. Nothing in this
// package performs I/O or depends on wall-clock time.
package geometry

import "math"

const (
	// EarthRadiusM is the mean earth radius used for great-circle distances.
	EarthRadiusM = 6371008.8
	// areaRadiusM is the WGS84 equatorial radius used by the ring area formula.
	areaRadiusM = 6378137.0

	// DefaultClosureM is the maximum first-to-last gap for a track to count as a loop.
	DefaultClosureM = 30.0
)

// Point is a single coordinate stored as [longitude, latitude].
type Point [2]float64

// NewPoint builds a Point from longitude and latitude.
func NewPoint(lng, lat float64) Point {
	return Point{lng, lat}
}

// Lng returns the longitude.
func (p Point) Lng() float64 { return p[0] }

// Lat returns the latitude.
func (p Point) Lat() float64 { return p[1] }

// Sample is a point with the unix-millisecond time it was observed.
type Sample struct {
	Point       Point
	TimestampMs int64
}

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := toRadians(a.Lat())
	lat2 := toRadians(b.Lat())
	dLat := toRadians(b.Lat() - a.Lat())
	dLon := toRadians(b.Lng() - a.Lng())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1)*math.Cos(lat2)
	return 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)) * EarthRadiusM
}

// TotalDistance sums consecutive pairwise distances. It is 0 for fewer than 2 points.
func TotalDistance(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}

// Dedupe drops every point equal to the last kept point, or within epsilon meters
// of it when epsilon > 0. Order is preserved and the result is always a new slice.
func Dedupe(points []Point, epsilon float64) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		if len(out) > 0 {
			last := out[len(out)-1]
			if p == last {
				continue
			}
			if epsilon > 0 && Distance(last, p) <= epsilon {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// IsClosedWithin reports whether the first and last points are at most maxMeters apart.
func IsClosedWithin(ring []Point, maxMeters float64) bool {
	if len(ring) == 0 {
		return false
	}
	return Distance(ring[0], ring[len(ring)-1]) <= maxMeters
}

// CloseRing appends the first point when the ring does not already end on it.
// Rings with fewer than 2 points are returned unchanged.
func CloseRing(ring []Point) []Point {
	if len(ring) < 2 || ring[0] == ring[len(ring)-1] {
		return ring
	}
	closed := make([]Point, len(ring), len(ring)+1)
	copy(closed, ring)
	return append(closed, ring[0])
}

// PolygonArea returns the area in square meters of a polygon whose first ring is
// the outer boundary and whose remaining rings are holes. Rings must be closed.
func PolygonArea(rings [][]Point) float64 {
	if len(rings) == 0 {
		return 0
	}
	total := math.Abs(ringArea(rings[0]))
	for _, hole := range rings[1:] {
		total -= math.Abs(ringArea(hole))
	}
	return math.Max(total, 0)
}

// ringArea applies the spherical excess approximation over a closed ring.
// The sign depends on winding order.
func ringArea(ring []Point) float64 {
	n := len(ring) - 1
	if n <= 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		lower := ring[i]
		middle := ring[(i+1)%n]
		upper := ring[(i+2)%n]
		total += (toRadians(upper.Lng()) - toRadians(lower.Lng())) * math.Sin(toRadians(middle.Lat()))
	}
	return total * areaRadiusM * areaRadiusM / 2
}

// IsValidLineString reports whether points can form a line (at least 2 points).
func IsValidLineString(points []Point) bool {
	return len(points) >= 2
}

// IsValidPolygon reports whether ring is a closed ring of at least 4 points.
func IsValidPolygon(ring []Point) bool {
	return len(ring) >= 4 && ring[0] == ring[len(ring)-1]
}

// MaxSegmentSpeed returns the fastest segment speed in meters per second across
// consecutive samples. Segments without positive elapsed time are ignored.
func MaxSegmentSpeed(samples []Sample) float64 {
	maxMps := 0.0
	for i := 1; i < len(samples); i++ {
		elapsedMs := samples[i].TimestampMs - samples[i-1].TimestampMs
		if elapsedMs <= 0 {
			continue
		}
		mps := Distance(samples[i-1].Point, samples[i].Point) / (float64(elapsedMs) / 1000)
		if mps > maxMps {
			maxMps = mps
		}
	}
	return maxMps
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
