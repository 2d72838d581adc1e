package geometry

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// offsetNorth returns a point metersNorth meters due north of p.
func offsetNorth(p Point, metersNorth float64) Point {
	dLat := metersNorth / EarthRadiusM * 180 / math.Pi
	return Point{p.Lng(), p.Lat() + dLat}
}

func squareLoop() []Point {
	return []Point{
		{126.9780, 37.5665},
		{126.9790, 37.5665},
		{126.9790, 37.5673},
		{126.9780, 37.5673},
		{126.97801, 37.56651},
	}
}

func TestDistanceKnownValues(t *testing.T) {
	a := Point{0, 0}
	require.Zero(t, Distance(a, a))

	// one degree of latitude on the mean sphere
	oneDegree := Distance(Point{0, 0}, Point{0, 1})
	require.InDelta(t, 111195.08, oneDegree, 0.5)

	require.InDelta(t, Distance(squareLoop()[0], squareLoop()[2]), Distance(squareLoop()[2], squareLoop()[0]), 1e-9)
}

func TestTotalDistance(t *testing.T) {
	require.Zero(t, TotalDistance(nil))
	require.Zero(t, TotalDistance([]Point{{1, 1}}))

	track := []Point{{0, 0}, {0, 0.001}, {0.001, 0.001}}
	want := Distance(track[0], track[1]) + Distance(track[1], track[2])
	require.InDelta(t, want, TotalDistance(track), 1e-9)
}

func TestTotalDistanceIgnoresDuplicateLast(t *testing.T) {
	track := []Point{{0, 0}, {0, 0.001}, {0.001, 0.001}}
	withDup := append(append([]Point{}, track...), track[len(track)-1])
	require.InDelta(t, TotalDistance(track), TotalDistance(withDup), 1e-9)
}

func TestDedupe(t *testing.T) {
	points := []Point{{1, 1}, {1, 1}, {2, 2}, {2, 2}, {2, 2}, {1, 1}}
	got := Dedupe(points, 0)
	require.Equal(t, []Point{{1, 1}, {2, 2}, {1, 1}}, got)
	require.Equal(t, got, Dedupe(got, 0))

	require.Empty(t, Dedupe(nil, 0))
}

func TestDedupeWithEpsilonIsIdempotent(t *testing.T) {
	origin := Point{127.0, 37.5}
	points := []Point{
		origin,
		offsetNorth(origin, 3),
		offsetNorth(origin, 6),
		offsetNorth(origin, 9),
		offsetNorth(origin, 30),
	}
	once := Dedupe(points, 5)
	require.Equal(t, []Point{origin, points[2], points[4]}, once)
	require.Equal(t, once, Dedupe(once, 5))
}

func TestIsClosedWithinBoundary(t *testing.T) {
	origin := Point{127.0, 37.5}
	require.False(t, IsClosedWithin(nil, DefaultClosureM))
	require.True(t, IsClosedWithin([]Point{origin}, DefaultClosureM))

	atLimit := []Point{origin, Point{127.001, 37.5}, offsetNorth(origin, 30)}
	gap := Distance(atLimit[0], atLimit[2])
	require.True(t, IsClosedWithin(atLimit, gap))
	require.False(t, IsClosedWithin(atLimit, gap-1e-6))

	tooFar := []Point{origin, Point{127.001, 37.5}, offsetNorth(origin, 30.5)}
	require.False(t, IsClosedWithin(tooFar, DefaultClosureM))
}

func TestCloseRing(t *testing.T) {
	require.Equal(t, []Point{{1, 1}}, CloseRing([]Point{{1, 1}}))

	closed := []Point{{0, 0}, {1, 0}, {1, 1}, {0, 0}}
	require.Equal(t, closed, CloseRing(closed))

	open := []Point{{0, 0}, {1, 0}, {1, 1}}
	got := CloseRing(open)
	require.Equal(t, []Point{{0, 0}, {1, 0}, {1, 1}, {0, 0}}, got)
	require.Len(t, open, 3)
}

func TestValidity(t *testing.T) {
	require.False(t, IsValidLineString([]Point{{0, 0}}))
	require.True(t, IsValidLineString([]Point{{0, 0}, {1, 1}}))

	require.False(t, IsValidPolygon([]Point{{0, 0}, {1, 0}, {0, 0}}))
	require.False(t, IsValidPolygon([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 1}}))
	require.True(t, IsValidPolygon([]Point{{0, 0}, {1, 0}, {1, 1}, {0, 0}}))
}

func TestPolygonArea(t *testing.T) {
	require.Zero(t, PolygonArea(nil))
	require.Zero(t, PolygonArea([][]Point{{{0, 0}, {1, 0}, {0, 0}}}))

	ring := CloseRing(squareLoop())
	area := PolygonArea([][]Point{ring})
	// roughly 88m x 89m
	require.Greater(t, area, 7000.0)
	require.Less(t, area, 8500.0)

	reversed := make([]Point, len(ring))
	for i := range ring {
		reversed[len(ring)-1-i] = ring[i]
	}
	require.InEpsilon(t, area, PolygonArea([][]Point{reversed}), 1e-6)
}

func TestMaxSegmentSpeed(t *testing.T) {
	origin := Point{127.0, 37.5}
	samples := []Sample{
		{Point: origin, TimestampMs: 0},
		{Point: offsetNorth(origin, 10), TimestampMs: 10_000},
		{Point: offsetNorth(origin, 40), TimestampMs: 20_000},
		{Point: offsetNorth(origin, 90), TimestampMs: 20_000},
	}
	require.InDelta(t, 3.0, MaxSegmentSpeed(samples), 1e-6)
	require.Zero(t, MaxSegmentSpeed(samples[:1]))
}

func TestGeoJSONRoundTrip(t *testing.T) {
	track := squareLoop()
	raw, err := json.Marshal(LineString(track))
	require.NoError(t, err)
	decoded, err := DecodeLineString(raw)
	require.NoError(t, err)
	require.Equal(t, track, decoded)

	ring := CloseRing(track)
	raw, err = json.Marshal(Polygon(ring))
	require.NoError(t, err)
	decodedRing, err := DecodePolygonRing(raw)
	require.NoError(t, err)
	require.Equal(t, ring, decodedRing)

	_, err = DecodeLineString(raw)
	require.Error(t, err)
}

func TestFeatureCollection(t *testing.T) {
	fc := FeatureCollection(squareLoop(), nil, map[string]interface{}{"status": "invalid"})
	require.Len(t, fc.Features, 1)
	require.Equal(t, "track", fc.Features[0].Properties["kind"])
	require.Equal(t, "invalid", fc.Features[0].Properties["status"])

	fc = FeatureCollection(squareLoop(), CloseRing(squareLoop()), nil)
	require.Len(t, fc.Features, 2)
	require.Equal(t, "loop", fc.Features[1].Properties["kind"])
}
