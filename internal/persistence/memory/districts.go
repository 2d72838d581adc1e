package memory

import (
	"context"

	"example.com/territory/internal/domain"
)

// District is an axis-aligned bounding box in degrees.
type District struct {
	ID     string
	MinLat float64
	MinLon float64
	MaxLat float64
	MaxLon float64
}

func (d District) contains(lat, lon float64) bool {
	return lat >= d.MinLat && lat <= d.MaxLat && lon >= d.MinLon && lon <= d.MaxLon
}

func (d District) area() float64 {
	return (d.MaxLat - d.MinLat) * (d.MaxLon - d.MinLon)
}

// DistrictLocator resolves coordinates against a fixed set of districts.
type DistrictLocator struct {
	districts []District
}

// NewDistrictLocator constructs a DistrictLocator.
func NewDistrictLocator(districts ...District) *DistrictLocator {
	return &DistrictLocator{districts: districts}
}

// FindDistrictContaining implements domain.DistrictLocator. The smallest
// matching district wins.
func (l *DistrictLocator) FindDistrictContaining(_ context.Context, lat, lon float64) (string, error) {
	var best *District
	for i := range l.districts {
		d := &l.districts[i]
		if !d.contains(lat, lon) {
			continue
		}
		if best == nil || d.area() < best.area() {
			best = d
		}
	}
	if best == nil {
		return "", domain.ErrDistrictNotFound
	}
	return best.ID, nil
}
