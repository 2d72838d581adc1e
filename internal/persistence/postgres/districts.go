package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/territory/internal/domain"
)

// FindDistrictContaining returns the smallest seeded district whose bounds
// contain the coordinate.
func (r *Repository) FindDistrictContaining(ctx context.Context, lat, lon float64) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM districts
          WHERE $1 BETWEEN min_lat AND max_lat
            AND $2 BETWEEN min_lon AND max_lon
          ORDER BY (max_lat - min_lat) * (max_lon - min_lon), id
          LIMIT 1`,
		lat, lon,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrDistrictNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}
