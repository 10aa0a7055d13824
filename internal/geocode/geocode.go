package geocode

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("geocode not found")

// Region is the administrative area a report falls in, used for dashboard
// filtering. Resolution is best-effort; reports are stored without it when
// the geocoder is unavailable.
type Region struct {
	State       string
	District    string
	DisplayName string
}

type Geocoder interface {
	Reverse(ctx context.Context, lat, lon float64) (Region, error)
}

// Noop satisfies Geocoder when no geocoder is configured.
type Noop struct{}

func (Noop) Reverse(ctx context.Context, lat, lon float64) (Region, error) {
	return Region{}, ErrNotFound
}
